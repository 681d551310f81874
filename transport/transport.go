package transport

import (
	"fmt"
	"time"

	"coldpilot/models"
)

// SendOptions carries threading metadata for follow-up sends
type SendOptions struct {
	ThreadID   string // provider thread to append to (Gmail)
	InReplyTo  string // RFC 2822 Message-ID of the previous step
	References string
}

// SendResult identifies the message the provider accepted
type SendResult struct {
	MessageID string
	ThreadID  string
}

// InboundMessage is one message observed in a mailbox or thread
type InboundMessage struct {
	ExternalID string // stable provider id, used for dedup
	From       string
	Subject    string
	Body       string
	Timestamp  time.Time
}

// Mailer is the per-provider mail transport collaborator. Implementations do
// blocking I/O; callers treat any error as transient and retry on a later tick.
type Mailer interface {
	// Send delivers one message and returns provider identifiers
	Send(account *models.EmailAccount, to, subject, body string, opts *SendOptions) (*SendResult, error)

	// FetchThreadMessages returns messages tied to the sent email newer than since
	FetchThreadMessages(account *models.EmailAccount, sent *models.SentEmail, since time.Time) ([]InboundMessage, error)

	// ThreadingOptions derives In-Reply-To/References (and thread id) from the
	// previous step's SentEmail so follow-ups land in the same conversation
	ThreadingOptions(account *models.EmailAccount, prevSent *models.SentEmail) (*SendOptions, error)
}

// Registry resolves a Mailer by account type
type Registry map[string]Mailer

// For returns the transport for the account, or an error for unknown types
func (r Registry) For(account *models.EmailAccount) (Mailer, error) {
	m, ok := r[account.AccountType]
	if !ok {
		return nil, fmt.Errorf("no transport for account type %q", account.AccountType)
	}
	return m, nil
}

// ensureAngleBrackets normalizes an RFC Message-ID for reply headers
func ensureAngleBrackets(id string) string {
	if id == "" {
		return ""
	}
	if id[0] == '<' {
		return id
	}
	return "<" + id + ">"
}
