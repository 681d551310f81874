package transport

import (
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"coldpilot/models"
	"coldpilot/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Zoho message size limit (free tier): 25 MB
const zohoMaxMessageBytes = 25 * 1024 * 1024

// How many of the newest inbox messages to scan per sweep
const zohoInboxScanWindow = 200

// ZohoTransport sends over Zoho SMTP and reads replies over IMAP. Follow-up
// threading relies on In-Reply-To/References headers, so every outbound
// message gets an explicit Message-ID we keep.
type ZohoTransport struct {
	Credentials CredentialStore

	// DialSMTP/DialIMAP override the network layer in tests
	DialSMTP func(host string, port int, username, password string) gomail.SendCloser
}

func NewZohoTransport(creds CredentialStore) *ZohoTransport {
	return &ZohoTransport{Credentials: creds}
}

func zohoSMTPHost(account *models.EmailAccount) string {
	if account.ZohoProServers {
		return "smtppro.zoho.com"
	}
	return "smtp.zoho.com"
}

func zohoIMAPHost(account *models.EmailAccount) string {
	if account.ZohoProServers {
		return "imappro.zoho.com"
	}
	return "imap.zoho.com"
}

// Send delivers one message over SMTP (465/SSL)
func (z *ZohoTransport) Send(account *models.EmailAccount, to, subject, body string, opts *SendOptions) (*SendResult, error) {
	password, err := z.Credentials.SMTPPassword(account)
	if err != nil {
		return nil, err
	}

	if len(subject)+len(body) > zohoMaxMessageBytes {
		return nil, fmt.Errorf("message exceeds Zoho limit: %.1f MB > 25 MB",
			float64(len(subject)+len(body))/(1024*1024))
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), emailDomain(account.Email))

	m := gomail.NewMessage()
	if account.DisplayName != "" {
		m.SetHeader("From", m.FormatAddress(account.Email, account.DisplayName))
	} else {
		m.SetHeader("From", account.Email)
	}
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID)
	if opts != nil && opts.InReplyTo != "" {
		m.SetHeader("In-Reply-To", opts.InReplyTo)
	}
	if opts != nil && opts.References != "" {
		m.SetHeader("References", opts.References)
	}

	if utils.IsHTML(body) {
		m.SetBody("text/plain", utils.StripHTML(body))
		m.AddAlternative("text/html", body)
	} else {
		m.SetBody("text/plain", body)
	}

	if z.DialSMTP != nil {
		sender := z.DialSMTP(zohoSMTPHost(account), 465, account.Email, password)
		defer sender.Close()
		if err := gomail.Send(sender, m); err != nil {
			return nil, fmt.Errorf("zoho send: %w", err)
		}
	} else {
		d := gomail.NewDialer(zohoSMTPHost(account), 465, account.Email, password)
		d.SSL = true
		if err := d.DialAndSend(m); err != nil {
			return nil, fmt.Errorf("zoho send: %w", err)
		}
	}

	return &SendResult{MessageID: messageID}, nil
}

// ThreadingOptions points the follow-up at the previous step's Message-ID
func (z *ZohoTransport) ThreadingOptions(_ *models.EmailAccount, prevSent *models.SentEmail) (*SendOptions, error) {
	if prevSent == nil || prevSent.MessageID == "" {
		return nil, nil
	}
	ref := ensureAngleBrackets(prevSent.MessageID)
	return &SendOptions{InReplyTo: ref, References: ref}, nil
}

// FetchThreadMessages scans the newest INBOX messages for replies referencing
// the sent email's Message-ID
func (z *ZohoTransport) FetchThreadMessages(account *models.EmailAccount, sent *models.SentEmail, since time.Time) ([]InboundMessage, error) {
	if sent.MessageID == "" {
		return nil, nil
	}
	password, err := z.Credentials.SMTPPassword(account)
	if err != nil {
		return nil, err
	}

	host := zohoIMAPHost(account)
	c, err := client.DialTLS(fmt.Sprintf("%s:993", host), &tls.Config{ServerName: host})
	if err != nil {
		return nil, fmt.Errorf("zoho imap dial: %w", err)
	}
	defer c.Logout()

	if err := c.Login(account.Email, password); err != nil {
		return nil, fmt.Errorf("zoho imap login: %w", err)
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("zoho imap select: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	from := uint32(1)
	if mbox.Messages > zohoInboxScanWindow {
		from = mbox.Messages - zohoInboxScanWindow + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	ourID := normalizeMessageID(sent.MessageID)
	var out []InboundMessage
	for msg := range messages {
		inbound, ok := z.matchMessage(msg, section, ourID, since)
		if ok {
			out = append(out, inbound)
		}
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("zoho imap fetch: %w", err)
	}
	return out, nil
}

// matchMessage parses one inbox message and keeps it when its In-Reply-To or
// References chain points at our Message-ID
func (z *ZohoTransport) matchMessage(msg *imap.Message, section *imap.BodySectionName, ourID string, since time.Time) (InboundMessage, bool) {
	if msg == nil || msg.Envelope == nil {
		return InboundMessage{}, false
	}
	if !msg.InternalDate.After(since) {
		return InboundMessage{}, false
	}

	r := msg.GetBody(section)
	if r == nil {
		return InboundMessage{}, false
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return InboundMessage{}, false
	}

	refs := mr.Header.Get("In-Reply-To") + " " + mr.Header.Get("References")
	matched := false
	for _, ref := range strings.Fields(refs) {
		if normalizeMessageID(ref) == ourID {
			matched = true
			break
		}
	}
	if !matched {
		return InboundMessage{}, false
	}

	body := readMailBody(mr)

	from := ""
	if len(msg.Envelope.From) > 0 {
		from = msg.Envelope.From[0].Address()
	}
	externalID := normalizeMessageID(msg.Envelope.MessageId)
	if externalID == "" {
		externalID = fmt.Sprintf("%s-%d", from, msg.InternalDate.Unix())
	}

	return InboundMessage{
		ExternalID: externalID,
		From:       from,
		Subject:    msg.Envelope.Subject,
		Body:       body,
		Timestamp:  msg.InternalDate,
	}, true
}

// readMailBody extracts a plain-text body, falling back to stripped HTML
func readMailBody(mr *mail.Reader) string {
	var text, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if text == "" {
				text = string(content)
			}
		case "text/html":
			if html == "" {
				html = string(content)
			}
		}
	}
	if text != "" {
		return strings.TrimSpace(text)
	}
	return utils.StripHTML(html)
}

func normalizeMessageID(id string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(id), "<>"))
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return "localhost"
}
