package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coldpilot/models"
	"coldpilot/utils"

	"golang.org/x/oauth2"
)

// Gmail total message size limit: 25 MB
const gmailMaxMessageBytes = 25 * 1024 * 1024

const gmailAPIBase = "https://gmail.googleapis.com/gmail/v1/users/me"

var gmailEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// GmailTransport sends through the Gmail REST API using the account's stored
// OAuth refresh token. The oauth2 client refreshes access tokens as needed.
type GmailTransport struct {
	ClientID     string
	ClientSecret string
	Credentials  CredentialStore

	// HTTPClient overrides the oauth2-built client in tests
	HTTPClient *http.Client
	BaseURL    string
}

func NewGmailTransport(clientID, clientSecret string, creds CredentialStore) *GmailTransport {
	return &GmailTransport{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Credentials:  creds,
	}
}

func (g *GmailTransport) client(account *models.EmailAccount) (*http.Client, error) {
	if g.HTTPClient != nil {
		return g.HTTPClient, nil
	}
	token, err := g.Credentials.OAuthToken(account)
	if err != nil {
		return nil, err
	}
	conf := &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint:     gmailEndpoint,
	}
	return conf.Client(context.Background(), token), nil
}

func (g *GmailTransport) baseURL() string {
	if g.BaseURL != "" {
		return g.BaseURL
	}
	return gmailAPIBase
}

// Send builds a raw RFC 2822 message and posts it to messages.send
func (g *GmailTransport) Send(account *models.EmailAccount, to, subject, body string, opts *SendOptions) (*SendResult, error) {
	client, err := g.client(account)
	if err != nil {
		return nil, err
	}

	raw := buildRawMessage(account, to, subject, body, opts)
	if len(raw) > gmailMaxMessageBytes {
		return nil, fmt.Errorf("message exceeds Gmail limit: %.1f MB > 25 MB",
			float64(len(raw))/(1024*1024))
	}

	payload := map[string]string{
		"raw": base64.RawURLEncoding.EncodeToString(raw),
	}
	if opts != nil && opts.ThreadID != "" {
		payload["threadId"] = opts.ThreadID
	}
	reqBody, _ := json.Marshal(payload)

	resp, err := client.Post(g.baseURL()+"/messages/send", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("gmail send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("gmail send: status %d: %s", resp.StatusCode, string(msg))
	}

	var sent struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return nil, fmt.Errorf("gmail send: decode response: %w", err)
	}
	return &SendResult{MessageID: sent.ID, ThreadID: sent.ThreadID}, nil
}

// ThreadingOptions resolves the previous step's Gmail thread and its RFC
// Message-ID header so the follow-up joins the same conversation
func (g *GmailTransport) ThreadingOptions(account *models.EmailAccount, prevSent *models.SentEmail) (*SendOptions, error) {
	if prevSent == nil || prevSent.ThreadID == "" || prevSent.MessageID == "" {
		return nil, nil
	}
	header, err := g.messageIDHeader(account, prevSent.MessageID)
	if err != nil {
		// Thread id alone still threads on Gmail's side
		return &SendOptions{ThreadID: prevSent.ThreadID}, nil
	}
	ref := ensureAngleBrackets(header)
	return &SendOptions{ThreadID: prevSent.ThreadID, InReplyTo: ref, References: ref}, nil
}

// messageIDHeader fetches the RFC Message-ID header of a sent Gmail message
func (g *GmailTransport) messageIDHeader(account *models.EmailAccount, gmailMessageID string) (string, error) {
	client, err := g.client(account)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/messages/%s?format=metadata&metadataHeaders=Message-ID",
		g.baseURL(), url.PathEscape(gmailMessageID))
	resp, err := client.Get(u)
	if err != nil {
		return "", fmt.Errorf("gmail message get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("gmail message get: status %d", resp.StatusCode)
	}

	var msg gmailMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", fmt.Errorf("gmail message get: decode: %w", err)
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, "Message-ID") {
			return strings.TrimSpace(h.Value), nil
		}
	}
	return "", fmt.Errorf("no Message-ID header on message %s", gmailMessageID)
}

// FetchThreadMessages returns thread messages newer than since
func (g *GmailTransport) FetchThreadMessages(account *models.EmailAccount, sent *models.SentEmail, since time.Time) ([]InboundMessage, error) {
	if sent.ThreadID == "" {
		return nil, nil
	}
	client, err := g.client(account)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/threads/%s?format=full", g.baseURL(), url.PathEscape(sent.ThreadID))
	resp, err := client.Get(u)
	if err != nil {
		return nil, fmt.Errorf("gmail thread get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gmail thread get: status %d", resp.StatusCode)
	}

	var thread struct {
		Messages []gmailMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&thread); err != nil {
		return nil, fmt.Errorf("gmail thread get: decode: %w", err)
	}

	var out []InboundMessage
	for _, m := range thread.Messages {
		ts := m.timestamp()
		if !ts.After(since) {
			continue
		}
		out = append(out, InboundMessage{
			ExternalID: m.ID,
			From:       m.header("From"),
			Subject:    m.header("Subject"),
			Body:       extractGmailBody(&m.Payload),
			Timestamp:  ts,
		})
	}
	return out, nil
}

// ---- Gmail API payload types ----

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts   []gmailPart   `json:"parts"`
	Headers []gmailHeader `json:"headers"`
}

type gmailMessage struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	InternalDate string    `json:"internalDate"` // epoch millis as string
	Payload      gmailPart `json:"payload"`
}

func (m *gmailMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (m *gmailMessage) timestamp() time.Time {
	ms, err := strconv.ParseInt(m.InternalDate, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// extractGmailBody walks the payload parts, preferring text/plain and falling
// back to stripped HTML
func extractGmailBody(payload *gmailPart) string {
	if payload == nil {
		return ""
	}

	if len(payload.Parts) > 0 {
		text, html := collectTextFromParts(payload.Parts)
		if text != "" {
			return text
		}
		if html != "" {
			return utils.StripHTML(html)
		}
		return ""
	}

	content := decodeBase64url(payload.Body.Data)
	if content == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(payload.MimeType), "text/html") {
		return utils.StripHTML(content)
	}
	return content
}

func collectTextFromParts(parts []gmailPart) (text, html string) {
	for _, part := range parts {
		mimeType := strings.ToLower(part.MimeType)

		if strings.HasPrefix(mimeType, "multipart/") && len(part.Parts) > 0 {
			nestedText, nestedHTML := collectTextFromParts(part.Parts)
			if nestedText != "" {
				text = nestedText
			}
			if nestedHTML != "" {
				html = nestedHTML
			}
			continue
		}

		if mimeType == "text/plain" || mimeType == "text/html" {
			content := decodeBase64url(part.Body.Data)
			if content == "" {
				continue
			}
			if mimeType == "text/plain" {
				text = content
			} else {
				html = content
			}
		}
	}
	return text, html
}

func decodeBase64url(data string) string {
	if data == "" {
		return ""
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

// buildRawMessage assembles the RFC 2822 message Gmail expects in raw form
func buildRawMessage(account *models.EmailAccount, to, subject, body string, opts *SendOptions) []byte {
	var headers []string
	from := account.Email
	if account.DisplayName != "" {
		from = fmt.Sprintf("%q <%s>", account.DisplayName, account.Email)
	}
	headers = append(headers,
		"From: "+from,
		"To: "+to,
		"Subject: "+subject,
	)
	if opts != nil && opts.InReplyTo != "" {
		headers = append(headers, "In-Reply-To: "+opts.InReplyTo)
	}
	if opts != nil && opts.References != "" {
		headers = append(headers, "References: "+opts.References)
	}
	headers = append(headers, "MIME-Version: 1.0")

	var bodyPart string
	if utils.IsHTML(body) {
		boundary := "----=_Part_" + strconv.FormatInt(time.Now().UnixNano(), 36)
		headers = append(headers, fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary))
		bodyPart = strings.Join([]string{
			"",
			"--" + boundary,
			"Content-Type: text/plain; charset=utf-8",
			"",
			utils.StripHTML(body),
			"--" + boundary,
			"Content-Type: text/html; charset=utf-8",
			"",
			body,
			"--" + boundary + "--",
		}, "\r\n")
	} else {
		headers = append(headers, "Content-Type: text/plain; charset=utf-8")
		bodyPart = body
	}

	full := strings.Join(headers, "\r\n") + "\r\n\r\n" + bodyPart
	return []byte(full)
}
