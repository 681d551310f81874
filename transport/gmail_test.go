package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"coldpilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gmailTestAccount() *models.EmailAccount {
	return &models.EmailAccount{
		Email:       "sender@gmail.com",
		DisplayName: "Sender",
		AccountType: models.AccountTypeGoogle,
	}
}

func b64url(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func partFromJSON(t *testing.T, raw string) *gmailPart {
	t.Helper()
	var part gmailPart
	require.NoError(t, json.Unmarshal([]byte(raw), &part))
	return &part
}

func TestGmailSend(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotPayload))
		json.NewEncoder(w).Encode(map[string]string{
			"id":       "gm-123",
			"threadId": "th-456",
		})
	}))
	defer srv.Close()

	g := &GmailTransport{HTTPClient: srv.Client(), BaseURL: srv.URL}
	result, err := g.Send(gmailTestAccount(), "lead@example.com", "Hello", "Plain body", nil)
	require.NoError(t, err)
	assert.Equal(t, "gm-123", result.MessageID)
	assert.Equal(t, "th-456", result.ThreadID)
	assert.Equal(t, "/messages/send", gotPath)

	raw, err := base64.RawURLEncoding.DecodeString(gotPayload["raw"])
	require.NoError(t, err)
	msg := string(raw)
	assert.Contains(t, msg, "To: lead@example.com")
	assert.Contains(t, msg, "Subject: Hello")
	assert.Contains(t, msg, "Plain body")
	_, hasThread := gotPayload["threadId"]
	assert.False(t, hasThread)
}

func TestGmailSendFollowUpCarriesThread(t *testing.T) {
	var gotPayload map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotPayload)
		json.NewEncoder(w).Encode(map[string]string{"id": "gm-2", "threadId": "th-1"})
	}))
	defer srv.Close()

	g := &GmailTransport{HTTPClient: srv.Client(), BaseURL: srv.URL}
	opts := &SendOptions{ThreadID: "th-1", InReplyTo: "<first@mail>", References: "<first@mail>"}
	_, err := g.Send(gmailTestAccount(), "lead@example.com", "Re: Hello", "Follow up", opts)
	require.NoError(t, err)

	assert.Equal(t, "th-1", gotPayload["threadId"])
	raw, err := base64.RawURLEncoding.DecodeString(gotPayload["raw"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "In-Reply-To: <first@mail>")
	assert.Contains(t, string(raw), "References: <first@mail>")
}

func TestGmailSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := &GmailTransport{HTTPClient: srv.Client(), BaseURL: srv.URL}
	_, err := g.Send(gmailTestAccount(), "lead@example.com", "Hello", "Body", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestGmailFetchThreadMessages(t *testing.T) {
	sentAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	older := sentAt.Add(-time.Hour)
	newer := sentAt.Add(time.Hour)

	thread := fmt.Sprintf(`{
		"messages": [
			{
				"id": "m-old",
				"internalDate": %q,
				"payload": {
					"mimeType": "text/plain",
					"headers": [{"name": "From", "value": "me@gmail.com"}],
					"body": {"data": %q}
				}
			},
			{
				"id": "m-new",
				"internalDate": %q,
				"payload": {
					"mimeType": "text/plain",
					"headers": [
						{"name": "From", "value": "Lead <lead@example.com>"},
						{"name": "Subject", "value": "Re: Hello"}
					],
					"body": {"data": %q}
				}
			}
		]
	}`,
		strconv.FormatInt(older.UnixMilli(), 10), b64url("our own message"),
		strconv.FormatInt(newer.UnixMilli(), 10), b64url("sounds good"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/th-1", r.URL.Path)
		io.WriteString(w, thread)
	}))
	defer srv.Close()

	g := &GmailTransport{HTTPClient: srv.Client(), BaseURL: srv.URL}
	sent := &models.SentEmail{ThreadID: "th-1", SentAt: sentAt}
	messages, err := g.FetchThreadMessages(gmailTestAccount(), sent, sentAt)
	require.NoError(t, err)

	require.Len(t, messages, 1)
	assert.Equal(t, "m-new", messages[0].ExternalID)
	assert.Equal(t, "Lead <lead@example.com>", messages[0].From)
	assert.Equal(t, "Re: Hello", messages[0].Subject)
	assert.Equal(t, "sounds good", messages[0].Body)
}

func TestExtractGmailBodyPrefersPlainText(t *testing.T) {
	payload := partFromJSON(t, fmt.Sprintf(`{
		"mimeType": "multipart/alternative",
		"parts": [
			{"mimeType": "text/html", "body": {"data": %q}},
			{"mimeType": "text/plain", "body": {"data": %q}}
		]
	}`, b64url("<p>hello <b>there</b></p>"), b64url("hello there")))

	assert.Equal(t, "hello there", extractGmailBody(payload))
}

func TestExtractGmailBodyFallsBackToStrippedHTML(t *testing.T) {
	payload := partFromJSON(t, fmt.Sprintf(`{
		"mimeType": "multipart/alternative",
		"parts": [
			{"mimeType": "text/html", "body": {"data": %q}}
		]
	}`, b64url("<p>only html</p>")))

	assert.Equal(t, "only html", extractGmailBody(payload))
}

func TestExtractGmailBodyNestedMultipart(t *testing.T) {
	payload := partFromJSON(t, fmt.Sprintf(`{
		"mimeType": "multipart/mixed",
		"parts": [
			{
				"mimeType": "multipart/alternative",
				"parts": [
					{"mimeType": "text/plain", "body": {"data": %q}}
				]
			}
		]
	}`, b64url("nested text")))

	assert.Equal(t, "nested text", extractGmailBody(payload))
}

func TestBuildRawMessageHTMLAlternative(t *testing.T) {
	raw := string(buildRawMessage(gmailTestAccount(), "lead@example.com", "Hi", "<p>hello</p>", nil))
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")
	assert.Contains(t, raw, "<p>hello</p>")
}
