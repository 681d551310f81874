package utils

import (
	"testing"
	"time"

	"coldpilot/models"

	"github.com/stretchr/testify/assert"
)

func TestDetectReplyTypeBounce(t *testing.T) {
	sentAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	replyAt := sentAt.Add(time.Hour)

	got := DetectReplyType(
		"Your message could not be delivered. User unknown.",
		"Mail Delivery Failed",
		sentAt, replyAt)
	assert.Equal(t, models.ReplyTypeBounce, got)
}

func TestDetectReplyTypeAutoReply(t *testing.T) {
	sentAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	replyAt := sentAt.Add(2 * time.Hour)

	got := DetectReplyType(
		"I am currently out of office and will return next week.",
		"Automatic reply: quick question",
		sentAt, replyAt)
	assert.Equal(t, models.ReplyTypeAutoReply, got)
}

func TestDetectReplyTypeFastReplyAssumedAutomated(t *testing.T) {
	sentAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	replyAt := sentAt.Add(2 * time.Minute)

	got := DetectReplyType("Thanks!", "Re: quick question", sentAt, replyAt)
	assert.Equal(t, models.ReplyTypeAutoReply, got)
}

func TestDetectReplyTypeHuman(t *testing.T) {
	sentAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	replyAt := sentAt.Add(time.Hour)

	got := DetectReplyType(
		"Sounds interesting, can you send more details?",
		"Re: quick question",
		sentAt, replyAt)
	assert.Equal(t, models.ReplyTypeHuman, got)
}

func TestDetectReplyTypeBounceBeatsAutoReply(t *testing.T) {
	sentAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	replyAt := sentAt.Add(time.Minute)

	// Content mentioning both resolves to bounce, and timing never overrides
	got := DetectReplyType(
		"Automatic reply: delivery failed, mailbox full",
		"Undeliverable",
		sentAt, replyAt)
	assert.Equal(t, models.ReplyTypeBounce, got)
}

func TestDetectReplyTypeDeterministic(t *testing.T) {
	sentAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	replyAt := sentAt.Add(30 * time.Minute)

	first := DetectReplyType("Let's talk.", "Re: hello", sentAt, replyAt)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, DetectReplyType("Let's talk.", "Re: hello", sentAt, replyAt))
	}
}
