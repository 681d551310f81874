package utils

import (
	"regexp"
	"strings"
	"time"

	"coldpilot/models"
)

// Detect whether an inbound reply is a bounce, an auto-reply, or a human
// response. Bounces and auto-replies typically arrive within minutes of our
// send, so a fast reply without explicit markers is assumed automated.

var bouncePatterns = []*regexp.Regexp{
	regexp.MustCompile(`delivery\s*failed`),
	regexp.MustCompile(`undeliverable`),
	regexp.MustCompile(`mail\s*delivery`),
	regexp.MustCompile(`user\s*unknown`),
	regexp.MustCompile(`address\s*not\s*found`),
	regexp.MustCompile(`mailbox\s*full`),
	regexp.MustCompile(`rejected`),
	regexp.MustCompile(`returned\s*mail`),
	regexp.MustCompile(`message\s*not\s*delivered`),
	regexp.MustCompile(`recipient\s*(address|unknown)`),
	regexp.MustCompile(`postmaster`),
	regexp.MustCompile(`mailer-daemon`),
	regexp.MustCompile(`delivery\s*status`),
	regexp.MustCompile(`permanent\s*error`),
	regexp.MustCompile(`fatal\s*error`),
}

var autoReplyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`out\s*of\s*office`),
	regexp.MustCompile(`automatic\s*reply`),
	regexp.MustCompile(`vacation`),
	regexp.MustCompile(`\baway\b.*(?:from|until)`),
	regexp.MustCompile(`i'?m\s*not\s*(?:in\s*the\s*)?office`),
	regexp.MustCompile(`auto-?reply`),
	regexp.MustCompile(`autoresponder`),
	regexp.MustCompile(`automatic\s*response`),
	regexp.MustCompile(`thank\s*you\s*for\s*your\s*email.*(?:i\s*will\s*respond|i\s*am\s*away)`),
	regexp.MustCompile(`do\s*not\s*reply`),
	regexp.MustCompile(`no\s*reply`),
	regexp.MustCompile(`noreply`),
}

// Reply within this window after our send is likely a bounce or auto-reply
const fastReplyWindow = 5 * time.Minute

// DetectReplyType classifies an inbound message from its content and timing.
// Always resolves to one of human, bounce or auto_reply.
func DetectReplyType(replyBody, replySubject string, ourSentAt, replyAt time.Time) string {
	combined := strings.ToLower(replySubject + "\n" + replyBody)

	// Bounce: content patterns take priority
	for _, p := range bouncePatterns {
		if p.MatchString(combined) {
			return models.ReplyTypeBounce
		}
	}

	for _, p := range autoReplyPatterns {
		if p.MatchString(combined) {
			return models.ReplyTypeAutoReply
		}
	}

	// Fast reply without clear markers is assumed automated
	if replyAt.Sub(ourSentAt) < fastReplyWindow {
		return models.ReplyTypeAutoReply
	}

	return models.ReplyTypeHuman
}
