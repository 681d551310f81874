package utils

import (
	"regexp"
	"strings"
)

var (
	brPattern       = regexp.MustCompile(`(?i)<br\s*/?>`)
	pClosePattern   = regexp.MustCompile(`(?i)</p>`)
	tagPattern      = regexp.MustCompile(`<[^>]+>`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
	htmlPattern     = regexp.MustCompile(`(?i)<[a-z][\s\S]*>`)
)

// StripHTML converts HTML to plain text, for body previews and text/plain
// alternatives.
func StripHTML(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	s := brPattern.ReplaceAllString(html, "\n")
	s = pClosePattern.ReplaceAllString(s, "\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
	).Replace(s)
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// IsHTML reports whether the string looks like HTML markup
func IsHTML(s string) bool {
	return htmlPattern.MatchString(strings.TrimSpace(s))
}

// BodyPreview returns the first n characters of the plain-text form of body
func BodyPreview(body string, n int) string {
	text := body
	if IsHTML(body) {
		text = StripHTML(body)
	}
	runes := []rune(text)
	if len(runes) > n {
		return string(runes[:n])
	}
	return text
}
