package utils

import (
	"regexp"
	"strings"
)

// Personalize replaces {{key}} tokens with values from the lead's data payload.
// Supports {{name}}, {{First Name}}, {{company-name}}: any key inside double
// braces. Possessive: {{Name's}} looks up "Name" and appends 's (John's).
// Missing keys render as empty strings. Single pass, no nesting.
func Personalize(template string, data map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		key := strings.TrimSpace(token[2 : len(token)-2])
		if m := possessivePattern.FindStringSubmatch(key); m != nil {
			base := strings.TrimSpace(m[1])
			if val, ok := data[base]; ok {
				return val + "'s"
			}
			return ""
		}
		return data[key]
	})
}

var (
	tokenPattern      = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	possessivePattern = regexp.MustCompile(`^(.+?)'s$`)
)
