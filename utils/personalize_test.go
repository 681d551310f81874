package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersonalizeReplacesTokens(t *testing.T) {
	data := map[string]string{
		"Name":       "John",
		"First Name": "John",
		"company":    "Acme",
	}

	assert.Equal(t, "Hi John!", Personalize("Hi {{Name}}!", data))
	assert.Equal(t, "Hi John from Acme", Personalize("Hi {{First Name}} from {{company}}", data))
}

func TestPersonalizePossessive(t *testing.T) {
	data := map[string]string{"Name": "John"}

	assert.Equal(t, "John's team", Personalize("{{Name's}} team", data))
}

func TestPersonalizeMissingKeysRenderEmpty(t *testing.T) {
	data := map[string]string{"Name": "John"}

	assert.Equal(t, "Hi ", Personalize("Hi {{Unknown}}", data))
	assert.Equal(t, " team", Personalize("{{Unknown's}} team", data))
}

func TestPersonalizeNoTokens(t *testing.T) {
	assert.Equal(t, "plain text", Personalize("plain text", nil))
}

func TestPersonalizeNoNesting(t *testing.T) {
	data := map[string]string{"a": "{{b}}", "b": "nope"}

	// Single pass: substituted values are never re-expanded
	assert.Equal(t, "{{b}}", Personalize("{{a}}", data))
}
