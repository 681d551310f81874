package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	html := "<p>Hello <b>John</b></p><p>How are you?</p>"
	assert.Equal(t, "Hello John\nHow are you?", StripHTML(html))

	assert.Equal(t, "line one\nline two", StripHTML("line one<br/>line two"))
	assert.Equal(t, "a & b", StripHTML("a &amp; b"))
	assert.Equal(t, "", StripHTML("   "))
}

func TestIsHTML(t *testing.T) {
	assert.True(t, IsHTML("<p>hi</p>"))
	assert.True(t, IsHTML("<div class=\"x\">hi</div>"))
	assert.False(t, IsHTML("plain text"))
	assert.False(t, IsHTML("a < b and b > c"))
}

func TestBodyPreview(t *testing.T) {
	long := strings.Repeat("a", 300)
	assert.Len(t, BodyPreview(long, 200), 200)
	assert.Equal(t, "short", BodyPreview("short", 200))
	assert.Equal(t, "hi there", BodyPreview("<p>hi there</p>", 200))
}
