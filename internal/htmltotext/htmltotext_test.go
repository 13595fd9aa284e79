package htmltotext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStripsTags(t *testing.T) {
	text, err := Extract(`<html><body><p>Hello <b>world</b></p><p>Second paragraph</p></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello world")
	assert.Contains(t, text, "Second paragraph")
	assert.False(t, strings.Contains(text, "<p>"))
}

func TestExtractCollapsesBlankLines(t *testing.T) {
	text, err := Extract("<p>one</p><br><br><br><p>two</p>")
	require.NoError(t, err)
	assert.NotContains(t, text, "\n\n\n")
}
