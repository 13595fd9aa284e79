package embedder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateMiddleLeavesShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short text", truncateMiddle("short text", 100))
}

func TestTruncateMiddleKeepsHeadAndTail(t *testing.T) {
	text := strings.Repeat("a", 5000) + "MIDDLE" + strings.Repeat("b", 5000)
	out := truncateMiddle(text, 1000)
	assert.True(t, strings.HasPrefix(out, "aaaa"))
	assert.True(t, strings.HasSuffix(out, "bbbb"))
	assert.NotContains(t, out, "MIDDLE")
	assert.Less(t, len(out), len(text))
}
