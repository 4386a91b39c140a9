package htmlutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "paragraphs",
			input:    "<html><body><p>Próximos  a vencer</p><p>Factura <b>123</b></p></body></html>",
			expected: "Próximos a vencer\nFactura 123",
		},
		{
			name:     "drops script and style",
			input:    "<style>p{color:red}</style><script>alert(1)</script><div>Hola</div>",
			expected: "Hola",
		},
		{
			name:     "entities",
			input:    "<p>Tom &amp; Jerry &lt;3</p>",
			expected: "Tom & Jerry <3",
		},
		{
			name:     "line breaks",
			input:    "uno<br>dos<br/>tres",
			expected: "uno\ndos\ntres",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToText(tt.input))
		})
	}
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "Bold & plain", StripTags("<b>Bold</b> &amp; plain"))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt; &amp; c", Escape("a <b> & c"))
}

func TestSplitShortText(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Split("hello", 10))
}

func TestSplitPrefersParagraphs(t *testing.T) {
	text := "first paragraph\n\nsecond paragraph"

	parts := Split(text, 20)
	assert.Equal(t, []string{"first paragraph", "second paragraph"}, parts)
}

func TestSplitFallsBackToLinesAndWords(t *testing.T) {
	parts := Split("aaa bbb\nccc ddd eee", 8)
	assert.Equal(t, []string{"aaa bbb", "ccc ddd", "eee"}, parts)

	parts = Split(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, parts)
}

func TestSplitCountsUTF16Units(t *testing.T) {
	text := strings.Repeat("😀", 6)

	parts := Split(text, 4)
	require.Len(t, parts, 3)

	for _, p := range parts {
		assert.LessOrEqual(t, utf16Len(p), 4)
	}

	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestSplitRespectsTelegramLimit(t *testing.T) {
	line := strings.Repeat("word ", 200) + "\n"
	text := strings.Repeat(line, 10)

	for _, p := range Split(text, TelegramMessageLimit) {
		assert.LessOrEqual(t, utf16Len(p), TelegramMessageLimit)
	}
}
