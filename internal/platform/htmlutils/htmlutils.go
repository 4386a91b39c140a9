// Package htmlutils converts e-mail HTML to text and splits Telegram HTML
// messages.
//
// The package handles:
//   - HTML to plain text conversion for matching
//   - UTF-16 length calculation (Telegram's native encoding)
//   - Splitting messages at paragraph, line or word boundaries
package htmlutils

import (
	"html"
	"strings"
	"unicode/utf16"

	"github.com/PuerkitoBio/goquery"
	xhtml "golang.org/x/net/html"
)

// TelegramMessageLimit is the maximum message length in UTF-16 code units.
const TelegramMessageLimit = 4096

// blockElements end a line of text when converted.
const blockElements = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, table, blockquote"

// utf16Len returns the number of UTF-16 code units needed to encode the string.
// Characters outside the BMP (emoji, etc.) require surrogate pairs (2 code units).
func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// utf16Slice returns the longest prefix of s that fits within maxUnits UTF-16 code units.
func utf16Slice(s string, maxUnits int) string {
	units := 0

	for i, r := range s {
		runeUnits := 1
		if r > 0xFFFF {
			runeUnits = 2
		}

		if units+runeUnits > maxUnits {
			return s[:i]
		}

		units += runeUnits
	}

	return s
}

// ToText extracts the visible text of an HTML document. Script and style
// contents are dropped, block elements break lines and runs of spaces collapse.
// Input that cannot be parsed is returned with whitespace collapsed.
func ToText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return collapse(body)
	}

	doc.Find("script, style, head, noscript").Remove()
	for _, n := range doc.Find(blockElements).Nodes {
		n.AppendChild(&xhtml.Node{Type: xhtml.TextNode, Data: "\n"})
	}

	return collapse(doc.Text())
}

func collapse(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}

	return strings.Join(out, "\n")
}

// Escape escapes text for Telegram's HTML parse mode.
func Escape(text string) string {
	return html.EscapeString(text)
}

// StripTags removes tags and unescapes entities.
func StripTags(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.TrimSpace(html.UnescapeString(text))
	}

	return strings.TrimSpace(doc.Text())
}

// Split cuts text into parts of at most limit UTF-16 code units, preferring
// paragraph breaks, then line breaks, then spaces. Tags must open and close
// on the same line so that every part stays well-formed.
func Split(text string, limit int) []string {
	if limit <= 0 || utf16Len(text) <= limit {
		return []string{text}
	}

	var parts []string

	remaining := text
	for utf16Len(remaining) > limit {
		head, tail := splitOnce(remaining, limit)
		if head = strings.TrimRight(head, " \t\n"); head != "" {
			parts = append(parts, head)
		}

		remaining = strings.TrimLeft(tail, " \t\n")
	}

	if remaining != "" {
		parts = append(parts, remaining)
	}

	return parts
}

func splitOnce(text string, limit int) (string, string) {
	window := utf16Slice(text, limit)

	for _, sep := range []string{"\n\n", "\n", " "} {
		if pos := strings.LastIndex(window, sep); pos > 0 {
			return text[:pos], text[pos+len(sep):]
		}
	}

	return window, text[len(window):]
}
