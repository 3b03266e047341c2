package agents

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8Decoder = unicode.UTF8BOM.NewDecoder()

// DecodeManuscript turns raw uploaded bytes into text: the UTF-8 BOM is
// stripped and ill-formed sequences are replaced so windowing never splits a
// rune.
func DecodeManuscript(data []byte) string {
	decoded, _, err := transform.Bytes(utf8Decoder, data)
	if err != nil {
		// Fall back to a lossy conversion; the prompt still works.
		return strings.ToValidUTF8(string(data), string(utf8.RuneError))
	}
	return strings.ToValidUTF8(string(decoded), string(utf8.RuneError))
}

// Window returns the first limit runes of text. limit <= 0 returns the whole
// text.
func Window(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

// CountWords reports whitespace-separated word count.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
