package consultation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	titleMaxWords = 8
	titleMaxChars = 60
)

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	markdownPattern = regexp.MustCompile("[#*_`>\\[\\]]")
	sentenceEnd     = regexp.MustCompile(`[.!?](\s|$)`)
	htmlTag         = regexp.MustCompile(`<[^>]*>`)
)

// Title derives a session title from the first user message: its first sentence, at most
// eight words and sixty characters. An empty message gives "New <display name>".
func Title(message, displayName string) string {
	s := urlPattern.ReplaceAllString(message, "")
	s = markdownPattern.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if loc := sentenceEnd.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	if s == "" {
		return "New " + displayName
	}

	words := strings.Fields(s)
	if len(words) > titleMaxWords {
		s = strings.Join(words[:titleMaxWords], " ") + "…"
	}
	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]

	if utf8.RuneCountInString(s) > titleMaxChars {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:titleMaxChars-3])) + "..."
	}
	return s
}

// SanitizeContent removes HTML tags and surrounding whitespace from a user message.
func SanitizeContent(s string) string {
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}
