package search

import "strings"

// Highlight truncates content to maxLen characters on a word boundary for display.
func Highlight(content string, maxLen int) string {
	r := []rune(content)
	if maxLen <= 0 || len(r) <= maxLen {
		return content
	}
	cut := string(r[:maxLen])
	if i := strings.LastIndex(cut, " "); i > maxLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
