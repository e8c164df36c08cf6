package keyword

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenPattern keeps internal separators so "16/14/11", "iso-4406", "3.5" and "β10" stay whole.
var tokenPattern = regexp.MustCompile(`[\pL\pN][\pL\pN_/\-.]*[\pL\pN]|[\pL\pN]`)

// hyphenCode matches identifiers written with a hyphen, like "iso-4406" or "hf-2040".
var hyphenCode = regexp.MustCompile(`^([\pL]+)-(\pN+)$`)

var standardPrefixes = map[string]bool{
	"iso": true, "nas": true, "sae": true, "as": true, "astm": true,
	"din": true, "en": true, "ansi": true, "nfpa": true, "jis": true,
}

var units = map[string]bool{
	"µm": true, "um": true, "micron": true, "microns": true, "mm": true,
	"bar": true, "psi": true, "mpa": true, "kpa": true,
	"l/min": true, "lpm": true, "gpm": true, "cst": true, "cp": true,
	"c": true, "°c": true, "f": true, "kw": true, "hz": true, "rpm": true,
}

// Tokenize lowercases text and splits it into lexical tokens. Besides the plain tokens it
// emits joined forms for standard designations ("iso 16889" also yields "iso16889"),
// hyphenated codes ("iso-4406" also yields "iso4406") and quantities ("10 µm" also yields
// "10µm"), so identifiers match however they were spaced.
func Tokenize(text string) []string {
	base := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(base) == 0 {
		return nil
	}
	out := make([]string, 0, len(base)+len(base)/4)
	for i, tok := range base {
		out = append(out, tok)
		if m := hyphenCode.FindStringSubmatch(tok); m != nil {
			out = append(out, m[1]+m[2])
		}
		if i+1 >= len(base) {
			continue
		}
		next := base[i+1]
		switch {
		case standardPrefixes[tok] && startsWithDigit(next):
			out = append(out, tok+next)
		case isNumber(tok) && units[next]:
			out = append(out, tok+next)
		}
	}
	return out
}

func startsWithDigit(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r)
	}
	return false
}

func isNumber(s string) bool {
	seenDigit := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			seenDigit = true
		case r == '.' || r == ',':
		default:
			return false
		}
	}
	return seenDigit
}
