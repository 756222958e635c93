// Package normalizers canonicalizes candidate fields before they are compared.
package normalizers

import (
	"regexp"
	"strings"
	"unicode"
)

// Honorifics are the title words and patronymic markers stripped from names.
var Honorifics = []string{"mr", "mrs", "ms", "miss", "dr", "muhammad", "mohammad", "mohd"}

var (
	honorifics = func() map[string]bool {
		set := make(map[string]bool, len(Honorifics))
		for _, h := range Honorifics {
			set[h] = true
		}
		return set
	}()
	// a word is a run of letters, marks, digits or underscores in any script
	wordPattern   = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// NormalizeName lowercases a person's name, removes honorifics as whole words and collapses whitespace.
// "Mr. Ali  Hassan" becomes "ali hassan"; "Drew" and "Drágo" are left alone.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = stripHonorifics(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// stripHonorifics replaces every word of s that is an honorific, plus one trailing period, with a space.
func stripHonorifics(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range wordPattern.FindAllStringIndex(s, -1) {
		if !honorifics[s[loc[0]:loc[1]]] {
			continue
		}
		b.WriteString(s[last:loc[0]])
		b.WriteByte(' ')
		last = loc[1]
		if last < len(s) && s[last] == '.' {
			last++
		}
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizePhone removes all non-digit characters from a phone number
func NormalizePhone(s string) string {
	return DigitsOnly(s)
}

// NormalizeIdentity strips separators from a national identity number ("35201-1234567-1" -> "3520112345671").
func NormalizeIdentity(s string) string {
	return DigitsOnly(s)
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
