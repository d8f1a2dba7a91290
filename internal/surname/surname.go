// Package surname extracts and normalizes surnames from Nepali full names.
//
// All functions are pure. Input is brought to Unicode NFC first so composed
// and decomposed Devanagari spellings compare equal.
package surname

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tphakala/voterimport/internal/errors"
)

// Name length bounds, in runes after trimming.
const (
	MinNameLength = 2
	MaxNameLength = 200
)

// variants maps known alternate spellings to the form stored in
// surname_mappings.
var variants = map[string]string{
	"वुढाथोकी": "बुढाथोकी",
	"बि.क.":   "वि.क.",
	"बोहरा":   "वोहरा",
}

// Sentinel errors returned by ValidateName
var (
	ErrNameRequired     = errors.NewStd("name is required")
	ErrNameTooShort     = errors.NewStd("name is too short")
	ErrNameTooLong      = errors.NewStd("name is too long")
	ErrNameInvalidChars = errors.NewStd("name must contain valid characters")
)

// Extract returns the surname of fullName: the last whitespace separated
// token with trailing ",;:!" removed. Periods are kept since abbreviated
// surnames such as "के.सी." end with one. A single token is returned whole.
func Extract(fullName string) string {
	parts := strings.Fields(norm.NFC.String(fullName))
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return strings.TrimRight(parts[len(parts)-1], ",;:!")
}

// Normalize maps a surname to its canonical spelling for resolution.
func Normalize(surname string) string {
	s := strings.TrimSpace(norm.NFC.String(surname))
	if s == "" {
		return ""
	}
	if canonical, ok := variants[s]; ok {
		return canonical
	}
	return s
}

// ValidateName checks that name is between MinNameLength and MaxNameLength
// runes and contains at least one Devanagari or Latin letter.
func ValidateName(name string) error {
	cleaned := strings.TrimSpace(name)
	if cleaned == "" {
		return ErrNameRequired
	}

	n := utf8.RuneCountInString(cleaned)
	switch {
	case n < MinNameLength:
		return ErrNameTooShort
	case n > MaxNameLength:
		return ErrNameTooLong
	}

	if strings.IndexFunc(cleaned, isNameRune) < 0 {
		return ErrNameInvalidChars
	}
	return nil
}

func isNameRune(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
		return true
	}
	return unicode.In(r, unicode.Devanagari)
}
