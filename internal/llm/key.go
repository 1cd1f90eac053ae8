package llm

import "strings"

const (
	keyPrefix = "AIza"
	keyLength = 39
)

// KeyCheck is the result of a format-only API key check.
type KeyCheck struct {
	Valid           bool   `json:"valid"`
	Length          int    `json:"length"`
	StartsCorrectly bool   `json:"startsCorrectly"`
	ExpectedLength  bool   `json:"expectedLength"`
	Preview         string `json:"firstTenChars,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ValidateKey checks that key looks like a Gemini API key. It does not call
// the API.
func ValidateKey(key string) KeyCheck {
	if key == "" {
		return KeyCheck{Error: "API key not configured"}
	}

	preview := key
	if len(preview) > 10 {
		preview = preview[:10]
	}

	c := KeyCheck{
		Length:          len(key),
		StartsCorrectly: strings.HasPrefix(key, keyPrefix),
		ExpectedLength:  len(key) == keyLength,
		Preview:         preview,
	}
	c.Valid = c.StartsCorrectly && c.ExpectedLength
	return c
}

// MaskKey hides all but the first four and last four characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
