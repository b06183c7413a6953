package recipient

import (
	"strings"
)

// NormalizePhone converts a raw phone string into E.164 form. It accepts
// numbers already carrying a country code ("+14155550100"), bare NANP
// ten-digit numbers (promoted to +1), and eleven-digit numbers with a
// leading 1. Separators and whitespace are stripped first. The second
// return value is false when the input cannot be normalized.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	hasPlus := false
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			hasPlus = true
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator, drop
		default:
			return "", false
		}
	}
	digits := b.String()

	switch {
	case hasPlus:
		// E.164: 8..15 digits, no leading zero after the country code marker.
		if len(digits) < 8 || len(digits) > 15 || digits[0] == '0' {
			return "", false
		}
		return "+" + digits, true
	case len(digits) == 10:
		return "+1" + digits, true
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, true
	default:
		return "", false
	}
}
