package ivr

import (
	"strings"
	"unicode"
)

// SpeakPhone formats a number for text-to-speech: digits separated by spaces
// in 3-3-4 runs. A North American +1 prefix is dropped. Longer numbers keep
// splitting their tail into runs of four, and numbers shorter than ten digits
// are read as a single run.
func SpeakPhone(phone string) string {
	var digits []rune
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) == 0 {
		return ""
	}

	var groups [][]rune
	if len(digits) >= 10 {
		groups = [][]rune{digits[:3], digits[3:6]}
		for rest := digits[6:]; len(rest) > 0; {
			n := min(4, len(rest))
			groups = append(groups, rest[:n])
			rest = rest[n:]
		}
	} else {
		groups = [][]rune{digits}
	}
	spoken := make([]string, 0, len(groups))
	for _, g := range groups {
		parts := make([]string, len(g))
		for i, r := range g {
			parts[i] = string(r)
		}
		spoken = append(spoken, strings.Join(parts, " "))
	}
	return strings.Join(spoken, ", ")
}
