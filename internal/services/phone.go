package services

import "strings"

var phoneFormatting = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// NormalizePhone strips spaces, hyphens, parentheses and a leading '+'.
// "+234 801-234 5678" and "2348012345678" normalize to the same string.
func NormalizePhone(raw string) string {
	p := phoneFormatting.Replace(strings.TrimSpace(raw))
	return strings.TrimPrefix(p, "+")
}

// MaskPhone keeps the leading three digits and the last four of a
// normalized phone: "2348012345678" becomes "+234 *** *** 5678".
func MaskPhone(normalized string) string {
	r := []rune(normalized)
	switch {
	case len(r) <= 4:
		return strings.Repeat("*", len(r))
	case len(r) < 8:
		return "*** " + string(r[len(r)-4:])
	}
	return "+" + string(r[:3]) + " *** *** " + string(r[len(r)-4:])
}
