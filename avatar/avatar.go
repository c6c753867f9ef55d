// Package avatar derives the deterministic initials and colour shown for users without a picture.
package avatar

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const defaultColor = "#3949ab"

// Initials returns two letters for a single word name, the first letters of the first and last word otherwise,
// the upper-cased first letter of email when there is no name, and "??" if both are empty.
func Initials(name, email string) string {
	if parts := strings.Fields(name); len(parts) > 0 {
		if len(parts) == 1 {
			return strings.ToUpper(prefix(parts[0], 2))
		}
		return strings.ToUpper(prefix(parts[0], 1) + prefix(parts[len(parts)-1], 1))
	}
	if email != "" {
		return strings.ToUpper(prefix(email, 1))
	}
	return "??"
}

// Placeholder is the display name used for a user id whose name could not be resolved.
func Placeholder(id string) string {
	return Initials(id, "")
}

// Color maps s to a stable hsl() colour.
func Color(s string) string {
	if s == "" {
		return defaultColor
	}
	var h int32
	for _, c := range utf16Units(s) {
		h = int32(c) + ((h << 5) - h)
	}
	hue := h % 360
	if hue < 0 {
		hue = -hue
	}
	return fmt.Sprintf("hsl(%d,65%%,55%%)", hue)
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// utf16Units yields the UTF-16 code units of s.
func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			units = append(units, uint16(0xd800+(r>>10)), uint16(0xdc00+(r&0x3ff)))
			continue
		}
		units = append(units, uint16(r))
	}
	return units
}
