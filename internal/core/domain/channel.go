package domain

import "strings"

// ChannelName derives the canonical room identifier for a pair of users.
// The raw ids are sorted before sanitization, so both possible initiators
// compute the identical name and two simultaneous invites between the same
// pair converge on one room.
//
// Sanitization strips every character outside [A-Za-z0-9]. An id made of
// nothing but punctuation sanitizes to an empty segment; two distinct pairs
// can then collide only if both produce the same empty segment.
func ChannelName(a, b UserID) string {
	lo, hi := a.String(), b.String()
	if hi < lo {
		lo, hi = hi, lo
	}
	return "call-" + sanitizeID(lo) + "-" + sanitizeID(hi)
}

func sanitizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
