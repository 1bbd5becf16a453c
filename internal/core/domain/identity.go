package domain

import "unicode/utf16"

// UserID is the opaque stable identity assigned by the identity provider.
type UserID string

func (id UserID) String() string {
	return string(id)
}

// NumericIdentity folds a raw identity string into the 32-bit value the
// media engine requires for joining a room. The token service computes the
// same fold over the query's uid parameter, so the two sides must agree bit
// for bit: h = (h<<5) - h + codeUnit over the UTF-16 code units, wrapped to
// a signed 32-bit integer, then the absolute value.
//
// Distinct raw identities can collide; the scheme is deterministic, not
// collision-free.
func NumericIdentity(raw string) uint32 {
	var h int32
	for _, cu := range utf16.Encode([]rune(raw)) {
		h = (h << 5) - h + int32(cu)
	}
	if h < 0 {
		// -MinInt32 does not fit in int32 but does in uint32.
		return uint32(-int64(h))
	}
	return uint32(h)
}
