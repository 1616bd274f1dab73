package permission

import "math/bits"

// Mask64 is a set of permission bits.
type Mask64 uint64

const wildcardBit = 63

// Has reports whether bit is set or the wildcard bit is set.
func (m Mask64) Has(bit int) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	if m&(1<<wildcardBit) != 0 {
		return true
	}
	return m&(1<<bit) != 0
}

// With returns m with bit set.
func (m Mask64) With(bit int) Mask64 {
	if bit < 0 || bit >= 64 {
		return m
	}
	return m | 1<<bit
}

// Covers reports whether m grants every bit in required.
func (m Mask64) Covers(required Mask64) bool {
	if m&(1<<wildcardBit) != 0 {
		return true
	}
	return m&required == required
}

// Count returns the number of set bits.
func (m Mask64) Count() int {
	return bits.OnesCount64(uint64(m))
}
