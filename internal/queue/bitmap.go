package queue

import "math/bits"

// MaxTransceivers bounds how many transceivers one manager can
// register. Votes fit a fixed-width 64-bit set with O(1) set and
// popcount; indexes are never reused, so the bound is a hard cap.
const MaxTransceivers = 64

// Bitmap is a fixed-width bitset keyed by transceiver index.
type Bitmap uint64

// Set marks index i. Setting an already-set index is a no-op.
func (b *Bitmap) Set(i uint8) {
	*b |= 1 << i
}

// Get reports whether index i is set.
func (b Bitmap) Get(i uint8) bool {
	return b&(1<<i) != 0
}

// Count returns the number of set indexes.
func (b Bitmap) Count() int {
	return bits.OnesCount64(uint64(b))
}
