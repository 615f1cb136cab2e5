// Package pearson implements the classical 8-bit Pearson hash used as an
// in-leaf filter: a cheap pre-check before a full key comparison.
package pearson

// table is the 256-byte permutation used by Hash. Its exact contents don't
// affect correctness, only that every call site shares the same table for
// the lifetime of the engine, so it is built once by a fixed, deterministic
// shuffle rather than typed out by hand.
var table [256]byte

// seed is an arbitrary but fixed constant; any consistent seed works.
const seed uint32 = 0x9e3779b1

func init() {
	for i := range table {
		table[i] = byte(i)
	}
	state := seed
	next := func() uint32 {
		// xorshift32
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		return state
	}
	for i := len(table) - 1; i > 0; i-- {
		j := int(next() % uint32(i+1))
		table[i], table[j] = table[j], table[i]
	}
}

// Hash computes the 8-bit Pearson hash of data using the table above.
func Hash(data []byte) uint8 {
	var h byte
	for _, b := range data {
		h = table[h^b]
	}
	return h
}
