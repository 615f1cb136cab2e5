package pearson

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashIsDeterministic(t *testing.T) {
	assert.Equal(t, Hash([]byte("hello")), Hash([]byte("hello")))
}

func TestHashDistinguishesMostInputs(t *testing.T) {
	seen := make(map[uint8]bool)
	collisions := 0
	for i := 0; i < 256; i++ {
		h := Hash([]byte{byte(i)})
		if seen[h] {
			collisions++
		}
		seen[h] = true
	}
	assert.Less(t, collisions, 128, "a keyed permutation table should give most single-byte inputs distinct hashes")
}

func TestHashHandlesEmptyInput(t *testing.T) {
	assert.Equal(t, uint8(0), Hash(nil))
	assert.Equal(t, uint8(0), Hash([]byte{}))
}

func TestTableIsAPermutation(t *testing.T) {
	seen := make(map[byte]bool, 256)
	for _, b := range table {
		seen[b] = true
	}
	assert.Len(t, seen, 256)
}
