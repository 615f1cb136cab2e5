package mvtree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, capacity int64) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store")
	e, err := Open(path, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { e.Free() })
	return e
}

func TestFreshEngineHasNoLeafUntilFirstPut(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	require.Nil(t, e.root, "a brand-new store must not allocate a leaf before the first Put")

	a := e.Analyze()
	require.Equal(t, 0, a.LeafTotal)
	require.Equal(t, 0, a.LeafEmpty)

	n, err := e.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = e.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, e.Remove([]byte("missing")))

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NotNil(t, e.root, "the first Put must bootstrap a leaf")

	a = e.Analyze()
	require.Equal(t, 1, a.LeafTotal)
}

func TestReopenAnEmptyStoreStaysEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store")
	e, err := Open(path, 4<<20)
	require.NoError(t, err)
	require.NoError(t, e.Free())

	reopened, err := Open(path, 4<<20)
	require.NoError(t, err)
	defer reopened.Free()

	require.Nil(t, reopened.root)
	a := reopened.Analyze()
	require.Equal(t, 0, a.LeafTotal)
}

func TestPutGetRoundTrip(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	require.NoError(t, e.Put([]byte("a"), []byte("should_not_change")))
	val, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "should_not_change", string(val))
}

func TestPutReplacesExistingValue(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	require.NoError(t, e.Put([]byte("a"), []byte("first")))
	require.NoError(t, e.Put([]byte("a"), []byte("second")))

	val, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "second", string(val))

	n, err := e.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	_, err := e.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyKeyAndEmptyValueAreDistinctFromUnoccupied(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	require.NoError(t, e.Put([]byte(""), []byte("empty-key")))
	require.NoError(t, e.Put([]byte("k"), []byte("")))

	val, err := e.Get([]byte(""))
	require.NoError(t, err)
	require.Equal(t, "empty-key", string(val))

	val, err = e.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "", string(val))

	n, err := e.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestKeysWithEmbeddedNUL(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	keyA := []byte("a")
	keyB := []byte("a\x00b")

	require.NoError(t, e.Put(keyA, []byte("plain")))
	require.NoError(t, e.Put(keyB, []byte("stuff")))

	val, err := e.Get(keyA)
	require.NoError(t, err)
	require.Equal(t, "plain", string(val))

	val, err = e.Get(keyB)
	require.NoError(t, err)
	require.Equal(t, "stuff", string(val))

	n, err := e.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRemoveDeletesKey(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NoError(t, e.Remove([]byte("k")))

	_, err := e.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)

	err = e.Remove([]byte("k"))
	require.NoError(t, err)
}

func TestGetIntoCopiesIntoCallerBuffer(t *testing.T) {
	e := newTestEngine(t, 4<<20)
	require.NoError(t, e.Put([]byte("k"), []byte("hello")))

	buf := make([]byte, 16)
	n, err := e.GetInto([]byte("k"), buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	small := make([]byte, 2)
	_, err = e.GetInto([]byte("k"), small)
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestAscendingInsertionForcesLeafSplits(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	const n = leafKeys*3 + 5
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, e.Put(key, []byte("v")))
	}

	a := e.Analyze()
	require.Greater(t, a.LeafTotal, 1)

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		_, err := e.Get(key)
		require.NoError(t, err, "key %s should survive splitting", key)
	}

	count, err := e.Len()
	require.NoError(t, err)
	require.Equal(t, n, count)
}

// occupiedCount reports how many slots in l currently hold a key.
func occupiedCount(l *leafDescriptor) int {
	n := 0
	for _, occ := range l.occupied {
		if occ {
			n++
		}
	}
	return n
}

// A descending insertion sequence always inserts the new smallest key into
// a full leaf, so it directly exercises planSplit's requirement to cut over
// all 49 candidate keys (48 existing plus the new one) rather than the
// existing 48 alone: the new key's rank is 0, always below the midpoint, so
// it must land on the left while one of the previously-resident keys is
// bumped to the right to keep the 24/25 split exact.
func TestDescendingInsertionSplitsExactlyAtMidpointIncludingTheNewKey(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	const n = leafKeys + 1
	for i := n - 1; i >= 0; i-- {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, e.Put(key, []byte("v")))
	}

	inner, ok := e.root.(*innerNode)
	require.True(t, ok, "a single split must promote an inner node as the new root")
	require.Len(t, inner.children, 2)

	left, ok := inner.children[0].(*leafDescriptor)
	require.True(t, ok)
	right, ok := inner.children[1].(*leafDescriptor)
	require.True(t, ok)

	require.Equal(t, leafKeysMidpoint, occupiedCount(left), "left leaf must keep exactly the lower 24 of the merged 49 keys")
	require.Equal(t, leafKeysMidpoint+1, occupiedCount(right), "right leaf must take the upper 25 of the merged 49 keys")

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		_, err := e.Get(key)
		require.NoError(t, err, "key %s should survive the split", key)
	}
}

func TestDescendingInsertionForcesLeafSplits(t *testing.T) {
	e := newTestEngine(t, 4<<20)

	const n = leafKeys*3 + 5
	for i := n - 1; i >= 0; i-- {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, e.Put(key, []byte("v")))
	}

	a := e.Analyze()
	require.Greater(t, a.LeafTotal, 1)

	count, err := e.Len()
	require.NoError(t, err)
	require.Equal(t, n, count)
}

func TestRecoveryPreservesDataAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store")
	e, err := Open(path, 4<<20)
	require.NoError(t, err)

	const n = leafKeys*2 + 7
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("val-%04d", i))
		require.NoError(t, e.Put(key, val))
	}
	before := e.Analyze()
	require.NoError(t, e.Free())

	reopened, err := Open(path, 4<<20)
	require.NoError(t, err)
	defer reopened.Free()

	count, err := reopened.Len()
	require.NoError(t, err)
	require.Equal(t, n, count)

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := fmt.Sprintf("val-%04d", i)
		got, err := reopened.Get(key)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	after := reopened.Analyze()
	require.Equal(t, before.LeafTotal, after.LeafTotal)
}

func TestRecoveryConsolidatesEmptyLeavesIntoPreallocPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store")
	e, err := Open(path, 4<<20)
	require.NoError(t, err)

	// leafKeys+1 ascending inserts force exactly one split: the original
	// leaf keeps the lowest leafKeysMidpoint keys and every later ascending
	// insert lands in the new right sibling, so removing those low keys is
	// guaranteed to empty the original leaf completely.
	const n = leafKeys + 1
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, e.Put(keys[i], []byte("v")))
	}
	for i := 0; i < leafKeysMidpoint; i++ {
		require.NoError(t, e.Remove(keys[i]))
	}
	require.NoError(t, e.Free())

	reopened, err := Open(path, 4<<20)
	require.NoError(t, err)
	defer reopened.Free()

	a := reopened.Analyze()
	require.Greater(t, a.LeafPrealloc, 0, "a leaf fully emptied before the crash should be recycled on recovery")
	require.Equal(t, 0, a.LeafEmpty, "recovery must not leave an empty leaf in the live chain")

	count, err := reopened.Len()
	require.NoError(t, err)
	require.Equal(t, n-leafKeysMidpoint, count)
}

func TestPutFailsCleanlyWhenPoolIsFull(t *testing.T) {
	e := newTestEngine(t, 700)

	var lastErr error
	i := 0
	for ; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		if lastErr = e.Put(key, []byte("some reasonably sized value")); lastErr != nil {
			break
		}
	}
	require.ErrorIs(t, lastErr, ErrFailed)

	key := []byte(fmt.Sprintf("key-%04d", i))
	_, err := e.Get(key)
	require.ErrorIs(t, err, ErrNotFound, "a failed Put must not leave a partial entry visible")
}
