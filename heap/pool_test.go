package heap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, capacity int64) *Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool")
	p, err := Create(path, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { p.Destroy() })
	return p
}

func TestCommitPersistsWritesAndRoot(t *testing.T) {
	p := newTestPool(t, 4096)

	txn := p.Begin()
	ref, ok := txn.Alloc(16)
	require.True(t, ok)
	txn.Write(ref, []byte("0123456789abcdef"))
	txn.SetRoot(ref)
	require.NoError(t, txn.Commit())

	require.Equal(t, ref, p.Root())
	require.Equal(t, []byte("0123456789abcdef"), p.Read(ref, 16))
}

func TestAbortLeavesArenaUntouched(t *testing.T) {
	p := newTestPool(t, 4096)

	txn := p.Begin()
	ref, ok := txn.Alloc(16)
	require.True(t, ok)
	txn.Write(ref, []byte("0123456789abcdef"))
	txn.Abort()

	txn2 := p.Begin()
	ref2, ok := txn2.Alloc(16)
	require.True(t, ok)
	require.Equal(t, ref, ref2, "abort must roll the bump pointer back so the next alloc reuses the same space")
	txn2.Abort()
}

func TestCommitFailsWhenOutOfSpace(t *testing.T) {
	p := newTestPool(t, headerSize+8)

	txn := p.Begin()
	_, ok := txn.Alloc(64)
	require.False(t, ok)
	err := txn.Commit()
	require.ErrorIs(t, err, ErrOutOfSpace)
}

func TestReopenPreservesCommittedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")
	p, err := Create(path, 4096)
	require.NoError(t, err)

	txn := p.Begin()
	ref, ok := txn.Alloc(8)
	require.True(t, ok)
	txn.Write(ref, []byte("deadbeef"))
	txn.SetRoot(ref)
	require.NoError(t, txn.Commit())
	require.NoError(t, p.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Destroy()

	require.Equal(t, ref, reopened.Root())
	require.Equal(t, []byte("deadbeef"), reopened.Read(ref, 8))
}

func TestFreedSpaceIsReusedBySameSizeAlloc(t *testing.T) {
	p := newTestPool(t, 4096)

	txn := p.Begin()
	ref, ok := txn.Alloc(32)
	require.True(t, ok)
	txn.Write(ref, make([]byte, 32))
	txn.Free(ref, 32)
	require.NoError(t, txn.Commit())

	txn2 := p.Begin()
	ref2, ok := txn2.Alloc(32)
	require.True(t, ok)
	require.Equal(t, ref, ref2)
	txn2.Abort()
}
