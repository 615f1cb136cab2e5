package heap

import (
	"io"

	"github.com/jsun/pmemkv/internal/pmemlog"
)

// Txn is a failure-atomic unit of work against a Pool: it either commits
// every staged allocation, write, and free, or — on Abort, or on a Commit
// that fails — leaves the arena exactly as it found it. Only one Txn may
// be outstanding per Pool; Begin serializes on the pool's mutex for the
// duration of the transaction, which is also what lets Alloc advance the
// pool's bump pointer immediately instead of staging it separately.
type Txn struct {
	pool        *Pool
	startBump   int64
	writes      []writeOp
	frees       []freeOp
	newRoot     int64
	rootChanged bool
	allocFailed bool
	done        bool
}

type freeOp struct {
	size int64
	off  int64
}

// Begin opens a new transaction, blocking until any previously opened one
// on this pool has committed or aborted.
func (p *Pool) Begin() *Txn {
	p.mu.Lock()
	return &Txn{pool: p, startBump: p.bump}
}

// Alloc reserves size bytes in the arena and returns a reference to them.
// The reservation is visible to later calls within this process immediately
// (so a split can address the new leaf before committing) but is only
// durable, and only permanent, once Commit succeeds; Abort rolls it back.
func (t *Txn) Alloc(size int) (Ref, bool) {
	if t.allocFailed {
		return Null, false
	}
	sz := int64(size)
	if off, ok := t.pool.freePop(sz); ok {
		return Ref(off), true
	}
	off := t.pool.bump
	if off+sz > t.pool.capacity {
		t.allocFailed = true
		return Null, false
	}
	t.pool.bump += sz
	return Ref(off), true
}

// Write stages a full overwrite of ref's first len(data) bytes.
func (t *Txn) Write(ref Ref, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	t.writes = append(t.writes, writeOp{int64(ref), cp})
}

// WriteAt stages a write at a byte offset within ref's allocation.
func (t *Txn) WriteAt(ref Ref, at int, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	t.writes = append(t.writes, writeOp{int64(ref) + int64(at), cp})
}

// Free stages the release of a size-byte allocation made by a prior
// transaction. The freed range becomes available for reuse by a later
// Alloc of the same size once this Txn commits.
func (t *Txn) Free(ref Ref, size int) {
	if ref == Null {
		return
	}
	t.frees = append(t.frees, freeOp{int64(size), int64(ref)})
}

// SetRoot stages a change to the pool's persistent root reference.
func (t *Txn) SetRoot(ref Ref) {
	t.newRoot = int64(ref)
	t.rootChanged = true
}

// Commit durably applies every staged operation, or none of them. It
// writes one redo record describing the transaction's effects, fsyncs the
// log, applies the writes to the arena, fsyncs the arena, then truncates
// the log to mark the transaction fully applied.
func (t *Txn) Commit() error {
	defer t.release()
	if t.allocFailed {
		t.pool.bump = t.startBump
		pmemlog.Txn("alloc exceeded capacity %d, rolled back to bump=%d", t.pool.capacity, t.startBump)
		return ErrOutOfSpace
	}
	record := encodeRedoRecord(t.pool.bump, t.rootChanged, t.newRoot, t.writes)
	if err := writeRecord(t.pool.log, record); err != nil {
		t.pool.bump = t.startBump
		return err
	}
	if err := t.pool.log.Sync(); err != nil {
		t.pool.bump = t.startBump
		return err
	}
	for _, w := range t.writes {
		if _, err := t.pool.arena.WriteAt(w.data, w.off); err != nil {
			// The redo log already has this transaction durably recorded;
			// a later Open will replay it. We still report the error so
			// the caller can retry or investigate.
			return err
		}
	}
	if t.rootChanged {
		t.pool.rootOff = t.newRoot
	}
	if err := t.pool.writeHeader(); err != nil {
		return err
	}
	if err := t.pool.arena.Sync(); err != nil {
		return err
	}
	if err := t.pool.log.Truncate(0); err != nil {
		return err
	}
	if _, err := t.pool.log.Seek(0, io.SeekStart); err != nil {
		return err
	}
	for _, f := range t.frees {
		t.pool.freePush(f.size, f.off)
	}
	return nil
}

// Abort discards every staged operation. Safe to call on an already
// committed or already aborted Txn.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.pool.bump = t.startBump
	t.release()
}

func (t *Txn) release() {
	if t.done {
		return
	}
	t.done = true
	t.pool.mu.Unlock()
}
