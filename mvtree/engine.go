// Package mvtree implements a crash-durable key/value store as a hybrid
// B+ tree: a volatile index of inner nodes and leaf descriptors sits over
// fixed-size leaf blocks persisted in a heap.Pool, so that navigating the
// tree never touches the heap and every mutation still survives a crash.
// A single RWMutex guards the whole engine — Get takes the read lock, Put
// and Remove the write lock — acquired before any tree navigation and
// released only after a transaction has committed (or aborted) and its
// effects have been published into the volatile index.
package mvtree

import (
	"fmt"
	"sync"

	"github.com/jsun/pmemkv/heap"
	"github.com/jsun/pmemkv/internal/pearson"
)

// Engine is one open hybrid B+ tree store. The zero value is not usable;
// construct one with Open.
type Engine struct {
	mu           sync.RWMutex
	pool         *heap.Pool
	rootRef      heap.Ref // ref of the persistent root record (leafHead, preallocHead)
	preallocHead heap.Ref
	root         node
}

// Open opens (or creates, if capacity is given and no pool exists yet at
// path) the store at path and replays any crash-interrupted transaction
// before returning.
func Open(path string, capacity int64) (*Engine, error) {
	pool, err := heap.CreateOrOpen(path, capacity)
	if err != nil {
		return nil, fmt.Errorf("mvtree: open: %w", err)
	}
	return OpenWithPool(pool)
}

// OpenWithPool builds an Engine directly on top of an already-open Pool,
// running the same recovery pass Open does.
func OpenWithPool(pool *heap.Pool) (*Engine, error) {
	e := &Engine{pool: pool, rootRef: pool.Root()}
	if err := recoverEngine(e); err != nil {
		return nil, fmt.Errorf("mvtree: recover: %w", err)
	}
	return e, nil
}

// Free closes the engine's backing pool. The store remains on disk and can
// be reopened with Open.
func (e *Engine) Free() error {
	return e.pool.Close()
}

// Pool returns the heap.Pool backing this engine, for diagnostics.
func (e *Engine) Pool() *heap.Pool { return e.pool }

// RootRef returns the heap.Ref of the engine's persistent root record.
func (e *Engine) RootRef() heap.Ref { return e.rootRef }

// Get returns the current value for key, or ErrNotFound if there is none.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	leaf := findLeaf(e.root, key)
	if leaf == nil {
		return nil, ErrNotFound
	}
	idx, found := leaf.find(pearson.Hash(key), key)
	if !found {
		return nil, ErrNotFound
	}
	_, val := readSlotKeyValue(e.pool, leaf.slotRefs[idx])
	return val, nil
}

// GetInto copies the current value for key into buf, returning the number
// of bytes written. It returns ErrBufferTooSmall, leaving buf untouched, if
// buf cannot hold the whole value.
func (e *Engine) GetInto(key, buf []byte) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	leaf := findLeaf(e.root, key)
	if leaf == nil {
		return 0, ErrNotFound
	}
	idx, found := leaf.find(pearson.Hash(key), key)
	if !found {
		return 0, ErrNotFound
	}
	_, val := readSlotKeyValue(e.pool, leaf.slotRefs[idx])
	if len(val) > len(buf) {
		return 0, ErrBufferTooSmall
	}
	return copy(buf, val), nil
}

// Put durably stores val under key, replacing any current value. On
// success the volatile index reflects the new state; on failure (for
// example, the pool is out of space) neither the persistent nor the
// volatile state is changed and ErrFailed is returned. If the tree is
// currently empty, this is where its first leaf is allocated and wired in
// as both root and persistent chain head — an empty tree holds no leaf at
// all until its first Put.
func (e *Engine) Put(key, val []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	leaf := findLeaf(e.root, key)
	hash := pearson.Hash(key)

	txn := e.pool.Begin()

	var bootstrapped bool
	if leaf == nil {
		ref, ok := txn.Alloc(leafRecordSize)
		if !ok {
			txn.Abort()
			return ErrFailed
		}
		leaf = &leafDescriptor{ref: ref}
		bootstrapped = true
	}
	work := *leaf

	slotRef, ok := txn.Alloc(slotSize(uint32(len(key)), uint32(len(val))))
	if !ok {
		txn.Abort()
		return ErrFailed
	}
	txn.Write(slotRef, encodeSlot(hash, key, val))

	var (
		right            *leafDescriptor
		sepKey           []byte
		split            bool
		preallocConsumed bool
		prevPreallocHead = e.preallocHead
	)

	if idx, found := work.find(hash, key); found {
		oldRef := work.slotRefs[idx]
		oldSize, _, _ := readSlotSize(e.pool, oldRef)
		txn.Free(oldRef, oldSize)
		storeSlot(&work, idx, hash, key, slotRef)
		txn.Write(work.ref, encodeLeafRecord(&work))
	} else if idx := work.firstEmpty(); idx >= 0 {
		storeSlot(&work, idx, hash, key, slotRef)
		txn.Write(work.ref, encodeLeafRecord(&work))
	} else {
		var ok2 bool
		right, sepKey, preallocConsumed, ok2 = splitLeaf(e, txn, &work, hash, key, slotRef)
		if !ok2 {
			txn.Abort()
			e.preallocHead = prevPreallocHead
			return ErrFailed
		}
		split = true
	}

	if bootstrapped {
		txn.WriteAt(e.rootRef, 0, encodeU64(uint64(leaf.ref)))
	}
	if preallocConsumed {
		txn.WriteAt(e.rootRef, 8, encodeU64(uint64(e.preallocHead)))
	}

	if err := txn.Commit(); err != nil {
		if preallocConsumed {
			e.preallocHead = prevPreallocHead
		}
		return ErrFailed
	}

	*leaf = work
	if bootstrapped {
		e.root = leaf
	}
	if split {
		attachSplitSibling(e, leaf, sepKey, right)
	}
	return nil
}

func storeSlot(l *leafDescriptor, idx int, hash uint8, key []byte, ref heap.Ref) {
	l.occupied[idx] = true
	l.hashes[idx] = hash
	l.slotRefs[idx] = ref
	l.keys[idx] = append([]byte(nil), key...)
}

// Remove deletes key's current value. Removing a key that has no value is
// not an error and returns nil; ErrFailed is returned if the removal's
// transaction could not be committed.
// A leaf left fully empty by a Remove is not reclaimed until the next
// recovery pass consolidates it into the preallocation pool.
func (e *Engine) Remove(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	leaf := findLeaf(e.root, key)
	if leaf == nil {
		return nil
	}
	idx, found := leaf.find(pearson.Hash(key), key)
	if !found {
		return nil
	}

	work := *leaf
	oldRef := work.slotRefs[idx]
	oldSize, _, _ := readSlotSize(e.pool, oldRef)

	txn := e.pool.Begin()
	txn.Free(oldRef, oldSize)
	work.occupied[idx] = false
	work.hashes[idx] = 0
	work.slotRefs[idx] = heap.Null
	work.keys[idx] = nil
	txn.Write(work.ref, encodeLeafRecord(&work))

	if err := txn.Commit(); err != nil {
		return ErrFailed
	}

	*leaf = work
	return nil
}

// Analysis reports the shape of the persistent leaf chains, independent of
// the volatile index built over them.
type Analysis struct {
	LeafTotal    int // leaves reachable from the live chain
	LeafEmpty    int // live leaves with no occupied slots
	LeafPrealloc int // leaves sitting in the recycling pool
}

// Analyze walks both persistent leaf chains and reports their shape.
func (e *Engine) Analyze() Analysis {
	e.mu.RLock()
	defer e.mu.RUnlock()

	leafHead, preallocHead := decodeRootRecord(e.pool.Read(e.rootRef, rootRecordSize))
	var a Analysis
	for ref := leafHead; ref != heap.Null; {
		l := readLeaf(e.pool, ref)
		a.LeafTotal++
		if leafUnoccupied(l) {
			a.LeafEmpty++
		}
		ref = l.nextRef
	}
	for ref := preallocHead; ref != heap.Null; {
		l := readLeaf(e.pool, ref)
		a.LeafPrealloc++
		ref = l.nextRef
	}
	return a
}

func leafUnoccupied(l *leafDescriptor) bool {
	for _, occ := range l.occupied {
		if occ {
			return false
		}
	}
	return true
}

// ListAll calls fn once for every key/value pair currently stored, in the
// unsorted order of the persistent leaf chain, stopping early if fn
// returns false. It is meant for diagnostics, not for serving ordered
// range queries.
func (e *Engine) ListAll(fn func(key, val []byte) bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	leafHead, _ := decodeRootRecord(e.pool.Read(e.rootRef, rootRecordSize))
	for ref := leafHead; ref != heap.Null; {
		l := readLeaf(e.pool, ref)
		for i, occ := range l.occupied {
			if !occ {
				continue
			}
			key, val := readSlotKeyValue(e.pool, l.slotRefs[i])
			if !fn(key, val) {
				return nil
			}
		}
		ref = l.nextRef
	}
	return nil
}

// Keys returns every stored key, in the same unsorted order as ListAll.
func (e *Engine) Keys() ([][]byte, error) {
	var keys [][]byte
	err := e.ListAll(func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	return keys, err
}

// Len returns the number of keys currently stored.
func (e *Engine) Len() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	leafHead, _ := decodeRootRecord(e.pool.Read(e.rootRef, rootRecordSize))
	n := 0
	for ref := leafHead; ref != heap.Null; {
		l := readLeaf(e.pool, ref)
		for _, occ := range l.occupied {
			if occ {
				n++
			}
		}
		ref = l.nextRef
	}
	return n, nil
}
