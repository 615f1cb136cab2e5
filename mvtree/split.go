package mvtree

import (
	"encoding/binary"
	"sort"

	"github.com/jsun/pmemkv/heap"
	"github.com/jsun/pmemkv/internal/pmemlog"
)

// planSplit merges a full leaf's 48 occupied keys with newKey — the key
// about to be inserted — sorts all 49, and cuts at leafKeysMidpoint: the
// lower 24 stay on the left, the upper 25 move to the new right sibling.
// The separator is the first key of the upper half, which may be newKey
// itself; this is why the cut must be computed over all 49 candidates
// together rather than splitting the existing 48 first and appending
// newKey to whichever side its rank happens to fall on afterward.
func planSplit(l *leafDescriptor, newKey []byte) (sepKey []byte, moveSlots []int, newKeyGoesRight bool) {
	type entry struct {
		slot int // -1 marks the synthetic entry for newKey, not yet in a slot
		key  []byte
	}
	entries := make([]entry, 0, leafKeys+1)
	for i, occ := range l.occupied {
		if occ {
			entries = append(entries, entry{i, l.keys[i]})
		}
	}
	entries = append(entries, entry{-1, newKey})
	sort.Slice(entries, func(a, b int) bool { return bytesCompare(entries[a].key, entries[b].key) < 0 })

	cut := leafKeysMidpoint
	sepKey = entries[cut].key
	moveSlots = make([]int, 0, len(entries)-cut)
	for _, e := range entries[cut:] {
		if e.slot == -1 {
			newKeyGoesRight = true
			continue
		}
		moveSlots = append(moveSlots, e.slot)
	}
	return
}

// allocLeaf obtains a leaf record to hold fresh data, preferring a
// recycled one from the preallocation pool (populated only by recoverEngine)
// over growing the arena with a brand-new allocation. consumed reports
// whether a prealloc leaf was popped, so the caller knows to persist the
// pool's new head alongside the rest of its transaction.
func allocLeaf(e *Engine, txn *heap.Txn) (l *leafDescriptor, consumed, ok bool) {
	if e.preallocHead != heap.Null {
		ref := e.preallocHead
		prev := readLeaf(e.pool, ref)
		e.preallocHead = prev.nextRef
		return &leafDescriptor{ref: ref}, true, true
	}
	pmemlog.Pool("preallocation pool empty, growing arena for a new leaf")
	ref, allocOK := txn.Alloc(leafRecordSize)
	if !allocOK {
		return nil, false, false
	}
	return &leafDescriptor{ref: ref}, false, true
}

// splitLeaf splits a full leaf l in two within the given transaction: a
// new (or recycled) leaf is obtained via allocLeaf, the upper half of the
// 49 candidate entries (l's 48 occupied keys plus the new key being
// inserted, by key order) move into it, and it is linked into the
// persistent chain immediately after l. newKey itself lands wherever
// planSplit's cut puts it, on either side. It returns the new leaf
// descriptor, the separator key the caller should promote into the index
// via attachSplitSibling, and whether the preallocation pool's head must
// be persisted as part of this commit.
func splitLeaf(e *Engine, txn *heap.Txn, l *leafDescriptor, hash uint8, newKey []byte, newSlotRef heap.Ref) (right *leafDescriptor, sepKey []byte, preallocConsumed, ok bool) {
	sepKey, moveSlots, newKeyGoesRight := planSplit(l, newKey)

	right, preallocConsumed, ok = allocLeaf(e, txn)
	if !ok {
		return nil, nil, false, false
	}

	for slotIdx, dst := range moveSlots {
		right.occupied[slotIdx] = true
		right.hashes[slotIdx] = l.hashes[dst]
		right.slotRefs[slotIdx] = l.slotRefs[dst]
		right.keys[slotIdx] = l.keys[dst]

		l.occupied[dst] = false
		l.hashes[dst] = 0
		l.slotRefs[dst] = heap.Null
		l.keys[dst] = nil
	}

	right.nextRef = l.nextRef
	right.parent = l.parent
	l.nextRef = right.ref

	target := l
	if newKeyGoesRight {
		target = right
	}
	storeSlot(target, target.firstEmpty(), hash, newKey, newSlotRef)

	txn.Write(right.ref, encodeLeafRecord(right))
	txn.Write(l.ref, encodeLeafRecord(l))

	return right, sepKey, preallocConsumed, true
}

func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}
