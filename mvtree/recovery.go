package mvtree

import (
	"sort"

	"github.com/jsun/pmemkv/heap"
	"github.com/jsun/pmemkv/internal/pmemlog"
)

// recoveredLeaf is a leaf read back off the persistent chain during
// recoverEngine, with its occupied keys already decoded so the rebuild below
// never has to revisit the heap for navigation.
type recoveredLeaf struct {
	desc  *leafDescriptor
	empty bool
	min   []byte
}

// recoverEngine rebuilds the engine's volatile index from scratch by walking the
// persistent leaf chain. Because that chain is an unsorted allocation-order
// list (splits never reorder it), this sorts the leaves by their lowest key
// and replays them through the same attachSplitSibling/innerUpdateAfterSplit
// logic a sequence of ascending-key runtime splits would have produced.
// Leaves found fully empty — left behind by a Remove that was never
// consolidated before the crash — are moved onto the preallocation pool
// instead of being reinserted, which is the only place that pool is ever
// populated.
func recoverEngine(e *Engine) error {
	if e.rootRef == heap.Null {
		return newEmptyRoot(e)
	}

	rootRec := e.pool.Read(e.rootRef, rootRecordSize)
	leafHead, preallocHead := decodeRootRecord(rootRec)

	var chain []*leafDescriptor
	for ref := leafHead; ref != heap.Null; {
		l := readLeaf(e.pool, ref)
		for i := range l.occupied {
			if l.occupied[i] {
				key, _ := readSlotKeyValue(e.pool, l.slotRefs[i])
				l.keys[i] = key
			}
		}
		chain = append(chain, l)
		ref = l.nextRef
	}

	var recovered []recoveredLeaf
	var emptied []*leafDescriptor
	for _, l := range chain {
		min, ok := minKey(l)
		if !ok {
			emptied = append(emptied, l)
			continue
		}
		recovered = append(recovered, recoveredLeaf{desc: l, min: min})
	}
	sort.Slice(recovered, func(a, b int) bool {
		return bytesCompare(recovered[a].min, recovered[b].min) < 0
	})

	txn := e.pool.Begin()

	if len(recovered) == 0 {
		// Every leaf on the chain was left fully empty by a Remove that was
		// never consolidated before the crash. The tree is genuinely empty;
		// all of those leaves already sit in emptied and get recycled below
		// rather than kept around as a pointless live root.
		e.root = nil
		leafHead = heap.Null
	} else {
		e.root = recovered[0].desc
		rightmost := recovered[0].desc
		for i := 1; i < len(recovered); i++ {
			attachSplitSibling(e, rightmost, recovered[i].min, recovered[i].desc)
			rightmost = recovered[i].desc
		}
		for i := 0; i < len(recovered); i++ {
			d := recovered[i].desc
			if i+1 < len(recovered) {
				d.nextRef = recovered[i+1].desc.ref
			} else {
				d.nextRef = heap.Null
			}
			txn.Write(d.ref, encodeLeafRecord(d))
		}
		leafHead = recovered[0].desc.ref
	}

	newPreallocHead := preallocHead
	for i := len(emptied) - 1; i >= 0; i-- {
		emptied[i].nextRef = newPreallocHead
		txn.Write(emptied[i].ref, encodeLeafRecord(emptied[i]))
		newPreallocHead = emptied[i].ref
	}
	e.preallocHead = newPreallocHead

	txn.WriteAt(e.rootRef, 0, encodeRootRecord(leafHead, newPreallocHead))

	if err := txn.Commit(); err != nil {
		return err
	}
	pmemlog.Recovery("rebuilt index over %d live leaf(s), moved %d empty leaf(s) to the preallocation pool",
		len(recovered), len(emptied))
	return nil
}

func minKey(l *leafDescriptor) ([]byte, bool) {
	var min []byte
	found := false
	for i, occ := range l.occupied {
		if !occ {
			continue
		}
		if !found || bytesCompare(l.keys[i], min) < 0 {
			min = l.keys[i]
			found = true
		}
	}
	return min, found
}

// newEmptyRoot persists the root record for a brand-new pool with no leaf
// at all (head = heap.Null). The tree stays empty — no leaf is allocated —
// until the first Put, which is where a persistent leaf is first created.
func newEmptyRoot(e *Engine) error {
	txn := e.pool.Begin()
	rootRef, ok := txn.Alloc(rootRecordSize)
	if !ok {
		txn.Abort()
		return heap.ErrOutOfSpace
	}
	txn.Write(rootRef, encodeRootRecord(heap.Null, heap.Null))
	txn.SetRoot(rootRef)

	if err := txn.Commit(); err != nil {
		return err
	}
	e.rootRef = rootRef
	e.root = nil
	return nil
}
