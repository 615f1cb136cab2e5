package mvtree

import (
	"encoding/binary"

	"github.com/jsun/pmemkv/heap"
)

// Persistent leaf record layout:
//
//	u64 next                  - heap.Ref of the next leaf in the chain, or Null
//	[leafKeys]u8 occupied     - 0/1 per slot
//	[leafKeys]u8 hashes       - cached Pearson hash per slot, for the search
//	                            pre-filter without dereferencing slotRefs
//	[leafKeys]u64 slotRefs    - heap.Ref of each occupied slot's payload
const (
	leafOccupiedOff = 8
	leafHashesOff   = leafOccupiedOff + leafKeys
	leafSlotRefsOff = leafHashesOff + leafKeys
	leafRecordSize  = leafSlotRefsOff + leafKeys*8
)

func encodeLeafRecord(l *leafDescriptor) []byte {
	buf := make([]byte, leafRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(l.nextRef))
	for i := 0; i < leafKeys; i++ {
		if l.occupied[i] {
			buf[leafOccupiedOff+i] = 1
		}
		buf[leafHashesOff+i] = l.hashes[i]
		binary.LittleEndian.PutUint64(buf[leafSlotRefsOff+i*8:], uint64(l.slotRefs[i]))
	}
	return buf
}

// decodeLeafRecord parses a raw leaf record. Keys are not populated here —
// the caller must read each occupied slot's payload separately to recover
// its key, since the leaf record itself only stores the pre-filter hash and
// the slot's location.
func decodeLeafRecord(buf []byte) *leafDescriptor {
	l := &leafDescriptor{nextRef: heap.Ref(binary.LittleEndian.Uint64(buf[0:8]))}
	for i := 0; i < leafKeys; i++ {
		l.occupied[i] = buf[leafOccupiedOff+i] != 0
		l.hashes[i] = buf[leafHashesOff+i]
		l.slotRefs[i] = heap.Ref(binary.LittleEndian.Uint64(buf[leafSlotRefsOff+i*8:]))
	}
	return l
}

// Persistent root record layout, pointed to by the pool's own root Ref:
//
//	u64 leafHead      - first leaf of the unsorted persistent chain
//	u64 preallocHead  - first leaf of the recycled-leaf chain
const rootRecordSize = 16

func encodeRootRecord(leafHead, preallocHead heap.Ref) []byte {
	buf := make([]byte, rootRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(leafHead))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(preallocHead))
	return buf
}

func decodeRootRecord(buf []byte) (leafHead, preallocHead heap.Ref) {
	leafHead = heap.Ref(binary.LittleEndian.Uint64(buf[0:8]))
	preallocHead = heap.Ref(binary.LittleEndian.Uint64(buf[8:16]))
	return
}

// readLeaf loads and decodes the leaf record at ref.
func readLeaf(pool *heap.Pool, ref heap.Ref) *leafDescriptor {
	l := decodeLeafRecord(pool.Read(ref, leafRecordSize))
	l.ref = ref
	return l
}

// readSlotKeyValue loads and decodes the key/value payload of one occupied
// slot. It reads the fixed-size header first to learn the payload's total
// length, then reads the whole payload, copying both key and value out of the pool's
// read buffer so they outlive it.
func readSlotKeyValue(pool *heap.Pool, ref heap.Ref) (key, val []byte) {
	_, keysize, valsize := readSlotSize(pool, ref)
	raw := pool.Read(ref, slotSize(keysize, valsize))
	_, _, _, k, v := decodeSlot(raw)
	key = append([]byte(nil), k...)
	val = append([]byte(nil), v...)
	return
}

// readSlotSize reads a slot's header to learn its total on-disk size
// without decoding its key or value.
func readSlotSize(pool *heap.Pool, ref heap.Ref) (total int, keysize, valsize uint32) {
	hdr := pool.Read(ref, slotHeaderSize)
	keysize, valsize, _ = decodeSlotHeader(hdr)
	total = slotSize(keysize, valsize)
	return
}
