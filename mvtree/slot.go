package mvtree

import "encoding/binary"

// slotHeaderSize is the two u32 length fields plus the one-byte Pearson
// hash that precede every slot's key/value payload.
const slotHeaderSize = 4 + 4 + 1

// encodeSlot packs one occupied slot's payload in the exact on-disk
// layout: keysize|valsize|pearson|key|0x00|val|0x00. The trailing NULs are
// padding for C-string-style diagnostic tools and are not part of the
// logical key or value. This mirrors the teacher's own data-entry framing
// (length-prefixed key then value) with the length fields widened to fixed
// u32s and the Pearson byte and NUL padding layered on top, per the
// persisted layout this engine must match.
func encodeSlot(hash uint8, key, val []byte) []byte {
	buf := make([]byte, slotHeaderSize+len(key)+1+len(val)+1)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(val)))
	buf[8] = hash
	n := slotHeaderSize
	copy(buf[n:], key)
	n += len(key)
	buf[n] = 0x00
	n++
	copy(buf[n:], val)
	n += len(val)
	buf[n] = 0x00
	return buf
}

// decodeSlot reverses encodeSlot. The returned key and val slices alias buf
// and must be copied by the caller if they outlive it.
func decodeSlot(buf []byte) (keysize, valsize uint32, hash uint8, key, val []byte) {
	keysize = binary.LittleEndian.Uint32(buf[0:4])
	valsize = binary.LittleEndian.Uint32(buf[4:8])
	hash = buf[8]
	key = buf[slotHeaderSize : slotHeaderSize+int(keysize)]
	val = buf[slotHeaderSize+int(keysize)+1 : slotHeaderSize+int(keysize)+1+int(valsize)]
	return
}

// decodeSlotHeader reads just a slot's fixed-size header, letting a caller
// learn its total size before reading the variable-length remainder.
func decodeSlotHeader(buf []byte) (keysize, valsize uint32, hash uint8) {
	keysize = binary.LittleEndian.Uint32(buf[0:4])
	valsize = binary.LittleEndian.Uint32(buf[4:8])
	hash = buf[8]
	return
}

// slotSize returns the total byte length of a slot payload given its
// logical key and value sizes — the same arithmetic encodeSlot uses to size
// its buffer, exposed so callers can size an Alloc or a Read without
// decoding first.
func slotSize(keysize, valsize uint32) int {
	return slotHeaderSize + int(keysize) + 1 + int(valsize) + 1
}
