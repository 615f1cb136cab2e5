package heap

import (
	"encoding/binary"
	"errors"
	"io"
)

// writeRecord frames payload with a 4-byte little-endian length prefix, the
// same length-then-bytes discipline the teacher's WAL writer used per chunk,
// simplified here to one frame per committed transaction.
func writeRecord(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readRecord reads one framed record. A torn trailing record — the
// signature of a crash mid-append — is reported as io.EOF rather than an
// error, mirroring the teacher's tolerance of an unsealed final WAL block.
func readRecord(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return payload, nil
}

type writeOp struct {
	off  int64
	data []byte
}

// encodeRedoRecord packs one transaction's durable effects: the arena's new
// bump pointer, an optional new root, and the list of byte-range writes to
// replay if the process dies before they reach the arena.
func encodeRedoRecord(bump int64, rootChanged bool, root int64, writes []writeOp) []byte {
	size := 8 + 1 + 8 + 4
	for _, w := range writes {
		size += 8 + 4 + len(w.data)
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(bump))
	off += 8
	if rootChanged {
		buf[off] = 1
	}
	off++
	binary.LittleEndian.PutUint64(buf[off:], uint64(root))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(writes)))
	off += 4
	for _, w := range writes {
		binary.LittleEndian.PutUint64(buf[off:], uint64(w.off))
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(w.data)))
		off += 4
		copy(buf[off:], w.data)
		off += len(w.data)
	}
	return buf
}

func decodeRedoRecord(buf []byte) (bump int64, rootChanged bool, root int64, writes []writeOp) {
	off := 0
	bump = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	rootChanged = buf[off] != 0
	off++
	root = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	numWrites := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	writes = make([]writeOp, numWrites)
	for i := 0; i < numWrites; i++ {
		wOff := int64(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		n := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		data := make([]byte, n)
		copy(data, buf[off:off+n])
		off += n
		writes[i] = writeOp{wOff, data}
	}
	return
}

// replayLog applies any redo records left in the log from a commit that
// crashed after the log fsync but before the arena was fully written and
// the log truncated. Idempotent: re-applying already-applied writes is
// harmless since every write is a full overwrite of a fixed byte range.
func (p *Pool) replayLog() error {
	if _, err := p.log.Seek(0, io.SeekStart); err != nil {
		return err
	}
	applied := false
	for {
		payload, err := readRecord(p.log)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		bump, rootChanged, root, writes := decodeRedoRecord(payload)
		for _, w := range writes {
			if _, err := p.arena.WriteAt(w.data, w.off); err != nil {
				return err
			}
		}
		p.bump = bump
		if rootChanged {
			p.rootOff = root
		}
		applied = true
	}
	if applied {
		if err := p.writeHeader(); err != nil {
			return err
		}
		if err := p.arena.Sync(); err != nil {
			return err
		}
	}
	if err := p.log.Truncate(0); err != nil {
		return err
	}
	_, err := p.log.Seek(0, io.SeekStart)
	return err
}
