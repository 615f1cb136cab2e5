// Package diag implements the engine's diagnostic-only full dump: a
// snappy-compressed listing of every key/value pair, meant for inspection
// and backup, never for serving reads. It rides on mvtree.Engine's
// unordered ListAll, the same "diagnostics only" surface the engine
// exposes for this purpose.
package diag

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/jsun/pmemkv/mvtree"
)

// Export snappy-compresses a full listing of e's contents and writes it to
// w, one length-prefixed key/value record per entry.
func Export(e *mvtree.Engine, w io.Writer) error {
	sw := snappy.NewBufferedWriter(w)

	var writeErr error
	err := e.ListAll(func(key, val []byte) bool {
		if writeErr = writeRecord(sw, key, val); writeErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		sw.Close()
		return err
	}
	if writeErr != nil {
		sw.Close()
		return writeErr
	}
	return sw.Close()
}

// Import reads a dump produced by Export and Puts every record into e.
func Import(e *mvtree.Engine, r io.Reader) (int, error) {
	sr := snappy.NewReader(r)
	n := 0
	for {
		key, val, err := readRecord(sr)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := e.Put(key, val); err != nil {
			return n, fmt.Errorf("diag: import record %d: %w", n, err)
		}
		n++
	}
}

func writeRecord(w io.Writer, key, val []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(val)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	_, err := w.Write(val)
	return err
}

func readRecord(r io.Reader) (key, val []byte, err error) {
	var hdr [8]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, nil, err
	}
	keysize := binary.LittleEndian.Uint32(hdr[0:4])
	valsize := binary.LittleEndian.Uint32(hdr[4:8])
	key = make([]byte, keysize)
	if _, err = io.ReadFull(r, key); err != nil {
		return nil, nil, err
	}
	val = make([]byte, valsize)
	if _, err = io.ReadFull(r, val); err != nil {
		return nil, nil, err
	}
	return key, val, nil
}
