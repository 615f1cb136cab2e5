// Package heap implements the byte-addressable persistent region the
// mvtree engine stores its leaves in: a fixed-capacity arena file fronted
// by a redo log, exposing alloc/free/transaction primitives. It stands in
// for the pmem transactional heap a hybrid B+ tree would normally sit on
// top of (see the mvtree package doc for the division of responsibility);
// the allocator's own crash-safety story is deliberately minimal — see
// DESIGN.md for the simplifications taken here.
//
// The framing of Pool/Txn as a log-then-apply pair, and the "seal the
// current write, fsync, then clear for the next one" discipline, follows
// the write-ahead log this package's sibling teacher code used for its
// own durability (block-chunked fsync'd appends).
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Ref is an opaque reference to a byte range inside a Pool's arena. The
// zero value, Null, never denotes a live allocation.
type Ref uint64

// Null is the reference equivalent of a nil/OID_NULL pointer.
const Null Ref = 0

const (
	magic         uint32 = 0x504d4b56 // "PMKV"
	formatVersion uint32 = 1
	headerSize    int64  = 64
)

// ErrOutOfSpace is returned from Txn.Commit when the transaction staged an
// allocation that would exceed the pool's fixed capacity.
var ErrOutOfSpace = errors.New("heap: out of space")

// Pool is a fixed-capacity, file-backed persistent arena with redo-log
// backed transactions. Only one Txn may be open at a time; Begin blocks
// until any prior Txn commits or aborts.
type Pool struct {
	mu       sync.Mutex
	arena    *os.File
	log      *os.File
	arenaPath string
	logPath  string
	capacity int64
	bump     int64
	rootOff  int64
	freeList map[int64][]int64
}

func arenaPathFor(path string) string { return path + ".heap" }
func logPathFor(path string) string   { return path + ".heap.log" }

// Create makes a brand-new pool at path with the given capacity (including
// the reserved header). It fails if a pool already exists there.
func Create(path string, capacity int64) (*Pool, error) {
	if capacity <= headerSize {
		return nil, fmt.Errorf("heap: capacity %d too small", capacity)
	}
	arena, err := os.OpenFile(arenaPathFor(path), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	if err := arena.Truncate(capacity); err != nil {
		arena.Close()
		return nil, err
	}
	logf, err := os.OpenFile(logPathFor(path), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		arena.Close()
		return nil, err
	}
	p := &Pool{
		arena:     arena,
		log:       logf,
		arenaPath: arenaPathFor(path),
		logPath:   logPathFor(path),
		capacity:  capacity,
		bump:      headerSize,
		rootOff:   0,
		freeList:  make(map[int64][]int64),
	}
	if err := p.writeHeader(); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.arena.Sync(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Open reopens an existing pool at path, replaying any redo records left
// behind by a commit that crashed between log-fsync and arena-apply.
func Open(path string) (*Pool, error) {
	arena, err := os.OpenFile(arenaPathFor(path), os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	logf, err := os.OpenFile(logPathFor(path), os.O_RDWR, 0644)
	if err != nil {
		arena.Close()
		return nil, err
	}
	p := &Pool{
		arena:     arena,
		log:       logf,
		arenaPath: arenaPathFor(path),
		logPath:   logPathFor(path),
		freeList:  make(map[int64][]int64),
	}
	if err := p.readHeader(); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.replayLog(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// CreateOrOpen opens the pool at path if its backing files exist, else
// creates a fresh one with the given capacity.
func CreateOrOpen(path string, capacity int64) (*Pool, error) {
	if _, err := os.Stat(arenaPathFor(path)); err == nil {
		return Open(path)
	}
	return Create(path, capacity)
}

// Root returns the pool's persistent root reference, or Null if none has
// been set yet via a committed Txn.SetRoot.
func (p *Pool) Root() Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Ref(p.rootOff)
}

// Read copies n bytes starting at ref out of the arena. Reads never
// require a transaction.
func (p *Pool) Read(ref Ref, n int) []byte {
	buf := make([]byte, n)
	if _, err := p.arena.ReadAt(buf, int64(ref)); err != nil {
		panic(fmt.Sprintf("heap: read at %d: %v", ref, err))
	}
	return buf
}

// Close releases the pool's file handles without destroying its contents.
func (p *Pool) Close() error {
	var err error
	if p.arena != nil {
		err = p.arena.Close()
	}
	if p.log != nil {
		if e := p.log.Close(); err == nil {
			err = e
		}
	}
	return err
}

// Destroy closes the pool and removes its backing files.
func (p *Pool) Destroy() error {
	p.Close()
	os.Remove(p.arenaPath)
	os.Remove(p.logPath)
	return nil
}

func (p *Pool) writeHeader() error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.capacity))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(p.bump))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(p.rootOff))
	_, err := p.arena.WriteAt(buf[:], 0)
	return err
}

func (p *Pool) readHeader() error {
	var buf [headerSize]byte
	if _, err := p.arena.ReadAt(buf[:], 0); err != nil {
		return err
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != magic {
		return fmt.Errorf("heap: bad magic %x", got)
	}
	p.capacity = int64(binary.LittleEndian.Uint64(buf[8:16]))
	p.bump = int64(binary.LittleEndian.Uint64(buf[16:24]))
	p.rootOff = int64(binary.LittleEndian.Uint64(buf[24:32]))
	return nil
}

func (p *Pool) freePush(size, off int64) {
	p.freeList[size] = append(p.freeList[size], off)
}

func (p *Pool) freePop(size int64) (int64, bool) {
	lst := p.freeList[size]
	if len(lst) == 0 {
		return 0, false
	}
	off := lst[len(lst)-1]
	p.freeList[size] = lst[:len(lst)-1]
	return off, true
}
