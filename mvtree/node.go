package mvtree

import "github.com/jsun/pmemkv/heap"

// node is the volatile index's tagged-variant element: either a
// leafDescriptor backed by a persistent leaf block, or an innerNode that
// exists only in memory and is rebuilt from scratch on every recovery. A
// type switch on isLeaf stands in for the two concrete shapes the original
// engine modeled as a struct/union pair.
type node interface {
	isLeaf() bool
	getParent() *innerNode
	setParent(*innerNode)
}

// leafDescriptor is the volatile mirror of one persistent leaf block: the
// decoded key for every occupied slot, its cached Pearson hash, and the
// heap.Ref of its slot payload, kept in lockstep with the on-disk record so
// that navigation and the in-leaf search pre-filter never need to touch the
// heap. occupied is tracked explicitly, as a bool rather than inferring
// "empty" from a zero-length key, so that an empty-string key is
// indistinguishable from neither an unoccupied slot nor any other key.
type leafDescriptor struct {
	parent   *innerNode
	ref      heap.Ref // location of this leaf's persistent record
	nextRef  heap.Ref // persistent link to the next leaf in the unsorted chain
	occupied [leafKeys]bool
	hashes   [leafKeys]uint8
	slotRefs [leafKeys]heap.Ref
	keys     [leafKeys][]byte
}

func (l *leafDescriptor) isLeaf() bool            { return true }
func (l *leafDescriptor) getParent() *innerNode   { return l.parent }
func (l *leafDescriptor) setParent(p *innerNode)  { l.parent = p }

// find locates key's slot using its Pearson hash as a pre-filter: only
// slots whose cached hash matches are compared byte-for-byte, so a miss on
// a full leaf costs one hash comparison per slot rather than a full key
// comparison.
func (l *leafDescriptor) find(hash uint8, key []byte) (int, bool) {
	for i := 0; i < leafKeys; i++ {
		if l.occupied[i] && l.hashes[i] == hash && bytesCompare(l.keys[i], key) == 0 {
			return i, true
		}
	}
	return -1, false
}

// firstEmpty returns the index of an unoccupied slot, or -1 if full.
func (l *leafDescriptor) firstEmpty() int {
	for i, occ := range l.occupied {
		if !occ {
			return i
		}
	}
	return -1
}

// innerNode is a purely volatile routing node: len(children) == len(keys)+1,
// and children[i] holds everything with a key < keys[i] (or everything >=
// keys[len(keys)-1] for the last child). Inner nodes are rebuilt from
// scratch on every Open; nothing about their shape is ever persisted.
type innerNode struct {
	parent   *innerNode
	keys     [][]byte
	children []node
}

func (n *innerNode) isLeaf() bool           { return false }
func (n *innerNode) getParent() *innerNode  { return n.parent }
func (n *innerNode) setParent(p *innerNode) { n.parent = p }

// childIndex returns which child subtree key belongs under.
func (n *innerNode) childIndex(key []byte) int {
	i := 0
	for i < len(n.keys) && bytesCompare(key, n.keys[i]) >= 0 {
		i++
	}
	return i
}

func bytesCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
