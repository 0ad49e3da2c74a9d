// Package avl implements a height-balanced binary search tree stored in an
// index file next to an append-only record heap. Nodes reference each other
// by byte offset; offset 0 is nil because the header lives there.
package avl

import (
	"encoding/binary"
	"fmt"
	"sort"

	"indexlab/pkg/common"
	"indexlab/pkg/storage"
)

const (
	dataMagic  = "AVLDAT01"
	indexMagic = "AVLIDX01"

	// magic[8] | version u32 | node size u32 | root i64 | count u32
	headerSize = 28
)

// Tree is an AVL index over one column. It holds no open files; every
// operation acquires and releases its own handles.
type Tree struct {
	disk       *storage.Disk
	key        common.KeyCodec
	recordSize int
	nodeSize   int

	dataPath  string
	indexPath string
	tombPath  string
}

// New describes the tree rooted at base (".avl.dat", ".avl.idx" and
// ".avl.tomb" are appended). Call Create before first use.
func New(disk *storage.Disk, base string, key common.KeyCodec, recordSize int) *Tree {
	return &Tree{
		disk:       disk,
		key:        key,
		recordSize: recordSize,
		nodeSize:   key.Width() + 4 + 8 + 8 + 8,
		dataPath:   base + ".avl.dat",
		indexPath:  base + ".avl.idx",
		tombPath:   base + ".avl.tomb",
	}
}

func (t *Tree) Kind() common.Kind { return common.KindAVL }

func (t *Tree) Paths() []string { return []string{t.dataPath, t.indexPath, t.tombPath} }

// Create lays out empty files, or validates existing ones.
func (t *Tree) Create() (err error) {
	s, err := t.acquire(true)
	if err != nil {
		return err
	}
	defer s.release(&err)
	return nil
}

type node struct {
	off    int64
	key    common.Value
	height int32
	left   int64
	right  int64
	value  common.Offset
}

// session is the per-operation resource bundle.
type session struct {
	t     *Tree
	dat   *storage.BlockFile
	idx   *storage.BlockFile
	heap  *storage.Heap
	root  int64
	count uint32
}

func (t *Tree) acquire(create bool) (*session, error) {
	s := &session{t: t}
	var err error
	if s.dat, err = t.disk.Open(t.dataPath, create); err != nil {
		return nil, err
	}
	if s.idx, err = t.disk.Open(t.indexPath, create); err != nil {
		s.dat.Close()
		return nil, err
	}
	if err = s.init(); err != nil {
		s.release(&err)
		return nil, err
	}
	return s, nil
}

func (s *session) release(errp *error) {
	storage.Release(errp, s.dat, s.idx)
}

func (s *session) init() error {
	var err error
	if s.heap, err = storage.OpenHeap(s.dat, dataMagic, s.t.recordSize); err != nil {
		return err
	}
	size, err := s.idx.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		return s.writeHeader()
	}
	hdr, err := s.idx.ReadBlock(0, headerSize)
	if err != nil {
		return err
	}
	if err := storage.CheckMagic(hdr, indexMagic, s.idx.Path()); err != nil {
		return err
	}
	if v := binary.LittleEndian.Uint32(hdr[8:]); v != storage.FormatVersion {
		return fmt.Errorf("%w: %s: version %d", common.ErrCorruptHeader, s.idx.Path(), v)
	}
	if ns := int(binary.LittleEndian.Uint32(hdr[12:])); ns != s.t.nodeSize {
		return fmt.Errorf("%w: %s: node size %d, want %d", common.ErrCorruptHeader, s.idx.Path(), ns, s.t.nodeSize)
	}
	s.root = int64(binary.LittleEndian.Uint64(hdr[16:]))
	s.count = binary.LittleEndian.Uint32(hdr[24:])
	return nil
}

func (s *session) writeHeader() error {
	hdr := make([]byte, headerSize)
	storage.PutMagic(hdr, indexMagic)
	binary.LittleEndian.PutUint32(hdr[8:], storage.FormatVersion)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(s.t.nodeSize))
	binary.LittleEndian.PutUint64(hdr[16:], uint64(s.root))
	binary.LittleEndian.PutUint32(hdr[24:], s.count)
	return s.idx.WriteBlock(0, hdr)
}

func (s *session) read(off int64) (*node, error) {
	b, err := s.idx.ReadBlock(off, s.t.nodeSize)
	if err != nil {
		return nil, err
	}
	kw := s.t.key.Width()
	return &node{
		off:    off,
		key:    s.t.key.Get(b),
		height: int32(binary.LittleEndian.Uint32(b[kw:])),
		left:   int64(binary.LittleEndian.Uint64(b[kw+4:])),
		right:  int64(binary.LittleEndian.Uint64(b[kw+12:])),
		value:  common.Offset(binary.LittleEndian.Uint64(b[kw+20:])),
	}, nil
}

func (s *session) encode(n *node) ([]byte, error) {
	b := make([]byte, s.t.nodeSize)
	if err := s.t.key.Put(b, n.key); err != nil {
		return nil, err
	}
	kw := s.t.key.Width()
	binary.LittleEndian.PutUint32(b[kw:], uint32(n.height))
	binary.LittleEndian.PutUint64(b[kw+4:], uint64(n.left))
	binary.LittleEndian.PutUint64(b[kw+12:], uint64(n.right))
	binary.LittleEndian.PutUint64(b[kw+20:], uint64(n.value))
	return b, nil
}

func (s *session) write(n *node) error {
	b, err := s.encode(n)
	if err != nil {
		return err
	}
	if n.off == 0 {
		n.off, err = s.idx.Append(b)
		return err
	}
	return s.idx.WriteBlock(n.off, b)
}

func (s *session) height(off int64) (int32, error) {
	if off == 0 {
		return 0, nil
	}
	n, err := s.read(off)
	if err != nil {
		return 0, err
	}
	return n.height, nil
}

func (s *session) fix(n *node) error {
	lh, err := s.height(n.left)
	if err != nil {
		return err
	}
	rh, err := s.height(n.right)
	if err != nil {
		return err
	}
	n.height = 1 + max(lh, rh)
	return nil
}

// Insert appends rec to the heap and indexes it under key. Equal keys go to
// the right subtree.
func (t *Tree) Insert(key common.Value, rec []byte) (off common.Offset, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return common.NilOffset, err
	}
	defer s.release(&err)

	if off, err = s.heap.Append(rec); err != nil {
		return common.NilOffset, err
	}
	if s.root, err = s.insert(s.root, key, off); err != nil {
		return common.NilOffset, err
	}
	s.count++
	return off, s.writeHeader()
}

func (s *session) insert(off int64, key common.Value, val common.Offset) (int64, error) {
	if off == 0 {
		n := &node{key: key, height: 1, value: val}
		if err := s.write(n); err != nil {
			return 0, err
		}
		return n.off, nil
	}
	n, err := s.read(off)
	if err != nil {
		return 0, err
	}
	if s.t.key.Compare(key, n.key) < 0 {
		n.left, err = s.insert(n.left, key, val)
	} else {
		n.right, err = s.insert(n.right, key, val)
	}
	if err != nil {
		return 0, err
	}
	return s.rebalance(n)
}

// rebalance restores the AVL condition at n, writes what changed and
// returns the offset of the subtree's new root.
func (s *session) rebalance(n *node) (int64, error) {
	lh, err := s.height(n.left)
	if err != nil {
		return 0, err
	}
	rh, err := s.height(n.right)
	if err != nil {
		return 0, err
	}
	n.height = 1 + max(lh, rh)

	switch bf := lh - rh; {
	case bf > 1:
		l, err := s.read(n.left)
		if err != nil {
			return 0, err
		}
		llh, err := s.height(l.left)
		if err != nil {
			return 0, err
		}
		lrh, err := s.height(l.right)
		if err != nil {
			return 0, err
		}
		if llh < lrh {
			if n.left, err = s.rotateLeft(l); err != nil {
				return 0, err
			}
		}
		return s.rotateRight(n)
	case bf < -1:
		r, err := s.read(n.right)
		if err != nil {
			return 0, err
		}
		rlh, err := s.height(r.left)
		if err != nil {
			return 0, err
		}
		rrh, err := s.height(r.right)
		if err != nil {
			return 0, err
		}
		if rrh < rlh {
			if n.right, err = s.rotateRight(r); err != nil {
				return 0, err
			}
		}
		return s.rotateLeft(n)
	}
	if err := s.write(n); err != nil {
		return 0, err
	}
	return n.off, nil
}

func (s *session) rotateRight(y *node) (int64, error) {
	x, err := s.read(y.left)
	if err != nil {
		return 0, err
	}
	y.left = x.right
	if err := s.fix(y); err != nil {
		return 0, err
	}
	if err := s.write(y); err != nil {
		return 0, err
	}
	x.right = y.off
	if err := s.fix(x); err != nil {
		return 0, err
	}
	return x.off, s.write(x)
}

func (s *session) rotateLeft(x *node) (int64, error) {
	y, err := s.read(x.right)
	if err != nil {
		return 0, err
	}
	x.right = y.left
	if err := s.fix(x); err != nil {
		return 0, err
	}
	if err := s.write(x); err != nil {
		return 0, err
	}
	y.left = x.off
	if err := s.fix(y); err != nil {
		return 0, err
	}
	return y.off, s.write(y)
}

// tombstones loads the deleted-slot set; a missing sidecar costs no I/O.
func (t *Tree) tombstones() (ts *storage.Tombstones, err error) {
	if !t.disk.Exists(t.tombPath) {
		return storage.NewTombstones(), nil
	}
	f, err := t.disk.Open(t.tombPath, false)
	if err != nil {
		return nil, err
	}
	defer storage.Release(&err, f)
	return storage.LoadTombstones(f)
}

// Search returns every live heap offset stored under key, in insertion order.
func (t *Tree) Search(key common.Value) (out []common.Entry, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)

	var offs []common.Offset
	if err := s.collect(s.root, key, &offs); err != nil {
		return nil, err
	}
	if len(offs) == 0 {
		return nil, nil
	}
	ts, err := t.tombstones()
	if err != nil {
		return nil, err
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	for _, o := range offs {
		if !ts.Contains(o) {
			out = append(out, common.Entry{Offset: o})
		}
	}
	return out, nil
}

func (s *session) collect(off int64, key common.Value, out *[]common.Offset) error {
	if off == 0 {
		return nil
	}
	n, err := s.read(off)
	if err != nil {
		return err
	}
	switch c := s.t.key.Compare(key, n.key); {
	case c < 0:
		return s.collect(n.left, key, out)
	case c > 0:
		return s.collect(n.right, key, out)
	}
	*out = append(*out, n.value)
	if err := s.collect(n.left, key, out); err != nil {
		return err
	}
	return s.collect(n.right, key, out)
}

// Range returns live offsets with low <= key <= high in key order. A nil
// bound is open.
func (t *Tree) Range(low, high common.Value) (out []common.Entry, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)

	var hits []hit
	if err := s.walk(s.root, low, high, &hits); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	ts, err := t.tombstones()
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if !ts.Contains(h.value) {
			out = append(out, common.Entry{Offset: h.value})
		}
	}
	return out, nil
}

type hit struct {
	key   common.Value
	value common.Offset
}

func (s *session) walk(off int64, low, high common.Value, out *[]hit) error {
	if off == 0 {
		return nil
	}
	n, err := s.read(off)
	if err != nil {
		return err
	}
	aboveLow := low == nil || s.t.key.Compare(low, n.key) <= 0
	belowHigh := high == nil || s.t.key.Compare(n.key, high) <= 0
	if aboveLow {
		if err := s.walk(n.left, low, high, out); err != nil {
			return err
		}
	}
	if aboveLow && belowHigh {
		*out = append(*out, hit{key: n.key, value: n.value})
	}
	if belowHigh {
		return s.walk(n.right, low, high, out)
	}
	return nil
}

// Remove tombstones the live records under key accepted by match (nil
// matches all). The tree and heap are left untouched until Compact.
func (t *Tree) Remove(key common.Value, match func(rec []byte) bool) (n int, err error) {
	entries, err := t.Search(key)
	if err != nil || len(entries) == 0 {
		return 0, err
	}
	dat, err := t.disk.Open(t.dataPath, false)
	if err != nil {
		return 0, err
	}
	tomb, err := t.disk.Open(t.tombPath, true)
	if err != nil {
		dat.Close()
		return 0, err
	}
	defer storage.Release(&err, dat, tomb)

	heap, err := storage.OpenHeap(dat, dataMagic, t.recordSize)
	if err != nil {
		return 0, err
	}
	ts, err := storage.LoadTombstones(tomb)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if match != nil {
			rec, err := heap.Read(e.Offset)
			if err != nil {
				return n, err
			}
			if !match(rec) {
				continue
			}
		}
		ts.Add(e.Offset)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, ts.Save(tomb)
}

// Fetch reads one heap record.
func (t *Tree) Fetch(off common.Offset) (rec []byte, err error) {
	dat, err := t.disk.Open(t.dataPath, false)
	if err != nil {
		return nil, err
	}
	defer storage.Release(&err, dat)
	heap, err := storage.OpenHeap(dat, dataMagic, t.recordSize)
	if err != nil {
		return nil, err
	}
	return heap.Read(off)
}

// Scan visits live entries in key order.
func (t *Tree) Scan(fn func(common.Entry) bool) error {
	entries, err := t.Range(nil, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !fn(e) {
			return nil
		}
	}
	return nil
}

// Drop deletes every file of the tree.
func (t *Tree) Drop() error {
	return t.disk.Remove(t.Paths()...)
}
