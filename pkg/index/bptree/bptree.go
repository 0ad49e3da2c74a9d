// Package bptree implements a clustered B+Tree: records live physically
// sorted in a data file and a bulk-loaded node file indexes them. Every
// mutation rewrites both files.
package bptree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"indexlab/pkg/common"
	"indexlab/pkg/core/memory"
	"indexlab/pkg/storage"
	"indexlab/pkg/storage/sstable"
)

const (
	indexMagic = "BPTIDX01"

	// magic | version u32 | fanout u32 | node size u32 | root i64 | leaves u32 | height u32
	indexHeaderSize = 36

	kindLeaf     = 1
	kindInternal = 2

	minFanout = 3
)

type Options struct {
	Fanout int
}

// Tree is a clustered B+Tree file over one column.
type Tree struct {
	disk       *storage.Disk
	key        common.KeyCodec
	recordSize int
	fanout     int

	dataPath  string
	indexPath string
}

func New(disk *storage.Disk, base string, key common.KeyCodec, recordSize int, opts Options) *Tree {
	if opts.Fanout <= 0 {
		opts.Fanout = 16
	}
	opts.Fanout = max(opts.Fanout, minFanout)
	return &Tree{
		disk:       disk,
		key:        key,
		recordSize: recordSize,
		fanout:     opts.Fanout,
		dataPath:   base + ".bpt.dat",
		indexPath:  base + ".bpt.idx",
	}
}

func (t *Tree) Kind() common.Kind { return common.KindBPTree }

func (t *Tree) Paths() []string { return []string{t.dataPath, t.indexPath} }

func (t *Tree) nodeSize() int {
	kw := t.key.Width()
	leaf := t.fanout*kw + 16
	internal := (t.fanout-1)*kw + t.fanout*8
	return 3 + max(leaf, internal)
}

// Create lays out an empty tree unless the files already exist.
func (t *Tree) Create() error {
	if t.disk.Exists(t.dataPath) && t.disk.Exists(t.indexPath) {
		s, err := t.acquire()
		if err != nil {
			return err
		}
		var rerr error
		s.release(&rerr)
		return rerr
	}
	return t.Build(nil)
}

type node struct {
	leaf bool
	keys []common.Value // leaf keys, or separators
	// leaf
	first common.Offset
	next  int64
	// internal
	children []int64
}

type session struct {
	t      *Tree
	dat    *storage.BlockFile
	idx    *storage.BlockFile
	table  *sstable.Table
	root   int64
	leaves int
	height int
}

func (t *Tree) acquire() (*session, error) {
	s := &session{t: t}
	var err error
	if s.dat, err = t.disk.Open(t.dataPath, false); err != nil {
		return nil, err
	}
	if s.idx, err = t.disk.Open(t.indexPath, false); err != nil {
		s.dat.Close()
		return nil, err
	}
	if err = s.readHeaders(); err != nil {
		s.release(&err)
		return nil, err
	}
	return s, nil
}

func (s *session) release(errp *error) {
	storage.Release(errp, s.dat, s.idx)
}

func (s *session) readHeaders() error {
	hdr, err := s.idx.ReadBlock(0, indexHeaderSize)
	if err != nil {
		return err
	}
	if err := storage.CheckMagic(hdr, indexMagic, s.idx.Path()); err != nil {
		return err
	}
	if v := binary.LittleEndian.Uint32(hdr[8:]); v != storage.FormatVersion {
		return fmt.Errorf("%w: %s: version %d", common.ErrCorruptHeader, s.idx.Path(), v)
	}
	fo, ns := int(binary.LittleEndian.Uint32(hdr[12:])), int(binary.LittleEndian.Uint32(hdr[16:]))
	if fo != s.t.fanout || ns != s.t.nodeSize() {
		return fmt.Errorf("%w: %s: fanout %d node size %d", common.ErrCorruptHeader, s.idx.Path(), fo, ns)
	}
	s.root = int64(binary.LittleEndian.Uint64(hdr[20:]))
	s.leaves = int(binary.LittleEndian.Uint32(hdr[28:]))
	s.height = int(binary.LittleEndian.Uint32(hdr[32:]))
	s.table, err = sstable.Open(s.dat, s.t.recordSize)
	return err
}

func (s *session) read(off int64) (*node, error) {
	b, err := s.idx.ReadBlock(off, s.t.nodeSize())
	if err != nil {
		return nil, err
	}
	return s.t.decode(b)
}

func (t *Tree) decode(b []byte) (*node, error) {
	kw := t.key.Width()
	n := int(binary.LittleEndian.Uint16(b[1:]))
	switch b[0] {
	case kindLeaf:
		if n > t.fanout {
			return nil, fmt.Errorf("%w: %s: leaf holds %d keys", common.ErrCorruptHeader, t.indexPath, n)
		}
		nd := &node{leaf: true, keys: make([]common.Value, n)}
		for i := range nd.keys {
			nd.keys[i] = t.key.Get(b[3+i*kw:])
		}
		at := 3 + t.fanout*kw
		nd.first = common.Offset(binary.LittleEndian.Uint64(b[at:]))
		nd.next = int64(binary.LittleEndian.Uint64(b[at+8:]))
		return nd, nil
	case kindInternal:
		if n < 1 || n > t.fanout {
			return nil, fmt.Errorf("%w: %s: internal node holds %d children", common.ErrCorruptHeader, t.indexPath, n)
		}
		nd := &node{keys: make([]common.Value, n-1), children: make([]int64, n)}
		for i := range nd.keys {
			nd.keys[i] = t.key.Get(b[3+i*kw:])
		}
		at := 3 + (t.fanout-1)*kw
		for i := range nd.children {
			nd.children[i] = int64(binary.LittleEndian.Uint64(b[at+i*8:]))
		}
		return nd, nil
	}
	return nil, fmt.Errorf("%w: %s: node kind %d", common.ErrCorruptHeader, t.indexPath, b[0])
}

func (t *Tree) encode(nd *node) ([]byte, error) {
	kw := t.key.Width()
	b := make([]byte, t.nodeSize())
	if nd.leaf {
		b[0] = kindLeaf
		binary.LittleEndian.PutUint16(b[1:], uint16(len(nd.keys)))
		for i, k := range nd.keys {
			if err := t.key.Put(b[3+i*kw:], k); err != nil {
				return nil, err
			}
		}
		at := 3 + t.fanout*kw
		binary.LittleEndian.PutUint64(b[at:], uint64(nd.first))
		binary.LittleEndian.PutUint64(b[at+8:], uint64(nd.next))
		return b, nil
	}
	b[0] = kindInternal
	binary.LittleEndian.PutUint16(b[1:], uint16(len(nd.children)))
	for i, k := range nd.keys {
		if err := t.key.Put(b[3+i*kw:], k); err != nil {
			return nil, err
		}
	}
	at := 3 + (t.fanout-1)*kw
	for i, c := range nd.children {
		binary.LittleEndian.PutUint64(b[at+i*8:], uint64(c))
	}
	return b, nil
}

// descend follows separators to the leftmost leaf that can hold key. A nil
// key leads to the first leaf.
func (s *session) descend(key common.Value) (*node, error) {
	off := s.root
	for {
		nd, err := s.read(off)
		if err != nil {
			return nil, err
		}
		if nd.leaf {
			return nd, nil
		}
		i := 0
		if key != nil {
			i = sort.Search(len(nd.keys), func(i int) bool { return s.t.key.Compare(nd.keys[i], key) >= 0 })
		}
		off = nd.children[i]
	}
}

// walk visits records with low <= key <= high in clustered order, reading
// each leaf's qualifying run with one read. fn returns false to stop.
func (s *session) walk(low, high common.Value, fn func(key common.Value, e common.Entry) bool) error {
	leaf, err := s.descend(low)
	if err != nil {
		return err
	}
	cmp := s.t.key.Compare
	for {
		n := len(leaf.keys)
		lo, hi := 0, n
		if low != nil {
			lo = sort.Search(n, func(i int) bool { return cmp(leaf.keys[i], low) >= 0 })
		}
		if high != nil {
			hi = sort.Search(n, func(i int) bool { return cmp(leaf.keys[i], high) > 0 })
		}
		if lo < hi {
			recs, err := s.table.ReadRun(leaf.first+common.Offset(lo), hi-lo)
			if err != nil {
				return err
			}
			for i, rec := range recs {
				if !fn(leaf.keys[lo+i], common.Entry{Offset: leaf.first + common.Offset(lo+i), Data: rec}) {
					return nil
				}
			}
		}
		if hi < n || leaf.next == 0 {
			return nil
		}
		if leaf, err = s.read(leaf.next); err != nil {
			return err
		}
	}
}

// Search returns every record whose key equals key.
func (t *Tree) Search(key common.Value) (out []common.Entry, err error) {
	s, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release(&err)
	err = s.walk(key, key, func(_ common.Value, e common.Entry) bool {
		out = append(out, e)
		return true
	})
	return out, err
}

// Range returns records with low <= key <= high in key order. Nil bounds are open.
func (t *Tree) Range(low, high common.Value) (out []common.Entry, err error) {
	s, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release(&err)
	err = s.walk(low, high, func(_ common.Value, e common.Entry) bool {
		out = append(out, e)
		return true
	})
	return out, err
}

// Scan visits every record in key order.
func (t *Tree) Scan(fn func(common.Entry) bool) (err error) {
	s, err := t.acquire()
	if err != nil {
		return err
	}
	defer s.release(&err)
	return s.walk(nil, nil, func(_ common.Value, e common.Entry) bool { return fn(e) })
}

// Fetch reads one record by its clustered slot.
func (t *Tree) Fetch(off common.Offset) (rec []byte, err error) {
	dat, err := t.disk.Open(t.dataPath, false)
	if err != nil {
		return nil, err
	}
	defer storage.Release(&err, dat)
	table, err := sstable.Open(dat, t.recordSize)
	if err != nil {
		return nil, err
	}
	return table.Get(off)
}

// Stats describes the current shape of the tree.
type Stats struct {
	Records int64
	Leaves  int
	Height  int
}

func (t *Tree) Stats() (st Stats, err error) {
	s, err := t.acquire()
	if err != nil {
		return Stats{}, err
	}
	defer s.release(&err)
	return Stats{Records: s.table.Count(), Leaves: s.leaves, Height: s.height}, nil
}

// Drop deletes the files.
func (t *Tree) Drop() error {
	return t.disk.Remove(t.Paths()...)
}

func (t *Tree) sortBuffer() *memory.SortBuffer {
	return memory.NewSortBuffer(32, t.key.Compare)
}
