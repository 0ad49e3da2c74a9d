// Package rtree implements an R-Tree over 2D or 3D points. Leaf entries are
// degenerate boxes pointing at heap slots; internal entries hold the minimal
// bounding box of the child node they point at.
package rtree

import (
	"encoding/binary"
	"fmt"
	"math"

	"indexlab/pkg/common"
	"indexlab/pkg/storage"
)

const (
	dataMagic  = "RTRDAT01"
	indexMagic = "RTRIDX01"

	// magic | version | dims | max entries | min entries | root i64 | count u64 | height u32
	headerSize = 44
)

type Options struct {
	MaxEntries int
	MinEntries int
}

// Tree is an R-Tree index over one ARRAY[FLOAT] column.
type Tree struct {
	disk       *storage.Disk
	dims       int
	recordSize int
	maxEntries int
	minEntries int

	dataPath  string
	indexPath string
}

// New describes the tree stored at base+".dat" and base+".idx".
func New(disk *storage.Disk, base string, dims, recordSize int, opts Options) *Tree {
	if opts.MaxEntries < 3 {
		opts.MaxEntries = 8
	}
	if opts.MinEntries <= 0 {
		opts.MinEntries = max(2, opts.MaxEntries*2/5)
	}
	opts.MinEntries = min(opts.MinEntries, opts.MaxEntries/2)
	return &Tree{
		disk:       disk,
		dims:       dims,
		recordSize: recordSize,
		maxEntries: opts.MaxEntries,
		minEntries: opts.MinEntries,
		dataPath:   base + ".dat",
		indexPath:  base + ".idx",
	}
}

func (t *Tree) Kind() common.Kind { return common.KindRTree }

func (t *Tree) Paths() []string { return []string{t.dataPath, t.indexPath} }

func (t *Tree) Dims() int { return t.dims }

func (t *Tree) entrySize() int { return 16*t.dims + 8 }

func (t *Tree) nodeSize() int { return 3 + t.maxEntries*t.entrySize() }

// Create lays out an empty tree (one empty leaf as root), or validates
// existing files.
func (t *Tree) Create() (err error) {
	s, err := t.acquire(true)
	if err != nil {
		return err
	}
	defer s.release(&err)
	return nil
}

type entry struct {
	box common.Rect
	ref int64 // heap slot in a leaf, child node offset otherwise
}

type node struct {
	off     int64
	leaf    bool
	entries []entry
}

func (n *node) mbr() common.Rect {
	box := n.entries[0].box.Clone()
	for _, e := range n.entries[1:] {
		box = box.Union(e.box)
	}
	return box
}

type session struct {
	t      *Tree
	dat    *storage.BlockFile
	idx    *storage.BlockFile
	heap   *storage.Heap
	root   int64
	count  uint64
	height uint32
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
		s.height = 1
		root := &node{off: headerSize, leaf: true}
		if err := s.write(root); err != nil {
			return err
		}
		s.root = root.off
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
	d, mx, mn := binary.LittleEndian.Uint32(hdr[12:]), binary.LittleEndian.Uint32(hdr[16:]), binary.LittleEndian.Uint32(hdr[20:])
	if int(d) != s.t.dims || int(mx) != s.t.maxEntries || int(mn) != s.t.minEntries {
		return fmt.Errorf("%w: %s: dims %d entries %d..%d", common.ErrCorruptHeader, s.idx.Path(), d, mn, mx)
	}
	s.root = int64(binary.LittleEndian.Uint64(hdr[24:]))
	s.count = binary.LittleEndian.Uint64(hdr[32:])
	s.height = binary.LittleEndian.Uint32(hdr[40:])
	return nil
}

func (s *session) writeHeader() error {
	hdr := make([]byte, headerSize)
	storage.PutMagic(hdr, indexMagic)
	binary.LittleEndian.PutUint32(hdr[8:], storage.FormatVersion)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(s.t.dims))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(s.t.maxEntries))
	binary.LittleEndian.PutUint32(hdr[20:], uint32(s.t.minEntries))
	binary.LittleEndian.PutUint64(hdr[24:], uint64(s.root))
	binary.LittleEndian.PutUint64(hdr[32:], s.count)
	binary.LittleEndian.PutUint32(hdr[40:], s.height)
	return s.idx.WriteBlock(0, hdr)
}

func (s *session) read(off int64) (*node, error) {
	b, err := s.idx.ReadBlock(off, s.t.nodeSize())
	if err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(b[1:]))
	if n > s.t.maxEntries {
		return nil, fmt.Errorf("%w: %s: node at %d holds %d entries", common.ErrCorruptHeader, s.idx.Path(), off, n)
	}
	nd := &node{off: off, leaf: b[0] == 1, entries: make([]entry, n)}
	d := s.t.dims
	for i := range nd.entries {
		at := 3 + i*s.t.entrySize()
		box := common.Rect{Min: make([]float64, d), Max: make([]float64, d)}
		for j := 0; j < d; j++ {
			box.Min[j] = math.Float64frombits(binary.LittleEndian.Uint64(b[at+j*8:]))
			box.Max[j] = math.Float64frombits(binary.LittleEndian.Uint64(b[at+(d+j)*8:]))
		}
		nd.entries[i] = entry{box: box, ref: int64(binary.LittleEndian.Uint64(b[at+16*d:]))}
	}
	return nd, nil
}

// write stores n in place, or appends it when n.off is 0.
func (s *session) write(n *node) error {
	b := make([]byte, s.t.nodeSize())
	if n.leaf {
		b[0] = 1
	}
	binary.LittleEndian.PutUint16(b[1:], uint16(len(n.entries)))
	d := s.t.dims
	for i, e := range n.entries {
		at := 3 + i*s.t.entrySize()
		for j := 0; j < d; j++ {
			binary.LittleEndian.PutUint64(b[at+j*8:], math.Float64bits(e.box.Min[j]))
			binary.LittleEndian.PutUint64(b[at+(d+j)*8:], math.Float64bits(e.box.Max[j]))
		}
		binary.LittleEndian.PutUint64(b[at+16*d:], uint64(e.ref))
	}
	if n.off == 0 {
		off, err := s.idx.Append(b)
		n.off = off
		return err
	}
	return s.idx.WriteBlock(n.off, b)
}

// Fetch reads one record from the heap.
func (t *Tree) Fetch(off common.Offset) (rec []byte, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)
	return s.heap.Read(off)
}

// Range has no meaning for a multidimensional key.
func (t *Tree) Range(low, high common.Value) ([]common.Entry, error) {
	return nil, fmt.Errorf("%w: one-dimensional range on an R-Tree, use a spatial range", common.ErrUnsupportedOperation)
}

// Stats describes the tree.
type Stats struct {
	Count  int
	Height int
}

func (t *Tree) Stats() (st Stats, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return Stats{}, err
	}
	defer s.release(&err)
	return Stats{Count: int(s.count), Height: int(s.height)}, nil
}

// Drop deletes the files.
func (t *Tree) Drop() error {
	return t.disk.Remove(t.Paths()...)
}

func (t *Tree) point(v common.Value) (common.Point, error) {
	p, err := common.ToPoint(v)
	if err != nil {
		return nil, err
	}
	return p, common.CheckPoint(p, t.dims)
}
