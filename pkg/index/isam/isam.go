// Package isam implements a static indexed-sequential file: a sorted base
// area of fixed-size pages with per-page overflow chains, addressed through
// a two-level index built once at load time.
package isam

import (
	"encoding/binary"
	"fmt"
	"sort"

	"indexlab/pkg/common"
	"indexlab/pkg/core/memory"
	"indexlab/pkg/storage"
)

const (
	dataMagic  = "ISAMDAT1"
	indexMagic = "ISAMIDX1"

	// magic | version | record size | block factor | base pages | pages | reserved
	dataHeaderSize = 32
	// magic | version | fanout | level-1 nodes | root bytes
	indexHeaderSize = 24

	noPage = -1
)

// KeyFunc extracts the indexed key from an encoded record.
type KeyFunc func(rec []byte) (common.Value, error)

// Options sizes the structure.
type Options struct {
	BlockFactor int // records per page
	Fanout      int // separator keys per level-1 node
}

// File is an ISAM index over one column.
type File struct {
	disk        *storage.Disk
	key         common.KeyCodec
	keyOf       KeyFunc
	recordSize  int
	blockFactor int
	fanout      int

	dataPath  string
	indexPath string
}

func New(disk *storage.Disk, base string, key common.KeyCodec, recordSize int, keyOf KeyFunc, opts Options) *File {
	if opts.BlockFactor <= 0 {
		opts.BlockFactor = 8
	}
	if opts.Fanout <= 0 {
		opts.Fanout = 16
	}
	return &File{
		disk:        disk,
		key:         key,
		keyOf:       keyOf,
		recordSize:  recordSize,
		blockFactor: opts.BlockFactor,
		fanout:      opts.Fanout,
		dataPath:    base + ".isam.dat",
		indexPath:   base + ".isam.idx",
	}
}

func (f *File) Kind() common.Kind { return common.KindISAM }

func (f *File) Paths() []string { return []string{f.dataPath, f.indexPath} }

func (f *File) slotSize() int { return 1 + f.recordSize }

func (f *File) pageSize() int { return 8 + f.blockFactor*f.slotSize() }

func (f *File) nodeSize() int {
	return 4 + f.fanout*f.key.Width() + (f.fanout+1)*4
}

// Create lays out an empty structure (one empty base page) unless the files
// already exist.
func (f *File) Create() error {
	if f.disk.Exists(f.dataPath) && f.disk.Exists(f.indexPath) {
		s, err := f.acquire()
		if err != nil {
			return err
		}
		var rerr error
		s.release(&rerr)
		return rerr
	}
	return f.Build(nil)
}

type slot struct {
	deleted bool
	rec     []byte
}

type page struct {
	no    int
	next  int32
	slots []slot
}

type node struct {
	keys []common.Value
	ptrs []int32
}

type session struct {
	f         *File
	dat       *storage.BlockFile
	idx       *storage.BlockFile
	basePages int
	pages     int
	level1    int
	rootBytes int
}

func (f *File) acquire() (*session, error) {
	s := &session{f: f}
	var err error
	if s.dat, err = f.disk.Open(f.dataPath, false); err != nil {
		return nil, err
	}
	if s.idx, err = f.disk.Open(f.indexPath, false); err != nil {
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
	hdr, err := s.dat.ReadBlock(0, dataHeaderSize)
	if err != nil {
		return err
	}
	if err := storage.CheckMagic(hdr, dataMagic, s.dat.Path()); err != nil {
		return err
	}
	if v := binary.LittleEndian.Uint32(hdr[8:]); v != storage.FormatVersion {
		return fmt.Errorf("%w: %s: version %d", common.ErrCorruptHeader, s.dat.Path(), v)
	}
	if rs, bf := int(binary.LittleEndian.Uint32(hdr[12:])), int(binary.LittleEndian.Uint32(hdr[16:])); rs != s.f.recordSize || bf != s.f.blockFactor {
		return fmt.Errorf("%w: %s: record size %d block factor %d", common.ErrCorruptHeader, s.dat.Path(), rs, bf)
	}
	s.basePages = int(binary.LittleEndian.Uint32(hdr[20:]))
	s.pages = int(binary.LittleEndian.Uint32(hdr[24:]))

	ih, err := s.idx.ReadBlock(0, indexHeaderSize)
	if err != nil {
		return err
	}
	if err := storage.CheckMagic(ih, indexMagic, s.idx.Path()); err != nil {
		return err
	}
	if fo := int(binary.LittleEndian.Uint32(ih[12:])); fo != s.f.fanout {
		return fmt.Errorf("%w: %s: fanout %d, want %d", common.ErrCorruptHeader, s.idx.Path(), fo, s.f.fanout)
	}
	s.level1 = int(binary.LittleEndian.Uint32(ih[16:]))
	s.rootBytes = int(binary.LittleEndian.Uint32(ih[20:]))
	return nil
}

func (s *session) writeDataHeader() error {
	hdr := make([]byte, dataHeaderSize)
	storage.PutMagic(hdr, dataMagic)
	binary.LittleEndian.PutUint32(hdr[8:], storage.FormatVersion)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(s.f.recordSize))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(s.f.blockFactor))
	binary.LittleEndian.PutUint32(hdr[20:], uint32(s.basePages))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(s.pages))
	return s.dat.WriteBlock(0, hdr)
}

func (s *session) pageOffset(no int) int64 {
	return dataHeaderSize + int64(no)*int64(s.f.pageSize())
}

func (s *session) readPage(no int) (*page, error) {
	b, err := s.dat.ReadBlock(s.pageOffset(no), s.f.pageSize())
	if err != nil {
		return nil, err
	}
	n := int(int32(binary.LittleEndian.Uint32(b)))
	if n < 0 || n > s.f.blockFactor {
		return nil, fmt.Errorf("%w: %s: page %d holds %d slots", common.ErrCorruptHeader, s.dat.Path(), no, n)
	}
	p := &page{no: no, next: int32(binary.LittleEndian.Uint32(b[4:])), slots: make([]slot, n)}
	for i := range p.slots {
		at := 8 + i*s.f.slotSize()
		p.slots[i] = slot{deleted: b[at] != 0, rec: b[at+1 : at+s.f.slotSize()]}
	}
	return p, nil
}

func (s *session) writePage(p *page) error {
	b := make([]byte, s.f.pageSize())
	binary.LittleEndian.PutUint32(b, uint32(len(p.slots)))
	binary.LittleEndian.PutUint32(b[4:], uint32(p.next))
	for i, sl := range p.slots {
		at := 8 + i*s.f.slotSize()
		if sl.deleted {
			b[at] = 1
		}
		copy(b[at+1:], sl.rec)
	}
	return s.dat.WriteBlock(s.pageOffset(p.no), b)
}

// decodeNode reads size keys and size+1 pointers; capacity is the number of
// key slots laid out before the pointer array.
func (s *session) decodeNode(b []byte, size, capacity int) node {
	kw := s.f.key.Width()
	n := node{keys: make([]common.Value, size), ptrs: make([]int32, size+1)}
	for i := 0; i < size; i++ {
		n.keys[i] = s.f.key.Get(b[4+i*kw:])
	}
	base := 4 + capacity*kw
	for i := 0; i <= size; i++ {
		n.ptrs[i] = int32(binary.LittleEndian.Uint32(b[base+i*4:]))
	}
	return n
}

func (s *session) readRoot() (node, error) {
	b, err := s.idx.ReadBlock(indexHeaderSize, s.rootBytes)
	if err != nil {
		return node{}, err
	}
	size := int(binary.LittleEndian.Uint32(b))
	return s.decodeNode(b, size, size), nil
}

func (s *session) readLevel1(i int) (node, error) {
	off := int64(indexHeaderSize+s.rootBytes) + int64(i)*int64(s.f.nodeSize())
	b, err := s.idx.ReadBlock(off, s.f.nodeSize())
	if err != nil {
		return node{}, err
	}
	return s.decodeNode(b, int(binary.LittleEndian.Uint32(b)), s.f.fanout), nil
}

// child picks the leftmost pointer whose subtree can hold key.
func (s *session) child(n node, key common.Value) int {
	if key == nil {
		return 0
	}
	return sort.Search(len(n.keys), func(i int) bool {
		return s.f.key.Compare(n.keys[i], key) >= 0
	})
}

// locate walks root and level-1 node to the base page for key. It also
// returns the separator right after that page (the next page's first key),
// nil for the last page.
func (s *session) locate(key common.Value) (int, common.Value, error) {
	root, err := s.readRoot()
	if err != nil {
		return 0, nil, err
	}
	rc := s.child(root, key)
	l1, err := s.readLevel1(int(root.ptrs[rc]))
	if err != nil {
		return 0, nil, err
	}
	c := s.child(l1, key)
	var next common.Value
	switch {
	case c < len(l1.keys):
		next = l1.keys[c]
	case rc < len(root.keys):
		next = root.keys[rc]
	}
	return int(l1.ptrs[c]), next, nil
}

// chain visits a base page and its overflow pages. fn may modify the page
// and return dirty to have it written back.
func (s *session) chain(base *page, fn func(p *page) (dirty bool, err error)) error {
	p := base
	for {
		dirty, err := fn(p)
		if err != nil {
			return err
		}
		if dirty {
			if err := s.writePage(p); err != nil {
				return err
			}
		}
		if p.next == noPage {
			return nil
		}
		if p, err = s.readPage(int(p.next)); err != nil {
			return err
		}
	}
}

func (f *File) slotOffset(p *page, i int) common.Offset {
	return common.Offset(p.no*f.blockFactor + i)
}

// firstKey is the smallest key of a base page, nil when it is empty.
func (s *session) firstKey(p *page) (common.Value, error) {
	if len(p.slots) == 0 {
		return nil, nil
	}
	return s.f.keyOf(p.slots[0].rec)
}

// matching runs fn over every chain that can hold key: the located base
// page and, when a run of equal keys crosses a page boundary, the base
// pages after it.
func (s *session) matching(key common.Value, fn func(p *page) (bool, error)) error {
	no, next, err := s.locate(key)
	if err != nil {
		return err
	}
	for {
		p, err := s.readPage(no)
		if err != nil {
			return err
		}
		if err := s.chain(p, fn); err != nil {
			return err
		}
		if next == nil || s.f.key.Compare(next, key) > 0 || no+1 >= s.basePages {
			return nil
		}
		no++
		if next, err = s.peekFirstKey(no + 1); err != nil {
			return err
		}
	}
}

// peekFirstKey reads only the head of base page no; nil past the base area
// or for an empty page.
func (s *session) peekFirstKey(no int) (common.Value, error) {
	if no >= s.basePages {
		return nil, nil
	}
	b, err := s.dat.ReadBlock(s.pageOffset(no), 8+s.f.slotSize())
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(b) == 0 {
		return nil, nil
	}
	return s.f.keyOf(b[9 : 8+s.f.slotSize()])
}

// Search returns the live records under key.
func (f *File) Search(key common.Value) (out []common.Entry, err error) {
	s, err := f.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release(&err)

	err = s.matching(key, func(p *page) (bool, error) {
		for i, sl := range p.slots {
			if sl.deleted {
				continue
			}
			k, err := f.keyOf(sl.rec)
			if err != nil {
				return false, err
			}
			if f.key.Compare(k, key) == 0 {
				out = append(out, common.Entry{Offset: f.slotOffset(p, i), Data: sl.rec})
			}
		}
		return false, nil
	})
	return out, err
}

// Insert appends rec to the overflow chain of its base page. The base area
// and the index levels are never touched.
func (f *File) Insert(key common.Value, rec []byte) (off common.Offset, err error) {
	if len(rec) != f.recordSize {
		return common.NilOffset, fmt.Errorf("%w: record is %d bytes, file holds %d", common.ErrInvalidPlan, len(rec), f.recordSize)
	}
	s, err := f.acquire()
	if err != nil {
		return common.NilOffset, err
	}
	defer s.release(&err)

	no, _, err := s.locate(key)
	if err != nil {
		return common.NilOffset, err
	}
	base, err := s.readPage(no)
	if err != nil {
		return common.NilOffset, err
	}
	tail := base
	for tail.next != noPage {
		if tail, err = s.readPage(int(tail.next)); err != nil {
			return common.NilOffset, err
		}
		if len(tail.slots) < f.blockFactor {
			tail.slots = append(tail.slots, slot{rec: rec})
			return f.slotOffset(tail, len(tail.slots)-1), s.writePage(tail)
		}
	}

	ovf := &page{no: s.pages, next: noPage, slots: []slot{{rec: rec}}}
	if err := s.writePage(ovf); err != nil {
		return common.NilOffset, err
	}
	tail.next = int32(ovf.no)
	if err := s.writePage(tail); err != nil {
		return common.NilOffset, err
	}
	s.pages++
	return f.slotOffset(ovf, 0), s.writeDataHeader()
}

// Range returns live records with low <= key <= high, ascending. Nil bounds are open.
func (f *File) Range(low, high common.Value) (out []common.Entry, err error) {
	s, err := f.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release(&err)

	start, _, err := s.locate(low)
	if err != nil {
		return nil, err
	}
	type keyed struct {
		key common.Value
		e   common.Entry
	}
	var hits []keyed
	for no := start; no < s.basePages; no++ {
		p, err := s.readPage(no)
		if err != nil {
			return nil, err
		}
		if no > start && high != nil {
			if k, err := s.firstKey(p); err != nil {
				return nil, err
			} else if k != nil && f.key.Compare(k, high) > 0 {
				break
			}
		}
		err = s.chain(p, func(p *page) (bool, error) {
			for i, sl := range p.slots {
				if sl.deleted {
					continue
				}
				k, err := f.keyOf(sl.rec)
				if err != nil {
					return false, err
				}
				if (low == nil || f.key.Compare(k, low) >= 0) && (high == nil || f.key.Compare(k, high) <= 0) {
					hits = append(hits, keyed{key: k, e: common.Entry{Offset: f.slotOffset(p, i), Data: sl.rec}})
				}
			}
			return false, nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return f.key.Compare(hits[i].key, hits[j].key) < 0 })
	out = make([]common.Entry, len(hits))
	for i, h := range hits {
		out[i] = h.e
	}
	return out, nil
}

// Remove tombstones live records under key accepted by match (nil matches all).
// Space is reclaimed only by Reorganize.
func (f *File) Remove(key common.Value, match func(rec []byte) bool) (n int, err error) {
	s, err := f.acquire()
	if err != nil {
		return 0, err
	}
	defer s.release(&err)

	err = s.matching(key, func(p *page) (bool, error) {
		dirty := false
		for i := range p.slots {
			sl := &p.slots[i]
			if sl.deleted {
				continue
			}
			k, err := f.keyOf(sl.rec)
			if err != nil {
				return false, err
			}
			if f.key.Compare(k, key) == 0 && (match == nil || match(sl.rec)) {
				sl.deleted = true
				dirty = true
				n++
			}
		}
		return dirty, nil
	})
	return n, err
}

// Fetch reads one slot.
func (f *File) Fetch(off common.Offset) (rec []byte, err error) {
	dat, err := f.disk.Open(f.dataPath, false)
	if err != nil {
		return nil, err
	}
	defer storage.Release(&err, dat)
	no, i := int(off)/f.blockFactor, int(off)%f.blockFactor
	at := dataHeaderSize + int64(no)*int64(f.pageSize()) + 8 + int64(i)*int64(f.slotSize())
	b, err := dat.ReadBlock(at, f.slotSize())
	if err != nil {
		return nil, err
	}
	return b[1:], nil
}

// Scan visits every live record, base page by base page with each page's
// overflow chain right after it.
func (f *File) Scan(fn func(common.Entry) bool) (err error) {
	s, err := f.acquire()
	if err != nil {
		return err
	}
	defer s.release(&err)

	stop := false
	for no := 0; no < s.basePages && !stop; no++ {
		p, err := s.readPage(no)
		if err != nil {
			return err
		}
		err = s.chain(p, func(p *page) (bool, error) {
			for i, sl := range p.slots {
				if stop {
					break
				}
				if !sl.deleted && !fn(common.Entry{Offset: f.slotOffset(p, i), Data: sl.rec}) {
					stop = true
				}
			}
			return false, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Stats describes the current shape of the file.
type Stats struct {
	BasePages     int
	OverflowPages int
	Level1Nodes   int
}

func (f *File) Stats() (st Stats, err error) {
	s, err := f.acquire()
	if err != nil {
		return Stats{}, err
	}
	defer s.release(&err)
	return Stats{BasePages: s.basePages, OverflowPages: s.pages - s.basePages, Level1Nodes: s.level1}, nil
}

// Drop deletes the files.
func (f *File) Drop() error {
	return f.disk.Remove(f.Paths()...)
}

func (f *File) sortBuffer() *memory.SortBuffer {
	return memory.NewSortBuffer(32, f.key.Compare)
}
