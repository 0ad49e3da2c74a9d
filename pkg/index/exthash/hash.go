// Package exthash implements extendible hashing over a record heap: a
// directory of 2^globalDepth bucket offsets and fixed-size buckets. A full
// bucket chains up to max chain overflow buckets, then splits; keys that no
// split can separate keep chaining.
package exthash

import (
	"encoding/binary"
	"fmt"

	"indexlab/pkg/common"
	"indexlab/pkg/storage"
)

const (
	dataMagic  = "HSHDAT01"
	indexMagic = "HSHIDX01"

	// magic | version | global depth | capacity | max chain | key width |
	// directory offset i64 | buckets | doublings | max depth | reserved
	headerSize = 48

	// local depth u32 | count u32 | overflow i64
	bucketHeaderSize = 16
)

type Options struct {
	BucketCapacity int
	MaxChain       int
	InitialDepth   int
	MaxDepth       int
	// Unique rejects a second record under an existing key.
	Unique bool
}

func (o Options) withDefaults() Options {
	if o.BucketCapacity <= 0 {
		o.BucketCapacity = 4
	}
	if o.MaxChain < 0 {
		o.MaxChain = 0
	}
	if o.InitialDepth <= 0 {
		o.InitialDepth = 1
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 20
	}
	o.MaxDepth = max(o.MaxDepth, o.InitialDepth)
	return o
}

// Index is an extendible hash index over one column.
type Index struct {
	disk       *storage.Disk
	key        common.KeyCodec
	recordSize int
	opts       Options

	dataPath  string
	indexPath string
}

func New(disk *storage.Disk, base string, key common.KeyCodec, recordSize int, opts Options) *Index {
	return &Index{
		disk:       disk,
		key:        key,
		recordSize: recordSize,
		opts:       opts.withDefaults(),
		dataPath:   base + ".hash.dat",
		indexPath:  base + ".hash.idx",
	}
}

func (x *Index) Kind() common.Kind { return common.KindHash }

func (x *Index) Paths() []string { return []string{x.dataPath, x.indexPath} }

// Create lays out 2^InitialDepth empty buckets and their directory, or
// validates existing files.
func (x *Index) Create() (err error) {
	s, err := x.acquire(true)
	if err != nil {
		return err
	}
	defer s.release(&err)
	return nil
}

type bucket struct {
	off      int64
	depth    uint32
	overflow int64
	keys     []common.Value
	vals     []common.Offset
}

type session struct {
	x    *Index
	dat  *storage.BlockFile
	idx  *storage.BlockFile
	heap *storage.Heap

	globalDepth uint32
	capacity    int
	maxChain    int
	dirOff      int64
	buckets     uint32
	doublings   uint32
	maxDepth    uint32
}

func (x *Index) acquire(create bool) (*session, error) {
	s := &session{x: x}
	var err error
	if s.dat, err = x.disk.Open(x.dataPath, create); err != nil {
		return nil, err
	}
	if s.idx, err = x.disk.Open(x.indexPath, create); err != nil {
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
	if s.heap, err = storage.OpenHeap(s.dat, dataMagic, s.x.recordSize); err != nil {
		return err
	}
	size, err := s.idx.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		return s.layout()
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
	if kw := int(binary.LittleEndian.Uint32(hdr[24:])); kw != s.x.key.Width() {
		return fmt.Errorf("%w: %s: key width %d, want %d", common.ErrCorruptHeader, s.idx.Path(), kw, s.x.key.Width())
	}
	s.globalDepth = binary.LittleEndian.Uint32(hdr[12:])
	s.capacity = int(binary.LittleEndian.Uint32(hdr[16:]))
	s.maxChain = int(binary.LittleEndian.Uint32(hdr[20:]))
	s.dirOff = int64(binary.LittleEndian.Uint64(hdr[28:]))
	s.buckets = binary.LittleEndian.Uint32(hdr[36:])
	s.doublings = binary.LittleEndian.Uint32(hdr[40:])
	s.maxDepth = binary.LittleEndian.Uint32(hdr[44:])
	if s.capacity <= 0 || s.globalDepth > s.maxDepth {
		return fmt.Errorf("%w: %s: capacity %d depth %d/%d", common.ErrCorruptHeader, s.idx.Path(), s.capacity, s.globalDepth, s.maxDepth)
	}
	return nil
}

// layout writes the header, 2^InitialDepth buckets and the directory.
func (s *session) layout() error {
	o := s.x.opts
	s.globalDepth = uint32(o.InitialDepth)
	s.capacity = o.BucketCapacity
	s.maxChain = o.MaxChain
	s.maxDepth = uint32(o.MaxDepth)

	n := 1 << s.globalDepth
	dir := make([]int64, n)
	off := int64(headerSize)
	for i := range dir {
		dir[i] = off
		if err := s.writeBucket(&bucket{off: off, depth: s.globalDepth}); err != nil {
			return err
		}
		off += int64(s.bucketSize())
	}
	s.buckets = uint32(n)
	s.dirOff = off
	if err := s.writeDirectory(dir); err != nil {
		return err
	}
	return s.writeHeader()
}

func (s *session) writeHeader() error {
	hdr := make([]byte, headerSize)
	storage.PutMagic(hdr, indexMagic)
	binary.LittleEndian.PutUint32(hdr[8:], storage.FormatVersion)
	binary.LittleEndian.PutUint32(hdr[12:], s.globalDepth)
	binary.LittleEndian.PutUint32(hdr[16:], uint32(s.capacity))
	binary.LittleEndian.PutUint32(hdr[20:], uint32(s.maxChain))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(s.x.key.Width()))
	binary.LittleEndian.PutUint64(hdr[28:], uint64(s.dirOff))
	binary.LittleEndian.PutUint32(hdr[36:], s.buckets)
	binary.LittleEndian.PutUint32(hdr[40:], s.doublings)
	binary.LittleEndian.PutUint32(hdr[44:], s.maxDepth)
	return s.idx.WriteBlock(0, hdr)
}

func (s *session) entrySize() int { return s.x.key.Width() + 8 }

func (s *session) bucketSize() int { return bucketHeaderSize + s.capacity*s.entrySize() }

func (s *session) readBucket(off int64) (*bucket, error) {
	b, err := s.idx.ReadBlock(off, s.bucketSize())
	if err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(b[4:]))
	if n > s.capacity {
		return nil, fmt.Errorf("%w: %s: bucket at %d holds %d entries", common.ErrCorruptHeader, s.idx.Path(), off, n)
	}
	bk := &bucket{
		off:      off,
		depth:    binary.LittleEndian.Uint32(b),
		overflow: int64(binary.LittleEndian.Uint64(b[8:])),
		keys:     make([]common.Value, n),
		vals:     make([]common.Offset, n),
	}
	kw := s.x.key.Width()
	for i := 0; i < n; i++ {
		at := bucketHeaderSize + i*s.entrySize()
		bk.keys[i] = s.x.key.Get(b[at:])
		bk.vals[i] = common.Offset(binary.LittleEndian.Uint64(b[at+kw:]))
	}
	return bk, nil
}

func (s *session) writeBucket(bk *bucket) error {
	b := make([]byte, s.bucketSize())
	binary.LittleEndian.PutUint32(b, bk.depth)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(bk.keys)))
	binary.LittleEndian.PutUint64(b[8:], uint64(bk.overflow))
	kw := s.x.key.Width()
	for i, k := range bk.keys {
		at := bucketHeaderSize + i*s.entrySize()
		if err := s.x.key.Put(b[at:], k); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(b[at+kw:], uint64(bk.vals[i]))
	}
	if bk.off == 0 {
		off, err := s.idx.Append(b)
		bk.off = off
		s.buckets++
		return err
	}
	return s.idx.WriteBlock(bk.off, b)
}

func (s *session) dirLen() int { return 1 << s.globalDepth }

func (s *session) slot(key common.Value) int {
	return int(s.x.key.Hash(key) & uint64(s.dirLen()-1))
}

// dirEntry reads the bucket offset of one directory slot.
func (s *session) dirEntry(slot int) (int64, error) {
	b, err := s.idx.ReadBlock(s.dirOff+int64(slot)*8, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (s *session) readDirectory() ([]int64, error) {
	b, err := s.idx.ReadBlock(s.dirOff, s.dirLen()*8)
	if err != nil {
		return nil, err
	}
	dir := make([]int64, s.dirLen())
	for i := range dir {
		dir[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return dir, nil
}

func (s *session) writeDirectory(dir []int64) error {
	b := make([]byte, len(dir)*8)
	for i, off := range dir {
		binary.LittleEndian.PutUint64(b[i*8:], uint64(off))
	}
	return s.idx.WriteBlock(s.dirOff, b)
}

// chain visits the primary bucket of key and its overflow buckets until fn
// returns false.
func (s *session) chain(key common.Value, fn func(bk *bucket) (bool, error)) error {
	off, err := s.dirEntry(s.slot(key))
	if err != nil {
		return err
	}
	for off != 0 {
		bk, err := s.readBucket(off)
		if err != nil {
			return err
		}
		more, err := fn(bk)
		if err != nil || !more {
			return err
		}
		off = bk.overflow
	}
	return nil
}

// Search returns heap offsets of records under key.
func (x *Index) Search(key common.Value) (out []common.Entry, err error) {
	s, err := x.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)
	err = s.chain(key, func(bk *bucket) (bool, error) {
		for i, k := range bk.keys {
			if x.key.Compare(k, key) == 0 {
				out = append(out, common.Entry{Offset: bk.vals[i]})
			}
		}
		return true, nil
	})
	return out, err
}

// Range is not answerable by a hash index.
func (x *Index) Range(low, high common.Value) ([]common.Entry, error) {
	return nil, fmt.Errorf("%w: range query on a hash index", common.ErrUnsupportedOperation)
}

// Remove deletes entries under key whose record match accepts (nil matches
// all). Records stay in the heap; buckets never merge.
func (x *Index) Remove(key common.Value, match func(rec []byte) bool) (n int, err error) {
	s, err := x.acquire(false)
	if err != nil {
		return 0, err
	}
	defer s.release(&err)
	err = s.chain(key, func(bk *bucket) (bool, error) {
		keys, vals := bk.keys[:0], bk.vals[:0]
		removed := 0
		for i, k := range bk.keys {
			if x.key.Compare(k, key) == 0 {
				ok := match == nil
				if !ok {
					rec, err := s.heap.Read(bk.vals[i])
					if err != nil {
						return false, err
					}
					ok = match(rec)
				}
				if ok {
					removed++
					continue
				}
			}
			keys, vals = append(keys, k), append(vals, bk.vals[i])
		}
		if removed == 0 {
			return true, nil
		}
		bk.keys, bk.vals = keys, vals
		n += removed
		return true, s.writeBucket(bk)
	})
	return n, err
}

// Fetch reads one record from the heap.
func (x *Index) Fetch(off common.Offset) (rec []byte, err error) {
	s, err := x.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)
	return s.heap.Read(off)
}

// Scan visits every entry, bucket by bucket in directory order.
func (x *Index) Scan(fn func(common.Entry) bool) (err error) {
	s, err := x.acquire(false)
	if err != nil {
		return err
	}
	defer s.release(&err)
	dir, err := s.readDirectory()
	if err != nil {
		return err
	}
	seen := make(map[int64]bool, len(dir))
	for _, off := range dir {
		if seen[off] {
			continue
		}
		seen[off] = true
		for off != 0 {
			bk, err := s.readBucket(off)
			if err != nil {
				return err
			}
			for _, v := range bk.vals {
				if !fn(common.Entry{Offset: v}) {
					return nil
				}
			}
			off = bk.overflow
		}
	}
	return nil
}

// Stats describes the directory.
type Stats struct {
	GlobalDepth  int
	DirectoryLen int
	Buckets      int
	Doublings    int
}

func (x *Index) Stats() (st Stats, err error) {
	s, err := x.acquire(false)
	if err != nil {
		return Stats{}, err
	}
	defer s.release(&err)
	return Stats{
		GlobalDepth:  int(s.globalDepth),
		DirectoryLen: s.dirLen(),
		Buckets:      int(s.buckets),
		Doublings:    int(s.doublings),
	}, nil
}

// Drop deletes the files.
func (x *Index) Drop() error {
	return x.disk.Remove(x.Paths()...)
}
