package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"indexlab/pkg/common"
	"indexlab/pkg/monitor"
)

// Disk hands out block files whose reads and writes are charged to one
// IOStat. There is no page cache: every ReadBlock is a physical read.
type Disk struct {
	fs    FileSystem
	stats *monitor.IOStat
}

func NewDisk(fsys FileSystem, stats *monitor.IOStat) *Disk {
	if fsys == nil {
		fsys = Default
	}
	if stats == nil {
		stats = monitor.NewIOStat()
	}
	return &Disk{fs: fsys, stats: stats}
}

func (d *Disk) Stats() *monitor.IOStat { return d.stats }

// Open opens path for block I/O, creating it (and its directory) when create is set.
func (d *Disk) Open(path string, create bool) (*BlockFile, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
		if err := d.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ioFailure("mkdir", path, err)
		}
	}
	f, err := d.fs.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, ioFailure("open", path, err)
	}
	return &BlockFile{f: f, path: path, stats: d.stats}, nil
}

// Create opens path truncated to zero length.
func (d *Disk) Create(path string) (*BlockFile, error) {
	if err := d.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ioFailure("mkdir", path, err)
	}
	f, err := d.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, ioFailure("create", path, err)
	}
	return &BlockFile{f: f, path: path, stats: d.stats}, nil
}

// Exists reports whether path exists and is non-empty.
func (d *Disk) Exists(path string) bool {
	info, err := d.fs.Stat(path)
	return err == nil && info.Size() > 0
}

// Remove deletes paths, ignoring ones that are already gone.
func (d *Disk) Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := d.fs.RemoveAll(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, ioFailure("remove", p, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Disk) Rename(oldpath, newpath string) error {
	if err := d.fs.Rename(oldpath, newpath); err != nil {
		return ioFailure("rename", oldpath, err)
	}
	return nil
}

// BlockFile is a scoped handle. Callers close it on every exit path,
// usually through Release.
type BlockFile struct {
	f     File
	path  string
	stats *monitor.IOStat
	dirty bool
}

func (b *BlockFile) Path() string { return b.path }

// ReadBlock reads exactly size bytes at off. One call is one counted read.
func (b *BlockFile) ReadBlock(off int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	start := time.Now()
	n, err := b.f.ReadAt(buf, off)
	b.stats.RecordRead(n, time.Since(start))
	if err != nil && !(errors.Is(err, io.EOF) && n == size) {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, ioFailure(fmt.Sprintf("read %d@%d", size, off), b.path, err)
	}
	return buf, nil
}

// WriteBlock writes data at off. One call is one counted write.
func (b *BlockFile) WriteBlock(off int64, data []byte) error {
	start := time.Now()
	n, err := b.f.WriteAt(data, off)
	b.stats.RecordWrite(n, time.Since(start))
	if err != nil {
		return ioFailure(fmt.Sprintf("write %d@%d", len(data), off), b.path, err)
	}
	b.dirty = true
	return nil
}

// Append writes data at the current end of file and returns where it landed.
func (b *BlockFile) Append(data []byte) (int64, error) {
	off, err := b.Size()
	if err != nil {
		return 0, err
	}
	return off, b.WriteBlock(off, data)
}

// Size is file metadata and is not charged as a read.
func (b *BlockFile) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, ioFailure("stat", b.path, err)
	}
	return info.Size(), nil
}

// Close flushes written data and closes the handle.
func (b *BlockFile) Close() error {
	var errs []error
	if b.dirty {
		if err := b.f.Sync(); err != nil {
			errs = append(errs, ioFailure("sync", b.path, err))
		}
	}
	if err := b.f.Close(); err != nil {
		errs = append(errs, ioFailure("close", b.path, err))
	}
	return errors.Join(errs...)
}

// Release closes every non-nil handle and joins close errors into *errp.
//
//	defer storage.Release(&err, dat, idx)
func Release(errp *error, files ...*BlockFile) {
	for _, f := range files {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil {
			*errp = errors.Join(*errp, cerr)
		}
	}
}

func ioFailure(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", common.ErrIOFailure, op, path, err)
}
