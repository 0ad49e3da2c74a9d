package sstable

import (
	"encoding/binary"
	"fmt"

	"indexlab/pkg/common"
	"indexlab/pkg/storage"
)

const (
	Magic = "BPTDAT01"

	// magic | version u32 | record size u32 | count u64
	HeaderSize = 24
)

// Run is a block of consecutive records written with one write. The
// B+Tree turns every run into one leaf.
type Run struct {
	Keys  []common.Value
	First common.Offset
}

// Builder writes records, already sorted, into a clustered data file.
type Builder struct {
	file       *storage.BlockFile
	recordSize int
	runSize    int

	buf   []byte
	keys  []common.Value
	count int64
	runs  []Run
}

func NewBuilder(f *storage.BlockFile, recordSize, runSize int) *Builder {
	return &Builder{
		file:       f,
		recordSize: recordSize,
		runSize:    runSize,
		buf:        make([]byte, 0, recordSize*runSize),
	}
}

// Add appends one record. Keys must arrive in ascending order.
func (b *Builder) Add(key common.Value, rec []byte) error {
	if len(rec) != b.recordSize {
		return fmt.Errorf("%w: record is %d bytes, file holds %d", common.ErrInvalidPlan, len(rec), b.recordSize)
	}
	b.buf = append(b.buf, rec...)
	b.keys = append(b.keys, key)
	b.count++
	if len(b.keys) == b.runSize {
		return b.flush()
	}
	return nil
}

func (b *Builder) flush() error {
	if len(b.keys) == 0 {
		return nil
	}
	first := b.count - int64(len(b.keys))
	if err := b.file.WriteBlock(HeaderSize+first*int64(b.recordSize), b.buf); err != nil {
		return err
	}
	b.runs = append(b.runs, Run{Keys: b.keys, First: common.Offset(first)})
	b.buf = b.buf[:0]
	b.keys = nil
	return nil
}

// Finish writes the last partial run and the header, and returns the runs
// in file order. The handle stays open.
func (b *Builder) Finish() ([]Run, error) {
	if err := b.flush(); err != nil {
		return nil, err
	}
	hdr := make([]byte, HeaderSize)
	storage.PutMagic(hdr, Magic)
	binary.LittleEndian.PutUint32(hdr[8:], storage.FormatVersion)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(b.recordSize))
	binary.LittleEndian.PutUint64(hdr[16:], uint64(b.count))
	if err := b.file.WriteBlock(0, hdr); err != nil {
		return nil, err
	}
	return b.runs, nil
}
