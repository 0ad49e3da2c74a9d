package sstable

import (
	"encoding/binary"
	"fmt"

	"indexlab/pkg/common"
	"indexlab/pkg/storage"
)

// Table reads a clustered data file written by Builder.
type Table struct {
	file       *storage.BlockFile
	recordSize int
	count      int64
}

// Open validates the header of f.
func Open(f *storage.BlockFile, recordSize int) (*Table, error) {
	hdr, err := f.ReadBlock(0, HeaderSize)
	if err != nil {
		return nil, err
	}
	if err := storage.CheckMagic(hdr, Magic, f.Path()); err != nil {
		return nil, err
	}
	if v := binary.LittleEndian.Uint32(hdr[8:]); v != storage.FormatVersion {
		return nil, fmt.Errorf("%w: %s: version %d", common.ErrCorruptHeader, f.Path(), v)
	}
	if rs := int(binary.LittleEndian.Uint32(hdr[12:])); rs != recordSize {
		return nil, fmt.Errorf("%w: %s: record size %d, schema wants %d", common.ErrCorruptHeader, f.Path(), rs, recordSize)
	}
	return &Table{file: f, recordSize: recordSize, count: int64(binary.LittleEndian.Uint64(hdr[16:]))}, nil
}

func (t *Table) Count() int64 { return t.count }

// Get reads one record.
func (t *Table) Get(slot common.Offset) ([]byte, error) {
	if slot < 0 || int64(slot) >= t.count {
		return nil, fmt.Errorf("%w: slot %d outside %d records", common.ErrInvalidPlan, slot, t.count)
	}
	return t.file.ReadBlock(HeaderSize+int64(slot)*int64(t.recordSize), t.recordSize)
}

// ReadRun reads n consecutive records starting at first with one read.
func (t *Table) ReadRun(first common.Offset, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if first < 0 || int64(first)+int64(n) > t.count {
		return nil, fmt.Errorf("%w: run %d+%d outside %d records", common.ErrCorruptHeader, first, n, t.count)
	}
	buf, err := t.file.ReadBlock(HeaderSize+int64(first)*int64(t.recordSize), n*t.recordSize)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = buf[i*t.recordSize : (i+1)*t.recordSize]
	}
	return out, nil
}
