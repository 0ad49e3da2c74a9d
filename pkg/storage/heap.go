package storage

import (
	"encoding/binary"
	"fmt"

	"indexlab/pkg/common"
)

// FormatVersion is written into every file header this package lays out.
const FormatVersion = 1

// HeapHeaderSize is magic[8] | version u32 | record size u32 | reserved u32.
const HeapHeaderSize = 20

// CheckMagic validates the first eight bytes of a header.
func CheckMagic(hdr []byte, magic, path string) error {
	if len(hdr) < 8 || string(hdr[:8]) != magic {
		return fmt.Errorf("%w: %s: want tag %q", common.ErrCorruptHeader, path, magic)
	}
	return nil
}

// PutMagic copies an 8-byte tag into hdr.
func PutMagic(hdr []byte, magic string) {
	copy(hdr[:8], magic)
}

// Heap is a file of fixed-size records addressed by slot.
type Heap struct {
	f          *BlockFile
	recordSize int
}

// OpenHeap validates (or writes, for an empty file) the header.
func OpenHeap(f *BlockFile, magic string, recordSize int) (*Heap, error) {
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		hdr := make([]byte, HeapHeaderSize)
		PutMagic(hdr, magic)
		binary.LittleEndian.PutUint32(hdr[8:], FormatVersion)
		binary.LittleEndian.PutUint32(hdr[12:], uint32(recordSize))
		if err := f.WriteBlock(0, hdr); err != nil {
			return nil, err
		}
		return &Heap{f: f, recordSize: recordSize}, nil
	}
	hdr, err := f.ReadBlock(0, HeapHeaderSize)
	if err != nil {
		return nil, err
	}
	if err := CheckMagic(hdr, magic, f.Path()); err != nil {
		return nil, err
	}
	if v := binary.LittleEndian.Uint32(hdr[8:]); v != FormatVersion {
		return nil, fmt.Errorf("%w: %s: version %d", common.ErrCorruptHeader, f.Path(), v)
	}
	if rs := int(binary.LittleEndian.Uint32(hdr[12:])); rs != recordSize {
		return nil, fmt.Errorf("%w: %s: record size %d, schema wants %d",
			common.ErrCorruptHeader, f.Path(), rs, recordSize)
	}
	return &Heap{f: f, recordSize: recordSize}, nil
}

func (h *Heap) RecordSize() int { return h.recordSize }

// Count is the number of slots, live or not.
func (h *Heap) Count() (int64, error) {
	size, err := h.f.Size()
	if err != nil {
		return 0, err
	}
	return (size - HeapHeaderSize) / int64(h.recordSize), nil
}

func (h *Heap) slotOffset(slot common.Offset) int64 {
	return HeapHeaderSize + int64(slot)*int64(h.recordSize)
}

// Append writes rec into the next slot.
func (h *Heap) Append(rec []byte) (common.Offset, error) {
	if len(rec) != h.recordSize {
		return common.NilOffset, fmt.Errorf("%w: record is %d bytes, heap holds %d",
			common.ErrInvalidPlan, len(rec), h.recordSize)
	}
	n, err := h.Count()
	if err != nil {
		return common.NilOffset, err
	}
	slot := common.Offset(n)
	return slot, h.f.WriteBlock(h.slotOffset(slot), rec)
}

// Read fetches one slot.
func (h *Heap) Read(slot common.Offset) ([]byte, error) {
	if slot < 0 {
		return nil, fmt.Errorf("%w: negative slot %d", common.ErrInvalidPlan, slot)
	}
	return h.f.ReadBlock(h.slotOffset(slot), h.recordSize)
}

// ReadRun fetches n consecutive slots with a single read.
func (h *Heap) ReadRun(first common.Offset, n int) ([][]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf, err := h.f.ReadBlock(h.slotOffset(first), n*h.recordSize)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = buf[i*h.recordSize : (i+1)*h.recordSize]
	}
	return out, nil
}
