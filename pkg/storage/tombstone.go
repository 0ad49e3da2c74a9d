package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"indexlab/pkg/common"
)

// Tombstones is the set of logically deleted slots of a heap, kept in a
// sidecar file as a length-prefixed roaring bitmap.
type Tombstones struct {
	bm *roaring.Bitmap
}

func NewTombstones() *Tombstones {
	return &Tombstones{bm: roaring.New()}
}

// LoadTombstones reads the whole sidecar in one block; an empty file is an empty set.
func LoadTombstones(f *BlockFile) (*Tombstones, error) {
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	t := NewTombstones()
	if size == 0 {
		return t, nil
	}
	buf, err := f.ReadBlock(0, int(size))
	if err != nil {
		return nil, err
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: %s: short tombstone file", common.ErrCorruptHeader, f.Path())
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if 4+n > len(buf) {
		return nil, fmt.Errorf("%w: %s: tombstone length %d", common.ErrCorruptHeader, f.Path(), n)
	}
	if err := t.bm.UnmarshalBinary(buf[4 : 4+n]); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrCorruptHeader, f.Path(), err)
	}
	return t, nil
}

// Save writes the set back in one block.
func (t *Tombstones) Save(f *BlockFile) error {
	t.bm.RunOptimize()
	body, err := t.bm.ToBytes()
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return f.WriteBlock(0, buf)
}

func (t *Tombstones) Add(slot common.Offset) { t.bm.Add(uint32(slot)) }

func (t *Tombstones) Contains(slot common.Offset) bool { return t.bm.Contains(uint32(slot)) }

func (t *Tombstones) Len() int { return int(t.bm.GetCardinality()) }
