package common

import (
	"fmt"
	"strings"
)

// Offset is a logical address inside a data or index file: a zero-based slot
// for fixed-size record files, a byte offset for node files.
type Offset int64

// NilOffset marks an absent slot reference.
const NilOffset Offset = -1

// Value is one attribute value: int64, float64, string or []float64.
type Value = any

// Row is a decoded record in schema attribute order.
type Row []Value

// Entry is what an index hands back for a match. Data is set when the index
// already read the record body (clustered layouts); otherwise only Offset is
// meaningful and the record lives in the index's data file.
type Entry struct {
	Offset Offset
	Data   []byte
}

// Record pairs a key with its encoded record, the unit of bulk loads.
type Record struct {
	Key  Value
	Data []byte
}

// String is for debug output.
func (e Entry) String() string {
	return fmt.Sprintf("Entry{Offset: %d, DataLen: %d}", e.Offset, len(e.Data))
}

// Kind names one of the index organizations.
type Kind string

const (
	KindAVL    Kind = "AVL"
	KindISAM   Kind = "ISAM"
	KindBPTree Kind = "BPTREE"
	KindHash   Kind = "HASH"
	KindRTree  Kind = "RTREE"
)

// Kinds lists every supported index kind.
var Kinds = []Kind{KindAVL, KindISAM, KindBPTree, KindHash, KindRTree}

// ParseKind accepts the canonical names plus a few common spellings of the
// B+Tree, hash and R-Tree kinds.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AVL":
		return KindAVL, nil
	case "ISAM":
		return KindISAM, nil
	case "BPTREE", "BTREE", "B+TREE":
		return KindBPTree, nil
	case "HASH", "EXTHASH", "EXT_HASH":
		return KindHash, nil
	case "RTREE", "R-TREE":
		return KindRTree, nil
	}
	return "", fmt.Errorf("%w: unknown index kind %q", ErrInvalidSchema, s)
}
