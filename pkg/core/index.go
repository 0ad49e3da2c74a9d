package core

import (
	"fmt"
	"path/filepath"
	"strings"

	"indexlab/pkg/catalog"
	"indexlab/pkg/common"
	"indexlab/pkg/config"
	"indexlab/pkg/index/avl"
	"indexlab/pkg/index/bptree"
	"indexlab/pkg/index/exthash"
	"indexlab/pkg/index/isam"
	"indexlab/pkg/index/rtree"
	"indexlab/pkg/storage"
)

// Builder is implemented by kinds with a bulk-load path that lays out
// sorted input in one pass.
type Builder interface {
	Build(recs []common.Record) error
}

// Spatial is implemented by kinds that answer distance queries.
type Spatial interface {
	RangeSearch(point common.Value, radius float64) ([]common.Neighbor, error)
	KNN(point common.Value, k int) ([]common.Neighbor, error)
}

// Checker verifies a structure's invariants and returns its entry count.
type Checker interface {
	Check() (int, error)
}

// maintenance runs the kind's explicit cleanup and returns the live count:
// AVL compaction, ISAM reorganize, B+Tree rebuild.
func maintenance(idx catalog.Index) (int, error) {
	switch x := idx.(type) {
	case interface{ Compact() (int, error) }:
		return x.Compact()
	case interface{ Reorganize() (int, error) }:
		return x.Reorganize()
	case interface{ Rebuild() (int, error) }:
		return x.Rebuild()
	}
	return 0, fmt.Errorf("%w: %s has no maintenance operation", common.ErrUnsupportedOperation, idx.Kind())
}

// describe reports the kind-specific shape of an index.
func describe(idx catalog.Index) (any, error) {
	switch x := idx.(type) {
	case *avl.Tree:
		h, err := x.Height()
		return map[string]int{"height": h}, err
	case *isam.File:
		return x.Stats()
	case *bptree.Tree:
		return x.Stats()
	case *exthash.Index:
		return x.Stats()
	case *rtree.Tree:
		return x.Stats()
	}
	return nil, fmt.Errorf("%w: no stats for %s", common.ErrUnsupportedOperation, idx.Kind())
}

// BasePath is where the files of table.column live under dir. R-Tree files
// get a directory per table.
func BasePath(dir, table string, attr common.Attribute) string {
	if attr.Index == common.KindRTree {
		return filepath.Join(dir, "rtree", table, attr.Name)
	}
	return filepath.Join(dir, table+"."+attr.Name)
}

// newOpener binds the index constructors to one disk, directory and set of
// tuning knobs.
func newOpener(disk *storage.Disk, dir string, cfg config.IndexConfig) catalog.Opener {
	return func(sc *common.Schema, attr common.Attribute) (catalog.Index, error) {
		base := BasePath(dir, sc.Table, attr)
		size := sc.RecordSize()
		if attr.Index == common.KindRTree {
			return rtree.New(disk, base, attr.Size, size, rtree.Options{
				MaxEntries: cfg.RTreeMaxEntries,
				MinEntries: cfg.RTreeMinEntries,
			}), nil
		}

		key, err := common.NewKeyCodec(attr)
		if err != nil {
			return nil, err
		}
		switch attr.Index {
		case common.KindAVL:
			return avl.New(disk, base, key, size), nil
		case common.KindISAM:
			name := attr.Name
			keyOf := func(rec []byte) (common.Value, error) { return sc.Field(rec, name) }
			return isam.New(disk, base, key, size, keyOf, isam.Options{
				BlockFactor: cfg.ISAMBlockFactor,
				Fanout:      cfg.ISAMFanout,
			}), nil
		case common.KindBPTree:
			return bptree.New(disk, base, key, size, bptree.Options{Fanout: cfg.BPTreeFanout}), nil
		case common.KindHash:
			return exthash.New(disk, base, key, size, exthash.Options{
				BucketCapacity: cfg.HashBucketCapacity,
				MaxChain:       cfg.HashMaxChain,
				InitialDepth:   cfg.HashInitialDepth,
				MaxDepth:       cfg.HashMaxDepth,
				Unique:         strings.EqualFold(sc.PrimaryKey, attr.Name),
			}), nil
		}
		return nil, fmt.Errorf("%w: unknown index kind %q on %s", common.ErrInvalidSchema, attr.Index, attr.Name)
	}
}
