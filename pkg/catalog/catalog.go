// Package catalog maps tables to schemas and (table, column) pairs to the
// live index serving them.
package catalog

import (
	"fmt"
	"strings"

	"github.com/google/btree"

	"indexlab/pkg/common"
)

// Index is the capability set every index organization provides. Kinds
// that cannot answer an operation return common.ErrUnsupportedOperation.
type Index interface {
	Kind() common.Kind
	// Create lays out empty files or validates existing ones.
	Create() error
	Insert(key common.Value, rec []byte) (common.Offset, error)
	Search(key common.Value) ([]common.Entry, error)
	// Range is inclusive on both ends; a nil bound is open.
	Range(low, high common.Value) ([]common.Entry, error)
	// Remove deletes records under key accepted by match (nil accepts all).
	Remove(key common.Value, match func(rec []byte) bool) (int, error)
	Fetch(off common.Offset) ([]byte, error)
	Scan(fn func(common.Entry) bool) error
	Paths() []string
	Drop() error
}

// Opener instantiates the index declared on attr. It does not touch disk.
type Opener func(schema *common.Schema, attr common.Attribute) (Index, error)

// Binding is one indexed column of a table.
type Binding struct {
	Column string
	Index  Index
}

type table struct {
	key     string
	schema  *common.Schema
	indexes []Binding // primary key first
}

func (t *table) lookup(column string) (Index, bool) {
	for _, b := range t.indexes {
		if strings.EqualFold(b.Column, column) {
			return b.Index, true
		}
	}
	return nil, false
}

// Catalog is the registry. It is not safe for concurrent use; the engine
// serializes access.
type Catalog struct {
	store  *Store
	open   Opener
	tables *btree.BTreeG[*table]
}

func tableKey(name string) string { return strings.ToLower(name) }

// Open loads every persisted table and instantiates its indexes.
func Open(store *Store, open Opener) (*Catalog, error) {
	c := &Catalog{
		store:  store,
		open:   open,
		tables: btree.NewG(8, func(a, b *table) bool { return a.key < b.key }),
	}
	schemas, err := store.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, sc := range schemas {
		t, err := c.instantiate(sc)
		if err != nil {
			return nil, fmt.Errorf("catalog: table %s: %w", sc.Table, err)
		}
		c.tables.ReplaceOrInsert(t)
	}
	return c, nil
}

func (c *Catalog) instantiate(sc *common.Schema) (*table, error) {
	t := &table{key: tableKey(sc.Table), schema: sc}
	pk := sc.Attr(sc.PrimaryKey)
	if pk == nil || pk.Index == "" {
		return nil, fmt.Errorf("%w: primary key of %s is not indexed", common.ErrInvalidSchema, sc.Table)
	}
	attrs := []common.Attribute{*pk}
	for _, a := range sc.Attributes {
		if a.Index != "" && !strings.EqualFold(a.Name, pk.Name) {
			attrs = append(attrs, a)
		}
	}
	for _, a := range attrs {
		idx, err := c.open(sc, a)
		if err != nil {
			return nil, err
		}
		t.indexes = append(t.indexes, Binding{Column: a.Name, Index: idx})
	}
	return t, nil
}

func (c *Catalog) get(name string) (*table, error) {
	t, ok := c.tables.Get(&table{key: tableKey(name)})
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrTableNotFound, name)
	}
	return t, nil
}

// CreateTable validates schema, lays out one index per indexed attribute
// and persists the table.
func (c *Catalog) CreateTable(schema *common.Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if c.tables.Has(&table{key: tableKey(schema.Table)}) {
		return fmt.Errorf("%w: %s", common.ErrTableExists, schema.Table)
	}
	t, err := c.instantiate(schema)
	if err != nil {
		return err
	}
	for i, b := range t.indexes {
		if err := b.Index.Create(); err != nil {
			for _, done := range t.indexes[:i+1] {
				_ = done.Index.Drop()
			}
			return err
		}
	}
	if err := c.store.SaveTable(schema); err != nil {
		for _, b := range t.indexes {
			_ = b.Index.Drop()
		}
		return err
	}
	c.tables.ReplaceOrInsert(t)
	return nil
}

// AddIndex binds kind to a not yet indexed column and lays out its empty
// files. Filling it from existing rows is the caller's job.
func (c *Catalog) AddIndex(tableName, column string, kind common.Kind) (Index, error) {
	t, err := c.get(tableName)
	if err != nil {
		return nil, err
	}
	if _, ok := t.lookup(column); ok {
		return nil, fmt.Errorf("%w: %s.%s is already indexed", common.ErrInvalidSchema, tableName, column)
	}
	a := t.schema.Attr(column)
	if a == nil {
		return nil, fmt.Errorf("%w: table %s has no column %q", common.ErrInvalidSchema, tableName, column)
	}
	prev := a.Index
	a.Index = kind
	if err := t.schema.Validate(); err != nil {
		a.Index = prev
		return nil, err
	}
	idx, err := c.open(t.schema, *a)
	if err == nil {
		err = idx.Create()
	}
	if err == nil {
		err = c.store.SaveIndex(t.schema.Table, a.Name, kind)
	}
	if err != nil {
		a.Index = prev
		if idx != nil {
			_ = idx.Drop()
		}
		return nil, err
	}
	t.indexes = append(t.indexes, Binding{Column: a.Name, Index: idx})
	return idx, nil
}

// DropTable deletes every index file of the table and forgets it.
func (c *Catalog) DropTable(name string) error {
	t, err := c.get(name)
	if err != nil {
		return err
	}
	for _, b := range t.indexes {
		if err := b.Index.Drop(); err != nil {
			return err
		}
	}
	if err := c.store.DeleteTable(t.schema.Table); err != nil {
		return err
	}
	c.tables.Delete(t)
	return nil
}

// Resolve returns the index serving table.column.
func (c *Catalog) Resolve(tableName, column string) (Index, error) {
	t, err := c.get(tableName)
	if err != nil {
		return nil, err
	}
	idx, ok := t.lookup(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", common.ErrColumnNotIndexed, tableName, column)
	}
	return idx, nil
}

// Schema returns the schema of a table.
func (c *Catalog) Schema(tableName string) (*common.Schema, error) {
	t, err := c.get(tableName)
	if err != nil {
		return nil, err
	}
	return t.schema, nil
}

// Indexes lists a table's bindings, primary key first.
func (c *Catalog) Indexes(tableName string) ([]Binding, error) {
	t, err := c.get(tableName)
	if err != nil {
		return nil, err
	}
	return append([]Binding(nil), t.indexes...), nil
}

// Tables lists table names in ascending order.
func (c *Catalog) Tables() []string {
	var names []string
	c.tables.Ascend(func(t *table) bool {
		names = append(names, t.schema.Table)
		return true
	})
	return names
}

func (c *Catalog) Close() error {
	return c.store.Close()
}
