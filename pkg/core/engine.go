// Package core owns the Engine: it resolves plans to indexes through the
// catalog, runs them and attaches the I/O cost of each call.
package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"indexlab/pkg/catalog"
	"indexlab/pkg/common"
	"indexlab/pkg/config"
	"indexlab/pkg/logging"
	"indexlab/pkg/monitor"
	"indexlab/pkg/storage"
)

type Option func(*Engine)

// WithLogger replaces the default no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithFileSystem routes index I/O through fsys, e.g. a storage.FaultyFS.
func WithFileSystem(fsys storage.FileSystem) Option {
	return func(e *Engine) { e.fs = fsys }
}

// Engine is safe for concurrent use; calls are serialized.
type Engine struct {
	mu      sync.Mutex
	cfg     *config.Config
	dir     string
	fs      storage.FileSystem
	lock    *storage.DirLock
	stats   *monitor.IOStat
	disk    *storage.Disk
	catalog *catalog.Catalog
	log     *logging.Logger
}

// Open locks the data directory and loads the catalog kept there.
func Open(cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		dir:   cfg.Storage.Path,
		stats: monitor.NewIOStat(),
		log:   logging.NoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.disk = storage.NewDisk(e.fs, e.stats)

	e.lock = storage.NewDirLock(e.dir)
	if err := e.lock.TryLock(); err != nil {
		return nil, err
	}
	store, err := catalog.OpenStore(filepath.Join(e.dir, "catalog.db"))
	if err != nil {
		e.lock.Unlock()
		return nil, err
	}
	cat, err := catalog.Open(store, newOpener(e.disk, e.dir, cfg.Index))
	if err != nil {
		store.Close()
		e.lock.Unlock()
		return nil, err
	}
	e.catalog = cat
	e.log.Info("engine opened", "dir", e.dir, "tables", len(cat.Tables()))
	return e, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.catalog.Close(), e.lock.Unlock())
}

// Tables lists table names in ascending order.
func (e *Engine) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.Tables()
}

// Schema returns a table's schema.
func (e *Engine) Schema(table string) (*common.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.Schema(table)
}

// CreateTable registers schema and lays out its empty indexes. A primary
// key declared without a kind gets index.default_kind.
func (e *Engine) CreateTable(ctx context.Context, schema *common.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pk := schema.Attr(schema.PrimaryKey); pk != nil && pk.Index == "" {
		pk.Index = common.Kind(e.cfg.Index.DefaultKind)
	}
	err := e.catalog.CreateTable(schema)
	if err == nil {
		e.log.WithTable(schema.Table).InfoContext(ctx, "table created", "columns", len(schema.Attributes))
	}
	return err
}

// DropTable removes a table and every file of its indexes.
func (e *Engine) DropTable(ctx context.Context, table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sc, err := e.catalog.Schema(table)
	if err != nil {
		return err
	}
	name := sc.Table
	if err := e.catalog.DropTable(table); err != nil {
		return err
	}
	if err := e.disk.Remove(filepath.Join(e.dir, "rtree", name)); err != nil {
		return err
	}
	e.log.WithTable(name).InfoContext(ctx, "table dropped")
	return nil
}

// run resets the counters, runs fn and folds its outcome into a Response.
func (e *Engine) run(ctx context.Context, op, table, column string, fn func() (Response, error)) Response {
	e.stats.Reset()
	resp, err := fn()
	e.stats.Stop()
	m := e.stats.Snapshot()
	e.log.LogDispatch(ctx, op, table, column, len(resp.Rows), m, err)
	if err != nil {
		return Response{
			Status:    StatusError,
			Message:   err.Error(),
			ErrorKind: common.KindOf(err),
			Metrics:   m,
		}
	}
	resp.Status = StatusOK
	resp.Metrics = m
	return resp
}

// Dispatch runs one plan. Failures come back as a Response with Status
// "error" and the taxonomy name in ErrorKind.
func (e *Engine) Dispatch(ctx context.Context, p Plan) Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(ctx, string(p.Operation), p.Table, p.Column, func() (Response, error) {
		return e.dispatch(p)
	})
}

func (e *Engine) dispatch(p Plan) (Response, error) {
	sc, err := e.catalog.Schema(p.Table)
	if err != nil {
		return Response{}, err
	}
	switch p.Operation {
	case OpInsert:
		return e.insert(sc, p.Args.Record)
	case OpScan:
		return e.scan(sc, p.Args.Limit)
	case OpEquality, OpRange, OpSpatialRange, OpKNN, OpRemove:
	default:
		return Response{}, fmt.Errorf("%w: unknown operation %q", common.ErrInvalidPlan, p.Operation)
	}

	idx, err := e.catalog.Resolve(p.Table, p.Column)
	if err != nil {
		return Response{}, err
	}
	attr := *sc.Attr(p.Column)

	switch p.Operation {
	case OpEquality:
		key, err := coerceKey(attr, p.Args.Key)
		if err != nil {
			return Response{}, err
		}
		entries, err := idx.Search(key)
		if err != nil {
			return Response{}, err
		}
		return e.rows(sc, idx, entries)

	case OpRange:
		low, high, err := coerceBounds(attr, p.Args.Low, p.Args.High)
		if err != nil {
			return Response{}, err
		}
		entries, err := idx.Range(low, high)
		if err != nil {
			return Response{}, err
		}
		return e.rows(sc, idx, entries)

	case OpSpatialRange, OpKNN:
		sp, ok := idx.(Spatial)
		if !ok {
			return Response{}, fmt.Errorf("%w: %s on %s index", common.ErrUnsupportedOperation, p.Operation, idx.Kind())
		}
		var ns []common.Neighbor
		if p.Operation == OpKNN {
			ns, err = sp.KNN(p.Args.Point, p.Args.K)
		} else {
			ns, err = sp.RangeSearch(p.Args.Point, p.Args.Radius)
		}
		if err != nil {
			return Response{}, err
		}
		return e.neighbors(sc, idx, ns)

	default:
		key, err := coerceKey(attr, p.Args.Key)
		if err != nil {
			return Response{}, err
		}
		return e.remove(sc, idx, key)
	}
}

func coerceKey(attr common.Attribute, v any) (common.Value, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: missing key for %s", common.ErrInvalidPlan, attr.Name)
	}
	return common.Coerce(attr, v)
}

func coerceBounds(attr common.Attribute, low, high any) (common.Value, common.Value, error) {
	var lo, hi common.Value
	var err error
	if low != nil {
		if lo, err = common.Coerce(attr, low); err != nil {
			return nil, nil, err
		}
	}
	if high != nil {
		if hi, err = common.Coerce(attr, high); err != nil {
			return nil, nil, err
		}
	}
	return lo, hi, nil
}

// record returns the body of an entry, reading it through the index's data
// file when the index handed back only an offset.
func record(idx catalog.Index, en common.Entry) ([]byte, error) {
	if en.Data != nil {
		return en.Data, nil
	}
	return idx.Fetch(en.Offset)
}

func (e *Engine) rows(sc *common.Schema, idx catalog.Index, entries []common.Entry) (Response, error) {
	resp := Response{Columns: sc.Columns()}
	for _, en := range entries {
		b, err := record(idx, en)
		if err != nil {
			return Response{}, err
		}
		row, err := sc.Decode(b)
		if err != nil {
			return Response{}, err
		}
		resp.Rows = append(resp.Rows, row)
	}
	return resp, nil
}

func (e *Engine) neighbors(sc *common.Schema, idx catalog.Index, ns []common.Neighbor) (Response, error) {
	entries := make([]common.Entry, len(ns))
	resp := Response{Distances: make([]float64, len(ns))}
	for i, n := range ns {
		entries[i] = n.Entry
		resp.Distances[i] = n.Distance
	}
	rows, err := e.rows(sc, idx, entries)
	if err != nil {
		return Response{}, err
	}
	resp.Columns, resp.Rows = rows.Columns, rows.Rows
	return resp, nil
}

func normalize(sc *common.Schema, rec any) (common.Row, error) {
	switch r := rec.(type) {
	case []any:
		return sc.Normalize(r)
	case map[string]any:
		return sc.NormalizeMap(r)
	case common.Row:
		return sc.Normalize(r)
	case nil:
		return nil, fmt.Errorf("%w: missing record", common.ErrInvalidPlan)
	}
	return nil, fmt.Errorf("%w: record must be a list or an object, got %T", common.ErrInvalidPlan, rec)
}

// keyOf picks a binding's key out of a normalized row.
func keyOf(sc *common.Schema, row common.Row, column string) common.Value {
	return row[sc.Position(column)]
}

func (e *Engine) insert(sc *common.Schema, rec any) (Response, error) {
	row, err := normalize(sc, rec)
	if err != nil {
		return Response{}, err
	}
	if err := e.insertRow(sc, row); err != nil {
		return Response{}, err
	}
	return Response{RowsAffected: 1}, nil
}

// insertRow writes row into every index of its table, primary first. The
// primary key is checked before anything is written.
func (e *Engine) insertRow(sc *common.Schema, row common.Row) error {
	data, err := sc.Encode(row)
	if err != nil {
		return err
	}
	bindings, err := e.catalog.Indexes(sc.Table)
	if err != nil {
		return err
	}
	pk := bindings[0]
	pkVal := keyOf(sc, row, pk.Column)
	// Hash primaries enforce uniqueness in their own insert path.
	if pk.Index.Kind() != common.KindHash {
		hits, err := pk.Index.Search(pkVal)
		if err != nil {
			return err
		}
		if len(hits) > 0 {
			return fmt.Errorf("%w: %s=%v", common.ErrDuplicateKey, pk.Column, pkVal)
		}
	}
	for _, b := range bindings {
		if _, err := b.Index.Insert(keyOf(sc, row, b.Column), data); err != nil {
			return fmt.Errorf("insert into %s.%s: %w", sc.Table, b.Column, err)
		}
	}
	return nil
}

// remove deletes every record the addressed index finds under key from all
// indexes of the table.
func (e *Engine) remove(sc *common.Schema, idx catalog.Index, key common.Value) (Response, error) {
	entries, err := idx.Search(key)
	if err != nil {
		return Response{}, err
	}
	if len(entries) == 0 {
		return Response{}, nil
	}
	victims := make([][]byte, 0, len(entries))
	for _, en := range entries {
		b, err := record(idx, en)
		if err != nil {
			return Response{}, err
		}
		victims = append(victims, b)
	}
	bindings, err := e.catalog.Indexes(sc.Table)
	if err != nil {
		return Response{}, err
	}
	doomed := make(map[string]bool, len(victims))
	rows := make([]common.Row, len(victims))
	for i, v := range victims {
		doomed[string(v)] = true
		if rows[i], err = sc.Decode(v); err != nil {
			return Response{}, err
		}
	}
	match := func(rec []byte) bool { return doomed[string(rec)] }
	// one Remove per distinct key and index
	for _, b := range bindings {
		seen := make(map[string]bool, len(rows))
		for _, row := range rows {
			key := keyOf(sc, row, b.Column)
			if id := fmt.Sprint(key); !seen[id] {
				seen[id] = true
				if _, err := b.Index.Remove(key, match); err != nil {
					return Response{}, fmt.Errorf("remove from %s.%s: %w", sc.Table, b.Column, err)
				}
			}
		}
	}
	return Response{RowsAffected: len(victims)}, nil
}

func (e *Engine) scan(sc *common.Schema, limit int) (Response, error) {
	if limit <= 0 {
		limit = e.cfg.Index.ScanLimit
	}
	bindings, err := e.catalog.Indexes(sc.Table)
	if err != nil {
		return Response{}, err
	}
	pk := bindings[0].Index
	var entries []common.Entry
	err = pk.Scan(func(en common.Entry) bool {
		entries = append(entries, en)
		return len(entries) < limit
	})
	if err != nil {
		return Response{}, err
	}
	return e.rows(sc, pk, entries)
}
