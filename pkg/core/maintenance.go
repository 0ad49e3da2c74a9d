package core

import (
	"context"
	"fmt"

	"indexlab/pkg/catalog"
	"indexlab/pkg/common"
)

// AddIndex binds kind to column and fills it from the rows already stored
// through the primary index.
func (e *Engine) AddIndex(ctx context.Context, table, column string, kind common.Kind) Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(ctx, "ADD_INDEX", table, column, func() (Response, error) {
		sc, err := e.catalog.Schema(table)
		if err != nil {
			return Response{}, err
		}
		rows, err := e.all(sc)
		if err != nil {
			return Response{}, err
		}
		idx, err := e.catalog.AddIndex(table, column, kind)
		if err != nil {
			return Response{}, err
		}
		if err := fill(sc, catalog.Binding{Column: column, Index: idx}, rows); err != nil {
			return Response{}, err
		}
		return Response{RowsAffected: len(rows)}, nil
	})
}

// all reads every live record of a table through its primary index.
func (e *Engine) all(sc *common.Schema) ([][]byte, error) {
	bindings, err := e.catalog.Indexes(sc.Table)
	if err != nil {
		return nil, err
	}
	pk := bindings[0].Index
	var entries []common.Entry
	if err := pk.Scan(func(en common.Entry) bool {
		entries = append(entries, en)
		return true
	}); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(entries))
	for _, en := range entries {
		b, err := record(pk, en)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// fill loads encoded records into one empty index, through its bulk path
// when it has one.
func fill(sc *common.Schema, b catalog.Binding, data [][]byte) error {
	recs := make([]common.Record, 0, len(data))
	for _, d := range data {
		k, err := sc.Field(d, b.Column)
		if err != nil {
			return err
		}
		recs = append(recs, common.Record{Key: k, Data: d})
	}
	if bl, ok := b.Index.(Builder); ok {
		return bl.Build(recs)
	}
	for _, r := range recs {
		if _, err := b.Index.Insert(r.Key, r.Data); err != nil {
			return fmt.Errorf("load %s.%s: %w", sc.Table, b.Column, err)
		}
	}
	return nil
}

// BulkLoad inserts rows (positional or column-keyed). On an empty table
// each index is laid out in one pass, sorted kinds through their build
// path; otherwise the rows go through the regular insert path.
func (e *Engine) BulkLoad(ctx context.Context, table string, rows []any) Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(ctx, "BULK_LOAD", table, "", func() (Response, error) {
		sc, err := e.catalog.Schema(table)
		if err != nil {
			return Response{}, err
		}
		bindings, err := e.catalog.Indexes(sc.Table)
		if err != nil {
			return Response{}, err
		}

		normalized := make([]common.Row, 0, len(rows))
		seen := make(map[string]bool, len(rows))
		for i, r := range rows {
			row, err := normalize(sc, r)
			if err != nil {
				return Response{}, fmt.Errorf("row %d: %w", i, err)
			}
			pk := fmt.Sprint(keyOf(sc, row, bindings[0].Column))
			if seen[pk] {
				return Response{}, fmt.Errorf("%w: row %d repeats %s=%s", common.ErrDuplicateKey, i, bindings[0].Column, pk)
			}
			seen[pk] = true
			normalized = append(normalized, row)
		}

		empty := true
		if err := bindings[0].Index.Scan(func(common.Entry) bool {
			empty = false
			return false
		}); err != nil {
			return Response{}, err
		}
		if !empty {
			for _, row := range normalized {
				if err := e.insertRow(sc, row); err != nil {
					return Response{}, err
				}
			}
			return Response{RowsAffected: len(normalized)}, nil
		}

		data := make([][]byte, len(normalized))
		for i, row := range normalized {
			if data[i], err = sc.Encode(row); err != nil {
				return Response{}, err
			}
		}
		for _, b := range bindings {
			if err := fill(sc, b, data); err != nil {
				return Response{}, err
			}
		}
		return Response{RowsAffected: len(normalized)}, nil
	})
}

// Compact runs the explicit maintenance pass of table.column. Nothing
// calls it implicitly.
func (e *Engine) Compact(ctx context.Context, table, column string) Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp := e.run(ctx, "COMPACT", table, column, func() (Response, error) {
		idx, err := e.catalog.Resolve(table, column)
		if err != nil {
			return Response{}, err
		}
		live, err := maintenance(idx)
		if err != nil {
			return Response{}, err
		}
		return Response{RowsAffected: live, Message: fmt.Sprintf("%s maintenance kept %d records", idx.Kind(), live)}, nil
	})
	if !resp.Failed() {
		e.log.LogMaintenance(ctx, table, column, resp.RowsAffected, resp.Metrics, nil)
	}
	return resp
}

// Check verifies the structural invariants of table.column and returns
// the number of entries it holds.
func (e *Engine) Check(table, column string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.catalog.Resolve(table, column)
	if err != nil {
		return 0, err
	}
	c, ok := idx.(Checker)
	if !ok {
		return 0, fmt.Errorf("%w: %s has no invariant check", common.ErrUnsupportedOperation, idx.Kind())
	}
	return c.Check()
}

// Describe returns the kind-specific shape of table.column (height,
// directory depth, page counts).
func (e *Engine) Describe(table, column string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.catalog.Resolve(table, column)
	if err != nil {
		return nil, err
	}
	return describe(idx)
}
