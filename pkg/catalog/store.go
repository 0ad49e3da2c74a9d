package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"indexlab/pkg/common"
)

// Store persists table schemas and index bindings in a SQLite file so the
// catalog survives a restart. Index contents never go through it.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS tables (
		name   TEXT PRIMARY KEY,
		schema BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS indexes (
		tbl  TEXT NOT NULL,
		col  TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (tbl, col)
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// SaveTable records a new table and the indexes its attributes declare.
func (s *Store) SaveTable(schema *common.Schema) error {
	blob, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO tables (name, schema) VALUES (?, ?)", schema.Table, blob); err != nil {
		tx.Rollback()
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO indexes (tbl, col, kind) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, a := range schema.Attributes {
		if a.Index == "" {
			continue
		}
		if _, err := stmt.Exec(schema.Table, a.Name, string(a.Index)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveIndex binds one more column of an existing table.
func (s *Store) SaveIndex(table, column string, kind common.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT INTO indexes (tbl, col, kind) VALUES (?, ?, ?)", table, column, string(kind))
	return err
}

// DeleteTable forgets a table and its bindings.
func (s *Store) DeleteTable(table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM indexes WHERE tbl = ?", table); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM tables WHERE name = ?", table); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LoadAll returns every stored schema with its index bindings applied.
func (s *Store) LoadAll() ([]*common.Schema, error) {
	rows, err := s.db.Query("SELECT name, schema FROM tables ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []*common.Schema
	byName := map[string]*common.Schema{}
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, err
		}
		sc := &common.Schema{}
		if err := json.Unmarshal(blob, sc); err != nil {
			return nil, fmt.Errorf("%w: catalog entry %s: %v", common.ErrInvalidSchema, name, err)
		}
		schemas = append(schemas, sc)
		byName[name] = sc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	idx, err := s.db.Query("SELECT tbl, col, kind FROM indexes")
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	for idx.Next() {
		var tbl, col, kind string
		if err := idx.Scan(&tbl, &col, &kind); err != nil {
			return nil, err
		}
		sc, ok := byName[tbl]
		if !ok {
			continue
		}
		if a := sc.Attr(col); a != nil {
			a.Index = common.Kind(kind)
		}
	}
	return schemas, idx.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
