package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tuskdata/tusk/pkg/types"
)

// SQLiteName is the registered name of the sqlite engine
const SQLiteName = "sqlite"

func init() {
	Register(SQLiteName, newSQLite)
}

// SQLite runs SQL text against sqlite databases. Query params bind as named parameters
// (:name, @name or $name).
type SQLite struct {
	cfg Config
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func newSQLite(cfg Config) (Engine, error) {
	if cfg.DSN == "" {
		cfg.DSN = "file::memory:?cache=shared"
	}
	e := &SQLite{cfg: cfg, dbs: make(map[string]*sql.DB)}
	if _, err := e.db(""); err != nil {
		return nil, err
	}
	return e, nil
}

// Name returns the engine name
func (e *SQLite) Name() string {
	return SQLiteName
}

// db returns the pool for a datasource, opening it on first use
func (e *SQLite) db(datasource string) (*sql.DB, error) {
	dsn := e.cfg.DSN
	if datasource != "" {
		var ok bool
		dsn, ok = e.cfg.Datasources[datasource]
		if !ok {
			return nil, fmt.Errorf("unknown datasource %q", datasource)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if db, ok := e.dbs[dsn]; ok {
		return db, nil
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// every connection to a private in-memory database would see a different database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e.dbs[dsn] = db
	return db, nil
}

// Execute runs query.Text and emits its rows in batches
func (e *SQLite) Execute(ctx context.Context, query types.QuerySpec, emit EmitFunc, progress ProgressFunc) error {
	db, err := e.db(query.Datasource)
	if err != nil {
		return err
	}

	args := make([]any, 0, len(query.Params))
	for name, value := range query.Params {
		args = append(args, sql.Named(name, value))
	}

	rows, err := db.QueryContext(ctx, query.Text, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return err
	}
	names := make([]string, len(colTypes))
	kinds := make([]string, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.Name()
		kinds[i] = ct.DatabaseTypeName()
	}

	b := newBatcher(names, kinds, e.cfg.BatchSize, emit)
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range values {
			if raw, ok := v.([]byte); ok {
				values[i] = string(raw)
			}
		}
		if err := b.add(values); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := b.flush(); err != nil {
		return err
	}
	// an empty result still produces one batch carrying the column names
	if b.rows == 0 && len(names) > 0 {
		if err := emit(b.batch); err != nil {
			return err
		}
	}
	progress(1)
	return nil
}

// Close closes every open database
func (e *SQLite) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for dsn, db := range e.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.dbs, dsn)
	}
	return firstErr
}
