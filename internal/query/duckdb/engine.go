package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckpad/duckpad/internal/demo"
	"github.com/duckpad/duckpad/internal/query"
)

type Config struct {
	// Path is the database file; empty means an in-memory database.
	Path     string
	Threads  int
	SeedDemo bool
}

// Engine owns the single connection to the embedded database. It is
// connected once and shared by every query until Close, so session state such
// as temp tables and SET variables is visible to later queries. Concurrent
// queries wait for the connection.
type Engine struct {
	cfg Config

	mu        sync.RWMutex
	db        *sql.DB
	attempted bool
	initErr   error
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Connect opens the database and seeds the demo table. It runs at most once;
// later calls return the outcome of the first attempt.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attempted {
		return e.initErr
	}
	e.attempted = true

	db, err := e.open(ctx)
	if err != nil {
		e.initErr = err
		return err
	}
	e.db = db
	return nil
}

func (e *Engine) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("duckdb", e.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if e.cfg.Threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET threads TO %d", e.cfg.Threads)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set duckdb threads: %w", err)
		}
	}
	if e.cfg.SeedDemo {
		if _, err := db.ExecContext(ctx, demo.SeedSQL()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed demo table: %w", err)
		}
	}
	return db, nil
}

func (e *Engine) Status() query.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return query.Status{Connected: e.db != nil, Err: e.initErr}
}

func (e *Engine) Ping(ctx context.Context) error {
	db, err := e.conn()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping duckdb: %w", err)
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText, err := query.Normalize(request.SQL)
	if err != nil {
		return query.Result{}, err
	}
	db, err := e.conn()
	if err != nil {
		return query.Result{}, err
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return query.Result{}, fmt.Errorf("query column types: %w", err)
	}
	typeNames := make([]string, len(columnTypes))
	for i, columnType := range columnTypes {
		typeNames[i] = columnType.DatabaseTypeName()
	}

	result := query.Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if request.MaxRows > 0 && len(result.Rows) >= request.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(typeNames, values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func (e *Engine) conn() (*sql.DB, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db != nil {
		return e.db, nil
	}
	if e.initErr != nil {
		return nil, fmt.Errorf("%w: %w", query.ErrNotConnected, e.initErr)
	}
	return nil, query.ErrNotConnected
}

// normalizeValues turns driver byte slices into text: UUID columns in their
// canonical form, everything else in the escaped form DuckDB prints for BLOBs.
func normalizeValues(typeNames []string, values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		typed, ok := value.([]byte)
		if !ok {
			normalized[i] = value
			continue
		}
		typeName := ""
		if i < len(typeNames) {
			typeName = typeNames[i]
		}
		if typeName == "UUID" {
			if id, err := uuid.FromBytes(typed); err == nil {
				normalized[i] = id.String()
				continue
			}
		}
		normalized[i] = formatBlob(typed)
	}
	return normalized
}

func formatBlob(data []byte) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 0x20 && c <= 0x7e && c != '\\' && c != '\'' && c != '"' {
			b.WriteByte(c)
			continue
		}
		b.WriteString(`\x`)
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

var _ query.Engine = (*Engine)(nil)

