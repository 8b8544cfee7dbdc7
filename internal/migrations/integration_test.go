//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

func TestRunnerRoundTripsHistorySchema(t *testing.T) {
	db := openScratchDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runner := NewRunner()
	applied, err := runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied < 1 {
		t.Fatalf("Up() applied %d, want at least 1", applied)
	}
	if again, err := runner.Up(ctx, db, 0); err != nil || again != 0 {
		t.Fatalf("second Up() = %d, %v; want 0, nil", again, err)
	}
	requireAllApplied(t, ctx, runner, db, true)

	var id int64
	if err := db.QueryRowContext(ctx,
		`INSERT INTO query_history (sql_text, status, row_count, duration_ms) VALUES ('SELECT 1', 'ok', 1, 0) RETURNING id`,
	).Scan(&id); err != nil {
		t.Fatalf("insert into migrated schema: %v", err)
	}

	rolledBack, err := runner.Down(ctx, db, applied)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != applied {
		t.Fatalf("Down() rolled back %d, want %d", rolledBack, applied)
	}
	requireAllApplied(t, ctx, runner, db, false)

	var regclass sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('public.query_history')::text`).Scan(&regclass); err != nil {
		t.Fatalf("to_regclass: %v", err)
	}
	if regclass.Valid {
		t.Fatalf("query_history still exists after Down()")
	}
}

func requireAllApplied(t *testing.T, ctx context.Context, runner *Runner, db *sql.DB, want bool) {
	t.Helper()
	statuses, err := runner.Status(ctx, db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("Status() returned no migrations")
	}
	for _, status := range statuses {
		if status.Applied != want {
			t.Fatalf("migration %06d_%s applied = %v, want %v", status.Version, status.Name, status.Applied, want)
		}
	}
}

// openScratchDatabase creates a throwaway database next to the one named by
// DUCKPAD_TEST_HISTORY_DSN and drops it when the test ends.
func openScratchDatabase(t *testing.T) *sql.DB {
	t.Helper()
	adminDSN := strings.TrimSpace(os.Getenv("DUCKPAD_TEST_HISTORY_DSN"))
	if adminDSN == "" {
		t.Skip("DUCKPAD_TEST_HISTORY_DSN is not set")
	}

	ctx := context.Background()
	admin, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		t.Fatalf("pgx.Connect() error = %v", err)
	}
	name := fmt.Sprintf("duckpad_migrations_%d", time.Now().UnixNano())
	ident := pgx.Identifier{name}.Sanitize()
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+ident); err != nil {
		_ = admin.Close(ctx)
		t.Fatalf("create scratch database: %v", err)
	}

	connConfig, err := pgx.ParseConfig(adminDSN)
	if err != nil {
		t.Fatalf("pgx.ParseConfig() error = %v", err)
	}
	connConfig.Database = name
	db := stdlib.OpenDB(*connConfig)

	t.Cleanup(func() {
		_ = db.Close()
		if _, err := admin.Exec(ctx, "DROP DATABASE IF EXISTS "+ident+" WITH (FORCE)"); err != nil {
			t.Errorf("drop scratch database: %v", err)
		}
		_ = admin.Close(ctx)
	})
	return db
}
