package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dragon-bot/dragon/pkg/api"
)

// SQLiteStore keeps documents in a single SQLite table.
type SQLiteStore struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// NewSQLiteStore opens path (":memory:" works) and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("%w: set busy timeout: %v", ErrStorage, err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("%w: apply migration: %v", ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, tenant api.Snowflake, module string, v any) (bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE tenant = ? AND module = ?`,
		tenant.String(), module).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("select", tenant, module, err)
	}
	return true, decode(tenant, module, []byte(body), v)
}

func (s *SQLiteStore) Save(ctx context.Context, tenant api.Snowflake, module string, v any) error {
	b, err := encode(tenant, module, v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (tenant, module, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant, module) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		tenant.String(), module, string(b), time.Now().Unix())
	if err != nil {
		return wrap("upsert", tenant, module, err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
