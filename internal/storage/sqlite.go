//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendNotification(ctx context.Context, rec NotificationRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(at, module, key, summary, body, urgency, server_id, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		rec.At.Format(time.RFC3339Nano), rec.Module, rec.Key, rec.Summary, rec.Body,
		rec.Urgency, rec.ServerID, nullStr(rec.Error),
	)
	return err
}

func (s *sqliteStore) PutHandle(ctx context.Context, key string, id uint32) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" || id == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO handles(key, id) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET id=excluded.id`,
		key, id,
	)
	return err
}

func (s *sqliteStore) DeleteHandle(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM handles WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) Handles(ctx context.Context) (map[string]uint32, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, id FROM handles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]uint32{}
	for rows.Next() {
		var key string
		var id uint32
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		out[key] = id
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
