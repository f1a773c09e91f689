package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	logx "schoolbell/pkg/logx"
)

//go:embed migrations.sql
var schema string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	insertAudit *sql.Stmt
	upsertState *sql.Stmt
	selectState *sql.Stmt
}

// sqliteDSN builds a modernc DSN carrying the pragmas every connection needs.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(cfg.Path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// One writer; the controller never needs more.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := prepareSQLite(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log = log
	log.Debug("sqlite store opened", logx.String("path", cfg.Path))
	return st, nil
}

func prepareSQLite(ctx context.Context, db *sql.DB) (*sqliteStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st := &sqliteStore{db: db}
	for _, p := range []struct {
		dst   **sql.Stmt
		query string
	}{
		{&st.insertAudit, `INSERT INTO audit(at, source, action, track, volume, label, err) VALUES(?,?,?,?,?,?,?)`},
		{&st.upsertState, `INSERT INTO state(key, value, updated_at) VALUES(?,?,?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`},
		{&st.selectState, `SELECT value FROM state WHERE key = ?`},
	} {
		stmt, err := db.PrepareContext(ctx, p.query)
		if err != nil {
			return nil, fmt.Errorf("prepare: %w", err)
		}
		*p.dst = stmt
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	for _, stmt := range []*sql.Stmt{s.insertAudit, s.upsertState, s.selectState} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.insertAudit.ExecContext(ctx,
		e.At.UTC().Format(time.RFC3339Nano), e.Source, e.Action, e.Track, e.Volume,
		optional(e.Label), optional(e.Error))
	return err
}

func (s *sqliteStore) PutState(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.upsertState.ExecContext(ctx, key, value, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	if key == "" {
		return "", false, nil
	}
	var v string
	switch err := s.selectState.QueryRowContext(ctx, key).Scan(&v); {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return v, true, nil
}

// optional stores blank text as NULL.
func optional(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
