// Package sqlitestore persists the client session in a local SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrsteele09/go-auth-pipeline/session"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	user_blob     BLOB
)`

var _ session.Store = (*Store)(nil)

// Store keeps a single session row; SaveAll upserts it and Clear deletes it.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the SQLite session database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := "file:" + cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create session table: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.column(ctx, "access_token")
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.column(ctx, "refresh_token")
}

func (s *Store) SaveAll(ctx context.Context, sess session.Session) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO session (id, access_token, refresh_token, user_blob) VALUES (1, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	user_blob = excluded.user_blob`,
		sess.AccessToken, sess.RefreshToken, []byte(sess.User))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Load returns the whole session row, or an empty session when none is stored.
func (s *Store) Load(ctx context.Context) (session.Session, error) {
	var (
		sess session.Session
		user []byte
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, user_blob FROM session WHERE id = 1`,
	).Scan(&sess.AccessToken, &sess.RefreshToken, &user)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, nil
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	if len(user) > 0 {
		sess.User = user
	}
	return sess, nil
}

func (s *Store) column(ctx context.Context, column string) (string, error) {
	var value string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT `+column+` FROM session WHERE id = 1`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", column, err)
	}
	return value, nil
}
