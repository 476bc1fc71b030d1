// Package prefs persists the client values that survive a restart in a
// local sqlite database.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"marketvalues/internal/interfaces"
)

const (
	KeySelectedStock = "selectedStock"
	KeyTheme         = "theme"
	KeyToken         = "token"
	KeyUser          = "user"
)

var ErrNoToken = errors.New("prefs: no auth token stored")

// User is the signed-in dashboard account as cached next to its token.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type Store struct {
	db *sql.DB
}

var (
	_ interfaces.StateStore  = (*Store)(nil)
	_ interfaces.TokenSource = (*Store)(nil)
)

// Open creates or opens the state database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_unix_millis INTEGER NOT NULL
	)`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_state (key, value, updated_unix_millis) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_unix_millis = excluded.updated_unix_millis`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) SelectedSymbol(ctx context.Context, fallback string) (string, error) {
	v, ok, err := s.Get(ctx, KeySelectedStock)
	if err != nil || !ok || v == "" {
		return fallback, err
	}
	return v, nil
}

func (s *Store) Theme(ctx context.Context) (string, error) {
	v, ok, err := s.Get(ctx, KeyTheme)
	if err != nil || !ok {
		return "dark", err
	}
	return v, nil
}

func (s *Store) SetTheme(ctx context.Context, theme string) error {
	return s.Set(ctx, KeyTheme, theme)
}

// Token implements interfaces.TokenSource.
func (s *Store) Token(ctx context.Context) (string, error) {
	v, ok, err := s.Get(ctx, KeyToken)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", ErrNoToken
	}
	return v, nil
}

func (s *Store) SetAuth(ctx context.Context, token string, user User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.Set(ctx, KeyToken, token); err != nil {
		return err
	}
	return s.Set(ctx, KeyUser, string(b))
}

func (s *Store) User(ctx context.Context) (User, bool, error) {
	v, ok, err := s.Get(ctx, KeyUser)
	if err != nil || !ok {
		return User{}, false, err
	}
	var u User
	if err := json.Unmarshal([]byte(v), &u); err != nil {
		return User{}, false, fmt.Errorf("decode user: %w", err)
	}
	return u, true, nil
}

// ClearAuth forgets the token and user, as a logout does.
func (s *Store) ClearAuth(ctx context.Context) error {
	if err := s.Delete(ctx, KeyToken); err != nil {
		return err
	}
	return s.Delete(ctx, KeyUser)
}

// StaticToken is a TokenSource for a token supplied out of band (env, flag).
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// FirstToken tries each source in order and returns the first token found.
type FirstToken []interfaces.TokenSource

func (f FirstToken) Token(ctx context.Context) (string, error) {
	for _, src := range f {
		tok, err := src.Token(ctx)
		if err == nil && tok != "" {
			return tok, nil
		}
		if err != nil && !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}
