package tool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var sqliteStoreSchema = []string{
	`CREATE TABLE IF NOT EXISTS tool_snapshots (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload BLOB NOT NULL,
	refreshed_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS invocations (
	id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	arguments TEXT NOT NULL,
	is_error INTEGER NOT NULL,
	error_code TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_invocations_created_at ON invocations(created_at)`,
}

const (
	defaultSQLiteStoreDir = ".payassist"
	defaultSQLiteStoreDB  = "payassist.db"
	defaultHistoryLimit   = 20

	// storeTimeLayout is fixed width so stored timestamps sort lexically.
	storeTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store persists the tool catalog and the invocation history.
type Store interface {
	SaveSnapshot(ctx context.Context, tools []Tool) error
	LoadSnapshot(ctx context.Context) ([]Tool, time.Time, bool, error)
	RecordInvocation(ctx context.Context, rec InvocationRecord) error
	ListInvocations(ctx context.Context, limit int) ([]InvocationRecord, error)
}

// InvocationRecord is one entry in the invocation history.
type InvocationRecord struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	IsError    bool           `json:"is_error"`
	ErrorCode  string         `json:"error_code,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SQLiteStoreConfig configures the SQLite-backed store.
type SQLiteStoreConfig struct {
	DSN string
	// Scope salts the argument key derivation; defaults to DSN.
	Scope string
}

// SQLiteStore keeps the last good tool catalog and the invocation history
// in SQLite. Invocation arguments are sealed at rest.
type SQLiteStore struct {
	db     *sql.DB
	sealer *argumentSealer
}

// DefaultSQLitePath returns ~/.payassist/payassist.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tool: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultSQLiteStoreDir, defaultSQLiteStoreDB), nil
}

// NewSQLiteStore opens (or creates) the store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("tool: sqlite store dsn is required")
	}
	if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("tool: sqlite store create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: sqlite store set WAL mode: %w", err)
	}
	for _, stmt := range sqliteStoreSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("tool: sqlite store create schema: %w", err)
		}
	}

	scope := cfg.Scope
	if strings.TrimSpace(scope) == "" {
		scope = cfg.DSN
	}
	sealer, err := newArgumentSealer(scope)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: sqlite store init sealer: %w", err)
	}

	return &SQLiteStore{db: db, sealer: sealer}, nil
}

// SaveSnapshot replaces the stored catalog.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, tools []Tool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("tool: sqlite store is nil")
	}
	if tools == nil {
		tools = []Tool{}
	}

	payload, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("tool: encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tool_snapshots (id, payload, refreshed_at)
VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	payload = excluded.payload,
	refreshed_at = excluded.refreshed_at`,
		payload,
		time.Now().UTC().Format(storeTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("tool: sqlite save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored catalog and when it was saved. ok is
// false when nothing has been saved yet.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) ([]Tool, time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, false, err
	}
	if s == nil || s.db == nil {
		return nil, time.Time{}, false, errors.New("tool: sqlite store is nil")
	}

	var (
		payload     []byte
		refreshedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, refreshed_at FROM tool_snapshots WHERE id = 1`).
		Scan(&payload, &refreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("tool: sqlite load snapshot: %w", err)
	}

	var tools []Tool
	if err := json.Unmarshal(payload, &tools); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("tool: decode snapshot: %w", err)
	}
	at, err := time.Parse(storeTimeLayout, refreshedAt)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("tool: parse snapshot time: %w", err)
	}
	return tools, at, true, nil
}

// RecordInvocation appends rec to the history. An empty ID is filled with a
// new UUID and a zero CreatedAt with the current time.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, rec InvocationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("tool: sqlite store is nil")
	}
	if strings.TrimSpace(rec.ToolName) == "" {
		return errors.New("tool: invocation tool name is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	args := rec.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool: encode invocation arguments: %w", err)
	}
	sealed, err := s.sealer.seal(rec.ID, argBytes)
	if err != nil {
		return fmt.Errorf("tool: seal invocation arguments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO invocations (id, tool_name, arguments, is_error, error_code, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.ToolName,
		sealed,
		rec.IsError,
		rec.ErrorCode,
		rec.DurationMS,
		rec.CreatedAt.UTC().Format(storeTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("tool: sqlite record invocation: %w", err)
	}
	return nil
}

// ListInvocations returns up to limit records, newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, limit int) ([]InvocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("tool: sqlite store is nil")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, tool_name, arguments, is_error, error_code, duration_ms, created_at
FROM invocations
ORDER BY created_at DESC, id ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite list invocations: %w", err)
	}
	defer rows.Close()

	var out []InvocationRecord
	for rows.Next() {
		var (
			rec       InvocationRecord
			sealed    string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.ToolName, &sealed, &rec.IsError, &rec.ErrorCode, &rec.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("tool: sqlite scan invocation: %w", err)
		}
		plain, err := s.sealer.open(rec.ID, sealed)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(plain, &rec.Arguments); err != nil {
			return nil, fmt.Errorf("tool: decode invocation arguments: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(storeTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("tool: parse invocation time: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tool: sqlite invocation rows: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
