// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Keeps sync checkpoints with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Pass nil logger for default.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sync_checkpoints (
			meetup_id  INTEGER NOT NULL,
			user_id    INTEGER NOT NULL,
			last_sync  TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (meetup_id, user_id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LastSync returns the stored checkpoint, or the zero time if none exists.
func (s *SQLiteStore) LastSync(ctx context.Context, meetupID, userID int64) (time.Time, error) {
	if err := validKey(meetupID, userID); err != nil {
		return time.Time{}, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync FROM sync_checkpoints WHERE meetup_id = ? AND user_id = ?`,
		meetupID, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying checkpoint: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing checkpoint %q: %w", raw, err)
	}
	return at, nil
}

// SaveLastSync stores at unless a later checkpoint is already stored.
func (s *SQLiteStore) SaveLastSync(ctx context.Context, meetupID, userID int64, at time.Time) error {
	if err := validKey(meetupID, userID); err != nil {
		return err
	}
	if at.IsZero() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT last_sync FROM sync_checkpoints WHERE meetup_id = ? AND user_id = ?`,
		meetupID, userID,
	).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("querying checkpoint: %w", err)
	default:
		if stored, perr := time.Parse(time.RFC3339Nano, raw); perr == nil && !at.After(stored) {
			return nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (meetup_id, user_id, last_sync, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(meetup_id, user_id) DO UPDATE SET
			last_sync = excluded.last_sync,
			updated_at = excluded.updated_at
	`, meetupID, userID, formatTime(at), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}

	s.logger.Debug("sync checkpoint saved",
		"meetup_id", meetupID,
		"user_id", userID,
		"last_sync", at)
	return nil
}

// ClearLastSync removes a checkpoint so the next sync fetches recent history.
func (s *SQLiteStore) ClearLastSync(ctx context.Context, meetupID, userID int64) error {
	if err := validKey(meetupID, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_checkpoints WHERE meetup_id = ? AND user_id = ?`,
		meetupID, userID)
	if err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	return nil
}

// Checkpoints lists every stored checkpoint ordered by meetup and user.
func (s *SQLiteStore) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT meetup_id, user_id, last_sync, updated_at
		FROM sync_checkpoints
		ORDER BY meetup_id, user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var lastSync, updatedAt string
		if err := rows.Scan(&cp.MeetupID, &cp.UserID, &lastSync, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		if cp.LastSync, err = time.Parse(time.RFC3339Nano, lastSync); err != nil {
			return nil, fmt.Errorf("parsing last_sync: %w", err)
		}
		if cp.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var _ Store = (*SQLiteStore)(nil)
