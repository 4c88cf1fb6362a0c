package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// TokenExpiry returns the stored access token expiry for key.
func (s *SQLiteStore) TokenExpiry(ctx context.Context, key string) (time.Time, bool, error) {
	var state TokenState
	err := s.db.GetContext(ctx, &state, "SELECT * FROM token_states WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("getting token state %s: %w", key, err)
	}
	return state.ExpiresAt, true, nil
}

// SaveTokenExpiry inserts or replaces the expiry recorded for key.
func (s *SQLiteStore) SaveTokenExpiry(ctx context.Context, key string, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_states (key, expires_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, expiry.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving token state %s: %w", key, err)
	}
	return nil
}

// DeleteTokenState forgets the expiry of key.
func (s *SQLiteStore) DeleteTokenState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM token_states WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("deleting token state %s: %w", key, err)
	}
	return nil
}

// GetTokenStates retrieves every token state ordered by key.
func (s *SQLiteStore) GetTokenStates(ctx context.Context) ([]TokenState, error) {
	var states []TokenState
	if err := s.db.SelectContext(ctx, &states, "SELECT * FROM token_states ORDER BY key"); err != nil {
		return nil, fmt.Errorf("querying token states: %w", err)
	}
	return states, nil
}

// RecordCheck inserts a check result, assigning an ID when empty.
func (s *SQLiteStore) RecordCheck(ctx context.Context, result CheckResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CheckedAt.IsZero() {
		result.CheckedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_results (id, account, protocol, ok, message, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.ID, result.Account, result.Protocol,
		boolToInt(result.OK), result.Message, result.CheckedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording check for %s: %w", result.Account, err)
	}
	return nil
}

// GetLastChecks returns the most recent check of each protocol of
// account, ordered by protocol.
func (s *SQLiteStore) GetLastChecks(ctx context.Context, account string) ([]CheckResult, error) {
	var results []CheckResult
	err := s.db.SelectContext(ctx, &results, `
		SELECT c.* FROM check_results c
		WHERE c.account = ? AND c.checked_at = (
			SELECT MAX(checked_at) FROM check_results
			WHERE account = c.account AND protocol = c.protocol
		)
		ORDER BY c.protocol`,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("querying checks for %s: %w", account, err)
	}
	return results, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
