package store

import (
	"context"
	"time"
)

// TokenState is the persisted runtime state of one OAuth2 credential.
type TokenState struct {
	Key       string    `db:"key"`
	ExpiresAt time.Time `db:"expires_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CheckResult records the outcome of one account check.
type CheckResult struct {
	ID        string    `db:"id"`
	Account   string    `db:"account"`
	Protocol  string    `db:"protocol"`
	OK        bool      `db:"ok"`
	Message   string    `db:"message"`
	CheckedAt time.Time `db:"checked_at"`
}

// Store defines the persistence interface for credential runtime state.
// Secrets are never stored here.
type Store interface {
	// === Token state ===

	TokenExpiry(ctx context.Context, key string) (time.Time, bool, error)
	SaveTokenExpiry(ctx context.Context, key string, expiry time.Time) error
	DeleteTokenState(ctx context.Context, key string) error
	GetTokenStates(ctx context.Context) ([]TokenState, error)

	// === Account checks ===

	RecordCheck(ctx context.Context, result CheckResult) error
	GetLastChecks(ctx context.Context, account string) ([]CheckResult, error)

	Close() error
}
