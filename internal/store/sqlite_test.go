package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gl-yziquel/himalaya/internal/oauth"
	"github.com/gl-yziquel/himalaya/internal/store"
	"github.com/gl-yziquel/himalaya/internal/testutil"
)

var _ oauth.ExpiryStore = (*store.SQLiteStore)(nil)

func TestTokenExpiry(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	_, ok, err := s.TokenExpiry(ctx, "work:imap")
	require.NoError(t, err)
	assert.False(t, ok)

	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveTokenExpiry(ctx, "work:imap", expiry))

	got, ok, err := s.TokenExpiry(ctx, "work:imap")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, expiry.Equal(got), "got %s", got)

	later := expiry.Add(time.Hour)
	require.NoError(t, s.SaveTokenExpiry(ctx, "work:imap", later))
	got, _, err = s.TokenExpiry(ctx, "work:imap")
	require.NoError(t, err)
	assert.True(t, later.Equal(got))

	require.NoError(t, s.SaveTokenExpiry(ctx, "home:smtp", expiry))
	states, err := s.GetTokenStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "home:smtp", states[0].Key)
	assert.Equal(t, "work:imap", states[1].Key)

	require.NoError(t, s.DeleteTokenState(ctx, "work:imap"))
	_, ok, err = s.TokenExpiry(ctx, "work:imap")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckResults(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordCheck(ctx, store.CheckResult{Account: "work", Protocol: "imap", OK: false, Message: "login failed", CheckedAt: base}))
	require.NoError(t, s.RecordCheck(ctx, store.CheckResult{Account: "work", Protocol: "imap", OK: true, CheckedAt: base.Add(time.Minute)}))
	require.NoError(t, s.RecordCheck(ctx, store.CheckResult{Account: "work", Protocol: "smtp", OK: true, CheckedAt: base}))
	require.NoError(t, s.RecordCheck(ctx, store.CheckResult{Account: "home", Protocol: "imap", OK: false, CheckedAt: base}))

	checks, err := s.GetLastChecks(ctx, "work")
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, "imap", checks[0].Protocol)
	assert.True(t, checks[0].OK)
	assert.NotEmpty(t, checks[0].ID)
	assert.Equal(t, "smtp", checks[1].Protocol)

	checks, err = s.GetLastChecks(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, checks)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := testutil.StatePath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveTokenExpiry(context.Background(), "k", time.Now()))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.TokenExpiry(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
