package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gl-yziquel/himalaya/internal/credential"
	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/testutil"
)

const testConfig = `
[work]
email = "me@work.example"
default = true
maildir-root-dir = %q
smtp-host = "smtp.work.example"
smtp-login = "me"
smtp-passwd-keyring = "work-smtp"

[cloud]
email = "me@cloud.example"
imap-host = "imap.cloud.example"
imap-login = "me@cloud.example"
imap-auth = "oauth2"
imap-oauth2-client-id = "client"
imap-oauth2-pkce = true
imap-oauth2-auth-url = "%s/auth"
imap-oauth2-token-url = "%s/token"
imap-oauth2-access-token-keyring = "cloud-access"
imap-oauth2-refresh-token-keyring = "cloud-refresh"
imap-oauth2-scope = "mail"
`

type fixture struct {
	app     *App
	ring    *credential.Keyring
	calls   *atomic.Int32
	mailDir string
}

func newFixture(t *testing.T, account string) *fixture {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"access-%d","refresh_token":"refresh-%d","token_type":"Bearer","expires_in":3600}`, calls.Load(), calls.Load())
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	mailDir := filepath.Join(dir, "Mail")
	require.NoError(t, os.Mkdir(mailDir, 0o700))

	path := testutil.WriteConfig(t, fmt.Sprintf(testConfig, mailDir, srv.URL, srv.URL))

	ring := credential.NewMemory(map[string]string{"cloud-refresh": "refresh-0"})
	a, err := New(
		&model.Settings{ConfigPath: path, Account: account, TokenTimeout: 5 * time.Second},
		WithKeyring(ring),
		WithStore(testutil.NewTestStore(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	return &fixture{app: a, ring: ring, calls: &calls, mailDir: mailDir}
}

func TestAccountSelection(t *testing.T) {
	f := newFixture(t, "")
	id, err := f.app.Account("")
	require.NoError(t, err)
	assert.Equal(t, "work", id.Name)

	f = newFixture(t, "cloud")
	id, err = f.app.Account("")
	require.NoError(t, err)
	assert.Equal(t, "cloud", id.Name)

	ids, err := f.app.Accounts()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestCheckWithoutConnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	id, err := f.app.Account("work")
	require.NoError(t, err)

	results := f.app.Check(ctx, id, false)
	require.Len(t, results, 2)
	assert.Equal(t, model.KindSmtp, results[0].Protocol)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Message, "work-smtp")
	assert.Equal(t, model.KindMaildir, results[1].Protocol)
	assert.True(t, results[1].OK)

	entries := KeyringSecrets(Secrets(id))
	require.Len(t, entries, 1)
	assert.Equal(t, "smtp password", entries[0].Label())
	require.NoError(t, f.app.SetSecret(ctx, entries[0], "s3cret"))

	results = f.app.Check(ctx, id, false)
	assert.True(t, results[0].OK)
	assert.NotContains(t, results[0].Message, "s3cret")

	checks, err := f.app.Store().GetLastChecks(ctx, "work")
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.True(t, checks[0].OK)
}

func TestToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "cloud")
	id, err := f.app.Account("")
	require.NoError(t, err)
	assert.Equal(t, []model.ProtocolKind{model.KindImap}, OAuth2Protocols(id))

	token, expiry, err := f.app.Token(ctx, id, model.KindImap, false)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token, "missing keyring access token triggers a refresh")
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, time.Minute)

	stored, err := f.ring.Get("cloud-access")
	require.NoError(t, err)
	assert.Equal(t, "access-1", stored)
	stored, err = f.ring.Get("cloud-refresh")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", stored)

	token, _, err = f.app.Token(ctx, id, model.KindImap, false)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, int32(1), f.calls.Load())

	token, _, err = f.app.Token(ctx, id, model.KindImap, true)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	_, ok, err := f.app.Store().TokenExpiry(ctx, "cloud:imap")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = f.app.Token(ctx, id, model.KindSmtp, false)
	assert.Error(t, err)
}

func TestResetSecrets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "cloud")
	id, err := f.app.Account("")
	require.NoError(t, err)

	_, _, err = f.app.Token(ctx, id, model.KindImap, false)
	require.NoError(t, err)

	require.NoError(t, f.app.ResetSecrets(ctx, id))

	keys, err := f.ring.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, ok, err := f.app.Store().TokenExpiry(ctx, "cloud:imap")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t, "cloud")
	id, err := f.app.Account("")
	require.NoError(t, err)

	auth, err := f.app.Authorize(id, model.KindImap, "http://localhost:49152")
	require.NoError(t, err)
	assert.True(t, strings.Contains(auth.URL, "client_id=client"))
	assert.Contains(t, auth.URL, "code_challenge=")
	assert.NotEmpty(t, auth.Verifier)
	assert.NotEmpty(t, auth.State)

	require.NoError(t, f.app.CompleteAuthorization(context.Background(), id, model.KindImap, "http://localhost:49152", "code", auth.Verifier))
	stored, err := f.ring.Get("cloud-access")
	require.NoError(t, err)
	assert.Equal(t, "access-1", stored)

	work, err := f.app.Account("work")
	require.NoError(t, err)
	_, err = f.app.Authorize(work, model.KindImap, "http://localhost")
	assert.Error(t, err)
}
