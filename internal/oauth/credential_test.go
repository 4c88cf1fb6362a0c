package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gl-yziquel/himalaya/internal/credential"
	"github.com/gl-yziquel/himalaya/internal/secret"
)

type tokenServer struct {
	*httptest.Server

	calls atomic.Int32

	mu    sync.Mutex
	forms []url.Values
}

func newTokenServer(t *testing.T, respond func(w http.ResponseWriter, form url.Values)) *tokenServer {
	t.Helper()

	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		assert.NoError(t, r.ParseForm())

		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.mu.Unlock()

		respond(w, r.PostForm)
	}))
	t.Cleanup(ts.Close)

	return ts
}

func (ts *tokenServer) lastForm() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.forms[len(ts.forms)-1]
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func grantToken(access, refresh string) func(http.ResponseWriter, url.Values) {
	return func(w http.ResponseWriter, _ url.Values) {
		body := map[string]any{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if refresh != "" {
			body["refresh_token"] = refresh
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func testConfig(tokenURL string) Config {
	return Config{
		Method:       XOAuth2,
		ClientID:     "client-id",
		ClientSecret: secret.Literal("client-secret").WithField("imap-oauth2-client-secret"),
		AuthURL:      "https://auth.example.com/authorize",
		TokenURL:     tokenURL,
		AccessToken:  secret.Literal("old-access").WithField("imap-oauth2-access-token"),
		RefreshToken: secret.Literal("refresh-1").WithField("imap-oauth2-refresh-token"),
		Scopes:       []string{"https://mail.example.com/"},
	}
}

func notExpired() bool { return false }
func expired() bool    { return true }

func TestBearerTokenWithoutRefresh(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", ""))
	cred := New(testConfig(ts.URL))

	got, err := cred.BearerToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-access", got)
	assert.Zero(t, ts.calls.Load())
}

func TestEnsureFreshRefreshesOnce(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", ""))
	cred := New(testConfig(ts.URL))
	ctx := context.Background()

	var isExpired atomic.Bool
	isExpired.Store(true)
	predicate := func() bool { return isExpired.Load() }

	got, err := cred.EnsureFresh(ctx, predicate)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
	assert.EqualValues(t, 1, ts.calls.Load())

	form := ts.lastForm()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "refresh-1", form.Get("refresh_token"))
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))

	isExpired.Store(false)
	for range 3 {
		got, err = cred.EnsureFresh(ctx, predicate)
		require.NoError(t, err)
		assert.Equal(t, "new-access", got)
	}
	assert.EqualValues(t, 1, ts.calls.Load())

	cfg := cred.Config()
	assert.Equal(t, secret.KindLiteral, cfg.AccessToken.Kind)
	assert.Equal(t, "refresh-1", cfg.RefreshToken.Value, "refresh token is kept when none is issued")
	assert.False(t, cred.Expired())
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.Expiry(ctx), time.Minute)
}

func TestEnsureFreshEmptyAccessToken(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", ""))
	cfg := testConfig(ts.URL)
	cfg.AccessToken = secret.Source{}
	cred := New(cfg)

	got, err := cred.EnsureFresh(context.Background(), notExpired)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestRefreshInvalidGrant(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		})
	})
	cred := New(testConfig(ts.URL))
	before := cred.Config()

	_, err := cred.EnsureFresh(context.Background(), expired)
	require.Error(t, err)
	assert.True(t, IsRefreshTokenExhausted(err))
	assert.Equal(t, before, cred.Config())
	assert.True(t, cred.Expiry(context.Background()).IsZero())
}

func TestRefreshEndpointError(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "server_error"})
	})
	cred := New(testConfig(ts.URL))

	_, err := cred.EnsureFresh(context.Background(), expired)
	var oauthErr *Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, TokenEndpointError, oauthErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, oauthErr.Status)
	assert.Contains(t, oauthErr.Body, "server_error")
	assert.NotContains(t, err.Error(), "refresh-1")
}

func TestConcurrentEnsureFreshSingleRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		once.Do(func() { close(entered) })
		<-release
		grantToken("new-access", "")(w, form)
	})
	cred := New(testConfig(ts.URL))
	ctx := context.Background()

	results := make(chan string, 2)
	errs := make(chan error, 2)
	call := func() {
		token, err := cred.EnsureFresh(ctx, expired)
		results <- token
		errs <- err
	}

	go call()
	<-entered
	go call()
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range 2 {
		require.NoError(t, <-errs)
		assert.Equal(t, "new-access", <-results)
	}
	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestConcurrentEnsureFreshSharesFailure(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	ts := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		once.Do(func() { close(entered) })
		<-release
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	})
	cred := New(testConfig(ts.URL))
	ctx := context.Background()

	errs := make(chan error, 2)
	call := func() {
		_, err := cred.EnsureFresh(ctx, expired)
		errs <- err
	}

	go call()
	<-entered
	go call()
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range 2 {
		assert.True(t, IsRefreshTokenExhausted(<-errs))
	}
	assert.EqualValues(t, 1, ts.calls.Load())

	// A later caller tries again.
	_, err := cred.EnsureFresh(ctx, expired)
	assert.True(t, IsRefreshTokenExhausted(err))
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestRefreshWritesBackToKeyring(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", "refresh-2"))
	ring := credential.NewMemory(map[string]string{
		"work-imap-access":  "old-access",
		"work-imap-refresh": "refresh-1",
	})

	cfg := testConfig(ts.URL)
	cfg.AccessToken = secret.KeyringRef("work-imap-access")
	cfg.RefreshToken = secret.KeyringRef("work-imap-refresh")
	cred := New(cfg, WithEnv(secret.Env{Keyring: ring}))

	got, err := cred.EnsureFresh(context.Background(), expired)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)

	access, err := ring.Get("work-imap-access")
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)

	refresh, err := ring.Get("work-imap-refresh")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", refresh)

	assert.Equal(t, cfg.AccessToken, cred.Config().AccessToken)
}

func TestKeyringMissTriggersRefresh(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", ""))
	ring := credential.NewMemory(map[string]string{"work-imap-refresh": "refresh-1"})

	cfg := testConfig(ts.URL)
	cfg.AccessToken = secret.KeyringRef("work-imap-access")
	cfg.RefreshToken = secret.KeyringRef("work-imap-refresh")
	cred := New(cfg, WithEnv(secret.Env{Keyring: ring}))

	got, err := cred.BearerToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)

	stored, err := ring.Get("work-imap-access")
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored)
}

type staticRunner string

func (r staticRunner) Run(context.Context, []string) (secret.CommandResult, error) {
	return secret.CommandResult{Stdout: []byte(string(r) + "\n")}, nil
}

func TestCommandAccessTokenIsNotPersistable(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", ""))
	cfg := testConfig(ts.URL)
	cfg.AccessToken = secret.ShellCommand("get-token").WithField("imap-oauth2-access-token-cmd")
	cred := New(cfg, WithEnv(secret.Env{Runner: staticRunner("cmd-access")}))

	got, err := cred.EnsureFresh(context.Background(), notExpired)
	require.NoError(t, err)
	assert.Equal(t, "cmd-access", got)

	_, err = cred.EnsureFresh(context.Background(), expired)
	assert.True(t, IsNonPersistableSource(err))
	assert.Zero(t, ts.calls.Load(), "token endpoint must not be called")
}

func TestCommandRefreshTokenRotationIsReported(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", "refresh-2"))
	cfg := testConfig(ts.URL)
	cfg.RefreshToken = secret.ShellCommand("get-refresh").WithField("imap-oauth2-refresh-token-cmd")
	cred := New(cfg, WithEnv(secret.Env{Runner: staticRunner("refresh-1")}))

	_, err := cred.EnsureFresh(context.Background(), expired)
	require.Error(t, err)
	assert.True(t, IsNonPersistableSource(err))

	var oauthErr *Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, "imap-oauth2-refresh-token-cmd", oauthErr.Field)

	got, err := cred.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
}

func TestPKCEOmitsClientSecret(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", ""))
	cfg := testConfig(ts.URL)
	cfg.ClientSecret = secret.Source{}
	cfg.PKCE = true
	cred := New(cfg)

	_, err := cred.Refresh(context.Background())
	require.NoError(t, err)

	form := ts.lastForm()
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.False(t, form.Has("client_secret"))
}

type memoryExpiryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func (s *memoryExpiryStore) TokenExpiry(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.expires[key]
	return t, ok, nil
}

func (s *memoryExpiryStore) SaveTokenExpiry(_ context.Context, key string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[key] = expiry
	return nil
}

func TestBearerTokenUsesStoredExpiry(t *testing.T) {
	ts := newTokenServer(t, grantToken("new-access", ""))
	store := &memoryExpiryStore{expires: map[string]time.Time{
		"work:imap": time.Now().Add(-time.Minute),
	}}
	cred := New(testConfig(ts.URL), WithExpiryStore(store, "work:imap"))
	ctx := context.Background()

	got, err := cred.BearerToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
	assert.EqualValues(t, 1, ts.calls.Load())
	assert.True(t, store.expires["work:imap"].After(time.Now()))

	got, err = cred.BearerToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestAuthorizationCodeFlow(t *testing.T) {
	ts := newTokenServer(t, grantToken("first-access", "first-refresh"))
	cfg := testConfig(ts.URL)
	cfg.PKCE = true
	cfg.AccessToken = secret.Source{}
	cfg.RefreshToken = secret.KeyringRef("work-imap-refresh")
	ring := credential.NewMemory(nil)
	cred := New(cfg, WithEnv(secret.Env{Keyring: ring}))

	auth := cred.AuthCodeURL("http://localhost")
	assert.NotEmpty(t, auth.State)
	assert.NotEmpty(t, auth.Verifier)

	u, err := url.Parse(auth.URL)
	require.NoError(t, err)
	assert.Equal(t, auth.State, u.Query().Get("state"))
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))

	require.NoError(t, cred.Exchange(context.Background(), "http://localhost", "the-code", auth.Verifier))

	form := ts.lastForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, auth.Verifier, form.Get("code_verifier"))

	refresh, err := ring.Get("work-imap-refresh")
	require.NoError(t, err)
	assert.Equal(t, "first-refresh", refresh)

	access, err := cred.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first-access", access)
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{
		"xoauth2":     XOAuth2,
		"XOAUTH2":     XOAuth2,
		"oauthbearer": OAuthBearer,
		"OAUTHBEARER": OAuthBearer,
	} {
		got, err := ParseMethod(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseMethod("plain")
	assert.Error(t, err)
	assert.Equal(t, "XOAUTH2", XOAuth2.Mechanism())
}
