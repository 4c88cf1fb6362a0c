// Package oauth holds OAuth2 credentials and implements the refresh-token
// grant with write-back of the refreshed tokens to their sources.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/gl-yziquel/himalaya/internal/secret"
)

// ExpiryMargin is subtracted from a known expiry when deciding whether an
// access token must be refreshed.
const ExpiryMargin = 60 * time.Second

// defaultLifetime is assumed when the token endpoint omits expires_in.
const defaultLifetime = time.Hour

// ExpiryStore persists the expiry of the last access token issued for a
// credential, so later invocations know when to refresh.
type ExpiryStore interface {
	TokenExpiry(ctx context.Context, key string) (time.Time, bool, error)
	SaveTokenExpiry(ctx context.Context, key string, expiry time.Time) error
}

// Option configures a Credential.
type Option func(*Credential)

// WithEnv sets the capabilities used to resolve and write back secrets.
func WithEnv(env secret.Env) Option {
	return func(c *Credential) { c.env = env }
}

// WithHTTPClient sets the client used to reach the token endpoint. Its
// Timeout bounds each token request.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Credential) { c.httpClient = client }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Credential) { c.log = log }
}

// WithExpiryStore persists token expiry under key.
func WithExpiryStore(store ExpiryStore, key string) Option {
	return func(c *Credential) {
		c.store = store
		c.key = key
	}
}

// Credential is an OAuth2 configuration plus its mutable token state.
// The access and refresh token sources change only through a refresh or
// an exchange, both serialized by refreshMu.
type Credential struct {
	env        secret.Env
	httpClient *http.Client
	log        *zap.SugaredLogger
	store      ExpiryStore
	key        string

	mu           sync.RWMutex
	cfg          Config
	expiry       time.Time
	expiryLoaded bool

	// generation counts completed refresh attempts; refreshErr is the
	// outcome of the latest one.
	generation uint64
	refreshErr error

	refreshMu sync.Mutex
}

// New returns a credential for cfg.
func New(cfg Config, opts ...Option) *Credential {
	cfg.Scopes = append([]string(nil), cfg.Scopes...)
	c := &Credential{cfg: cfg, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns a snapshot of the current configuration.
func (c *Credential) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg := c.cfg
	cfg.Scopes = append([]string(nil), c.cfg.Scopes...)
	return cfg
}

// Method returns the SASL mechanism the token is presented with.
func (c *Credential) Method() Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Method
}

// Key returns the expiry store key, empty when no store is configured.
func (c *Credential) Key() string {
	return c.key
}

// AccessToken resolves the access token source as is.
func (c *Credential) AccessToken(ctx context.Context) (string, error) {
	return c.Config().AccessToken.Resolve(ctx, c.env)
}

// RefreshToken resolves the refresh token source.
func (c *Credential) RefreshToken(ctx context.Context) (string, error) {
	return c.Config().RefreshToken.Resolve(ctx, c.env)
}

// Expiry returns the last known access token expiry, zero when unknown.
func (c *Credential) Expiry(ctx context.Context) time.Time {
	c.loadExpiry(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry
}

// Expired reports whether the last known expiry is within ExpiryMargin.
// An unknown expiry is not considered expired.
func (c *Credential) Expired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.expiry.IsZero() {
		return false
	}
	return !time.Now().Add(ExpiryMargin).Before(c.expiry)
}

// BearerToken returns an access token, refreshing it first when the known
// expiry has passed or no access token is available.
func (c *Credential) BearerToken(ctx context.Context) (string, error) {
	c.loadExpiry(ctx)
	return c.EnsureFresh(ctx, c.Expired)
}

// EnsureFresh returns the access token, refreshing it first when
// isExpired reports expiry or the access token is empty or unset.
//
// Concurrent callers are serialized: a caller that waited while another
// refresh completed returns that refresh's token, or its error, without
// contacting the token endpoint again.
func (c *Credential) EnsureFresh(ctx context.Context, isExpired func() bool) (string, error) {
	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	token, err := c.currentAccessToken(ctx)
	if err != nil {
		return "", err
	}
	if token != "" && (isExpired == nil || !isExpired()) {
		return token, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	refreshed := c.generation != gen
	refreshErr := c.refreshErr
	c.mu.RUnlock()
	if refreshed {
		if refreshErr != nil {
			return "", refreshErr
		}
		return c.currentAccessToken(ctx)
	}

	return c.refreshLocked(ctx)
}

// Refresh performs the refresh-token grant unconditionally.
func (c *Credential) Refresh(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

// currentAccessToken resolves the access token, treating an unset source
// or a missing keyring entry as empty.
func (c *Credential) currentAccessToken(ctx context.Context) (string, error) {
	src := c.Config().AccessToken
	if !src.IsSet() {
		return "", nil
	}

	token, err := src.Resolve(ctx, c.env)
	if secret.IsKind(err, secret.KeyringMiss) {
		return "", nil
	}
	return token, err
}

func (c *Credential) refreshLocked(ctx context.Context) (string, error) {
	token, err := c.refreshToken(ctx)
	c.finish(err)
	return token, err
}

// finish records the outcome of a refresh or exchange for the callers
// waiting on refreshMu.
func (c *Credential) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.refreshErr = err
}

func (c *Credential) refreshToken(ctx context.Context) (string, error) {
	cfg := c.Config()

	if cfg.AccessToken.IsSet() && !cfg.AccessToken.Persistable() {
		return "", &Error{Kind: NonPersistableSource, Field: cfg.AccessToken.Field}
	}

	refreshToken, err := cfg.RefreshToken.Resolve(ctx, c.env)
	if secret.IsKind(err, secret.KeyringMiss) {
		return "", &Error{Kind: RefreshTokenExhausted, Err: err}
	}
	if err != nil {
		return "", fmt.Errorf("resolving refresh token: %w", err)
	}
	if refreshToken == "" {
		return "", &Error{Kind: RefreshTokenExhausted}
	}

	oc, err := c.oauth2Config(ctx, cfg, "")
	if err != nil {
		return "", err
	}

	c.log.Debugw("refreshing oauth2 access token",
		"key", c.key, "token_url", cfg.TokenURL)

	tok, err := oc.TokenSource(c.httpContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
	}).Token()
	if err != nil {
		return "", endpointError(err)
	}

	if err := c.persist(ctx, cfg, tok, refreshToken); err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// persist writes the new tokens back through their sources and records
// the expiry. The access token is committed before a rotated refresh
// token is written, so a refresh token that cannot be written back is
// reported after the access token was already replaced.
func (c *Credential) persist(ctx context.Context, cfg Config, tok *oauth2.Token, previousRefresh string) error {
	access, err := cfg.AccessToken.Store(ctx, c.env, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}

	refresh := cfg.RefreshToken
	rotated := tok.RefreshToken != "" && tok.RefreshToken != previousRefresh

	var rotateErr error
	if rotated {
		refresh, err = cfg.RefreshToken.Store(ctx, c.env, tok.RefreshToken)
		switch {
		case secret.IsKind(err, secret.NotPersistable):
			refresh = cfg.RefreshToken
			rotateErr = &Error{Kind: NonPersistableSource, Field: cfg.RefreshToken.Field, Err: err}
		case err != nil:
			refresh = cfg.RefreshToken
			rotateErr = fmt.Errorf("storing refresh token: %w", err)
		}
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(defaultLifetime)
	}

	c.mu.Lock()
	c.cfg.AccessToken = access
	c.cfg.RefreshToken = refresh
	c.expiry = expiry
	c.expiryLoaded = true
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveTokenExpiry(ctx, c.key, expiry); err != nil {
			c.log.Warnw("could not save token expiry", "key", c.key, "error", err)
		}
	}

	c.log.Infow("oauth2 access token refreshed",
		"key", c.key, "expires_at", expiry, "refresh_token_rotated", rotated)

	return rotateErr
}

func (c *Credential) loadExpiry(ctx context.Context) {
	c.mu.RLock()
	loaded := c.expiryLoaded
	c.mu.RUnlock()
	if loaded || c.store == nil {
		return
	}

	expiry, ok, err := c.store.TokenExpiry(ctx, c.key)
	if err != nil {
		c.log.Warnw("could not load token expiry", "key", c.key, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiryLoaded {
		return
	}
	if ok {
		c.expiry = expiry
	}
	c.expiryLoaded = true
}

func (c *Credential) oauth2Config(ctx context.Context, cfg Config, redirectURL string) (*oauth2.Config, error) {
	clientSecret := ""
	if cfg.ClientSecret.IsSet() {
		var err error
		clientSecret, err = cfg.ClientSecret.Resolve(ctx, c.env)
		if err != nil {
			return nil, fmt.Errorf("resolving client secret: %w", err)
		}
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      cfg.Scopes,
	}, nil
}

func (c *Credential) httpContext(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func endpointError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return fmt.Errorf("requesting token: %w", err)
	}

	if retrieveErr.ErrorCode == "invalid_grant" {
		return &Error{Kind: RefreshTokenExhausted}
	}

	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	return &Error{
		Kind:   TokenEndpointError,
		Status: status,
		Body:   string(retrieveErr.Body),
	}
}
