package oauth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Authorization is the first half of an authorization-code grant: the URL
// to open, the state to check on the redirect and the PKCE verifier to
// send with the code.
type Authorization struct {
	URL      string
	State    string
	Verifier string
}

// AuthCodeURL prepares an authorization-code grant. Opening the URL and
// receiving the redirect are left to the caller.
func (c *Credential) AuthCodeURL(redirectURL string) Authorization {
	cfg := c.Config()
	oc := &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
		RedirectURL: redirectURL,
		Scopes:      cfg.Scopes,
	}

	auth := Authorization{State: uuid.NewString()}
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if cfg.PKCE {
		auth.Verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(auth.Verifier))
	}

	auth.URL = oc.AuthCodeURL(auth.State, opts...)
	return auth
}

// Exchange trades an authorization code for tokens and writes both back
// through their sources, as a refresh would.
func (c *Credential) Exchange(ctx context.Context, redirectURL, code, verifier string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	err := c.exchange(ctx, redirectURL, code, verifier)
	c.finish(err)
	return err
}

func (c *Credential) exchange(ctx context.Context, redirectURL, code, verifier string) error {
	cfg := c.Config()
	if cfg.AccessToken.IsSet() && !cfg.AccessToken.Persistable() {
		return &Error{Kind: NonPersistableSource, Field: cfg.AccessToken.Field}
	}

	oc, err := c.oauth2Config(ctx, cfg, redirectURL)
	if err != nil {
		return err
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := oc.Exchange(c.httpContext(ctx), code, opts...)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", endpointError(err))
	}

	return c.persist(ctx, cfg, tok, "")
}
