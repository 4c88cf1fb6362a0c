package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gl-yziquel/himalaya/internal/config"
	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/oauth"
	"github.com/gl-yziquel/himalaya/internal/secret"
)

// SecretRole names what a secret is used for.
type SecretRole string

const (
	RolePassword     SecretRole = "password"
	RoleClientSecret SecretRole = "client secret"
	RoleAccessToken  SecretRole = "access token"
	RoleRefreshToken SecretRole = "refresh token"
)

// SecretEntry is one secret of an account.
type SecretEntry struct {
	Protocol model.ProtocolKind
	Role     SecretRole
	Source   secret.Source
}

// Label is a human readable name such as "imap password".
func (e SecretEntry) Label() string {
	return fmt.Sprintf("%s %s", e.Protocol, e.Role)
}

// Secrets lists the configured secrets of the IMAP and SMTP blocks of id.
func Secrets(id *model.AccountIdentity) []SecretEntry {
	var entries []SecretEntry
	for _, kind := range []model.ProtocolKind{model.KindImap, model.KindSmtp} {
		auth, ok := id.Auth(kind)
		if !ok {
			continue
		}
		if src, ok := auth.Passwd(); ok {
			entries = append(entries, SecretEntry{Protocol: kind, Role: RolePassword, Source: src})
			continue
		}
		cred, ok := auth.OAuth2()
		if !ok {
			continue
		}
		cfg := cred.Config()
		for _, e := range []SecretEntry{
			{Protocol: kind, Role: RoleClientSecret, Source: cfg.ClientSecret},
			{Protocol: kind, Role: RoleAccessToken, Source: cfg.AccessToken},
			{Protocol: kind, Role: RoleRefreshToken, Source: cfg.RefreshToken},
		} {
			if e.Source.IsSet() {
				entries = append(entries, e)
			}
		}
	}
	return entries
}

// KeyringSecrets keeps the entries stored in the keyring.
func KeyringSecrets(entries []SecretEntry) []SecretEntry {
	var out []SecretEntry
	for _, e := range entries {
		if e.Source.Kind == secret.KindKeyring {
			out = append(out, e)
		}
	}
	return out
}

// SetSecret writes value to the keyring entry of e.
func (a *App) SetSecret(ctx context.Context, e SecretEntry, value string) error {
	if e.Source.Kind != secret.KindKeyring {
		return fmt.Errorf("%s is not stored in the keyring", e.Label())
	}
	if _, err := e.Source.Store(ctx, a.env, value); err != nil {
		return fmt.Errorf("saving %s: %w", e.Label(), err)
	}
	return nil
}

// ResetSecrets deletes the keyring entries of id and forgets its token
// expiries.
func (a *App) ResetSecrets(ctx context.Context, id *model.AccountIdentity) error {
	for _, e := range KeyringSecrets(Secrets(id)) {
		if err := a.env.Keyring.Delete(e.Source.Value); err != nil {
			return fmt.Errorf("deleting %s: %w", e.Label(), err)
		}
	}
	for _, kind := range []model.ProtocolKind{model.KindImap, model.KindSmtp} {
		if err := a.store.DeleteTokenState(ctx, config.CredentialKey(id.Name, kind)); err != nil {
			return err
		}
	}
	return nil
}

// Token returns a fresh bearer token of the given protocol of id and its
// expiry. With force the token is refreshed even when still valid.
func (a *App) Token(ctx context.Context, id *model.AccountIdentity, kind model.ProtocolKind, force bool) (string, time.Time, error) {
	cred, err := oauthCredential(id, kind)
	if err != nil {
		return "", time.Time{}, err
	}

	var token string
	if force {
		token, err = cred.Refresh(ctx)
	} else {
		token, err = cred.BearerToken(ctx)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return token, cred.Expiry(ctx), nil
}

func oauthCredential(id *model.AccountIdentity, kind model.ProtocolKind) (*oauth.Credential, error) {
	auth, ok := id.Auth(kind)
	if !ok {
		return nil, fmt.Errorf("account %s has no %s configuration", id.Name, kind)
	}
	cred, ok := auth.OAuth2()
	if !ok {
		return nil, fmt.Errorf("account %s does not use oauth2 for %s", id.Name, kind)
	}
	return cred, nil
}

// OAuth2Protocols lists the protocols of id authenticated with OAuth2.
func OAuth2Protocols(id *model.AccountIdentity) []model.ProtocolKind {
	var kinds []model.ProtocolKind
	for _, kind := range []model.ProtocolKind{model.KindImap, model.KindSmtp} {
		if auth, ok := id.Auth(kind); ok && auth.Kind() == model.AuthOAuth2 {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Authorize starts an authorization-code grant for the given protocol.
func (a *App) Authorize(id *model.AccountIdentity, kind model.ProtocolKind, redirectURL string) (oauth.Authorization, error) {
	cred, err := oauthCredential(id, kind)
	if err != nil {
		return oauth.Authorization{}, err
	}
	return cred.AuthCodeURL(redirectURL), nil
}

// CompleteAuthorization exchanges code for tokens written back to their
// sources.
func (a *App) CompleteAuthorization(ctx context.Context, id *model.AccountIdentity, kind model.ProtocolKind, redirectURL, code, verifier string) error {
	cred, err := oauthCredential(id, kind)
	if err != nil {
		return err
	}
	return cred.Exchange(ctx, redirectURL, code, verifier)
}
