package model

import (
	"context"
	"errors"

	"github.com/gl-yziquel/himalaya/internal/oauth"
	"github.com/gl-yziquel/himalaya/internal/secret"
)

// ErrWrongAuthKind is returned when a password is requested from an
// OAuth2 configuration or a bearer token from a password one.
var ErrWrongAuthKind = errors.New("authentication method does not provide this kind of secret")

// AuthKind selects the variant of an AuthConfig.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthPasswd
	AuthOAuth2
)

func (k AuthKind) String() string {
	switch k {
	case AuthPasswd:
		return "passwd"
	case AuthOAuth2:
		return "oauth2"
	default:
		return "none"
	}
}

// AuthConfig is either a password source or an OAuth2 credential.
type AuthConfig struct {
	kind   AuthKind
	passwd secret.Source
	oauth2 *oauth.Credential
	env    secret.Env
}

// PasswdAuth authenticates with the password produced by src.
func PasswdAuth(src secret.Source, env secret.Env) AuthConfig {
	return AuthConfig{kind: AuthPasswd, passwd: src, env: env}
}

// OAuth2Auth authenticates with a bearer token from cred.
func OAuth2Auth(cred *oauth.Credential) AuthConfig {
	return AuthConfig{kind: AuthOAuth2, oauth2: cred}
}

// Kind returns the active variant.
func (a AuthConfig) Kind() AuthKind {
	return a.kind
}

// Passwd returns the password source, if any.
func (a AuthConfig) Passwd() (secret.Source, bool) {
	return a.passwd, a.kind == AuthPasswd
}

// OAuth2 returns the OAuth2 credential, if any.
func (a AuthConfig) OAuth2() (*oauth.Credential, bool) {
	return a.oauth2, a.kind == AuthOAuth2
}

// CurrentSecret resolves the password.
func (a AuthConfig) CurrentSecret(ctx context.Context) (string, error) {
	if a.kind != AuthPasswd {
		return "", ErrWrongAuthKind
	}
	return a.passwd.Resolve(ctx, a.env)
}

// BearerToken returns a valid OAuth2 access token, refreshing it when
// needed.
func (a AuthConfig) BearerToken(ctx context.Context) (string, error) {
	if a.kind != AuthOAuth2 {
		return "", ErrWrongAuthKind
	}
	return a.oauth2.BearerToken(ctx)
}
