package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/oauth"
	"github.com/gl-yziquel/himalaya/internal/secret"
)

func passwdKeys(field string) []string {
	return []string{field, field + secret.CommandSuffix, field + secret.KeyringSuffix}
}

// resolveAuth reads the <protocol>-auth tag and the matching nested
// fields. Without a tag the shape is inferred from which keys exist.
func (r *Resolver) resolveAuth(account string, f *fields, kind model.ProtocolKind) (model.AuthConfig, error) {
	tagKey := string(kind) + "-auth"
	passwdField := string(kind) + "-passwd"
	oauthPrefix := string(kind) + "-oauth2-"

	hasPasswd := false
	for _, key := range passwdKeys(passwdField) {
		hasPasswd = hasPasswd || f.has(key)
	}
	oauthKeys := f.keysWithPrefix(oauthPrefix)
	hasOAuth := len(oauthKeys) > 0

	tag, tagged, err := f.str(tagKey)
	if err != nil {
		return model.AuthConfig{}, &Error{Kind: InvalidAuthShape, Account: account, Field: tagKey, Err: errors.New("expected a string")}
	}

	var authKind model.AuthKind
	if tagged {
		switch strings.ToLower(strings.TrimSpace(tag)) {
		case "passwd", "password":
			authKind = model.AuthPasswd
		case "oauth2":
			authKind = model.AuthOAuth2
		default:
			return model.AuthConfig{}, &Error{
				Kind:    InvalidAuthShape,
				Account: account,
				Field:   tagKey,
				Err:     fmt.Errorf("unknown authentication %q, expected passwd or oauth2", tag),
			}
		}

		if authKind == model.AuthPasswd && hasOAuth {
			return model.AuthConfig{}, &Error{
				Kind:    InvalidAuthShape,
				Account: account,
				Field:   tagKey,
				Err:     fmt.Errorf("password authentication does not accept %s", strings.Join(oauthKeys, ", ")),
			}
		}
		if authKind == model.AuthOAuth2 && hasPasswd {
			return model.AuthConfig{}, &Error{
				Kind:    InvalidAuthShape,
				Account: account,
				Field:   tagKey,
				Err:     fmt.Errorf("oauth2 authentication does not accept %s", passwdField),
			}
		}
	} else {
		switch {
		case hasPasswd && hasOAuth:
			return model.AuthConfig{}, &Error{
				Kind:    InvalidAuthShape,
				Account: account,
				Field:   tagKey,
				Err:     fmt.Errorf("both %s and %s keys are set", passwdField, strings.TrimSuffix(oauthPrefix, "-")),
			}
		case hasPasswd:
			authKind = model.AuthPasswd
		case hasOAuth:
			authKind = model.AuthOAuth2
		default:
			return model.AuthConfig{}, &Error{
				Kind:    MissingRequiredField,
				Account: account,
				Field:   tagKey,
				Err:     &secret.Error{Kind: secret.MissingSource, Field: passwdField},
			}
		}
		r.log.Debugw("inferred authentication", "account", account, "protocol", kind, "auth", authKind)
	}

	if authKind == model.AuthPasswd {
		src, err := secret.Parse(passwdField, f.lookup)
		if err != nil {
			return model.AuthConfig{}, secretError(account, passwdField, err)
		}
		return model.PasswdAuth(src, r.env), nil
	}

	cred, err := r.resolveOAuth2(account, f, kind)
	if err != nil {
		return model.AuthConfig{}, err
	}
	return model.OAuth2Auth(cred), nil
}

func (r *Resolver) resolveOAuth2(account string, f *fields, kind model.ProtocolKind) (*oauth.Credential, error) {
	p := string(kind) + "-oauth2-"
	shapeErr := func(key string, err error) error {
		return &Error{Kind: InvalidAuthShape, Account: account, Field: key, Err: err}
	}
	required := func(key string) (string, error) {
		s, err := f.requiredStr(key)
		if err != nil {
			return "", shapeErr(key, err)
		}
		return s, nil
	}

	cfg := oauth.Config{Method: oauth.XOAuth2}
	var err error

	method, ok, err := f.str(p + "method")
	if err != nil {
		return nil, shapeErr(p+"method", err)
	}
	if ok {
		if cfg.Method, err = oauth.ParseMethod(method); err != nil {
			return nil, shapeErr(p+"method", err)
		}
	}

	if cfg.PKCE, err = f.boolean(p+"pkce", false); err != nil {
		return nil, shapeErr(p+"pkce", err)
	}
	if cfg.ClientID, err = required(p + "client-id"); err != nil {
		return nil, err
	}
	if cfg.AuthURL, err = required(p + "auth-url"); err != nil {
		return nil, err
	}
	if cfg.TokenURL, err = required(p + "token-url"); err != nil {
		return nil, err
	}

	cfg.ClientSecret, err = secret.Parse(p+"client-secret", f.lookup)
	if err != nil && !(cfg.PKCE && secret.IsKind(err, secret.MissingSource)) {
		return nil, secretError(account, p+"client-secret", err)
	}

	// A missing access token is obtained through the refresh token on
	// first use.
	cfg.AccessToken, err = secret.Parse(p+"access-token", f.lookup)
	if err != nil && !secret.IsKind(err, secret.MissingSource) {
		return nil, secretError(account, p+"access-token", err)
	}

	cfg.RefreshToken, err = secret.Parse(p+"refresh-token", f.lookup)
	if err != nil {
		return nil, secretError(account, p+"refresh-token", err)
	}

	if cfg.Scopes, err = resolveScopes(f, p); err != nil {
		return nil, shapeErr(p+"scopes", err)
	}

	opts := []oauth.Option{oauth.WithEnv(r.env), oauth.WithLogger(r.log)}
	if r.expiryStore != nil {
		opts = append(opts, oauth.WithExpiryStore(r.expiryStore, CredentialKey(account, kind)))
	}
	opts = append(opts, r.oauthOpts...)

	return oauth.New(cfg, opts...), nil
}

// resolveScopes accepts either a single scope or a list of scopes.
func resolveScopes(f *fields, prefix string) ([]string, error) {
	scope, hasScope, err := f.str(prefix + "scope")
	if err != nil {
		return nil, err
	}
	scopes, hasScopes, err := f.strList(prefix + "scopes")
	if err != nil {
		return nil, err
	}

	switch {
	case hasScope && hasScopes:
		return nil, f.invalid(prefix+"scopes", fmt.Sprintf("%sscope and %sscopes are mutually exclusive", prefix, prefix))
	case hasScope:
		return []string{scope}, nil
	case hasScopes:
		return scopes, nil
	default:
		return nil, f.missing(prefix + "scopes")
	}
}
