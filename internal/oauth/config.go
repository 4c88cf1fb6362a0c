package oauth

import (
	"fmt"
	"strings"

	"github.com/gl-yziquel/himalaya/internal/secret"
)

// Method is the SASL mechanism used to present the bearer token.
type Method string

const (
	XOAuth2     Method = "xoauth2"
	OAuthBearer Method = "oauthbearer"
)

// ParseMethod accepts either spelling case of a method name.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case XOAuth2:
		return XOAuth2, nil
	case OAuthBearer:
		return OAuthBearer, nil
	default:
		return "", fmt.Errorf("unknown oauth2 method %q, expected xoauth2 or oauthbearer", s)
	}
}

// Mechanism returns the SASL mechanism name.
func (m Method) Mechanism() string {
	return strings.ToUpper(string(m))
}

// Config is the declarative part of an OAuth2 credential, exactly as read
// from the account document.
type Config struct {
	Method   Method
	ClientID string

	// ClientSecret is unset for public clients using PKCE.
	ClientSecret secret.Source

	AuthURL  string
	TokenURL string

	AccessToken  secret.Source
	RefreshToken secret.Source

	Scopes []string
	PKCE   bool
}
