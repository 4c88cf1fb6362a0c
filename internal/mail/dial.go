package mail

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/oauth"
)

// DefaultTimeout bounds dialing and the TLS handshake.
const DefaultTimeout = 30 * time.Second

// Prober authenticates against the servers of an account without
// transferring any message.
type Prober struct {
	log     *zap.SugaredLogger
	timeout time.Duration
}

type Option func(*Prober)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Prober) {
		if log != nil {
			p.log = log
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewProber(opts ...Option) *Prober {
	p := &Prober{log: zap.NewNop().Sugar(), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func tlsConfig(host string, insecure bool) *tls.Config {
	return &tls.Config{ServerName: host, InsecureSkipVerify: insecure}
}

// bearer returns a token for cred, or a freshly refreshed one when force
// is set.
func bearer(ctx context.Context, cred *oauth.Credential, force bool) (string, error) {
	if force {
		return cred.Refresh(ctx)
	}
	return cred.BearerToken(ctx)
}

// retryable reports whether a failed OAuth2 authentication is worth one
// more attempt with a refreshed token.
func retryable(auth model.AuthConfig, err error) bool {
	return auth.Kind() == model.AuthOAuth2 && IsAuthError(err)
}
