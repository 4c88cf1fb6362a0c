package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/gl-yziquel/himalaya/internal/model"
)

// ProbeSMTP connects to the server of cfg and authenticates, then quits.
// The whole exchange is bounded by the prober timeout.
// A rejected OAuth2 token is refreshed once and retried on a new
// connection.
func (p *Prober) ProbeSMTP(ctx context.Context, cfg *model.SmtpConfig) error {
	err := p.authenticateSMTP(ctx, cfg, false)
	if retryable(cfg.Auth, err) {
		p.log.Debugw("SMTP rejected the access token, refreshing", "host", cfg.Host, "login", cfg.Login)
		err = p.authenticateSMTP(ctx, cfg, true)
	}
	if err != nil {
		return err
	}

	p.log.Debugw("SMTP authenticated", "host", cfg.Host, "login", cfg.Login, "auth", cfg.Auth.Kind())
	return nil
}

func (p *Prober) authenticateSMTP(ctx context.Context, cfg *model.SmtpConfig, refresh bool) error {
	auth, err := p.smtpAuth(ctx, cfg, refresh)
	if err != nil {
		return err
	}

	client, err := p.dialSMTP(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		var reply *textproto.Error
		if errors.As(err, &reply) {
			return &AuthError{Protocol: model.KindSmtp, Login: cfg.Login, Err: err}
		}
		return fmt.Errorf("SMTP AUTH: %w", err)
	}
	return client.Quit()
}

func (p *Prober) smtpAuth(ctx context.Context, cfg *model.SmtpConfig, refresh bool) (smtp.Auth, error) {
	if cred, ok := cfg.Auth.OAuth2(); ok {
		token, err := bearer(ctx, cred, refresh)
		if err != nil {
			return nil, err
		}
		return SMTPAuth(BearerClient(cred.Method(), cfg.Login, token, cfg.Host, cfg.Port)), nil
	}

	password, err := cfg.Auth.CurrentSecret(ctx)
	if err != nil {
		return nil, err
	}
	return SMTPAuth(sasl.NewPlainClient("", cfg.Login, password)), nil
}

// dialSMTP opens an implicit TLS, STARTTLS or plain connection.
func (p *Prober) dialSMTP(ctx context.Context, cfg *model.SmtpConfig) (*smtp.Client, error) {
	addr := address(cfg.Host, cfg.Port)
	dialer := &net.Dialer{Timeout: p.timeout}

	var (
		conn net.Conn
		err  error
	)
	if cfg.SSL && !cfg.StartTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig(cfg.Host, cfg.Insecure)}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("TLS dial to %s: %w", addr, err)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial to %s: %w", addr, err)
		}
	}

	if err := conn.SetDeadline(time.Now().Add(p.timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting SMTP deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating SMTP client: %w", err)
	}

	if cfg.SSL && cfg.StartTLS {
		if err := client.StartTLS(tlsConfig(cfg.Host, cfg.Insecure)); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}
	return client, nil
}
