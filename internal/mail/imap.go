package mail

import (
	"context"
	"fmt"
	"mime"
	"net"
	"sort"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"github.com/gl-yziquel/himalaya/internal/model"
)

// ConnectIMAP dials the server of cfg and authenticates. A rejected
// OAuth2 token is refreshed once and retried on a new connection. The
// caller is responsible for calling Logout/Close on the returned client.
func (p *Prober) ConnectIMAP(ctx context.Context, cfg *model.ImapConfig) (*imapclient.Client, error) {
	client, err := p.loginIMAP(ctx, cfg, false)
	if retryable(cfg.Auth, err) {
		p.log.Debugw("IMAP rejected the access token, refreshing", "host", cfg.Host, "login", cfg.Login)
		client, err = p.loginIMAP(ctx, cfg, true)
	}
	if err != nil {
		return nil, err
	}

	p.log.Debugw("IMAP authenticated", "host", cfg.Host, "login", cfg.Login, "auth", cfg.Auth.Kind())
	return client, nil
}

func (p *Prober) dialIMAP(cfg *model.ImapConfig) (*imapclient.Client, error) {
	addr := address(cfg.Host, cfg.Port)
	opts := &imapclient.Options{
		TLSConfig:   tlsConfig(cfg.Host, cfg.Insecure),
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
		Dialer:      &net.Dialer{Timeout: p.timeout},
	}

	var (
		client *imapclient.Client
		err    error
	)
	switch {
	case !cfg.SSL:
		client, err = imapclient.DialInsecure(addr, opts)
	case cfg.StartTLS:
		client, err = imapclient.DialStartTLS(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	return client, nil
}

// loginIMAP opens a connection and authenticates on it. A failed SASL
// exchange can leave the connection mid-command, so it is always closed
// on error.
func (p *Prober) loginIMAP(ctx context.Context, cfg *model.ImapConfig, refresh bool) (*imapclient.Client, error) {
	client, err := p.dialIMAP(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.authenticateIMAP(ctx, client, cfg, refresh); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (p *Prober) authenticateIMAP(ctx context.Context, client *imapclient.Client, cfg *model.ImapConfig, refresh bool) error {
	if cred, ok := cfg.Auth.OAuth2(); ok {
		token, err := bearer(ctx, cred, refresh)
		if err != nil {
			return err
		}
		saslClient := BearerClient(cred.Method(), cfg.Login, token, cfg.Host, cfg.Port)
		if err := client.Authenticate(saslClient); err != nil {
			return &AuthError{Protocol: model.KindImap, Login: cfg.Login, Err: err}
		}
		return nil
	}

	password, err := cfg.Auth.CurrentSecret(ctx)
	if err != nil {
		return err
	}
	if err := client.Login(cfg.Login, password).Wait(); err != nil {
		return &AuthError{Protocol: model.KindImap, Login: cfg.Login, Err: err}
	}
	return nil
}

// ProbeIMAP connects, authenticates and lists the mailboxes of cfg.
func (p *Prober) ProbeIMAP(ctx context.Context, cfg *model.ImapConfig) ([]string, error) {
	client, err := p.ConnectIMAP(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = client.Logout().Wait()
		_ = client.Close()
	}()

	list, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	mailboxes := make([]string, 0, len(list))
	for _, data := range list {
		mailboxes = append(mailboxes, data.Mailbox)
	}
	sort.Strings(mailboxes)
	return mailboxes, nil
}
