// Package config turns a raw configuration document into resolved
// account identities.
package config

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gl-yziquel/himalaya/internal/backend"
	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/oauth"
	"github.com/gl-yziquel/himalaya/internal/secret"
)

// Resolver maps document accounts to typed identities. It never touches
// the network or runs secret commands: secrets stay lazy until used.
type Resolver struct {
	env         secret.Env
	registry    backend.Registry
	log         *zap.SugaredLogger
	oauthOpts   []oauth.Option
	expiryStore oauth.ExpiryStore
}

type Option func(*Resolver)

// WithEnv sets the command runner and keyring handed to every secret.
func WithEnv(env secret.Env) Option {
	return func(r *Resolver) { r.env = env }
}

// WithRegistry overrides the protocols compiled into this build.
func WithRegistry(registry backend.Registry) Option {
	return func(r *Resolver) { r.registry = registry }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithOAuthOptions adds options to every OAuth2 credential built.
func WithOAuthOptions(opts ...oauth.Option) Option {
	return func(r *Resolver) { r.oauthOpts = append(r.oauthOpts, opts...) }
}

// WithExpiryStore persists access token expiries across runs, keyed by
// account and protocol.
func WithExpiryStore(store oauth.ExpiryStore) Option {
	return func(r *Resolver) { r.expiryStore = store }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		registry: backend.Default(),
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CredentialKey is the expiry store key of an account protocol.
func CredentialKey(account string, kind model.ProtocolKind) string {
	return account + ":" + string(kind)
}

// Resolve returns the named account, or the default account when name
// is empty.
func (r *Resolver) Resolve(doc *Document, name string) (*model.AccountIdentity, error) {
	accountName, values, err := doc.selectAccount(name)
	if err != nil {
		return nil, err
	}
	return r.resolveAccount(doc, accountName, values)
}

// ResolveAll resolves every account in document order. It stops at the
// first invalid account.
func (r *Resolver) ResolveAll(doc *Document) ([]*model.AccountIdentity, error) {
	ids := make([]*model.AccountIdentity, 0, len(doc.order))
	for _, name := range doc.order {
		id, err := r.resolveAccount(doc, name, doc.accounts[name])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Resolver) resolveAccount(doc *Document, name string, values map[string]any) (*model.AccountIdentity, error) {
	f := newFields(name, values)
	globals := newFields("", doc.globals)

	account, err := resolveMetadata(name, f, globals)
	if err != nil {
		return nil, err
	}

	present := map[model.ProtocolKind]bool{}
	for _, kind := range model.ProtocolKinds {
		if f.hasPrefix(string(kind) + "-") {
			present[kind] = true
		}
	}

	account.Backend, err = selectProtocol(f, "backend", model.ProtocolKind.IsBackend, present)
	if err != nil {
		return nil, err
	}
	account.Sender, err = selectProtocol(f, "sender", model.ProtocolKind.IsSender, present)
	if err != nil {
		return nil, err
	}
	if account.Backend != "" {
		present[account.Backend] = true
	}
	if account.Sender != "" {
		present[account.Sender] = true
	}

	var configs []model.ProtocolConfig
	for _, kind := range model.ProtocolKinds {
		if !present[kind] {
			continue
		}
		if !r.registry.Available(kind) {
			return nil, &Error{Kind: BackendFeatureDisabled, Account: name, Backend: kind}
		}

		cfg, err := r.resolveProtocol(name, f, kind)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	for _, key := range f.unused() {
		r.log.Debugw("ignoring unknown configuration key", "account", name, "key", key)
	}

	return model.NewAccountIdentity(account, configs...), nil
}

// selectProtocol reads the backend or sender tag. Without a tag, the
// protocol is inferred when exactly one candidate block is present.
func selectProtocol(f *fields, key string, candidate func(model.ProtocolKind) bool, present map[model.ProtocolKind]bool) (model.ProtocolKind, error) {
	tag, ok, err := f.str(key)
	if err != nil {
		return "", err
	}
	if ok {
		if tag == "none" {
			return "", nil
		}
		kind := model.ProtocolKind(tag)
		if !candidate(kind) {
			return "", f.invalid(key, fmt.Sprintf("unknown %s %q", key, tag))
		}
		return kind, nil
	}

	var found []model.ProtocolKind
	for _, kind := range model.ProtocolKinds {
		if candidate(kind) && present[kind] {
			found = append(found, kind)
		}
	}
	if len(found) == 1 {
		return found[0], nil
	}
	return "", nil
}

func (r *Resolver) resolveProtocol(account string, f *fields, kind model.ProtocolKind) (model.ProtocolConfig, error) {
	switch kind {
	case model.KindImap:
		return r.resolveImap(account, f)
	case model.KindSmtp:
		return r.resolveSmtp(account, f)
	case model.KindMaildir:
		dir, err := f.requiredStr("maildir-root-dir")
		if err != nil {
			return nil, err
		}
		return &model.MaildirConfig{RootDir: dir}, nil
	case model.KindNotmuch:
		path, err := f.requiredStr("notmuch-db-path")
		if err != nil {
			return nil, err
		}
		return &model.NotmuchConfig{DBPath: path}, nil
	case model.KindSendmail:
		cmd, ok, err := f.str("sendmail-cmd")
		if err != nil {
			return nil, err
		}
		if !ok || cmd == "" {
			cmd = model.DefaultSendmailCmd
		}
		return &model.SendmailConfig{Cmd: cmd}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %s", kind)
	}
}

type server struct {
	host     string
	port     int
	ssl      bool
	starttls bool
	insecure bool
	login    string
}

func (r *Resolver) resolveServer(account string, f *fields, kind model.ProtocolKind) (server, error) {
	prefix := string(kind) + "-"
	var (
		s   server
		err error
	)

	if s.host, err = f.requiredStr(prefix + "host"); err != nil {
		return s, err
	}
	if s.login, err = f.requiredStr(prefix + "login"); err != nil {
		return s, err
	}
	if s.ssl, err = f.boolean(prefix+"ssl", true); err != nil {
		return s, err
	}
	if s.starttls, err = f.boolean(prefix+"starttls", false); err != nil {
		return s, err
	}
	if s.insecure, err = f.boolean(prefix+"insecure", false); err != nil {
		return s, err
	}

	port, ok, err := f.integer(prefix + "port")
	if err != nil {
		return s, err
	}
	if ok && (port <= 0 || port > 65535) {
		return s, f.invalid(prefix+"port", "expected a port between 1 and 65535")
	}
	if !ok {
		port = model.DefaultPort(kind, s.ssl, s.starttls)
	}
	s.port = port

	switch {
	case !s.ssl:
		r.log.Warnw("connection is not encrypted", "account", account, "protocol", kind)
		if s.starttls {
			r.log.Warnw("starttls is ignored when ssl is disabled", "account", account, "protocol", kind)
		}
	case s.insecure:
		r.log.Warnw("TLS certificate verification is disabled", "account", account, "protocol", kind)
	}

	return s, nil
}

func (r *Resolver) resolveImap(account string, f *fields) (*model.ImapConfig, error) {
	s, err := r.resolveServer(account, f, model.KindImap)
	if err != nil {
		return nil, err
	}
	auth, err := r.resolveAuth(account, f, model.KindImap)
	if err != nil {
		return nil, err
	}

	cfg := &model.ImapConfig{
		Host:     s.host,
		Port:     s.port,
		SSL:      s.ssl,
		StartTLS: s.starttls,
		Insecure: s.insecure,
		Login:    s.login,
		Auth:     auth,
	}
	if cfg.NotifyCmd, _, err = f.str("imap-notify-cmd"); err != nil {
		return nil, err
	}
	if cfg.NotifyQuery, _, err = f.str("imap-notify-query"); err != nil {
		return nil, err
	}
	if cfg.WatchCmds, _, err = f.strList("imap-watch-cmds"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Resolver) resolveSmtp(account string, f *fields) (*model.SmtpConfig, error) {
	s, err := r.resolveServer(account, f, model.KindSmtp)
	if err != nil {
		return nil, err
	}
	auth, err := r.resolveAuth(account, f, model.KindSmtp)
	if err != nil {
		return nil, err
	}

	return &model.SmtpConfig{
		Host:     s.host,
		Port:     s.port,
		SSL:      s.ssl,
		StartTLS: s.starttls,
		Insecure: s.insecure,
		Login:    s.login,
		Auth:     auth,
	}, nil
}

// secretError wraps an error from secret.Parse. A missing secret inside
// a selected auth shape makes the shape invalid.
func secretError(account, field string, err error) error {
	if secret.IsKind(err, secret.MissingSource) || secret.IsKind(err, secret.MalformedSource) {
		return &Error{Kind: InvalidAuthShape, Account: account, Field: field, Err: err}
	}
	var secretErr *secret.Error
	if errors.As(err, &secretErr) {
		return &Error{Kind: SecretSource, Account: account, Field: field, Err: err}
	}
	return err
}
