// Package app wires settings, keyring, token state and the resolver into
// one session used by the command line.
package app

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/gl-yziquel/himalaya/internal/config"
	"github.com/gl-yziquel/himalaya/internal/credential"
	"github.com/gl-yziquel/himalaya/internal/mail"
	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/oauth"
	"github.com/gl-yziquel/himalaya/internal/secret"
	"github.com/gl-yziquel/himalaya/internal/store"
)

// App is one command line session.
type App struct {
	settings *model.Settings
	log      *zap.SugaredLogger
	doc      *config.Document
	env      secret.Env
	store    store.Store
	resolver *config.Resolver
	prober   *mail.Prober
	ownStore bool
}

type Option func(*App)

// WithKeyring replaces the system keyring.
func WithKeyring(ring secret.Keyring) Option {
	return func(a *App) { a.env.Keyring = ring }
}

// WithRunner replaces the secret command runner.
func WithRunner(runner secret.Runner) Option {
	return func(a *App) { a.env.Runner = runner }
}

// WithStore replaces the token state database. The caller keeps
// ownership of s.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(a *App) {
		if log != nil {
			a.log = log
		}
	}
}

// New loads the account document named by settings and prepares the
// capabilities secrets need. The system keyring is opened on first use.
func New(settings *model.Settings, opts ...Option) (*App, error) {
	a := &App{
		settings: settings,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(a)
	}

	doc, err := config.LoadFile(settings.ConfigPath)
	if err != nil {
		return nil, err
	}
	a.doc = doc

	if a.env.Runner == nil {
		a.env.Runner = secret.ExecRunner{Timeout: settings.CommandTimeout}
	}
	if a.env.Keyring == nil {
		a.env.Keyring = &lazyKeyring{cfg: credential.Config{
			ServiceName: settings.KeyringService,
			FileDir:     settings.KeyringFileDir,
		}}
	}

	if a.store == nil {
		s, err := openStore(settings.StateDB)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.ownStore = true
	}

	a.resolver = config.NewResolver(
		config.WithEnv(a.env),
		config.WithLogger(a.log),
		config.WithExpiryStore(a.store),
		config.WithOAuthOptions(oauth.WithHTTPClient(&http.Client{Timeout: settings.TokenTimeout})),
	)
	a.prober = mail.NewProber(mail.WithLogger(a.log), mail.WithTimeout(settings.TokenTimeout))

	return a, nil
}

func openStore(path string) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return store.NewSQLiteStore(path)
}

// Close releases the token state database.
func (a *App) Close() error {
	if a.ownStore {
		return a.store.Close()
	}
	return nil
}

func (a *App) Document() *config.Document { return a.doc }

func (a *App) Env() secret.Env { return a.env }

func (a *App) Store() store.Store { return a.store }

// Account resolves the named account, the one selected in the settings
// when name is empty, or else the default account.
func (a *App) Account(name string) (*model.AccountIdentity, error) {
	if name == "" {
		name = a.settings.Account
	}
	return a.resolver.Resolve(a.doc, name)
}

// Accounts resolves every account of the document.
func (a *App) Accounts() ([]*model.AccountIdentity, error) {
	return a.resolver.ResolveAll(a.doc)
}

// lazyKeyring opens the system keyring on first use, so commands that
// never read a keyring secret never prompt for it.
type lazyKeyring struct {
	cfg  credential.Config
	once sync.Once
	ring *credential.Keyring
	err  error
}

func (k *lazyKeyring) open() (*credential.Keyring, error) {
	k.once.Do(func() {
		k.ring, k.err = credential.Open(k.cfg)
	})
	return k.ring, k.err
}

func (k *lazyKeyring) Get(key string) (string, error) {
	ring, err := k.open()
	if err != nil {
		return "", err
	}
	return ring.Get(key)
}

func (k *lazyKeyring) Set(key, value string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}
	return ring.Set(key, value)
}

func (k *lazyKeyring) Delete(key string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}
	return ring.Delete(key)
}
