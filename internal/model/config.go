package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings are the application settings: where the account document and
// the token state live, and how secrets are fetched. They come from
// command line flags and HIMALAYA_* environment variables.
type Settings struct {
	// ConfigPath is the account document. Empty means discover it.
	ConfigPath string `mapstructure:"config"`

	// Account selects an account by name. Empty means the default one.
	Account string `mapstructure:"account"`

	KeyringService string `mapstructure:"keyring-service"`
	KeyringFileDir string `mapstructure:"keyring-file-dir"`

	// StateDB is the SQLite database holding token expiry state.
	StateDB string `mapstructure:"state-db"`

	TokenTimeout   time.Duration `mapstructure:"token-timeout"`
	CommandTimeout time.Duration `mapstructure:"command-timeout"`

	Debug bool `mapstructure:"debug"`
}

// NewViper returns a viper instance with the settings defaults and the
// HIMALAYA_ environment prefix applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("HIMALAYA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("config", "")
	v.SetDefault("account", "")
	v.SetDefault("keyring-service", "himalaya")
	v.SetDefault("keyring-file-dir", "")
	v.SetDefault("state-db", DefaultStatePath())
	v.SetDefault("token-timeout", 30*time.Second)
	v.SetDefault("command-timeout", time.Minute)
	v.SetDefault("debug", false)

	return v
}

// LoadSettings reads the settings from v and resolves the account
// document path.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	if s.ConfigPath == "" {
		path, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		s.ConfigPath = path
	}

	return s, nil
}

// configCandidates returns the account document locations, most specific
// first.
func configCandidates() []string {
	var paths []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, "himalaya", "config.toml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "himalaya", "config.toml"),
			filepath.Join(home, ".himalayarc"),
		)
	}
	return paths
}

// DefaultConfigPath returns the first existing account document among
// $XDG_CONFIG_HOME/himalaya/config.toml, ~/.config/himalaya/config.toml
// and ~/.himalayarc.
func DefaultConfigPath() (string, error) {
	candidates := configCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found, tried %s", strings.Join(candidates, ", "))
}

// DefaultStatePath returns the default token state database location.
func DefaultStatePath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "himalaya", "state.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "himalaya-state.db")
	}
	return filepath.Join(home, ".local", "state", "himalaya", "state.db")
}
