package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gl-yziquel/himalaya/internal/app"
	"github.com/gl-yziquel/himalaya/internal/config"
	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/theme"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	v       = model.NewViper()
	log     *zap.SugaredLogger
	session *app.App
)

var rootCmd = &cobra.Command{
	Use:           "himalaya",
	Short:         "himalaya - manage email accounts from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "help", "version":
			return nil
		}

		settings, err := model.LoadSettings(v)
		if err != nil {
			return err
		}

		log, err = newLogger(settings.Debug)
		if err != nil {
			return err
		}

		session, err = app.New(settings, app.WithLogger(log))
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if session != nil {
			if err := session.Close(); err != nil {
				log.Warnw("closing state database", "error", err)
			}
		}
		if log != nil {
			_ = log.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("himalaya version %s\n", Version)
	},
}

// newLogger builds a console logger on stderr. Only warnings are shown
// unless debug is set.
func newLogger(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	level := zap.NewAtomicLevel()
	level.SetLevel(zap.WarnLevel)
	if debug {
		level.SetLevel(zap.DebugLevel)
	}
	cfg.Level = level
	cfg.DisableStacktrace = !debug

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file (default: discovered)")
	flags.StringP("account", "a", "", "Account name (default: the default account)")
	flags.String("state-db", "", "Token state database")
	flags.Bool("debug", false, "Enable debug logs")

	for _, name := range []string{"config", "account", "state-db", "debug"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(accountCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, theme.ErrorStyle.Render("error:")+" "+err.Error())

		var cfgErr *config.Error
		if errors.As(err, &cfgErr) && cfgErr.Remedy() != "" {
			fmt.Fprintln(os.Stderr, theme.HelpStyle.Render(cfgErr.Remedy()))
		}
		os.Exit(1)
	}
}
