package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/gl-yziquel/himalaya/internal/app"
	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/theme"
)

// redirectURL is registered with most providers for installed apps. The
// code is read from the address bar after the redirect fails to load.
const redirectURL = "http://localhost"

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

var accountListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the configured accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := session.Accounts()
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			def := ""
			if id.Default {
				def = "yes"
			}
			rows = append(rows, []string{
				id.Name,
				id.Email,
				protocolLabel(id.Backend),
				protocolLabel(id.Sender),
				def,
				lastCheck(cmd, id.Name),
			})
		}

		fmt.Println(theme.Table([]string{"NAME", "EMAIL", "BACKEND", "SENDER", "DEFAULT", "LAST CHECK"}, rows))
		return nil
	},
}

func protocolLabel(kind model.ProtocolKind) string {
	if kind == "" {
		return theme.HelpStyle.Render("none")
	}
	return theme.ProtocolStyle(string(kind)).Render(string(kind))
}

func lastCheck(cmd *cobra.Command, account string) string {
	checks, err := session.Store().GetLastChecks(cmd.Context(), account)
	if err != nil || len(checks) == 0 {
		return ""
	}

	ok := true
	latest := checks[0].CheckedAt
	for _, c := range checks {
		ok = ok && c.OK
		if c.CheckedAt.After(latest) {
			latest = c.CheckedAt
		}
	}
	return theme.Status(ok, latest.Local().Format(time.DateTime))
}

var checkConnect bool

var accountCheckCmd = &cobra.Command{
	Use:   "check [account]",
	Short: "Check that an account configuration is usable",
	Long: `Resolve an account and check each of its protocols.

Without --connect, secrets are produced and local paths are checked but no
server is contacted. With --connect, IMAP and SMTP servers are
authenticated against.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := session.Account(accountArg(args))
		if err != nil {
			return err
		}

		var results []app.CheckResult
		check := func() error {
			results = session.Check(cmd.Context(), id, checkConnect)
			return nil
		}
		if checkConnect {
			err = withSpinner(fmt.Sprintf("connecting to the servers of %s", id.Name), check)
		} else {
			err = check()
		}
		if err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			fmt.Println(theme.Status(r.OK, theme.ProtocolStyle(string(r.Protocol)).Render(string(r.Protocol))+": "+r.Message))
			if !r.OK {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("account %s: %d check(s) failed", id.Name, failed)
		}
		return nil
	},
}

var (
	tokenProtocol string
	tokenForce    bool
	tokenPrint    bool
)

var accountTokenCmd = &cobra.Command{
	Use:   "token [account]",
	Short: "Ensure the OAuth2 access token of an account is fresh",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := session.Account(accountArg(args))
		if err != nil {
			return err
		}

		kind := model.ProtocolKind(tokenProtocol)
		if kind == "" {
			kinds := app.OAuth2Protocols(id)
			if len(kinds) == 0 {
				return fmt.Errorf("account %s does not use oauth2", id.Name)
			}
			kind = kinds[0]
		}

		token, expiry, err := session.Token(cmd.Context(), id, kind, tokenForce)
		if err != nil {
			return err
		}

		if tokenPrint {
			fmt.Println(token)
			return nil
		}
		if expiry.IsZero() {
			fmt.Println(theme.Status(true, fmt.Sprintf("%s token available, expiry unknown", kind)))
		} else {
			fmt.Println(theme.Status(true, fmt.Sprintf("%s token valid until %s", kind, expiry.Local().Format(time.DateTime))))
		}
		return nil
	},
}

var configureReset bool

var accountConfigureCmd = &cobra.Command{
	Use:   "configure [account]",
	Short: "Store the keyring secrets of an account",
	Long: `Prompt for every secret the account reads from the keyring and
store it. For OAuth2, print the authorization URL and exchange the code
pasted back for tokens.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := session.Account(accountArg(args))
		if err != nil {
			return err
		}

		if configureReset {
			if err := session.ResetSecrets(ctx, id); err != nil {
				return err
			}
			fmt.Println(theme.Status(true, "keyring entries removed"))
		}

		entries := app.KeyringSecrets(app.Secrets(id))
		authorize := map[model.ProtocolKind]bool{}
		for _, e := range entries {
			switch e.Role {
			case app.RoleAccessToken, app.RoleRefreshToken:
				authorize[e.Protocol] = true
				continue
			}

			value, err := promptSecret(e)
			if err != nil {
				return err
			}
			if value == "" {
				continue
			}
			if err := session.SetSecret(ctx, e, value); err != nil {
				return err
			}
			fmt.Println(theme.Status(true, e.Label()+" saved"))
		}

		for _, kind := range app.OAuth2Protocols(id) {
			if !authorize[kind] {
				continue
			}
			if err := authorizeProtocol(cmd, id, kind); err != nil {
				return err
			}
		}

		if len(entries) == 0 {
			fmt.Println(theme.HelpStyle.Render("no keyring secret configured for " + id.Name))
		}
		return nil
	},
}

func promptSecret(e app.SecretEntry) (string, error) {
	var value string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(strings.ToUpper(e.Label()[:1])+e.Label()[1:]).
				Description("Leave empty to keep the current value").
				EchoMode(huh.EchoModePassword).
				Value(&value),
		),
	).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", nil
	}
	return strings.TrimSpace(value), err
}

func authorizeProtocol(cmd *cobra.Command, id *model.AccountIdentity, kind model.ProtocolKind) error {
	var proceed bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Authorize %s access for %s now?", kind, id.Email)).
				Value(&proceed),
		),
	).Run()
	if err != nil && !errors.Is(err, huh.ErrUserAborted) {
		return err
	}
	if !proceed {
		return nil
	}

	auth, err := session.Authorize(id, kind, redirectURL)
	if err != nil {
		return err
	}
	fmt.Println("Open this URL in a browser and authorize access:")
	fmt.Println()
	fmt.Println("  " + auth.URL)
	fmt.Println()

	var code string
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Authorization code").
				Description("The code parameter of the address you were redirected to").
				Value(&code).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("code is required")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	if err := session.CompleteAuthorization(cmd.Context(), id, kind, redirectURL, strings.TrimSpace(code), auth.Verifier); err != nil {
		return err
	}
	fmt.Println(theme.Status(true, fmt.Sprintf("%s tokens saved", kind)))
	return nil
}

func accountArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func init() {
	accountCheckCmd.Flags().BoolVar(&checkConnect, "connect", false, "Authenticate against IMAP and SMTP servers")

	accountTokenCmd.Flags().StringVarP(&tokenProtocol, "protocol", "p", "", "Protocol whose token to refresh: imap or smtp (default: the first using oauth2)")
	accountTokenCmd.Flags().BoolVar(&tokenForce, "force", false, "Refresh even when the token is still valid")
	accountTokenCmd.Flags().BoolVar(&tokenPrint, "print", false, "Print the access token to stdout")

	accountConfigureCmd.Flags().BoolVar(&configureReset, "reset", false, "Delete the keyring entries first")

	accountCmd.AddCommand(accountListCmd, accountCheckCmd, accountTokenCmd, accountConfigureCmd)
}
