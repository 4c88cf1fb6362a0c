package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/secret"
	"github.com/gl-yziquel/himalaya/internal/store"
)

// CheckResult is the outcome of checking one protocol of an account.
type CheckResult struct {
	Protocol model.ProtocolKind
	OK       bool
	Message  string
}

// Check verifies each protocol of id. Without connect, only the local
// prerequisites are verified: secrets can be produced, directories and
// commands exist. With connect, IMAP and SMTP servers are authenticated
// against. Results are recorded in the token state database.
func (a *App) Check(ctx context.Context, id *model.AccountIdentity, connect bool) []CheckResult {
	results := make([]CheckResult, 0, len(id.Protocols()))
	for _, kind := range id.Protocols() {
		cfg, _ := id.ProtocolConfig(kind)
		msg, err := a.checkProtocol(ctx, cfg, connect)

		result := CheckResult{Protocol: kind, OK: err == nil, Message: msg}
		if err != nil {
			result.Message = err.Error()
		}
		results = append(results, result)

		record := store.CheckResult{
			Account:   id.Name,
			Protocol:  string(kind),
			OK:        result.OK,
			Message:   result.Message,
			CheckedAt: time.Now(),
		}
		if err := a.store.RecordCheck(ctx, record); err != nil {
			a.log.Warnw("cannot record check result", "account", id.Name, "protocol", kind, "error", err)
		}
	}
	return results
}

func (a *App) checkProtocol(ctx context.Context, cfg model.ProtocolConfig, connect bool) (string, error) {
	switch c := cfg.(type) {
	case *model.ImapConfig:
		if !connect {
			return checkAuth(ctx, c.Auth)
		}
		mailboxes, err := a.prober.ProbeIMAP(ctx, c)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("authenticated as %s, %d mailboxes", c.Login, len(mailboxes)), nil
	case *model.SmtpConfig:
		if !connect {
			return checkAuth(ctx, c.Auth)
		}
		if err := a.prober.ProbeSMTP(ctx, c); err != nil {
			return "", err
		}
		return fmt.Sprintf("authenticated as %s", c.Login), nil
	case *model.MaildirConfig:
		return checkDir(c.RootDir)
	case *model.NotmuchConfig:
		return checkDir(c.DBPath)
	case *model.SendmailConfig:
		fields := strings.Fields(c.Cmd)
		if len(fields) == 0 {
			return "", errors.New("empty sendmail command")
		}
		path, err := exec.LookPath(fields[0])
		if err != nil {
			return "", fmt.Errorf("sendmail command: %w", err)
		}
		return path, nil
	default:
		return "", fmt.Errorf("unsupported protocol %s", cfg.Kind())
	}
}

// checkAuth produces the secret of auth without using it. For OAuth2 it
// only checks that a refresh token can be read.
func checkAuth(ctx context.Context, auth model.AuthConfig) (string, error) {
	switch auth.Kind() {
	case model.AuthPasswd:
		if _, err := auth.CurrentSecret(ctx); err != nil {
			return "", err
		}
		return "password available", nil
	case model.AuthOAuth2:
		cred, _ := auth.OAuth2()
		if _, err := cred.RefreshToken(ctx); err != nil {
			return "", err
		}
		if cred.Config().AccessToken.IsSet() {
			if _, err := cred.AccessToken(ctx); err != nil && !secret.IsKind(err, secret.KeyringMiss) {
				return "", err
			}
		}
		return fmt.Sprintf("%s token available", cred.Method().Mechanism()), nil
	default:
		return "", errors.New("no authentication configured")
	}
}

func checkDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", path)
	}
	return path, nil
}
