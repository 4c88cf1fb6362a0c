package config

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/gl-yziquel/himalaya/internal/model"
	"github.com/gl-yziquel/himalaya/internal/secret"
)

// Encode returns the document form of the given accounts, keyed by
// account name. Inherited values are written into each account.
func Encode(ids ...*model.AccountIdentity) map[string]any {
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		out[id.Name] = EncodeAccount(id)
	}
	return out
}

// EncodeAccount returns the account table of id. Resolving the result
// yields an equivalent identity.
func EncodeAccount(id *model.AccountIdentity) map[string]any {
	out := map[string]any{
		"email":           id.Email,
		"signature-delim": id.SignatureDelim,
	}
	if id.Default {
		out["default"] = true
	}
	putString(out, "display-name", id.DisplayName)
	putString(out, "signature", id.Signature)
	putString(out, "downloads-dir", id.DownloadsDir)

	if len(id.FolderAliases) > 0 {
		aliases := make(map[string]any, len(id.FolderAliases))
		for k, v := range id.FolderAliases {
			aliases[k] = v
		}
		out["folder-aliases"] = aliases
	}

	if id.ReadingFormat.Kind != "" && id.ReadingFormat.Kind != model.FormatAuto {
		format := map[string]any{"type": string(id.ReadingFormat.Kind)}
		if id.ReadingFormat.Kind == model.FormatFixed {
			format["width"] = int64(id.ReadingFormat.Width)
		}
		out["email-reading-format"] = format
	}

	if id.Hooks.PreSend != "" {
		out["email-hooks"] = map[string]any{"pre-send": id.Hooks.PreSend}
	}

	if id.Sync {
		out["sync"] = true
	}
	putString(out, "sync-dir", id.SyncDir)
	switch id.SyncFolders.Kind {
	case model.SyncInclude, model.SyncExclude:
		out["sync-folders-strategy"] = map[string]any{
			id.SyncFolders.Kind.String(): id.SyncFolders.FolderList(),
		}
	}

	out["backend"] = protocolTag(id.Backend)
	out["sender"] = protocolTag(id.Sender)

	if cfg, ok := id.Imap(); ok {
		encodeServer(out, model.KindImap, cfg.Host, cfg.Port, cfg.SSL, cfg.StartTLS, cfg.Insecure, cfg.Login)
		encodeAuth(out, model.KindImap, cfg.Auth)
		putString(out, "imap-notify-cmd", cfg.NotifyCmd)
		putString(out, "imap-notify-query", cfg.NotifyQuery)
		if len(cfg.WatchCmds) > 0 {
			out["imap-watch-cmds"] = append([]string(nil), cfg.WatchCmds...)
		}
	}
	if cfg, ok := id.Smtp(); ok {
		encodeServer(out, model.KindSmtp, cfg.Host, cfg.Port, cfg.SSL, cfg.StartTLS, cfg.Insecure, cfg.Login)
		encodeAuth(out, model.KindSmtp, cfg.Auth)
	}
	if cfg, ok := id.Maildir(); ok {
		out["maildir-root-dir"] = cfg.RootDir
	}
	if cfg, ok := id.Notmuch(); ok {
		out["notmuch-db-path"] = cfg.DBPath
	}
	if cfg, ok := id.Sendmail(); ok {
		out["sendmail-cmd"] = cfg.Cmd
	}

	return out
}

// Marshal renders a document map as TOML.
func Marshal(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

func protocolTag(kind model.ProtocolKind) string {
	if kind == "" {
		return "none"
	}
	return string(kind)
}

func putString(out map[string]any, key, value string) {
	if value != "" {
		out[key] = value
	}
}

func encodeServer(out map[string]any, kind model.ProtocolKind, host string, port int, ssl, starttls, insecure bool, login string) {
	p := string(kind) + "-"
	out[p+"host"] = host
	out[p+"port"] = int64(port)
	out[p+"ssl"] = ssl
	out[p+"starttls"] = starttls
	out[p+"insecure"] = insecure
	out[p+"login"] = login
}

func encodeAuth(out map[string]any, kind model.ProtocolKind, auth model.AuthConfig) {
	p := string(kind) + "-"

	if src, ok := auth.Passwd(); ok {
		out[p+"auth"] = "passwd"
		src.Encode(p+"passwd", out)
		return
	}

	cred, ok := auth.OAuth2()
	if !ok {
		return
	}
	cfg := cred.Config()
	o := p + "oauth2-"

	out[p+"auth"] = "oauth2"
	out[o+"method"] = string(cfg.Method)
	out[o+"client-id"] = cfg.ClientID
	out[o+"auth-url"] = cfg.AuthURL
	out[o+"token-url"] = cfg.TokenURL
	out[o+"scopes"] = append([]string(nil), cfg.Scopes...)
	out[o+"pkce"] = cfg.PKCE

	for field, src := range map[string]secret.Source{
		o + "client-secret": cfg.ClientSecret,
		o + "access-token":  cfg.AccessToken,
		o + "refresh-token": cfg.RefreshToken,
	} {
		if src.IsSet() {
			src.Encode(field, out)
		}
	}
}
