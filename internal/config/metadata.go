package config

import (
	"fmt"

	"github.com/gl-yziquel/himalaya/internal/model"
)

// resolveMetadata reads the non-protocol account fields. Values missing
// from the account fall back to the global ones.
func resolveMetadata(name string, f, globals *fields) (model.Account, error) {
	account := model.Account{Name: name}
	var err error

	if account.Email, err = f.requiredStr("email"); err != nil {
		return account, err
	}
	if account.Default, err = f.boolean("default", false); err != nil {
		return account, err
	}

	inherit := func(key string) (string, error) {
		s, ok, err := f.str(key)
		if ok || err != nil {
			return s, err
		}
		s, _, err = globals.str(key)
		return s, err
	}

	if account.DisplayName, err = inherit("display-name"); err != nil {
		return account, err
	}
	if account.Signature, err = inherit("signature"); err != nil {
		return account, err
	}
	if account.DownloadsDir, err = inherit("downloads-dir"); err != nil {
		return account, err
	}

	account.SignatureDelim = model.DefaultSignatureDelim
	for _, src := range []*fields{globals, f} {
		delim, ok, err := src.str("signature-delim")
		if err != nil {
			return account, err
		}
		if ok {
			account.SignatureDelim = delim
		}
	}

	for _, src := range []*fields{globals, f} {
		aliases, ok, err := src.strMap("folder-aliases")
		if err != nil {
			return account, err
		}
		if !ok {
			continue
		}
		if account.FolderAliases == nil {
			account.FolderAliases = map[string]string{}
		}
		for k, v := range aliases {
			account.FolderAliases[k] = v
		}
	}

	account.ReadingFormat = model.TextPlainFormat{Kind: model.FormatAuto}
	for _, src := range []*fields{globals, f} {
		if err := resolveReadingFormat(src, &account.ReadingFormat); err != nil {
			return account, err
		}
	}

	for _, src := range []*fields{globals, f} {
		hooks, ok, err := src.table("email-hooks")
		if err != nil {
			return account, err
		}
		if !ok {
			continue
		}
		hf := newFields(src.account, hooks)
		if cmd, ok, err := hf.str("pre-send"); err != nil {
			return account, src.invalid("email-hooks.pre-send", "expected a string")
		} else if ok {
			account.Hooks.PreSend = cmd
		}
	}

	if account.Sync, err = f.boolean("sync", false); err != nil {
		return account, err
	}
	if account.SyncDir, _, err = f.str("sync-dir"); err != nil {
		return account, err
	}
	if account.SyncFolders, err = resolveSyncStrategy(f, "sync-folders-strategy"); err != nil {
		return account, err
	}

	return account, nil
}

// resolveReadingFormat accepts "auto", "flowed", or a table with a type
// and, for fixed, a width.
func resolveReadingFormat(f *fields, out *model.TextPlainFormat) error {
	const key = "email-reading-format"

	v, ok := f.lookup(key)
	if !ok {
		return nil
	}

	var (
		kind  string
		width int
	)
	switch t := v.(type) {
	case string:
		kind = t
	case map[string]any:
		tf := newFields(f.account, t)
		s, ok, err := tf.str("type")
		if err != nil || !ok {
			return f.invalid(key+".type", "expected auto, flowed or fixed")
		}
		kind = s
		if n, ok, err := tf.integer("width"); err != nil {
			return f.invalid(key+".width", "expected an integer")
		} else if ok {
			width = n
		}
	default:
		return f.invalid(key, "expected a string or a table")
	}

	switch model.TextPlainFormatKind(kind) {
	case model.FormatAuto, model.FormatFlowed:
		*out = model.TextPlainFormat{Kind: model.TextPlainFormatKind(kind)}
	case model.FormatFixed:
		if width <= 0 {
			return f.invalid(key+".width", "fixed format needs a positive width")
		}
		*out = model.TextPlainFormat{Kind: model.FormatFixed, Width: width}
	default:
		return f.invalid(key, fmt.Sprintf("unknown format %q", kind))
	}
	return nil
}

// resolveSyncStrategy accepts "all" or a single-key table naming an
// include or exclude folder list.
func resolveSyncStrategy(f *fields, key string) (model.SyncFoldersStrategy, error) {
	v, ok := f.lookup(key)
	if !ok {
		return model.SyncFoldersStrategy{Kind: model.SyncAll}, nil
	}

	switch t := v.(type) {
	case string:
		if t == "all" {
			return model.SyncFoldersStrategy{Kind: model.SyncAll}, nil
		}
		return model.SyncFoldersStrategy{}, f.invalid(key, fmt.Sprintf("unknown strategy %q", t))
	case map[string]any:
		if len(t) != 1 {
			return model.SyncFoldersStrategy{}, f.invalid(key, "expected exactly one of all, include or exclude")
		}
		for name, payload := range t {
			switch name {
			case "all":
				return model.SyncFoldersStrategy{Kind: model.SyncAll}, nil
			case "include", "only":
				folders, err := stringList(payload)
				if err != nil {
					return model.SyncFoldersStrategy{}, f.invalid(key+"."+name, err.Error())
				}
				return model.IncludeFolders(folders...), nil
			case "exclude", "except", "ignore":
				folders, err := stringList(payload)
				if err != nil {
					return model.SyncFoldersStrategy{}, f.invalid(key+"."+name, err.Error())
				}
				return model.ExcludeFolders(folders...), nil
			default:
				return model.SyncFoldersStrategy{}, f.invalid(key, fmt.Sprintf("unknown strategy %q", name))
			}
		}
	}
	return model.SyncFoldersStrategy{}, f.invalid(key, "expected a string or a table")
}
