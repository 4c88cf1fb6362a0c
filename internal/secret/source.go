// Package secret resolves sensitive strings from a literal value, an
// external command or a keyring entry.
package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the active variant of a Source.
type Kind int

const (
	// KindUnset is the zero value: no source configured.
	KindUnset Kind = iota
	KindLiteral
	KindCommand
	KindKeyring
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindCommand:
		return "command"
	case KindKeyring:
		return "keyring"
	default:
		return "unset"
	}
}

// Suffixes of the three mutually exclusive document forms of a secret.
const (
	CommandSuffix = "-cmd"
	KeyringSuffix = "-keyring"
)

// Source is a resolvable origin of a sensitive string. Exactly one
// variant is active; the zero value is unset.
type Source struct {
	Kind Kind

	// Value is the literal secret for KindLiteral and the entry key for
	// KindKeyring.
	Value string

	// Argv is the command line for KindCommand.
	Argv []string

	// Field is the document key the source was read from.
	Field string
}

// Literal returns a source holding value in memory.
func Literal(value string) Source {
	return Source{Kind: KindLiteral, Value: value}
}

// Command returns a source that runs argv on every resolution.
func Command(argv ...string) Source {
	return Source{Kind: KindCommand, Argv: argv}
}

// ShellCommand returns a source that runs line through sh -c.
func ShellCommand(line string) Source {
	return Command("sh", "-c", line)
}

// KeyringRef returns a source that looks key up in the keyring.
func KeyringRef(key string) Source {
	return Source{Kind: KindKeyring, Value: key}
}

// WithField returns a copy of s tagged with the document key it came from.
func (s Source) WithField(field string) Source {
	s.Field = field
	return s
}

// IsSet reports whether a variant is active.
func (s Source) IsSet() bool {
	return s.Kind != KindUnset
}

// Persistable reports whether Store can accept a new value.
func (s Source) Persistable() bool {
	return s.Kind == KindLiteral || s.Kind == KindKeyring
}

// String never reveals a literal value.
func (s Source) String() string {
	switch s.Kind {
	case KindLiteral:
		return "literal(<redacted>)"
	case KindCommand:
		return fmt.Sprintf("command(%s)", strings.Join(s.Argv, " "))
	case KindKeyring:
		return fmt.Sprintf("keyring(%s)", s.Value)
	default:
		return "unset"
	}
}

// GoString keeps literal values out of %#v output.
func (s Source) GoString() string {
	return "secret." + s.String()
}

// Resolve produces the secret. Nothing is cached: a command runs again
// and a keyring entry is looked up again on every call.
func (s Source) Resolve(ctx context.Context, env Env) (string, error) {
	switch s.Kind {
	case KindLiteral:
		return s.Value, nil

	case KindCommand:
		res, err := env.runner().Run(ctx, s.Argv)
		if err != nil {
			return "", &Error{
				Kind:     CommandFailed,
				Field:    s.Field,
				ExitCode: -1,
				Stderr:   err.Error(),
			}
		}
		if res.ExitCode != 0 {
			return "", &Error{
				Kind:     CommandFailed,
				Field:    s.Field,
				ExitCode: res.ExitCode,
				Stderr:   strings.TrimSpace(string(res.Stderr)),
			}
		}
		return trimNewline(string(res.Stdout)), nil

	case KindKeyring:
		if env.Keyring == nil {
			return "", &Error{Kind: KeyringUnavailable, Field: s.Field, Key: s.Value}
		}
		value, err := env.Keyring.Get(s.Value)
		if errors.Is(err, ErrNotFound) {
			return "", &Error{Kind: KeyringMiss, Field: s.Field, Key: s.Value}
		}
		if err != nil {
			return "", fmt.Errorf("reading keyring entry %q: %w", s.Value, err)
		}
		return value, nil

	default:
		return "", &Error{Kind: MissingSource, Field: s.Field}
	}
}

// Store writes value back through the source and returns the source to
// use from now on. A literal is replaced in memory only, a keyring entry
// is overwritten, and a command cannot accept updates.
func (s Source) Store(_ context.Context, env Env, value string) (Source, error) {
	switch s.Kind {
	case KindLiteral, KindUnset:
		next := Literal(value)
		next.Field = s.Field
		return next, nil

	case KindKeyring:
		if env.Keyring == nil {
			return s, &Error{Kind: KeyringUnavailable, Field: s.Field, Key: s.Value}
		}
		if err := env.Keyring.Set(s.Value, value); err != nil {
			return s, fmt.Errorf("writing keyring entry %q: %w", s.Value, err)
		}
		return s, nil

	default:
		return s, &Error{Kind: NotPersistable, Field: s.Field}
	}
}

// trimNewline strips exactly one trailing line ending.
func trimNewline(s string) string {
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	return strings.TrimSuffix(s, "\n")
}

// Parse builds a Source from the three mutually exclusive document forms
// of field: <field> (literal string), <field>-cmd (a string run through
// sh -c, or an argv array) and <field>-keyring (entry key). lookup returns
// the raw decoded value of a key and whether it is present.
//
// It returns a MissingSource error when no form is present; callers for
// which the secret is optional check IsKind(err, MissingSource).
func Parse(field string, lookup func(key string) (any, bool)) (Source, error) {
	var (
		found []string
		src   Source
		err   error
	)

	if v, ok := lookup(field); ok {
		found = append(found, field)
		s, isString := v.(string)
		if !isString {
			err = invalidForm(field, "expected a string")
		}
		src = Literal(s)
	}

	cmdKey := field + CommandSuffix
	if v, ok := lookup(cmdKey); ok {
		found = append(found, cmdKey)
		argv, parseErr := commandArgv(v)
		if parseErr != nil {
			err = invalidForm(cmdKey, parseErr.Error())
		}
		src = Command(argv...)
	}

	keyringKey := field + KeyringSuffix
	if v, ok := lookup(keyringKey); ok {
		found = append(found, keyringKey)
		key, isString := v.(string)
		if !isString || key == "" {
			err = invalidForm(keyringKey, "expected a non-empty keyring entry name")
		}
		src = KeyringRef(key)
	}

	switch {
	case len(found) > 1:
		return Source{}, &Error{
			Kind:  AmbiguousSource,
			Field: field,
			Err:   fmt.Errorf("keys %s are mutually exclusive", strings.Join(found, ", ")),
		}
	case len(found) == 0:
		return Source{}, &Error{Kind: MissingSource, Field: field}
	case err != nil:
		return Source{}, err
	}

	return src.WithField(found[0]), nil
}

// Encode writes s back into its document form under field.
func (s Source) Encode(field string, out map[string]any) {
	switch s.Kind {
	case KindLiteral:
		out[field] = s.Value
	case KindCommand:
		if len(s.Argv) == 3 && s.Argv[0] == "sh" && s.Argv[1] == "-c" {
			out[field+CommandSuffix] = s.Argv[2]
			return
		}
		out[field+CommandSuffix] = append([]string(nil), s.Argv...)
	case KindKeyring:
		out[field+KeyringSuffix] = s.Value
	}
}

func commandArgv(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, errors.New("empty command")
		}
		return []string{"sh", "-c", t}, nil
	case []string:
		if len(t) == 0 {
			return nil, errors.New("empty command")
		}
		return append([]string(nil), t...), nil
	case []any:
		if len(t) == 0 {
			return nil, errors.New("empty command")
		}
		argv := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("command arguments must be strings")
			}
			argv = append(argv, s)
		}
		return argv, nil
	default:
		return nil, errors.New("expected a command string or an array of arguments")
	}
}

func invalidForm(key, reason string) error {
	return &Error{Kind: MalformedSource, Field: key, Err: errors.New(reason)}
}
