package secret

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a secret resolution failure.
type ErrorKind int

const (
	// CommandFailed means the command could not be spawned or exited non-zero.
	CommandFailed ErrorKind = iota + 1
	// KeyringMiss means the keyring has no entry for the key.
	KeyringMiss
	// KeyringUnavailable means no keyring capability was provided.
	KeyringUnavailable
	// AmbiguousSource means more than one of <field>, <field>-cmd and
	// <field>-keyring is set.
	AmbiguousSource
	// MissingSource means none of the forms is set.
	MissingSource
	// MalformedSource means a form is present but its value has the
	// wrong shape.
	MalformedSource
	// NotPersistable means the source cannot accept a new value.
	NotPersistable
)

func (k ErrorKind) String() string {
	switch k {
	case CommandFailed:
		return "command failed"
	case KeyringMiss:
		return "keyring entry not found"
	case KeyringUnavailable:
		return "keyring unavailable"
	case AmbiguousSource:
		return "ambiguous secret source"
	case MissingSource:
		return "missing secret source"
	case MalformedSource:
		return "malformed secret source"
	case NotPersistable:
		return "secret source is not persistable"
	default:
		return "unknown secret error"
	}
}

// Error is returned when a secret source cannot be parsed or resolved.
// It carries structural context only, never a secret value.
type Error struct {
	Kind  ErrorKind
	Field string

	// Key is the keyring entry for KeyringMiss and KeyringUnavailable.
	Key string

	// ExitCode and Stderr describe a CommandFailed error. ExitCode is -1
	// when the process could not be spawned.
	ExitCode int
	Stderr   string

	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}

	switch e.Kind {
	case CommandFailed:
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
		if e.Stderr != "" {
			msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
		}
	case KeyringMiss, KeyringUnavailable:
		msg = fmt.Sprintf("%s (key %q)", msg, e.Key)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err (or any error in its chain) is a secret
// Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var secretErr *Error
	return errors.As(err, &secretErr) && secretErr.Kind == kind
}
