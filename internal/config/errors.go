package config

import (
	"errors"
	"fmt"

	"github.com/gl-yziquel/himalaya/internal/model"
)

// ErrorKind classifies a configuration error.
type ErrorKind int

const (
	AccountNotFound ErrorKind = iota + 1
	MissingRequiredField
	InvalidAuthShape
	InvalidField
	// SecretSource wraps a *secret.Error raised while reading the shape of
	// a secret (ambiguous or malformed forms).
	SecretSource
	BackendFeatureDisabled
)

func (k ErrorKind) String() string {
	switch k {
	case AccountNotFound:
		return "account not found"
	case MissingRequiredField:
		return "missing required field"
	case InvalidAuthShape:
		return "invalid authentication configuration"
	case InvalidField:
		return "invalid value"
	case SecretSource:
		return "invalid secret"
	case BackendFeatureDisabled:
		return "backend disabled"
	default:
		return "configuration error"
	}
}

// Error is a configuration shape or validation error. Account and Field
// locate the offending value in the document.
type Error struct {
	Kind    ErrorKind
	Account string
	Field   string
	Backend model.ProtocolKind
	Err     error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case AccountNotFound:
		if e.Account == "" {
			msg = "cannot find default account"
		} else {
			msg = fmt.Sprintf("cannot find account %q", e.Account)
		}
	case BackendFeatureDisabled:
		msg = fmt.Sprintf("%s backend is not available in this build", e.Backend)
		if e.Account != "" {
			msg = fmt.Sprintf("account %s: %s", e.Account, msg)
		}
	default:
		msg = fmt.Sprintf("%s: %s", e.path(), e.Kind)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Remedy returns a hint for the user, empty when there is none.
func (e *Error) Remedy() string {
	switch e.Kind {
	case BackendFeatureDisabled:
		return fmt.Sprintf("rebuild without the no%s build tag to enable the %s backend", e.Backend, e.Backend)
	case AccountNotFound:
		if e.Account == "" {
			return "pass --account or set default = true on one account"
		}
	}
	return ""
}

func (e *Error) path() string {
	switch {
	case e.Account != "" && e.Field != "":
		return e.Account + "." + e.Field
	case e.Field != "":
		return e.Field
	default:
		return e.Account
	}
}

// IsKind reports whether err, or a configuration error nested in it, has
// the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			return false
		}
		if cfgErr.Kind == kind {
			return true
		}
		err = cfgErr.Err
	}
	return false
}
