package oauth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a token lifecycle failure.
type ErrorKind int

const (
	// TokenEndpointError means the token endpoint answered with a non-2xx
	// status other than invalid_grant.
	TokenEndpointError ErrorKind = iota + 1
	// RefreshTokenExhausted means the refresh token was rejected or is
	// missing; the user must authorize the account again.
	RefreshTokenExhausted
	// NonPersistableSource means a refreshed token cannot be written back
	// to the source it came from.
	NonPersistableSource
)

// Error is a token lifecycle error. It never carries a token value.
type Error struct {
	Kind ErrorKind

	// Status and Body describe a TokenEndpointError.
	Status int
	Body   string

	// Field is the document key of the offending source.
	Field string

	Err error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case TokenEndpointError:
		msg = fmt.Sprintf("token endpoint returned status %d", e.Status)
		if e.Body != "" {
			msg = fmt.Sprintf("%s: %s", msg, e.Body)
		}
	case RefreshTokenExhausted:
		msg = "refresh token is no longer valid, authorize the account again"
	case NonPersistableSource:
		msg = fmt.Sprintf("cannot write refreshed token back to %s", e.Field)
	default:
		msg = "oauth2 error"
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRefreshTokenExhausted reports whether err asks for re-authorization.
func IsRefreshTokenExhausted(err error) bool {
	var oauthErr *Error
	return errors.As(err, &oauthErr) && oauthErr.Kind == RefreshTokenExhausted
}

// IsNonPersistableSource reports whether err is a write-back failure.
func IsNonPersistableSource(err error) bool {
	var oauthErr *Error
	return errors.As(err, &oauthErr) && oauthErr.Kind == NonPersistableSource
}
