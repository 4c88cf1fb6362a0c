// Package mail authenticates against IMAP and SMTP servers with the
// material produced by a resolved account.
package mail

import (
	"errors"
	"fmt"

	"github.com/gl-yziquel/himalaya/internal/model"
)

// AuthError indicates that the server rejected the credentials.
type AuthError struct {
	Protocol model.ProtocolKind
	Login    string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): authentication failed for %s: %v", e.Protocol, e.Login, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
