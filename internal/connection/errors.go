package connection

import (
	"errors"
	"fmt"
)

// ErrCoreAcquisition wraps every failure of CoreProvider.RequestCore.
var ErrCoreAcquisition = errors.New("core acquisition failed")

// ErrNilProvider is returned when a Connection has no CoreProvider.
var ErrNilProvider = errors.New("connection has no core provider")

// AuthErrorKind classifies authentication failures reported by a Core.
type AuthErrorKind int

// Authentication failure kinds.
const (
	AuthFailed AuthErrorKind = iota
	AuthNoMethodData
	AuthMissingData
	AuthMethodNotAllowed
	AuthAccountDisabled
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthFailed:
		return "failed"
	case AuthNoMethodData:
		return "noMethodData"
	case AuthMissingData:
		return "missingData"
	case AuthMethodNotAllowed:
		return "methodNotAllowed"
	case AuthAccountDisabled:
		return "disabled"
	}
	return "unknown"
}

// AuthenticationError is reported by a Core when the server rejected the
// stored credentials.
type AuthenticationError struct {
	Kind AuthErrorKind
	// Method names the authentication method, e.g. "OAuth2".
	Method string
	// TokenBased is set when the credential is an expiring access token.
	TokenBased bool
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication " + e.Kind.String()
	if e.Method != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Method)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// AsAuthenticationError extracts an AuthenticationError from err's chain.
func AsAuthenticationError(err error) (*AuthenticationError, bool) {
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsAuthenticationError reports whether err carries an AuthenticationError.
func IsAuthenticationError(err error) bool {
	_, ok := AsAuthenticationError(err)
	return ok
}

// IssueLevel ranks a Core issue.
type IssueLevel int

// Issue levels.
const (
	IssueInfo IssueLevel = iota
	IssueWarning
	IssueError
)

// Issue is structured context a Core may attach to an error.
type Issue struct {
	Level       IssueLevel
	Title       string
	Description string
	// AuthError, when set, replaces the error delivered to handlers.
	AuthError *AuthenticationError
}
