package connection

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AuthFailure describes an authentication failure in user-facing terms.
type AuthFailure struct {
	Err           *AuthenticationError
	Title         string
	Message       string
	IgnoreLabel   string
	HasEditOption bool
}

// AuthWatchdog is a consumer that claims authentication errors. Only the
// first failure after a connect is handled; later ones pass through to the
// next consumers until the connection returns to noCore.
type AuthWatchdog struct {
	consumer  *Consumer
	logger    *zap.Logger
	onFailure func(*Connection, *AuthFailure)

	mu      sync.Mutex
	skip    bool
	failure *AuthFailure
}

// NewAuthWatchdog builds a watchdog. onFailure, if set, runs on the delivery
// context after the connection has been marked as failed.
func NewAuthWatchdog(logger *zap.Logger, onFailure func(*Connection, *AuthFailure)) *AuthWatchdog {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &AuthWatchdog{logger: logger, onFailure: onFailure}
	w.consumer = NewConsumer(
		WithStatusObserver(w.statusChanged),
		WithCoreErrorHandler(w.handleError),
	)
	return w
}

// Consumer returns the consumer to register on a Connection.
func (w *AuthWatchdog) Consumer() *Consumer {
	return w.consumer
}

// Failure returns the last handled failure, or nil.
func (w *AuthWatchdog) Failure() *AuthFailure {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}

func (w *AuthWatchdog) statusChanged(_ *Connection, status Status, _ bool) {
	if status != StatusNoCore {
		return
	}
	w.mu.Lock()
	w.skip = false
	w.mu.Unlock()
}

func (w *AuthWatchdog) handleError(c *Connection, err error, _ *Issue) bool {
	if c.Core() == nil {
		return false
	}
	ae, ok := AsAuthenticationError(err)
	if !ok {
		return false
	}
	w.mu.Lock()
	if w.skip {
		w.mu.Unlock()
		return false
	}
	w.skip = true
	failure := DescribeAuthFailure(ae)
	w.failure = failure
	w.mu.Unlock()

	w.logger.Warn("authentication failed",
		zap.String("account_id", c.AccountID().String()),
		zap.Stringer("kind", ae.Kind),
		zap.Error(ae))
	c.MarkAuthenticationFailed(failure.Title)
	if w.onFailure != nil {
		w.onFailure(c, failure)
	}
	return true
}

// DescribeAuthFailure maps an authentication error to the text shown to the user.
func DescribeAuthFailure(ae *AuthenticationError) *AuthFailure {
	f := &AuthFailure{
		Err:           ae,
		Title:         "Authentication error",
		IgnoreLabel:   "Ignore",
		HasEditOption: true,
	}
	switch ae.Kind {
	case AuthAccountDisabled:
		f.Title = "Account disabled"
		f.Message = "The account has been disabled."
		f.IgnoreLabel = "Continue offline"
		f.HasEditOption = false
	case AuthFailed:
		if ae.TokenBased {
			f.Title = "Access denied"
			f.Message = "The connection's access token has expired or become invalid. Sign in again to re-gain access."
		} else {
			f.Message = "The server declined access with the credentials stored for this connection."
		}
	case AuthNoMethodData, AuthMissingData:
		f.Message = "No authentication data has been found for this connection."
	case AuthMethodNotAllowed:
		method := ae.Method
		if method == "" {
			method = "this method"
		}
		f.Message = fmt.Sprintf("Authentication with %s is no longer allowed. Re-authentication needed.", method)
	}
	return f
}
