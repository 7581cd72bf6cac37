package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
)

// Exported variables.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotUndoable   = errors.New("hard delete cannot be undone")
	ErrUnresolvable  = errors.New("could not resolve path")
	ErrUnsupported   = errors.New("unsupported operation")
)

// AuthError reports a failed authentication with enough server context to
// diagnose it. The username is masked.
type AuthError struct {
	Server string
	Share  string
	User   string
	Cause  error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	target := e.Server
	if e.Share != "" {
		target += "/" + e.Share
	}

	return fmt.Sprintf("authentication failed for %s as %s: %T: %v",
		target, MaskUser(e.User), e.Cause, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Classify maps an error to its Kind. It inspects the wrap chain before
// falling back to message patterns. A nil error is KindUnknown.
//
//nolint:cyclop // ordered checks, most specific first
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var actionable ActionableError
	if errors.As(err, &actionable) {
		return actionable.Kind()
	}

	if IsTimeout(err) {
		return KindTimeout
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return KindAuth
	}

	switch {
	case errors.Is(err, ErrUnresolvable):
		return KindResolution
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrNotUndoable):
		return KindUnsupported
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, fs.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnection
	}

	return NewPatternMatcher().Match(err.Error())
}

// IsTimeout reports whether err is timeout-like: a context deadline or
// cancellation, a network timeout, a deadline on an os file, or any error in
// the chain whose message contains "timeout" (case-insensitive).
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.Contains(strings.ToLower(e.Error()), "timeout") {
			return true
		}
	}

	return false
}

// IsApplication reports whether err describes the state of the remote
// filesystem (missing entry, existing entry, permissions) rather than the
// health of the connection that reported it.
func IsApplication(err error) bool {
	switch Classify(err) {
	case KindNotFound, KindAlreadyExists, KindPermission, KindUnsupported, KindResolution:
		return true
	case KindAuth, KindConnection, KindPartial, KindTimeout, KindUnknown:
		return false
	default:
		return false
	}
}

// MaskUser hides all but the first character of a username.
func MaskUser(user string) string {
	if user == "" {
		return "<anonymous>"
	}

	runes := []rune(user)

	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}

// Normalize makes protocol-specific failures (FTP 550 replies, SMB NT status
// codes, ...) match the io/fs sentinels so callers can test them with
// errors.Is. The message is unchanged.
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	var sentinel error

	switch Classify(err) {
	case KindNotFound:
		sentinel = fs.ErrNotExist
	case KindAlreadyExists:
		sentinel = fs.ErrExist
	case KindPermission:
		sentinel = fs.ErrPermission
	default:
		return err
	}

	if errors.Is(err, sentinel) {
		return err
	}

	return &normalizedError{err: err, sentinel: sentinel}
}

type normalizedError struct {
	err      error
	sentinel error
}

func (e *normalizedError) Error() string { return e.err.Error() }

func (e *normalizedError) Unwrap() []error { return []error{e.err, e.sentinel} }
