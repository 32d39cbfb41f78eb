package auth

import "errors"

// Error kinds. Every error leaving this package matches exactly one of them via errors.Is.
var (
	ErrInvalidRequest  = errors.New("auth: invalid request")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrMisconfigured   = errors.New("auth: misconfigured")
	ErrUpstream        = errors.New("auth: upstream failure")
)

// ErrInvalidToken indicates the bearer token failed verification.
var ErrInvalidToken = &Error{Kind: ErrUnauthenticated, Message: "Invalid token"}

// ErrAccountExists is reported by identity providers when the username is taken.
var ErrAccountExists = errors.New("auth: account already exists")

// Error carries a caller-safe message next to its kind. Err is the hidden cause and is
// never rendered to clients.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func invalidRequest(msg string) error {
	return &Error{Kind: ErrInvalidRequest, Message: msg}
}

func unauthenticated(msg string) error {
	return &Error{Kind: ErrUnauthenticated, Message: msg}
}

func misconfigured(msg string) error {
	return &Error{Kind: ErrMisconfigured, Message: msg}
}

// Classify passes already-classified errors through and wraps anything else as an
// upstream failure with the given message.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: ErrUpstream, Message: msg, Err: err}
}

// Message returns the caller-safe message of err, or fallback when err is unclassified.
func Message(err error, fallback string) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return fallback
}
