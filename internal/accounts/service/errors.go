package service

import (
	"errors"

	"github.com/samber/oops"
)

// Kind classifies a failure for the transport layer. Anything that is not
// a *Error is Internal.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a caller-safe failure. Msg is returned to clients verbatim.
type Error struct {
	Kind    Kind
	Msg     string
	Details map[string]string
}

func (e *Error) Error() string { return e.Msg }

// KindOf reports the kind of err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Credential and token failures share one message each so callers cannot
// tell which check failed.
var (
	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Msg: "invalid credentials"}
	ErrMFARequired        = &Error{Kind: KindUnauthorized, Msg: "additional verification required"}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Msg: "invalid or expired token"}

	ErrAccountSuspended = &Error{Kind: KindForbidden, Msg: "account suspended"}
	ErrForbidden        = &Error{Kind: KindForbidden, Msg: "forbidden"}
	ErrSecondFactor     = &Error{Kind: KindForbidden, Msg: "second factor required for this role"}

	ErrEmailTaken        = &Error{Kind: KindConflict, Msg: "email already in use"}
	ErrUsernameTaken     = &Error{Kind: KindConflict, Msg: "username already in use"}
	ErrAccountExists     = &Error{Kind: KindConflict, Msg: "email or username already in use"}
	ErrAlreadyVerified   = &Error{Kind: KindConflict, Msg: "email already verified"}
	ErrMFAAlreadyEnabled = &Error{Kind: KindConflict, Msg: "mfa already enabled"}

	ErrAccountNotFound = &Error{Kind: KindNotFound, Msg: "account not found"}
	ErrSessionNotFound = &Error{Kind: KindNotFound, Msg: "session not found"}

	ErrInvalidActionToken = &Error{Kind: KindValidation, Msg: "invalid or expired token"}
	ErrMFANotEnrolled     = &Error{Kind: KindValidation, Msg: "mfa not enrolled"}
	ErrMFANotEnabled      = &Error{Kind: KindValidation, Msg: "mfa not enabled"}
	ErrInvalidOTP         = &Error{Kind: KindValidation, Msg: "invalid verification code"}

	ErrBootstrapUnavailable  = &Error{Kind: KindNotFound, Msg: "bootstrap not available"}
	ErrBootstrapUnauthorized = &Error{Kind: KindUnauthorized, Msg: "invalid bootstrap token"}
)

func validationError(field, msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Details: map[string]string{field: msg}}
}

// internalErr wraps an unexpected failure with an oops code and context.
func internalErr(code string, err error, kv ...any) error {
	return oops.Code(code).With(kv...).Wrap(err)
}
