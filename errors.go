package goAccount

import (
	"errors"
	"net/http"
)

// Kind classifies every error returned by Engine flows.
type Kind uint8

const (
	// KindInternal is an unexpected failure. Its message never carries the cause.
	KindInternal Kind = iota
	// KindValidation is malformed or policy-violating input.
	KindValidation
	// KindAuthentication covers every credential, code and token failure.
	KindAuthentication
	// KindConflict is a uniqueness clash or a state that forbids the operation.
	KindConflict
	// KindThrottled is a cooldown or rate limit.
	KindThrottled
	// KindNotFound is a missing resource the caller is entitled to know about.
	KindNotFound
	// KindUnavailable is a retryable backend outage or timeout.
	KindUnavailable
)

// String returns the stable wire code of k.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindAuthentication:
		return "authentication_error"
	case KindConflict:
		return "conflict"
	case KindThrottled:
		return "throttled"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}

// Status maps k to an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single error type returned across the Engine boundary.
//
// Code refines Kind ("username_taken", "already_verified"). Fields carries
// per-field validation messages. Err is the underlying cause, kept for logs
// and errors.Is chains; it is never part of Error().
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind whose Code is empty or equal.
// This lets the Kind sentinels below match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || t.Code == e.Code)
}

// Kind sentinels. errors.Is(err, ErrConflict) holds for every conflict.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrThrottled      = &Error{Kind: KindThrottled}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrUnavailable    = &Error{Kind: KindUnavailable}
	ErrInternal       = &Error{Kind: KindInternal}
)

var (
	// ErrUnauthorized is the one authentication failure callers ever see.
	ErrUnauthorized = &Error{Kind: KindAuthentication, Code: "invalid_credentials", Message: "invalid credentials"}
	// ErrUsernameTaken is returned when the requested username belongs to another account.
	ErrUsernameTaken = &Error{Kind: KindConflict, Code: "username_taken", Message: "username already taken"}
	// ErrEmailTaken is returned when the requested email belongs to another account.
	ErrEmailTaken = &Error{Kind: KindConflict, Code: "email_taken", Message: "email already registered"}
	// ErrIdentityLinkRequired is returned when an external login matches an
	// existing account by email only.
	ErrIdentityLinkRequired = &Error{Kind: KindConflict, Code: "identity_link_required", Message: "an account with this email exists; sign in and link the provider manually"}
	// ErrIdentityTaken is returned when the external identity is linked to another account.
	ErrIdentityTaken = &Error{Kind: KindConflict, Code: "identity_taken", Message: "identity already linked to another account"}
	// ErrAccountExists is returned when a concurrent writer claimed the
	// username or email between the uniqueness check and the insert.
	ErrAccountExists = &Error{Kind: KindConflict, Code: "account_exists", Message: "account already exists"}
	// ErrAlreadyVerified is returned when verifying an already verified email.
	ErrAlreadyVerified = &Error{Kind: KindConflict, Code: "already_verified", Message: "email already verified"}
	// ErrGuestDisabled is returned by CreateGuest when guest accounts are turned off.
	ErrGuestDisabled = &Error{Kind: KindConflict, Code: "guest_disabled", Message: "guest accounts are disabled"}
	// ErrNotGuest is returned when upgrading an account that is not a guest.
	ErrNotGuest = &Error{Kind: KindConflict, Code: "not_guest", Message: "account is not a guest account"}
	// ErrCodeCooldown is returned when a code is requested inside the resend cooldown.
	ErrCodeCooldown = &Error{Kind: KindThrottled, Code: "code_cooldown", Message: "please wait before requesting another code"}
	// ErrRateLimited is returned when a login or code confirmation budget is spent.
	ErrRateLimited = &Error{Kind: KindThrottled, Code: "rate_limited", Message: "too many attempts, try again later"}
	// ErrAccountNotFound is returned by flows that act on the caller's own account.
	ErrAccountNotFound = &Error{Kind: KindNotFound, Code: "account_not_found", Message: "account not found"}
	// ErrServiceUnavailable is returned when the store or a required backend is down.
	ErrServiceUnavailable = &Error{Kind: KindUnavailable, Code: "unavailable", Message: "service temporarily unavailable"}
	// ErrEngineNotReady is returned when a flow runs on a zero Engine.
	ErrEngineNotReady = &Error{Kind: KindInternal, Code: "engine_not_ready", Message: "engine not initialized"}
)

func validationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_input", Message: "invalid input", Fields: fields}
}

// unauthorized keeps the cause for errors.Is and logs while presenting the
// generic message.
func unauthorized(cause error) *Error {
	return &Error{Kind: KindAuthentication, Code: ErrUnauthorized.Code, Message: ErrUnauthorized.Message, Err: cause}
}

func unavailable(cause error) *Error {
	return &Error{Kind: KindUnavailable, Code: ErrServiceUnavailable.Code, Message: ErrServiceUnavailable.Message, Err: cause}
}

func internalError(cause error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: "internal error", Err: cause}
}

func withCause(base *Error, cause error) *Error {
	out := *base
	out.Err = cause
	return &out
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
