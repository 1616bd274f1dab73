package kennelguard

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrTokenMissing is an exported constant or variable used by the authentication engine.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenMalformed is an exported constant or variable used by the authentication engine.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is an exported constant or variable used by the authentication engine.
	ErrTokenExpired = errors.New("token expired")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive is an exported constant or variable used by the authentication engine.
	ErrUserInactive = errors.New("user inactive")
	// ErrAccessDenied is an exported constant or variable used by the authentication engine.
	ErrAccessDenied = errors.New("access denied")
	// ErrAccessDeniedOwnerOnly is an exported constant or variable used by the authentication engine.
	ErrAccessDeniedOwnerOnly = errors.New("access denied: owner only")
	// ErrResourceIDMissing is an exported constant or variable used by the authentication engine.
	ErrResourceIDMissing = errors.New("resource id missing")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrResetTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrResetTokenInvalid = errors.New("reset token invalid or expired")
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSamePassword is an exported constant or variable used by the authentication engine.
	ErrSamePassword = errors.New("new password must differ from current password")
	// ErrWeakPassword is an exported constant or variable used by the authentication engine.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrAPIKeyMissing is an exported constant or variable used by the authentication engine.
	ErrAPIKeyMissing = errors.New("api key missing")
	// ErrAPIKeyInvalid is an exported constant or variable used by the authentication engine.
	ErrAPIKeyInvalid = errors.New("api key invalid")
	// ErrAPIKeyInactive is an exported constant or variable used by the authentication engine.
	ErrAPIKeyInactive = errors.New("api key inactive")
	// ErrAPIKeyExpired is an exported constant or variable used by the authentication engine.
	ErrAPIKeyExpired = errors.New("api key expired")
	// ErrInsufficientPermissions is an exported constant or variable used by the authentication engine.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	// ErrStoreUnavailable is an exported constant or variable used by the authentication engine.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Code is a stable machine-readable denial code.
type Code string

// Denial codes returned by CodeOf.
const (
	CodeTokenMissing            Code = "TOKEN_MISSING"
	CodeTokenMalformed          Code = "TOKEN_MALFORMED"
	CodeTokenInvalid            Code = "TOKEN_INVALID"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeUserInactive            Code = "USER_INACTIVE"
	CodeAccessDenied            Code = "ACCESS_DENIED"
	CodeAccessDeniedOwnerOnly   Code = "ACCESS_DENIED_OWNER_ONLY"
	CodeResourceIDMissing       Code = "RESOURCE_ID_MISSING"
	CodeRateLimitExceeded       Code = "RATE_LIMIT_EXCEEDED"
	CodeTokenInvalidOrExpired   Code = "TOKEN_INVALID_OR_EXPIRED"
	CodeInvalidCredentials      Code = "INVALID_CREDENTIALS"
	CodeSamePassword            Code = "SAME_PASSWORD"
	CodeWeakPassword            Code = "WEAK_PASSWORD"
	CodeAPIKeyMissing           Code = "API_KEY_MISSING"
	CodeAPIKeyInvalid           Code = "API_KEY_INVALID"
	CodeAPIKeyInactive          Code = "API_KEY_INACTIVE"
	CodeAPIKeyExpired           Code = "API_KEY_EXPIRED"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// Class groups denials by how callers should treat them.
type Class string

// Error classes.
const (
	ClassMalformed      Class = "malformed"
	ClassInvalid        Class = "invalid_material"
	ClassAuthorization  Class = "authorization"
	ClassStateConflict  Class = "state_conflict"
	ClassRate           Class = "rate"
	ClassInfrastructure Class = "infrastructure"
)

// Denial is the transport-neutral description of a failed check.
type Denial struct {
	Code    Code
	Class   Class
	Status  int
	Message string
}

type denialEntry struct {
	err    error
	denial Denial
}

// Order matters: more specific sentinels come first.
var denialTable = []denialEntry{
	{ErrTokenMissing, Denial{CodeTokenMissing, ClassMalformed, http.StatusUnauthorized, "Authentication token is required."}},
	{ErrTokenMalformed, Denial{CodeTokenMalformed, ClassInvalid, http.StatusUnauthorized, "Authentication token is invalid."}},
	{ErrTokenInvalid, Denial{CodeTokenInvalid, ClassInvalid, http.StatusUnauthorized, "Authentication token is invalid."}},
	{ErrTokenExpired, Denial{CodeTokenExpired, ClassInvalid, http.StatusUnauthorized, "Authentication token has expired."}},
	{ErrUserNotFound, Denial{CodeUserNotFound, ClassInvalid, http.StatusUnauthorized, "Authentication token is invalid."}},
	{ErrUserInactive, Denial{CodeUserInactive, ClassStateConflict, http.StatusForbidden, "This account is no longer active."}},
	{ErrAccessDeniedOwnerOnly, Denial{CodeAccessDeniedOwnerOnly, ClassAuthorization, http.StatusForbidden, "You can only access your own resources."}},
	{ErrAccessDenied, Denial{CodeAccessDenied, ClassAuthorization, http.StatusForbidden, "Your role does not allow this action."}},
	{ErrResourceIDMissing, Denial{CodeResourceIDMissing, ClassMalformed, http.StatusBadRequest, "A resource id is required."}},
	{ErrRateLimited, Denial{CodeRateLimitExceeded, ClassRate, http.StatusTooManyRequests, "Too many requests. Try again later."}},
	{ErrResetTokenInvalid, Denial{CodeTokenInvalidOrExpired, ClassInvalid, http.StatusBadRequest, "The reset link is invalid or has expired."}},
	{ErrInvalidCredentials, Denial{CodeInvalidCredentials, ClassInvalid, http.StatusUnauthorized, "Invalid credentials."}},
	{ErrSamePassword, Denial{CodeSamePassword, ClassStateConflict, http.StatusBadRequest, "The new password must differ from the current one."}},
	{ErrWeakPassword, Denial{CodeWeakPassword, ClassMalformed, http.StatusBadRequest, "The password must be at least 8 characters long."}},
	{ErrAPIKeyMissing, Denial{CodeAPIKeyMissing, ClassMalformed, http.StatusUnauthorized, "An API key is required."}},
	{ErrAPIKeyInvalid, Denial{CodeAPIKeyInvalid, ClassInvalid, http.StatusUnauthorized, "The API key is invalid."}},
	{ErrAPIKeyInactive, Denial{CodeAPIKeyInactive, ClassStateConflict, http.StatusForbidden, "The API key has been deactivated."}},
	{ErrAPIKeyExpired, Denial{CodeAPIKeyExpired, ClassInvalid, http.StatusUnauthorized, "The API key has expired."}},
	{ErrInsufficientPermissions, Denial{CodeInsufficientPermissions, ClassAuthorization, http.StatusForbidden, "The API key lacks required permissions."}},
}

var internalDenial = Denial{CodeInternal, ClassInfrastructure, http.StatusInternalServerError, "An internal error occurred."}

// Describe maps err to its denial. Unrecognised errors, store outages and a
// nil engine all map to INTERNAL_ERROR.
func Describe(err error) Denial {
	for _, entry := range denialTable {
		if errors.Is(err, entry.err) {
			d := entry.denial
			var perm *InsufficientPermissionsError
			if errors.As(err, &perm) && len(perm.Missing) > 0 {
				d.Message = "The API key lacks required permissions: " + strings.Join(perm.Missing, ", ") + "."
			}
			return d
		}
	}
	return internalDenial
}

// CodeOf returns the stable code for err.
func CodeOf(err error) Code {
	return Describe(err).Code
}

// RateLimitError is returned when a rate limit denies a call.
type RateLimitError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: limit %d, resets at %s", e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter returns the wait until ResetAt measured from now, rounded up to
// whole seconds and never negative.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

// InsufficientPermissionsError names the permissions an API key lacks.
type InsufficientPermissionsError struct {
	Missing []string
}

func (e *InsufficientPermissionsError) Error() string {
	return "insufficient permissions: missing " + strings.Join(e.Missing, ", ")
}

// Is matches ErrInsufficientPermissions.
func (e *InsufficientPermissionsError) Is(target error) bool {
	return target == ErrInsufficientPermissions
}

// storeFailure wraps an infrastructure cause so it maps to INTERNAL_ERROR.
func storeFailure(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
