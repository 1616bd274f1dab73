package kennelguard

import (
	"context"
	"time"

	"github.com/MrEthical07/kennelguard/store"
)

// Role is the closed set of platform roles.
type Role = store.Role

// Platform roles.
const (
	RoleAdmin   = store.RoleAdmin
	RoleAdopter = store.RoleAdopter
	RoleSponsor = store.RoleSponsor
)

// ParseRole maps a wire name to a Role.
func ParseRole(name string) (Role, error) {
	return store.ParseRole(name)
}

// Identity is the account record owned by the credential store.
type Identity = store.Identity

// ResetToken is a persisted password-reset grant.
type ResetToken = store.ResetToken

// APIKeyRecord is a stored machine-to-machine credential.
type APIKeyRecord = store.APIKeyRecord

// APIKeyUsage is one accepted API key request.
type APIKeyUsage = store.APIKeyUsage

// IdentityStore resolves identities and persists password digests.
type IdentityStore = store.IdentityStore

// ResetTokenStore persists reset tokens atomically.
type ResetTokenStore = store.ResetTokenStore

// APIKeyStore resolves API keys and records their usage.
type APIKeyStore = store.APIKeyStore

// CredentialStore is the full persistence contract.
type CredentialStore = store.CredentialStore

// Notifier delivers out-of-band messages. Delivery mechanics are the
// implementation's concern; the engine logs failures and never retries.
//
//	Implementations: notify.LogNotifier, notify.RedisStream
type Notifier interface {
	SendResetLink(ctx context.Context, identity Identity, rawToken string) error
	SendPasswordChangedNotice(ctx context.Context, identity Identity) error
}

// SessionClaims is the verified content of an access token. It is never
// persisted.
type SessionClaims struct {
	IdentityID int64
	Role       Role
	IssuedAt   time.Time
	ExpiresAt  time.Time
	TokenID    string
}

// TokenPair is an access token with its refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ResetTicket carries a freshly issued reset token. Token is the raw value and
// is never stored or returned again.
type ResetTicket struct {
	IdentityID int64
	Token      string
	ExpiresAt  time.Time
}

// RequestAttributes exposes the request fields guards read. Transports adapt
// their request type to it; see middleware.HTTPRequest.
type RequestAttributes interface {
	RouteParam(name string) string
	QueryParam(name string) string
	// BodyField returns a top-level body field as a string, or "" when the
	// body is absent, not an object, or lacks the field.
	BodyField(name string) string
}

// APIKeyRequestMeta describes the request an API key is presented with.
type APIKeyRequestMeta struct {
	ClientIP  string
	UserAgent string
	Endpoint  string
	Method    string
}

// APIKeyPrincipal is an authenticated API key.
type APIKeyPrincipal struct {
	KeyID        string
	OwnerID      int64
	Permissions  []string
	RequestLimit int
	// Development is true when the key was accepted through the
	// development bypass rather than the store.
	Development bool
}
