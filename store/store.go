package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("store: record not found")
	// ErrUnavailable wraps backend failures (connection loss, timeouts,
	// driver errors). It must never be reported as a missing record.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Identity is the account record owned by the external credential store.
// kennelguard only ever writes PasswordHash.
type Identity struct {
	ID           int64
	Role         Role
	CredentialID string
	Active       bool
	PasswordHash string
}

// ResetToken is a persisted password-reset grant. Only the SHA-256 digest of
// the raw token is stored.
type ResetToken struct {
	ID         string
	IdentityID int64
	TokenHash  string
	ExpiresAt  time.Time
	Used       bool
	CreatedAt  time.Time
}

// Live reports whether the token can still be redeemed at now.
func (t ResetToken) Live(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// APIKeyRecord describes a machine-to-machine credential. KeyHash is the hex
// SHA-256 of the key literal. A zero ExpiresAt never expires.
type APIKeyRecord struct {
	ID           string
	KeyHash      string
	Active       bool
	ExpiresAt    time.Time
	Permissions  []string
	RequestLimit int
	OwnerID      int64
}

// APIKeyUsage is one accepted API key request.
type APIKeyUsage struct {
	KeyID     string
	ClientIP  string
	UserAgent string
	Endpoint  string
	Method    string
	At        time.Time
}

// IdentityStore resolves identities and persists password digests.
type IdentityStore interface {
	FindByCredentialID(ctx context.Context, credentialID string) (Identity, error)
	FindByID(ctx context.Context, id int64) (Identity, error)
	UpdatePasswordHash(ctx context.Context, id int64, digest string) error
}

// ResetTokenStore persists reset tokens.
//
// IssueResetToken must mark every unused token of token.IdentityID as used
// and insert token in one atomic step. RedeemResetToken must find a token by
// hash that is unused and unexpired at now and mark it used in one atomic
// step; concurrent redemptions of the same hash succeed at most once.
type ResetTokenStore interface {
	IssueResetToken(ctx context.Context, token ResetToken) error
	RedeemResetToken(ctx context.Context, tokenHash string, now time.Time) (ResetToken, error)
	FindResetTokenByHash(ctx context.Context, tokenHash string) (ResetToken, error)
	InvalidateResetTokens(ctx context.Context, identityID int64) error
	SweepResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// APIKeyStore resolves API keys and records their usage.
type APIKeyStore interface {
	FindAPIKeyByHash(ctx context.Context, keyHash string) (APIKeyRecord, error)
	RecordAPIKeyUsage(ctx context.Context, usage APIKeyUsage) error
}

// CredentialStore is the full persistence contract.
type CredentialStore interface {
	IdentityStore
	ResetTokenStore
	APIKeyStore
}

// HashSecret returns the lowercase hex SHA-256 digest of secret. It is used
// for reset tokens and API keys so raw values never reach storage.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
