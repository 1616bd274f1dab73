package kennelguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/kennelguard/jwt"
	"github.com/MrEthical07/kennelguard/store"
)

// IssueTokens signs an access token and a refresh token for identity. The
// identity must be active and carry a known role.
func (e *Engine) IssueTokens(ctx context.Context, identity Identity) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	if identity.ID <= 0 || !identity.Role.Valid() {
		return TokenPair{}, fmt.Errorf("cannot issue tokens for identity %d with role %q", identity.ID, identity.Role)
	}
	if !identity.Active {
		return TokenPair{}, ErrUserInactive
	}

	access, accessClaims, err := e.access.Create(identity.ID, identity.Role.String())
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshClaims, err := e.refresh.Create(identity.ID, identity.Role.String())
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// Verify authenticates an access token.
//
// Checks run in order: structure and signature (ErrTokenMalformed,
// ErrTokenInvalid), expiry (ErrTokenExpired), then the identity must still
// exist and be active (ErrUserNotFound). A token whose signature is valid but
// whose exp has passed always yields ErrTokenExpired. The role is taken from
// the token.
func (e *Engine) Verify(ctx context.Context, token string) (*SessionClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()
	}

	claims, err := e.verify(ctx, token)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, err
	}
	e.metricInc(MetricVerifySuccess)
	return claims, nil
}

func (e *Engine) verify(ctx context.Context, token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}

	parsed, err := e.access.Parse(token)
	if err != nil {
		return nil, mapTokenError(err)
	}
	role, err := ParseRole(parsed.Role)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	if _, err := e.lookupActive(ctx, parsed.UID, ErrUserNotFound, ErrUserNotFound); err != nil {
		return nil, err
	}

	return sessionClaims(parsed, role), nil
}

// Refresh exchanges a refresh token for a new pair. The identity is re-read
// and the new tokens carry the role from the store, not from the presented
// token.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	pair, identityID, err := e.refreshPair(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.auditFlow(ctx, auditEventRefreshFailure, identityID, err, nil)
		return TokenPair{}, err
	}
	e.metricInc(MetricRefreshSuccess)
	e.auditFlow(ctx, auditEventRefreshSuccess, identityID, nil, nil)
	return pair, nil
}

func (e *Engine) refreshPair(ctx context.Context, refreshToken string) (TokenPair, int64, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, 0, ErrTokenMissing
	}
	parsed, err := e.refresh.Parse(refreshToken)
	if err != nil {
		return TokenPair{}, 0, mapTokenError(err)
	}

	identity, err := e.identities.FindByID(ctx, parsed.UID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return TokenPair{}, parsed.UID, ErrUserNotFound
	case err != nil:
		return TokenPair{}, parsed.UID, e.storeFail("refresh lookup", err)
	case !identity.Active:
		return TokenPair{}, parsed.UID, ErrUserNotFound
	}

	pair, err := e.IssueTokens(ctx, identity)
	return pair, identity.ID, err
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenInvalid
	}
}

func sessionClaims(c *jwt.Claims, role Role) *SessionClaims {
	out := &SessionClaims{
		IdentityID: c.UID,
		Role:       role,
		TokenID:    c.ID,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
