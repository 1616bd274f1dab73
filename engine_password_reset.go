package kennelguard

import (
	"context"

	"github.com/MrEthical07/kennelguard/internal/flows"
)

// IssueResetToken marks every unused token of identityID as used and stores a
// new one in one atomic store call. The raw token is returned exactly once;
// only its SHA-256 digest is persisted.
func (e *Engine) IssueResetToken(ctx context.Context, identityID int64) (ResetTicket, error) {
	if !e.resetReady() {
		return ResetTicket{}, ErrEngineNotReady
	}
	t, err := flows.RunIssueResetToken(ctx, identityID, e.flows.Reset)
	if err != nil {
		return ResetTicket{}, err
	}
	return ResetTicket{IdentityID: t.IdentityID, Token: t.Token, ExpiresAt: t.ExpiresAt}, nil
}

// RedeemResetToken consumes raw and returns the owning identity id. Unknown,
// used or expired tokens and inactive owners all yield ErrResetTokenInvalid.
// Concurrent redemptions of one token succeed at most once.
func (e *Engine) RedeemResetToken(ctx context.Context, raw string) (int64, error) {
	if !e.resetReady() {
		return 0, ErrEngineNotReady
	}
	identity, err := flows.RunRedeemResetToken(ctx, raw, e.flows.Reset)
	if err != nil {
		return 0, err
	}
	return identity.ID, nil
}

// The result is nil for known, unknown and inactive credential ids alike.
// Requests are throttled per credential id with Reset.RequestLimit.
func (e *Engine) RequestPasswordReset(ctx context.Context, credentialID string) error {
	if !e.resetReady() {
		return ErrEngineNotReady
	}
	return flows.RunRequestPasswordReset(ctx, credentialID, e.flows.Reset)
}

// The password policy is checked before the token is redeemed, so a weak
// password leaves the token usable.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, raw, newPassword string) error {
	if !e.resetReady() {
		return ErrEngineNotReady
	}
	return flows.RunConfirmPasswordReset(ctx, raw, newPassword, e.flows.Reset)
}

// SweepResetTokens deletes expired and used reset tokens and returns how
// many were removed.
func (e *Engine) SweepResetTokens(ctx context.Context) (int64, error) {
	if !e.resetReady() {
		return 0, ErrEngineNotReady
	}
	n, err := e.resets.SweepResetTokens(ctx, e.now())
	if err != nil {
		return 0, e.storeFail("reset token sweep", err)
	}
	if n > 0 {
		e.metrics.Add(MetricResetTokensSwept, uint64(n))
	}
	return n, nil
}

func (e *Engine) resetReady() bool {
	return e.ready() && e.resets != nil
}
