package kennelguard

import (
	"context"

	"github.com/MrEthical07/kennelguard/internal/flows"
)

// ChangePassword replaces the password of an authenticated identity.
//
// Checks run in order: the identity must exist (ErrUserNotFound) and be
// active (ErrUserInactive), currentPlain must verify (ErrInvalidCredentials),
// newPlain must not verify against the current digest (ErrSamePassword) and
// must meet the length policy (ErrWeakPassword). On success outstanding reset
// tokens are invalidated and the notifier is told; a notifier failure is
// logged and does not undo the change.
func (e *Engine) ChangePassword(ctx context.Context, identityID int64, currentPlain, newPlain string) error {
	if !e.resetReady() {
		return ErrEngineNotReady
	}
	return flows.RunChangePassword(ctx, identityID, currentPlain, newPlain, e.flows.Change)
}
