package flows

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/MrEthical07/kennelguard/store"
)

type ChangeMetrics struct {
	ChangeSuccess int
	ChangeFailure int
}

type ChangeEvents struct {
	ChangeSuccess string
	ChangeFailure string
}

type ChangeErrors struct {
	EngineNotReady     error
	UserNotFound       error
	UserInactive       error
	InvalidCredentials error
	SamePassword       error
	WeakPassword       error
}

// ChangeDeps wires the authenticated password change to the engine.
type ChangeDeps struct {
	MinPasswordLength int

	FindByID           func(context.Context, int64) (store.Identity, error)
	UpdatePasswordHash func(context.Context, int64, string) error
	VerifyPassword     func(plain, digest string) (bool, error)
	HashPassword       func(string) (string, error)
	InvalidateTokens   func(context.Context, int64) error
	SendChangedNotice  func(context.Context, store.Identity) error

	StoreFailure func(op string, err error) error
	LogFailure   func(op string, err error)
	MetricInc    func(int)
	EmitAudit    func(ctx context.Context, event string, identityID int64, err error, meta func() map[string]string)

	Metrics ChangeMetrics
	Events  ChangeEvents
	Errors  ChangeErrors
}

// RunChangePassword replaces the password of identityID after proving
// knowledge of the current one. Checks run in a fixed order: identity,
// current password, reuse, then length policy.
func RunChangePassword(ctx context.Context, identityID int64, current, next string, deps ChangeDeps) error {
	normalizeChangeDeps(&deps)
	if deps.FindByID == nil || deps.UpdatePasswordHash == nil || deps.VerifyPassword == nil || deps.HashPassword == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(err error, why string) error {
		deps.MetricInc(deps.Metrics.ChangeFailure)
		deps.EmitAudit(ctx, deps.Events.ChangeFailure, identityID, err, reason(why))
		return err
	}

	identity, err := deps.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(deps.Errors.UserNotFound, "identity_missing")
		}
		return fail(deps.StoreFailure("password change lookup", err), "store")
	}
	if !identity.Active {
		return fail(deps.Errors.UserInactive, "identity_inactive")
	}

	ok, err := deps.VerifyPassword(current, identity.PasswordHash)
	if err != nil {
		// A stored digest that cannot be parsed is a data fault, not a
		// wrong password.
		return fail(deps.StoreFailure("password verify", err), "digest_unreadable")
	}
	if !ok {
		return fail(deps.Errors.InvalidCredentials, "current_mismatch")
	}

	same, err := deps.VerifyPassword(next, identity.PasswordHash)
	if err != nil {
		return fail(deps.StoreFailure("password verify", err), "digest_unreadable")
	}
	if same {
		return fail(deps.Errors.SamePassword, "reuse")
	}
	if utf8.RuneCountInString(next) < deps.MinPasswordLength {
		return fail(deps.Errors.WeakPassword, "policy")
	}

	digest, err := deps.HashPassword(next)
	if err != nil {
		return fail(deps.StoreFailure("password hash", err), "hash")
	}
	if err := deps.UpdatePasswordHash(ctx, identity.ID, digest); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(deps.Errors.UserNotFound, "identity_missing")
		}
		return fail(deps.StoreFailure("password update", err), "store")
	}

	if err := deps.InvalidateTokens(ctx, identity.ID); err != nil {
		deps.LogFailure("reset token invalidate", err)
	}
	if err := deps.SendChangedNotice(ctx, identity); err != nil {
		deps.LogFailure("password changed notify", err)
	}

	deps.MetricInc(deps.Metrics.ChangeSuccess)
	deps.EmitAudit(ctx, deps.Events.ChangeSuccess, identity.ID, nil, nil)
	return nil
}

func normalizeChangeDeps(deps *ChangeDeps) {
	if deps.MinPasswordLength <= 0 {
		deps.MinPasswordLength = 8
	}
	if deps.InvalidateTokens == nil {
		deps.InvalidateTokens = func(context.Context, int64) error { return nil }
	}
	if deps.SendChangedNotice == nil {
		deps.SendChangedNotice = func(context.Context, store.Identity) error { return nil }
	}
	if deps.StoreFailure == nil {
		deps.StoreFailure = func(_ string, err error) error { return err }
	}
	if deps.LogFailure == nil {
		deps.LogFailure = func(string, error) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, int64, error, func() map[string]string) {}
	}
}
