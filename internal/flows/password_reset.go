package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/kennelguard/store"
)

// ResetTicket is a freshly issued reset token. Token is the raw value.
type ResetTicket struct {
	IdentityID int64
	Token      string
	ExpiresAt  time.Time
}

type ResetMetrics struct {
	ResetRequest        int
	ResetConfirmSuccess int
	ResetConfirmFailure int
}

type ResetEvents struct {
	ResetRequested string
	ResetConfirmed string
	ResetRejected  string
}

type ResetErrors struct {
	EngineNotReady    error
	ResetTokenInvalid error
	UserNotFound      error
	UserInactive      error
	WeakPassword      error
}

// ResetDeps wires the reset token lifecycle to the engine.
type ResetDeps struct {
	TokenTTL          time.Duration
	MinPasswordLength int

	Now         func() time.Time
	NewRawToken func() (string, error)
	WellFormed  func(string) bool
	HashToken   func(string) string
	NewID       func() string

	FindByID           func(context.Context, int64) (store.Identity, error)
	FindByCredentialID func(context.Context, string) (store.Identity, error)
	UpdatePasswordHash func(context.Context, int64, string) error
	HashPassword       func(string) (string, error)

	IssueToken       func(context.Context, store.ResetToken) error
	RedeemToken      func(context.Context, string, time.Time) (store.ResetToken, error)
	InvalidateTokens func(context.Context, int64) error

	// AllowRequest throttles reset requests per credential id. It returns
	// a rate limit error or an infrastructure error.
	AllowRequest      func(context.Context, string) error
	SendResetLink     func(context.Context, store.Identity, string) error
	SendChangedNotice func(context.Context, store.Identity) error

	// StoreFailure wraps an infrastructure error; it is also expected to log.
	StoreFailure func(op string, err error) error
	LogFailure   func(op string, err error)
	MetricInc    func(int)
	EmitAudit    func(ctx context.Context, event string, identityID int64, err error, meta func() map[string]string)

	Metrics ResetMetrics
	Events  ResetEvents
	Errors  ResetErrors
}

// RunIssueResetToken invalidates every outstanding token for identityID and
// issues a new one in one store call.
func RunIssueResetToken(ctx context.Context, identityID int64, deps ResetDeps) (ResetTicket, error) {
	normalizeResetDeps(&deps)
	if !deps.ready() {
		return ResetTicket{}, deps.Errors.EngineNotReady
	}

	identity, err := deps.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ResetTicket{}, deps.Errors.UserNotFound
		}
		return ResetTicket{}, deps.StoreFailure("reset token issue", err)
	}
	if !identity.Active {
		return ResetTicket{}, deps.Errors.UserInactive
	}
	return issueFor(ctx, identity, deps)
}

func issueFor(ctx context.Context, identity store.Identity, deps ResetDeps) (ResetTicket, error) {
	raw, err := deps.NewRawToken()
	if err != nil {
		return ResetTicket{}, deps.StoreFailure("reset token generate", err)
	}

	now := deps.Now()
	token := store.ResetToken{
		ID:         deps.NewID(),
		IdentityID: identity.ID,
		TokenHash:  deps.HashToken(raw),
		ExpiresAt:  now.Add(deps.TokenTTL),
		CreatedAt:  now,
	}
	if err := deps.IssueToken(ctx, token); err != nil {
		return ResetTicket{}, deps.StoreFailure("reset token issue", err)
	}

	return ResetTicket{
		IdentityID: identity.ID,
		Token:      raw,
		ExpiresAt:  token.ExpiresAt,
	}, nil
}

// RunRedeemResetToken consumes raw and returns the owning identity. Every
// miss, including an inactive owner, is ResetTokenInvalid.
func RunRedeemResetToken(ctx context.Context, raw string, deps ResetDeps) (store.Identity, error) {
	normalizeResetDeps(&deps)
	if !deps.ready() {
		return store.Identity{}, deps.Errors.EngineNotReady
	}

	if !deps.WellFormed(raw) {
		deps.EmitAudit(ctx, deps.Events.ResetRejected, 0, deps.Errors.ResetTokenInvalid, reason("malformed"))
		return store.Identity{}, deps.Errors.ResetTokenInvalid
	}

	token, err := deps.RedeemToken(ctx, deps.HashToken(raw), deps.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			deps.EmitAudit(ctx, deps.Events.ResetRejected, 0, deps.Errors.ResetTokenInvalid, reason("unknown_used_or_expired"))
			return store.Identity{}, deps.Errors.ResetTokenInvalid
		}
		return store.Identity{}, deps.StoreFailure("reset token redeem", err)
	}

	identity, err := deps.FindByID(ctx, token.IdentityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			deps.EmitAudit(ctx, deps.Events.ResetRejected, token.IdentityID, deps.Errors.ResetTokenInvalid, reason("identity_missing"))
			return store.Identity{}, deps.Errors.ResetTokenInvalid
		}
		return store.Identity{}, deps.StoreFailure("reset token redeem", err)
	}
	if !identity.Active {
		deps.EmitAudit(ctx, deps.Events.ResetRejected, identity.ID, deps.Errors.ResetTokenInvalid, reason("identity_inactive"))
		return store.Identity{}, deps.Errors.ResetTokenInvalid
	}
	return identity, nil
}

// RunRequestPasswordReset issues a token for credentialID and sends the
// link. Unknown and inactive identities return nil exactly like known ones.
// Notifier failures are logged and never returned.
func RunRequestPasswordReset(ctx context.Context, credentialID string, deps ResetDeps) error {
	normalizeResetDeps(&deps)
	if !deps.ready() || deps.FindByCredentialID == nil {
		return deps.Errors.EngineNotReady
	}

	credentialID = strings.ToLower(strings.TrimSpace(credentialID))
	if credentialID == "" {
		return nil
	}

	if err := deps.AllowRequest(ctx, credentialID); err != nil {
		return err
	}
	deps.MetricInc(deps.Metrics.ResetRequest)

	identity, err := deps.FindByCredentialID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			deps.EmitAudit(ctx, deps.Events.ResetRequested, 0, nil, enumerationSafe())
			return nil
		}
		return deps.StoreFailure("password reset lookup", err)
	}
	if !identity.Active {
		deps.EmitAudit(ctx, deps.Events.ResetRequested, identity.ID, nil, enumerationSafe())
		return nil
	}

	ticket, err := issueFor(ctx, identity, deps)
	if err != nil {
		return err
	}
	if err := deps.SendResetLink(ctx, identity, ticket.Token); err != nil {
		deps.LogFailure("reset link notify", err)
	}
	deps.EmitAudit(ctx, deps.Events.ResetRequested, identity.ID, nil, nil)
	return nil
}

// RunConfirmPasswordReset checks the password policy, redeems raw, then
// stores the new digest. The policy check runs first so a weak password
// does not consume the token.
func RunConfirmPasswordReset(ctx context.Context, raw, newPassword string, deps ResetDeps) error {
	normalizeResetDeps(&deps)
	if !deps.ready() || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return deps.Errors.EngineNotReady
	}

	if utf8.RuneCountInString(newPassword) < deps.MinPasswordLength {
		deps.MetricInc(deps.Metrics.ResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.ResetConfirmed, 0, deps.Errors.WeakPassword, nil)
		return deps.Errors.WeakPassword
	}

	identity, err := RunRedeemResetToken(ctx, raw, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.ResetConfirmFailure)
		return err
	}

	digest, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.MetricInc(deps.Metrics.ResetConfirmFailure)
		return deps.StoreFailure("password hash", err)
	}
	if err := deps.UpdatePasswordHash(ctx, identity.ID, digest); err != nil {
		deps.MetricInc(deps.Metrics.ResetConfirmFailure)
		if errors.Is(err, store.ErrNotFound) {
			return deps.Errors.ResetTokenInvalid
		}
		return deps.StoreFailure("password update", err)
	}

	if err := deps.InvalidateTokens(ctx, identity.ID); err != nil {
		deps.LogFailure("reset token invalidate", err)
	}
	if err := deps.SendChangedNotice(ctx, identity); err != nil {
		deps.LogFailure("password changed notify", err)
	}

	deps.MetricInc(deps.Metrics.ResetConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.ResetConfirmed, identity.ID, nil, nil)
	return nil
}

func (deps *ResetDeps) ready() bool {
	return deps.NewRawToken != nil &&
		deps.HashToken != nil &&
		deps.NewID != nil &&
		deps.FindByID != nil &&
		deps.IssueToken != nil &&
		deps.RedeemToken != nil &&
		deps.InvalidateTokens != nil
}

func normalizeResetDeps(deps *ResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = time.Hour
	}
	if deps.MinPasswordLength <= 0 {
		deps.MinPasswordLength = 8
	}
	if deps.WellFormed == nil {
		deps.WellFormed = func(s string) bool { return s != "" }
	}
	if deps.AllowRequest == nil {
		deps.AllowRequest = func(context.Context, string) error { return nil }
	}
	if deps.SendResetLink == nil {
		deps.SendResetLink = func(context.Context, store.Identity, string) error { return nil }
	}
	if deps.SendChangedNotice == nil {
		deps.SendChangedNotice = func(context.Context, store.Identity) error { return nil }
	}
	if deps.LogFailure == nil {
		deps.LogFailure = func(string, error) {}
	}
	if deps.StoreFailure == nil {
		deps.StoreFailure = func(_ string, err error) error { return err }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, int64, error, func() map[string]string) {}
	}
}

func reason(r string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": r}
	}
}

func enumerationSafe() func() map[string]string {
	return func() map[string]string {
		return map[string]string{"enumeration_safe": strconv.FormatBool(true)}
	}
}
