package kennelguard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/kennelguard/internal"
	"github.com/MrEthical07/kennelguard/internal/audit"
	"github.com/MrEthical07/kennelguard/internal/flows"
	"github.com/MrEthical07/kennelguard/jwt"
	"github.com/MrEthical07/kennelguard/password"
	"github.com/MrEthical07/kennelguard/permission"
	"github.com/MrEthical07/kennelguard/ratelimit"
	"github.com/MrEthical07/kennelguard/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the authentication and authorization core. Build it with
// Builder; all methods are safe for concurrent use.
type Engine struct {
	config     Config
	identities IdentityStore
	resets     ResetTokenStore
	apiKeys    APIKeyStore
	notifier   Notifier
	limiter    ratelimit.Limiter
	hasher     *password.Hasher
	access     *jwt.Manager
	refresh    *jwt.Manager
	registry   *permission.Registry
	audit      *audit.Dispatcher
	usage      *usageRecorder
	flows      flows.Deps
	metrics    *Metrics
	log        *zap.Logger
	now        func() time.Time

	decoyOnce   sync.Once
	decoyDigest string
}

// Close stops the audit dispatcher and the API key usage recorder, flushing
// what they have queued.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.usage.Close()
	e.audit.Close()
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:    map[MetricID]uint64{},
			Histograms:  map[MetricID][]uint64{},
			LatencySums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Limiter returns the rate limiter the engine was built with.
func (e *Engine) Limiter() ratelimit.Limiter {
	if e == nil {
		return nil
	}
	return e.limiter
}

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger {
	if e == nil || e.log == nil {
		return zap.NewNop()
	}
	return e.log
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	if e == nil || e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.identities != nil && e.hasher != nil && e.access != nil && e.refresh != nil
}

// storeFail logs an infrastructure failure and wraps it in
// ErrStoreUnavailable.
func (e *Engine) storeFail(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.logFailure(op, err)
	return storeFailure(err)
}

// lookupActive loads identityID. Missing identities yield missingErr and
// inactive ones inactiveErr.
func (e *Engine) lookupActive(ctx context.Context, identityID int64, missingErr, inactiveErr error) (Identity, error) {
	identity, err := e.identities.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, missingErr
		}
		return Identity{}, e.storeFail("identity lookup", err)
	}
	if !identity.Active {
		return Identity{}, inactiveErr
	}
	return identity, nil
}

func (e *Engine) auditFlow(ctx context.Context, event string, identityID int64, err error, meta func() map[string]string) {
	e.emitAudit(ctx, event, auditSubject{identityID: identityID}, err, meta)
}

func (e *Engine) logFlow(op string, err error) {
	e.log.Warn(op+" failed", zap.Error(err))
}

func (e *Engine) resetDeps() flows.ResetDeps {
	return flows.ResetDeps{
		TokenTTL:          e.config.Reset.TokenTTL,
		MinPasswordLength: e.config.Password.MinLength,

		Now:         e.now,
		NewRawToken: internal.NewResetToken,
		WellFormed:  internal.WellFormedResetToken,
		HashToken:   store.HashSecret,
		NewID:       uuid.NewString,

		FindByID:           e.identities.FindByID,
		FindByCredentialID: e.identities.FindByCredentialID,
		UpdatePasswordHash: e.identities.UpdatePasswordHash,
		HashPassword:       e.hasher.Hash,

		IssueToken:       e.resets.IssueResetToken,
		RedeemToken:      e.resets.RedeemResetToken,
		InvalidateTokens: e.resets.InvalidateResetTokens,

		AllowRequest:      e.allowResetRequest,
		SendResetLink:     e.notifier.SendResetLink,
		SendChangedNotice: e.notifier.SendPasswordChangedNotice,

		StoreFailure: e.storeFail,
		LogFailure:   e.logFlow,
		MetricInc:    func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:    e.auditFlow,

		Metrics: flows.ResetMetrics{
			ResetRequest:        int(MetricPasswordResetRequest),
			ResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			ResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
		},
		Events: flows.ResetEvents{
			ResetRequested: auditEventResetRequested,
			ResetConfirmed: auditEventResetConfirmed,
			ResetRejected:  auditEventResetRejected,
		},
		Errors: flows.ResetErrors{
			EngineNotReady:    ErrEngineNotReady,
			ResetTokenInvalid: ErrResetTokenInvalid,
			UserNotFound:      ErrUserNotFound,
			UserInactive:      ErrUserInactive,
			WeakPassword:      ErrWeakPassword,
		},
	}
}

func (e *Engine) changeDeps() flows.ChangeDeps {
	return flows.ChangeDeps{
		MinPasswordLength: e.config.Password.MinLength,

		FindByID:           e.identities.FindByID,
		UpdatePasswordHash: e.identities.UpdatePasswordHash,
		VerifyPassword:     e.hasher.Verify,
		HashPassword:       e.hasher.Hash,
		InvalidateTokens:   e.resets.InvalidateResetTokens,
		SendChangedNotice:  e.notifier.SendPasswordChangedNotice,

		StoreFailure: e.storeFail,
		LogFailure:   e.logFlow,
		MetricInc:    func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:    e.auditFlow,

		Metrics: flows.ChangeMetrics{
			ChangeSuccess: int(MetricPasswordChangeSuccess),
			ChangeFailure: int(MetricPasswordChangeFailure),
		},
		Events: flows.ChangeEvents{
			ChangeSuccess: auditEventPasswordChangeSuccess,
			ChangeFailure: auditEventPasswordChangeFailure,
		},
		Errors: flows.ChangeErrors{
			EngineNotReady:     ErrEngineNotReady,
			UserNotFound:       ErrUserNotFound,
			UserInactive:       ErrUserInactive,
			InvalidCredentials: ErrInvalidCredentials,
			SamePassword:       ErrSamePassword,
			WeakPassword:       ErrWeakPassword,
		},
	}
}

type nopNotifier struct{}

func (nopNotifier) SendResetLink(context.Context, Identity, string) error { return nil }

func (nopNotifier) SendPasswordChangedNotice(context.Context, Identity) error { return nil }
