package kennelguard

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshFailure        = "refresh_failure"
	auditEventAccessDenied          = "access_denied"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventPasswordRehashed      = "password_rehashed"
	auditEventResetRequested        = "password_reset_request"
	auditEventResetConfirmed        = "password_reset_confirm"
	auditEventResetRejected         = "password_reset_rejected"
	auditEventResetSweep            = "password_reset_sweep"
	auditEventAPIKeyAccepted        = "api_key_accepted"
	auditEventAPIKeyRejected        = "api_key_rejected"
	auditEventAPIKeyDevBypass       = "api_key_dev_bypass"
)

// auditSubject names who an event is about. Zero fields are omitted.
type auditSubject struct {
	identityID int64
	apiKeyID   string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	subject auditSubject,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		APIKeyID:  subject.apiKeyID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   err == nil,
		Metadata:  metadata,
	}
	if subject.identityID > 0 {
		event.IdentityID = strconv.FormatInt(subject.identityID, 10)
	}
	if err != nil {
		event.Code = string(CodeOf(err))
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, subject auditSubject, rl *RateLimitError) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, subject, rl, func() map[string]string {
		return map[string]string{
			"scope": scope,
			"limit": strconv.Itoa(rl.Limit),
		}
	})
}

// logFailure records an infrastructure failure. Denials are not logged here;
// they go to audit.
func (e *Engine) logFailure(op string, err error, fields ...zap.Field) {
	e.metricInc(MetricStoreFailure)
	e.log.Error(op+" failed", append(fields, zap.Error(err))...)
}
