package kennelguard

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/kennelguard/ratelimit"
)

const (
	scopeIdentity     = "identity"
	scopeAPIKey       = "apikey"
	scopeLogin        = "login"
	scopeResetRequest = "reset"
)

// AllowIdentity counts one request for identityID against the configured
// per-identity budget. A denial returns the decision together with a
// *RateLimitError. With rate limiting disabled the decision has Limit 0.
func (e *Engine) AllowIdentity(ctx context.Context, identityID int64) (ratelimit.Decision, error) {
	if e == nil || e.limiter == nil {
		return ratelimit.Decision{}, ErrEngineNotReady
	}
	if !e.config.RateLimit.Enabled {
		return ratelimit.Decision{Allowed: true}, nil
	}
	return e.allow(ctx, scopeIdentity, strconv.FormatInt(identityID, 10),
		e.config.RateLimit.Limit, e.config.RateLimit.Window,
		auditSubject{identityID: identityID})
}

// AllowAPIKey counts one request for principal. The key's own RequestLimit
// wins when positive; otherwise APIKey.DefaultRequestLimit applies, and zero
// means unlimited.
func (e *Engine) AllowAPIKey(ctx context.Context, principal *APIKeyPrincipal) (ratelimit.Decision, error) {
	if e == nil || e.limiter == nil {
		return ratelimit.Decision{}, ErrEngineNotReady
	}
	if principal == nil {
		return ratelimit.Decision{}, ErrAPIKeyMissing
	}
	limit := principal.RequestLimit
	if limit <= 0 {
		limit = e.config.APIKey.DefaultRequestLimit
	}
	if limit <= 0 {
		return ratelimit.Decision{Allowed: true}, nil
	}
	return e.allow(ctx, scopeAPIKey, principal.KeyID, limit, e.config.APIKey.Window,
		auditSubject{apiKeyID: principal.KeyID})
}

func (e *Engine) allowLogin(ctx context.Context, credentialID string) error {
	if e.config.RateLimit.LoginLimit <= 0 {
		return nil
	}
	_, err := e.allow(ctx, scopeLogin, credentialID,
		e.config.RateLimit.LoginLimit, e.config.RateLimit.LoginWindow, auditSubject{})
	return err
}

func (e *Engine) allowResetRequest(ctx context.Context, credentialID string) error {
	_, err := e.allow(ctx, scopeResetRequest, credentialID,
		e.config.Reset.RequestLimit, e.config.Reset.RequestWindow, auditSubject{})
	return err
}

// allow runs one limiter check. Limiter outages fail closed as
// ErrStoreUnavailable.
func (e *Engine) allow(ctx context.Context, scope, key string, limit int, window time.Duration, subject auditSubject) (ratelimit.Decision, error) {
	d, err := e.limiter.Allow(ctx, scope+":"+key, limit, window)
	if err != nil {
		return ratelimit.Decision{}, e.storeFail("rate limit "+scope, err)
	}
	if !d.Allowed {
		rl := &RateLimitError{Limit: d.Limit, Remaining: d.Remaining, ResetAt: d.ResetAt}
		e.emitRateLimit(ctx, scope, subject, rl)
		return d, rl
	}
	return d, nil
}
