package kennelguard

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/kennelguard/internal"
	"github.com/MrEthical07/kennelguard/permission"
	"github.com/MrEthical07/kennelguard/store"
)

// AuthenticateAPIKey resolves a raw API key and checks that it grants every
// name in required.
//
// Checks run in order: presence (ErrAPIKeyMissing), the development bypass,
// store lookup by digest (ErrAPIKeyInvalid), Active (ErrAPIKeyInactive),
// expiry (ErrAPIKeyExpired), then permissions
// (*InsufficientPermissionsError). With APIKey.DevFallbackOnStoreError set,
// development keys are consulted only when the store lookup fails with an
// outage. Accepted keys have their usage recorded asynchronously.
// Development keys skip the permission check and are never recorded.
func (e *Engine) AuthenticateAPIKey(ctx context.Context, key string, meta APIKeyRequestMeta, required ...string) (*APIKeyPrincipal, error) {
	if e == nil || e.registry == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.authenticateAPIKey(ctx, strings.TrimSpace(key), required)
	if err != nil {
		e.metricInc(MetricAPIKeyRejected)
		e.emitAudit(ctx, auditEventAPIKeyRejected, auditSubject{apiKeyID: keyIDOf(principal)}, err, func() map[string]string {
			return map[string]string{"endpoint": meta.Endpoint, "method": meta.Method}
		})
		return nil, err
	}

	if principal.Development {
		e.metricInc(MetricAPIKeyDevBypass)
		e.emitAudit(ctx, auditEventAPIKeyDevBypass, auditSubject{apiKeyID: principal.KeyID}, nil, nil)
		return principal, nil
	}

	e.metricInc(MetricAPIKeyAccepted)
	e.emitAudit(ctx, auditEventAPIKeyAccepted, auditSubject{apiKeyID: principal.KeyID}, nil, func() map[string]string {
		return map[string]string{"endpoint": meta.Endpoint, "method": meta.Method}
	})
	e.usage.record(APIKeyUsage{
		KeyID:     principal.KeyID,
		ClientIP:  firstNonEmpty(meta.ClientIP, clientIPFromContext(ctx)),
		UserAgent: firstNonEmpty(meta.UserAgent, userAgentFromContext(ctx)),
		Endpoint:  meta.Endpoint,
		Method:    meta.Method,
		At:        e.now().UTC(),
	})
	return principal, nil
}

func (e *Engine) authenticateAPIKey(ctx context.Context, key string, required []string) (*APIKeyPrincipal, error) {
	if key == "" {
		return nil, ErrAPIKeyMissing
	}
	fallback := e.config.APIKey.DevFallbackOnStoreError
	if !fallback && e.devKeyMatches(key) {
		return devPrincipal(key), nil
	}
	if e.apiKeys == nil {
		return nil, ErrAPIKeyInvalid
	}

	digest := store.HashSecret(key)
	record, err := e.apiKeys.FindAPIKeyByHash(ctx, digest)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrAPIKeyInvalid
	case err != nil:
		failure := e.storeFail("api key lookup", err)
		if fallback && errors.Is(failure, ErrStoreUnavailable) && e.devKeyMatches(key) {
			return devPrincipal(key), nil
		}
		return nil, failure
	}

	// The stored digest must match exactly; adapters that match loosely
	// must not widen acceptance.
	if !internal.EqualSecret(record.KeyHash, digest) {
		return nil, ErrAPIKeyInvalid
	}

	principal := &APIKeyPrincipal{
		KeyID:        record.ID,
		OwnerID:      record.OwnerID,
		Permissions:  append([]string(nil), record.Permissions...),
		RequestLimit: record.RequestLimit,
	}
	if !record.Active {
		return principal, ErrAPIKeyInactive
	}
	if !record.ExpiresAt.IsZero() && !e.now().Before(record.ExpiresAt) {
		return principal, ErrAPIKeyExpired
	}
	if missing := e.missingPermissions(record.Permissions, required); len(missing) > 0 {
		return principal, &InsufficientPermissionsError{Missing: missing}
	}
	return principal, nil
}

// devKeyMatches reports whether key is a configured development key. It is
// always false outside the development environment.
func (e *Engine) devKeyMatches(key string) bool {
	if !e.config.IsDevelopment() {
		return false
	}
	matched := false
	for _, dev := range e.config.APIKey.DevKeys {
		if internal.EqualSecret(dev, key) {
			matched = true
		}
	}
	return matched
}

// missingPermissions lists required names missing from the granted set have.
// Unregistered required names are always missing, even for wildcard keys.
func (e *Engine) missingPermissions(have, required []string) []string {
	if len(required) == 0 {
		return nil
	}
	haveMask, _ := e.registry.Mask(have)
	requiredMask, unknown := e.registry.Mask(required)
	missing := e.registry.Missing(haveMask, requiredMask)
	return append(missing, unknown...)
}

func devPrincipal(key string) *APIKeyPrincipal {
	return &APIKeyPrincipal{
		KeyID:       "dev-" + store.HashSecret(key)[:8],
		Permissions: []string{permission.Wildcard},
		Development: true,
	}
}

func keyIDOf(p *APIKeyPrincipal) string {
	if p == nil {
		return ""
	}
	return p.KeyID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
