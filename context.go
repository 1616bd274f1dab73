package kennelguard

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type claimsContextKey struct{}
type principalContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine records it
// in audit events and API key usage.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the caller's User-Agent to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithSessionClaims attaches verified claims to ctx. Transports call it after
// Verify so handlers and guards can read the caller.
func WithSessionClaims(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// SessionClaimsFromContext returns the claims attached by WithSessionClaims.
func SessionClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsContextKey{}).(*SessionClaims)
	return claims, ok && claims != nil
}

// WithAPIKeyPrincipal attaches an authenticated API key principal to ctx.
func WithAPIKeyPrincipal(ctx context.Context, principal *APIKeyPrincipal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// APIKeyPrincipalFromContext returns the principal attached by
// WithAPIKeyPrincipal.
func APIKeyPrincipalFromContext(ctx context.Context) (*APIKeyPrincipal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalContextKey{}).(*APIKeyPrincipal)
	return p, ok && p != nil
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}
