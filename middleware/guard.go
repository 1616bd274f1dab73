package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/kennelguard"
)

// APIKeyHeader carries machine-to-machine keys. The api_key query parameter
// is accepted as a fallback.
const APIKeyHeader = "X-API-Key"

// Authenticate verifies the bearer token and stores the resulting
// SessionClaims in the request context. Client IP and user agent are stored
// as well, for audit.
func Authenticate(engine *kennelguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteDenial(w, kennelguard.ErrEngineNotReady, engine.Now())
				return
			}
			ctx := withClient(r)

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteDenial(w, kennelguard.ErrTokenMissing, engine.Now())
				return
			}

			claims, err := engine.Verify(ctx, token)
			if err != nil {
				WriteDenial(w, err, engine.Now())
				return
			}

			ctx = kennelguard.WithSessionClaims(ctx, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit applies the per-identity budget to authenticated requests and
// sets the X-RateLimit-* headers. It must run after Authenticate.
func RateLimit(engine *kennelguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := kennelguard.SessionClaimsFromContext(r.Context())
			if !ok {
				WriteDenial(w, kennelguard.ErrTokenMissing, engine.Now())
				return
			}

			d, err := engine.AllowIdentity(r.Context(), claims.IdentityID)
			if err != nil {
				WriteDenial(w, err, engine.Now())
				return
			}
			SetRateLimitHeaders(w, d)
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize runs guards against the claims stored by Authenticate. The
// request is exposed to guards through HTTPRequest.
func Authorize(engine *kennelguard.Engine, guards ...kennelguard.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := kennelguard.SessionClaimsFromContext(r.Context())
			if !ok {
				WriteDenial(w, kennelguard.ErrTokenMissing, engine.Now())
				return
			}

			if err := engine.Authorize(r.Context(), claims, NewHTTPRequest(r), guards...); err != nil {
				WriteDenial(w, err, engine.Now())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKey authenticates the request's API key against required permissions,
// applies the per-key budget and stores the APIKeyPrincipal in the request
// context.
func APIKey(engine *kennelguard.Engine, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteDenial(w, kennelguard.ErrEngineNotReady, engine.Now())
				return
			}
			ctx := withClient(r)

			key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if key == "" {
				key = strings.TrimSpace(r.URL.Query().Get("api_key"))
			}

			meta := kennelguard.APIKeyRequestMeta{
				ClientIP:  clientIP(r),
				UserAgent: r.UserAgent(),
				Endpoint:  r.URL.Path,
				Method:    r.Method,
			}
			principal, err := engine.AuthenticateAPIKey(ctx, key, meta, required...)
			if err != nil {
				WriteDenial(w, err, engine.Now())
				return
			}

			d, err := engine.AllowAPIKey(ctx, principal)
			if err != nil {
				WriteDenial(w, err, engine.Now())
				return
			}
			SetRateLimitHeaders(w, d)

			ctx = kennelguard.WithAPIKeyPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientInfo stores the client IP and user agent in the request context.
// Public routes that call the engine directly, such as login, use it so
// audit events carry both.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withClient(r)))
	})
}

func withClient(r *http.Request) context.Context {
	ctx := kennelguard.WithClientIP(r.Context(), clientIP(r))
	return kennelguard.WithUserAgent(ctx, r.UserAgent())
}

// clientIP is the host part of RemoteAddr. Run chi's RealIP first when
// behind a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
