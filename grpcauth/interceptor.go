package grpcauth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/kennelguard"
	"github.com/MrEthical07/kennelguard/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Metadata keys read and written by the interceptors.
const (
	AuthorizationKey      = "authorization"
	APIKeyKey             = "x-api-key"
	DenialCodeKey         = "x-denial-code"
	RateLimitLimitKey     = "x-ratelimit-limit"
	RateLimitRemainingKey = "x-ratelimit-remaining"
	RateLimitResetKey     = "x-ratelimit-reset"
)

// Rule describes what a method requires.
type Rule struct {
	// Public methods skip every check.
	Public bool

	// APIKey selects the API key gate instead of bearer tokens. Permissions
	// are the names the key must grant.
	APIKey      bool
	Permissions []string

	// RateLimit applies the per-identity budget to bearer callers.
	RateLimit bool

	// Guards run after token verification.
	Guards []kennelguard.Guard
}

// Policy maps full method names, such as "/kennel.v1.AdopterService/GetAdopter",
// to rules. Methods without an entry use Default.
type Policy struct {
	Rules   map[string]Rule
	Default Rule
}

func (p Policy) rule(fullMethod string) Rule {
	if r, ok := p.Rules[fullMethod]; ok {
		return r
	}
	return p.Default
}

// UnaryServerInterceptor enforces policy on unary calls. Claims or the API
// key principal are stored in the handler context.
func UnaryServerInterceptor(engine *kennelguard.Engine, policy Policy) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rule := policy.rule(info.FullMethod)
		if rule.Public {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		authCtx, header, err := authenticate(ctx, engine, rule, info.FullMethod, md, NewMessageAttributes(md, req))
		if len(header) > 0 {
			_ = grpc.SetHeader(ctx, header)
		}
		if err != nil {
			return nil, err
		}
		return handler(authCtx, req)
	}
}

// StreamServerInterceptor enforces policy on streaming calls. Guards see
// metadata only, since no message has been received yet.
func StreamServerInterceptor(engine *kennelguard.Engine, policy Policy) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		rule := policy.rule(info.FullMethod)
		if rule.Public {
			return handler(srv, stream)
		}

		ctx := stream.Context()
		md, _ := metadata.FromIncomingContext(ctx)
		authCtx, header, err := authenticate(ctx, engine, rule, info.FullMethod, md, NewMessageAttributes(md, nil))
		if len(header) > 0 {
			_ = stream.SetHeader(header)
		}
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: stream, ctx: authCtx})
	}
}

// wrappedServerStream overrides the context for a gRPC stream.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

func authenticate(ctx context.Context, engine *kennelguard.Engine, rule Rule, method string, md metadata.MD, attrs kennelguard.RequestAttributes) (context.Context, metadata.MD, error) {
	if engine == nil {
		return nil, nil, denial(kennelguard.ErrEngineNotReady, time.Now())
	}
	ctx = withClient(ctx, md)

	if rule.APIKey {
		meta := kennelguard.APIKeyRequestMeta{
			ClientIP:  peerIP(ctx),
			UserAgent: firstValue(md, "user-agent"),
			Endpoint:  method,
			Method:    "RPC",
		}
		principal, err := engine.AuthenticateAPIKey(ctx, firstValue(md, APIKeyKey), meta, rule.Permissions...)
		if err != nil {
			return nil, denialMetadata(err), denial(err, engine.Now())
		}
		d, err := engine.AllowAPIKey(ctx, principal)
		if err != nil {
			return nil, denialMetadata(err), denial(err, engine.Now())
		}
		return kennelguard.WithAPIKeyPrincipal(ctx, principal), decisionMetadata(d), nil
	}

	token, ok := bearerToken(firstValue(md, AuthorizationKey))
	if !ok {
		err := kennelguard.ErrTokenMissing
		return nil, denialMetadata(err), denial(err, engine.Now())
	}
	claims, err := engine.Verify(ctx, token)
	if err != nil {
		return nil, denialMetadata(err), denial(err, engine.Now())
	}
	ctx = kennelguard.WithSessionClaims(ctx, claims)

	var header metadata.MD
	if rule.RateLimit {
		d, err := engine.AllowIdentity(ctx, claims.IdentityID)
		if err != nil {
			return nil, denialMetadata(err), denial(err, engine.Now())
		}
		header = decisionMetadata(d)
	}

	if err := engine.Authorize(ctx, claims, attrs, rule.Guards...); err != nil {
		return nil, denialMetadata(err), denial(err, engine.Now())
	}
	return ctx, header, nil
}

// CodeFor maps a denial to a gRPC code through its HTTP status.
func CodeFor(err error) codes.Code {
	switch kennelguard.Describe(err).Status {
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

func denial(err error, now time.Time) error {
	d := kennelguard.Describe(err)
	msg := d.Message
	var rl *kennelguard.RateLimitError
	if errors.As(err, &rl) {
		msg += " Retry after " + strconv.Itoa(int(rl.RetryAfter(now)/time.Second)) + "s."
	}
	return status.Error(CodeFor(err), msg)
}

func denialMetadata(err error) metadata.MD {
	md := metadata.Pairs(DenialCodeKey, string(kennelguard.CodeOf(err)))
	var rl *kennelguard.RateLimitError
	if errors.As(err, &rl) {
		md = metadata.Join(md, rateLimitMetadata(rl.Limit, rl.Remaining, rl.ResetAt))
	}
	return md
}

func decisionMetadata(d ratelimit.Decision) metadata.MD {
	if d.Limit <= 0 {
		return nil
	}
	return rateLimitMetadata(d.Limit, d.Remaining, d.ResetAt)
}

// The reset value is RFC 3339, matching the HTTP denial body.
func rateLimitMetadata(limit, remaining int, resetAt time.Time) metadata.MD {
	return metadata.Pairs(
		RateLimitLimitKey, strconv.Itoa(limit),
		RateLimitRemainingKey, strconv.Itoa(remaining),
		RateLimitResetKey, resetAt.UTC().Format(time.RFC3339),
	)
}

func withClient(ctx context.Context, md metadata.MD) context.Context {
	ctx = kennelguard.WithClientIP(ctx, peerIP(ctx))
	return kennelguard.WithUserAgent(ctx, firstValue(md, "user-agent"))
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}
