package kennelguard

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
)

// Guard is one access rule evaluated against verified claims.
//
// Cost orders guards inside Authorize: cheap, pure checks run before checks
// that reach a store.
type Guard interface {
	Name() string
	Cost() int
	Check(ctx context.Context, claims *SessionClaims, req RequestAttributes) error
}

const (
	costPure  = 0
	costParse = 1
	costStore = 10
)

/*
====================================
ROLE GUARD
====================================
*/

type roleGuard struct {
	allowed []Role
}

// RequireRole passes when the caller's role is one of roles. Any other role,
// including an unknown one, is ErrAccessDenied.
func RequireRole(roles ...Role) Guard {
	return roleGuard{allowed: slices.Clone(roles)}
}

func (g roleGuard) Name() string { return "role" }

func (g roleGuard) Cost() int { return costPure }

func (g roleGuard) Check(_ context.Context, claims *SessionClaims, _ RequestAttributes) error {
	if claims == nil {
		return ErrTokenMissing
	}
	if claims.Role.Valid() && slices.Contains(g.allowed, claims.Role) {
		return nil
	}
	return ErrAccessDenied
}

/*
====================================
OWNER OR ADMIN GUARD
====================================
*/

type idSourceKind uint8

const (
	sourceRoute idSourceKind = iota
	sourceBody
	sourceQuery
)

// IDSource names one place a resource id may be read from.
type IDSource struct {
	kind idSourceKind
	name string
}

// RouteParam reads the id from a path parameter.
func RouteParam(name string) IDSource { return IDSource{kind: sourceRoute, name: name} }

// BodyField reads the id from a top-level body field.
func BodyField(name string) IDSource { return IDSource{kind: sourceBody, name: name} }

// QueryParam reads the id from a query parameter.
func QueryParam(name string) IDSource { return IDSource{kind: sourceQuery, name: name} }

func (s IDSource) String() string {
	switch s.kind {
	case sourceRoute:
		return "route:" + s.name
	case sourceBody:
		return "body:" + s.name
	default:
		return "query:" + s.name
	}
}

func (s IDSource) lookup(req RequestAttributes) string {
	switch s.kind {
	case sourceRoute:
		return strings.TrimSpace(req.RouteParam(s.name))
	case sourceBody:
		return strings.TrimSpace(req.BodyField(s.name))
	default:
		return strings.TrimSpace(req.QueryParam(s.name))
	}
}

// DefaultIDSources is the lookup order used when RequireOwnerOrAdmin gets no
// sources.
func DefaultIDSources() []IDSource {
	return []IDSource{RouteParam("id"), BodyField("userId"), QueryParam("userId")}
}

type ownerGuard struct {
	sources []IDSource
}

// RequireOwnerOrAdmin passes for admins. For everyone else the first
// non-empty id among sources must equal the caller's id. No id is
// ErrResourceIDMissing; a different or non-numeric id is
// ErrAccessDeniedOwnerOnly.
func RequireOwnerOrAdmin(sources ...IDSource) Guard {
	if len(sources) == 0 {
		sources = DefaultIDSources()
	}
	return ownerGuard{sources: slices.Clone(sources)}
}

func (g ownerGuard) Name() string { return "owner_or_admin" }

func (g ownerGuard) Cost() int { return costParse }

func (g ownerGuard) Check(_ context.Context, claims *SessionClaims, req RequestAttributes) error {
	if claims == nil {
		return ErrTokenMissing
	}
	if claims.Role == RoleAdmin {
		return nil
	}

	raw := ""
	if req != nil {
		for _, src := range g.sources {
			if raw = src.lookup(req); raw != "" {
				break
			}
		}
	}
	if raw == "" {
		return ErrResourceIDMissing
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id != claims.IdentityID {
		return ErrAccessDeniedOwnerOnly
	}
	return nil
}

/*
====================================
ACTIVE USER GUARD
====================================
*/

type activeGuard struct {
	engine *Engine
}

// RequireActive re-reads the caller from the identity store. A missing or
// inactive identity is ErrUserInactive.
func (e *Engine) RequireActive() Guard {
	return activeGuard{engine: e}
}

func (g activeGuard) Name() string { return "active_user" }

func (g activeGuard) Cost() int { return costStore }

func (g activeGuard) Check(ctx context.Context, claims *SessionClaims, _ RequestAttributes) error {
	if claims == nil {
		return ErrTokenMissing
	}
	if !g.engine.ready() {
		return ErrEngineNotReady
	}
	_, err := g.engine.lookupActive(ctx, claims.IdentityID, ErrUserInactive, ErrUserInactive)
	return err
}

/*
====================================
AUTHORIZE
====================================
*/

// Authorize passes only when every guard passes. Guards run in ascending
// Cost order, stable for equal costs, and evaluation stops at the first
// failure.
func (e *Engine) Authorize(ctx context.Context, claims *SessionClaims, req RequestAttributes, guards ...Guard) error {
	if claims == nil {
		return ErrTokenMissing
	}

	ordered := make([]Guard, 0, len(guards))
	for _, g := range guards {
		if g != nil {
			ordered = append(ordered, g)
		}
	}
	slices.SortStableFunc(ordered, func(a, b Guard) int {
		return cmp.Compare(a.Cost(), b.Cost())
	})

	for _, g := range ordered {
		if err := g.Check(ctx, claims, req); err != nil {
			e.metricInc(MetricGuardDenied)
			e.emitAudit(ctx, auditEventAccessDenied, auditSubject{identityID: claims.IdentityID}, err, func() map[string]string {
				return map[string]string{"guard": g.Name()}
			})
			return err
		}
	}
	return nil
}
