package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/kennelguard"
	"github.com/MrEthical07/kennelguard/metrics/export/prometheus"
	"github.com/MrEthical07/kennelguard/middleware"
	"github.com/MrEthical07/kennelguard/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type api struct {
	engine     *kennelguard.Engine
	identities kennelguard.IdentityStore
	log        *zap.Logger
}

func newRouter(engine *kennelguard.Engine, identities kennelguard.IdentityStore, log *zap.Logger) http.Handler {
	a := &api{engine: engine, identities: identities, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientInfo)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", a.login)
		r.Post("/refresh", a.refresh)
		r.Post("/password/reset/request", a.requestReset)
		r.Post("/password/reset/confirm", a.confirmReset)
		r.With(middleware.Authenticate(engine)).Post("/password/change", a.changePassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(engine))
		r.With(
			middleware.RateLimit(engine),
			middleware.Authorize(engine, kennelguard.RequireOwnerOrAdmin(), engine.RequireActive()),
		).Get("/users/{id}", a.getUser)
		r.With(middleware.Authorize(engine, kennelguard.RequireRole(kennelguard.RoleAdmin))).
			Get("/admin/health", a.health)
	})

	r.With(middleware.APIKey(engine, "dogs:read")).Get("/partner/dogs", a.partnerDogs)
	r.Method(http.MethodGet, "/metrics", prometheus.New(engine).Handler())
	return r
}

/*
====================================
AUTH
====================================
*/

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresAt  string `json:"accessExpiresAt"`
	RefreshExpiresAt string `json:"refreshExpiresAt"`
}

func toTokenResponse(p kennelguard.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt.UTC().Format(time.RFC3339),
		RefreshExpiresAt: p.RefreshExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := a.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteDenial(w, err, a.engine.Now())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toTokenResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := a.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		middleware.WriteDenial(w, err, a.engine.Now())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toTokenResponse(pair))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *api) changePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := kennelguard.SessionClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteDenial(w, kennelguard.ErrTokenMissing, a.engine.Now())
		return
	}
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.ChangePassword(r.Context(), claims.IdentityID, req.CurrentPassword, req.NewPassword); err != nil {
		middleware.WriteDenial(w, err, a.engine.Now())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Email string `json:"email"`
}

// requestReset answers 202 whether or not the address is known.
func (a *api) requestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		middleware.WriteDenial(w, err, a.engine.Now())
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the account exists, a reset link has been sent.",
	})
}

type confirmResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (a *api) confirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		middleware.WriteDenial(w, err, a.engine.Now())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
PROTECTED
====================================
*/

type userResponse struct {
	ID     int64  `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

func (a *api) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.WriteDenial(w, kennelguard.ErrResourceIDMissing, a.engine.Now())
		return
	}
	identity, err := a.identities.FindByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteDenial(w, kennelguard.ErrUserNotFound, a.engine.Now())
		return
	}
	if err != nil {
		a.log.Warn("user lookup failed", zap.Int64("identity_id", id), zap.Error(err))
		middleware.WriteDenial(w, kennelguard.ErrStoreUnavailable, a.engine.Now())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponse{
		ID:     identity.ID,
		Email:  identity.CredentialID,
		Role:   identity.Role.String(),
		Active: identity.Active,
	})
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	snap := a.engine.MetricsSnapshot()
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"audit_dropped": a.engine.AuditDropped(),
		"store_failure": snap.Counters[kennelguard.MetricStoreFailure],
	})
}

type dog struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Breed string `json:"breed"`
}

// partnerDogs stands in for the catalogue service; it shows the principal
// the gate admitted.
func (a *api) partnerDogs(w http.ResponseWriter, r *http.Request) {
	p, _ := kennelguard.APIKeyPrincipalFromContext(r.Context())
	keyID := ""
	if p != nil {
		keyID = p.KeyID
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"key": keyID,
		"dogs": []dog{
			{ID: "d-101", Name: "Biscuit", Breed: "beagle"},
			{ID: "d-102", Name: "Juniper", Breed: "greyhound"},
		},
	})
}

/*
====================================
HELPERS
====================================
*/

// decode reads a JSON body into dst. It writes a 400 and returns false on
// failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "Request body must be a JSON object."
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "Request body is too large."
		}
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"code":    "BAD_REQUEST",
			"message": msg,
		})
		return false
	}
	return true
}
