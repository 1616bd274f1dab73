package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/kennelguard"
	"github.com/MrEthical07/kennelguard/store"
	"github.com/MrEthical07/kennelguard/store/memory"
	"go.uber.org/zap"
)

type capturedLinks struct {
	mu     sync.Mutex
	tokens []string
}

func (c *capturedLinks) SendResetLink(_ context.Context, _ store.Identity, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, raw)
	return nil
}

func (c *capturedLinks) SendPasswordChangedNotice(context.Context, store.Identity) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *capturedLinks) {
	t.Helper()

	s := defaultSettings()
	s.Environment = kennelguard.EnvDevelopment
	s.Password = passwordSettings{MemoryKiB: 8 * 1024, Time: 1, Parallelism: 1}
	cfg, err := engineConfig(s, zap.NewNop())
	if err != nil {
		t.Fatalf("engine config: %v", err)
	}

	backend := memory.New()
	mem := &memoryBackend{Store: backend}
	if err := seed(context.Background(), mem, cfg.Password, seedSettings{
		Identities: []seedIdentity{
			{ID: 1, Email: "admin@kennel.test", Role: "admin", Password: "correct horse battery"},
			{ID: 7, Email: "ada@kennel.test", Role: "adopter", Password: "correct horse battery"},
		},
		APIKeys: []seedAPIKey{{ID: "key-partner", Key: "kg_live_partner", Permissions: []string{"dogs:read"}}},
	}, zap.NewNop()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	links := &capturedLinks{}
	engine, err := kennelguard.New().
		WithConfig(cfg).
		WithCredentialStore(backend).
		WithNotifier(links).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(newRouter(engine, backend, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, links
}

// memoryBackend adapts the in-memory store's setters to credentialBackend.
type memoryBackend struct {
	*memory.Store
}

func (m *memoryBackend) PutIdentity(_ context.Context, identity store.Identity) error {
	m.Store.PutIdentity(identity)
	return nil
}

func (m *memoryBackend) PutAPIKey(_ context.Context, record store.APIKeyRecord) error {
	m.Store.PutAPIKey(record)
	return nil
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func login(t *testing.T, srv *httptest.Server, email, password string) map[string]any {
	t.Helper()
	resp, body := do(t, srv, http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+password+`"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %v", email, resp.StatusCode, body)
	}
	return body
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	tokens := login(t, srv, "ada@kennel.test", "correct horse battery")
	bearer := map[string]string{"Authorization": "Bearer " + tokens["accessToken"].(string)}

	resp, body := do(t, srv, http.MethodGet, "/users/7", "", bearer)
	if resp.StatusCode != http.StatusOK || body["email"] != "ada@kennel.test" {
		t.Fatalf("own profile: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-RateLimit-Limit") != "100" {
		t.Fatalf("missing rate limit headers: %v", resp.Header)
	}

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/users/1", http.StatusForbidden, "ACCESS_DENIED_OWNER_ONLY"},
		{"/admin/health", http.StatusForbidden, "ACCESS_DENIED"},
	}
	for _, tt := range tests {
		resp, body := do(t, srv, http.MethodGet, tt.path, "", bearer)
		if resp.StatusCode != tt.status || body["code"] != tt.code {
			t.Fatalf("%s: expected %d %s, got %d %v", tt.path, tt.status, tt.code, resp.StatusCode, body)
		}
	}

	admin := login(t, srv, "admin@kennel.test", "correct horse battery")
	resp, body = do(t, srv, http.MethodGet, "/users/7", "", map[string]string{"Authorization": "Bearer " + admin["accessToken"].(string)})
	if resp.StatusCode != http.StatusOK || body["role"] != "adopter" {
		t.Fatalf("admin read: %d %v", resp.StatusCode, body)
	}
}

func TestLoginFailuresAndBadBodies(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, srv, http.MethodPost, "/auth/login", `{"email":"ada@kennel.test","password":"nope"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("wrong password: %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodPost, "/auth/login", `{"email":`, nil)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "BAD_REQUEST" {
		t.Fatalf("bad body: %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodPost, "/auth/login", `{"email":"a","password":"b","admin":true}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: %d %v", resp.StatusCode, body)
	}
}

func TestRefreshRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	tokens := login(t, srv, "ada@kennel.test", "correct horse battery")

	resp, body := do(t, srv, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+tokens["refreshToken"].(string)+`"}`, nil)
	if resp.StatusCode != http.StatusOK || body["accessToken"] == "" {
		t.Fatalf("refresh: %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+tokens["accessToken"].(string)+`"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("access token as refresh: %d %v", resp.StatusCode, body)
	}
}

func TestPasswordResetRoutes(t *testing.T) {
	srv, links := newTestServer(t)

	for _, email := range []string{"ada@kennel.test", "nobody@kennel.test"} {
		resp, body := do(t, srv, http.MethodPost, "/auth/password/reset/request", `{"email":"`+email+`"}`, nil)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("reset request %s: %d %v", email, resp.StatusCode, body)
		}
	}
	links.mu.Lock()
	if len(links.tokens) != 1 {
		links.mu.Unlock()
		t.Fatalf("expected one link, got %d", len(links.tokens))
	}
	raw := links.tokens[0]
	links.mu.Unlock()

	confirm := `{"token":"` + raw + `","newPassword":"a much longer secret"}`
	resp, body := do(t, srv, http.MethodPost, "/auth/password/reset/confirm", confirm, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("confirm: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, srv, http.MethodPost, "/auth/password/reset/confirm", confirm, nil)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "TOKEN_INVALID_OR_EXPIRED" {
		t.Fatalf("second confirm: %d %v", resp.StatusCode, body)
	}

	login(t, srv, "ada@kennel.test", "a much longer secret")
}

func TestChangePasswordRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	tokens := login(t, srv, "ada@kennel.test", "correct horse battery")
	bearer := map[string]string{"Authorization": "Bearer " + tokens["accessToken"].(string)}

	resp, body := do(t, srv, http.MethodPost, "/auth/password/change", `{"currentPassword":"correct horse battery","newPassword":"short"}`, bearer)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "WEAK_PASSWORD" {
		t.Fatalf("weak: %d %v", resp.StatusCode, body)
	}

	resp, _ = do(t, srv, http.MethodPost, "/auth/password/change", `{"currentPassword":"correct horse battery","newPassword":"tennis ball forever"}`, bearer)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("change: %d", resp.StatusCode)
	}

	resp, _ = do(t, srv, http.MethodPost, "/auth/password/change", `{}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous change: %d", resp.StatusCode)
	}
}

func TestPartnerAndMetricsRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, srv, http.MethodGet, "/partner/dogs", "", map[string]string{"X-API-Key": "kg_live_partner"})
	if resp.StatusCode != http.StatusOK || body["key"] != "key-partner" {
		t.Fatalf("partner: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, srv, http.MethodGet, "/partner/dogs", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "API_KEY_MISSING" {
		t.Fatalf("partner without key: %d %v", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	mresp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer mresp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, mresp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), "kennelguard_api_key_accepted_total 1") {
		t.Fatalf("expected accepted counter in:\n%s", buf.String())
	}
}
