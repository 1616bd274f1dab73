package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/kennelguard"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kennelguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := loadSettings("", map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.HTTP.Addr != ":8080" || s.RateLimit.Backend != "redis" || s.Notify.Backend != "log" {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if s.Token.AccessTTL != 8*time.Hour || s.RateLimit.Limit != 100 {
		t.Fatalf("engine defaults not carried: %+v", s.Token)
	}
}

func TestLoadSettingsLayering(t *testing.T) {
	path := writeConfig(t, `
environment: development
http:
  addr: ":9000"
rate_limit:
  backend: memory
  window: 2m
api_key:
  permissions: [dogs:read, adoptions:write]
seed:
  identities:
    - id: 1
      email: admin@kennel.test
      role: admin
      password: correct horse battery
  api_keys:
    - id: key-partner
      key: kg_live_partner
      permissions: [dogs:read]
`)
	s, err := loadSettings(path, map[string]string{
		"KENNELGUARD_HTTP_ADDR":            ":9100",
		"KENNELGUARD_REDIS_ADDR":           "redis:6379",
		"KENNELGUARD_POSTGRES_DSN":         "postgres://kg@db/kg",
		"KENNELGUARD_API_KEY_DEV_KEYS":     "dev-one,dev-two",
		"KENNELGUARD_RATE_LIMIT_LIMIT":     "50",
		"KENNELGUARD_RESET_SWEEP_INTERVAL": "30s",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		name string
		ok   bool
	}{
		{"env beats file", s.HTTP.Addr == ":9100"},
		{"file beats default", s.RateLimit.Backend == "memory" && s.RateLimit.Window == 2*time.Minute},
		{"default survives", s.RateLimit.LoginLimit == 5},
		{"env only", s.Redis.Addr == "redis:6379" && s.Postgres.DSN == "postgres://kg@db/kg"},
		{"env slice", len(s.APIKey.DevKeys) == 2 && s.APIKey.DevKeys[1] == "dev-two"},
		{"env int", s.RateLimit.Limit == 50},
		{"env duration", s.Reset.SweepInterval == 30*time.Second},
		{"file slice", len(s.APIKey.Permissions) == 2},
		{"seed", len(s.seed.Identities) == 1 && s.seed.APIKeys[0].Key == "kg_live_partner"},
	}
	for _, tt := range tests {
		if !tt.ok {
			t.Errorf("%s: unexpected settings %+v", tt.name, s)
		}
	}
}

func TestLoadSettingsRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		environ map[string]string
		want    string
	}{
		{"unknown limiter backend", "", map[string]string{"KENNELGUARD_RATE_LIMIT_BACKEND": "etcd"}, "rate_limit.backend"},
		{"unknown notifier", "", map[string]string{"KENNELGUARD_NOTIFY_BACKEND": "smtp"}, "notify.backend"},
		{"bad duration", "", map[string]string{"KENNELGUARD_TOKEN_ACCESS_TTL": "soon"}, "parse env"},
		{"bad yaml", "http: [", map[string]string{}, "decode config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}
			_, err := loadSettings(path, tt.environ)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := loadSettings(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestEngineConfigKeys(t *testing.T) {
	s := defaultSettings()
	if _, err := engineConfig(s, zap.NewNop()); err == nil {
		t.Fatal("production config without keys must fail")
	}

	s.Environment = kennelguard.EnvDevelopment
	cfg, err := engineConfig(s, zap.NewNop())
	if err != nil {
		t.Fatalf("development config: %v", err)
	}
	if len(cfg.Token.AccessKey) != 32 || len(cfg.Token.RefreshKey) != 32 {
		t.Fatalf("expected ephemeral keys, got %d/%d bytes", len(cfg.Token.AccessKey), len(cfg.Token.RefreshKey))
	}
	if string(cfg.Token.AccessKey) == string(cfg.Token.RefreshKey) {
		t.Fatal("access and refresh keys must differ")
	}

	s = defaultSettings()
	s.Token.AccessKey = strings.Repeat("a", 32)
	s.Token.RefreshKey = strings.Repeat("r", 32)
	s.APIKey.DevKeys = []string{"dev"}
	if _, err := engineConfig(s, zap.NewNop()); err == nil {
		t.Fatal("dev keys outside development must fail")
	}
}
