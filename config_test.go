package kennelguard

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test defaults valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "short hs256 key invalid",
			mutate: func(c *Config) {
				c.Token.AccessKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "shared access and refresh key invalid",
			mutate: func(c *Config) {
				c.Token.RefreshKey = c.Token.AccessKey
			},
			wantValid: false,
		},
		{
			name: "shared audiences invalid",
			mutate: func(c *Config) {
				c.Token.RefreshAudience = c.Token.Audience
			},
			wantValid: false,
		},
		{
			name: "refresh shorter than access invalid",
			mutate: func(c *Config) {
				c.Token.RefreshTTL = time.Minute
			},
			wantValid: false,
		},
		{
			name: "leeway too large invalid",
			mutate: func(c *Config) {
				c.Token.Leeway = 3 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "unknown signing method invalid",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "ed25519 without public keys invalid",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "ed25519"
			},
			wantValid: false,
		},
		{
			name: "min length below eight invalid",
			mutate: func(c *Config) {
				c.Password.MinLength = 6
			},
			wantValid: false,
		},
		{
			name: "dev keys outside development invalid",
			mutate: func(c *Config) {
				c.APIKey.DevKeys = []string{strings.Repeat("d", 24)}
			},
			wantValid: false,
		},
		{
			name: "dev keys in development valid",
			mutate: func(c *Config) {
				c.Environment = EnvDevelopment
				c.APIKey.DevKeys = []string{strings.Repeat("d", 24)}
			},
			wantValid: true,
		},
		{
			name: "dev fallback outside development invalid",
			mutate: func(c *Config) {
				c.APIKey.DevFallbackOnStoreError = true
			},
			wantValid: false,
		},
		{
			name: "dev fallback without keys invalid",
			mutate: func(c *Config) {
				c.Environment = EnvDevelopment
				c.APIKey.DevFallbackOnStoreError = true
			},
			wantValid: false,
		},
		{
			name: "short dev key invalid",
			mutate: func(c *Config) {
				c.Environment = EnvDevelopment
				c.APIKey.DevKeys = []string{"abc"}
			},
			wantValid: false,
		},
		{
			name: "rate limit enabled without window invalid",
			mutate: func(c *Config) {
				c.RateLimit.Window = 0
			},
			wantValid: false,
		},
		{
			name: "rate limit disabled ignores window",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.Window = 0
			},
			wantValid: true,
		},
		{
			name: "audit enabled without buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "reset request limit zero invalid",
			mutate: func(c *Config) {
				c.Reset.RequestLimit = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestDefaultConfigRequiresKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected defaults without signing keys to be rejected")
	}
}

func TestWithConfigCopiesSlices(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)
	cfg.Token.AccessKey[0] = 'x'
	cfg.APIKey.Permissions[0] = "tampered"

	if b.config.Token.AccessKey[0] != 'a' {
		t.Fatal("builder config shares AccessKey with caller")
	}
	if b.config.APIKey.Permissions[0] != "dogs:read" {
		t.Fatal("builder config shares Permissions with caller")
	}
}

func TestBuildRequiresStores(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected build without stores to fail")
	}
}

func TestBuildOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	b := New().WithConfig(testConfig()).WithCredentialStore(env.store)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second build to fail")
	}
}
