package kennelguard

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/kennelguard/jwt"
)

// EnvDevelopment is the only environment in which development API keys are
// honoured.
const EnvDevelopment = "development"

// Config is the full engine configuration.
//
// Config is cloned by Builder.Build and must not be changed afterwards.
type Config struct {
	Environment string
	Token       TokenConfig
	Password    PasswordConfig
	Reset       ResetConfig
	RateLimit   RateLimitConfig
	APIKey      APIKeyConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls access and refresh token signing. Access and refresh
// tokens must use different keys.
type TokenConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	SigningMethod    string // "hs256" (default) or "ed25519"
	AccessKey        []byte
	AccessPublicKey  []byte
	RefreshKey       []byte
	RefreshPublicKey []byte
	Issuer           string
	Audience         string
	RefreshAudience  string
	Leeway           time.Duration
	KeyID            string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters and the length policy.
type PasswordConfig struct {
	Memory         uint32 // in KiB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int // in runes
	UpgradeOnLogin bool
}

/*
====================================
RESET CONFIG
====================================
*/

// ResetConfig controls password reset tokens.
type ResetConfig struct {
	TokenTTL      time.Duration
	RequestLimit  int
	RequestWindow time.Duration
	SweepInterval time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig is the per-identity request budget and the login budget.
type RateLimitConfig struct {
	Enabled     bool
	Limit       int
	Window      time.Duration
	LoginLimit  int
	LoginWindow time.Duration
}

/*
====================================
API KEY CONFIG
====================================
*/

// APIKeyConfig configures the API key gate.
//
// DevKeys are literal keys accepted without a store lookup. They, and
// DevFallbackOnStoreError, are rejected by Validate unless Environment is
// EnvDevelopment.
type APIKeyConfig struct {
	Permissions             []string
	DevKeys                 []string
	DevFallbackOnStoreError bool
	DefaultRequestLimit     int
	Window                  time.Duration
	UsageBuffer             int
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Signing keys are left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		Environment: "production",
		Token: TokenConfig{
			AccessTTL:       8 * time.Hour,
			RefreshTTL:      7 * 24 * time.Hour,
			SigningMethod:   string(jwt.MethodHS256),
			Issuer:          "kennelguard",
			Audience:        "kennelguard-api",
			RefreshAudience: "kennelguard-refresh",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		Reset: ResetConfig{
			TokenTTL:      time.Hour,
			RequestLimit:  3,
			RequestWindow: time.Hour,
			SweepInterval: 15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			Limit:       100,
			Window:      15 * time.Minute,
			LoginLimit:  5,
			LoginWindow: 15 * time.Minute,
		},
		APIKey: APIKeyConfig{
			Permissions:         []string{"dogs:read", "dogs:write", "breeds:read", "vaccines:read"},
			DefaultRequestLimit: 1000,
			Window:              time.Hour,
			UsageBuffer:         256,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessKey = cloneBytes(cfg.Token.AccessKey)
	out.Token.AccessPublicKey = cloneBytes(cfg.Token.AccessPublicKey)
	out.Token.RefreshKey = cloneBytes(cfg.Token.RefreshKey)
	out.Token.RefreshPublicKey = cloneBytes(cfg.Token.RefreshPublicKey)
	out.APIKey.Permissions = append([]string(nil), cfg.APIKey.Permissions...)
	out.APIKey.DevKeys = append([]string(nil), cfg.APIKey.DevKeys...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// IsDevelopment reports whether development-only behaviour may run.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for unsafe or inconsistent values.
//
// Validate never mutates c.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return errors.New("Environment is required")
	}

	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be within [0, 2m]")
	}
	switch jwt.SigningMethod(c.Token.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.Token.AccessKey) < 32 || len(c.Token.RefreshKey) < 32 {
			return errors.New("hs256 requires AccessKey and RefreshKey of at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.Token.AccessKey) == 0 || len(c.Token.AccessPublicKey) == 0 {
			return errors.New("ed25519 requires AccessKey and AccessPublicKey")
		}
		if len(c.Token.RefreshKey) == 0 || len(c.Token.RefreshPublicKey) == 0 {
			return errors.New("ed25519 requires RefreshKey and RefreshPublicKey")
		}
	default:
		return fmt.Errorf("unsupported Token SigningMethod %q", c.Token.SigningMethod)
	}
	if bytes.Equal(c.Token.AccessKey, c.Token.RefreshKey) {
		return errors.New("Token AccessKey and RefreshKey must differ")
	}
	if c.Token.Audience != "" && c.Token.Audience == c.Token.RefreshAudience {
		return errors.New("Token Audience and RefreshAudience must differ")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KiB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Reset
	if c.Reset.TokenTTL <= 0 {
		return errors.New("Reset TokenTTL must be > 0")
	}
	if c.Reset.RequestLimit <= 0 || c.Reset.RequestWindow <= 0 {
		return errors.New("Reset RequestLimit and RequestWindow must be > 0")
	}
	if c.Reset.SweepInterval < 0 {
		return errors.New("Reset SweepInterval must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Enabled && (c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("RateLimit Limit and Window must be > 0 when enabled")
	}
	if c.RateLimit.LoginLimit < 0 {
		return errors.New("RateLimit LoginLimit must be >= 0")
	}
	if c.RateLimit.LoginLimit > 0 && c.RateLimit.LoginWindow <= 0 {
		return errors.New("RateLimit LoginWindow must be > 0 when LoginLimit is set")
	}

	// API keys
	if !c.IsDevelopment() {
		if len(c.APIKey.DevKeys) > 0 {
			return errors.New("APIKey DevKeys are only allowed in the development environment")
		}
		if c.APIKey.DevFallbackOnStoreError {
			return errors.New("APIKey DevFallbackOnStoreError is only allowed in the development environment")
		}
	}
	if c.APIKey.DevFallbackOnStoreError && len(c.APIKey.DevKeys) == 0 {
		return errors.New("APIKey DevFallbackOnStoreError requires DevKeys")
	}
	for _, k := range c.APIKey.DevKeys {
		if len(k) < 16 {
			return errors.New("APIKey DevKeys must be at least 16 characters")
		}
	}
	if c.APIKey.DefaultRequestLimit < 0 {
		return errors.New("APIKey DefaultRequestLimit must be >= 0")
	}
	if c.APIKey.Window <= 0 {
		return errors.New("APIKey Window must be > 0")
	}
	if c.APIKey.UsageBuffer <= 0 {
		return errors.New("APIKey UsageBuffer must be > 0")
	}
	if len(c.APIKey.Permissions) > 63 {
		return errors.New("APIKey Permissions supports at most 63 names")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
