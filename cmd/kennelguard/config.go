package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrEthical07/kennelguard"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// settings is the binary's configuration. It is resolved in priority order:
// defaults, then the YAML file, then KENNELGUARD_* environment variables.
type settings struct {
	Environment string `yaml:"environment" env:"ENV"`

	HTTP      httpSettings      `yaml:"http" envPrefix:"HTTP_"`
	GRPC      grpcSettings      `yaml:"grpc" envPrefix:"GRPC_"`
	SQLite    sqliteSettings    `yaml:"sqlite" envPrefix:"SQLITE_"`
	Postgres  postgresSettings  `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis     redisSettings     `yaml:"redis" envPrefix:"REDIS_"`
	Token     tokenSettings     `yaml:"token" envPrefix:"TOKEN_"`
	Password  passwordSettings  `yaml:"password" envPrefix:"PASSWORD_"`
	Reset     resetSettings     `yaml:"reset" envPrefix:"RESET_"`
	RateLimit rateLimitSettings `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	APIKey    apiKeySettings    `yaml:"api_key" envPrefix:"API_KEY_"`
	Notify    notifySettings    `yaml:"notify" envPrefix:"NOTIFY_"`
	Audit     auditSettings     `yaml:"audit" envPrefix:"AUDIT_"`
	Metrics   metricsSettings   `yaml:"metrics" envPrefix:"METRICS_"`

	seed seedSettings
}

// configFile is the YAML schema: every settings field plus the seed block,
// which has no environment form.
type configFile struct {
	settings `yaml:",inline"`
	Seed     seedSettings `yaml:"seed"`
}

type httpSettings struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// An empty Addr disables the gRPC listener.
type grpcSettings struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type sqliteSettings struct {
	Path string `yaml:"path" env:"PATH"`
}

// A non-empty DSN selects PostgreSQL over SQLite.
type postgresSettings struct {
	DSN      string `yaml:"dsn" env:"DSN"`
	MaxConns int    `yaml:"max_conns" env:"MAX_CONNS"`
}

// An empty Addr starts an embedded miniredis.
type redisSettings struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

type tokenSettings struct {
	AccessKey  string        `yaml:"access_key" env:"ACCESS_KEY"`
	RefreshKey string        `yaml:"refresh_key" env:"REFRESH_KEY"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL"`
	Issuer     string        `yaml:"issuer" env:"ISSUER"`
}

type passwordSettings struct {
	MemoryKiB   uint32 `yaml:"memory_kib" env:"MEMORY_KIB"`
	Time        uint32 `yaml:"time" env:"TIME"`
	Parallelism uint8  `yaml:"parallelism" env:"PARALLELISM"`
}

type resetSettings struct {
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	LinkURL       string        `yaml:"link_url" env:"LINK_URL"`
}

type rateLimitSettings struct {
	// Backend is "redis" or "memory".
	Backend       string        `yaml:"backend" env:"BACKEND"`
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	Limit         int           `yaml:"limit" env:"LIMIT"`
	Window        time.Duration `yaml:"window" env:"WINDOW"`
	LoginLimit    int           `yaml:"login_limit" env:"LOGIN_LIMIT"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type apiKeySettings struct {
	Permissions             []string `yaml:"permissions" env:"PERMISSIONS" envSeparator:","`
	DevKeys                 []string `yaml:"dev_keys" env:"DEV_KEYS" envSeparator:","`
	DevFallbackOnStoreError bool     `yaml:"dev_fallback_on_store_error" env:"DEV_FALLBACK_ON_STORE_ERROR"`
	DefaultRequestLimit     int      `yaml:"default_request_limit" env:"DEFAULT_REQUEST_LIMIT"`
}

type notifySettings struct {
	// Backend is "log" or "redis".
	Backend string `yaml:"backend" env:"BACKEND"`
	Stream  string `yaml:"stream" env:"STREAM"`
	MaxLen  int64  `yaml:"max_len" env:"MAX_LEN"`
}

type auditSettings struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

type metricsSettings struct {
	Latency bool `yaml:"latency" env:"LATENCY"`
}

type seedSettings struct {
	Identities []seedIdentity `yaml:"identities"`
	APIKeys    []seedAPIKey   `yaml:"api_keys"`
}

type seedIdentity struct {
	ID       int64  `yaml:"id"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
	Active   *bool  `yaml:"active"`
}

type seedAPIKey struct {
	ID           string    `yaml:"id"`
	Key          string    `yaml:"key"`
	Permissions  []string  `yaml:"permissions"`
	RequestLimit int       `yaml:"request_limit"`
	OwnerID      int64     `yaml:"owner_id"`
	ExpiresAt    time.Time `yaml:"expires_at"`
}

func defaultSettings() settings {
	base := kennelguard.DefaultConfig()
	return settings{
		Environment: base.Environment,
		HTTP: httpSettings{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		GRPC:     grpcSettings{Addr: ":9090"},
		SQLite:   sqliteSettings{Path: "kennelguard.db"},
		Postgres: postgresSettings{MaxConns: 20},
		Redis:    redisSettings{Prefix: "kg"},
		Token: tokenSettings{
			AccessTTL:  base.Token.AccessTTL,
			RefreshTTL: base.Token.RefreshTTL,
			Issuer:     base.Token.Issuer,
		},
		Password: passwordSettings{
			MemoryKiB:   base.Password.Memory,
			Time:        base.Password.Time,
			Parallelism: base.Password.Parallelism,
		},
		Reset: resetSettings{
			TTL:           base.Reset.TokenTTL,
			SweepInterval: base.Reset.SweepInterval,
		},
		RateLimit: rateLimitSettings{
			Backend:       "redis",
			Enabled:       base.RateLimit.Enabled,
			Limit:         base.RateLimit.Limit,
			Window:        base.RateLimit.Window,
			LoginLimit:    base.RateLimit.LoginLimit,
			SweepInterval: time.Minute,
		},
		APIKey: apiKeySettings{
			Permissions:         base.APIKey.Permissions,
			DefaultRequestLimit: base.APIKey.DefaultRequestLimit,
		},
		Notify:  notifySettings{Backend: "log"},
		Audit:   auditSettings{Enabled: true},
		Metrics: metricsSettings{Latency: true},
	}
}

// loadSettings resolves settings. path may be empty. environ replaces the
// process environment when non-nil.
func loadSettings(path string, environ map[string]string) (settings, error) {
	s := defaultSettings()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
		file := configFile{settings: s}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return settings{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		s = file.settings
		s.seed = file.Seed
	}

	opts := env.Options{Prefix: "KENNELGUARD_", Environment: environ}
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return settings{}, fmt.Errorf("parse env: %w", err)
	}

	switch s.RateLimit.Backend {
	case "redis", "memory":
	default:
		return settings{}, fmt.Errorf("rate_limit.backend must be redis or memory, got %q", s.RateLimit.Backend)
	}
	switch s.Notify.Backend {
	case "log", "redis":
	default:
		return settings{}, fmt.Errorf("notify.backend must be log or redis, got %q", s.Notify.Backend)
	}
	return s, nil
}

// engineConfig maps settings onto the engine configuration. Outside
// development, missing signing keys are left for Config.Validate to reject;
// in development they are replaced with random per-process keys.
func engineConfig(s settings, log *zap.Logger) (kennelguard.Config, error) {
	cfg := kennelguard.DefaultConfig()
	cfg.Environment = s.Environment

	cfg.Token.AccessKey = []byte(s.Token.AccessKey)
	cfg.Token.RefreshKey = []byte(s.Token.RefreshKey)
	cfg.Token.AccessTTL = s.Token.AccessTTL
	cfg.Token.RefreshTTL = s.Token.RefreshTTL
	cfg.Token.Issuer = s.Token.Issuer
	if cfg.IsDevelopment() {
		for _, key := range []*[]byte{&cfg.Token.AccessKey, &cfg.Token.RefreshKey} {
			if len(*key) > 0 {
				continue
			}
			ephemeral := make([]byte, 32)
			if _, err := rand.Read(ephemeral); err != nil {
				return kennelguard.Config{}, fmt.Errorf("generate signing key: %w", err)
			}
			*key = ephemeral
		}
		if s.Token.AccessKey == "" || s.Token.RefreshKey == "" {
			log.Warn("using ephemeral signing keys; tokens will not survive a restart")
		}
	}

	cfg.Password.Memory = s.Password.MemoryKiB
	cfg.Password.Time = s.Password.Time
	cfg.Password.Parallelism = s.Password.Parallelism

	cfg.Reset.TokenTTL = s.Reset.TTL
	cfg.Reset.SweepInterval = s.Reset.SweepInterval

	cfg.RateLimit.Enabled = s.RateLimit.Enabled
	cfg.RateLimit.Limit = s.RateLimit.Limit
	cfg.RateLimit.Window = s.RateLimit.Window
	cfg.RateLimit.LoginLimit = s.RateLimit.LoginLimit

	cfg.APIKey.Permissions = s.APIKey.Permissions
	cfg.APIKey.DevKeys = s.APIKey.DevKeys
	cfg.APIKey.DevFallbackOnStoreError = s.APIKey.DevFallbackOnStoreError
	cfg.APIKey.DefaultRequestLimit = s.APIKey.DefaultRequestLimit

	cfg.Audit.Enabled = s.Audit.Enabled
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = s.Metrics.Latency

	if err := cfg.Validate(); err != nil {
		return kennelguard.Config{}, errors.Join(errors.New("invalid engine config"), err)
	}
	return cfg, nil
}
