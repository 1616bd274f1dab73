package kennelguard

import (
	"errors"
	"time"

	"github.com/MrEthical07/kennelguard/internal/audit"
	"github.com/MrEthical07/kennelguard/internal/flows"
	"github.com/MrEthical07/kennelguard/jwt"
	"github.com/MrEthical07/kennelguard/password"
	"github.com/MrEthical07/kennelguard/permission"
	"github.com/MrEthical07/kennelguard/ratelimit"
	"go.uber.org/zap"
)

// Builder assembles an Engine.
//
// A Builder is not safe for concurrent use and builds at most one Engine.
type Builder struct {
	config Config

	identities IdentityStore
	resets     ResetTokenStore
	apiKeys    APIKeyStore

	notifier  Notifier
	limiter   ratelimit.Limiter
	auditSink AuditSink
	log       *zap.Logger
	now       func() time.Time

	built bool
}

// New starts from DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig stores a deep copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCredentialStore sets the identity, reset token and API key stores at once.
func (b *Builder) WithCredentialStore(s CredentialStore) *Builder {
	b.identities = s
	b.resets = s
	b.apiKeys = s
	return b
}

// WithIdentityStore overrides the identity store.
func (b *Builder) WithIdentityStore(s IdentityStore) *Builder {
	b.identities = s
	return b
}

// WithResetTokenStore overrides the reset store, for example with store/redisstore.
func (b *Builder) WithResetTokenStore(s ResetTokenStore) *Builder {
	b.resets = s
	return b
}

// WithAPIKeyStore overrides the API key store. Without one only development
// keys authenticate.
func (b *Builder) WithAPIKeyStore(s APIKeyStore) *Builder {
	b.apiKeys = s
	return b
}

// WithNotifier sets where reset links and change notices go. The default
// discards them.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// Without it, Build creates a private in-memory limiter on the engine clock.
func (b *Builder) WithRateLimiter(l ratelimit.Limiter) *Builder {
	b.limiter = l
	return b
}

// WithAuditSink sets the audit destination. Events are discarded without one.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The default is zap.NewNop.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// The clock drives token timestamps, reset expiry and the default limiter.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles Metrics.EnableLatencyHistograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, requires identity and reset token
// stores, and may be called once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}
	if b.resets == nil {
		return nil, errors.New("reset token store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	// -------- PERMISSION REGISTRY --------
	registry := permission.NewRegistry()
	for _, p := range cfg.APIKey.Permissions {
		if _, err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	// -------- PASSWORD HASHER --------
	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKEN MANAGERS --------
	access, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Token.AccessTTL,
		TokenType:     jwt.TypeAccess,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.AccessKey),
		PublicKey:     cloneBytes(cfg.Token.AccessPublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	refresh, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Token.RefreshTTL,
		TokenType:     jwt.TypeRefresh,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.RefreshKey),
		PublicKey:     cloneBytes(cfg.Token.RefreshPublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.RefreshAudience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	limiter := b.limiter
	if limiter == nil {
		limiter = ratelimit.NewMemory(ratelimit.WithClock(now))
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	engine := &Engine{
		config:     cfg,
		identities: b.identities,
		resets:     b.resets,
		apiKeys:    b.apiKeys,
		notifier:   notifier,
		limiter:    limiter,
		hasher:     hasher,
		access:     access,
		refresh:    refresh,
		registry:   registry,
		log:        log.Named("kennelguard"),
		now:        now,
		metrics:    NewMetrics(cfg.Metrics),
	}
	engine.flows = flows.Deps{
		Reset:  engine.resetDeps(),
		Change: engine.changeDeps(),
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	if b.apiKeys != nil {
		engine.usage = newUsageRecorder(b.apiKeys, cfg.APIKey.UsageBuffer, engine.log, engine.metrics)
	}

	b.built = true
	return engine, nil
}
