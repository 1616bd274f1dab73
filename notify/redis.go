package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/kennelguard/store"
	"github.com/redis/go-redis/v9"
)

// Message kinds written to the stream's "kind" field.
const (
	KindResetLink       = "reset_link"
	KindPasswordChanged = "password_changed"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "kennelguard:notifications"

// RedisStream appends notifications to a Redis stream. Each entry has the
// fields kind, identity_id, to, at (RFC 3339) and, for reset links, link.
type RedisStream struct {
	redis   redis.UniversalClient
	stream  string
	maxLen  int64
	linkURL string
	now     func() time.Time
}

// RedisStreamConfig configures NewRedisStream.
type RedisStreamConfig struct {
	// Stream defaults to DefaultStream.
	Stream string
	// MaxLen caps the stream approximately. Zero keeps every entry.
	MaxLen int64
	// LinkURL is passed to ResetLink.
	LinkURL string
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewRedisStream(client redis.UniversalClient, cfg RedisStreamConfig) *RedisStream {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisStream{
		redis:   client,
		stream:  cfg.Stream,
		maxLen:  cfg.MaxLen,
		linkURL: cfg.LinkURL,
		now:     cfg.Now,
	}
}

func (n *RedisStream) SendResetLink(ctx context.Context, identity store.Identity, rawToken string) error {
	return n.add(ctx, KindResetLink, identity, "link", ResetLink(n.linkURL, rawToken))
}

func (n *RedisStream) SendPasswordChangedNotice(ctx context.Context, identity store.Identity) error {
	return n.add(ctx, KindPasswordChanged, identity)
}

func (n *RedisStream) add(ctx context.Context, kind string, identity store.Identity, extra ...string) error {
	values := []string{
		"kind", kind,
		"identity_id", strconv.FormatInt(identity.ID, 10),
		"to", identity.CredentialID,
		"at", n.now().UTC().Format(time.RFC3339),
	}
	values = append(values, extra...)

	args := &redis.XAddArgs{Stream: n.stream, Values: values}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}
	if err := n.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("notify: xadd %s: %w", kind, err)
	}
	return nil
}
