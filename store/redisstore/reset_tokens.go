package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/kennelguard/store"
	"github.com/redis/go-redis/v9"
)

const (
	txBackoffMin = time.Millisecond
	txBackoffMax = 20 * time.Millisecond
)

// ResetTokens keeps reset tokens in Redis. Each record lives under
// <prefix>:h:<hash>; <prefix>:u:<identity> points at the newest hash of an
// identity so issuing a token can retire its predecessor. Keys expire with
// the token, so SweepResetTokens has nothing to remove.
type ResetTokens struct {
	redis  redis.UniversalClient
	prefix string
}

var _ store.ResetTokenStore = (*ResetTokens)(nil)

// NewResetTokens returns a Redis-backed reset token store. An empty prefix
// defaults to "kgrt".
func NewResetTokens(client redis.UniversalClient, prefix string) *ResetTokens {
	if prefix == "" {
		prefix = "kgrt"
	}
	return &ResetTokens{redis: client, prefix: prefix}
}

func (s *ResetTokens) hashKey(tokenHash string) string {
	return s.prefix + ":h:" + tokenHash
}

func (s *ResetTokens) userKey(identityID int64) string {
	return s.prefix + ":u:" + strconv.FormatInt(identityID, 10)
}

// IssueResetToken retires the identity's current token and stores token in
// one optimistic transaction.
func (s *ResetTokens) IssueResetToken(ctx context.Context, token store.ResetToken) error {
	encoded, err := encodeResetToken(token)
	if err != nil {
		return err
	}
	ttl := recordTTL(token)
	userKey := s.userKey(token.IdentityID)

	return s.retry(ctx, func() error {
		return s.redis.Watch(ctx, func(tx *redis.Tx) error {
			retire, retireKey, err := s.loadCurrent(ctx, tx, userKey)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if retire != nil {
					pipe.SetArgs(ctx, retireKey, retire, redis.SetArgs{KeepTTL: true})
				}
				pipe.Set(ctx, s.hashKey(token.TokenHash), encoded, ttl)
				pipe.Set(ctx, userKey, token.TokenHash, ttl)
				return nil
			})
			return err
		}, userKey)
	})
}

// InvalidateResetTokens marks the identity's current token used.
func (s *ResetTokens) InvalidateResetTokens(ctx context.Context, identityID int64) error {
	userKey := s.userKey(identityID)
	return s.retry(ctx, func() error {
		return s.redis.Watch(ctx, func(tx *redis.Tx) error {
			retire, retireKey, err := s.loadCurrent(ctx, tx, userKey)
			if err != nil || retire == nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, retireKey, retire, redis.SetArgs{KeepTTL: true})
				return nil
			})
			return err
		}, userKey)
	})
}

// loadCurrent watches the record the user pointer names and returns its
// encoding with Used set, or nil when nothing is live.
func (s *ResetTokens) loadCurrent(ctx context.Context, tx *redis.Tx, userKey string) ([]byte, string, error) {
	current, err := tx.Get(ctx, userKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	key := s.hashKey(current)
	if err := tx.Watch(ctx, key).Err(); err != nil {
		return nil, "", err
	}
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	prev, err := decodeResetToken(data)
	if err != nil {
		return nil, "", err
	}
	if prev.Used {
		return nil, "", nil
	}
	prev.Used = true
	encoded, err := encodeResetToken(prev)
	if err != nil {
		return nil, "", err
	}
	return encoded, key, nil
}

func (s *ResetTokens) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time) (store.ResetToken, error) {
	key := s.hashKey(tokenHash)
	var redeemed store.ResetToken

	err := s.retry(ctx, func() error {
		return s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			token, err := decodeResetToken(data)
			if err != nil {
				return err
			}
			if !token.Live(now) {
				return store.ErrNotFound
			}
			token.Used = true
			encoded, err := encodeResetToken(token)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, encoded, redis.SetArgs{KeepTTL: true})
				return nil
			})
			if err != nil {
				return err
			}
			redeemed = token
			return nil
		}, key)
	})
	if err != nil {
		return store.ResetToken{}, err
	}
	return redeemed, nil
}

func (s *ResetTokens) FindResetTokenByHash(ctx context.Context, tokenHash string) (store.ResetToken, error) {
	data, err := s.redis.Get(ctx, s.hashKey(tokenHash)).Bytes()
	if err != nil {
		return store.ResetToken{}, classify(err)
	}
	token, err := decodeResetToken(data)
	if err != nil {
		return store.ResetToken{}, classify(err)
	}
	return token, nil
}

// SweepResetTokens is a no-op; Redis expires records on its own.
func (s *ResetTokens) SweepResetTokens(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// retry reruns fn while the optimistic transaction loses a race, backing off
// briefly between attempts. It gives up only when ctx ends.
func (s *ResetTokens) retry(ctx context.Context, fn func() error) error {
	backoff := txBackoffMin
	for {
		err := fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return classify(err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: reset token transaction contention: %v", store.ErrUnavailable, ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, txBackoffMax)
	}
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil), errors.Is(err, store.ErrNotFound):
		return store.ErrNotFound
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}

// recordTTL keeps a record for its remaining validity plus one minute so a
// just-expired token still reads as expired rather than unknown.
func recordTTL(token store.ResetToken) time.Duration {
	base := token.CreatedAt
	if base.IsZero() {
		base = time.Now()
	}
	ttl := token.ExpiresAt.Sub(base)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + time.Minute
}
