// Package redisstore keeps short-lived password reset tokens in Redis.
//
// # Design
//
// Records are versioned binary blobs with a TTL slightly longer than the
// token's validity. Issue, invalidate and redeem run as WATCH/MULTI
// optimistic transactions with bounded retry, so a token redeems at most once
// even when several processes race on it.
//
// # Architecture boundaries
//
// Only store.ResetTokenStore lives here. Identities and API keys come from a
// relational store; cmd/kennelguard composes the two.
//
// # What this package must NOT do
//
//   - Store raw reset tokens. Callers pass the SHA-256 digest.
//   - Report Redis failures as store.ErrNotFound.
package redisstore
