// Package ratelimit implements sliding-log rate limiting keyed by identity or
// API key.
//
// # Algorithm
//
// Each key owns an ordered log of request instants. On every call, entries at
// or before now-window are evicted first. If fewer than limit entries remain,
// now is appended and the call is allowed with Remaining = limit - count - 1.
// Otherwise the call is denied and nothing is recorded. ResetAt is the oldest
// surviving entry plus window in both cases. The window slides continuously;
// there are no fixed buckets.
//
// # Implementations
//
//   - Memory: sharded, mutex-protected logs for a single process, with an
//     injected clock and a sweeper for idle keys.
//   - Redis: sorted-set logs evaluated by one Lua script so that evict, count
//     and append stay atomic across processes.
//
// # What this package must NOT do
//
//   - Keep package-level limiter state. Limiters are constructed and injected.
//   - Know about identities, roles or API key records.
package ratelimit
