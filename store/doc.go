// Package store defines the persistence contracts and record types shared by
// the kennelguard engine and its storage adapters.
//
// Adapters live in sub-packages:
//
//   - store/memory: mutex-guarded maps, single-writer serialization.
//   - store/sqlite: database/sql over modernc.org/sqlite.
//   - store/postgres: gorm over PostgreSQL with row locks.
//   - store/redisstore: reset tokens in Redis with WATCH/MULTI.
//
// # Error contract
//
// Lookups that match nothing return [ErrNotFound]. Backend failures wrap
// [ErrUnavailable]. The engine relies on this split to keep infrastructure
// failures distinct from invalid credentials.
//
// # What this package must NOT do
//
//   - Import kennelguard or any adapter package.
//   - Perform I/O.
package store
