// Package kennelguard authenticates and authorizes callers of the dog-adoption
// platform.
//
// It issues and verifies signed access and refresh tokens, enforces role and
// ownership rules through composable guards, rate-limits per identity and per
// API key, and owns the single-use password-reset token lifecycle and the
// password change flow.
//
// An [Engine] is assembled once with [Builder] and is safe for concurrent use.
// Persistence is reached only through the [CredentialStore] contracts defined
// in package store; adapters live under store/.
//
// # Architecture boundaries
//
// kennelguard is transport-neutral. HTTP and gRPC adapters live in the
// middleware and grpcauth packages and translate errors with [Describe].
// Every denial maps to one stable [Code].
//
// # What this package must NOT do
//
//   - Hold package-level mutable state. The rate limiter is injected.
//   - Report an infrastructure failure as invalid credentials.
//   - Persist a raw reset token or API key.
package kennelguard
