// Package middleware exposes net/http adapters over kennelguard.Engine.
//
// # Middleware
//
//   - [Authenticate] verifies the bearer token and stores the claims.
//   - [RateLimit] applies the per-identity budget and sets X-RateLimit-* headers.
//   - [Authorize] runs guards against the stored claims and the request.
//   - [APIKey] authenticates X-API-Key (or the api_key query parameter) and
//     applies the per-key budget.
//   - [ClientInfo] records client IP and user agent for public routes.
//
// Every denial is written by [WriteDenial] as {"code", "message"}; rate-limit
// denials add limit, remaining and reset.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; every decision comes from the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access stores or Redis.
//   - Reveal error causes beyond the denial code and its generic message.
package middleware
