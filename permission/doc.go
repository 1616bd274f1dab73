// Package permission maps API key permission names such as "dogs:read" onto
// bits of a 64-bit mask so that a superset check is a single AND.
//
// # Lifecycle
//
// Names are registered once at startup, then the [Registry] is frozen.
// Bit positions are stable for the lifetime of the process. Bit 63 is
// reserved for the "*" wildcard, which grants every registered permission.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import any other kennelguard package.
//   - Grow past 63 named permissions.
package permission
