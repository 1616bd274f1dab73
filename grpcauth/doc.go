// Package grpcauth exposes gRPC server interceptors over kennelguard.Engine.
//
// A [Policy] maps full method names to a [Rule]. Bearer tokens are read from
// the "authorization" metadata key and API keys from "x-api-key". Denials
// become status errors whose code follows the HTTP status of the denial, and
// the denial code plus any rate-limit values are sent as response headers.
//
// Guards see the request through [MessageAttributes]: route and query
// parameters come from metadata, body fields from the protobuf message.
package grpcauth
