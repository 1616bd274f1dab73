// Package jwt signs and verifies kennelguard bearer tokens.
//
// One [Manager] serves one signing context. The engine builds two: access
// tokens and refresh tokens, each with its own key, audience and typ claim, so
// a token from one context never verifies in the other.
//
// Parse checks structure and signature before exp, iat, issuer and audience.
// Its errors wrap [ErrMalformed], [ErrInvalid] or [ErrExpired].
package jwt
