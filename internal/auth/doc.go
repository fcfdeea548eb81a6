// Package auth provides request authentication for the todovex HTTP API.
//
// # Sessions
//
// Users authenticate with database sessions created by the sign-in flows.
// The session token travels either in the authjs.session-token cookie
// (__Secure-authjs.session-token over HTTPS) or as a bearer token:
//
//	mw := SessionMiddleware(adapter, SessionConfig{MaxAge: 30 * 24 * time.Hour, UpdateAge: 24 * time.Hour}, logger)
//
// Sessions slide: once UpdateAge has passed since the expiry was last set,
// the middleware pushes it to now+MaxAge. Expired sessions are deleted on
// sight.
//
// # Ceremony Tokens
//
// Passkey registration and login are two-request ceremonies. The challenge
// state from the first request is handed to the browser as a short-lived
// HS256 token signed by CeremonySigner and returned with the second request,
// so the gateway keeps no per-ceremony state.
package auth
