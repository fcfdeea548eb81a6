// Package gateway orchestrates the todovex server components.
//
// # Overview
//
// The Gateway owns the SQLite store, the gRPC server that exposes it as the
// backend function surface, and the HTTP server for the app API. The API
// never touches the store directly: it goes through a backend client that
// carries the adapter secret on every call, exactly like an external caller.
//
//	HTTP API -> authadapter / TaskClient -> backend.Client --gRPC--> backend.Server -> store
//
// # HTTP API
//
// Sign-in:
//
//	POST /api/auth/signin/email          issue a one-time sign-in link
//	GET  /api/auth/callback/email        redeem it for a session
//	POST /api/auth/signout               delete the current session
//	POST /api/passkeys/register/begin    (authenticated) start passkey registration
//	POST /api/passkeys/register/finish   (authenticated) store the new passkey
//	POST /api/passkeys/login/begin       start a discoverable passkey login
//	POST /api/passkeys/login/finish      verify it and issue a session
//
// Everything else under /api requires a session cookie or bearer token:
// account info, projects, labels, todos, sub-todos, vector search, and the
// two suggestion endpoints. Todo responses carry description_html rendered
// with goldmark.
//
// Errors are JSON objects of the form {"error": "..."}. Status codes follow
// the error kind: invalid argument 400, not found 404, upstream or invalid
// model output 502, context too long 413, configuration 503. A second sign-in
// link for the same address inside auth.signin_throttle is refused with 429.
//
// # Health
//
//	GET /health        liveness
//	GET /health/ready  200 once a call through the backend surface succeeds
//
// # Tailscale
//
// With tailscale.enabled the listeners move onto a tsnet node: the backend
// on :50051 and HTTP on :80, :443 with tailnet certificates, or a public
// funnel.
package gateway
