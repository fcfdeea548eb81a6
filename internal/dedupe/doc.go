// Package dedupe suppresses repeated requests for the same key within a
// time window. The gateway keys it by email address to throttle sign-in
// link requests.
package dedupe
