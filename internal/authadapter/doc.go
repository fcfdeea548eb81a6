// Package authadapter implements the identity framework's adapter contract
// on top of the backend store service.
//
// The framework works with time.Time and nil pointers; stored documents use
// epoch milliseconds and omitted fields. Every method converts in both
// directions and makes one backend call through a Caller, which carries the
// shared adapter secret. Lookups that find nothing return a nil result with
// a nil error.
package authadapter
