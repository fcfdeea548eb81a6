// ABOUTME: Identity framework data shapes used by the auth adapter
// ABOUTME: Dates are time.Time and absent optional values are nil pointers

package authadapter

import "time"

// User is the framework's view of a user. EmailVerified is never tracked
// after creation and always comes back nil.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          *string    `json:"name"`
	Image         *string    `json:"image"`
	EmailVerified *time.Time `json:"emailVerified"`
}

// Session is an issued database session.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	SessionToken string    `json:"sessionToken"`
	Expires      time.Time `json:"expires"`
}

// SessionUpdate is a partial session keyed by token. A nil Expires means the
// adapter picks the new expiry itself.
type SessionUpdate struct {
	SessionToken string
	Expires      *time.Time
}

// SessionAndUser is returned whole or not at all.
type SessionAndUser struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

// Account types accepted by the store.
const (
	AccountEmail    = "email"
	AccountOIDC     = "oidc"
	AccountOAuth    = "oauth"
	AccountWebAuthn = "webauthn"
)

// Account links a user to a provider identity. ExpiresAt is in seconds, as
// providers report it.
type Account struct {
	ID                string  `json:"id"`
	UserID            string  `json:"userId"`
	Type              string  `json:"type"`
	Provider          string  `json:"provider"`
	ProviderAccountID string  `json:"providerAccountId"`
	AccessToken       *string `json:"access_token"`
	ExpiresAt         *int64  `json:"expires_at"`
	IDToken           *string `json:"id_token"`
	Scope             *string `json:"scope"`
	TokenType         *string `json:"token_type"`
}

// Authenticator is a WebAuthn credential. CredentialID and
// CredentialPublicKey are base64url strings. Transports is the
// comma-separated list the browser reported, or nil.
type Authenticator struct {
	ID                   string  `json:"id"`
	UserID               string  `json:"userId"`
	ProviderAccountID    string  `json:"providerAccountId"`
	CredentialID         string  `json:"credentialID"`
	CredentialPublicKey  string  `json:"credentialPublicKey"`
	Counter              int64   `json:"counter"`
	CredentialDeviceType string  `json:"credentialDeviceType"`
	CredentialBackedUp   bool    `json:"credentialBackedUp"`
	Transports           *string `json:"transports"`
}

// VerificationToken is a single-use sign-in token.
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}
