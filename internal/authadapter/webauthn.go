// ABOUTME: Bridges stored authenticators to go-webauthn credentials and users
// ABOUTME: Transports stay a comma-separated string in storage and become a list here

package authadapter

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Device types as reported by the identity framework.
const (
	DeviceSingle = "singleDevice"
	DeviceMulti  = "multiDevice"
)

// TransportList splits the stored transport string. Unknown names are kept
// as-is so nothing the browser reported is lost.
func (a *Authenticator) TransportList() []protocol.AuthenticatorTransport {
	if a.Transports == nil || *a.Transports == "" {
		return nil
	}
	parts := strings.Split(*a.Transports, ",")
	out := make([]protocol.AuthenticatorTransport, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, protocol.AuthenticatorTransport(p))
		}
	}
	return out
}

// JoinTransports flattens a transport list for storage. An empty list
// becomes nil so the field is omitted.
func JoinTransports(ts []protocol.AuthenticatorTransport) *string {
	if len(ts) == 0 {
		return nil
	}
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = string(t)
	}
	joined := strings.Join(names, ",")
	return &joined
}

// Credential decodes the stored authenticator into the form go-webauthn
// validates assertions against.
func (a *Authenticator) Credential() (webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(a.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decoding credential id: %w", err)
	}
	pub, err := base64.RawURLEncoding.DecodeString(a.CredentialPublicKey)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decoding public key: %w", err)
	}
	return webauthn.Credential{
		ID:        id,
		PublicKey: pub,
		Transport: a.TransportList(),
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: a.CredentialDeviceType == DeviceMulti,
			BackupState:    a.CredentialBackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: uint32(a.Counter),
		},
	}, nil
}

// AuthenticatorFromCredential builds the record to store after a successful
// registration.
func AuthenticatorFromCredential(userID string, cred *webauthn.Credential) Authenticator {
	credID := base64.RawURLEncoding.EncodeToString(cred.ID)
	deviceType := DeviceSingle
	if cred.Flags.BackupEligible {
		deviceType = DeviceMulti
	}
	return Authenticator{
		UserID:               userID,
		ProviderAccountID:    credID,
		CredentialID:         credID,
		CredentialPublicKey:  base64.RawURLEncoding.EncodeToString(cred.PublicKey),
		Counter:              int64(cred.Authenticator.SignCount),
		CredentialDeviceType: deviceType,
		CredentialBackedUp:   cred.Flags.BackupState,
		Transports:           JoinTransports(cred.Transport),
	}
}

// WebAuthnUser adapts a user and their authenticators to webauthn.User.
type WebAuthnUser struct {
	user  *User
	creds []webauthn.Credential
}

// NewWebAuthnUser decodes every authenticator up front so a corrupt record
// fails the ceremony instead of being silently skipped.
func NewWebAuthnUser(user *User, auths []*Authenticator) (*WebAuthnUser, error) {
	creds := make([]webauthn.Credential, 0, len(auths))
	for _, a := range auths {
		c, err := a.Credential()
		if err != nil {
			return nil, fmt.Errorf("authenticator %s: %w", a.CredentialID, err)
		}
		creds = append(creds, c)
	}
	return &WebAuthnUser{user: user, creds: creds}, nil
}

func (u *WebAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *WebAuthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *WebAuthnUser) WebAuthnDisplayName() string {
	if u.user.Name != nil && *u.user.Name != "" {
		return *u.user.Name
	}
	return u.user.Email
}

func (u *WebAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.creds
}

// User returns the wrapped framework user.
func (u *WebAuthnUser) User() *User {
	return u.user
}
