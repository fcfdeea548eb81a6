// ABOUTME: Conversions between framework shapes and stored documents
// ABOUTME: time.Time becomes epoch milliseconds and nil becomes an omitted field

package authadapter

import (
	"time"

	"github.com/2389/todovex/internal/store"
)

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func userToDB(u User) *store.User {
	return &store.User{
		ID:    u.ID,
		Email: u.Email,
		Name:  deref(u.Name),
		Image: deref(u.Image),
	}
}

func userFromDB(u *store.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:            u.ID,
		Email:         u.Email,
		Name:          optional(u.Name),
		Image:         optional(u.Image),
		EmailVerified: nil,
	}
}

func sessionToDB(s Session) *store.Session {
	return &store.Session{
		ID:           s.ID,
		UserID:       s.UserID,
		SessionToken: s.SessionToken,
		Expires:      toMillis(s.Expires),
	}
}

func sessionFromDB(s *store.Session) *Session {
	if s == nil {
		return nil
	}
	return &Session{
		ID:           s.ID,
		UserID:       s.UserID,
		SessionToken: s.SessionToken,
		Expires:      fromMillis(s.Expires),
	}
}

func accountToDB(a Account) *store.Account {
	out := &store.Account{
		ID:                a.ID,
		UserID:            a.UserID,
		Type:              a.Type,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		AccessToken:       deref(a.AccessToken),
		IDToken:           deref(a.IDToken),
		Scope:             deref(a.Scope),
		TokenType:         deref(a.TokenType),
	}
	if a.ExpiresAt != nil {
		out.ExpiresAt = *a.ExpiresAt
	}
	return out
}

func accountFromDB(a *store.Account) *Account {
	if a == nil {
		return nil
	}
	out := &Account{
		ID:                a.ID,
		UserID:            a.UserID,
		Type:              a.Type,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		AccessToken:       optional(a.AccessToken),
		IDToken:           optional(a.IDToken),
		Scope:             optional(a.Scope),
		TokenType:         optional(a.TokenType),
	}
	if a.ExpiresAt != 0 {
		exp := a.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

func authenticatorToDB(a Authenticator) *store.Authenticator {
	return &store.Authenticator{
		ID:                   a.ID,
		CredentialID:         a.CredentialID,
		UserID:               a.UserID,
		ProviderAccountID:    a.ProviderAccountID,
		CredentialPublicKey:  a.CredentialPublicKey,
		Counter:              a.Counter,
		CredentialDeviceType: a.CredentialDeviceType,
		CredentialBackedUp:   a.CredentialBackedUp,
		Transports:           deref(a.Transports),
	}
}

func authenticatorFromDB(a *store.Authenticator) *Authenticator {
	if a == nil {
		return nil
	}
	return &Authenticator{
		ID:                   a.ID,
		UserID:               a.UserID,
		ProviderAccountID:    a.ProviderAccountID,
		CredentialID:         a.CredentialID,
		CredentialPublicKey:  a.CredentialPublicKey,
		Counter:              a.Counter,
		CredentialDeviceType: a.CredentialDeviceType,
		CredentialBackedUp:   a.CredentialBackedUp,
		Transports:           optional(a.Transports),
	}
}

func verificationTokenToDB(v VerificationToken) *store.VerificationToken {
	return &store.VerificationToken{
		Identifier: v.Identifier,
		Token:      v.Token,
		Expires:    toMillis(v.Expires),
	}
}

func verificationTokenFromDB(v *store.VerificationToken) *VerificationToken {
	if v == nil {
		return nil
	}
	return &VerificationToken{
		Identifier: v.Identifier,
		Token:      v.Token,
		Expires:    fromMillis(v.Expires),
	}
}
