// ABOUTME: Auth adapter mapping identity framework operations onto backend functions
// ABOUTME: Missing documents come back as nil results and never as errors

package authadapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/backend"
	"github.com/2389/todovex/internal/store"
)

// DefaultSessionExtension is applied by UpdateSession when the caller does
// not supply an expiry.
const DefaultSessionExtension = 24 * time.Hour

// Caller runs named backend functions. *backend.Client satisfies it and
// injects the adapter secret into every call.
type Caller interface {
	Query(ctx context.Context, path string, args, out any) (bool, error)
	Mutation(ctx context.Context, path string, args, out any) (bool, error)
}

// Adapter implements the identity framework contract. Each method makes a
// single backend round trip and performs no retries.
type Adapter struct {
	caller Caller
	now    func() time.Time
	logger *slog.Logger
}

// New returns an adapter over caller.
func New(caller Caller, logger *slog.Logger) (*Adapter, error) {
	if caller == nil {
		return nil, apperr.New(apperr.Configuration, "authadapter.New", "backend caller is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		caller: caller,
		now:    time.Now,
		logger: logger.With("component", "authadapter"),
	}, nil
}

// CreateUser stores user and returns it with the assigned ID.
func (a *Adapter) CreateUser(ctx context.Context, user User) (*User, error) {
	db := userToDB(user)
	db.ID = ""
	var id string
	if _, err := a.caller.Mutation(ctx, backend.FnCreateUser, map[string]any{"user": db}, &id); err != nil {
		return nil, err
	}
	user.ID = id
	return &user, nil
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*User, error) {
	return a.lookupUser(ctx, backend.FnGetUser, map[string]any{"id": id})
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return a.lookupUser(ctx, backend.FnGetUserByEmail, map[string]any{"email": email})
}

func (a *Adapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error) {
	return a.lookupUser(ctx, backend.FnGetUserByAccount, map[string]any{
		"provider":          provider,
		"providerAccountId": providerAccountID,
	})
}

func (a *Adapter) lookupUser(ctx context.Context, path string, args map[string]any) (*User, error) {
	var u store.User
	found, err := a.caller.Query(ctx, path, args, &u)
	if err != nil || !found {
		return nil, err
	}
	return userFromDB(&u), nil
}

// UpdateUser writes user and returns it as given, without reading back.
func (a *Adapter) UpdateUser(ctx context.Context, user User) (*User, error) {
	if _, err := a.caller.Mutation(ctx, backend.FnUpdateUser, map[string]any{"user": userToDB(user)}, nil); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user and everything they own. It returns the deleted
// user, or nil when there was nothing to delete.
func (a *Adapter) DeleteUser(ctx context.Context, id string) (*User, error) {
	var u store.User
	found, err := a.caller.Mutation(ctx, backend.FnDeleteUser, map[string]any{"id": id}, &u)
	if err != nil || !found {
		return nil, err
	}
	return userFromDB(&u), nil
}

func (a *Adapter) LinkAccount(ctx context.Context, account Account) error {
	db := accountToDB(account)
	db.ID = ""
	_, err := a.caller.Mutation(ctx, backend.FnLinkAccount, map[string]any{"account": db}, nil)
	return err
}

// UnlinkAccount is a no-op when the account does not exist.
func (a *Adapter) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	_, err := a.caller.Mutation(ctx, backend.FnUnlinkAccount, map[string]any{
		"provider":          provider,
		"providerAccountId": providerAccountID,
	}, nil)
	return err
}

func (a *Adapter) GetAccount(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	var acct store.Account
	found, err := a.caller.Query(ctx, backend.FnGetAccount, map[string]any{
		"provider":          provider,
		"providerAccountId": providerAccountID,
	}, &acct)
	if err != nil || !found {
		return nil, err
	}
	return accountFromDB(&acct), nil
}

// CreateSession stores session and returns it with the assigned ID.
func (a *Adapter) CreateSession(ctx context.Context, session Session) (*Session, error) {
	db := sessionToDB(session)
	db.ID = ""
	var id string
	if _, err := a.caller.Mutation(ctx, backend.FnCreateSession, map[string]any{"session": db}, &id); err != nil {
		return nil, err
	}
	session.ID = id
	return &session, nil
}

// GetSessionAndUser returns the session with its owner, or nil when either
// half is missing.
func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*SessionAndUser, error) {
	var res backend.SessionAndUser
	found, err := a.caller.Query(ctx, backend.FnGetSessionAndUser, map[string]any{"sessionToken": sessionToken}, &res)
	if err != nil || !found {
		return nil, err
	}
	if res.Session == nil || res.User == nil {
		a.logger.Warn("session without resolvable user", "session_id", sessionIDOf(res.Session))
		return nil, nil
	}
	return &SessionAndUser{
		Session: sessionFromDB(res.Session),
		User:    userFromDB(res.User),
	}, nil
}

func sessionIDOf(s *store.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}

// UpdateSession moves a session's expiry. Without an explicit expiry the
// new one is 24 hours from now. It returns nil when the session is gone.
func (a *Adapter) UpdateSession(ctx context.Context, update SessionUpdate) (*Session, error) {
	expires := a.now().Add(DefaultSessionExtension)
	if update.Expires != nil {
		expires = *update.Expires
	}
	var s store.Session
	found, err := a.caller.Mutation(ctx, backend.FnUpdateSession, map[string]any{
		"session": map[string]any{
			"sessionToken": update.SessionToken,
			"expires":      toMillis(expires),
		},
	}, &s)
	if err != nil || !found {
		return nil, err
	}
	return sessionFromDB(&s), nil
}

// DeleteSession is a no-op returning nil when the session does not exist.
func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) (*Session, error) {
	var s store.Session
	found, err := a.caller.Mutation(ctx, backend.FnDeleteSession, map[string]any{"sessionToken": sessionToken}, &s)
	if err != nil || !found {
		return nil, err
	}
	return sessionFromDB(&s), nil
}

// ListSessions returns a user's sessions, soonest expiry first.
func (a *Adapter) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	var rows []*store.Session
	if _, err := a.caller.Query(ctx, backend.FnListSessionsByUserID, map[string]any{"userId": userID}, &rows); err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(rows))
	for _, s := range rows {
		out = append(out, sessionFromDB(s))
	}
	return out, nil
}

// PurgeExpiredSessions deletes sessions whose expiry has passed.
func (a *Adapter) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	var n int64
	_, err := a.caller.Mutation(ctx, backend.FnDeleteExpiredSessions, map[string]any{"now": toMillis(a.now())}, &n)
	return n, err
}

func (a *Adapter) CreateVerificationToken(ctx context.Context, token VerificationToken) (*VerificationToken, error) {
	if _, err := a.caller.Mutation(ctx, backend.FnCreateVerificationToken, map[string]any{
		"verificationToken": verificationTokenToDB(token),
	}, nil); err != nil {
		return nil, err
	}
	return &token, nil
}

// UseVerificationToken consumes a token. Only the first call for a given
// pair gets it back; later calls return nil.
func (a *Adapter) UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error) {
	var v store.VerificationToken
	found, err := a.caller.Mutation(ctx, backend.FnUseVerificationToken, map[string]any{
		"identifier": identifier,
		"token":      token,
	}, &v)
	if err != nil || !found {
		return nil, err
	}
	return verificationTokenFromDB(&v), nil
}

func (a *Adapter) CreateAuthenticator(ctx context.Context, auth Authenticator) (*Authenticator, error) {
	db := authenticatorToDB(auth)
	db.ID = ""
	var id string
	if _, err := a.caller.Mutation(ctx, backend.FnCreateAuthenticator, map[string]any{"authenticator": db}, &id); err != nil {
		return nil, err
	}
	auth.ID = id
	return &auth, nil
}

func (a *Adapter) GetAuthenticator(ctx context.Context, credentialID string) (*Authenticator, error) {
	var row store.Authenticator
	found, err := a.caller.Query(ctx, backend.FnGetAuthenticator, map[string]any{"credentialID": credentialID}, &row)
	if err != nil || !found {
		return nil, err
	}
	return authenticatorFromDB(&row), nil
}

func (a *Adapter) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*Authenticator, error) {
	var rows []*store.Authenticator
	if _, err := a.caller.Query(ctx, backend.FnListAuthenticatorsByUserID, map[string]any{"userId": userID}, &rows); err != nil {
		return nil, err
	}
	out := make([]*Authenticator, 0, len(rows))
	for _, row := range rows {
		out = append(out, authenticatorFromDB(row))
	}
	return out, nil
}

// UpdateAuthenticatorCounter records a new signature counter. The store
// rejects values that do not strictly increase, surfacing
// store.ErrCounterNotIncreasing.
func (a *Adapter) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, newCounter int64) (*Authenticator, error) {
	var row store.Authenticator
	found, err := a.caller.Mutation(ctx, backend.FnUpdateAuthenticatorCounter, map[string]any{
		"credentialID": credentialID,
		"newCounter":   newCounter,
	}, &row)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("authenticator %s: %w", credentialID, store.ErrNotFound)
	}
	return authenticatorFromDB(&row), nil
}
