// ABOUTME: Identity persistence: users, accounts, sessions, verification tokens, authenticators
// ABOUTME: Backs the auth adapter's storage contract with single-statement atomic operations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateUser inserts a user and assigns its ID.
// Returns ErrDuplicate if the email is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = newID()
	}

	query := `
		INSERT INTO users (id, email, name, image, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		nullString(user.Name),
		nullString(user.Image),
		nowMillis(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("creating user %q: %w", user.Email, ErrDuplicate)
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID)
	return nil
}

const userColumns = `u.id, u.email, u.name, u.image`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var name, image sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &name, &image); err != nil {
		return nil, err
	}
	u.Name = name.String
	u.Image = image.String
	return &u, nil
}

func (s *SQLiteStore) queryUser(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = ?`, id)
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = ?`, email)
}

// GetUserByAccount resolves a provider account to its user.
func (s *SQLiteStore) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM accounts a
		JOIN users u ON u.id = a.user_id
		WHERE a.provider = ? AND a.provider_account_id = ?
	`
	return s.queryUser(ctx, query, provider, providerAccountID)
}

// UpdateUser overwrites the mutable fields of a user. Empty optional fields are
// left as they are, matching a partial patch.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user *User) (*User, error) {
	query := `
		UPDATE users
		SET email = COALESCE(NULLIF(?, ''), email),
		    name = COALESCE(?, name),
		    image = COALESCE(?, image)
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		user.Email,
		nullString(user.Name),
		nullString(user.Image),
		user.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("updating user %q: %w", user.ID, ErrDuplicate)
		}
		return nil, fmt.Errorf("updating user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return s.GetUser(ctx, user.ID)
}

// DeleteUser removes a user; sessions, accounts and authenticators cascade.
// Returns the deleted user.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) (*User, error) {
	query := `DELETE FROM users WHERE id = ? RETURNING id, email, name, image`

	u, err := s.queryUser(ctx, query, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("deleted user", "id", id)
	return u, nil
}

// ListUsers returns all users ordered by email.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users u ORDER BY u.email`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// LinkAccount stores a provider account for a user.
func (s *SQLiteStore) LinkAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = newID()
	}

	query := `
		INSERT INTO accounts (id, user_id, type, provider, provider_account_id,
		                      access_token, expires_at, id_token, scope, token_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.UserID,
		account.Type,
		account.Provider,
		account.ProviderAccountID,
		nullString(account.AccessToken),
		nullInt64(account.ExpiresAt),
		nullString(account.IDToken),
		nullString(account.Scope),
		nullString(account.TokenType),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("linking %s account: %w", account.Provider, ErrDuplicate)
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Info("linked account", "user_id", account.UserID, "provider", account.Provider)
	return nil
}

const accountColumns = `id, user_id, type, provider, provider_account_id,
	access_token, expires_at, id_token, scope, token_type`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var accessToken, idToken, scope, tokenType sql.NullString
	var expiresAt sql.NullInt64
	err := row.Scan(&a.ID, &a.UserID, &a.Type, &a.Provider, &a.ProviderAccountID,
		&accessToken, &expiresAt, &idToken, &scope, &tokenType)
	if err != nil {
		return nil, err
	}
	a.AccessToken = accessToken.String
	a.ExpiresAt = expiresAt.Int64
	a.IDToken = idToken.String
	a.Scope = scope.String
	a.TokenType = tokenType.String
	return &a, nil
}

// GetAccount retrieves an account by provider and provider account ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE provider = ? AND provider_account_id = ?`

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, provider, providerAccountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

// UnlinkAccount removes an account and returns it.
func (s *SQLiteStore) UnlinkAccount(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	query := `DELETE FROM accounts WHERE provider = ? AND provider_account_id = ? RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, provider, providerAccountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deleting account: %w", err)
	}

	s.logger.Info("unlinked account", "user_id", a.UserID, "provider", provider)
	return a, nil
}

// CreateSession stores a new session and assigns its ID.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = newID()
	}

	query := `
		INSERT INTO sessions (id, user_id, session_token, expires)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, session.ID, session.UserID, session.SessionToken, session.Expires)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("creating session: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "user_id", session.UserID)
	return nil
}

// GetSessionAndUser returns a session together with its user in one read.
// A session whose user no longer exists is reported as ErrNotFound.
func (s *SQLiteStore) GetSessionAndUser(ctx context.Context, sessionToken string) (*Session, *User, error) {
	query := `
		SELECT s.id, s.user_id, s.session_token, s.expires, ` + userColumns + `
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token = ?
	`

	var sess Session
	var u User
	var name, image sql.NullString
	err := s.db.QueryRowContext(ctx, query, sessionToken).Scan(
		&sess.ID, &sess.UserID, &sess.SessionToken, &sess.Expires,
		&u.ID, &u.Email, &name, &image,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying session: %w", err)
	}
	u.Name = name.String
	u.Image = image.String

	return &sess, &u, nil
}

const sessionColumns = `id, user_id, session_token, expires`

func (s *SQLiteStore) querySession(ctx context.Context, query string, args ...any) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&sess.ID, &sess.UserID, &sess.SessionToken, &sess.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &sess, nil
}

// UpdateSession sets the expiry of the session with the given token.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionToken string, expires int64) (*Session, error) {
	query := `UPDATE sessions SET expires = ? WHERE session_token = ? RETURNING ` + sessionColumns
	return s.querySession(ctx, query, expires, sessionToken)
}

// DeleteSession removes the session with the given token and returns it.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionToken string) (*Session, error) {
	query := `DELETE FROM sessions WHERE session_token = ? RETURNING ` + sessionColumns

	sess, err := s.querySession(ctx, query, sessionToken)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("deleted session", "id", sess.ID)
	return sess, nil
}

// ListSessionsByUser returns a user's sessions, soonest expiry first.
func (s *SQLiteStore) ListSessionsByUser(ctx context.Context, userID string) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ? ORDER BY expires`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.SessionToken, &sess.Expires); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// DeleteExpiredSessions removes sessions that expired at or before now (epoch ms).
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Debug("deleted expired sessions", "count", n)
	}
	return n, nil
}

// CreateVerificationToken stores a sign-in token.
func (s *SQLiteStore) CreateVerificationToken(ctx context.Context, token *VerificationToken) error {
	query := `
		INSERT INTO verification_tokens (identifier, token, expires)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, token.Identifier, token.Token, token.Expires)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("creating verification token: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting verification token: %w", err)
	}
	return nil
}

// UseVerificationToken deletes and returns a token in a single statement, so
// a token can be redeemed at most once even under concurrent callers.
func (s *SQLiteStore) UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error) {
	query := `
		DELETE FROM verification_tokens
		WHERE identifier = ? AND token = ?
		RETURNING identifier, token, expires
	`

	var vt VerificationToken
	err := s.db.QueryRowContext(ctx, query, identifier, token).Scan(&vt.Identifier, &vt.Token, &vt.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("using verification token: %w", err)
	}

	s.logger.Debug("used verification token", "identifier", identifier)
	return &vt, nil
}

// CreateAuthenticator stores a WebAuthn credential and assigns its ID.
func (s *SQLiteStore) CreateAuthenticator(ctx context.Context, a *Authenticator) error {
	if a.ID == "" {
		a.ID = newID()
	}

	query := `
		INSERT INTO authenticators (id, credential_id, user_id, provider_account_id,
		                            credential_public_key, counter, credential_device_type,
		                            credential_backed_up, transports)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.CredentialID,
		a.UserID,
		a.ProviderAccountID,
		a.CredentialPublicKey,
		a.Counter,
		a.CredentialDeviceType,
		boolToInt(a.CredentialBackedUp),
		nullString(a.Transports),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("creating authenticator: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting authenticator: %w", err)
	}

	s.logger.Info("created authenticator", "id", a.ID, "user_id", a.UserID)
	return nil
}

const authenticatorColumns = `id, credential_id, user_id, provider_account_id, credential_public_key,
	counter, credential_device_type, credential_backed_up, transports`

func scanAuthenticator(row interface{ Scan(...any) error }) (*Authenticator, error) {
	var a Authenticator
	var backedUp int
	var transports sql.NullString
	err := row.Scan(&a.ID, &a.CredentialID, &a.UserID, &a.ProviderAccountID, &a.CredentialPublicKey,
		&a.Counter, &a.CredentialDeviceType, &backedUp, &transports)
	if err != nil {
		return nil, err
	}
	a.CredentialBackedUp = backedUp != 0
	a.Transports = transports.String
	return &a, nil
}

// GetAuthenticator retrieves an authenticator by credential ID.
func (s *SQLiteStore) GetAuthenticator(ctx context.Context, credentialID string) (*Authenticator, error) {
	query := `SELECT ` + authenticatorColumns + ` FROM authenticators WHERE credential_id = ?`

	a, err := scanAuthenticator(s.db.QueryRowContext(ctx, query, credentialID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying authenticator: %w", err)
	}
	return a, nil
}

// ListAuthenticatorsByUserID returns all authenticators registered to a user.
func (s *SQLiteStore) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*Authenticator, error) {
	query := `SELECT ` + authenticatorColumns + ` FROM authenticators WHERE user_id = ? ORDER BY credential_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying authenticators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var authenticators []*Authenticator
	for rows.Next() {
		a, err := scanAuthenticator(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning authenticator: %w", err)
		}
		authenticators = append(authenticators, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating authenticator rows: %w", err)
	}
	return authenticators, nil
}

// UpdateAuthenticatorCounter stores a new signature counter. The update only
// applies when counter is strictly greater than the stored value; otherwise
// ErrCounterNotIncreasing is returned so replayed assertions are rejected.
func (s *SQLiteStore) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*Authenticator, error) {
	query := `
		UPDATE authenticators SET counter = ?
		WHERE credential_id = ? AND counter < ?
		RETURNING ` + authenticatorColumns

	a, err := scanAuthenticator(s.db.QueryRowContext(ctx, query, counter, credentialID, counter))
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing credential from a stale counter.
		if _, getErr := s.GetAuthenticator(ctx, credentialID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrCounterNotIncreasing
	}
	if err != nil {
		return nil, fmt.Errorf("updating authenticator counter: %w", err)
	}
	return a, nil
}
