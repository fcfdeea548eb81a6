// ABOUTME: HTTP middleware for database-session authentication on API endpoints
// ABOUTME: Reads the session cookie or bearer token, checks expiry and slides it forward

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/todovex/internal/authadapter"
)

// Session cookie names. The secure variant is used over HTTPS.
const (
	SessionCookie       = "authjs.session-token"
	SecureSessionCookie = "__Secure-authjs.session-token"
)

// SessionResolver is the slice of the auth adapter the middleware needs.
type SessionResolver interface {
	GetSessionAndUser(ctx context.Context, sessionToken string) (*authadapter.SessionAndUser, error)
	UpdateSession(ctx context.Context, update authadapter.SessionUpdate) (*authadapter.Session, error)
	DeleteSession(ctx context.Context, sessionToken string) (*authadapter.Session, error)
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	// MaxAge is how long a session lives after its last extension.
	MaxAge time.Duration
	// UpdateAge is how often an active session's expiry is pushed forward.
	UpdateAge time.Duration
	// Secure selects the __Secure- cookie and sets the Secure flag.
	Secure bool
	Now    func() time.Time
}

func (c SessionConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c SessionConfig) cookieName() string {
	if c.Secure {
		return SecureSessionCookie
	}
	return SessionCookie
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// sessionToken prefers the Authorization header, then either cookie name.
// fromCookie reports whether the cookie supplied it.
func sessionToken(r *http.Request) (token string, fromCookie bool) {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token, false
	}
	for _, name := range []string{SecureSessionCookie, SessionCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// SetSessionCookie writes the session cookie.
func SetSessionCookie(w http.ResponseWriter, cfg SessionConfig, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(w http.ResponseWriter, cfg SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	http.Error(w, `{"error":"`+msg+`"}`, status)
}

// SessionMiddleware resolves the request's session and adds AuthContext to
// the request context. Requests without a live session get 401.
func SessionMiddleware(sessions SessionResolver, cfg SessionConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := sessionToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := r.Context()
			found, err := sessions.GetSessionAndUser(ctx, token)
			if err != nil {
				logger.Error("session lookup failed", "error", err)
				writeAuthError(w, http.StatusInternalServerError, "session lookup failed")
				return
			}
			if found == nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid session")
				return
			}

			now := cfg.now()
			session := found.Session
			if !session.Expires.After(now) {
				if _, err := sessions.DeleteSession(ctx, token); err != nil {
					logger.Warn("failed to delete expired session", "error", err)
				}
				if fromCookie {
					ClearSessionCookie(w, cfg)
				}
				writeAuthError(w, http.StatusUnauthorized, "session expired")
				return
			}

			// Extend once UpdateAge has passed since the expiry was last set.
			if cfg.MaxAge > 0 && now.After(session.Expires.Add(-cfg.MaxAge).Add(cfg.UpdateAge)) {
				newExpiry := now.Add(cfg.MaxAge)
				updated, err := sessions.UpdateSession(ctx, authadapter.SessionUpdate{SessionToken: token, Expires: &newExpiry})
				if err != nil {
					logger.Warn("failed to extend session", "user_id", session.UserID, "error", err)
				} else if updated != nil {
					session = updated
					if fromCookie {
						SetSessionCookie(w, cfg, token, session.Expires)
					}
				}
			}

			authCtx := &AuthContext{
				UserID:         found.User.ID,
				Email:          found.User.Email,
				SessionToken:   token,
				SessionExpires: session.Expires,
			}
			if found.User.Name != nil {
				authCtx.Name = *found.User.Name
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(ctx, authCtx)))
		})
	}
}
