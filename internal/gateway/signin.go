// ABOUTME: Email sign-in flow and sign-out on top of the auth adapter
// ABOUTME: Verification tokens are stored hashed; the raw token only travels in the link

package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/auth"
	"github.com/2389/todovex/internal/authadapter"
)

// emailProvider is the provider name recorded on email accounts.
const emailProvider = "email"

// VerificationSender delivers a sign-in link.
type VerificationSender interface {
	SendVerification(ctx context.Context, email, link string) error
}

// logMailer writes the link to the log. Used when no delivery is configured.
type logMailer struct {
	logger *slog.Logger
}

func (m logMailer) SendVerification(ctx context.Context, email, link string) error {
	m.logger.Info("sign-in link issued", "email", email, "link", link)
	return nil
}

// hashToken is what gets stored for a verification token.
func (a *API) hashToken(token string) string {
	sum := sha256.Sum256([]byte(token + a.tokenSecret))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(raw string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

// handleEmailSignIn handles POST /api/auth/signin/email.
func (a *API) handleEmailSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		sendJSONError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	if a.recentSignIns != nil && a.recentSignIns.CheckAndMark(email) {
		sendJSONError(w, http.StatusTooManyRequests, "a sign-in link was sent recently, check your inbox")
		return
	}
	if err := a.sendSignInLink(r.Context(), email); err != nil {
		if a.recentSignIns != nil {
			a.recentSignIns.Forget(email)
		}
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// sendSignInLink stores a fresh verification token and mails its link.
func (a *API) sendSignInLink(ctx context.Context, email string) error {
	token, err := auth.NewOpaqueToken(32)
	if err != nil {
		return err
	}
	_, err = a.identity.CreateVerificationToken(ctx, authadapter.VerificationToken{
		Identifier: email,
		Token:      a.hashToken(token),
		Expires:    a.now().Add(a.verificationTTL),
	})
	if err != nil {
		return err
	}

	q := url.Values{"email": {email}, "token": {token}}
	link := a.baseURL + "/api/auth/callback/email?" + q.Encode()
	if err := a.mailer.SendVerification(ctx, email, link); err != nil {
		return &apperr.Error{Kind: apperr.Upstream, Op: "gateway.sendSignInLink", Msg: "could not send sign-in link", Err: err}
	}
	return nil
}

// handleEmailCallback handles GET /api/auth/callback/email.
func (a *API) handleEmailCallback(w http.ResponseWriter, r *http.Request) {
	email, ok := normalizeEmail(r.URL.Query().Get("email"))
	token := r.URL.Query().Get("token")
	if !ok || token == "" {
		sendJSONError(w, http.StatusBadRequest, "email and token are required")
		return
	}

	ctx := r.Context()
	vt, err := a.identity.UseVerificationToken(ctx, email, a.hashToken(token))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// The token is consumed either way; an expired one cannot be retried.
	if vt == nil || !vt.Expires.After(a.now()) {
		sendJSONError(w, http.StatusUnauthorized, "invalid or expired sign-in link")
		return
	}

	user, err := a.emailUser(ctx, email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	session, err := a.startSession(ctx, user.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	auth.SetSessionCookie(w, a.sessions, session.SessionToken, session.Expires)
	a.logger.Info("email sign-in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         user,
		"sessionToken": session.SessionToken,
		"expires":      session.Expires,
	})
}

// emailUser finds the user behind an email account, linking or creating
// one on first sign-in.
func (a *API) emailUser(ctx context.Context, email string) (*authadapter.User, error) {
	user, err := a.identity.GetUserByAccount(ctx, emailProvider, email)
	if err != nil || user != nil {
		return user, err
	}

	user, err = a.identity.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		verified := a.now().UTC()
		user, err = a.identity.CreateUser(ctx, authadapter.User{Email: email, EmailVerified: &verified})
		if err != nil {
			return nil, err
		}
		a.logger.Info("user created", "user_id", user.ID)
	}

	err = a.identity.LinkAccount(ctx, authadapter.Account{
		UserID:            user.ID,
		Type:              authadapter.AccountEmail,
		Provider:          emailProvider,
		ProviderAccountID: email,
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// startSession issues a fresh database session for userID.
func (a *API) startSession(ctx context.Context, userID string) (*authadapter.Session, error) {
	token, err := auth.NewOpaqueToken(32)
	if err != nil {
		return nil, err
	}
	return a.identity.CreateSession(ctx, authadapter.Session{
		UserID:       userID,
		SessionToken: token,
		Expires:      a.now().Add(a.sessions.MaxAge),
	})
}

// handleSignOut handles POST /api/auth/signout.
func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	if _, err := a.identity.DeleteSession(r.Context(), ac.SessionToken); err != nil {
		a.writeError(w, r, err)
		return
	}
	auth.ClearSessionCookie(w, a.sessions)
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}
