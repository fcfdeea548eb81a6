// ABOUTME: Passkey registration and discoverable login using go-webauthn
// ABOUTME: Challenge state rides in a signed ceremony token instead of server memory

package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/todovex/internal/auth"
	"github.com/2389/todovex/internal/authadapter"
)

// ceremonyTTL bounds how long a begun ceremony can be finished.
const ceremonyTTL = 5 * time.Minute

// passkeyProvider is the provider name recorded on passkey accounts.
const passkeyProvider = "passkey"

// deriveWebAuthnConfig extracts rpID and rpOrigins from a base URL.
// Returns defaults if URL is empty or invalid.
func deriveWebAuthnConfig(baseURL string) (rpID string, rpOrigins []string) {
	rpID = "localhost"
	rpOrigins = []string{"http://localhost", "https://localhost"}

	if baseURL == "" {
		return rpID, rpOrigins
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return rpID, rpOrigins
	}

	host := parsed.Hostname()
	if host == "" {
		return rpID, rpOrigins
	}

	rpID = host
	rpOrigins = []string{parsed.Scheme + "://" + parsed.Host}
	if parsed.Scheme == "https" {
		rpOrigins = append(rpOrigins, "http://"+parsed.Host)
	} else {
		rpOrigins = append(rpOrigins, "https://"+parsed.Host)
	}
	return rpID, rpOrigins
}

// NewWebAuthn builds the relying party for baseURL.
func NewWebAuthn(baseURL string) (*webauthn.WebAuthn, error) {
	rpID, rpOrigins := deriveWebAuthnConfig(baseURL)
	return webauthn.New(&webauthn.Config{
		RPDisplayName: "todovex",
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
}

// ceremonyRequest is the body of both finish endpoints.
type ceremonyRequest struct {
	CeremonyToken string          `json:"ceremonyToken"`
	Response      json.RawMessage `json:"response"`
}

func parseCeremonyRequest(r *http.Request) (*ceremonyRequest, error) {
	var req ceremonyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.CeremonyToken == "" || len(req.Response) == 0 {
		return nil, errors.New("ceremonyToken and response are required")
	}
	return &req, nil
}

func (a *API) signCeremony(subject string, session *webauthn.SessionData) (string, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return "", err
	}
	return a.ceremonies.Sign(subject, data)
}

// openCeremony verifies the token and returns the session it carries along
// with the subject it was issued to.
func (a *API) openCeremony(token string) (string, *webauthn.SessionData, error) {
	subject, data, err := a.ceremonies.Verify(token)
	if err != nil {
		return "", nil, err
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return "", nil, err
	}
	return subject, &session, nil
}

// webAuthnUser loads a user and all their authenticators.
func (a *API) webAuthnUser(ctx context.Context, userID string) (*authadapter.WebAuthnUser, error) {
	user, err := a.identity.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnknownUser
	}
	auths, err := a.identity.ListAuthenticatorsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return authadapter.NewWebAuthnUser(user, auths)
}

var errUnknownUser = errors.New("unknown user")

func (a *API) passkeysEnabled(w http.ResponseWriter) bool {
	if a.webauthn == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "passkeys are not configured")
		return false
	}
	return true
}

// handlePasskeyRegisterBegin handles POST /api/passkeys/register/begin.
func (a *API) handlePasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if !a.passkeysEnabled(w) {
		return
	}
	ac := auth.MustFromContext(r.Context())

	waUser, err := a.webAuthnUser(r.Context(), ac.UserID)
	if err != nil {
		a.logger.Error("failed to load passkey user", "user_id", ac.UserID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to start registration")
		return
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(waUser.WebAuthnCredentials()))
	for _, c := range waUser.WebAuthnCredentials() {
		exclusions = append(exclusions, c.Descriptor())
	}
	options, session, err := a.webauthn.BeginRegistration(waUser,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		a.logger.Error("failed to begin registration", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to start registration")
		return
	}

	token, err := a.signCeremony(ac.UserID, session)
	if err != nil {
		a.logger.Error("failed to sign ceremony", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to start registration")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Options       *protocol.CredentialCreation `json:"options"`
		CeremonyToken string                       `json:"ceremonyToken"`
	}{
		Options:       options,
		CeremonyToken: token,
	})
}

// handlePasskeyRegisterFinish handles POST /api/passkeys/register/finish.
func (a *API) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if !a.passkeysEnabled(w) {
		return
	}
	ac := auth.MustFromContext(r.Context())

	req, err := parseCeremonyRequest(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	subject, session, err := a.openCeremony(req.CeremonyToken)
	if err != nil || subject != ac.UserID {
		sendJSONError(w, http.StatusBadRequest, "invalid or expired ceremony")
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		a.logger.Warn("failed to parse registration response", "error", err)
		sendJSONError(w, http.StatusBadRequest, "invalid response")
		return
	}

	waUser, err := a.webAuthnUser(r.Context(), ac.UserID)
	if err != nil {
		a.logger.Error("failed to load passkey user", "user_id", ac.UserID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to verify credential")
		return
	}

	credential, err := a.webauthn.CreateCredential(waUser, *session, parsed)
	if err != nil {
		a.logger.Warn("failed to create credential", "error", err)
		sendJSONError(w, http.StatusBadRequest, "failed to verify credential")
		return
	}

	stored, err := a.identity.CreateAuthenticator(r.Context(), authadapter.AuthenticatorFromCredential(ac.UserID, credential))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	err = a.identity.LinkAccount(r.Context(), authadapter.Account{
		UserID:            ac.UserID,
		Type:              authadapter.AccountWebAuthn,
		Provider:          passkeyProvider,
		ProviderAccountID: stored.CredentialID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.logger.Info("passkey registered", "user_id", ac.UserID, "credential_id", stored.CredentialID)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "credentialId": stored.CredentialID})
}

// handlePasskeyLoginBegin handles POST /api/passkeys/login/begin.
func (a *API) handlePasskeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	if !a.passkeysEnabled(w) {
		return
	}

	// Discoverable credentials identify the user, so nothing is asked up front.
	options, session, err := a.webauthn.BeginDiscoverableLogin()
	if err != nil {
		a.logger.Error("failed to begin login", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	token, err := a.signCeremony("", session)
	if err != nil {
		a.logger.Error("failed to sign ceremony", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Options       *protocol.CredentialAssertion `json:"options"`
		CeremonyToken string                        `json:"ceremonyToken"`
	}{
		Options:       options,
		CeremonyToken: token,
	})
}

// makeCredentialFinder resolves the discoverable user, rejecting a user
// handle that does not belong to the stored credential's owner.
func makeCredentialFinder(waUser *authadapter.WebAuthnUser) webauthn.DiscoverableUserHandler {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && !bytes.Equal(userHandle, waUser.WebAuthnID()) {
			return nil, errors.New("user handle mismatch")
		}
		return waUser, nil
	}
}

// handlePasskeyLoginFinish handles POST /api/passkeys/login/finish.
func (a *API) handlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	if !a.passkeysEnabled(w) {
		return
	}

	req, err := parseCeremonyRequest(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	_, session, err := a.openCeremony(req.CeremonyToken)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid or expired ceremony")
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		a.logger.Warn("failed to parse login response", "error", err)
		sendJSONError(w, http.StatusBadRequest, "invalid response")
		return
	}

	ctx := r.Context()
	credID := base64.RawURLEncoding.EncodeToString(parsed.RawID)
	stored, err := a.identity.GetAuthenticator(ctx, credID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if stored == nil {
		sendJSONError(w, http.StatusUnauthorized, "unknown credential")
		return
	}

	waUser, err := a.webAuthnUser(ctx, stored.UserID)
	if err != nil {
		a.logger.Error("failed to load passkey user", "user_id", stored.UserID, "error", err)
		sendJSONError(w, http.StatusUnauthorized, "unknown credential")
		return
	}

	credential, err := a.webauthn.ValidateDiscoverableLogin(makeCredentialFinder(waUser), *session, parsed)
	if err != nil {
		a.logger.Warn("failed to validate login", "user_id", stored.UserID, "error", err)
		sendJSONError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	// Authenticators without counter support always report zero.
	if count := int64(credential.Authenticator.SignCount); count > 0 {
		if _, err := a.identity.UpdateAuthenticatorCounter(ctx, credID, count); err != nil {
			a.logger.Warn("rejected authenticator counter", "credential_id", credID, "counter", count, "error", err)
			sendJSONError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
	}

	sess, err := a.startSession(ctx, stored.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	auth.SetSessionCookie(w, a.sessions, sess.SessionToken, sess.Expires)

	a.logger.Info("passkey login", "user_id", stored.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         waUser.User(),
		"sessionToken": sess.SessionToken,
		"expires":      sess.Expires,
	})
}
