// ABOUTME: HTTP API handlers for projects, labels, todos, search and AI suggestions
// ABOUTME: Every route here runs behind the session middleware and talks to the backend surface

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/auth"
	"github.com/2389/todovex/internal/authadapter"
	"github.com/2389/todovex/internal/backend"
	"github.com/2389/todovex/internal/dedupe"
	"github.com/2389/todovex/internal/store"
	"github.com/2389/todovex/internal/suggest"
)

// defaultSearchLimit caps hits per collection for GET /api/search.
const defaultSearchLimit = 10

const maxTrackedSignIns = 10000

// APIConfig wires the HTTP API.
type APIConfig struct {
	Identity *authadapter.Adapter
	Tasks    *backend.TaskClient
	Suggest  *suggest.Pipeline
	// Embedder vectorizes manually created todos and search queries.
	Embedder suggest.Embedder

	Sessions        auth.SessionConfig
	VerificationTTL time.Duration
	// TokenSecret salts verification tokens before they are stored.
	TokenSecret string
	Mailer      VerificationSender
	// BaseURL prefixes links in verification messages.
	BaseURL string
	// SignInThrottle is how long one address waits between sign-in links.
	// Zero disables the throttle.
	SignInThrottle time.Duration

	// WebAuthn is nil when passkeys are disabled.
	WebAuthn   *webauthn.WebAuthn
	Ceremonies *auth.CeremonySigner

	Logger *slog.Logger
}

// API serves the todovex app endpoints.
type API struct {
	identity *authadapter.Adapter
	tasks    *backend.TaskClient
	suggest  *suggest.Pipeline
	embedder suggest.Embedder

	sessions        auth.SessionConfig
	verificationTTL time.Duration
	tokenSecret     string
	mailer          VerificationSender
	baseURL         string
	recentSignIns   *dedupe.Window

	webauthn   *webauthn.WebAuthn
	ceremonies *auth.CeremonySigner

	md     goldmark.Markdown
	now    func() time.Time
	logger *slog.Logger
}

// NewAPI checks that the required collaborators are present.
func NewAPI(cfg APIConfig) (*API, error) {
	const op = "gateway.NewAPI"
	switch {
	case cfg.Identity == nil:
		return nil, apperr.New(apperr.Configuration, op, "identity adapter is required")
	case cfg.Tasks == nil:
		return nil, apperr.New(apperr.Configuration, op, "task client is required")
	case cfg.Suggest == nil:
		return nil, apperr.New(apperr.Configuration, op, "suggestion pipeline is required")
	case cfg.Embedder == nil:
		return nil, apperr.New(apperr.Configuration, op, "embedder is required")
	case cfg.TokenSecret == "":
		return nil, apperr.New(apperr.Configuration, op, "token secret is required")
	case cfg.WebAuthn != nil && cfg.Ceremonies == nil:
		return nil, apperr.New(apperr.Configuration, op, "passkeys need a ceremony signer")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	a := &API{
		identity:        cfg.Identity,
		tasks:           cfg.Tasks,
		suggest:         cfg.Suggest,
		embedder:        cfg.Embedder,
		sessions:        cfg.Sessions,
		verificationTTL: cfg.VerificationTTL,
		tokenSecret:     cfg.TokenSecret,
		mailer:          cfg.Mailer,
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		webauthn:        cfg.WebAuthn,
		ceremonies:      cfg.Ceremonies,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		now:    time.Now,
		logger: logger,
	}
	if a.sessions.MaxAge <= 0 {
		a.sessions.MaxAge = 30 * 24 * time.Hour
	}
	if a.verificationTTL <= 0 {
		a.verificationTTL = 24 * time.Hour
	}
	if a.mailer == nil {
		a.mailer = logMailer{logger: logger}
	}
	if cfg.SignInThrottle > 0 {
		a.recentSignIns = dedupe.New(cfg.SignInThrottle, maxTrackedSignIns)
	}
	return a, nil
}

// RegisterRoutes adds the API routes to mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	authed := auth.SessionMiddleware(a.identity, a.sessions, a.logger)
	protect := func(h http.HandlerFunc) http.Handler { return authed(h) }

	// Sign-in
	mux.HandleFunc("POST /api/auth/signin/email", a.handleEmailSignIn)
	mux.HandleFunc("GET /api/auth/callback/email", a.handleEmailCallback)
	mux.Handle("POST /api/auth/signout", protect(a.handleSignOut))

	// Passkeys
	mux.Handle("POST /api/passkeys/register/begin", protect(a.handlePasskeyRegisterBegin))
	mux.Handle("POST /api/passkeys/register/finish", protect(a.handlePasskeyRegisterFinish))
	mux.HandleFunc("POST /api/passkeys/login/begin", a.handlePasskeyLoginBegin)
	mux.HandleFunc("POST /api/passkeys/login/finish", a.handlePasskeyLoginFinish)

	// Account
	mux.Handle("GET /api/me", protect(a.handleMe))
	mux.Handle("GET /api/me/passkeys", protect(a.handleListPasskeys))
	mux.Handle("GET /api/me/sessions", protect(a.handleListSessions))

	// Tasks
	mux.Handle("GET /api/projects", protect(a.handleListProjects))
	mux.Handle("POST /api/projects", protect(a.handleCreateProject))
	mux.Handle("GET /api/projects/{id}/todos", protect(a.handleProjectTodos))
	mux.Handle("POST /api/projects/{id}/suggestions", protect(a.handleSuggestTodos))
	mux.Handle("GET /api/labels", protect(a.handleListLabels))
	mux.Handle("POST /api/labels", protect(a.handleCreateLabel))
	mux.Handle("GET /api/todos", protect(a.handleListTodos))
	mux.Handle("POST /api/todos", protect(a.handleCreateTodo))
	mux.Handle("POST /api/todos/{id}/check", protect(a.handleCheckTodo))
	mux.Handle("POST /api/todos/{id}/uncheck", protect(a.handleUncheckTodo))
	mux.Handle("DELETE /api/todos/{id}", protect(a.handleDeleteTodo))
	mux.Handle("GET /api/todos/{id}/subtodos", protect(a.handleListSubTodos))
	mux.Handle("POST /api/todos/{id}/subtodos", protect(a.handleCreateSubTodo))
	mux.Handle("POST /api/todos/{id}/suggestions", protect(a.handleSuggestSubTodos))
	mux.Handle("GET /api/search", protect(a.handleSearch))
}

// TodoResponse is the JSON shape of a todo or sub-todo. Embeddings are not
// exposed.
type TodoResponse struct {
	ID              string   `json:"id"`
	ProjectID       string   `json:"projectId"`
	LabelID         string   `json:"labelId"`
	ParentID        string   `json:"parentId,omitempty"`
	TaskName        string   `json:"taskName"`
	Description     string   `json:"description,omitempty"`
	DescriptionHTML string   `json:"description_html,omitempty"`
	DueDate         int64    `json:"dueDate"`
	Priority        *float64 `json:"priority,omitempty"`
	IsCompleted     bool     `json:"isCompleted"`
	CreatedAt       int64    `json:"createdAt"`
	Score           *float64 `json:"score,omitempty"`
}

// CreateTodoRequest is the JSON body for POST /api/todos and
// POST /api/todos/{id}/subtodos. ProjectID is ignored for sub-todos.
type CreateTodoRequest struct {
	ProjectID   string   `json:"projectId"`
	LabelID     string   `json:"labelId"`
	TaskName    string   `json:"taskName"`
	Description string   `json:"description"`
	DueDate     int64    `json:"dueDate"`
	Priority    *float64 `json:"priority"`
}

// SearchResponse is the JSON response for GET /api/search.
type SearchResponse struct {
	Todos    []TodoResponse `json:"todos"`
	SubTodos []TodoResponse `json:"subTodos"`
}

func (a *API) renderDescription(md string) string {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := a.md.Convert([]byte(md), &buf); err != nil {
		a.logger.Warn("failed to render description", "error", err)
		return ""
	}
	return buf.String()
}

func (a *API) todoResponse(t *store.Todo) TodoResponse {
	return TodoResponse{
		ID:              t.ID,
		ProjectID:       t.ProjectID,
		LabelID:         t.LabelID,
		TaskName:        t.TaskName,
		Description:     t.Description,
		DescriptionHTML: a.renderDescription(t.Description),
		DueDate:         t.DueDate,
		Priority:        t.Priority,
		IsCompleted:     t.IsCompleted,
		CreatedAt:       t.CreationTime,
	}
}

func (a *API) subTodoResponse(s *store.SubTodo) TodoResponse {
	r := a.todoResponse(&s.Todo)
	r.ParentID = s.ParentID
	return r
}

func (a *API) scoredResponses(hits []*store.ScoredTodo) []TodoResponse {
	out := make([]TodoResponse, 0, len(hits))
	for _, h := range hits {
		r := a.todoResponse(&h.Todo)
		r.ParentID = h.ParentID
		score := h.Score
		r.Score = &score
		out = append(out, r)
	}
	return out
}

// handleMe handles GET /api/me.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	user, err := a.identity.GetUser(r.Context(), ac.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if user == nil {
		sendJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":           user,
		"sessionExpires": ac.SessionExpires,
	})
}

// PasskeyResponse describes a registered passkey without its key material.
type PasskeyResponse struct {
	CredentialID string   `json:"credentialId"`
	DeviceType   string   `json:"deviceType"`
	BackedUp     bool     `json:"backedUp"`
	Transports   []string `json:"transports"`
	Counter      int64    `json:"counter"`
}

// handleListPasskeys handles GET /api/me/passkeys.
func (a *API) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	auths, err := a.identity.ListAuthenticatorsByUserID(r.Context(), ac.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]PasskeyResponse, 0, len(auths))
	for _, au := range auths {
		transports := []string{}
		for _, t := range au.TransportList() {
			transports = append(transports, string(t))
		}
		out = append(out, PasskeyResponse{
			CredentialID: au.CredentialID,
			DeviceType:   au.CredentialDeviceType,
			BackedUp:     au.CredentialBackedUp,
			Transports:   transports,
			Counter:      au.Counter,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListSessions handles GET /api/me/sessions. Tokens other than the
// caller's own are not revealed.
func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	sessions, err := a.identity.ListSessions(r.Context(), ac.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	type sessionResponse struct {
		ID      string    `json:"id"`
		Expires time.Time `json:"expires"`
		Current bool      `json:"current"`
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{ID: s.ID, Expires: s.Expires, Current: s.SessionToken == ac.SessionToken})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListProjects handles GET /api/projects.
func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	projects, err := a.tasks.ListProjects(r.Context(), ac.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

type nameRequest struct {
	Name string `json:"name"`
}

func decodeName(r *http.Request) (string, error) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", apperr.New(apperr.InvalidArgument, "decode", "invalid JSON body")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", apperr.New(apperr.InvalidArgument, "decode", "name is required")
	}
	return name, nil
}

// handleCreateProject handles POST /api/projects.
func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	name, err := decodeName(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	project, err := a.tasks.CreateProject(r.Context(), ac.UserID, name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// handleProjectTodos handles GET /api/projects/{id}/todos.
func (a *API) handleProjectTodos(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	projectID := r.PathValue("id")
	if _, err := a.tasks.GetProject(r.Context(), ac.UserID, projectID); err != nil {
		a.writeError(w, r, err)
		return
	}
	todos, err := a.tasks.ListTodosByProject(r.Context(), ac.UserID, projectID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]TodoResponse, 0, len(todos))
	for _, t := range todos {
		out = append(out, a.todoResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListLabels handles GET /api/labels.
func (a *API) handleListLabels(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	labels, err := a.tasks.ListLabels(r.Context(), ac.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

// handleCreateLabel handles POST /api/labels.
func (a *API) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	name, err := decodeName(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	label, err := a.tasks.CreateLabel(r.Context(), ac.UserID, name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, label)
}

// handleListTodos handles GET /api/todos.
func (a *API) handleListTodos(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	todos, err := a.tasks.ListTodos(r.Context(), ac.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]TodoResponse, 0, len(todos))
	for _, t := range todos {
		out = append(out, a.todoResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeTodoRequest(r *http.Request) (*CreateTodoRequest, error) {
	var req CreateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, apperr.New(apperr.InvalidArgument, "decode", "invalid JSON body")
	}
	req.TaskName = strings.TrimSpace(req.TaskName)
	if req.TaskName == "" {
		return nil, apperr.New(apperr.InvalidArgument, "decode", "taskName is required")
	}
	return &req, nil
}

// embedTask vectorizes a manually entered task the same way suggestions are.
func (a *API) embedTask(ctx context.Context, taskName string) ([]float64, error) {
	return a.embedder.Embed(ctx, taskName)
}

func (a *API) todoFromRequest(userID string, req *CreateTodoRequest, vector []float64) store.Todo {
	labelID := req.LabelID
	if labelID == "" {
		labelID = store.AILabelID
	}
	dueDate := req.DueDate
	if dueDate == 0 {
		dueDate = a.now().UnixMilli()
	}
	return store.Todo{
		UserID:      userID,
		ProjectID:   req.ProjectID,
		LabelID:     labelID,
		TaskName:    req.TaskName,
		Description: req.Description,
		DueDate:     dueDate,
		Priority:    req.Priority,
		Embedding:   vector,
	}
}

// handleCreateTodo handles POST /api/todos.
func (a *API) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	req, err := decodeTodoRequest(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.ProjectID == "" {
		a.writeError(w, r, apperr.New(apperr.InvalidArgument, "decode", "projectId is required"))
		return
	}
	if _, err := a.tasks.GetProject(r.Context(), ac.UserID, req.ProjectID); err != nil {
		a.writeError(w, r, err)
		return
	}

	vector, err := a.embedTask(r.Context(), req.TaskName)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	todo := a.todoFromRequest(ac.UserID, req, vector)
	if err := a.tasks.CreateTodo(r.Context(), &todo); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.todoResponse(&todo))
}

func (a *API) setCompleted(w http.ResponseWriter, r *http.Request, completed bool) {
	ac := auth.MustFromContext(r.Context())
	todoID := r.PathValue("id")
	if err := a.tasks.SetTodoCompleted(r.Context(), ac.UserID, todoID, completed); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": todoID, "isCompleted": completed})
}

// handleCheckTodo handles POST /api/todos/{id}/check.
func (a *API) handleCheckTodo(w http.ResponseWriter, r *http.Request) {
	a.setCompleted(w, r, true)
}

// handleUncheckTodo handles POST /api/todos/{id}/uncheck.
func (a *API) handleUncheckTodo(w http.ResponseWriter, r *http.Request) {
	a.setCompleted(w, r, false)
}

// handleDeleteTodo handles DELETE /api/todos/{id}.
func (a *API) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	if err := a.tasks.DeleteTodo(r.Context(), ac.UserID, r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSubTodos handles GET /api/todos/{id}/subtodos.
func (a *API) handleListSubTodos(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	parentID := r.PathValue("id")
	if _, err := a.tasks.GetTodo(r.Context(), ac.UserID, parentID); err != nil {
		a.writeError(w, r, err)
		return
	}
	subs, err := a.tasks.ListSubTodosByParent(r.Context(), ac.UserID, parentID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]TodoResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, a.subTodoResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateSubTodo handles POST /api/todos/{id}/subtodos. The sub-todo
// lives in its parent's project.
func (a *API) handleCreateSubTodo(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	parent, err := a.tasks.GetTodo(r.Context(), ac.UserID, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	req, err := decodeTodoRequest(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	req.ProjectID = parent.ProjectID

	vector, err := a.embedTask(r.Context(), req.TaskName)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sub := store.SubTodo{Todo: a.todoFromRequest(ac.UserID, req, vector), ParentID: parent.ID}
	if err := a.tasks.CreateSubTodo(r.Context(), &sub); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.subTodoResponse(&sub))
}

// handleSearch handles GET /api/search?q=.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		a.writeError(w, r, apperr.New(apperr.InvalidArgument, "search", "q is required"))
		return
	}
	vector, err := a.embedder.Embed(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	todos, err := a.tasks.SearchTodos(r.Context(), ac.UserID, vector, defaultSearchLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	subs, err := a.tasks.SearchSubTodos(r.Context(), ac.UserID, vector, defaultSearchLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Todos:    a.scoredResponses(todos),
		SubTodos: a.scoredResponses(subs),
	})
}

// handleSuggestTodos handles POST /api/projects/{id}/suggestions.
func (a *API) handleSuggestTodos(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	created, err := a.suggest.SuggestForProject(r.Context(), ac.UserID, r.PathValue("id"))
	if err != nil {
		a.writeSuggestError(w, r, apperr.ScopeTasks, err)
		return
	}
	out := make([]TodoResponse, 0, len(created))
	for i := range created {
		out = append(out, a.todoResponse(&created[i]))
	}
	writeJSON(w, http.StatusCreated, out)
}

// handleSuggestSubTodos handles POST /api/todos/{id}/suggestions. The
// parent's own fields form the request.
func (a *API) handleSuggestSubTodos(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	parent, err := a.tasks.GetTodo(r.Context(), ac.UserID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = &apperr.Error{Kind: apperr.NotFound, Op: "suggest.SuggestForSubtask", Msg: "parent todo not found", Err: store.ErrNotFound}
		}
		a.writeSuggestError(w, r, apperr.ScopeSubtasks, err)
		return
	}
	created, err := a.suggest.SuggestForSubtask(r.Context(), ac.UserID, suggest.SubtaskRequest{
		ProjectID:   parent.ProjectID,
		ParentID:    parent.ID,
		TaskName:    parent.TaskName,
		Description: parent.Description,
	})
	if err != nil {
		a.writeSuggestError(w, r, apperr.ScopeSubtasks, err)
		return
	}
	out := make([]TodoResponse, 0, len(created))
	for i := range created {
		out = append(out, a.subTodoResponse(&created[i]))
	}
	writeJSON(w, http.StatusCreated, out)
}
