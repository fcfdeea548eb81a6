// ABOUTME: Tests for the HTTP API over a real backend surface served on bufconn
// ABOUTME: Covers session gating, task CRUD, markdown rendering, search, and suggestion errors

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/auth"
	"github.com/2389/todovex/internal/authadapter"
	"github.com/2389/todovex/internal/backend"
	"github.com/2389/todovex/internal/openai"
	"github.com/2389/todovex/internal/store"
	"github.com/2389/todovex/internal/suggest"
)

const testSecret = "gateway-test-secret"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChat struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
}

func (f *fakeChat) Chat(ctx context.Context, req openai.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.content, f.err
}

func (f *fakeChat) set(content string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content, f.err = content, err
}

// topicEmbedder maps text onto two axes so search ranking is predictable.
type topicEmbedder struct{}

func (topicEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "garden"):
		return []float64{1, 0}, nil
	case strings.Contains(lower, "tax"):
		return []float64{0, 1}, nil
	default:
		return []float64{0.5, 0.5}, nil
	}
}

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendVerification(ctx context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *captureMailer) last(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.links, "no sign-in link was sent")
	return m.links[len(m.links)-1]
}

type testEnv struct {
	api      *API
	mux      *http.ServeMux
	store    *store.MockStore
	identity *authadapter.Adapter
	chat     *fakeChat
	mailer   *captureMailer
}

// newTestEnv serves a backend over bufconn and builds the API on top of a
// client for it, the same way the gateway does over TCP.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMockStore()
	srv, err := backend.NewServer(st, testSecret, testLogger())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	client, err := backend.Dial("passthrough:///bufnet", testSecret,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	identity, err := authadapter.New(client, testLogger())
	require.NoError(t, err)
	tasks := backend.NewTaskClient(client)

	chat := &fakeChat{}
	pipeline, err := suggest.New(suggest.Config{
		Tasks:    tasks,
		Chat:     chat,
		Embedder: topicEmbedder{},
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	wa, err := NewWebAuthn("http://localhost:8080")
	require.NoError(t, err)
	ceremonies, err := auth.NewCeremonySigner(testSecret, ceremonyTTL)
	require.NoError(t, err)

	mailer := &captureMailer{}
	api, err := NewAPI(APIConfig{
		Identity: identity,
		Tasks:    tasks,
		Suggest:  pipeline,
		Embedder: topicEmbedder{},
		Sessions: auth.SessionConfig{
			MaxAge:    30 * 24 * time.Hour,
			UpdateAge: 24 * time.Hour,
		},
		VerificationTTL: time.Hour,
		TokenSecret:     testSecret,
		Mailer:          mailer,
		BaseURL:         "http://localhost:8080",
		WebAuthn:        wa,
		Ceremonies:      ceremonies,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	return &testEnv{api: api, mux: mux, store: st, identity: identity, chat: chat, mailer: mailer}
}

// signIn creates a user with a live session and returns the user and token.
func (e *testEnv) signIn(t *testing.T, email string) (*authadapter.User, string) {
	t.Helper()
	ctx := context.Background()

	user, err := e.identity.CreateUser(ctx, authadapter.User{Email: email})
	require.NoError(t, err)

	token, err := auth.NewOpaqueToken(16)
	require.NoError(t, err)
	_, err = e.identity.CreateSession(ctx, authadapter.Session{
		UserID:       user.ID,
		SessionToken: token,
		Expires:      time.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return user, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

func (e *testEnv) createProject(t *testing.T, token, name string) *store.Project {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/projects", token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[store.Project](t, rec)
	return &p
}

func (e *testEnv) createTodo(t *testing.T, token string, req CreateTodoRequest) TodoResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/todos", token, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TodoResponse](t, rec)
}

func TestNewAPI_RequiresCollaborators(t *testing.T) {
	_, err := NewAPI(APIConfig{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestAPI_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/me", "/api/projects", "/api/todos", "/api/search?q=x"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := env.do(t, http.MethodGet, "/api/projects", "not-a-session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_Me(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.signIn(t, "ada@example.com")

	rec := env.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		User authadapter.User `json:"user"`
	}](t, rec)
	assert.Equal(t, user.ID, body.User.ID)
	assert.Equal(t, "ada@example.com", body.User.Email)
}

func TestAPI_ProjectsAndLabels(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signIn(t, "ada@example.com")

	project := env.createProject(t, token, "  Garden  ")
	assert.Equal(t, "Garden", project.Name)

	rec := env.do(t, http.MethodGet, "/api/projects", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	projects := decode[[]store.Project](t, rec)
	var names []string
	for _, p := range projects {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "Garden")

	rec = env.do(t, http.MethodPost, "/api/projects", token, map[string]string{"name": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name is required", errorMessage(t, rec))

	rec = env.do(t, http.MethodPost, "/api/labels", token, map[string]string{"name": "Errands"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/labels", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	labels := decode[[]store.Label](t, rec)
	var labelIDs, labelNames []string
	for _, l := range labels {
		labelIDs = append(labelIDs, l.ID)
		labelNames = append(labelNames, l.Name)
	}
	assert.Contains(t, labelIDs, store.AILabelID)
	assert.Contains(t, labelNames, "Errands")
}

func TestAPI_TodoLifecycle(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.signIn(t, "ada@example.com")
	project := env.createProject(t, token, "Home")

	priority := 2.0
	todo := env.createTodo(t, token, CreateTodoRequest{
		ProjectID:   project.ID,
		TaskName:    "Weed the garden",
		Description: "Start with the **north** bed",
		DueDate:     1718000000000,
		Priority:    &priority,
	})
	assert.NotEmpty(t, todo.ID)
	assert.Equal(t, store.AILabelID, todo.LabelID, "label defaults to AI")
	assert.Contains(t, todo.DescriptionHTML, "<strong>north</strong>")
	assert.Equal(t, int64(1718000000000), todo.DueDate)

	stored, err := env.store.GetTodo(context.Background(), user.ID, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, stored.Embedding, "manual todos are embedded")

	rec := env.do(t, http.MethodGet, "/api/projects/"+project.ID+"/todos", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]TodoResponse](t, rec)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsCompleted)

	rec = env.do(t, http.MethodPost, "/api/todos/"+todo.ID+"/check", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/todos", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]TodoResponse](t, rec)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsCompleted)

	rec = env.do(t, http.MethodPost, "/api/todos/"+todo.ID+"/uncheck", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/todos/"+todo.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/todos/"+todo.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "todo not found", errorMessage(t, rec))
}

func TestAPI_CreateTodoValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signIn(t, "ada@example.com")
	project := env.createProject(t, token, "Home")

	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"missing task name", CreateTodoRequest{ProjectID: project.ID}, http.StatusBadRequest, "taskName is required"},
		{"missing project", CreateTodoRequest{TaskName: "x"}, http.StatusBadRequest, "projectId is required"},
		{"unknown project", CreateTodoRequest{ProjectID: "missing", TaskName: "x"}, http.StatusNotFound, "project not found"},
		{"bad json", "not an object", http.StatusBadRequest, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/todos", token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, errorMessage(t, rec))
		})
	}
}

func TestAPI_OtherUsersDataIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.signIn(t, "alice@example.com")
	_, bob := env.signIn(t, "bob@example.com")

	project := env.createProject(t, alice, "Private")
	todo := env.createTodo(t, alice, CreateTodoRequest{ProjectID: project.ID, TaskName: "secret"})

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/projects/"+project.ID+"/todos", bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/todos/"+todo.ID+"/check", bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/todos/"+todo.ID+"/subtodos", bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/projects/"+project.ID+"/suggestions", bob, nil).Code)
}

func TestAPI_SubTodos(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signIn(t, "ada@example.com")
	project := env.createProject(t, token, "Home")
	parent := env.createTodo(t, token, CreateTodoRequest{ProjectID: project.ID, TaskName: "Plan garden"})

	rec := env.do(t, http.MethodPost, "/api/todos/"+parent.ID+"/subtodos", token, CreateTodoRequest{TaskName: "Buy seeds"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[TodoResponse](t, rec)
	assert.Equal(t, parent.ID, sub.ParentID)
	assert.Equal(t, project.ID, sub.ProjectID)

	rec = env.do(t, http.MethodGet, "/api/todos/"+parent.ID+"/subtodos", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	subs := decode[[]TodoResponse](t, rec)
	require.Len(t, subs, 1)
	assert.Equal(t, "Buy seeds", subs[0].TaskName)

	rec = env.do(t, http.MethodPost, "/api/todos/missing/subtodos", token, CreateTodoRequest{TaskName: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Search(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signIn(t, "ada@example.com")
	project := env.createProject(t, token, "Home")

	env.createTodo(t, token, CreateTodoRequest{ProjectID: project.ID, TaskName: "File taxes"})
	garden := env.createTodo(t, token, CreateTodoRequest{ProjectID: project.ID, TaskName: "Weed the garden"})
	rec := env.do(t, http.MethodPost, "/api/todos/"+garden.ID+"/subtodos", token, CreateTodoRequest{TaskName: "Garden gloves"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/search?q=garden", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[SearchResponse](t, rec)

	require.NotEmpty(t, res.Todos)
	assert.Equal(t, "Weed the garden", res.Todos[0].TaskName)
	require.NotNil(t, res.Todos[0].Score)
	assert.InDelta(t, 1.0, *res.Todos[0].Score, 1e-9)

	require.Len(t, res.SubTodos, 1)
	assert.Equal(t, garden.ID, res.SubTodos[0].ParentID)

	rec = env.do(t, http.MethodGet, "/api/search", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const fiveTodos = `{"todos":[
	{"taskName":"Draft outline","description":"Sections and headings"},
	{"taskName":"Collect screenshots","description":""},
	{"taskName":"Write intro","description":"Keep it short"},
	{"taskName":"Review with team","description":"Friday sync"},
	{"taskName":"Publish","description":"Blog and newsletter"}
]}`

func TestAPI_SuggestForProject(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signIn(t, "ada@example.com")
	project := env.createProject(t, token, "Launch post")
	env.chat.set(fiveTodos, nil)

	rec := env.do(t, http.MethodPost, "/api/projects/"+project.ID+"/suggestions", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[[]TodoResponse](t, rec)
	require.Len(t, created, 5)
	for _, td := range created {
		assert.Equal(t, project.ID, td.ProjectID)
		assert.Equal(t, store.AILabelID, td.LabelID)
		require.NotNil(t, td.Priority)
		assert.Equal(t, 1.0, *td.Priority)
	}
	assert.Equal(t, "Draft outline", created[0].TaskName)

	todos, _ := env.store.TodoCount()
	assert.Equal(t, 5, todos)
}

func TestAPI_SuggestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		chatErr error
		status  int
		message string
	}{
		{
			name:    "malformed model output",
			content: `{"items":[]}`,
			status:  http.StatusBadGateway,
		},
		{
			name:    "context too long",
			chatErr: apperr.New(apperr.ContextLength, "openai.Chat", "maximum context length exceeded"),
			status:  http.StatusRequestEntityTooLarge,
			message: "Project is too large for AI analysis. Try breaking it into smaller parts.",
		},
		{
			name:    "provider misconfigured",
			chatErr: apperr.New(apperr.Configuration, "openai.Chat", "invalid api key"),
			status:  http.StatusServiceUnavailable,
			message: "AI service is not properly configured. Please contact support.",
		},
		{
			name:    "provider down",
			chatErr: apperr.New(apperr.Upstream, "openai.Chat", "OpenAI API error (500): boom"),
			status:  http.StatusBadGateway,
			message: "OpenAI API error (500): boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, token := env.signIn(t, "ada@example.com")
			project := env.createProject(t, token, "Launch post")
			env.chat.set(tt.content, tt.chatErr)

			rec := env.do(t, http.MethodPost, "/api/projects/"+project.ID+"/suggestions", token, nil)
			assert.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, errorMessage(t, rec))
			}

			todos, _ := env.store.TodoCount()
			assert.Zero(t, todos, "nothing persisted on failure")
		})
	}
}

func TestAPI_SuggestForSubtask(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signIn(t, "ada@example.com")
	project := env.createProject(t, token, "Launch post")
	parent := env.createTodo(t, token, CreateTodoRequest{ProjectID: project.ID, TaskName: "Write intro", Description: "Hook the reader"})
	env.chat.set(`{"todos":[{"taskName":"Pick an anecdote","description":""},{"taskName":"Trim to 3 sentences","description":""}]}`, nil)

	rec := env.do(t, http.MethodPost, "/api/todos/"+parent.ID+"/suggestions", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[[]TodoResponse](t, rec)
	require.Len(t, created, 2)
	for _, sub := range created {
		assert.Equal(t, parent.ID, sub.ParentID)
		assert.Equal(t, project.ID, sub.ProjectID)
	}

	_, subs := env.store.TodoCount()
	assert.Equal(t, 2, subs)

	rec = env.do(t, http.MethodPost, "/api/todos/missing/suggestions", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "parent todo not found", errorMessage(t, rec))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		known  bool
	}{
		{"invalid argument", apperr.New(apperr.InvalidArgument, "op", "x"), http.StatusBadRequest, true},
		{"not found", apperr.New(apperr.NotFound, "op", "x"), http.StatusNotFound, true},
		{"invalid response", apperr.New(apperr.InvalidResponse, "op", "x"), http.StatusBadGateway, true},
		{"upstream", apperr.New(apperr.Upstream, "op", "x"), http.StatusBadGateway, true},
		{"context length", apperr.New(apperr.ContextLength, "op", "x"), http.StatusRequestEntityTooLarge, true},
		{"configuration", apperr.New(apperr.Configuration, "op", "x"), http.StatusServiceUnavailable, true},
		{"store sentinel", store.ErrNotFound, http.StatusNotFound, true},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, true},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, known := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.known, known)
		})
	}
}
