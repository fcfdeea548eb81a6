// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu             sync.RWMutex
	seq            int64
	users          map[string]*User          // keyed by user ID
	accounts       map[string]*Account       // keyed by "provider:providerAccountID"
	sessions       map[string]*Session       // keyed by session token
	tokens         map[string]*VerificationToken
	authenticators map[string]*Authenticator // keyed by credential ID
	projects       map[string]*Project
	labels         map[string]*Label
	todos          map[string]*Todo
	subTodos       map[string]*SubTodo
	order          map[string]int64 // insertion sequence for stable listing
}

// NewMockStore creates a new MockStore seeded with the system labels.
func NewMockStore() *MockStore {
	m := &MockStore{
		users:          make(map[string]*User),
		accounts:       make(map[string]*Account),
		sessions:       make(map[string]*Session),
		tokens:         make(map[string]*VerificationToken),
		authenticators: make(map[string]*Authenticator),
		projects:       make(map[string]*Project),
		labels:         make(map[string]*Label),
		todos:          make(map[string]*Todo),
		subTodos:       make(map[string]*SubTodo),
		order:          make(map[string]int64),
	}
	m.labels[AILabelID] = &Label{ID: AILabelID, Name: "AI", Type: OwnerSystem}
	return m
}

func (m *MockStore) next(id string) {
	m.seq++
	m.order[id] = m.seq
}

func accountKey(provider, providerAccountID string) string {
	return provider + ":" + providerAccountID
}

func tokenKey(identifier, token string) string {
	return identifier + ":" + token
}

func cloneTodo(t *Todo) Todo {
	c := *t
	if t.Priority != nil {
		p := *t.Priority
		c.Priority = &p
	}
	if t.Embedding != nil {
		c.Embedding = append([]float64(nil), t.Embedding...)
	}
	return c
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == user.Email {
			return fmt.Errorf("creating user %q: %w", user.Email, ErrDuplicate)
		}
	}
	if user.ID == "" {
		user.ID = newID()
	}
	u := *user
	m.users[u.ID] = &u
	m.next(u.ID)
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			result := *u
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByAccount resolves a provider account to its user.
func (m *MockStore) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return nil, ErrNotFound
	}
	u, ok := m.users[a.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// UpdateUser patches non-empty fields of an existing user.
func (m *MockStore) UpdateUser(ctx context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[user.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if user.Email != "" {
		u.Email = user.Email
	}
	if user.Name != "" {
		u.Name = user.Name
	}
	if user.Image != "" {
		u.Image = user.Image
	}
	result := *u
	return &result, nil
}

// DeleteUser removes a user and everything that references it.
func (m *MockStore) DeleteUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.users, id)
	for k, a := range m.accounts {
		if a.UserID == id {
			delete(m.accounts, k)
		}
	}
	for k, s := range m.sessions {
		if s.UserID == id {
			delete(m.sessions, k)
		}
	}
	for k, a := range m.authenticators {
		if a.UserID == id {
			delete(m.authenticators, k)
		}
	}
	return u, nil
}

// ListUsers returns all users ordered by email.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []*User
	for _, u := range m.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// LinkAccount stores a provider account.
func (m *MockStore) LinkAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := accountKey(account.Provider, account.ProviderAccountID)
	if _, ok := m.accounts[key]; ok {
		return fmt.Errorf("linking %s account: %w", account.Provider, ErrDuplicate)
	}
	if _, ok := m.users[account.UserID]; !ok {
		return fmt.Errorf("linking account: user %q: %w", account.UserID, ErrNotFound)
	}
	if account.ID == "" {
		account.ID = newID()
	}
	a := *account
	m.accounts[key] = &a
	return nil
}

// UnlinkAccount removes an account.
func (m *MockStore) UnlinkAccount(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := accountKey(provider, providerAccountID)
	a, ok := m.accounts[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.accounts, key)
	return a, nil
}

// GetAccount retrieves an account.
func (m *MockStore) GetAccount(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionToken]; ok {
		return fmt.Errorf("creating session: %w", ErrDuplicate)
	}
	if session.ID == "" {
		session.ID = newID()
	}
	s := *session
	m.sessions[s.SessionToken] = &s
	return nil
}

// GetSessionAndUser returns a session with its user.
func (m *MockStore) GetSessionAndUser(ctx context.Context, sessionToken string) (*Session, *User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionToken]
	if !ok {
		return nil, nil, ErrNotFound
	}
	u, ok := m.users[s.UserID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	sc, uc := *s, *u
	return &sc, &uc, nil
}

// UpdateSession sets a session's expiry.
func (m *MockStore) UpdateSession(ctx context.Context, sessionToken string, expires int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionToken]
	if !ok {
		return nil, ErrNotFound
	}
	s.Expires = expires
	result := *s
	return &result, nil
}

// DeleteSession removes a session.
func (m *MockStore) DeleteSession(ctx context.Context, sessionToken string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionToken]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, sessionToken)
	return s, nil
}

// ListSessionsByUser returns a user's sessions, soonest expiry first.
func (m *MockStore) ListSessionsByUser(ctx context.Context, userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			c := *s
			sessions = append(sessions, &c)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Expires < sessions[j].Expires })
	return sessions, nil
}

// DeleteExpiredSessions removes sessions expired at or before now.
func (m *MockStore) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, s := range m.sessions {
		if s.Expires <= now {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

// CreateVerificationToken stores a token.
func (m *MockStore) CreateVerificationToken(ctx context.Context, token *VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tokenKey(token.Identifier, token.Token)
	if _, ok := m.tokens[key]; ok {
		return fmt.Errorf("creating verification token: %w", ErrDuplicate)
	}
	t := *token
	m.tokens[key] = &t
	return nil
}

// UseVerificationToken removes and returns a token under the write lock.
func (m *MockStore) UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tokenKey(identifier, token)
	t, ok := m.tokens[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.tokens, key)
	return t, nil
}

// CreateAuthenticator stores an authenticator.
func (m *MockStore) CreateAuthenticator(ctx context.Context, a *Authenticator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.authenticators[a.CredentialID]; ok {
		return fmt.Errorf("creating authenticator: %w", ErrDuplicate)
	}
	if a.ID == "" {
		a.ID = newID()
	}
	c := *a
	m.authenticators[c.CredentialID] = &c
	return nil
}

// GetAuthenticator retrieves an authenticator by credential ID.
func (m *MockStore) GetAuthenticator(ctx context.Context, credentialID string) (*Authenticator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.authenticators[credentialID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// ListAuthenticatorsByUserID returns a user's authenticators.
func (m *MockStore) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*Authenticator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Authenticator
	for _, a := range m.authenticators {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out, nil
}

// UpdateAuthenticatorCounter stores a strictly greater counter.
func (m *MockStore) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*Authenticator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.authenticators[credentialID]
	if !ok {
		return nil, ErrNotFound
	}
	if counter <= a.Counter {
		return nil, ErrCounterNotIncreasing
	}
	a.Counter = counter
	result := *a
	return &result, nil
}

// CreateProject stores a project.
func (m *MockStore) CreateProject(ctx context.Context, project *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if project.ID == "" {
		project.ID = newID()
	}
	if project.Type == "" {
		project.Type = OwnerUser
	}
	p := *project
	m.projects[p.ID] = &p
	m.next(p.ID)
	return nil
}

func visibleTo(ownerID, userID string) bool {
	return ownerID == "" || ownerID == userID
}

// GetProject returns a project owned by userID or a system project.
func (m *MockStore) GetProject(ctx context.Context, userID, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok || !visibleTo(p.UserID, userID) {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// ListProjects returns system projects followed by the user's own.
func (m *MockStore) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Project
	for _, p := range m.projects {
		if visibleTo(p.UserID, userID) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out, nil
}

// CreateLabel stores a label.
func (m *MockStore) CreateLabel(ctx context.Context, label *Label) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if label.ID == "" {
		label.ID = newID()
	}
	if _, ok := m.labels[label.ID]; ok {
		return fmt.Errorf("creating label: %w", ErrDuplicate)
	}
	if label.Type == "" {
		label.Type = OwnerUser
	}
	l := *label
	m.labels[l.ID] = &l
	return nil
}

// GetLabel retrieves a label.
func (m *MockStore) GetLabel(ctx context.Context, id string) (*Label, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.labels[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *l
	return &result, nil
}

// ListLabels returns system labels and the user's own.
func (m *MockStore) ListLabels(ctx context.Context, userID string) ([]*Label, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Label
	for _, l := range m.labels {
		if visibleTo(l.UserID, userID) {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// CreateTodo stores a todo after checking its project and label exist.
func (m *MockStore) CreateTodo(ctx context.Context, todo *Todo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[todo.ProjectID]; !ok {
		return fmt.Errorf("inserting todo: project %q: %w", todo.ProjectID, ErrNotFound)
	}
	if _, ok := m.labels[todo.LabelID]; !ok {
		return fmt.Errorf("inserting todo: label %q: %w", todo.LabelID, ErrNotFound)
	}
	if todo.ID == "" {
		todo.ID = newID()
	}
	todo.CreationTime = nowMillis()
	t := cloneTodo(todo)
	m.todos[t.ID] = &t
	m.next(t.ID)
	return nil
}

// GetTodo returns a todo owned by userID.
func (m *MockStore) GetTodo(ctx context.Context, userID, id string) (*Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.todos[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	result := cloneTodo(t)
	return &result, nil
}

func (m *MockStore) filterTodos(keep func(*Todo) bool) []*Todo {
	var out []*Todo
	for _, t := range m.todos {
		if keep(t) {
			c := cloneTodo(t)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out
}

// ListTodos returns all of a user's todos.
func (m *MockStore) ListTodos(ctx context.Context, userID string) ([]*Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterTodos(func(t *Todo) bool { return t.UserID == userID }), nil
}

// ListTodosByProject returns a user's todos in one project.
func (m *MockStore) ListTodosByProject(ctx context.Context, userID, projectID string) ([]*Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterTodos(func(t *Todo) bool { return t.UserID == userID && t.ProjectID == projectID }), nil
}

// SetTodoCompleted checks or unchecks a todo.
func (m *MockStore) SetTodoCompleted(ctx context.Context, userID, id string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.todos[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	t.IsCompleted = completed
	return nil
}

// DeleteTodo removes a todo and its sub-todos.
func (m *MockStore) DeleteTodo(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.todos[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(m.todos, id)
	for k, st := range m.subTodos {
		if st.ParentID == id {
			delete(m.subTodos, k)
		}
	}
	return nil
}

// CreateSubTodo stores a sub-todo under an existing parent.
func (m *MockStore) CreateSubTodo(ctx context.Context, st *SubTodo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.todos[st.ParentID]
	if !ok || parent.UserID != st.UserID {
		return fmt.Errorf("looking up parent todo: %w", ErrNotFound)
	}
	if st.ID == "" {
		st.ID = newID()
	}
	st.CreationTime = nowMillis()
	c := SubTodo{Todo: cloneTodo(&st.Todo), ParentID: st.ParentID}
	m.subTodos[c.ID] = &c
	m.next(c.ID)
	return nil
}

// ListSubTodosByParent returns the sub-todos of a parent todo.
func (m *MockStore) ListSubTodosByParent(ctx context.Context, userID, parentID string) ([]*SubTodo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*SubTodo
	for _, st := range m.subTodos {
		if st.UserID == userID && st.ParentID == parentID {
			c := SubTodo{Todo: cloneTodo(&st.Todo), ParentID: st.ParentID}
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

// SearchTodos ranks the user's embedded todos by cosine similarity.
func (m *MockStore) SearchTodos(ctx context.Context, userID string, vector []float64, limit int) ([]*ScoredTodo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(vector) == 0 {
		return nil, nil
	}
	top := newTopK(limit)
	for _, t := range m.todos {
		if t.UserID == userID && len(t.Embedding) == len(vector) {
			top.offer(&ScoredTodo{Todo: cloneTodo(t), Score: cosine(vector, t.Embedding)})
		}
	}
	return top.results(), nil
}

// SearchSubTodos ranks the user's embedded sub-todos by cosine similarity.
func (m *MockStore) SearchSubTodos(ctx context.Context, userID string, vector []float64, limit int) ([]*ScoredTodo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(vector) == 0 {
		return nil, nil
	}
	top := newTopK(limit)
	for _, st := range m.subTodos {
		if st.UserID == userID && len(st.Embedding) == len(vector) {
			top.offer(&ScoredTodo{Todo: cloneTodo(&st.Todo), ParentID: st.ParentID, Score: cosine(vector, st.Embedding)})
		}
	}
	return top.results(), nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)

// TodoCount reports how many todos and sub-todos are stored, for test assertions.
func (m *MockStore) TodoCount() (todos, subTodos int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.todos), len(m.subTodos)
}

