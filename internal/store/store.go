// ABOUTME: Store interfaces and document types for todovex persistence
// ABOUTME: Documents use the store representation: epoch-ms dates and omitted optional fields

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key (email, session token, credential ID,
// provider account) is already taken
var ErrDuplicate = errors.New("already exists")

// ErrCounterNotIncreasing is returned when an authenticator counter update would
// not move the stored counter forward
var ErrCounterNotIncreasing = errors.New("authenticator counter must increase")

// AILabelID is the identifier of the seeded system label applied to AI suggestions.
const AILabelID = "k17fvzswh0s2mmee1fvg83bp297ehwk1"

// Account types accepted by the identity store
const (
	AccountTypeEmail    = "email"
	AccountTypeOIDC     = "oidc"
	AccountTypeOAuth    = "oauth"
	AccountTypeWebAuthn = "webauthn"
)

// Ownership types for projects and labels
const (
	OwnerUser   = "user"
	OwnerSystem = "system"
)

// User is an identity store user document.
type User struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Session is a database session. Expires is epoch milliseconds.
type Session struct {
	ID           string `json:"_id"`
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken"`
	Expires      int64  `json:"expires"`
}

// Account links a user to a provider identity.
type Account struct {
	ID                string `json:"_id"`
	UserID            string `json:"userId"`
	Type              string `json:"type"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
	AccessToken       string `json:"access_token,omitempty"`
	ExpiresAt         int64  `json:"expires_at,omitempty"`
	IDToken           string `json:"id_token,omitempty"`
	Scope             string `json:"scope,omitempty"`
	TokenType         string `json:"token_type,omitempty"`
}

// Authenticator is a stored WebAuthn credential. Transports is a single
// comma-separated string exactly as supplied by the identity framework.
type Authenticator struct {
	ID                   string `json:"_id"`
	CredentialID         string `json:"credentialID"`
	UserID               string `json:"userId"`
	ProviderAccountID    string `json:"providerAccountId"`
	CredentialPublicKey  string `json:"credentialPublicKey"`
	Counter              int64  `json:"counter"`
	CredentialDeviceType string `json:"credentialDeviceType"`
	CredentialBackedUp   bool   `json:"credentialBackedUp"`
	Transports           string `json:"transports,omitempty"`
}

// VerificationToken is a single-use sign-in token.
type VerificationToken struct {
	Identifier string `json:"identifier"`
	Token      string `json:"token"`
	Expires    int64  `json:"expires"`
}

// Project groups todos. UserID is empty for system projects.
type Project struct {
	ID     string `json:"_id"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// Label tags todos. UserID is empty for system labels.
type Label struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
}

// Todo is a task document. DueDate is epoch milliseconds.
type Todo struct {
	ID           string    `json:"_id"`
	CreationTime int64     `json:"_creationTime"`
	UserID       string    `json:"userId"`
	ProjectID    string    `json:"projectId"`
	LabelID      string    `json:"labelId"`
	TaskName     string    `json:"taskName"`
	Description  string    `json:"description,omitempty"`
	DueDate      int64     `json:"dueDate"`
	Priority     *float64  `json:"priority,omitempty"`
	IsCompleted  bool      `json:"isCompleted"`
	Embedding    []float64 `json:"embedding,omitempty"`
}

// SubTodo is a todo nested under a parent todo.
type SubTodo struct {
	Todo
	ParentID string `json:"parentId"`
}

// ScoredTodo is a vector search hit.
type ScoredTodo struct {
	Todo
	ParentID string  `json:"parentId,omitempty"`
	Score    float64 `json:"_score"`
}

// IdentityStore holds users, accounts, sessions, verification tokens and
// authenticators. Lookups return ErrNotFound when nothing matches, including
// deletes of rows that are already gone.
type IdentityStore interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error)
	UpdateUser(ctx context.Context, user *User) (*User, error)
	DeleteUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	// Accounts
	LinkAccount(ctx context.Context, account *Account) error
	UnlinkAccount(ctx context.Context, provider, providerAccountID string) (*Account, error)
	GetAccount(ctx context.Context, provider, providerAccountID string) (*Account, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSessionAndUser(ctx context.Context, sessionToken string) (*Session, *User, error)
	UpdateSession(ctx context.Context, sessionToken string, expires int64) (*Session, error)
	DeleteSession(ctx context.Context, sessionToken string) (*Session, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]*Session, error)
	DeleteExpiredSessions(ctx context.Context, now int64) (int64, error)

	// Verification tokens
	CreateVerificationToken(ctx context.Context, token *VerificationToken) error
	UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error)

	// Authenticators
	CreateAuthenticator(ctx context.Context, authenticator *Authenticator) error
	GetAuthenticator(ctx context.Context, credentialID string) (*Authenticator, error)
	ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*Authenticator, error)
	UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*Authenticator, error)
}

// TaskStore holds projects, labels, todos and sub-todos. Reads are scoped to a
// user; system projects and labels are visible to everyone.
type TaskStore interface {
	// Projects
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, userID, id string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]*Project, error)

	// Labels
	CreateLabel(ctx context.Context, label *Label) error
	GetLabel(ctx context.Context, id string) (*Label, error)
	ListLabels(ctx context.Context, userID string) ([]*Label, error)

	// Todos
	CreateTodo(ctx context.Context, todo *Todo) error
	GetTodo(ctx context.Context, userID, id string) (*Todo, error)
	ListTodos(ctx context.Context, userID string) ([]*Todo, error)
	ListTodosByProject(ctx context.Context, userID, projectID string) ([]*Todo, error)
	SetTodoCompleted(ctx context.Context, userID, id string, completed bool) error
	DeleteTodo(ctx context.Context, userID, id string) error

	// Sub-todos
	CreateSubTodo(ctx context.Context, subTodo *SubTodo) error
	ListSubTodosByParent(ctx context.Context, userID, parentID string) ([]*SubTodo, error)

	// Vector search over stored embeddings
	SearchTodos(ctx context.Context, userID string, vector []float64, limit int) ([]*ScoredTodo, error)
	SearchSubTodos(ctx context.Context, userID string, vector []float64, limit int) ([]*ScoredTodo, error)
}

// Store is the full persistence surface served by the backend.
type Store interface {
	IdentityStore
	TaskStore

	// Close releases any resources held by the store
	Close() error
}
