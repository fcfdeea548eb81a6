// ABOUTME: Tests for SQLite store setup and shared test helpers
// ABOUTME: Covers directory creation, migrations, seeded system rows, and cascade deletes

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// forEachStore runs fn against the SQLite store and the mock so both honour
// the same contract.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func TestNewSQLiteStore_CreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "todovex.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.FileExists(t, dbPath)
}

func TestNewSQLiteStore_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "todovex.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, first.CreateUser(ctx, &User{Email: "a@example.com"}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	u, err := second.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
}

func TestSQLiteStore_SeedsSystemRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	label, err := store.GetLabel(ctx, AILabelID)
	require.NoError(t, err)
	assert.Equal(t, "AI", label.Name)
	assert.Equal(t, OwnerSystem, label.Type)
	assert.Empty(t, label.UserID)

	projects, err := store.ListProjects(ctx, "anyone")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, OwnerSystem, projects[0].Type)
}

func TestSQLiteStore_DeleteUserCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &User{Email: "cascade@example.com"}
	require.NoError(t, store.CreateUser(ctx, u))
	require.NoError(t, store.LinkAccount(ctx, &Account{UserID: u.ID, Type: AccountTypeEmail, Provider: "email", ProviderAccountID: u.Email}))
	require.NoError(t, store.CreateSession(ctx, &Session{UserID: u.ID, SessionToken: "tok", Expires: 1}))
	require.NoError(t, store.CreateAuthenticator(ctx, &Authenticator{CredentialID: "cred", UserID: u.ID, ProviderAccountID: "cred", CredentialPublicKey: "pk", CredentialDeviceType: "singleDevice"}))

	p := &Project{UserID: u.ID, Name: "Home"}
	require.NoError(t, store.CreateProject(ctx, p))
	require.NoError(t, store.CreateTodo(ctx, &Todo{UserID: u.ID, ProjectID: p.ID, LabelID: AILabelID, TaskName: "x"}))

	_, err := store.DeleteUser(ctx, u.ID)
	require.NoError(t, err)

	_, err = store.GetAccount(ctx, "email", u.Email)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = store.GetSessionAndUser(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetAuthenticator(ctx, "cred")
	assert.ErrorIs(t, err, ErrNotFound)

	todos, err := store.ListTodos(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, todos)
}
