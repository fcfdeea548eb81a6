// ABOUTME: End-to-end tests for the backend service over an in-memory gRPC connection
// ABOUTME: Covers the secret gate, null results, status mapping and task round-trips

package backend

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/store"
)

const testSecret = "s3cret"

// startBackend serves a backend over bufconn and returns a dialed client
// using clientSecret.
func startBackend(t *testing.T, st store.Store, clientSecret string) *Client {
	t.Helper()

	srv, err := NewServer(st, testSecret, nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(nil)))
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	client, err := Dial("passthrough:///bufnet", clientSecret,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewServer_RequiresSecret(t *testing.T) {
	_, err := NewServer(store.NewMockStore(), "", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestNewClient_RequiresSecret(t *testing.T) {
	_, err := NewClient(nil, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestBackend_RejectsWrongSecret(t *testing.T) {
	st := store.NewMockStore()
	client := startBackend(t, st, "wrong")

	var id string
	_, err := client.Mutation(context.Background(), FnCreateUser, userArgs{User: &store.User{Email: "x@example.com"}}, &id)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Configuration), "got %v", err)

	_, err = st.GetUserByEmail(context.Background(), "x@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing is written without the secret")
}

func TestBackend_UnknownFunction(t *testing.T) {
	client := startBackend(t, store.NewMockStore(), testSecret)

	_, err := client.Query(context.Background(), "nope:nothing", nil, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestBackend_WrongKind(t *testing.T) {
	client := startBackend(t, store.NewMockStore(), testSecret)

	_, err := client.Query(context.Background(), FnCreateUser, userArgs{User: &store.User{Email: "a@example.com"}}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestBackend_UserRoundTrip(t *testing.T) {
	client := startBackend(t, store.NewMockStore(), testSecret)
	ctx := context.Background()

	var id string
	found, err := client.Mutation(ctx, FnCreateUser, userArgs{User: &store.User{Email: "ada@example.com", Name: "Ada"}}, &id)
	require.NoError(t, err)
	assert.True(t, found)
	require.NotEmpty(t, id)

	var u store.User
	found, err = client.Query(ctx, FnGetUserByEmail, emailArgs{Email: "ada@example.com"}, &u)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "Ada", u.Name)

	var missing store.User
	found, err = client.Query(ctx, FnGetUser, idArgs{ID: "missing"}, &missing)
	require.NoError(t, err)
	assert.False(t, found, "missing users answer null")

	_, err = client.Mutation(ctx, FnCreateUser, userArgs{User: &store.User{Email: "ada@example.com"}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	found, err = client.Mutation(ctx, FnDeleteUser, idArgs{ID: id}, nil)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = client.Mutation(ctx, FnDeleteUser, idArgs{ID: id}, nil)
	require.NoError(t, err)
	assert.False(t, found, "deleting twice is not an error")
}

func TestBackend_MissingRequiredArgs(t *testing.T) {
	client := startBackend(t, store.NewMockStore(), testSecret)

	_, err := client.Mutation(context.Background(), FnCreateUser, userArgs{User: &store.User{}}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
	assert.Contains(t, err.Error(), "user.email is required")
}

func TestBackend_SessionAndUser(t *testing.T) {
	st := store.NewMockStore()
	client := startBackend(t, st, testSecret)
	ctx := context.Background()

	u := &store.User{Email: "s@example.com"}
	require.NoError(t, st.CreateUser(ctx, u))

	var sessID string
	_, err := client.Mutation(ctx, FnCreateSession, sessionArgs{Session: &store.Session{
		UserID: u.ID, SessionToken: "tok", Expires: 1718000000000,
	}}, &sessID)
	require.NoError(t, err)

	var joined SessionAndUser
	found, err := client.Query(ctx, FnGetSessionAndUser, sessionTokenArgs{SessionToken: "tok"}, &joined)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sessID, joined.Session.ID)
	assert.Equal(t, int64(1718000000000), joined.Session.Expires)
	assert.Equal(t, u.ID, joined.User.ID)

	found, err = client.Query(ctx, FnGetSessionAndUser, sessionTokenArgs{SessionToken: "other"}, &joined)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBackend_CounterGuard(t *testing.T) {
	st := store.NewMockStore()
	client := startBackend(t, st, testSecret)
	ctx := context.Background()

	u := &store.User{Email: "p@example.com"}
	require.NoError(t, st.CreateUser(ctx, u))
	require.NoError(t, st.CreateAuthenticator(ctx, &store.Authenticator{
		CredentialID: "cred", UserID: u.ID, ProviderAccountID: "cred",
		CredentialPublicKey: "pk", CredentialDeviceType: "singleDevice", Counter: 5,
	}))

	var a store.Authenticator
	_, err := client.Mutation(ctx, FnUpdateAuthenticatorCounter, counterArgs{CredentialID: "cred", NewCounter: 6}, &a)
	require.NoError(t, err)
	assert.Equal(t, int64(6), a.Counter)

	_, err = client.Mutation(ctx, FnUpdateAuthenticatorCounter, counterArgs{CredentialID: "cred", NewCounter: 6}, &a)
	assert.ErrorIs(t, err, store.ErrCounterNotIncreasing)

	_, err = client.Mutation(ctx, FnUpdateAuthenticatorCounter, counterArgs{CredentialID: "gone", NewCounter: 9}, &a)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestTaskClient_RoundTrip(t *testing.T) {
	st := store.NewMockStore()
	tasks := NewTaskClient(startBackend(t, st, testSecret))
	ctx := context.Background()

	u := &store.User{Email: "t@example.com"}
	require.NoError(t, st.CreateUser(ctx, u))

	project, err := tasks.CreateProject(ctx, u.ID, "Garden")
	require.NoError(t, err)
	require.NotEmpty(t, project.ID)
	assert.Equal(t, store.OwnerUser, project.Type)

	got, err := tasks.GetProject(ctx, u.ID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Garden", got.Name)

	_, err = tasks.GetProject(ctx, "someone-else", project.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	priority := 1.0
	todo := &store.Todo{
		UserID: u.ID, ProjectID: project.ID, LabelID: store.AILabelID,
		TaskName: "Plant tomatoes", DueDate: 1718000000000, Priority: &priority,
		Embedding: []float64{0.25, -0.5, 1e-7},
	}
	require.NoError(t, tasks.CreateTodo(ctx, todo))
	require.NotEmpty(t, todo.ID)

	stored, err := tasks.GetTodo(ctx, u.ID, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, todo.Embedding, stored.Embedding)
	assert.Equal(t, int64(1718000000000), stored.DueDate)

	sub := &store.SubTodo{
		Todo:     store.Todo{UserID: u.ID, ProjectID: project.ID, LabelID: store.AILabelID, TaskName: "Buy seeds"},
		ParentID: todo.ID,
	}
	require.NoError(t, tasks.CreateSubTodo(ctx, sub))
	subs, err := tasks.ListSubTodosByParent(ctx, u.ID, todo.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Buy seeds", subs[0].TaskName)

	require.NoError(t, tasks.SetTodoCompleted(ctx, u.ID, todo.ID, true))
	stored, err = tasks.GetTodo(ctx, u.ID, todo.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted)

	hits, err := tasks.SearchTodos(ctx, u.ID, []float64{0.25, -0.5, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, todo.ID, hits[0].ID)

	require.NoError(t, tasks.DeleteTodo(ctx, u.ID, todo.ID))
	assert.ErrorIs(t, tasks.DeleteTodo(ctx, u.ID, todo.ID), store.ErrNotFound)

	todos, err := tasks.ListTodos(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, todos)
}
