// ABOUTME: Tests for the auth adapter against a real backend over bufconn
// ABOUTME: Covers null results, single-use tokens, session expiry defaults and idempotent deletes

package authadapter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/backend"
	"github.com/2389/todovex/internal/store"
)

const testSecret = "adapter-secret"

func newTestAdapter(t *testing.T) (*Adapter, *store.MockStore) {
	t.Helper()

	st := store.NewMockStore()
	srv, err := backend.NewServer(st, testSecret, nil)
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

	a, err := New(client, nil)
	require.NoError(t, err)
	return a, st
}

func strPtr(s string) *string { return &s }

func TestNew_RequiresCaller(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestAdapter_UserLookupsReturnNilWhenMissing(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	u, err := a.GetUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = a.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = a.GetUserByAccount(ctx, "github", "0")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestAdapter_CreateAndGetUser(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	verified := time.Now()
	created, err := a.CreateUser(ctx, User{Email: "ada@example.com", Name: strPtr("Ada"), EmailVerified: &verified})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := a.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	require.NotNil(t, got.Name)
	assert.Equal(t, "Ada", *got.Name)
	assert.Nil(t, got.Image, "omitted fields come back nil")
	assert.Nil(t, got.EmailVerified, "verification state is not tracked")

	_, err = a.CreateUser(ctx, User{Email: "ada@example.com"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestAdapter_UpdateUserReturnsInput(t *testing.T) {
	a, st := newTestAdapter(t)
	ctx := context.Background()

	created, err := a.CreateUser(ctx, User{Email: "grace@example.com"})
	require.NoError(t, err)

	in := User{ID: created.ID, Email: "grace@example.com", Image: strPtr("https://img/g.png")}
	out, err := a.UpdateUser(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, *out)

	stored, err := st.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/g.png", stored.Image)
}

func TestAdapter_DeleteUserIdempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	created, err := a.CreateUser(ctx, User{Email: "gone@example.com"})
	require.NoError(t, err)

	deleted, err := a.DeleteUser(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, created.ID, deleted.ID)

	deleted, err = a.DeleteUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestAdapter_Accounts(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	u, err := a.CreateUser(ctx, User{Email: "linked@example.com"})
	require.NoError(t, err)

	expires := int64(1700000000)
	require.NoError(t, a.LinkAccount(ctx, Account{
		UserID: u.ID, Type: AccountOAuth, Provider: "github", ProviderAccountID: "42",
		AccessToken: strPtr("gho_x"), ExpiresAt: &expires,
	}))

	owner, err := a.GetUserByAccount(ctx, "github", "42")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, u.ID, owner.ID)

	acct, err := a.GetAccount(ctx, "github", "42")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "gho_x", *acct.AccessToken)
	assert.Equal(t, expires, *acct.ExpiresAt)
	assert.Nil(t, acct.IDToken)

	require.NoError(t, a.UnlinkAccount(ctx, "github", "42"))
	acct, err = a.GetAccount(ctx, "github", "42")
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestAdapter_UnlinkMissingAccountIsNoop(t *testing.T) {
	a, _ := newTestAdapter(t)

	err := a.UnlinkAccount(context.Background(), "github", "does-not-exist")
	assert.NoError(t, err)
}

func TestAdapter_SessionAndUserTogether(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	u, err := a.CreateUser(ctx, User{Email: "s@example.com"})
	require.NoError(t, err)

	expires := time.UnixMilli(1718000000123).UTC()
	sess, err := a.CreateSession(ctx, Session{UserID: u.ID, SessionToken: "tok", Expires: expires})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	both, err := a.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, both)
	require.NotNil(t, both.Session)
	require.NotNil(t, both.User)
	assert.Equal(t, u.ID, both.User.ID)
	assert.True(t, expires.Equal(both.Session.Expires))

	neither, err := a.GetSessionAndUser(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, neither)

	_, err = a.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	neither, err = a.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, neither, "a session whose user is gone is not returned")
}

func TestAdapter_UpdateSessionDefaultsToTwentyFourHours(t *testing.T) {
	a, st := newTestAdapter(t)
	ctx := context.Background()

	fixed := time.UnixMilli(1718000000000)
	a.now = func() time.Time { return fixed }

	u, err := a.CreateUser(ctx, User{Email: "clock@example.com"})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, Session{UserID: u.ID, SessionToken: "tok", Expires: fixed})
	require.NoError(t, err)

	updated, err := a.UpdateSession(ctx, SessionUpdate{SessionToken: "tok"})
	require.NoError(t, err)
	require.NotNil(t, updated)

	stored, _, err := st.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(1718000000000+86_400_000), stored.Expires)
	assert.Equal(t, int64(1718000000000+86_400_000), updated.Expires.UnixMilli())

	explicit := fixed.Add(time.Hour)
	updated, err = a.UpdateSession(ctx, SessionUpdate{SessionToken: "tok", Expires: &explicit})
	require.NoError(t, err)
	assert.True(t, explicit.Equal(updated.Expires))

	missing, err := a.UpdateSession(ctx, SessionUpdate{SessionToken: "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAdapter_DeleteSessionIdempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	u, err := a.CreateUser(ctx, User{Email: "d@example.com"})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, Session{UserID: u.ID, SessionToken: "tok", Expires: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	first, err := a.DeleteSession(ctx, "tok")
	require.NoError(t, err)
	assert.NotNil(t, first)

	second, err := a.DeleteSession(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestAdapter_SessionsListAndPurge(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	now := time.UnixMilli(1718000000000)
	a.now = func() time.Time { return now }

	u, err := a.CreateUser(ctx, User{Email: "many@example.com"})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, Session{UserID: u.ID, SessionToken: "old", Expires: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, Session{UserID: u.ID, SessionToken: "live", Expires: now.Add(time.Hour)})
	require.NoError(t, err)

	sessions, err := a.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	n, err := a.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sessions, err = a.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "live", sessions[0].SessionToken)
}

func TestAdapter_VerificationTokenSingleUse(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	expires := time.UnixMilli(1718000000000).UTC()
	_, err := a.CreateVerificationToken(ctx, VerificationToken{Identifier: "v@example.com", Token: "abc", Expires: expires})
	require.NoError(t, err)

	first, err := a.UseVerificationToken(ctx, "v@example.com", "abc")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "abc", first.Token)
	assert.True(t, expires.Equal(first.Expires))

	second, err := a.UseVerificationToken(ctx, "v@example.com", "abc")
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestAdapter_Authenticators(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	u, err := a.CreateUser(ctx, User{Email: "pk@example.com"})
	require.NoError(t, err)

	created, err := a.CreateAuthenticator(ctx, Authenticator{
		UserID: u.ID, ProviderAccountID: "Y3JlZA", CredentialID: "Y3JlZA",
		CredentialPublicKey: "cGs", Counter: 1, CredentialDeviceType: DeviceMulti,
		CredentialBackedUp: true, Transports: strPtr("internal,hybrid"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := a.GetAuthenticator(ctx, "Y3JlZA")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "internal,hybrid", *got.Transports)

	missing, err := a.GetAuthenticator(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := a.ListAuthenticatorsByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	bumped, err := a.UpdateAuthenticatorCounter(ctx, "Y3JlZA", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), bumped.Counter)

	_, err = a.UpdateAuthenticatorCounter(ctx, "Y3JlZA", 2)
	assert.ErrorIs(t, err, store.ErrCounterNotIncreasing, "replayed counters are rejected")
}

func TestAdapter_WrongSecretIsConfigurationError(t *testing.T) {
	st := store.NewMockStore()
	srv, err := backend.NewServer(st, testSecret, nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	defer gs.Stop()

	client, err := backend.Dial("passthrough:///bufnet", "not-the-secret",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer client.Close()

	a, err := New(client, nil)
	require.NoError(t, err)

	_, err = a.GetUser(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Configuration))
}
