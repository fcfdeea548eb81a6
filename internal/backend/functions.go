// ABOUTME: Registry of named backend functions and their typed argument shapes
// ABOUTME: Lookups and deletes answer null for missing documents instead of failing

package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/2389/todovex/internal/store"
)

type handlerFunc func(ctx context.Context, raw []byte) (any, error)

type function struct {
	kind    Kind
	handler handlerFunc
}

// Function paths, shared by the server registry and the clients.
const (
	FnCreateUser                 = "authAdapter:createUser"
	FnGetUser                    = "authAdapter:getUser"
	FnGetUserByEmail             = "authAdapter:getUserByEmail"
	FnGetUserByAccount           = "authAdapter:getUserByAccount"
	FnUpdateUser                 = "authAdapter:updateUser"
	FnDeleteUser                 = "authAdapter:deleteUser"
	FnListUsers                  = "authAdapter:listUsers"
	FnLinkAccount                = "authAdapter:linkAccount"
	FnUnlinkAccount              = "authAdapter:unlinkAccount"
	FnGetAccount                 = "authAdapter:getAccount"
	FnCreateSession              = "authAdapter:createSession"
	FnGetSessionAndUser          = "authAdapter:getSessionAndUser"
	FnUpdateSession              = "authAdapter:updateSession"
	FnDeleteSession              = "authAdapter:deleteSession"
	FnListSessionsByUserID       = "authAdapter:listSessionsByUserId"
	FnDeleteExpiredSessions      = "authAdapter:deleteExpiredSessions"
	FnCreateVerificationToken    = "authAdapter:createVerificationToken"
	FnUseVerificationToken       = "authAdapter:useVerificationToken"
	FnCreateAuthenticator        = "authAdapter:createAuthenticator"
	FnGetAuthenticator           = "authAdapter:getAuthenticator"
	FnListAuthenticatorsByUserID = "authAdapter:listAuthenticatorsByUserId"
	FnUpdateAuthenticatorCounter = "authAdapter:updateAuthenticatorCounter"

	FnGetProjectByID = "projects:getProjectByProjectId"
	FnGetProjects    = "projects:getProjects"
	FnCreateProject  = "projects:createAProject"

	FnGetLabels   = "labels:getLabels"
	FnCreateLabel = "labels:createALabel"

	FnGetTodosByProjectID = "todos:getTodosByProjectId"
	FnGetTodos            = "todos:getTodos"
	FnGetTodoByID         = "todos:getTodoById"
	FnCreateTodo          = "todos:createATodo"
	FnCheckTodo           = "todos:checkATodo"
	FnUncheckTodo         = "todos:unCheckATodo"
	FnDeleteTodo          = "todos:deleteATodo"
	FnSearchTodos         = "todos:searchTodos"

	FnGetSubTodosByParentID = "subTodos:getSubTodosByParentId"
	FnCreateSubTodo         = "subTodos:createASubTodo"
	FnSearchSubTodos        = "subTodos:searchSubTodos"
)

// handle adapts a typed function into a raw handler.
func handle[A any](fn func(context.Context, A) (any, error)) handlerFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var args A
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, badArgs("decoding args: %v", err)
		}
		return fn(ctx, args)
	}
}

// orNull turns a missing document into a null result.
func orNull[T any](v T, err error) (any, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// list keeps empty results as [] rather than null.
func list[T any](items []T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return badArgs("%s is required", pairs[i])
		}
	}
	return nil
}

type (
	idArgs struct {
		ID string `json:"id"`
	}
	emailArgs struct {
		Email string `json:"email"`
	}
	providerArgs struct {
		Provider          string `json:"provider"`
		ProviderAccountID string `json:"providerAccountId"`
	}
	userArgs struct {
		User *store.User `json:"user"`
	}
	accountArgs struct {
		Account *store.Account `json:"account"`
	}
	sessionArgs struct {
		Session *store.Session `json:"session"`
	}
	sessionTokenArgs struct {
		SessionToken string `json:"sessionToken"`
	}
	userIDArgs struct {
		UserID string `json:"userId"`
	}
	nowArgs struct {
		Now int64 `json:"now"`
	}
	verificationArgs struct {
		VerificationToken *store.VerificationToken `json:"verificationToken"`
	}
	useTokenArgs struct {
		Identifier string `json:"identifier"`
		Token      string `json:"token"`
	}
	authenticatorArgs struct {
		Authenticator *store.Authenticator `json:"authenticator"`
	}
	credentialArgs struct {
		CredentialID string `json:"credentialID"`
	}
	counterArgs struct {
		CredentialID string `json:"credentialID"`
		NewCounter   int64  `json:"newCounter"`
	}

	projectArgs struct {
		UserID    string `json:"userId"`
		ProjectID string `json:"projectId"`
	}
	createProjectArgs struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	createLabelArgs struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	todoArgs struct {
		UserID string `json:"userId"`
		TodoID string `json:"todoId"`
	}
	createTodoArgs struct {
		UserID string      `json:"userId"`
		Todo   *store.Todo `json:"todo"`
	}
	parentArgs struct {
		UserID   string `json:"userId"`
		ParentID string `json:"parentId"`
	}
	createSubTodoArgs struct {
		UserID  string         `json:"userId"`
		SubTodo *store.SubTodo `json:"subTodo"`
	}
	searchArgs struct {
		UserID string    `json:"userId"`
		Vector []float64 `json:"vector"`
		Limit  int       `json:"limit"`
	}
)

// SessionAndUser is the joined result of a session lookup.
type SessionAndUser struct {
	Session *store.Session `json:"session"`
	User    *store.User    `json:"user"`
}

const defaultSearchLimit = 10

func (s *Server) registry() map[string]function {
	st := s.store
	q := func(h handlerFunc) function { return function{kind: KindQuery, handler: h} }
	m := func(h handlerFunc) function { return function{kind: KindMutation, handler: h} }

	return map[string]function{
		FnCreateUser: m(handle(func(ctx context.Context, a userArgs) (any, error) {
			if a.User == nil {
				return nil, badArgs("user is required")
			}
			if err := required("user.email", a.User.Email); err != nil {
				return nil, err
			}
			u := *a.User
			u.ID = ""
			if err := st.CreateUser(ctx, &u); err != nil {
				return nil, err
			}
			return u.ID, nil
		})),
		FnGetUser: q(handle(func(ctx context.Context, a idArgs) (any, error) {
			return orNull(st.GetUser(ctx, a.ID))
		})),
		FnGetUserByEmail: q(handle(func(ctx context.Context, a emailArgs) (any, error) {
			return orNull(st.GetUserByEmail(ctx, a.Email))
		})),
		FnGetUserByAccount: q(handle(func(ctx context.Context, a providerArgs) (any, error) {
			return orNull(st.GetUserByAccount(ctx, a.Provider, a.ProviderAccountID))
		})),
		FnUpdateUser: m(handle(func(ctx context.Context, a userArgs) (any, error) {
			if a.User == nil {
				return nil, badArgs("user is required")
			}
			if err := required("user.id", a.User.ID); err != nil {
				return nil, err
			}
			return st.UpdateUser(ctx, a.User)
		})),
		FnDeleteUser: m(handle(func(ctx context.Context, a idArgs) (any, error) {
			return orNull(st.DeleteUser(ctx, a.ID))
		})),
		FnListUsers: q(handle(func(ctx context.Context, _ struct{}) (any, error) {
			return list(st.ListUsers(ctx))
		})),

		FnLinkAccount: m(handle(func(ctx context.Context, a accountArgs) (any, error) {
			if a.Account == nil {
				return nil, badArgs("account is required")
			}
			acct := *a.Account
			if err := required("account.userId", acct.UserID, "account.provider", acct.Provider,
				"account.providerAccountId", acct.ProviderAccountID); err != nil {
				return nil, err
			}
			acct.ID = ""
			if err := st.LinkAccount(ctx, &acct); err != nil {
				return nil, err
			}
			return acct.ID, nil
		})),
		FnUnlinkAccount: m(handle(func(ctx context.Context, a providerArgs) (any, error) {
			return orNull(st.UnlinkAccount(ctx, a.Provider, a.ProviderAccountID))
		})),
		FnGetAccount: q(handle(func(ctx context.Context, a providerArgs) (any, error) {
			return orNull(st.GetAccount(ctx, a.Provider, a.ProviderAccountID))
		})),

		FnCreateSession: m(handle(func(ctx context.Context, a sessionArgs) (any, error) {
			if a.Session == nil {
				return nil, badArgs("session is required")
			}
			sess := *a.Session
			if err := required("session.userId", sess.UserID, "session.sessionToken", sess.SessionToken); err != nil {
				return nil, err
			}
			sess.ID = ""
			if err := st.CreateSession(ctx, &sess); err != nil {
				return nil, err
			}
			return sess.ID, nil
		})),
		FnGetSessionAndUser: q(handle(func(ctx context.Context, a sessionTokenArgs) (any, error) {
			sess, user, err := st.GetSessionAndUser(ctx, a.SessionToken)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &SessionAndUser{Session: sess, User: user}, nil
		})),
		FnUpdateSession: m(handle(func(ctx context.Context, a sessionArgs) (any, error) {
			if a.Session == nil {
				return nil, badArgs("session is required")
			}
			return orNull(st.UpdateSession(ctx, a.Session.SessionToken, a.Session.Expires))
		})),
		FnDeleteSession: m(handle(func(ctx context.Context, a sessionTokenArgs) (any, error) {
			return orNull(st.DeleteSession(ctx, a.SessionToken))
		})),
		FnListSessionsByUserID: q(handle(func(ctx context.Context, a userIDArgs) (any, error) {
			return list(st.ListSessionsByUser(ctx, a.UserID))
		})),
		FnDeleteExpiredSessions: m(handle(func(ctx context.Context, a nowArgs) (any, error) {
			return st.DeleteExpiredSessions(ctx, a.Now)
		})),

		FnCreateVerificationToken: m(handle(func(ctx context.Context, a verificationArgs) (any, error) {
			if a.VerificationToken == nil {
				return nil, badArgs("verificationToken is required")
			}
			vt := a.VerificationToken
			if err := required("verificationToken.identifier", vt.Identifier, "verificationToken.token", vt.Token); err != nil {
				return nil, err
			}
			if err := st.CreateVerificationToken(ctx, vt); err != nil {
				return nil, err
			}
			return nil, nil
		})),
		FnUseVerificationToken: m(handle(func(ctx context.Context, a useTokenArgs) (any, error) {
			return orNull(st.UseVerificationToken(ctx, a.Identifier, a.Token))
		})),

		FnCreateAuthenticator: m(handle(func(ctx context.Context, a authenticatorArgs) (any, error) {
			if a.Authenticator == nil {
				return nil, badArgs("authenticator is required")
			}
			auth := *a.Authenticator
			if err := required("authenticator.credentialID", auth.CredentialID, "authenticator.userId", auth.UserID); err != nil {
				return nil, err
			}
			auth.ID = ""
			if err := st.CreateAuthenticator(ctx, &auth); err != nil {
				return nil, err
			}
			return auth.ID, nil
		})),
		FnGetAuthenticator: q(handle(func(ctx context.Context, a credentialArgs) (any, error) {
			return orNull(st.GetAuthenticator(ctx, a.CredentialID))
		})),
		FnListAuthenticatorsByUserID: q(handle(func(ctx context.Context, a userIDArgs) (any, error) {
			return list(st.ListAuthenticatorsByUserID(ctx, a.UserID))
		})),
		FnUpdateAuthenticatorCounter: m(handle(func(ctx context.Context, a counterArgs) (any, error) {
			return st.UpdateAuthenticatorCounter(ctx, a.CredentialID, a.NewCounter)
		})),

		FnGetProjectByID: q(handle(func(ctx context.Context, a projectArgs) (any, error) {
			if err := required("userId", a.UserID); err != nil {
				return nil, err
			}
			return orNull(st.GetProject(ctx, a.UserID, a.ProjectID))
		})),
		FnGetProjects: q(handle(func(ctx context.Context, a userIDArgs) (any, error) {
			if err := required("userId", a.UserID); err != nil {
				return nil, err
			}
			return list(st.ListProjects(ctx, a.UserID))
		})),
		FnCreateProject: m(handle(func(ctx context.Context, a createProjectArgs) (any, error) {
			if err := required("userId", a.UserID, "name", a.Name); err != nil {
				return nil, err
			}
			p := &store.Project{UserID: a.UserID, Name: a.Name, Type: store.OwnerUser}
			if err := st.CreateProject(ctx, p); err != nil {
				return nil, err
			}
			return p, nil
		})),

		FnGetLabels: q(handle(func(ctx context.Context, a userIDArgs) (any, error) {
			if err := required("userId", a.UserID); err != nil {
				return nil, err
			}
			return list(st.ListLabels(ctx, a.UserID))
		})),
		FnCreateLabel: m(handle(func(ctx context.Context, a createLabelArgs) (any, error) {
			if err := required("userId", a.UserID, "name", a.Name); err != nil {
				return nil, err
			}
			l := &store.Label{UserID: a.UserID, Name: a.Name, Type: store.OwnerUser}
			if err := st.CreateLabel(ctx, l); err != nil {
				return nil, err
			}
			return l, nil
		})),

		FnGetTodosByProjectID: q(handle(func(ctx context.Context, a projectArgs) (any, error) {
			if err := required("userId", a.UserID, "projectId", a.ProjectID); err != nil {
				return nil, err
			}
			return list(st.ListTodosByProject(ctx, a.UserID, a.ProjectID))
		})),
		FnGetTodos: q(handle(func(ctx context.Context, a userIDArgs) (any, error) {
			if err := required("userId", a.UserID); err != nil {
				return nil, err
			}
			return list(st.ListTodos(ctx, a.UserID))
		})),
		FnGetTodoByID: q(handle(func(ctx context.Context, a todoArgs) (any, error) {
			if err := required("userId", a.UserID); err != nil {
				return nil, err
			}
			return orNull(st.GetTodo(ctx, a.UserID, a.TodoID))
		})),
		FnCreateTodo: m(handle(func(ctx context.Context, a createTodoArgs) (any, error) {
			if a.Todo == nil {
				return nil, badArgs("todo is required")
			}
			todo := *a.Todo
			todo.ID = ""
			todo.UserID = a.UserID
			if err := required("userId", todo.UserID, "todo.projectId", todo.ProjectID,
				"todo.labelId", todo.LabelID, "todo.taskName", todo.TaskName); err != nil {
				return nil, err
			}
			if err := st.CreateTodo(ctx, &todo); err != nil {
				return nil, err
			}
			return todo.ID, nil
		})),
		FnCheckTodo: m(handle(func(ctx context.Context, a todoArgs) (any, error) {
			return setCompleted(ctx, st, a, true)
		})),
		FnUncheckTodo: m(handle(func(ctx context.Context, a todoArgs) (any, error) {
			return setCompleted(ctx, st, a, false)
		})),
		FnDeleteTodo: m(handle(func(ctx context.Context, a todoArgs) (any, error) {
			if err := required("userId", a.UserID); err != nil {
				return nil, err
			}
			err := st.DeleteTodo(ctx, a.UserID, a.TodoID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return a.TodoID, nil
		})),
		FnSearchTodos: q(handle(func(ctx context.Context, a searchArgs) (any, error) {
			if err := required("userId", a.UserID); err != nil {
				return nil, err
			}
			return list(st.SearchTodos(ctx, a.UserID, a.Vector, searchLimit(a.Limit)))
		})),

		FnGetSubTodosByParentID: q(handle(func(ctx context.Context, a parentArgs) (any, error) {
			if err := required("userId", a.UserID, "parentId", a.ParentID); err != nil {
				return nil, err
			}
			return list(st.ListSubTodosByParent(ctx, a.UserID, a.ParentID))
		})),
		FnCreateSubTodo: m(handle(func(ctx context.Context, a createSubTodoArgs) (any, error) {
			if a.SubTodo == nil {
				return nil, badArgs("subTodo is required")
			}
			sub := *a.SubTodo
			sub.ID = ""
			sub.UserID = a.UserID
			if err := required("userId", sub.UserID, "subTodo.parentId", sub.ParentID,
				"subTodo.projectId", sub.ProjectID, "subTodo.labelId", sub.LabelID,
				"subTodo.taskName", sub.TaskName); err != nil {
				return nil, err
			}
			if err := st.CreateSubTodo(ctx, &sub); err != nil {
				return nil, err
			}
			return sub.ID, nil
		})),
		FnSearchSubTodos: q(handle(func(ctx context.Context, a searchArgs) (any, error) {
			if err := required("userId", a.UserID); err != nil {
				return nil, err
			}
			return list(st.SearchSubTodos(ctx, a.UserID, a.Vector, searchLimit(a.Limit)))
		})),
	}
}

func setCompleted(ctx context.Context, st store.Store, a todoArgs, completed bool) (any, error) {
	if err := required("userId", a.UserID, "todoId", a.TodoID); err != nil {
		return nil, err
	}
	if err := st.SetTodoCompleted(ctx, a.UserID, a.TodoID, completed); err != nil {
		return nil, err
	}
	return a.TodoID, nil
}

func searchLimit(n int) int {
	if n <= 0 {
		return defaultSearchLimit
	}
	return n
}
