// ABOUTME: Typed task operations over the backend client
// ABOUTME: Mirrors the store's TaskStore shape so callers can use either

package backend

import (
	"context"
	"fmt"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/store"
)

// TaskClient reads and writes projects, labels, todos and sub-todos through
// the backend. Missing documents come back as errors wrapping store.ErrNotFound.
type TaskClient struct {
	c *Client
}

// NewTaskClient wraps a backend client.
func NewTaskClient(c *Client) *TaskClient {
	return &TaskClient{c: c}
}

func notFound(path, what, id string) error {
	return &apperr.Error{
		Kind: apperr.NotFound,
		Op:   path,
		Msg:  what + " not found",
		Err:  fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound),
	}
}

func (t *TaskClient) GetProject(ctx context.Context, userID, projectID string) (*store.Project, error) {
	var p store.Project
	found, err := t.c.Query(ctx, FnGetProjectByID, projectArgs{UserID: userID, ProjectID: projectID}, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(FnGetProjectByID, "project", projectID)
	}
	return &p, nil
}

func (t *TaskClient) ListProjects(ctx context.Context, userID string) ([]*store.Project, error) {
	var out []*store.Project
	_, err := t.c.Query(ctx, FnGetProjects, userIDArgs{UserID: userID}, &out)
	return out, err
}

func (t *TaskClient) CreateProject(ctx context.Context, userID, name string) (*store.Project, error) {
	var p store.Project
	if _, err := t.c.Mutation(ctx, FnCreateProject, createProjectArgs{UserID: userID, Name: name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *TaskClient) ListLabels(ctx context.Context, userID string) ([]*store.Label, error) {
	var out []*store.Label
	_, err := t.c.Query(ctx, FnGetLabels, userIDArgs{UserID: userID}, &out)
	return out, err
}

func (t *TaskClient) CreateLabel(ctx context.Context, userID, name string) (*store.Label, error) {
	var l store.Label
	if _, err := t.c.Mutation(ctx, FnCreateLabel, createLabelArgs{UserID: userID, Name: name}, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *TaskClient) ListTodos(ctx context.Context, userID string) ([]*store.Todo, error) {
	var out []*store.Todo
	_, err := t.c.Query(ctx, FnGetTodos, userIDArgs{UserID: userID}, &out)
	return out, err
}

func (t *TaskClient) ListTodosByProject(ctx context.Context, userID, projectID string) ([]*store.Todo, error) {
	var out []*store.Todo
	_, err := t.c.Query(ctx, FnGetTodosByProjectID, projectArgs{UserID: userID, ProjectID: projectID}, &out)
	return out, err
}

func (t *TaskClient) GetTodo(ctx context.Context, userID, todoID string) (*store.Todo, error) {
	var todo store.Todo
	found, err := t.c.Query(ctx, FnGetTodoByID, todoArgs{UserID: userID, TodoID: todoID}, &todo)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(FnGetTodoByID, "todo", todoID)
	}
	return &todo, nil
}

// CreateTodo persists todo and sets its ID.
func (t *TaskClient) CreateTodo(ctx context.Context, todo *store.Todo) error {
	var id string
	if _, err := t.c.Mutation(ctx, FnCreateTodo, createTodoArgs{UserID: todo.UserID, Todo: todo}, &id); err != nil {
		return err
	}
	todo.ID = id
	return nil
}

func (t *TaskClient) SetTodoCompleted(ctx context.Context, userID, todoID string, completed bool) error {
	path := FnUncheckTodo
	if completed {
		path = FnCheckTodo
	}
	_, err := t.c.Mutation(ctx, path, todoArgs{UserID: userID, TodoID: todoID}, nil)
	return err
}

func (t *TaskClient) DeleteTodo(ctx context.Context, userID, todoID string) error {
	found, err := t.c.Mutation(ctx, FnDeleteTodo, todoArgs{UserID: userID, TodoID: todoID}, nil)
	if err != nil {
		return err
	}
	if !found {
		return notFound(FnDeleteTodo, "todo", todoID)
	}
	return nil
}

// CreateSubTodo persists sub and sets its ID.
func (t *TaskClient) CreateSubTodo(ctx context.Context, sub *store.SubTodo) error {
	var id string
	if _, err := t.c.Mutation(ctx, FnCreateSubTodo, createSubTodoArgs{UserID: sub.UserID, SubTodo: sub}, &id); err != nil {
		return err
	}
	sub.ID = id
	return nil
}

func (t *TaskClient) ListSubTodosByParent(ctx context.Context, userID, parentID string) ([]*store.SubTodo, error) {
	var out []*store.SubTodo
	_, err := t.c.Query(ctx, FnGetSubTodosByParentID, parentArgs{UserID: userID, ParentID: parentID}, &out)
	return out, err
}

func (t *TaskClient) SearchTodos(ctx context.Context, userID string, vector []float64, limit int) ([]*store.ScoredTodo, error) {
	var out []*store.ScoredTodo
	_, err := t.c.Query(ctx, FnSearchTodos, searchArgs{UserID: userID, Vector: vector, Limit: limit}, &out)
	return out, err
}

func (t *TaskClient) SearchSubTodos(ctx context.Context, userID string, vector []float64, limit int) ([]*store.ScoredTodo, error) {
	var out []*store.ScoredTodo
	_, err := t.c.Query(ctx, FnSearchSubTodos, searchArgs{UserID: userID, Vector: vector, Limit: limit}, &out)
	return out, err
}
