// ABOUTME: Contract tests for task persistence, run against SQLite and the mock
// ABOUTME: Covers ownership scoping, embeddings round-trip, sub-todos, and vector search

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUserProject(t *testing.T, s Store, email string) (*User, *Project) {
	t.Helper()
	ctx := context.Background()

	u := &User{Email: email}
	require.NoError(t, s.CreateUser(ctx, u))
	p := &Project{UserID: u.ID, Name: "Launch"}
	require.NoError(t, s.CreateProject(ctx, p))
	return u, p
}

func TestTasks_ProjectScoping(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice, project := seedUserProject(t, s, "alice@example.com")
		bob, _ := seedUserProject(t, s, "bob@example.com")

		got, err := s.GetProject(ctx, alice.ID, project.ID)
		require.NoError(t, err)
		assert.Equal(t, "Launch", got.Name)
		assert.Equal(t, OwnerUser, got.Type)

		_, err = s.GetProject(ctx, bob.ID, project.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetProject(ctx, alice.ID, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		system := &Project{Name: "Inbox", Type: OwnerSystem}
		require.NoError(t, s.CreateProject(ctx, system))
		_, err = s.GetProject(ctx, bob.ID, system.ID)
		assert.NoError(t, err, "system projects are visible to everyone")

		projects, err := s.ListProjects(ctx, alice.ID)
		require.NoError(t, err)
		var names []string
		for _, p := range projects {
			names = append(names, p.Name)
		}
		assert.Contains(t, names, "Launch")
		assert.Contains(t, names, "Inbox")
		assert.Equal(t, OwnerSystem, projects[0].Type)
	})
}

func TestTasks_Labels(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice, _ := seedUserProject(t, s, "alice@example.com")

		mine := &Label{Name: "Garden", UserID: alice.ID}
		require.NoError(t, s.CreateLabel(ctx, mine))

		labels, err := s.ListLabels(ctx, alice.ID)
		require.NoError(t, err)
		var ids []string
		for _, l := range labels {
			ids = append(ids, l.ID)
		}
		assert.Contains(t, ids, AILabelID)
		assert.Contains(t, ids, mine.ID)

		others, err := s.ListLabels(ctx, "someone-else")
		require.NoError(t, err)
		for _, l := range others {
			assert.NotEqual(t, mine.ID, l.ID)
		}

		_, err = s.GetLabel(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTasks_TodoLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice, project := seedUserProject(t, s, "alice@example.com")

		priority := 1.0
		todo := &Todo{
			UserID:      alice.ID,
			ProjectID:   project.ID,
			LabelID:     AILabelID,
			TaskName:    "Write launch post",
			Description: "Draft and *review*",
			DueDate:     1718000000000,
			Priority:    &priority,
			Embedding:   []float64{0.1, -0.25, 3.5e-7},
		}
		require.NoError(t, s.CreateTodo(ctx, todo))
		require.NotEmpty(t, todo.ID)
		assert.NotZero(t, todo.CreationTime)

		got, err := s.GetTodo(ctx, alice.ID, todo.ID)
		require.NoError(t, err)
		assert.Equal(t, todo.TaskName, got.TaskName)
		assert.Equal(t, todo.Description, got.Description)
		assert.Equal(t, int64(1718000000000), got.DueDate)
		require.NotNil(t, got.Priority)
		assert.Equal(t, 1.0, *got.Priority)
		assert.Equal(t, todo.Embedding, got.Embedding)
		assert.False(t, got.IsCompleted)

		_, err = s.GetTodo(ctx, "other-user", todo.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		plain := &Todo{UserID: alice.ID, ProjectID: project.ID, LabelID: AILabelID, TaskName: "No extras"}
		require.NoError(t, s.CreateTodo(ctx, plain))
		gotPlain, err := s.GetTodo(ctx, alice.ID, plain.ID)
		require.NoError(t, err)
		assert.Nil(t, gotPlain.Priority)
		assert.Nil(t, gotPlain.Embedding)
		assert.Empty(t, gotPlain.Description)

		byProject, err := s.ListTodosByProject(ctx, alice.ID, project.ID)
		require.NoError(t, err)
		require.Len(t, byProject, 2)
		assert.Equal(t, todo.ID, byProject[0].ID)
		assert.Equal(t, plain.ID, byProject[1].ID)

		require.NoError(t, s.SetTodoCompleted(ctx, alice.ID, todo.ID, true))
		got, err = s.GetTodo(ctx, alice.ID, todo.ID)
		require.NoError(t, err)
		assert.True(t, got.IsCompleted)

		assert.ErrorIs(t, s.SetTodoCompleted(ctx, "other-user", todo.ID, false), ErrNotFound)

		require.NoError(t, s.DeleteTodo(ctx, alice.ID, plain.ID))
		assert.ErrorIs(t, s.DeleteTodo(ctx, alice.ID, plain.ID), ErrNotFound)

		all, err := s.ListTodos(ctx, alice.ID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestTasks_TodoRequiresExistingProject(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice, _ := seedUserProject(t, s, "alice@example.com")

		err := s.CreateTodo(ctx, &Todo{UserID: alice.ID, ProjectID: "missing", LabelID: AILabelID, TaskName: "x"})
		assert.Error(t, err)
	})
}

func TestTasks_SubTodos(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice, project := seedUserProject(t, s, "alice@example.com")

		parent := &Todo{UserID: alice.ID, ProjectID: project.ID, LabelID: AILabelID, TaskName: "Parent"}
		require.NoError(t, s.CreateTodo(ctx, parent))

		for _, name := range []string{"first", "second"} {
			st := &SubTodo{
				Todo:     Todo{UserID: alice.ID, ProjectID: project.ID, LabelID: AILabelID, TaskName: name},
				ParentID: parent.ID,
			}
			require.NoError(t, s.CreateSubTodo(ctx, st))
			assert.NotEmpty(t, st.ID)
		}

		subs, err := s.ListSubTodosByParent(ctx, alice.ID, parent.ID)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, "first", subs[0].TaskName)
		assert.Equal(t, parent.ID, subs[1].ParentID)

		orphan := &SubTodo{
			Todo:     Todo{UserID: alice.ID, ProjectID: project.ID, LabelID: AILabelID, TaskName: "orphan"},
			ParentID: "missing",
		}
		assert.ErrorIs(t, s.CreateSubTodo(ctx, orphan), ErrNotFound)

		require.NoError(t, s.DeleteTodo(ctx, alice.ID, parent.ID))
		subs, err = s.ListSubTodosByParent(ctx, alice.ID, parent.ID)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestTasks_Search(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice, project := seedUserProject(t, s, "alice@example.com")
		bob, bobProject := seedUserProject(t, s, "bob@example.com")

		mk := func(userID, projectID, name string, vec []float64) *Todo {
			todo := &Todo{UserID: userID, ProjectID: projectID, LabelID: AILabelID, TaskName: name, Embedding: vec}
			require.NoError(t, s.CreateTodo(ctx, todo))
			return todo
		}
		mk(alice.ID, project.ID, "east", []float64{1, 0})
		mk(alice.ID, project.ID, "north", []float64{0, 1})
		mk(alice.ID, project.ID, "northeast", []float64{1, 1})
		mk(alice.ID, project.ID, "unembedded", nil)
		mk(bob.ID, bobProject.ID, "bob-east", []float64{1, 0})

		hits, err := s.SearchTodos(ctx, alice.ID, []float64{1, 0.1}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "east", hits[0].TaskName)
		assert.Equal(t, "northeast", hits[1].TaskName)
		assert.Greater(t, hits[0].Score, hits[1].Score)

		none, err := s.SearchTodos(ctx, alice.ID, []float64{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, none, "dimension mismatch never matches")

		parent := mk(alice.ID, project.ID, "parent", nil)
		require.NoError(t, s.CreateSubTodo(ctx, &SubTodo{
			Todo:     Todo{UserID: alice.ID, ProjectID: project.ID, LabelID: AILabelID, TaskName: "child", Embedding: []float64{0, 1}},
			ParentID: parent.ID,
		}))
		subHits, err := s.SearchSubTodos(ctx, alice.ID, []float64{0, 1}, 3)
		require.NoError(t, err)
		require.Len(t, subHits, 1)
		assert.Equal(t, parent.ID, subHits[0].ParentID)
		assert.InDelta(t, 1.0, subHits[0].Score, 1e-9)
	})
}
