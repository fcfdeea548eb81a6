// ABOUTME: Task persistence: projects, labels, todos and sub-todos with stored embeddings
// ABOUTME: Reads are scoped to the requesting user; system projects and labels are shared

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateProject inserts a project and assigns its ID.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = newID()
	}
	if project.Type == "" {
		project.Type = OwnerUser
	}

	query := `
		INSERT INTO projects (id, user_id, name, type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, project.ID, nullString(project.UserID), project.Name, project.Type, nowMillis())
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}

	s.logger.Info("created project", "id", project.ID, "user_id", project.UserID)
	return nil
}

const projectColumns = `id, user_id, name, type`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var userID sql.NullString
	if err := row.Scan(&p.ID, &userID, &p.Name, &p.Type); err != nil {
		return nil, err
	}
	p.UserID = userID.String
	return &p, nil
}

// GetProject returns a project owned by userID or a system project.
// Projects owned by other users are reported as ErrNotFound.
func (s *SQLiteStore) GetProject(ctx context.Context, userID, id string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ? AND (user_id = ? OR user_id IS NULL)`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return p, nil
}

// ListProjects returns system projects followed by the user's own.
func (s *SQLiteStore) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE user_id = ? OR user_id IS NULL
		ORDER BY type, created_at, name
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project rows: %w", err)
	}
	return projects, nil
}

// CreateLabel inserts a label and assigns its ID.
func (s *SQLiteStore) CreateLabel(ctx context.Context, label *Label) error {
	if label.ID == "" {
		label.ID = newID()
	}
	if label.Type == "" {
		label.Type = OwnerUser
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO labels (id, name, type, user_id) VALUES (?, ?, ?, ?)`,
		label.ID, label.Name, label.Type, nullString(label.UserID))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("creating label: %w", ErrDuplicate)
		}
		return fmt.Errorf("inserting label: %w", err)
	}
	return nil
}

func scanLabel(row interface{ Scan(...any) error }) (*Label, error) {
	var l Label
	var userID sql.NullString
	if err := row.Scan(&l.ID, &l.Name, &l.Type, &userID); err != nil {
		return nil, err
	}
	l.UserID = userID.String
	return &l, nil
}

// GetLabel retrieves a label by ID.
func (s *SQLiteStore) GetLabel(ctx context.Context, id string) (*Label, error) {
	l, err := scanLabel(s.db.QueryRowContext(ctx, `SELECT id, name, type, user_id FROM labels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying label: %w", err)
	}
	return l, nil
}

// ListLabels returns system labels and the user's own labels.
func (s *SQLiteStore) ListLabels(ctx context.Context, userID string) ([]*Label, error) {
	query := `
		SELECT id, name, type, user_id
		FROM labels
		WHERE user_id = ? OR user_id IS NULL
		ORDER BY type, name
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var labels []*Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning label: %w", err)
		}
		labels = append(labels, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating label rows: %w", err)
	}
	return labels, nil
}

// CreateTodo inserts a todo and assigns its ID and creation time.
func (s *SQLiteStore) CreateTodo(ctx context.Context, todo *Todo) error {
	if todo.ID == "" {
		todo.ID = newID()
	}
	todo.CreationTime = nowMillis()

	query := `
		INSERT INTO todos (id, user_id, project_id, label_id, task_name, description,
		                   due_date, priority, is_completed, embedding, embedding_dims, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		todo.ID,
		todo.UserID,
		todo.ProjectID,
		todo.LabelID,
		todo.TaskName,
		nullString(todo.Description),
		todo.DueDate,
		nullFloat(todo.Priority),
		boolToInt(todo.IsCompleted),
		encodeVector(todo.Embedding),
		len(todo.Embedding),
		todo.CreationTime,
	)
	if err != nil {
		return fmt.Errorf("inserting todo: %w", err)
	}

	s.logger.Debug("created todo", "id", todo.ID, "project_id", todo.ProjectID, "dims", len(todo.Embedding))
	return nil
}

const todoColumns = `id, created_at, user_id, project_id, label_id, task_name, description,
	due_date, priority, is_completed, embedding`

// scanTodoInto fills t from a row selected with todoColumns plus any extra destinations.
func scanTodoInto(row interface{ Scan(...any) error }, t *Todo, extra ...any) error {
	var description sql.NullString
	var priority sql.NullFloat64
	var completed int
	var blob []byte

	dest := []any{&t.ID, &t.CreationTime, &t.UserID, &t.ProjectID, &t.LabelID, &t.TaskName,
		&description, &t.DueDate, &priority, &completed, &blob}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return err
	}

	t.Description = description.String
	if priority.Valid {
		p := priority.Float64
		t.Priority = &p
	}
	t.IsCompleted = completed != 0

	vec, err := decodeVector(blob)
	if err != nil {
		return err
	}
	t.Embedding = vec
	return nil
}

// GetTodo returns a todo owned by userID.
func (s *SQLiteStore) GetTodo(ctx context.Context, userID, id string) (*Todo, error) {
	query := `SELECT ` + todoColumns + ` FROM todos WHERE id = ? AND user_id = ?`

	var t Todo
	err := scanTodoInto(s.db.QueryRowContext(ctx, query, id, userID), &t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying todo: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) listTodos(ctx context.Context, where string, args ...any) ([]*Todo, error) {
	query := `SELECT ` + todoColumns + ` FROM todos WHERE ` + where + ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying todos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var todos []*Todo
	for rows.Next() {
		var t Todo
		if err := scanTodoInto(rows, &t); err != nil {
			return nil, fmt.Errorf("scanning todo: %w", err)
		}
		todos = append(todos, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating todo rows: %w", err)
	}
	return todos, nil
}

// ListTodos returns all of a user's todos.
func (s *SQLiteStore) ListTodos(ctx context.Context, userID string) ([]*Todo, error) {
	return s.listTodos(ctx, `user_id = ?`, userID)
}

// ListTodosByProject returns a user's todos in one project.
func (s *SQLiteStore) ListTodosByProject(ctx context.Context, userID, projectID string) ([]*Todo, error) {
	return s.listTodos(ctx, `user_id = ? AND project_id = ?`, userID, projectID)
}

// SetTodoCompleted checks or unchecks a todo.
func (s *SQLiteStore) SetTodoCompleted(ctx context.Context, userID, id string, completed bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE todos SET is_completed = ? WHERE id = ? AND user_id = ?`,
		boolToInt(completed), id, userID)
	if err != nil {
		return fmt.Errorf("updating todo: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTodo removes a todo and its sub-todos.
func (s *SQLiteStore) DeleteTodo(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting todo: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted todo", "id", id)
	return nil
}

// CreateSubTodo inserts a sub-todo under a parent owned by the same user.
func (s *SQLiteStore) CreateSubTodo(ctx context.Context, st *SubTodo) error {
	if _, err := s.GetTodo(ctx, st.UserID, st.ParentID); err != nil {
		return fmt.Errorf("looking up parent todo: %w", err)
	}

	if st.ID == "" {
		st.ID = newID()
	}
	st.CreationTime = nowMillis()

	query := `
		INSERT INTO sub_todos (id, user_id, project_id, label_id, parent_id, task_name, description,
		                       due_date, priority, is_completed, embedding, embedding_dims, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		st.ID,
		st.UserID,
		st.ProjectID,
		st.LabelID,
		st.ParentID,
		st.TaskName,
		nullString(st.Description),
		st.DueDate,
		nullFloat(st.Priority),
		boolToInt(st.IsCompleted),
		encodeVector(st.Embedding),
		len(st.Embedding),
		st.CreationTime,
	)
	if err != nil {
		return fmt.Errorf("inserting sub-todo: %w", err)
	}

	s.logger.Debug("created sub-todo", "id", st.ID, "parent_id", st.ParentID, "dims", len(st.Embedding))
	return nil
}

// ListSubTodosByParent returns the sub-todos of a parent todo.
func (s *SQLiteStore) ListSubTodosByParent(ctx context.Context, userID, parentID string) ([]*SubTodo, error) {
	query := `SELECT ` + todoColumns + `, parent_id FROM sub_todos WHERE user_id = ? AND parent_id = ? ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, userID, parentID)
	if err != nil {
		return nil, fmt.Errorf("querying sub-todos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subTodos []*SubTodo
	for rows.Next() {
		var st SubTodo
		if err := scanTodoInto(rows, &st.Todo, &st.ParentID); err != nil {
			return nil, fmt.Errorf("scanning sub-todo: %w", err)
		}
		subTodos = append(subTodos, &st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sub-todo rows: %w", err)
	}
	return subTodos, nil
}

// SearchTodos ranks the user's embedded todos by cosine similarity to vector.
func (s *SQLiteStore) SearchTodos(ctx context.Context, userID string, vector []float64, limit int) ([]*ScoredTodo, error) {
	return s.search(ctx, "todos", userID, vector, limit)
}

// SearchSubTodos ranks the user's embedded sub-todos by cosine similarity to vector.
func (s *SQLiteStore) SearchSubTodos(ctx context.Context, userID string, vector []float64, limit int) ([]*ScoredTodo, error) {
	return s.search(ctx, "sub_todos", userID, vector, limit)
}

func (s *SQLiteStore) search(ctx context.Context, table, userID string, vector []float64, limit int) ([]*ScoredTodo, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}

	parentCol := "''"
	if table == "sub_todos" {
		parentCol = "parent_id"
	}

	var b strings.Builder
	b.WriteString(`SELECT `)
	b.WriteString(todoColumns)
	b.WriteString(`, `)
	b.WriteString(parentCol)
	b.WriteString(` FROM `)
	b.WriteString(table)
	b.WriteString(` WHERE user_id = ? AND embedding_dims = ?`)

	rows, err := s.db.QueryContext(ctx, b.String(), userID, len(vector))
	if err != nil {
		return nil, fmt.Errorf("querying %s for search: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	top := newTopK(limit)
	for rows.Next() {
		hit := &ScoredTodo{}
		if err := scanTodoInto(rows, &hit.Todo, &hit.ParentID); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		hit.Score = cosine(vector, hit.Embedding)
		top.offer(hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", table, err)
	}
	return top.results(), nil
}
