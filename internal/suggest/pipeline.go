// ABOUTME: Suggestion pipeline that asks a chat model for new todos and stores them embedded
// ABOUTME: Candidates are validated as a batch, embedded concurrently, then persisted in order

package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/openai"
	"github.com/2389/todovex/internal/store"
)

// DefaultConcurrency bounds in-flight embedding calls per invocation.
const DefaultConcurrency = 4

const defaultPriority = 1.0

// Tasks is the slice of the task store the pipeline needs. Both
// store.Store and backend.TaskClient satisfy it.
type Tasks interface {
	GetProject(ctx context.Context, userID, projectID string) (*store.Project, error)
	ListTodosByProject(ctx context.Context, userID, projectID string) ([]*store.Todo, error)
	GetTodo(ctx context.Context, userID, todoID string) (*store.Todo, error)
	ListSubTodosByParent(ctx context.Context, userID, parentID string) ([]*store.SubTodo, error)
	CreateTodo(ctx context.Context, todo *store.Todo) error
	CreateSubTodo(ctx context.Context, subTodo *store.SubTodo) error
}

// ChatModel produces a single completion.
type ChatModel interface {
	Chat(ctx context.Context, req openai.ChatRequest) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config wires a Pipeline.
type Config struct {
	Tasks       Tasks
	Chat        ChatModel
	Embedder    Embedder
	ChatModel   string
	AILabelID   string
	Concurrency int
	Now         func() time.Time
	Logger      *slog.Logger
}

// Pipeline generates and stores AI suggestions. It holds no per-call state
// and is safe for concurrent use.
type Pipeline struct {
	tasks       Tasks
	chat        ChatModel
	embedder    Embedder
	model       string
	labelID     string
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// New validates cfg and returns a pipeline.
func New(cfg Config) (*Pipeline, error) {
	const op = "suggest.New"
	switch {
	case cfg.Tasks == nil:
		return nil, apperr.New(apperr.Configuration, op, "task store is required")
	case cfg.Chat == nil:
		return nil, apperr.New(apperr.Configuration, op, "chat model is required")
	case cfg.Embedder == nil:
		return nil, apperr.New(apperr.Configuration, op, "embedder is required")
	}

	p := &Pipeline{
		tasks:       cfg.Tasks,
		chat:        cfg.Chat,
		embedder:    cfg.Embedder,
		model:       cfg.ChatModel,
		labelID:     cfg.AILabelID,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
	if p.model == "" {
		p.model = openai.DefaultChatModel
	}
	if p.labelID == "" {
		p.labelID = store.AILabelID
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "suggest")
	return p, nil
}

// SuggestForProject asks for five new todos for a project and stores them.
// It is not idempotent: every call adds rows.
func (p *Pipeline) SuggestForProject(ctx context.Context, userID, projectID string) ([]store.Todo, error) {
	created, err := p.suggestForProject(ctx, userID, projectID)
	if err != nil {
		p.logger.Error("project suggestions failed", "project_id", projectID, "kind", apperr.KindOf(err).String(), "error", err)
	}
	return created, err
}

func (p *Pipeline) suggestForProject(ctx context.Context, userID, projectID string) ([]store.Todo, error) {
	const op = "suggest.SuggestForProject"
	if userID == "" || projectID == "" {
		return nil, apperr.New(apperr.InvalidArgument, op, "user and project are required")
	}

	project, err := p.project(ctx, op, userID, projectID)
	if err != nil {
		return nil, err
	}
	existing, err := p.tasks.ListTodosByProject(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("%s: list todos: %w", op, err)
	}

	items := make([]existingItem, 0, len(existing))
	for _, t := range existing {
		items = append(items, existingItem{TaskName: t.TaskName, Description: t.Description})
	}
	cands, err := p.ask(ctx, op, projectSystemPrompt, projectPayload{Todos: items, ProjectName: project.Name}, projectTodoCount)
	if err != nil {
		return nil, err
	}
	vectors, err := p.embedAll(ctx, op, cands)
	if err != nil {
		return nil, err
	}

	dueDate := p.now().UnixMilli()
	created := make([]store.Todo, 0, len(cands))
	for i, c := range cands {
		todo := p.newTodo(userID, projectID, c, vectors[i], dueDate)
		if err := p.tasks.CreateTodo(ctx, &todo); err != nil {
			return nil, fmt.Errorf("%s: store suggestion %d of %d: %w", op, i+1, len(cands), err)
		}
		created = append(created, todo)
	}

	p.logger.Info("stored suggestions", "project_id", projectID, "count", len(created))
	return created, nil
}

// SubtaskRequest identifies the parent todo sub-tasks are suggested for.
type SubtaskRequest struct {
	ProjectID   string
	ParentID    string
	TaskName    string
	Description string
}

// SuggestForSubtask asks for two new sub-todos under a parent and stores them.
func (p *Pipeline) SuggestForSubtask(ctx context.Context, userID string, req SubtaskRequest) ([]store.SubTodo, error) {
	created, err := p.suggestForSubtask(ctx, userID, req)
	if err != nil {
		p.logger.Error("sub-task suggestions failed", "parent_id", req.ParentID, "kind", apperr.KindOf(err).String(), "error", err)
	}
	return created, err
}

func (p *Pipeline) suggestForSubtask(ctx context.Context, userID string, req SubtaskRequest) ([]store.SubTodo, error) {
	const op = "suggest.SuggestForSubtask"
	if userID == "" || req.ProjectID == "" || req.ParentID == "" || req.TaskName == "" || req.Description == "" {
		return nil, apperr.New(apperr.InvalidArgument, op, "project, parent, task name and description are required")
	}

	project, err := p.project(ctx, op, userID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if _, err := p.tasks.GetTodo(ctx, userID, req.ParentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &apperr.Error{Kind: apperr.NotFound, Op: op, Msg: "parent todo not found", Err: store.ErrNotFound}
		}
		return nil, fmt.Errorf("%s: get parent: %w", op, err)
	}
	existing, err := p.tasks.ListSubTodosByParent(ctx, userID, req.ParentID)
	if err != nil {
		return nil, fmt.Errorf("%s: list sub-todos: %w", op, err)
	}

	items := make([]existingItem, 0, len(existing))
	for _, t := range existing {
		items = append(items, existingItem{TaskName: t.TaskName, Description: t.Description})
	}
	payload := subtaskPayload{
		Todos:       items,
		ProjectName: project.Name,
		ParentTodo:  existingItem{TaskName: req.TaskName, Description: req.Description},
	}
	cands, err := p.ask(ctx, op, subtaskSystemPrompt, payload, subtaskTodoCount)
	if err != nil {
		return nil, err
	}
	vectors, err := p.embedAll(ctx, op, cands)
	if err != nil {
		return nil, err
	}

	dueDate := p.now().UnixMilli()
	created := make([]store.SubTodo, 0, len(cands))
	for i, c := range cands {
		sub := store.SubTodo{
			Todo:     p.newTodo(userID, req.ProjectID, c, vectors[i], dueDate),
			ParentID: req.ParentID,
		}
		if err := p.tasks.CreateSubTodo(ctx, &sub); err != nil {
			return nil, fmt.Errorf("%s: store suggestion %d of %d: %w", op, i+1, len(cands), err)
		}
		created = append(created, sub)
	}

	p.logger.Info("stored sub-task suggestions", "project_id", req.ProjectID, "parent_id", req.ParentID, "count", len(created))
	return created, nil
}

func (p *Pipeline) project(ctx context.Context, op, userID, projectID string) (*store.Project, error) {
	project, err := p.tasks.GetProject(ctx, userID, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &apperr.Error{Kind: apperr.NotFound, Op: op, Msg: "project not found", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get project: %w", op, err)
	}
	return project, nil
}

func (p *Pipeline) newTodo(userID, projectID string, c candidate, vector []float64, dueDate int64) store.Todo {
	priority := defaultPriority
	return store.Todo{
		UserID:      userID,
		ProjectID:   projectID,
		LabelID:     p.labelID,
		TaskName:    c.TaskName,
		Description: c.Description,
		DueDate:     dueDate,
		Priority:    &priority,
		Embedding:   vector,
	}
}

// ask sends one chat request and returns the validated candidates.
func (p *Pipeline) ask(ctx context.Context, op, system string, payload any, want int) ([]candidate, error) {
	user, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode context: %w", op, err)
	}

	p.logger.Debug("requesting suggestions", "model", p.model, "want", want)
	content, err := p.chat.Chat(ctx, openai.ChatRequest{
		Model:  p.model,
		System: system,
		User:   string(user),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	cands, err := parseCandidates(content)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidResponse, op, err)
	}
	if len(cands) != want {
		p.logger.Debug("model returned a different number of suggestions", "want", want, "got", len(cands))
	}
	return cands, nil
}

// embedAll embeds every candidate's task name with at most p.concurrency
// calls in flight. The first failure cancels the rest.
func (p *Pipeline) embedAll(ctx context.Context, op string, cands []candidate) ([][]float64, error) {
	vectors := make([][]float64, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range cands {
		g.Go(func() error {
			v, err := p.embedder.Embed(gctx, c.TaskName)
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if apperr.KindOf(err) != apperr.Unknown {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Upstream, op, err)
	}
	return vectors, nil
}
