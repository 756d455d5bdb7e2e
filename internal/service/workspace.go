package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

// Workspace errors.
var (
	ErrTitleRequired     = errors.New("title is required")
	ErrProjectIDRequired = errors.New("project id is required")
	ErrProjectNotFound   = errors.New("project not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidProgress   = errors.New("progress must be between 0 and 100")
)

const (
	defaultDocumentLimit = 50
	maxDocumentLimit     = 100
)

// WorkspaceService owns projects, tasks and documents. Every call is
// scoped to the caller.
type WorkspaceService struct {
	repo *repository.Repository
}

// NewWorkspaceService creates a WorkspaceService.
func NewWorkspaceService(repo *repository.Repository) *WorkspaceService {
	return &WorkspaceService{repo: repo}
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// ListProjects returns the caller's projects.
func (s *WorkspaceService) ListProjects(ctx context.Context, userID string) ([]*model.Project, error) {
	return s.repo.ListProjects(ctx, userID)
}

// CreateProject requires a title.
func (s *WorkspaceService) CreateProject(ctx context.Context, userID string, in model.ProjectInput) (*model.Project, error) {
	if blank(in.Title) {
		return nil, ErrTitleRequired
	}
	if err := validProgress(in.Progress); err != nil {
		return nil, err
	}
	return s.repo.CreateProject(ctx, userID, in)
}

// GetProject returns a project owned by the caller.
func (s *WorkspaceService) GetProject(ctx context.Context, userID, id string) (*model.Project, error) {
	p, err := s.repo.GetProject(ctx, userID, id)
	return p, mapWorkspaceErr(err)
}

// UpdateProject applies the non-nil fields.
func (s *WorkspaceService) UpdateProject(ctx context.Context, userID, id string, in model.ProjectInput) (*model.Project, error) {
	if in.Title != nil && blank(in.Title) {
		return nil, ErrTitleRequired
	}
	if err := validProgress(in.Progress); err != nil {
		return nil, err
	}
	p, err := s.repo.UpdateProject(ctx, userID, id, in)
	return p, mapWorkspaceErr(err)
}

// DeleteProject removes a project and, by cascade, its tasks.
func (s *WorkspaceService) DeleteProject(ctx context.Context, userID, id string) error {
	return mapWorkspaceErr(s.repo.DeleteProject(ctx, userID, id))
}

func validProgress(p *int) error {
	if p != nil && (*p < 0 || *p > 100) {
		return ErrInvalidProgress
	}
	return nil
}

// ListTasks requires a project the caller owns.
func (s *WorkspaceService) ListTasks(ctx context.Context, userID, projectID string) ([]*model.Task, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, ErrProjectIDRequired
	}
	if _, err := s.repo.GetProject(ctx, userID, projectID); err != nil {
		return nil, mapWorkspaceErr(err)
	}
	return s.repo.ListTasks(ctx, userID, projectID)
}

// CreateTask adds a task to one of the caller's projects.
func (s *WorkspaceService) CreateTask(ctx context.Context, userID string, in model.TaskInput) (*model.Task, error) {
	if blank(in.Title) {
		return nil, ErrTitleRequired
	}
	if blank(in.ProjectID) {
		return nil, ErrProjectIDRequired
	}
	t, err := s.repo.CreateTask(ctx, userID, in)
	return t, mapWorkspaceErr(err)
}

// GetTask returns a task through project ownership.
func (s *WorkspaceService) GetTask(ctx context.Context, userID, id string) (*model.Task, error) {
	t, err := s.repo.GetTask(ctx, userID, id)
	return t, mapWorkspaceErr(err)
}

// UpdateTask applies the non-nil fields.
func (s *WorkspaceService) UpdateTask(ctx context.Context, userID, id string, in model.TaskInput) (*model.Task, error) {
	if in.Title != nil && blank(in.Title) {
		return nil, ErrTitleRequired
	}
	t, err := s.repo.UpdateTask(ctx, userID, id, in)
	return t, mapWorkspaceErr(err)
}

// DeleteTask removes a task through project ownership.
func (s *WorkspaceService) DeleteTask(ctx context.Context, userID, id string) error {
	return mapWorkspaceErr(s.repo.DeleteTask(ctx, userID, id))
}

// ListDocuments pages the caller's documents.
func (s *WorkspaceService) ListDocuments(ctx context.Context, userID string, f model.DocumentFilter) ([]*model.Document, error) {
	if f.Limit <= 0 {
		f.Limit = defaultDocumentLimit
	}
	f.Limit = min(f.Limit, maxDocumentLimit)
	f.Offset = max(f.Offset, 0)
	return s.repo.ListDocuments(ctx, userID, f)
}

// CreateDocument requires a title.
func (s *WorkspaceService) CreateDocument(ctx context.Context, userID string, in model.DocumentInput) (*model.Document, error) {
	if blank(in.Title) {
		return nil, ErrTitleRequired
	}
	return s.repo.CreateDocument(ctx, userID, in)
}

// GetDocument returns a document owned by the caller.
func (s *WorkspaceService) GetDocument(ctx context.Context, userID, id string) (*model.Document, error) {
	d, err := s.repo.GetDocument(ctx, userID, id)
	return d, mapWorkspaceErr(err)
}

// UpdateDocument applies the non-nil fields.
func (s *WorkspaceService) UpdateDocument(ctx context.Context, userID, id string, in model.DocumentInput) (*model.Document, error) {
	if in.Title != nil && blank(in.Title) {
		return nil, ErrTitleRequired
	}
	d, err := s.repo.UpdateDocument(ctx, userID, id, in)
	return d, mapWorkspaceErr(err)
}

// DeleteDocument removes a document owned by the caller.
func (s *WorkspaceService) DeleteDocument(ctx context.Context, userID, id string) error {
	return mapWorkspaceErr(s.repo.DeleteDocument(ctx, userID, id))
}

func mapWorkspaceErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrProjectNotFound):
		return ErrProjectNotFound
	case errors.Is(err, repository.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, repository.ErrDocumentNotFound):
		return ErrDocumentNotFound
	default:
		return fmt.Errorf("workspace: %w", err)
	}
}
