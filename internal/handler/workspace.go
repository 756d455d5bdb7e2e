package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/service"
)

// WorkspaceAPI is the project, task and document surface.
// *service.WorkspaceService satisfies it.
type WorkspaceAPI interface {
	ListProjects(ctx context.Context, userID string) ([]*model.Project, error)
	CreateProject(ctx context.Context, userID string, in model.ProjectInput) (*model.Project, error)
	GetProject(ctx context.Context, userID, id string) (*model.Project, error)
	UpdateProject(ctx context.Context, userID, id string, in model.ProjectInput) (*model.Project, error)
	DeleteProject(ctx context.Context, userID, id string) error

	ListTasks(ctx context.Context, userID, projectID string) ([]*model.Task, error)
	CreateTask(ctx context.Context, userID string, in model.TaskInput) (*model.Task, error)
	GetTask(ctx context.Context, userID, id string) (*model.Task, error)
	UpdateTask(ctx context.Context, userID, id string, in model.TaskInput) (*model.Task, error)
	DeleteTask(ctx context.Context, userID, id string) error

	ListDocuments(ctx context.Context, userID string, f model.DocumentFilter) ([]*model.Document, error)
	CreateDocument(ctx context.Context, userID string, in model.DocumentInput) (*model.Document, error)
	GetDocument(ctx context.Context, userID, id string) (*model.Document, error)
	UpdateDocument(ctx context.Context, userID, id string, in model.DocumentInput) (*model.Document, error)
	DeleteDocument(ctx context.Context, userID, id string) error
}

// WorkspaceHandler serves projects, tasks and documents.
type WorkspaceHandler struct {
	svc    WorkspaceAPI
	logger *slog.Logger
}

// NewWorkspaceHandler creates a WorkspaceHandler.
func NewWorkspaceHandler(svc WorkspaceAPI, logger *slog.Logger) *WorkspaceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceHandler{svc: svc, logger: logger.With("component", "handler.workspace")}
}

// fail maps workspace errors onto responses.
func (h *WorkspaceHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrTitleRequired):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Title is required")
	case errors.Is(err, service.ErrProjectIDRequired):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Project ID is required")
	case errors.Is(err, service.ErrInvalidProgress):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Progress must be between 0 and 100")
	case errors.Is(err, service.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "Project not found")
	case errors.Is(err, service.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "Task not found")
	case errors.Is(err, service.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "Document not found")
	default:
		h.logger.Error("workspace request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
	}
}

// ListProjects handles GET /api/projects.
func (h *WorkspaceHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	projects, err := h.svc.ListProjects(r.Context(), userID)
	if err != nil {
		h.fail(w, "list_projects", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": nonNil(projects)})
}

// CreateProject handles POST /api/projects.
func (h *WorkspaceHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in model.ProjectInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	p, err := h.svc.CreateProject(r.Context(), userID, in)
	if err != nil {
		h.fail(w, "create_project", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": p})
}

// GetProject handles GET /api/projects/{id}.
func (h *WorkspaceHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetProject(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get_project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": p})
}

// UpdateProject handles PUT /api/projects/{id}.
func (h *WorkspaceHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in model.ProjectInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	p, err := h.svc.UpdateProject(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, "update_project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": p})
}

// DeleteProject handles DELETE /api/projects/{id}.
func (h *WorkspaceHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteProject(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete_project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListTasks handles GET /api/tasks?project_id=.
func (h *WorkspaceHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	tasks, err := h.svc.ListTasks(r.Context(), userID, r.URL.Query().Get("project_id"))
	if err != nil {
		h.fail(w, "list_tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": nonNil(tasks)})
}

// CreateTask handles POST /api/tasks.
func (h *WorkspaceHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in model.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	t, err := h.svc.CreateTask(r.Context(), userID, in)
	if err != nil {
		h.fail(w, "create_task", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": t})
}

// GetTask handles GET /api/tasks/{id}.
func (h *WorkspaceHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	t, err := h.svc.GetTask(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get_task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t})
}

// UpdateTask handles PUT /api/tasks/{id}.
func (h *WorkspaceHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in model.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	t, err := h.svc.UpdateTask(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, "update_task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t})
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *WorkspaceHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteTask(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete_task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListDocuments handles GET /api/documents.
func (h *WorkspaceHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	docs, err := h.svc.ListDocuments(r.Context(), userID, model.DocumentFilter{
		DocumentType: q.Get("document_type"),
		ProjectID:    q.Get("project_id"),
		TeamID:       q.Get("team_id"),
		Limit:        queryInt(r, "limit", 50),
		Offset:       queryInt(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, "list_documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": nonNil(docs)})
}

// CreateDocument handles POST /api/documents.
func (h *WorkspaceHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in model.DocumentInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	d, err := h.svc.CreateDocument(r.Context(), userID, in)
	if err != nil {
		h.fail(w, "create_document", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": d})
}

// GetDocument handles GET /api/documents/{id}.
func (h *WorkspaceHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetDocument(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get_document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": d})
}

// UpdateDocument handles PUT /api/documents/{id}.
func (h *WorkspaceHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in model.DocumentInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	d, err := h.svc.UpdateDocument(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, "update_document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": d})
}

// DeleteDocument handles DELETE /api/documents/{id}.
func (h *WorkspaceHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteDocument(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete_document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// nonNil keeps empty listings encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
