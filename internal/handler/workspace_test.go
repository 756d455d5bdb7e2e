package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/service"
)

// fakeWorkspace implements the calls a test needs; the embedded interface
// panics on anything else.
type fakeWorkspace struct {
	WorkspaceAPI

	projects []*model.Project
	input    model.ProjectInput
	filter   model.DocumentFilter
	deleted  string
	err      error
}

func (f *fakeWorkspace) ListProjects(context.Context, string) ([]*model.Project, error) {
	return f.projects, f.err
}

func (f *fakeWorkspace) CreateProject(_ context.Context, userID string, in model.ProjectInput) (*model.Project, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &model.Project{ID: "p1", OwnerID: userID, Title: *in.Title, Status: "planning"}, nil
}

func (f *fakeWorkspace) GetProject(_ context.Context, _, id string) (*model.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Project{ID: id}, nil
}

func (f *fakeWorkspace) DeleteProject(_ context.Context, _, id string) error {
	f.deleted = id
	return f.err
}

func (f *fakeWorkspace) CreateTask(context.Context, string, model.TaskInput) (*model.Task, error) {
	return nil, f.err
}

func (f *fakeWorkspace) ListDocuments(_ context.Context, _ string, filter model.DocumentFilter) ([]*model.Document, error) {
	f.filter = filter
	return nil, f.err
}

func TestWorkspaceHandler_ListProjectsEmpty(t *testing.T) {
	h := NewWorkspaceHandler(&fakeWorkspace{}, nil)
	rec := httptest.NewRecorder()
	h.ListProjects(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/projects", nil), testUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"projects\":[]}\n" {
		t.Errorf("empty list must encode as [], got %s", got)
	}
}

func TestWorkspaceHandler_CreateProject(t *testing.T) {
	svc := &fakeWorkspace{}
	h := NewWorkspaceHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/projects", jsonBody(`{"title":"Thesis","progress":10}`))
	h.CreateProject(rec, withUser(req, testUser))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if svc.input.Title == nil || *svc.input.Title != "Thesis" || svc.input.Progress == nil || *svc.input.Progress != 10 {
		t.Errorf("unexpected input: %+v", svc.input)
	}
	if svc.input.Description != nil {
		t.Error("absent fields must stay nil")
	}
	project, _ := decodeMap(t, rec)["project"].(map[string]any)
	if project["owner_id"] != testUser {
		t.Errorf("unexpected project: %v", project)
	}
}

func TestWorkspaceHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantMsg  string
	}{
		{service.ErrTitleRequired, http.StatusBadRequest, "Title is required"},
		{service.ErrInvalidProgress, http.StatusBadRequest, "Progress must be between 0 and 100"},
		{fmt.Errorf("load: %w", service.ErrProjectNotFound), http.StatusNotFound, "Project not found"},
		{service.ErrDocumentNotFound, http.StatusNotFound, "Document not found"},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			h := NewWorkspaceHandler(&fakeWorkspace{err: tt.err}, nil)
			rec := httptest.NewRecorder()
			req := withParam(httptest.NewRequest(http.MethodGet, "/api/projects/p1", nil), "id", "p1")
			h.GetProject(rec, withUser(req, testUser))

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if body := decodeMap(t, rec); body["error"] != tt.wantMsg {
				t.Errorf("error = %v", body["error"])
			}
		})
	}
}

func TestWorkspaceHandler_CreateTaskRequiresProject(t *testing.T) {
	h := NewWorkspaceHandler(&fakeWorkspace{err: service.ErrProjectIDRequired}, nil)
	rec := httptest.NewRecorder()
	h.CreateTask(rec, withUser(httptest.NewRequest(http.MethodPost, "/api/tasks", jsonBody(`{"title":"Draft"}`)), testUser))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeMap(t, rec); body["error"] != "Project ID is required" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestWorkspaceHandler_DeleteProject(t *testing.T) {
	svc := &fakeWorkspace{}
	h := NewWorkspaceHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := withParam(httptest.NewRequest(http.MethodDelete, "/api/projects/p9", nil), "id", "p9")
	h.DeleteProject(rec, withUser(req, testUser))

	if rec.Code != http.StatusOK || svc.deleted != "p9" {
		t.Fatalf("status %d deleted %q", rec.Code, svc.deleted)
	}
	if body := decodeMap(t, rec); body["success"] != true {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestWorkspaceHandler_ListDocumentsFilter(t *testing.T) {
	svc := &fakeWorkspace{}
	h := NewWorkspaceHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/documents?document_type=draft&project_id=p1&limit=5&offset=10", nil)
	h.ListDocuments(rec, withUser(req, testUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := model.DocumentFilter{DocumentType: "draft", ProjectID: "p1", Limit: 5, Offset: 10}
	if diff := cmp.Diff(want, svc.filter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkspaceHandler_RequiresUser(t *testing.T) {
	h := NewWorkspaceHandler(&fakeWorkspace{}, nil)
	rec := httptest.NewRecorder()
	h.ListProjects(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
