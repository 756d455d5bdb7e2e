package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/thesisflow/thesisflow/internal/model"
)

// Common errors for workspace repository operations.
var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrDocumentNotFound = errors.New("document not found")
)

const projectColumns = `id::text, owner_id::text, title, COALESCE(description, ''),
	to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'),
	status, progress, created_at, updated_at`

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.StartDate, &p.EndDate,
		&p.Status, &p.Progress, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns the owner's projects, newest first.
func (r *Repository) ListProjects(ctx context.Context, ownerID string) ([]*model.Project, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// CreateProject inserts a project. Unset status and progress use defaults.
func (r *Repository) CreateProject(ctx context.Context, ownerID string, in model.ProjectInput) (*model.Project, error) {
	query := `
		INSERT INTO projects (owner_id, title, description, start_date, end_date, status, progress)
		VALUES ($1, $2, $3, $4::date, $5::date, COALESCE($6, 'planning'), COALESCE($7, 0))
		RETURNING ` + projectColumns

	p, err := scanProject(r.pool.QueryRow(ctx, query,
		ownerID, deref(in.Title), in.Description, in.StartDate, in.EndDate, in.Status, in.Progress))
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// GetProject returns a project owned by ownerID.
func (r *Repository) GetProject(ctx context.Context, ownerID, id string) (*model.Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidInput(err) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// UpdateProject applies the non-nil fields of in.
func (r *Repository) UpdateProject(ctx context.Context, ownerID, id string, in model.ProjectInput) (*model.Project, error) {
	query := `
		UPDATE projects SET
			title       = COALESCE($3, title),
			description = COALESCE($4, description),
			start_date  = COALESCE($5::date, start_date),
			end_date    = COALESCE($6::date, end_date),
			status      = COALESCE($7, status),
			progress    = COALESCE($8, progress),
			updated_at  = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + projectColumns

	p, err := scanProject(r.pool.QueryRow(ctx, query,
		id, ownerID, in.Title, in.Description, in.StartDate, in.EndDate, in.Status, in.Progress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidInput(err) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return p, nil
}

// DeleteProject removes a project and, by cascade, its tasks.
func (r *Repository) DeleteProject(ctx context.Context, ownerID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		if isInvalidInput(err) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

const taskColumns = `t.id::text, t.project_id::text, t.title, COALESCE(t.description, ''), t.status,
	t.priority, t.assignee_id::text, t.estimated_hours::float8, to_char(t.due_date, 'YYYY-MM-DD'),
	t.created_at, t.updated_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.AssigneeID, &t.EstimatedHours, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns the tasks of a project owned by ownerID.
func (r *Repository) ListTasks(ctx context.Context, ownerID, projectID string) ([]*model.Task, error) {
	if _, err := r.GetProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks t WHERE t.project_id = $1 ORDER BY t.created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// CreateTask inserts a task into a project owned by ownerID.
func (r *Repository) CreateTask(ctx context.Context, ownerID string, in model.TaskInput) (*model.Task, error) {
	projectID := deref(in.ProjectID)
	if _, err := r.GetProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	query := `
		WITH t AS (
			INSERT INTO tasks (project_id, title, description, status, priority, assignee_id, estimated_hours, due_date)
			VALUES ($1, $2, $3, COALESCE($4, 'todo'), COALESCE($5, 'medium'), $6::uuid, $7, $8::date)
			RETURNING *
		)
		SELECT ` + taskColumns + ` FROM t`

	t, err := scanTask(r.pool.QueryRow(ctx, query,
		projectID, deref(in.Title), in.Description, in.Status, in.Priority,
		emptyToNil(in.AssigneeID), in.EstimatedHours, in.DueDate))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return t, nil
}

// GetTask returns a task whose project belongs to ownerID.
func (r *Repository) GetTask(ctx context.Context, ownerID, id string) (*model.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t JOIN projects p ON p.id = t.project_id
		WHERE t.id = $1 AND p.owner_id = $2`

	t, err := scanTask(r.pool.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidInput(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// UpdateTask applies the non-nil fields of in.
func (r *Repository) UpdateTask(ctx context.Context, ownerID, id string, in model.TaskInput) (*model.Task, error) {
	query := `
		WITH t AS (
			UPDATE tasks SET
				title           = COALESCE($3, tasks.title),
				description     = COALESCE($4, tasks.description),
				status          = COALESCE($5, tasks.status),
				priority        = COALESCE($6, tasks.priority),
				assignee_id     = COALESCE($7::uuid, tasks.assignee_id),
				estimated_hours = COALESCE($8, tasks.estimated_hours),
				due_date        = COALESCE($9::date, tasks.due_date),
				updated_at      = now()
			FROM projects p
			WHERE tasks.id = $1 AND p.id = tasks.project_id AND p.owner_id = $2
			RETURNING tasks.*
		)
		SELECT ` + taskColumns + ` FROM t`

	t, err := scanTask(r.pool.QueryRow(ctx, query,
		id, ownerID, in.Title, in.Description, in.Status, in.Priority,
		emptyToNil(in.AssigneeID), in.EstimatedHours, in.DueDate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidInput(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return t, nil
}

// DeleteTask removes a task whose project belongs to ownerID.
func (r *Repository) DeleteTask(ctx context.Context, ownerID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tasks USING projects p
		WHERE tasks.id = $1 AND p.id = tasks.project_id AND p.owner_id = $2`, id, ownerID)
	if err != nil {
		if isInvalidInput(err) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

const documentColumns = `id::text, owner_id::text, project_id::text, team_id::text, title, content,
	document_type, is_public, created_at, updated_at`

func scanDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.OwnerID, &d.ProjectID, &d.TeamID, &d.Title, &d.Content,
		&d.DocumentType, &d.IsPublic, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocuments returns the owner's documents, most recently updated first.
func (r *Repository) ListDocuments(ctx context.Context, ownerID string, f model.DocumentFilter) ([]*model.Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1`)
	args := []any{ownerID}

	if f.DocumentType != "" {
		args = append(args, f.DocumentType)
		fmt.Fprintf(&sb, " AND document_type = $%d", len(args))
	}
	if f.ProjectID != "" {
		args = append(args, f.ProjectID)
		fmt.Fprintf(&sb, " AND project_id = $%d", len(args))
	}
	if f.TeamID != "" {
		args = append(args, f.TeamID)
		fmt.Fprintf(&sb, " AND team_id = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&sb, " ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		if isInvalidInput(err) {
			return []*model.Document{}, nil
		}
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*model.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// CreateDocument inserts a document owned by ownerID.
func (r *Repository) CreateDocument(ctx context.Context, ownerID string, in model.DocumentInput) (*model.Document, error) {
	query := `
		INSERT INTO documents (owner_id, project_id, team_id, title, content, document_type, is_public)
		VALUES ($1, $2::uuid, $3::uuid, $4, COALESCE($5, ''), COALESCE($6, 'paper'), COALESCE($7, FALSE))
		RETURNING ` + documentColumns

	d, err := scanDocument(r.pool.QueryRow(ctx, query,
		ownerID, emptyToNil(in.ProjectID), emptyToNil(in.TeamID), deref(in.Title),
		in.Content, in.DocumentType, in.IsPublic))
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return d, nil
}

// GetDocument returns a document owned by ownerID.
func (r *Repository) GetDocument(ctx context.Context, ownerID, id string) (*model.Document, error) {
	d, err := scanDocument(r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidInput(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

// UpdateDocument applies the non-nil fields of in.
func (r *Repository) UpdateDocument(ctx context.Context, ownerID, id string, in model.DocumentInput) (*model.Document, error) {
	query := `
		UPDATE documents SET
			title         = COALESCE($3, title),
			content       = COALESCE($4, content),
			document_type = COALESCE($5, document_type),
			project_id    = COALESCE($6::uuid, project_id),
			team_id       = COALESCE($7::uuid, team_id),
			is_public     = COALESCE($8, is_public),
			updated_at    = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + documentColumns

	d, err := scanDocument(r.pool.QueryRow(ctx, query,
		id, ownerID, in.Title, in.Content, in.DocumentType,
		emptyToNil(in.ProjectID), emptyToNil(in.TeamID), in.IsPublic))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidInput(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return d, nil
}

// DeleteDocument removes a document owned by ownerID.
func (r *Repository) DeleteDocument(ctx context.Context, ownerID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		if isInvalidInput(err) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// emptyToNil maps nil and "" to NULL.
func emptyToNil(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
