package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/service"
)

// TeamAPI is the team and chat surface. *service.TeamService satisfies it.
type TeamAPI interface {
	ListTeams(ctx context.Context, userID string, f model.TeamFilter) ([]*model.Team, error)
	CreateTeam(ctx context.Context, userID string, team *model.Team) (*model.Team, error)
	ListMembers(ctx context.Context, userID, teamID string) ([]model.TeamMember, error)
	AddMember(ctx context.Context, userID, teamID, email, role string) (*model.TeamMember, error)
	ListMessages(ctx context.Context, userID, teamID string, page model.MessagePage) (*service.MessageList, error)
	PostMessage(ctx context.Context, userID string, msg *model.ChatMessage) (*model.ChatMessage, error)
}

// TeamHandler serves teams, members and team chat.
type TeamHandler struct {
	svc    TeamAPI
	logger *slog.Logger
}

// NewTeamHandler creates a TeamHandler.
func NewTeamHandler(svc TeamAPI, logger *slog.Logger) *TeamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TeamHandler{svc: svc, logger: logger.With("component", "handler.team")}
}

func (h *TeamHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrTeamIDRequired):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Team ID is required")
	case errors.Is(err, service.ErrTeamNameRequired):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Team name is required")
	case errors.Is(err, service.ErrMemberEmailRequired):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Team ID and email are required")
	case errors.Is(err, service.ErrMessageFieldsMissing):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Team ID and content are required")
	case errors.Is(err, service.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid role")
	case errors.Is(err, service.ErrAlreadyMember):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "User is already a member")
	case errors.Is(err, service.ErrTeamNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "Team not found")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "User not found")
	case errors.Is(err, service.ErrNotTeamMember):
		writeError(w, http.StatusForbidden, CodeForbidden, "Not a team member")
	default:
		h.logger.Error("team request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
	}
}

// ListTeams handles GET /api/teams?public&category&search.
func (h *TeamHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	public, _ := strconv.ParseBool(q.Get("public"))
	teams, err := h.svc.ListTeams(r.Context(), userID, model.TeamFilter{
		PublicOnly: public,
		Category:   q.Get("category"),
		Search:     q.Get("search"),
	})
	if err != nil {
		h.fail(w, "list_teams", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "teams": nonNil(teams)})
}

type createTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	IsPublic    bool   `json:"is_public"`
}

// CreateTeam handles POST /api/teams.
func (h *TeamHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	team, err := h.svc.CreateTeam(r.Context(), userID, &model.Team{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		h.fail(w, "create_team", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "team": team})
}

// ListMembers handles GET /api/team/members?teamId=.
func (h *TeamHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	members, err := h.svc.ListMembers(r.Context(), userID, r.URL.Query().Get("teamId"))
	if err != nil {
		h.fail(w, "list_members", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": nonNil(members)})
}

type addMemberRequest struct {
	TeamID string `json:"teamId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// AddMember handles POST /api/team/members.
func (h *TeamHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	member, err := h.svc.AddMember(r.Context(), userID, req.TeamID, req.Email, req.Role)
	if err != nil {
		h.fail(w, "add_member", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Member added successfully",
		"member":  member,
	})
}

// ListMessages handles GET /api/team/messages?teamId&limit&before&after.
func (h *TeamHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := model.MessagePage{Limit: queryInt(r, "limit", 50)}
	var err error
	if page.Before, err = queryTime(q.Get("before")); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "before must be an RFC 3339 timestamp")
		return
	}
	if page.After, err = queryTime(q.Get("after")); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "after must be an RFC 3339 timestamp")
		return
	}

	list, err := h.svc.ListMessages(r.Context(), userID, q.Get("teamId"), page)
	if err != nil {
		h.fail(w, "list_messages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": nonNil(list.Messages),
		"hasMore":  list.HasMore,
	})
}

type postMessageRequest struct {
	TeamID   string         `json:"teamId"`
	Content  string         `json:"content"`
	Type     string         `json:"type"`
	Mentions []string       `json:"mentions"`
	Metadata map[string]any `json:"metadata"`
}

// PostMessage handles POST /api/team/messages.
func (h *TeamHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	msg, err := h.svc.PostMessage(r.Context(), userID, &model.ChatMessage{
		TeamID:      req.TeamID,
		Content:     req.Content,
		MessageType: req.Type,
		Mentions:    req.Mentions,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.fail(w, "post_message", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func queryTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
