package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

// Team errors.
var (
	ErrTeamIDRequired       = errors.New("team id is required")
	ErrTeamNameRequired     = errors.New("team name is required")
	ErrTeamNotFound         = errors.New("team not found")
	ErrNotTeamMember        = errors.New("not a team member")
	ErrMemberEmailRequired  = errors.New("team id and email are required")
	ErrUserNotFound         = errors.New("user not found")
	ErrAlreadyMember        = errors.New("user is already a member")
	ErrInvalidRole          = errors.New("invalid role")
	ErrMessageFieldsMissing = errors.New("team id and content are required")
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

var assignableRoles = []string{model.RoleAdmin, model.RoleMember}

// TeamService owns teams, memberships and team chat.
type TeamService struct {
	repo   *repository.Repository
	logger *slog.Logger
}

// NewTeamService creates a TeamService.
func NewTeamService(repo *repository.Repository, logger *slog.Logger) *TeamService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TeamService{repo: repo, logger: logger.With("component", "teams")}
}

// ListTeams returns the caller's teams with members.
func (s *TeamService) ListTeams(ctx context.Context, userID string, f model.TeamFilter) ([]*model.Team, error) {
	f.Search = strings.TrimSpace(f.Search)
	return s.repo.ListTeamsForUser(ctx, userID, f)
}

// CreateTeam creates a team owned by the caller.
func (s *TeamService) CreateTeam(ctx context.Context, userID string, team *model.Team) (*model.Team, error) {
	team.Name = strings.TrimSpace(team.Name)
	if team.Name == "" {
		return nil, ErrTeamNameRequired
	}
	team.OwnerID = userID
	if err := s.repo.CreateTeam(ctx, team); err != nil {
		return nil, err
	}
	members, err := s.repo.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	team.Members = members
	return team, nil
}

// requireMember loads the team and checks the caller belongs to it.
func (s *TeamService) requireMember(ctx context.Context, teamID, userID string) (*model.Team, error) {
	team, err := s.repo.GetTeam(ctx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	ok, err := s.repo.IsTeamMember(ctx, teamID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotTeamMember
	}
	return team, nil
}

// ListMembers returns members of a team the caller belongs to.
func (s *TeamService) ListMembers(ctx context.Context, userID, teamID string) ([]model.TeamMember, error) {
	if teamID == "" {
		return nil, ErrTeamIDRequired
	}
	if _, err := s.requireMember(ctx, teamID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListTeamMembers(ctx, teamID)
}

// AddMember adds an existing user, found by email, and posts a system
// message announcing them.
func (s *TeamService) AddMember(ctx context.Context, userID, teamID, email, role string) (*model.TeamMember, error) {
	email = strings.TrimSpace(email)
	if teamID == "" || email == "" {
		return nil, ErrMemberEmailRequired
	}
	if role == "" {
		role = model.RoleMember
	}
	if !slices.Contains(assignableRoles, role) {
		return nil, ErrInvalidRole
	}

	if _, err := s.requireMember(ctx, teamID, userID); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	member, err := s.repo.AddTeamMember(ctx, teamID, user.ID, role)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyMember) {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}

	name := user.Email
	if profiles, err := s.repo.GetProfiles(ctx, []string{user.ID}); err == nil {
		if p, ok := profiles[user.ID]; ok && p.FullName != "" {
			name = p.FullName
		}
	}
	notice := &model.ChatMessage{
		TeamID:      teamID,
		Content:     fmt.Sprintf("%s joined the team", name),
		MessageType: model.MessageTypeSystem,
	}
	if err := s.repo.CreateMessage(ctx, notice); err != nil {
		s.logger.Warn("join notice failed", "team_id", teamID, "error", err)
	}
	return member, nil
}

// MessageList is a page of chat history in chronological order.
type MessageList struct {
	Messages []*model.ChatMessage `json:"messages"`
	HasMore  bool                 `json:"hasMore"`
}

// ListMessages pages team chat for a member.
func (s *TeamService) ListMessages(ctx context.Context, userID, teamID string, page model.MessagePage) (*MessageList, error) {
	if teamID == "" {
		return nil, ErrTeamIDRequired
	}
	if _, err := s.requireMember(ctx, teamID, userID); err != nil {
		return nil, err
	}

	if page.Limit <= 0 {
		page.Limit = defaultMessageLimit
	}
	page.Limit = min(page.Limit, maxMessageLimit)

	msgs, err := s.repo.ListMessages(ctx, teamID, page)
	if err != nil {
		return nil, err
	}
	if err := s.resolveSenders(ctx, msgs); err != nil {
		return nil, err
	}

	// Newest-first pages are flipped so clients always append in order.
	if page.After == nil {
		slices.Reverse(msgs)
	}

	return &MessageList{Messages: msgs, HasMore: len(msgs) == page.Limit}, nil
}

// PostMessage stores a chat message from a member.
func (s *TeamService) PostMessage(ctx context.Context, userID string, msg *model.ChatMessage) (*model.ChatMessage, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.TeamID == "" || msg.Content == "" {
		return nil, ErrMessageFieldsMissing
	}
	if _, err := s.requireMember(ctx, msg.TeamID, userID); err != nil {
		return nil, err
	}

	msg.SenderID = &userID
	if msg.MessageType == "" {
		msg.MessageType = model.MessageTypeText
	}
	msg.Mentions = model.MergeMentions(msg.Mentions, msg.Content)

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.resolveSenders(ctx, []*model.ChatMessage{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *TeamService) resolveSenders(ctx context.Context, msgs []*model.ChatMessage) error {
	var ids []string
	for _, m := range msgs {
		if m.SenderID != nil && !slices.Contains(ids, *m.SenderID) {
			ids = append(ids, *m.SenderID)
		}
	}

	profiles := map[string]*model.Profile{}
	if len(ids) > 0 {
		var err error
		profiles, err = s.repo.GetProfiles(ctx, ids)
		if err != nil {
			return err
		}
	}

	for _, m := range msgs {
		fullName := ""
		if m.SenderID != nil {
			if p, ok := profiles[*m.SenderID]; ok {
				fullName = p.FullName
				m.SenderAvatar = p.AvatarURL
			}
		}
		m.ResolveSender(fullName)
	}
	return nil
}
