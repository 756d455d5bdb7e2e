package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/thesisflow/thesisflow/internal/model"
)

// Common errors for team repository operations.
var (
	ErrTeamNotFound  = errors.New("team not found")
	ErrAlreadyMember = errors.New("user is already a member")
)

const teamColumns = `t.id::text, t.name, COALESCE(t.description, ''), COALESCE(t.category, ''),
	t.is_public, t.owner_id::text, t.created_at, t.updated_at`

func scanTeam(row pgx.Row) (*model.Team, error) {
	var t model.Team
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &t.IsPublic, &t.OwnerID,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTeamsForUser returns the teams userID belongs to, with members.
func (r *Repository) ListTeamsForUser(ctx context.Context, userID string, f model.TeamFilter) ([]*model.Team, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + teamColumns + `
		FROM teams t JOIN team_members m ON m.team_id = t.id
		WHERE m.user_id = $1`)
	args := []any{userID}

	if f.PublicOnly {
		sb.WriteString(" AND t.is_public")
	}
	if f.Category != "" {
		args = append(args, f.Category)
		fmt.Fprintf(&sb, " AND t.category = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		fmt.Fprintf(&sb, " AND (t.name ILIKE $%d OR t.description ILIKE $%d)", len(args), len(args))
	}
	sb.WriteString(" ORDER BY t.created_at DESC")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := []*model.Team{}
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating teams: %w", err)
	}

	for _, t := range teams {
		members, err := r.ListTeamMembers(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.Members = members
	}
	return teams, nil
}

// CreateTeam inserts a team and makes the creator its owner member.
func (r *Repository) CreateTeam(ctx context.Context, team *model.Team) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO teams (name, description, category, is_public, owner_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id::text, created_at, updated_at
		`, team.Name, nullableString(team.Description), nullableString(team.Category), team.IsPublic, team.OwnerID).
			Scan(&team.ID, &team.CreatedAt, &team.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create team: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, 'owner')`,
			team.ID, team.OwnerID)
		if err != nil {
			return fmt.Errorf("failed to add team owner: %w", err)
		}
		return nil
	})
}

// GetTeam returns a team by id.
func (r *Repository) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	t, err := scanTeam(r.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams t WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidInput(err) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return t, nil
}

// IsTeamMember reports whether userID belongs to teamID.
func (r *Repository) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id = $1 AND user_id = $2)`,
		teamID, userID).Scan(&ok)
	if err != nil {
		if isInvalidInput(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// ListTeamMembers returns members with their profiles, owners first.
func (r *Repository) ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error) {
	query := `
		SELECT m.team_id::text, m.user_id::text, m.role, m.joined_at,
			COALESCE(p.full_name, ''), COALESCE(p.avatar_url, ''), u.email
		FROM team_members m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN user_profiles p ON p.user_id = m.user_id
		WHERE m.team_id = $1
		ORDER BY (m.role = 'owner') DESC, m.joined_at
	`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	members := []model.TeamMember{}
	for rows.Next() {
		var m model.TeamMember
		p := &model.Profile{}
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt, &p.FullName, &p.AvatarURL, &p.Email); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		p.UserID = m.UserID
		m.Profile = p
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team members: %w", err)
	}
	return members, nil
}

// AddTeamMember inserts a membership row.
func (r *Repository) AddTeamMember(ctx context.Context, teamID, userID, role string) (*model.TeamMember, error) {
	m := &model.TeamMember{TeamID: teamID, UserID: userID, Role: role}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO team_members (team_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING joined_at
	`, teamID, userID, role).Scan(&m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("failed to add team member: %w", err)
	}
	return m, nil
}

const messageColumns = `id::text, team_id::text, sender_id::text, content, message_type,
	mentions::text[], metadata, created_at`

// ListMessages returns a page of team chat. Rows come back newest first
// for default and before-paging, oldest first for after-paging.
func (r *Repository) ListMessages(ctx context.Context, teamID string, page model.MessagePage) ([]*model.ChatMessage, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + messageColumns + ` FROM chat_messages WHERE team_id = $1`)
	args := []any{teamID}
	order := "DESC"

	if page.Before != nil {
		args = append(args, *page.Before)
		fmt.Fprintf(&sb, " AND created_at < $%d", len(args))
	}
	if page.After != nil {
		args = append(args, *page.After)
		fmt.Fprintf(&sb, " AND created_at > $%d", len(args))
		order = "ASC"
	}
	args = append(args, page.Limit)
	fmt.Fprintf(&sb, " ORDER BY created_at %s LIMIT $%d", order, len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	msgs := []*model.ChatMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return msgs, nil
}

// CreateMessage inserts a chat message.
func (r *Repository) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	meta := m.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}
	mentions := m.Mentions
	if mentions == nil {
		mentions = []string{}
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (team_id, sender_id, content, message_type, mentions, metadata)
		VALUES ($1, $2, $3, $4, $5::text[]::uuid[], $6)
		RETURNING id::text, created_at
	`, m.TeamID, m.SenderID, m.Content, m.MessageType, mentions, raw).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (*model.ChatMessage, error) {
	var m model.ChatMessage
	var mentions []string
	var raw []byte
	if err := row.Scan(&m.ID, &m.TeamID, &m.SenderID, &m.Content, &m.MessageType,
		&mentions, &raw, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Mentions = mentions
	if m.Mentions == nil {
		m.Mentions = []string{}
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode message metadata: %w", err)
		}
	}
	return &m, nil
}
