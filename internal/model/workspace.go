package model

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// Project, task and document defaults.
const (
	ProjectStatusPlanning = "planning"
	TaskStatusTodo        = "todo"
	TaskPriorityMedium    = "medium"
	DocumentTypePaper     = "paper"
)

// Team member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Chat message types.
const (
	MessageTypeText       = "text"
	MessageTypeSystem     = "system"
	MessageTypeAIResponse = "ai_response"
)

// Project is a research project owned by one user.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartDate   *string   `json:"start_date,omitempty"`
	EndDate     *string   `json:"end_date,omitempty"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectInput carries create and update fields. Nil means unchanged.
type ProjectInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	Status      *string `json:"status"`
	Progress    *int    `json:"progress"`
}

// Task belongs to a project.
type Task struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	AssigneeID     *string   `json:"assignee_id,omitempty"`
	EstimatedHours *float64  `json:"estimated_hours,omitempty"`
	DueDate        *string   `json:"due_date,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TaskInput carries create and update fields. Nil means unchanged.
type TaskInput struct {
	ProjectID      *string  `json:"project_id"`
	Title          *string  `json:"title"`
	Description    *string  `json:"description"`
	Status         *string  `json:"status"`
	Priority       *string  `json:"priority"`
	AssigneeID     *string  `json:"assignee_id"`
	EstimatedHours *float64 `json:"estimated_hours"`
	DueDate        *string  `json:"due_date"`
}

// Document is a user-authored paper, note or draft.
type Document struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	ProjectID    *string   `json:"project_id,omitempty"`
	TeamID       *string   `json:"team_id,omitempty"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	DocumentType string    `json:"document_type"`
	IsPublic     bool      `json:"is_public"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DocumentInput carries create and update fields. Nil means unchanged.
type DocumentInput struct {
	Title        *string `json:"title"`
	Content      *string `json:"content"`
	DocumentType *string `json:"document_type"`
	ProjectID    *string `json:"project_id"`
	TeamID       *string `json:"team_id"`
	IsPublic     *bool   `json:"is_public"`
}

// DocumentFilter narrows a document listing.
type DocumentFilter struct {
	DocumentType string
	ProjectID    string
	TeamID       string
	Limit        int
	Offset       int
}

// Team groups users that share chat and documents.
type Team struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	IsPublic    bool         `json:"is_public"`
	OwnerID     string       `json:"owner_id"`
	Members     []TeamMember `json:"members,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TeamFilter narrows a team listing.
type TeamFilter struct {
	PublicOnly bool
	Category   string
	Search     string
}

// TeamMember links a user to a team with a role.
type TeamMember struct {
	TeamID   string    `json:"team_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	Profile  *Profile  `json:"profile,omitempty"`
}

// ChatMessage is a team chat entry. SenderID is nil for system messages.
type ChatMessage struct {
	ID           string         `json:"id"`
	TeamID       string         `json:"team_id"`
	SenderID     *string        `json:"sender_id,omitempty"`
	SenderName   string         `json:"senderName"`
	SenderAvatar string         `json:"senderAvatar,omitempty"`
	Content      string         `json:"content"`
	MessageType  string         `json:"type"`
	Mentions     []string       `json:"mentions"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"timestamp"`
}

// MessagePage selects a window of chat history.
type MessagePage struct {
	Limit  int
	Before *time.Time
	After  *time.Time
}

// ResolveSender fills SenderName and upgrades assistant replies.
func (m *ChatMessage) ResolveSender(fullName string) {
	switch {
	case m.SenderID == nil:
		m.SenderName = "System"
	case fullName != "":
		m.SenderName = fullName
	default:
		m.SenderName = "Unknown User"
	}
	if m.MessageType == MessageTypeText && strings.Contains(strings.ToLower(m.Content), "nova response") {
		m.MessageType = MessageTypeAIResponse
	}
}

var mentionPattern = regexp.MustCompile(`@\[[^\]]+\]\(([0-9a-fA-F-]{36})\)`)

// MergeMentions combines explicit mention ids with inline @[name](id)
// references in content, preserving first-seen order.
func MergeMentions(explicit []string, content string) []string {
	out := make([]string, 0, len(explicit))
	add := func(id string) {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	for _, id := range explicit {
		add(id)
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	return out
}
