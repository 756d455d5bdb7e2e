// Package ai wraps the text generation backend used for reports and chat.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// ErrUnavailable is returned when no generation backend is configured.
var ErrUnavailable = errors.New("text generation unavailable")

// ErrEmptyResponse is returned when the backend answers with no text.
var ErrEmptyResponse = errors.New("empty generation response")

// Roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a single generation request. History, when set, is sent before
// User.
type Prompt struct {
	System      string
	History     []Message
	User        string
	MaxTokens   int
	Temperature float32
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// Unavailable is the Generator used without an API key.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, Prompt) (string, error) {
	return "", ErrUnavailable
}

// GenAI generates text with the Gemini API.
type GenAI struct {
	client *genai.Client
	model  string
}

// NewGenAI creates a Gemini-backed Generator.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, ErrUnavailable
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAI{client: client, model: model}, nil
}

// New returns a GenAI generator when apiKey is set and Unavailable otherwise.
func New(ctx context.Context, apiKey, model string) (Generator, error) {
	if apiKey == "" {
		return Unavailable{}, nil
	}
	return NewGenAI(ctx, apiKey, model)
}

// Model returns the configured model name.
func (g *GenAI) Model() string { return g.model }

func (g *GenAI) Generate(ctx context.Context, p Prompt) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.Temperature),
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, Contents(p), cfg)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Contents converts history and the user turn into Gemini contents.
// Assistant turns map to the model role and blank turns are skipped.
func Contents(p Prompt) []*genai.Content {
	out := make([]*genai.Content, 0, len(p.History)+1)
	for _, m := range p.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant || m.Role == "model" {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	if strings.TrimSpace(p.User) != "" {
		out = append(out, genai.NewContentFromText(p.User, genai.RoleUser))
	}
	return out
}
