// Package llm provides chat-completion clients for the supported model
// providers behind a single tool-calling Client interface.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/smartfin/internal/domain"
)

// Role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. Assistant messages may carry tool
// calls; tool messages answer a call by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a callable tool. Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int64
}

// Response is the assistant turn returned by the provider.
type Response struct {
	Message      Message
	FinishReason string
}

// Client performs chat completions.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Endpoints holds the base URLs for providers exposing an OpenAI-compatible API.
type Endpoints struct {
	GroqBaseURL   string
	GoogleBaseURL string
}

// DefaultEndpoints returns the public provider endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		GroqBaseURL:   "https://api.groq.com/openai/v1/",
		GoogleBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
	}
}

// NewClient builds the client for a provider with the given API key.
func NewClient(p domain.Provider, apiKey string, ep Endpoints) (Client, error) {
	if apiKey == "" {
		return nil, domain.ErrCredentialMissing
	}
	switch p {
	case domain.ProviderGroq:
		return NewOpenAI(apiKey, ep.GroqBaseURL, string(p)), nil
	case domain.ProviderGoogle:
		return NewOpenAI(apiKey, ep.GoogleBaseURL, string(p)), nil
	case domain.ProviderAnthropic:
		return NewAnthropic(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", p)
	}
}

// providerError converts an SDK failure into a collaborator outage while
// keeping cancellation visible to callers.
func providerError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Unavailable(fmt.Errorf("%s completion: %w", provider, err))
}
