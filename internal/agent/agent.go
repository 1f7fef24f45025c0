// Package agent implements the LLM-backed agents that serve a session and
// the factory that assembles them into a bundle.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/llm"
	"github.com/ashureev/smartfin/internal/tool"
)

// Agent is one model-backed worker with a fixed role.
type Agent interface {
	Capability() domain.Capability
	Model() domain.ModelDescriptor
	Invoke(ctx context.Context, input string) (string, error)
	// SwitchModel replaces the backing model, keeping tools, prompt and history.
	SwitchModel(model domain.ModelDescriptor, client llm.Client)
	// Teardown releases resources scoped to the session.
	Teardown(ctx context.Context) error
}

// Defaults for the tool loop.
const (
	DefaultMaxSteps    = 10
	DefaultCallTimeout = 60 * time.Second
	DefaultToolTimeout = 15 * time.Second
)

// ErrMaxSteps is returned when the model keeps calling tools past the step limit.
var ErrMaxSteps = errors.New("agent exceeded the maximum number of tool steps")

// Config describes a ToolAgent. Model and Client are required.
type Config struct {
	Capability  domain.Capability
	Model       domain.ModelDescriptor
	Client      llm.Client
	Prompt      string
	Tools       []tool.Tool
	Temperature float64

	MaxSteps    int
	CallTimeout time.Duration
	ToolTimeout time.Duration
	// History is the number of past messages replayed on each call.
	// Zero keeps the agent stateless.
	History int

	OnTeardown func(ctx context.Context) error
}

// ToolAgent runs a chat completion loop, executing requested tools until the
// model produces a final answer.
type ToolAgent struct {
	capability  domain.Capability
	prompt      string
	tools       map[string]tool.Tool
	defs        []llm.ToolDefinition
	temperature float64
	maxSteps    int
	callTimeout time.Duration
	toolTimeout time.Duration
	historySize int
	onTeardown  func(ctx context.Context) error

	mu      sync.RWMutex
	model   domain.ModelDescriptor
	client  llm.Client
	history []llm.Message
}

// New creates a ToolAgent.
func New(cfg Config) (*ToolAgent, error) {
	if cfg.Model.Name == "" {
		return nil, fmt.Errorf("agent %s: model is required", cfg.Capability)
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("agent %s: client is required", cfg.Capability)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}

	tools := make(map[string]tool.Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if _, dup := tools[t.Name()]; dup {
			return nil, fmt.Errorf("agent %s: duplicate tool %q", cfg.Capability, t.Name())
		}
		tools[t.Name()] = t
	}

	return &ToolAgent{
		capability:  cfg.Capability,
		prompt:      cfg.Prompt,
		tools:       tools,
		defs:        tool.Definitions(cfg.Tools),
		temperature: cfg.Temperature,
		maxSteps:    cfg.MaxSteps,
		callTimeout: cfg.CallTimeout,
		toolTimeout: cfg.ToolTimeout,
		historySize: cfg.History,
		onTeardown:  cfg.OnTeardown,
		model:       cfg.Model,
		client:      cfg.Client,
	}, nil
}

// Capability returns the agent's role.
func (a *ToolAgent) Capability() domain.Capability { return a.capability }

// Model returns the current backing model.
func (a *ToolAgent) Model() domain.ModelDescriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// SwitchModel replaces the backing model.
func (a *ToolAgent) SwitchModel(model domain.ModelDescriptor, client llm.Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
	a.client = client
}

// Teardown runs the teardown hook, if any.
func (a *ToolAgent) Teardown(ctx context.Context) error {
	if a.onTeardown == nil {
		return nil
	}
	return a.onTeardown(ctx)
}

// ToolNames lists the registered tools.
func (a *ToolAgent) ToolNames() []string {
	names := make([]string, 0, len(a.defs))
	for _, d := range a.defs {
		names = append(names, d.Name)
	}
	return names
}

// Invoke sends input to the model and returns its final text answer.
func (a *ToolAgent) Invoke(ctx context.Context, input string) (string, error) {
	a.mu.RLock()
	model, client := a.model, a.client
	past := append([]llm.Message(nil), a.history...)
	a.mu.RUnlock()

	msgs := make([]llm.Message, 0, len(past)+2)
	if a.prompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.prompt})
	}
	msgs = append(msgs, past...)
	user := llm.Message{Role: llm.RoleUser, Content: input}
	msgs = append(msgs, user)

	for step := 0; step < a.maxSteps; step++ {
		resp, err := a.complete(ctx, client, llm.Request{
			Model:       model.Name,
			Messages:    msgs,
			Tools:       a.defs,
			Temperature: a.temperature,
		})
		if err != nil {
			return "", err
		}

		reply := resp.Message
		reply.Role = llm.RoleAssistant
		if len(reply.ToolCalls) == 0 {
			a.remember(user, reply)
			return reply.Content, nil
		}

		msgs = append(msgs, reply)
		for _, call := range reply.ToolCalls {
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    a.runTool(ctx, call),
			})
		}
	}

	slog.Warn("Agent step limit reached", "capability", a.capability, "model", model.Name, "max_steps", a.maxSteps)
	return "", fmt.Errorf("%s: %w", a.capability, ErrMaxSteps)
}

func (a *ToolAgent) complete(ctx context.Context, client llm.Client, req llm.Request) (llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	return client.Complete(callCtx, req)
}

// runTool executes one call. Failures are reported back to the model as text
// so it can recover.
func (a *ToolAgent) runTool(ctx context.Context, call llm.ToolCall) string {
	t, ok := a.tools[call.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}

	args := json.RawMessage(call.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	toolCtx, cancel := context.WithTimeout(ctx, a.toolTimeout)
	defer cancel()

	start := time.Now()
	out, err := t.Run(toolCtx, args)
	if err != nil {
		slog.Warn("Tool call failed",
			"capability", a.capability,
			"tool", call.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return "Error: " + err.Error()
	}
	slog.Debug("Tool call finished", "capability", a.capability, "tool", call.Name, "duration_ms", time.Since(start).Milliseconds())
	return out
}

// remember keeps the last historySize messages of user/assistant turns.
// Intermediate tool traffic is not replayed.
func (a *ToolAgent) remember(user, reply llm.Message) {
	if a.historySize <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, user, llm.Message{Role: llm.RoleAssistant, Content: reply.Content})
	if over := len(a.history) - a.historySize; over > 0 {
		a.history = append([]llm.Message(nil), a.history[over:]...)
	}
}

var _ Agent = (*ToolAgent)(nil)
