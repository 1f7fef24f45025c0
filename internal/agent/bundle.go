package agent

import (
	"context"
	"log/slog"

	"github.com/ashureev/smartfin/internal/domain"
)

// Bundle holds one agent per capability of a session. It is immutable once
// built.
type Bundle struct {
	agents map[domain.Capability]Agent
	order  []domain.Capability
}

func newBundle() *Bundle {
	return &Bundle{agents: make(map[domain.Capability]Agent, len(domain.BuildOrder))}
}

// NewBundle assembles a bundle from agents that are already built. Later
// agents replace earlier ones of the same capability.
func NewBundle(agents ...Agent) *Bundle {
	b := newBundle()
	for _, a := range agents {
		if _, ok := b.agents[a.Capability()]; ok {
			b.agents[a.Capability()] = a
			continue
		}
		b.add(a)
	}
	return b
}

func (b *Bundle) add(a Agent) {
	b.agents[a.Capability()] = a
	b.order = append(b.order, a.Capability())
}

// Get returns the agent for a capability.
func (b *Bundle) Get(c domain.Capability) (Agent, bool) {
	a, ok := b.agents[c]
	return a, ok
}

// Agents lists the agents in build order.
func (b *Bundle) Agents() []Agent {
	out := make([]Agent, 0, len(b.order))
	for _, c := range b.order {
		out = append(out, b.agents[c])
	}
	return out
}

// Teardown runs every agent's teardown hook, supervisor first. Failures are
// logged and do not stop the remaining hooks.
func (b *Bundle) Teardown(ctx context.Context, sessionID string) {
	for i := len(b.order) - 1; i >= 0; i-- {
		a := b.agents[b.order[i]]
		if err := teardown(ctx, a); err != nil {
			slog.Error("Agent teardown failed",
				"session_id", sessionID,
				"capability", a.Capability(),
				"error", err,
			)
		}
	}
}

func teardown(ctx context.Context, a Agent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Agent teardown panicked", "capability", a.Capability(), "panic", r)
		}
	}()
	return a.Teardown(ctx)
}
