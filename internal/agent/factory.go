package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/smartfin/internal/analysis"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/llm"
	"github.com/ashureev/smartfin/internal/report"
	"github.com/ashureev/smartfin/internal/tax"
	"github.com/ashureev/smartfin/internal/tool"
	"github.com/ashureev/smartfin/internal/vectorstore"
)

// Notifier pushes progress events to a session's listeners.
type Notifier interface {
	Notify(sessionID string, s domain.Status)
}

// Charts persists and resolves chart artifacts.
type Charts interface {
	analysis.ChartSaver
	report.GraphLookup
}

// ClientFunc creates a provider client for a credential.
type ClientFunc func(p domain.Provider, apiKey string) (llm.Client, error)

// Deps are the collaborator handles shared by every agent.
type Deps struct {
	Datasets analysis.Datasets
	Charts   Charts
	Vectors  vectorstore.Store
	Renderer *report.Renderer
	Mailer   report.Mailer
	Notifier Notifier

	NewClient   ClientFunc
	CallTimeout time.Duration
	ToolTimeout time.Duration
	// SupervisorHistory bounds the supervisor's replayed chat history.
	SupervisorHistory int
}

// State is the session state an agent is built from.
type State struct {
	SessionID   string
	Credentials map[domain.Provider]string
	// Models holds per-capability overrides chosen by the user.
	Models  map[domain.Capability]domain.ModelDescriptor
	Contact report.ContactFunc
}

// Factory constructs agents. It holds no per-session state.
type Factory struct {
	deps Deps
}

// NewFactory creates a factory.
func NewFactory(deps Deps) *Factory {
	if deps.NewClient == nil {
		ep := llm.DefaultEndpoints()
		deps.NewClient = func(p domain.Provider, key string) (llm.Client, error) {
			return llm.NewClient(p, key, ep)
		}
	}
	if deps.SupervisorHistory <= 0 {
		deps.SupervisorHistory = 20
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	return &Factory{deps: deps}
}

// Client creates a provider client.
func (f *Factory) Client(p domain.Provider, apiKey string) (llm.Client, error) {
	return f.deps.NewClient(p, apiKey)
}

// ResolveModel picks the model for a capability: the session override when
// its provider has a credential, otherwise the default model of the first
// preferred provider with a credential.
func ResolveModel(state State, c domain.Capability) (domain.ModelDescriptor, string, error) {
	if m, ok := state.Models[c]; ok {
		if key := state.Credentials[m.Provider]; key != "" {
			return m, key, nil
		}
	}
	for _, p := range domain.ProviderPreference {
		if key := state.Credentials[p]; key != "" {
			return domain.DefaultModel(p, c), key, nil
		}
	}
	return domain.ModelDescriptor{}, "", domain.ErrCredentialMissing
}

// Build constructs a complete bundle in domain.BuildOrder. Nothing is
// returned unless every agent was built.
func (f *Factory) Build(ctx context.Context, state State) (*Bundle, error) {
	if _, _, err := ResolveModel(state, domain.CapabilitySupervise); err != nil {
		return nil, err
	}

	b := newBundle()
	for _, c := range domain.BuildOrder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := f.build(state, c, b)
		if err != nil {
			return nil, fmt.Errorf("build %s agent: %w", c, err)
		}
		b.add(a)
	}
	return b, nil
}

// Corrector builds a stateless helper agent with no tools.
func (f *Factory) Corrector(state State) (Agent, error) {
	return f.newAgent(state, domain.CapabilityDefault, nil, func(cfg *Config) {
		cfg.Temperature = 0
	})
}

func (f *Factory) build(state State, c domain.Capability, built *Bundle) (Agent, error) {
	switch c {
	case domain.CapabilityAnalysis:
		return f.newAgent(state, c, analysis.Tools(f.deps.Datasets, f.deps.Charts, state.SessionID), nil)
	case domain.CapabilityExtraction:
		return f.newAgent(state, c, vectorstore.Tools(f.deps.Vectors, state.SessionID), func(cfg *Config) {
			cfg.OnTeardown = func(ctx context.Context) error {
				return f.deps.Vectors.DeleteByUser(ctx, state.SessionID)
			}
		})
	case domain.CapabilityReporting:
		contact := state.Contact
		if contact == nil {
			contact = func() string { return "" }
		}
		return f.newAgent(state, c, report.Tools(f.deps.Renderer, f.deps.Mailer, f.deps.Charts, contact), nil)
	case domain.CapabilityValidation:
		return f.newAgent(state, c, tax.Tools(), nil)
	case domain.CapabilitySupervise:
		tools, err := supervisorTools(state.SessionID, built, f.deps.Notifier)
		if err != nil {
			return nil, err
		}
		return f.newAgent(state, c, tools, func(cfg *Config) {
			cfg.History = f.deps.SupervisorHistory
			cfg.ToolTimeout = f.delegationTimeout()
		})
	default:
		return nil, fmt.Errorf("capability %q is not part of a bundle", c)
	}
}

func (f *Factory) newAgent(state State, c domain.Capability, tools []tool.Tool, opt func(*Config)) (Agent, error) {
	model, key, err := ResolveModel(state, c)
	if err != nil {
		return nil, err
	}
	client, err := f.deps.NewClient(model.Provider, key)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		Capability:  c,
		Model:       model,
		Client:      client,
		Prompt:      Prompt(c),
		Tools:       tools,
		Temperature: 0.2,
		CallTimeout: f.deps.CallTimeout,
		ToolTimeout: f.deps.ToolTimeout,
	}
	if opt != nil {
		opt(&cfg)
	}
	return New(cfg)
}

// delegationTimeout bounds one delegated agent run: every step of the
// delegate may use a full call timeout.
func (f *Factory) delegationTimeout() time.Duration {
	call := f.deps.CallTimeout
	if call <= 0 {
		call = DefaultCallTimeout
	}
	return DefaultMaxSteps * call
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, domain.Status) {}
