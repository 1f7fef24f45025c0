package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/llm"
	"github.com/stretchr/testify/assert"
)

// hookAgent records its teardown and can fail or panic in it.
type hookAgent struct {
	capability domain.Capability
	err        error
	panics     bool

	mu  *sync.Mutex
	ran *[]domain.Capability
}

func (a *hookAgent) Capability() domain.Capability { return a.capability }
func (a *hookAgent) Model() domain.ModelDescriptor { return domain.ModelDescriptor{} }
func (a *hookAgent) Invoke(context.Context, string) (string, error) { return "", nil }
func (a *hookAgent) SwitchModel(domain.ModelDescriptor, llm.Client) {}

func (a *hookAgent) Teardown(context.Context) error {
	a.mu.Lock()
	*a.ran = append(*a.ran, a.capability)
	a.mu.Unlock()
	if a.panics {
		panic("vector store connection closed")
	}
	return a.err
}

func TestBundleTeardownSwallowsFailures(t *testing.T) {
	var mu sync.Mutex
	var ran []domain.Capability
	agent := func(c domain.Capability, err error, panics bool) Agent {
		return &hookAgent{capability: c, err: err, panics: panics, mu: &mu, ran: &ran}
	}

	b := NewBundle(
		agent(domain.CapabilityAnalysis, nil, false),
		agent(domain.CapabilityExtraction, errors.New("qdrant unreachable"), false),
		agent(domain.CapabilityReporting, nil, true),
		agent(domain.CapabilitySupervise, nil, false),
	)

	assert.NotPanics(t, func() { b.Teardown(context.Background(), "s1") })
	assert.Equal(t, []domain.Capability{
		domain.CapabilitySupervise,
		domain.CapabilityReporting,
		domain.CapabilityExtraction,
		domain.CapabilityAnalysis,
	}, ran)
}

func TestNewBundleReplacesDuplicateCapability(t *testing.T) {
	var mu sync.Mutex
	var ran []domain.Capability
	first := &hookAgent{capability: domain.CapabilityAnalysis, mu: &mu, ran: &ran}
	second := &hookAgent{capability: domain.CapabilityAnalysis, mu: &mu, ran: &ran}

	b := NewBundle(first, second)
	got, ok := b.Get(domain.CapabilityAnalysis)
	assert.True(t, ok)
	assert.Same(t, second, got)
	assert.Len(t, b.Agents(), 1)
}
