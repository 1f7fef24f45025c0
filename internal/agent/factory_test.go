package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ashureev/smartfin/internal/dataset"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/llm"
	"github.com/ashureev/smartfin/internal/report"
	"github.com/ashureev/smartfin/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCharts struct {
	mu     sync.Mutex
	graphs map[string]*domain.Graph
}

func (m *memCharts) SaveGraph(_ context.Context, g *domain.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graphs == nil {
		m.graphs = map[string]*domain.Graph{}
	}
	m.graphs[g.ID] = g
	return nil
}

func (m *memCharts) GetGraph(_ context.Context, id string) (*domain.Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graphs[id], nil
}

type nopMailer struct{}

func (nopMailer) Send(context.Context, string, string, []byte) error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Status
}

func (r *recordingNotifier) Notify(_ string, s domain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

// clientPool hands out one mock client per credential.
type clientPool struct {
	mu      sync.Mutex
	clients map[string]*llm.MockClient
	fail    bool
}

func (p *clientPool) newClient(_ domain.Provider, key string) (llm.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errors.New("provider down")
	}
	if p.clients == nil {
		p.clients = map[string]*llm.MockClient{}
	}
	c, ok := p.clients[key]
	if !ok {
		c = llm.NewMockClient(key)
		p.clients[key] = c
	}
	return c, nil
}

func newTestFactory(t *testing.T, pool *clientPool, vectors vectorstore.Store, n Notifier) *Factory {
	t.Helper()
	return NewFactory(Deps{
		Datasets:  dataset.NewStore(),
		Charts:    &memCharts{},
		Vectors:   vectors,
		Renderer:  report.NewRenderer("test"),
		Mailer:    nopMailer{},
		Notifier:  n,
		NewClient: pool.newClient,
	})
}

func TestResolveModel(t *testing.T) {
	_, _, err := ResolveModel(State{}, domain.CapabilitySupervise)
	require.ErrorIs(t, err, domain.ErrCredentialMissing)

	state := State{Credentials: map[domain.Provider]string{
		domain.ProviderGoogle:    "g",
		domain.ProviderAnthropic: "a",
	}}
	m, key, err := ResolveModel(state, domain.CapabilityAnalysis)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGoogle, m.Provider)
	assert.Equal(t, "gemini-2.5-pro", m.Name)
	assert.Equal(t, "g", key)

	state.Models = map[domain.Capability]domain.ModelDescriptor{
		domain.CapabilityAnalysis:  {Name: "claude-3-7-sonnet-latest", Provider: domain.ProviderAnthropic},
		domain.CapabilityReporting: {Name: "llama-3.1-8b-instant", Provider: domain.ProviderGroq},
	}
	m, key, err = ResolveModel(state, domain.CapabilityAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "claude-3-7-sonnet-latest", m.Name)
	assert.Equal(t, "a", key)

	// Override without a credential for its provider falls back.
	m, _, err = ResolveModel(state, domain.CapabilityReporting)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGoogle, m.Provider)
}

func TestFactoryBuild(t *testing.T) {
	pool := &clientPool{}
	f := newTestFactory(t, pool, vectorstore.NewMemory(vectorstore.NewHashEmbedder(64)), nil)

	_, err := f.Build(context.Background(), State{SessionID: "s1"})
	require.ErrorIs(t, err, domain.ErrCredentialMissing)

	b, err := f.Build(context.Background(), State{
		SessionID:   "s1",
		Credentials: map[domain.Provider]string{domain.ProviderGroq: "groq-key"},
	})
	require.NoError(t, err)

	var caps []domain.Capability
	for _, a := range b.Agents() {
		caps = append(caps, a.Capability())
		assert.Equal(t, domain.ProviderGroq, a.Model().Provider)
	}
	assert.Equal(t, domain.BuildOrder, caps)

	sup, ok := b.Get(domain.CapabilitySupervise)
	require.True(t, ok)
	assert.ElementsMatch(t,
		[]string{"data_analyst", "data_engineer", "tax_specialist", "report_gen", "current_datetime"},
		sup.(*ToolAgent).ToolNames())

	tax, _ := b.Get(domain.CapabilityValidation)
	assert.Contains(t, tax.(*ToolAgent).ToolNames(), "validate_icms")
}

func TestFactoryBuildFailsWhole(t *testing.T) {
	pool := &clientPool{fail: true}
	f := newTestFactory(t, pool, vectorstore.NewMemory(vectorstore.NewHashEmbedder(64)), nil)

	b, err := f.Build(context.Background(), State{
		SessionID:   "s1",
		Credentials: map[domain.Provider]string{domain.ProviderGroq: "k"},
	})
	require.Error(t, err)
	assert.Nil(t, b)
}

func TestSupervisorDelegates(t *testing.T) {
	pool := &clientPool{}
	notifier := &recordingNotifier{}
	f := newTestFactory(t, pool, vectorstore.NewMemory(vectorstore.NewHashEmbedder(64)), notifier)

	b, err := f.Build(context.Background(), State{
		SessionID:   "s1",
		Credentials: map[domain.Provider]string{domain.ProviderGroq: "k"},
	})
	require.NoError(t, err)

	client := pool.clients["k"]
	client.Push(
		llm.ToolCalls(llm.ToolCall{ID: "c1", Name: "tax_specialist", Arguments: `{"request":"validate"}`}),
		llm.Text("ICMS válido"),
		llm.Text(`{"response": "ok", "graph_id": ""}`),
	)

	sup, _ := b.Get(domain.CapabilitySupervise)
	out, err := sup.Invoke(context.Background(), "valide a nota")
	require.NoError(t, err)
	assert.Equal(t, `{"response": "ok", "graph_id": ""}`, out)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, domain.StatusTaxSpecialistInit, notifier.events[0])

	reqs := client.Requests()
	require.Len(t, reqs, 3)
	// The delegate received the supervisor's request and the tax prompt.
	assert.Equal(t, Prompt(domain.CapabilityValidation), reqs[1].Messages[0].Content)
	assert.Equal(t, "validate", reqs[1].Messages[1].Content)
	assert.Equal(t, "ICMS válido", reqs[2].Messages[len(reqs[2].Messages)-1].Content)
}

func TestBundleTeardownReleasesVectors(t *testing.T) {
	pool := &clientPool{}
	vectors := vectorstore.NewMemory(vectorstore.NewHashEmbedder(64))
	f := newTestFactory(t, pool, vectors, nil)

	ctx := context.Background()
	_, err := vectors.Add(ctx, "s1", []vectorstore.Document{{Text: "NF-e 123"}})
	require.NoError(t, err)
	_, err = vectors.Add(ctx, "s2", []vectorstore.Document{{Text: "NF-e 456"}})
	require.NoError(t, err)

	b, err := f.Build(ctx, State{SessionID: "s1", Credentials: map[domain.Provider]string{domain.ProviderGroq: "k"}})
	require.NoError(t, err)

	b.Teardown(ctx, "s1")
	assert.Equal(t, 0, vectors.Count("s1"))
	assert.Equal(t, 1, vectors.Count("s2"))
}

func TestCorrectorHasNoTools(t *testing.T) {
	pool := &clientPool{}
	f := newTestFactory(t, pool, vectorstore.NewMemory(vectorstore.NewHashEmbedder(64)), nil)

	c, err := f.Corrector(State{Credentials: map[domain.Provider]string{domain.ProviderAnthropic: "a"}})
	require.NoError(t, err)
	assert.Equal(t, domain.CapabilityDefault, c.Capability())
	assert.Equal(t, "claude-3-5-haiku-latest", c.Model().Name)
	assert.Empty(t, c.(*ToolAgent).ToolNames())
}
