package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/smartfin/internal/agent"
	"github.com/ashureev/smartfin/internal/dataset"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/llm"
	"github.com/ashureev/smartfin/internal/ocr"
)

type fakeAgent struct {
	capability domain.Capability
	reply      string
	err        error

	mu     sync.Mutex
	inputs []string
}

func (a *fakeAgent) Capability() domain.Capability { return a.capability }
func (a *fakeAgent) Model() domain.ModelDescriptor {
	return domain.ModelDescriptor{Name: "fake-model", Provider: domain.ProviderGroq}
}
func (a *fakeAgent) SwitchModel(domain.ModelDescriptor, llm.Client) {}
func (a *fakeAgent) Teardown(context.Context) error { return nil }

func (a *fakeAgent) Invoke(_ context.Context, input string) (string, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, input)
	a.mu.Unlock()
	return a.reply, a.err
}

func (a *fakeAgent) lastInput() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.inputs) == 0 {
		return ""
	}
	return a.inputs[len(a.inputs)-1]
}

type fakeSessions struct {
	agents  map[domain.Capability]*fakeAgent
	getErr  error
	keys    map[domain.Provider]string
	contact string
	models  map[domain.Capability]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		agents: map[domain.Capability]*fakeAgent{
			domain.CapabilitySupervise:  {capability: domain.CapabilitySupervise, reply: "raw"},
			domain.CapabilityExtraction: {capability: domain.CapabilityExtraction, reply: "Dados **armazenados**."},
		},
		keys:   map[domain.Provider]string{},
		models: map[domain.Capability]string{},
	}
}

func (s *fakeSessions) GetOrCreateAgent(_ context.Context, _ string, c domain.Capability, _ bool) (agent.Agent, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.agents[c], nil
}

func (s *fakeSessions) RegisterCredential(_ string, p domain.Provider, key string) error {
	s.keys[p] = key
	return nil
}

func (s *fakeSessions) RegisterContact(_, email string) error {
	s.contact = email
	return nil
}

func (s *fakeSessions) SetModel(_ string, c domain.Capability, name string) (domain.ModelDescriptor, error) {
	m, ok := domain.LookupModel(name)
	if !ok {
		return domain.ModelDescriptor{}, domain.ErrUnknownModel
	}
	s.models[c] = name
	return m, nil
}

type fakeValidator struct {
	result domain.StructuredResult
	err    error
	raws   []string
}

func (v *fakeValidator) Validate(_ context.Context, _, raw string) (domain.StructuredResult, error) {
	v.raws = append(v.raws, raw)
	return v.result, v.err
}

type fakeDatasets struct {
	frames map[string]*dataset.Frame
}

func (d *fakeDatasets) Put(sessionID string, f *dataset.Frame, _ string) {
	d.frames[sessionID] = f
}

type fakeGraphs struct {
	graphs map[string]*domain.Graph
}

func (g fakeGraphs) GetGraph(_ context.Context, id string) (*domain.Graph, error) {
	return g.graphs[id], nil
}

type fakeOCR struct {
	text string
	err  error
}

func (o fakeOCR) ExtractText(context.Context, ocr.Image) (string, error) {
	return o.text, o.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []domain.Status
}

func (n *recordingNotifier) Notify(_ string, s domain.Status) {
	n.mu.Lock()
	n.statuses = append(n.statuses, s)
	n.mu.Unlock()
}

func (n *recordingNotifier) last() domain.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statuses[len(n.statuses)-1]
}

type fixture struct {
	facade    *Facade
	sessions  *fakeSessions
	validator *fakeValidator
	datasets  *fakeDatasets
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, extractor ocr.Extractor) *fixture {
	t.Helper()
	fx := &fixture{
		sessions:  newFakeSessions(),
		validator: &fakeValidator{result: domain.StructuredResult{Response: "**Olá**", GraphID: domain.SingleGraph("g-1")}},
		datasets:  &fakeDatasets{frames: map[string]*dataset.Frame{}},
		notifier:  &recordingNotifier{},
	}
	fx.facade = New(Config{
		Sessions:  fx.sessions,
		Validator: fx.validator,
		Datasets:  fx.datasets,
		Graphs: fakeGraphs{graphs: map[string]*domain.Graph{
			"g-1": {ID: "g-1", Figure: []byte(`{"data":[]}`)},
		}},
		OCR:      extractor,
		Notifier: fx.notifier,
	})
	return fx
}

func TestSendPromptRendersHTML(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	got, err := fx.facade.SendPrompt(context.Background(), "s1", "quanto gastei?")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if got.Response != "<p><strong>Olá</strong></p>\n" {
		t.Fatalf("response = %q", got.Response)
	}
	if len(got.GraphID.IDs) != 1 || got.GraphID.IDs[0] != "g-1" {
		t.Fatalf("graph ids = %v", got.GraphID.IDs)
	}
	if len(fx.validator.raws) != 1 || fx.validator.raws[0] != "raw" {
		t.Fatalf("validator saw %v", fx.validator.raws)
	}

	want := []domain.Status{domain.StatusSupervisorInit, domain.StatusSupervisorProcess, domain.StatusSupervisorResponse}
	if len(fx.notifier.statuses) != len(want) {
		t.Fatalf("statuses = %v", fx.notifier.statuses)
	}
	for i := range want {
		if fx.notifier.statuses[i] != want[i] {
			t.Fatalf("status %d = %v, want %v", i, fx.notifier.statuses[i], want[i])
		}
	}
}

func TestSendPromptMarkdownEscapesRawHTML(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	fx.validator.result.Response = "<script>alert(1)</script>"

	got, err := fx.facade.SendPrompt(context.Background(), "s1", "oi")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if strings.Contains(got.Response, "<script>") {
		t.Fatalf("raw html passed through: %q", got.Response)
	}
}

func TestSendPromptErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		setup func(fx *fixture)
		want  domain.Kind
	}{
		{
			name: "empty request",
			text: "  ",
			want: domain.KindInvalidInput,
		},
		{
			name:  "no credential",
			text:  "oi",
			setup: func(fx *fixture) { fx.sessions.getErr = domain.ErrCredentialMissing },
			want:  domain.KindCredentialMissing,
		},
		{
			name:  "provider failure",
			text:  "oi",
			setup: func(fx *fixture) { fx.sessions.agents[domain.CapabilitySupervise].err = errors.New("502 from upstream") },
			want:  domain.KindCollaboratorUnavailable,
		},
		{
			name: "validation exhausted",
			text: "oi",
			setup: func(fx *fixture) {
				fx.validator.err = domain.WrapError(domain.KindValidationExhausted, "exhausted", errors.New("bad json"))
			},
			want: domain.KindValidationExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(fx)
			}
			_, err := fx.facade.SendPrompt(context.Background(), "s1", tt.text)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := domain.KindOf(err); got != tt.want {
				t.Fatalf("kind = %v, want %v (err %v)", got, tt.want, err)
			}
			if tt.want != domain.KindInvalidInput && fx.notifier.last().Status != domain.StateError {
				t.Fatalf("last status = %v, want error event", fx.notifier.last())
			}
		})
	}
}

func TestUploadCSVCachesDatasetAndReturnsPreview(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	body := "valor;categoria\n1;a\n2;b\n3;c\n4;d\n5;e\n6;f\n7;g\n"
	res, err := fx.facade.Upload(context.Background(), "s1", dataset.Upload{
		Filename:    "gastos.csv",
		ContentType: "text/csv",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
		Separator:   ";",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Answer != nil {
		t.Fatal("tabular upload should not produce an agent answer")
	}
	if len(res.Preview["valor"]) != PreviewRows {
		t.Fatalf("preview rows = %d, want %d", len(res.Preview["valor"]), PreviewRows)
	}
	if res.Preview["valor"]["0"] != 1.0 || res.Preview["categoria"]["4"] != "e" {
		t.Fatalf("preview = %v", res.Preview)
	}
	if f := fx.datasets.frames["s1"]; f == nil || f.NumRows() != 7 {
		t.Fatalf("cached frame = %v", f)
	}
	if fx.notifier.statuses[1] != domain.StatusUploadCSV || fx.notifier.last() != domain.StatusUploadFinish {
		t.Fatalf("statuses = %v", fx.notifier.statuses)
	}
}

func TestUploadXMLRoutesToExtraction(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	doc := `<nfeProc><NFe><infNFe Id="NFe123"/></NFe></nfeProc>`
	res, err := fx.facade.Upload(context.Background(), "s1", dataset.Upload{
		Filename: "nota.xml",
		Size:     int64(len(doc)),
		Body:     strings.NewReader(doc),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Answer == nil {
		t.Fatal("expected extraction answer")
	}
	if len(res.Answer.GraphID.IDs) != 0 {
		t.Fatalf("graph ids = %v, want none", res.Answer.GraphID.IDs)
	}
	if !strings.Contains(res.Answer.Response, "<strong>armazenados</strong>") {
		t.Fatalf("response = %q", res.Answer.Response)
	}
	if got := fx.sessions.agents[domain.CapabilityExtraction].lastInput(); got != doc {
		t.Fatalf("extraction input = %q", got)
	}
	if len(fx.datasets.frames) != 0 {
		t.Fatal("xml upload must not replace the cached dataset")
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	_, err := fx.facade.Upload(context.Background(), "s1", dataset.Upload{
		Filename:    "notes.pdf",
		ContentType: "application/pdf",
		Body:        strings.NewReader("%PDF-"),
	})
	if !errors.Is(err, domain.NewError(domain.KindUnsupportedFileType, "")) {
		t.Fatalf("err = %v, want unsupported file type", err)
	}
	if fx.notifier.last().Status != domain.StateError {
		t.Fatalf("last status = %v", fx.notifier.last())
	}
}

func TestExtractImage(t *testing.T) {
	t.Parallel()

	img := ocr.Image{ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}

	t.Run("ocr disabled", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, nil)
		_, err := fx.facade.ExtractImage(context.Background(), "s1", img)
		if domain.KindOf(err) != domain.KindCollaboratorUnavailable {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("unsupported image", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, fakeOCR{text: "x"})
		_, err := fx.facade.ExtractImage(context.Background(), "s1", ocr.Image{ContentType: "image/gif", Data: []byte("GIF")})
		if domain.KindOf(err) != domain.KindUnsupportedFileType {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("text goes to supervisor", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, fakeOCR{text: "NOTA FISCAL 123"})
		if _, err := fx.facade.ExtractImage(context.Background(), "s1", img); err != nil {
			t.Fatalf("ExtractImage: %v", err)
		}
		input := fx.sessions.agents[domain.CapabilitySupervise].lastInput()
		if !strings.HasPrefix(input, imageInstruction) || !strings.HasSuffix(input, "NOTA FISCAL 123") {
			t.Fatalf("supervisor input = %q", input)
		}
		if fx.notifier.statuses[1] != domain.StatusUploadImage {
			t.Fatalf("statuses = %v", fx.notifier.statuses)
		}
	})
}

func TestRegisterContact(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	for _, bad := range []string{"", "joao", "joao@", "joao@mail", "jo ao@mail.com"} {
		if err := fx.facade.RegisterContact("s1", bad); !errors.Is(err, domain.ErrInvalidContact) {
			t.Errorf("RegisterContact(%q) = %v, want invalid contact", bad, err)
		}
	}
	if err := fx.facade.RegisterContact("s1", " joao.silva+nf@empresa.com.br "); err != nil {
		t.Fatalf("RegisterContact: %v", err)
	}
	if fx.sessions.contact != "joao.silva+nf@empresa.com.br" {
		t.Fatalf("contact = %q", fx.sessions.contact)
	}
}

func TestRegisterKey(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	if err := fx.facade.RegisterKey("s1", "Groq", " gsk_1 "); err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	if fx.sessions.keys[domain.ProviderGroq] != "gsk_1" {
		t.Fatalf("keys = %v", fx.sessions.keys)
	}
	if err := fx.facade.RegisterKey("s1", "openrouter", "k"); domain.KindOf(err) != domain.KindInvalidInput {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestChangeModel(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	m, err := fx.facade.ChangeModel("s1", "analyze_data", "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("ChangeModel: %v", err)
	}
	if m.Provider != domain.ProviderGoogle {
		t.Fatalf("provider = %v", m.Provider)
	}
	if _, err := fx.facade.ChangeModel("s1", "analyze_data", "gpt-9"); !errors.Is(err, domain.ErrUnknownModel) {
		t.Fatalf("err = %v, want unknown model", err)
	}
	if _, err := fx.facade.ChangeModel("s1", "cook", "gemini-2.5-pro"); domain.KindOf(err) != domain.KindInvalidInput {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestAgentInfo(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	if _, ok := fx.facade.AgentInfo(true, false).([]domain.Capability); !ok {
		t.Fatal("tasks should list capabilities")
	}
	if _, ok := fx.facade.AgentInfo(false, true).(map[domain.Provider]map[domain.Capability]string); !ok {
		t.Fatal("defaults should return the default model table")
	}
	if _, ok := fx.facade.AgentInfo(false, false).(map[string]domain.Provider); !ok {
		t.Fatal("catalog expected")
	}
}

func TestGraph(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)

	fig, err := fx.facade.Graph(context.Background(), "g-1")
	if err != nil || string(fig) != `{"data":[]}` {
		t.Fatalf("Graph = %s, %v", fig, err)
	}
	if _, err := fx.facade.Graph(context.Background(), "missing"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}
