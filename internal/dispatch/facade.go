// Package dispatch is the single entry point transports use to reach the
// session agents.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashureev/smartfin/internal/agent"
	"github.com/ashureev/smartfin/internal/dataset"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/ocr"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Sessions is the session registry as seen by the facade.
type Sessions interface {
	GetOrCreateAgent(ctx context.Context, id string, c domain.Capability, force bool) (agent.Agent, error)
	RegisterCredential(id string, p domain.Provider, key string) error
	RegisterContact(id, email string) error
	SetModel(id string, c domain.Capability, name string) (domain.ModelDescriptor, error)
}

// Validator normalizes raw supervisor output.
type Validator interface {
	Validate(ctx context.Context, sessionID, raw string) (domain.StructuredResult, error)
}

// Datasets caches the session's tabular upload.
type Datasets interface {
	Put(sessionID string, f *dataset.Frame, source string)
}

// Graphs resolves stored chart artifacts.
type Graphs interface {
	GetGraph(ctx context.Context, id string) (*domain.Graph, error)
}

// PreviewRows is the number of rows returned after a tabular upload.
const PreviewRows = 5

const imageInstruction = "The following text was extracted from an image, try to identify its context and return a response in Brazilian Portuguese, including parts of the text when applicable. If it's related to invoice data, create an analysis about it (e.g.: extract the fields received and pass them to the Data Engineer to store), if not return a simple response.\n\n"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Config wires the facade's collaborators. OCR may be nil when disabled.
type Config struct {
	Sessions        Sessions
	Validator       Validator
	Datasets        Datasets
	Parser          *dataset.Parser
	Graphs          Graphs
	OCR             ocr.Extractor
	Notifier        agent.Notifier
	ConversationLog agent.ConversationLogger
	MaxImageBytes   int64
}

// Facade routes transport requests to agents.
type Facade struct {
	sessions  Sessions
	validator Validator
	datasets  Datasets
	parser    *dataset.Parser
	graphs    Graphs
	ocr       ocr.Extractor
	notifier  agent.Notifier
	log       agent.ConversationLogger
	maxImage  int64
	md        goldmark.Markdown
}

// New creates a facade.
func New(cfg Config) *Facade {
	f := &Facade{
		sessions:  cfg.Sessions,
		validator: cfg.Validator,
		datasets:  cfg.Datasets,
		parser:    cfg.Parser,
		graphs:    cfg.Graphs,
		ocr:       cfg.OCR,
		notifier:  cfg.Notifier,
		log:       cfg.ConversationLog,
		maxImage:  cfg.MaxImageBytes,
		md:        goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	if f.parser == nil {
		f.parser = dataset.NewParser(0)
	}
	if f.notifier == nil {
		f.notifier = nopNotifier{}
	}
	if f.log == nil {
		f.log = agent.NopConversationLogger()
	}
	if f.maxImage <= 0 {
		f.maxImage = ocr.DefaultMaxImageBytes
	}
	return f
}

// UploadResult is either a table preview or the extraction agent's answer.
type UploadResult struct {
	Preview map[string]map[string]any
	Answer  *domain.StructuredResult
}

// SendPrompt sends the user's text to the supervisor and returns its
// validated answer with the response rendered as HTML.
func (f *Facade) SendPrompt(ctx context.Context, sessionID, text string) (domain.StructuredResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.StructuredResult{}, domain.NewError(domain.KindInvalidInput, "The request cannot be empty.")
	}

	f.notifier.Notify(sessionID, domain.StatusSupervisorInit)
	sup, err := f.sessions.GetOrCreateAgent(ctx, sessionID, domain.CapabilitySupervise, false)
	if err != nil {
		return f.fail(sessionID, domain.StageSupervisor, err)
	}

	f.log.Log(agent.ConversationLogEvent{
		SessionID:  sessionID,
		Channel:    "prompt_http",
		Direction:  "inbound",
		EventType:  "user_prompt",
		ContentRaw: text,
	})

	f.notifier.Notify(sessionID, domain.StatusSupervisorProcess)
	raw, err := sup.Invoke(ctx, text)
	if err != nil {
		return f.fail(sessionID, domain.StageSupervisor, agentError(err))
	}

	result, err := f.validator.Validate(ctx, sessionID, raw)
	if err != nil {
		return f.fail(sessionID, domain.StageSupervisor, err)
	}

	f.log.Log(agent.ConversationLogEvent{
		SessionID:  sessionID,
		Channel:    "prompt_http",
		Direction:  "outbound",
		EventType:  "supervisor_response",
		Capability: string(domain.CapabilitySupervise),
		Model:      sup.Model().Name,
		ContentRaw: result.Response,
		Meta:       map[string]any{"graph_ids": result.GraphID.IDs},
	})

	result.Response = f.html(result.Response)
	f.notifier.Notify(sessionID, domain.StatusSupervisorResponse)
	return result, nil
}

// Upload parses a file. Tables replace the session's dataset and return a
// preview; XML documents go to the extraction agent.
func (f *Facade) Upload(ctx context.Context, sessionID string, u dataset.Upload) (*UploadResult, error) {
	f.notifier.Notify(sessionID, domain.StatusUploadInit)

	format, err := dataset.DetectFormat(u.Filename, u.ContentType)
	if err != nil {
		return nil, f.failUpload(sessionID, err)
	}
	f.notifier.Notify(sessionID, formatStatus(format))

	res, err := f.parser.Parse(u)
	if err != nil {
		return nil, f.failUpload(sessionID, err)
	}
	if res.Archive {
		f.notifier.Notify(sessionID, formatStatus(res.Format))
	}

	f.log.Log(agent.ConversationLogEvent{
		SessionID: sessionID,
		Channel:   "upload_http",
		Direction: "inbound",
		EventType: "file_upload",
		Meta: map[string]any{
			"filename": u.Filename,
			"source":   res.Source,
			"format":   string(res.Format),
			"archive":  res.Archive,
		},
	})

	if !res.Tabular() {
		answer, err := f.ExtractDocument(ctx, sessionID, res.Document)
		if err != nil {
			return nil, err
		}
		return &UploadResult{Answer: &answer}, nil
	}

	f.datasets.Put(sessionID, res.Frame, res.Source)
	f.notifier.Notify(sessionID, domain.StatusUploadFinish)
	slog.Info("Dataset cached", "session_id", sessionID, "source", res.Source,
		"rows", res.Frame.NumRows(), "columns", len(res.Frame.Columns))
	return &UploadResult{Preview: res.Frame.Head(PreviewRows).ColumnOriented()}, nil
}

// ExtractDocument hands a semi-structured document to the extraction agent.
func (f *Facade) ExtractDocument(ctx context.Context, sessionID, document string) (domain.StructuredResult, error) {
	if strings.TrimSpace(document) == "" {
		return domain.StructuredResult{}, f.failUpload(sessionID, domain.NewError(domain.KindInvalidInput, "The uploaded document is empty."))
	}
	eng, err := f.sessions.GetOrCreateAgent(ctx, sessionID, domain.CapabilityExtraction, false)
	if err != nil {
		return f.fail(sessionID, domain.StageDataEngineer, err)
	}

	f.notifier.Notify(sessionID, domain.StatusDataEngineerExtract)
	out, err := eng.Invoke(ctx, document)
	if err != nil {
		return f.fail(sessionID, domain.StageDataEngineer, agentError(err))
	}
	f.notifier.Notify(sessionID, domain.StatusUploadFinish)

	return domain.StructuredResult{Response: f.html(out), GraphID: domain.SingleGraph("")}, nil
}

// ExtractImage runs OCR on an image and sends the text to the supervisor.
func (f *Facade) ExtractImage(ctx context.Context, sessionID string, img ocr.Image) (domain.StructuredResult, error) {
	if err := ocr.CheckImage(img, f.maxImage); err != nil {
		return domain.StructuredResult{}, err
	}
	if f.ocr == nil {
		return domain.StructuredResult{}, domain.Unavailable(errors.New("ocr is not configured"))
	}

	f.notifier.Notify(sessionID, domain.StatusUploadInit)
	f.notifier.Notify(sessionID, domain.StatusUploadImage)
	text, err := f.ocr.ExtractText(ctx, img)
	if err != nil {
		return domain.StructuredResult{}, f.failUpload(sessionID, err)
	}
	f.notifier.Notify(sessionID, domain.StatusUploadFinish)

	return f.SendPrompt(ctx, sessionID, imageInstruction+text)
}

// ChangeModel selects the model of one agent task.
func (f *Facade) ChangeModel(sessionID, task, model string) (domain.ModelDescriptor, error) {
	c, err := domain.ParseCapability(task)
	if err != nil {
		return domain.ModelDescriptor{}, err
	}
	return f.sessions.SetModel(sessionID, c, model)
}

// RegisterKey stores a provider API key for the session.
func (f *Facade) RegisterKey(sessionID, provider, key string) error {
	p, ok := domain.ParseProvider(strings.ToLower(strings.TrimSpace(provider)))
	if !ok {
		return domain.NewError(domain.KindInvalidInput, fmt.Sprintf("Unknown provider %q, use groq, google or anthropic.", provider))
	}
	return f.sessions.RegisterCredential(sessionID, p, strings.TrimSpace(key))
}

// RegisterContact stores the email reports are sent to.
func (f *Facade) RegisterContact(sessionID, email string) error {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) {
		return domain.ErrInvalidContact
	}
	return f.sessions.RegisterContact(sessionID, email)
}

// AgentInfo returns the task list, the default model table or the model
// catalog.
func (f *Facade) AgentInfo(tasks, defaults bool) any {
	switch {
	case tasks:
		return domain.Capabilities
	case defaults:
		return domain.DefaultModels
	default:
		return domain.Models
	}
}

// Models groups the catalog by provider.
func (f *Facade) Models() map[domain.Provider][]string {
	return domain.ModelsByProvider()
}

// Graph returns a stored plotly figure.
func (f *Facade) Graph(ctx context.Context, id string) (json.RawMessage, error) {
	g, err := f.graphs.GetGraph(ctx, id)
	if err != nil {
		return nil, domain.Unavailable(err)
	}
	if g == nil {
		return nil, domain.NewError(domain.KindNotFound, "Graph not found.")
	}
	return g.Figure, nil
}

func (f *Facade) html(markdown string) string {
	var buf bytes.Buffer
	if err := f.md.Convert([]byte(markdown), &buf); err != nil {
		slog.Warn("Failed to render markdown, returning raw text", "error", err)
		return markdown
	}
	return buf.String()
}

func (f *Facade) fail(sessionID, stage string, err error) (domain.StructuredResult, error) {
	f.notifier.Notify(sessionID, domain.StatusFailed(stage, "Não foi possível concluir a solicitação"))
	return domain.StructuredResult{}, err
}

func (f *Facade) failUpload(sessionID string, err error) error {
	f.notifier.Notify(sessionID, domain.StatusFailed(domain.StageUpload, "Falha ao processar o arquivo"))
	return err
}

// agentError keeps typed errors and cancellation, and reports anything else
// from an agent run as a collaborator outage.
func agentError(err error) error {
	var de *domain.Error
	if errors.As(err, &de) || errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Unavailable(err)
}

func formatStatus(f dataset.Format) domain.Status {
	switch f {
	case dataset.FormatZip:
		return domain.StatusUploadZip
	case dataset.FormatXLSX:
		return domain.StatusUploadXLSX
	case dataset.FormatXML:
		return domain.StatusUploadXML
	default:
		return domain.StatusUploadCSV
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, domain.Status) {}
