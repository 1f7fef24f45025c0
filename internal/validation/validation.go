// Package validation normalizes raw agent output into a structured result,
// asking a corrective agent to repair it a bounded number of times.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/smartfin/internal/agent"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/tidwall/jsonc"
)

// AttemptCount numbers corrective rounds.
type AttemptCount int

// MaxAttempts bounds the corrective rounds of one validation.
const MaxAttempts AttemptCount = 3

// Exhausted reports whether no corrective round is left.
func (c AttemptCount) Exhausted() bool { return c >= MaxAttempts }

// Attempt is the state carried from one corrective round to the next.
type Attempt struct {
	Count AttemptCount
	Text  string
	Err   error
}

// Schema is a structured output shape: instructions for the model and a
// strict parser.
type Schema[T any] struct {
	Name         string
	Instructions string
	Parse        func(text string) (T, error)
}

// Result is the schema of every supervisor answer.
var Result = Schema[domain.StructuredResult]{
	Name:         "structured_result",
	Instructions: domain.ResultFormatInstructions,
	Parse:        ParseResult,
}

// CorrectorSource builds the corrective agent for a session.
type CorrectorSource interface {
	Corrector(ctx context.Context, sessionID string) (agent.Agent, error)
}

// DefaultTimeout bounds each corrective call.
const DefaultTimeout = 30 * time.Second

// Pipeline validates agent output.
type Pipeline struct {
	source  CorrectorSource
	timeout time.Duration
	log     agent.ConversationLogger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConversationLog records validation outcomes.
func WithConversationLog(l agent.ConversationLogger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a pipeline. timeout applies to each corrective call.
func New(source CorrectorSource, timeout time.Duration, opts ...Option) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Pipeline{source: source, timeout: timeout, log: agent.NopConversationLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate parses raw as a StructuredResult.
func (p *Pipeline) Validate(ctx context.Context, sessionID, raw string) (domain.StructuredResult, error) {
	return Run(ctx, p, sessionID, raw, Result)
}

// Run parses raw against schema. Output that parses is returned without any
// model call. Otherwise a corrective agent gets up to MaxAttempts rounds,
// each with the offending text, the format instructions and the last
// error. Exhaustion returns domain.ErrValidationExhausted, or a
// CollaboratorUnavailable error when the last corrective call hit an outage.
func Run[T any](ctx context.Context, p *Pipeline, sessionID, raw string, schema Schema[T]) (T, error) {
	var zero T

	v, err := schema.Parse(Strip(raw))
	if err == nil {
		return v, nil
	}
	slog.Warn("Agent output failed validation", "session_id", sessionID, "schema", schema.Name, "error", err)

	corrector, cerr := p.source.Corrector(ctx, sessionID)
	if cerr != nil {
		return zero, cerr
	}

	attempt := Attempt{Text: raw, Err: err}
	for !attempt.Count.Exhausted() {
		attempt.Count++

		out, ierr := p.correct(ctx, corrector, schema.Instructions, attempt)
		if ierr != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			slog.Warn("Corrective call failed", "session_id", sessionID, "attempt", attempt.Count, "error", ierr)
			attempt.Err = ierr
			continue
		}

		v, perr := schema.Parse(Strip(out))
		if perr == nil {
			p.outcome(sessionID, schema.Name, attempt.Count, true)
			return v, nil
		}
		attempt.Text = out
		attempt.Err = perr
	}

	p.outcome(sessionID, schema.Name, attempt.Count, false)
	slog.Error("Agent output validation exhausted", "session_id", sessionID, "schema", schema.Name, "error", attempt.Err)
	// A provider outage on the last round is reported as such, not as bad output.
	if domain.KindOf(attempt.Err) == domain.KindCollaboratorUnavailable {
		return zero, domain.Unavailable(attempt.Err)
	}
	return zero, domain.WrapError(domain.KindValidationExhausted, domain.ErrValidationExhausted.Message, attempt.Err)
}

func (p *Pipeline) correct(ctx context.Context, corrector agent.Agent, instructions string, a Attempt) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var input strings.Builder
	input.WriteString(instructions)
	input.WriteString("\n\n")
	input.WriteString(a.Text)
	input.WriteString("\n\nValidation error: ")
	input.WriteString(a.Err.Error())
	return corrector.Invoke(callCtx, input.String())
}

func (p *Pipeline) outcome(sessionID, schema string, attempts AttemptCount, ok bool) {
	p.log.Log(agent.ConversationLogEvent{
		SessionID: sessionID,
		Channel:   "validation",
		Direction: "internal",
		EventType: "validation_outcome",
		Meta: map[string]any{
			"schema":   schema,
			"attempts": int(attempts),
			"valid":    ok,
		},
	})
}

// Strip removes surrounding code fences and a leading "json" language tag.
func Strip(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		if rest := strings.TrimSpace(s[4:]); strings.HasPrefix(rest, "{") || strings.HasPrefix(rest, "[") {
			s = rest
		}
	}
	return s
}

var errEmpty = errors.New("empty output")

// ParseResult strictly decodes a StructuredResult. Comments and trailing
// commas are tolerated; unknown fields, missing fields, trailing data and
// wrong types are not.
func ParseResult(text string) (domain.StructuredResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.StructuredResult{}, errEmpty
	}

	var raw struct {
		Response *string         `json:"response"`
		GraphID  *domain.GraphIDs `json:"graph_id"`
	}
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(text))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return domain.StructuredResult{}, fmt.Errorf("invalid JSON object: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.StructuredResult{}, errors.New("unexpected data after the JSON object")
	}
	if raw.Response == nil {
		return domain.StructuredResult{}, errors.New(`missing required field "response"`)
	}
	if raw.GraphID == nil {
		return domain.StructuredResult{}, errors.New(`missing required field "graph_id"`)
	}
	return domain.StructuredResult{Response: *raw.Response, GraphID: *raw.GraphID}, nil
}
