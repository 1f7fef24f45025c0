package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/smartfin/internal/domain"
)

// Qdrant is a Store backed by a Qdrant server, reached over its REST API.
// All users share one collection; points carry metadata.user_id, indexed
// as a tenant key.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	embedder   Embedder
	http       *http.Client

	initMu sync.Mutex
	ready  bool
}

// QdrantOption configures a Qdrant store.
type QdrantOption func(*Qdrant)

// WithAPIKey sets the api-key header.
func WithAPIKey(key string) QdrantOption { return func(q *Qdrant) { q.apiKey = key } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) QdrantOption { return func(q *Qdrant) { q.http = c } }

// WithCollection overrides the collection name.
func WithCollection(name string) QdrantOption { return func(q *Qdrant) { q.collection = name } }

// NewQdrant creates a Qdrant-backed store. The collection is created lazily
// on first use.
func NewQdrant(baseURL string, embedder Embedder, opts ...QdrantOption) *Qdrant {
	q := &Qdrant{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: Collection,
		embedder:   embedder,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector,omitempty"`
	Score   float64       `json:"score,omitempty"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantPayload struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

func userFilter(userID string) qdrantFilter {
	return qdrantFilter{Must: []qdrantCondition{{
		Key:   "metadata." + UserKey,
		Match: map[string]any{"value": userID},
	}}}
}

// EnsureCollection creates the collection and its tenant index if missing.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	q.initMu.Lock()
	defer q.initMu.Unlock()
	if q.ready {
		return nil
	}

	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(q.collection)+"/exists", nil, &exists); err != nil {
		return err
	}

	if !exists.Result.Exists {
		create := map[string]any{
			"vectors": map[string]any{
				"size":     q.embedder.Dimensions(),
				"distance": "Cosine",
			},
			// Multi-tenant layout: no global HNSW graph, one per tenant.
			"hnsw_config": map[string]any{"m": 0, "payload_m": 16},
		}
		if err := q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(q.collection), create, nil); err != nil {
			return err
		}

		index := map[string]any{
			"field_name":   "metadata." + UserKey,
			"field_schema": map[string]any{"type": "keyword", "is_tenant": true},
		}
		if err := q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(q.collection)+"/index?wait=true", index, nil); err != nil {
			return err
		}
		slog.Info("Vector collection created", "collection", q.collection, "dimensions", q.embedder.Dimensions())
	}

	q.ready = true
	return nil
}

// Add embeds documents and upserts them as points owned by userID.
func (q *Qdrant) Add(ctx context.Context, userID string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, errNoDocuments
	}
	if err := q.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	vectors, err := q.embedder.Embed(ctx, texts(docs))
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	points := make([]qdrantPoint, len(docs))
	for i, d := range docs {
		ids[i] = uuid.NewString()
		points[i] = qdrantPoint{
			ID:      ids[i],
			Vector:  vectors[i],
			Payload: qdrantPayload{Text: d.Text, Metadata: scoped(d.Metadata, userID)},
		}
	}

	path := "/collections/" + url.PathEscape(q.collection) + "/points?wait=true"
	if err := q.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return nil, err
	}
	return ids, nil
}

// Search runs a filtered nearest-neighbour query over the user's points.
func (q *Qdrant) Search(ctx context.Context, userID, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if err := q.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	vectors, err := q.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query":        vectors[0],
		"filter":       userFilter(userID),
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result struct {
			Points []qdrantPoint `json:"points"`
		} `json:"result"`
	}
	path := "/collections/" + url.PathEscape(q.collection) + "/points/query"
	if err := q.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, len(resp.Result.Points))
	for i, p := range resp.Result.Points {
		hits[i] = Hit{
			ID:       p.ID,
			Score:    p.Score,
			Text:     p.Payload.Text,
			Metadata: unscoped(p.Payload.Metadata),
		}
	}
	return hits, nil
}

// DeleteByUser removes every point owned by userID.
func (q *Qdrant) DeleteByUser(ctx context.Context, userID string) error {
	if err := q.EnsureCollection(ctx); err != nil {
		return err
	}
	path := "/collections/" + url.PathEscape(q.collection) + "/points/delete?wait=true"
	if err := q.do(ctx, http.MethodPost, path, map[string]any{"filter": userFilter(userID)}, nil); err != nil {
		return err
	}
	slog.Info("Vector points deleted", "collection", q.collection, "session_id", userID)
	return nil
}

func (q *Qdrant) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build qdrant request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return domain.Unavailable(fmt.Errorf("qdrant %s %s: %w", method, path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Unavailable(fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}
