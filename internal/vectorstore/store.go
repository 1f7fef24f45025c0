// Package vectorstore stores extracted document chunks with embeddings and
// serves per-user semantic search.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Collection is the shared multi-tenant collection holding every user's data.
const Collection = "user_data_collection"

// UserKey is the payload field used to scope points to a session.
const UserKey = "user_id"

// DefaultSearchLimit is the number of hits returned by a search.
const DefaultSearchLimit = 10

// Document is one chunk of extracted text with structured metadata.
type Document struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Hit is a search result.
type Hit struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Store persists documents scoped by user.
type Store interface {
	Add(ctx context.Context, userID string, docs []Document) ([]string, error)
	Search(ctx context.Context, userID, query string, limit int) ([]Hit, error)
	DeleteByUser(ctx context.Context, userID string) error
}

var errNoDocuments = errors.New("no documents to insert")

// scoped copies metadata and stamps the owning user.
func scoped(md map[string]any, userID string) map[string]any {
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[UserKey] = userID
	return out
}

// unscoped strips the owning user from metadata returned to the model.
func unscoped(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if k != UserKey {
			out[k] = v
		}
	}
	return out
}

type memoryPoint struct {
	id     string
	user   string
	vector []float32
	doc    Document
}

// Memory is a process-local Store used when no Qdrant URL is configured.
type Memory struct {
	embedder Embedder

	mu     sync.RWMutex
	points map[string][]memoryPoint // user -> points
}

// NewMemory creates an in-memory store.
func NewMemory(embedder Embedder) *Memory {
	return &Memory{embedder: embedder, points: make(map[string][]memoryPoint)}
}

// Add embeds and stores documents for a user.
func (m *Memory) Add(ctx context.Context, userID string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, errNoDocuments
	}
	vectors, err := m.embedder.Embed(ctx, texts(docs))
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	pts := make([]memoryPoint, len(docs))
	for i, d := range docs {
		ids[i] = uuid.NewString()
		pts[i] = memoryPoint{
			id:     ids[i],
			user:   userID,
			vector: vectors[i],
			doc:    Document{Text: d.Text, Metadata: scoped(d.Metadata, userID)},
		}
	}

	m.mu.Lock()
	m.points[userID] = append(m.points[userID], pts...)
	m.mu.Unlock()
	return ids, nil
}

// Search ranks the user's documents by cosine similarity.
func (m *Memory) Search(ctx context.Context, userID, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	q := vectors[0]

	m.mu.RLock()
	pts := m.points[userID]
	hits := make([]Hit, 0, len(pts))
	for _, p := range pts {
		hits = append(hits, Hit{
			ID:       p.id,
			Score:    cosine(q, p.vector),
			Text:     p.doc.Text,
			Metadata: unscoped(p.doc.Metadata),
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteByUser removes every point owned by the user.
func (m *Memory) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.points, userID)
	m.mu.Unlock()
	return nil
}

// Count returns how many points a user owns.
func (m *Memory) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points[userID])
}

func texts(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
