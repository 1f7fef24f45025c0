package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zeebo/blake3"

	"github.com/ashureev/smartfin/internal/domain"
)

// Embedder turns texts into dense vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// HashEmbedder is a local feature-hashing embedder: each lowercased token and
// token bigram is hashed with BLAKE3 into a signed bucket, and the result is
// L2-normalized. It needs no network and is deterministic.
type HashEmbedder struct {
	dims int
}

// DefaultHashDimensions matches the multilingual MiniLM vector size.
const DefaultHashDimensions = 384

// NewHashEmbedder returns a hashed embedder with dims buckets.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector size.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed hashes each text.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embedOne(t)
	}
	return out, nil
}

func (h *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	add := func(feature string, weight float32) {
		sum := blake3.Sum256([]byte(feature))
		bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(h.dims)
		if sum[8]&1 == 1 {
			weight = -weight
		}
		vec[bucket] += weight
	}
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder builds a remote embedder. dims must match the model.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dims int, opts ...option.RequestOption) *OpenAIEmbedder {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIEmbedder{client: openai.NewClient(reqOpts...), model: model, dims: dims}
}

// Dimensions returns the configured vector size.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// Embed requests embeddings for texts in one call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, domain.Unavailable(fmt.Errorf("embed texts: %w", err))
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.Unavailable(fmt.Errorf("embed texts: got %d vectors for %d inputs", len(resp.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, domain.Unavailable(fmt.Errorf("embed texts: index %d out of range", d.Index))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
