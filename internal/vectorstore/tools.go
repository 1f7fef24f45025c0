package vectorstore

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/smartfin/internal/tool"
)

type insertArgs struct {
	Data []Document `json:"data"`
}

type searchArgs struct {
	Query string `json:"query"`
}

// Tools returns the extraction tools bound to one session's scope.
func Tools(store Store, sessionID string) []tool.Tool {
	return []tool.Tool{
		tool.New("insert_structured_data",
			`Stores structured data chunks and their embeddings into the vector store.
Expects a list of objects where each contains:
- 'text': the text chunk from the fiscal document (an item line, a section), written to describe the item for semantic search.
- 'metadata': an object with structured fields (CNPJ, TotalValue, Date, etc.).
Returns a success confirmation.`,
			tool.Object(map[string]any{
				"data": map[string]any{
					"type":        "array",
					"description": "Chunks to store.",
					"items": tool.Object(map[string]any{
						"text":     tool.Prop("string", "Descriptive text of the chunk."),
						"metadata": tool.Prop("object", "Structured fields extracted from the chunk."),
					}, "text"),
				},
			}, "data"),
			func(ctx context.Context, a insertArgs) (any, error) {
				docs := make([]Document, 0, len(a.Data))
				for _, d := range a.Data {
					if strings.TrimSpace(d.Text) != "" {
						docs = append(docs, d)
					}
				}
				if len(docs) == 0 {
					return nil, errors.New("data must contain at least one chunk with text")
				}
				ids, err := store.Add(ctx, sessionID, docs)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"results":  "Data was inserted into the vector store successfully!",
					"inserted": len(ids),
				}, nil
			}),

		tool.New("extract_structured_data",
			"Searches the session's fiscal documents in the vector store by similarity with the provided natural language query.",
			tool.Object(map[string]any{
				"query": tool.Prop("string", "The natural language search query."),
			}, "query"),
			func(ctx context.Context, a searchArgs) (any, error) {
				if strings.TrimSpace(a.Query) == "" {
					return nil, errors.New("query must not be empty")
				}
				hits, err := store.Search(ctx, sessionID, a.Query, DefaultSearchLimit)
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": hits}, nil
			}),
	}
}
