package vectorstore

import (
	"context"
	"encoding/json"
	"math"
	"testing"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	vecs, err := e.Embed(context.Background(), []string{"Nota fiscal de venda", "nota FISCAL de venda", ""})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs[0]) != 64 {
		t.Fatalf("Expected 64 dims, got %d", len(vecs[0]))
	}
	if cosine(vecs[0], vecs[1]) < 0.999 {
		t.Error("Expected case-insensitive identical embeddings")
	}

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("Expected unit vector, got norm %v", norm)
	}
	for _, v := range vecs[2] {
		if v != 0 {
			t.Fatal("Expected zero vector for empty text")
		}
	}
}

func TestMemory_SearchIsScopedByUser(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(NewHashEmbedder(0))

	_, err := m.Add(ctx, "alice", []Document{
		{Text: "parafuso sextavado aço inox", Metadata: map[string]any{"ncm": "73181500"}},
		{Text: "serviço de consultoria tributária", Metadata: map[string]any{"cfop": "5933"}},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := m.Add(ctx, "bob", []Document{{Text: "parafuso sextavado"}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := m.Search(ctx, "alice", "parafuso inox", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("Expected 1 hit, got %d", len(hits))
	}
	if hits[0].Metadata["ncm"] != "73181500" {
		t.Errorf("Expected parafuso chunk first, got %+v", hits[0])
	}
	if _, leaked := hits[0].Metadata[UserKey]; leaked {
		t.Error("user_id must not be returned to the model")
	}

	if err := m.DeleteByUser(ctx, "alice"); err != nil {
		t.Fatalf("DeleteByUser failed: %v", err)
	}
	if m.Count("alice") != 0 || m.Count("bob") != 1 {
		t.Errorf("Unexpected counts alice=%d bob=%d", m.Count("alice"), m.Count("bob"))
	}
}

func TestMemory_AddRequiresDocuments(t *testing.T) {
	m := NewMemory(NewHashEmbedder(0))
	if _, err := m.Add(context.Background(), "u", nil); err == nil {
		t.Error("Expected error for empty insert")
	}
}

func TestTools(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(NewHashEmbedder(0))
	tools := Tools(m, "sess")
	if len(tools) != 2 {
		t.Fatalf("Expected 2 tools, got %d", len(tools))
	}
	insert, search := tools[0], tools[1]
	if insert.Name() != "insert_structured_data" || search.Name() != "extract_structured_data" {
		t.Fatalf("Unexpected tool names %s, %s", insert.Name(), search.Name())
	}

	out, err := insert.Run(ctx, json.RawMessage(`{"data":[{"text":"item 1 NCM 4901","metadata":{"v":1}},{"text":"  "}]}`))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	var ack map[string]any
	if err := json.Unmarshal([]byte(out), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack["inserted"] != 1.0 {
		t.Errorf("Expected 1 inserted, got %v", ack["inserted"])
	}

	out, err = search.Run(ctx, json.RawMessage(`{"query":"NCM 4901"}`))
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	var res struct {
		Results []Hit `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Text != "item 1 NCM 4901" {
		t.Errorf("Unexpected results %+v", res.Results)
	}

	if _, err := search.Run(ctx, json.RawMessage(`{"query":""}`)); err == nil {
		t.Error("Expected error for empty query")
	}
}
