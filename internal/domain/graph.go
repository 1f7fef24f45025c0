package domain

import (
	"encoding/json"
	"time"
)

// Graph is a persisted chart artifact: a plotly figure plus the metadata the
// report generator needs to caption it.
type Graph struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Kind      string          `json:"kind"`
	Title     string          `json:"title"`
	Figure    json.RawMessage `json:"figure"`
	Metadata  GraphMetadata   `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// GraphMetadata describes how a chart was produced.
type GraphMetadata struct {
	Columns     []string `json:"columns,omitempty"`
	Description string   `json:"description,omitempty"`
}
