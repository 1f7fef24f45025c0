package domain

import (
	"bytes"
	"encoding/json"
	"errors"
)

// StructuredResult is the caller-facing shape every supervisor answer is
// normalized into.
type StructuredResult struct {
	Response string   `json:"response"`
	GraphID  GraphIDs `json:"graph_id"`
}

// GraphIDs holds zero or more chart identifiers. On the wire it is either a
// single string (possibly empty) or a list of strings, and it keeps the form
// it was decoded from.
type GraphIDs struct {
	IDs  []string
	List bool
}

// SingleGraph returns a GraphIDs encoded as a plain string.
func SingleGraph(id string) GraphIDs {
	if id == "" {
		return GraphIDs{}
	}
	return GraphIDs{IDs: []string{id}}
}

var errGraphIDType = errors.New("graph_id must be a string or a list of strings")

// UnmarshalJSON accepts a string or an array of strings.
func (g *GraphIDs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errGraphIDType
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*g = SingleGraph(s)
		return nil
	case '[':
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return errGraphIDType
		}
		if ids == nil {
			ids = []string{}
		}
		*g = GraphIDs{IDs: ids, List: true}
		return nil
	default:
		return errGraphIDType
	}
}

// MarshalJSON writes the form the value was decoded from.
func (g GraphIDs) MarshalJSON() ([]byte, error) {
	if g.List || len(g.IDs) > 1 {
		ids := g.IDs
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	}
	if len(g.IDs) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(g.IDs[0])
}

// ResultFormatInstructions tells a model how to shape a StructuredResult.
const ResultFormatInstructions = `The output should be formatted as a JSON instance that conforms to the JSON schema below.

{"properties": {"response": {"description": "Your final answer to the user.", "title": "Response", "type": "string"}, "graph_id": {"anyOf": [{"type": "string"}, {"items": {"type": "string"}, "type": "array"}], "description": "Id of generated graph returned from tools, can be an empty string. Multiple ids can be returned, use a list for that case.", "title": "Graph Id"}}, "required": ["response", "graph_id"]}`
