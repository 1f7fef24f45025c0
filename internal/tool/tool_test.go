package tool

import (
	"context"
	"encoding/json"
	"testing"
)

type echoArgs struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestNewDecodesArgumentsAndEncodesResult(t *testing.T) {
	tl := New("echo", "echo args", Object(map[string]any{
		"name":  Prop("string", "a name"),
		"count": Prop("integer", "a count"),
	}, "name"), func(_ context.Context, a echoArgs) (any, error) {
		return map[string]any{"name": a.Name, "count": a.Count}, nil
	})

	if tl.Name() != "echo" {
		t.Fatalf("Expected name echo, got %s", tl.Name())
	}

	out, err := tl.Run(context.Background(), json.RawMessage(`{"name":"x","count":2}`))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != `{"count":2,"name":"x"}` {
		t.Errorf("Unexpected output: %s", out)
	}
}

func TestNewRejectsMalformedArguments(t *testing.T) {
	tl := New("echo", "", Object(nil), func(_ context.Context, a echoArgs) (any, error) {
		return "ok", nil
	})
	if _, err := tl.Run(context.Background(), json.RawMessage(`{"count":"two"}`)); err == nil {
		t.Fatal("Expected decode error")
	}
	out, err := tl.Run(context.Background(), nil)
	if err != nil || out != "ok" {
		t.Fatalf("Expected ok with empty args, got %q, %v", out, err)
	}
}
