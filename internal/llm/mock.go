package llm

import (
	"context"
	"sync"
)

// MockClient is an in-memory Client for tests. It replays queued responses
// in order, then falls back to Handler, then echoes the last message.
type MockClient struct {
	// Key records the credential the client was created with.
	Key     string
	Handler func(req Request) (Response, error)

	mu       sync.Mutex
	queue    []Response
	requests []Request
}

// NewMockClient creates a MockClient with queued responses.
func NewMockClient(key string, replies ...Response) *MockClient {
	return &MockClient{Key: key, queue: replies}
}

// Push queues more responses.
func (m *MockClient) Push(replies ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, replies...)
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.queue) > 0 {
		r := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return r, nil
	}
	h := m.Handler
	m.mu.Unlock()

	if h != nil {
		return h(req)
	}
	var last string
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	return Text("Mock response to: " + last), nil
}

// Requests returns a copy of every request received.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of requests received.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Text builds a final assistant response.
func Text(content string) Response {
	return Response{Message: Message{Role: RoleAssistant, Content: content}, FinishReason: "stop"}
}

// ToolCalls builds an assistant response requesting tool calls.
func ToolCalls(calls ...ToolCall) Response {
	return Response{Message: Message{Role: RoleAssistant, ToolCalls: calls}, FinishReason: "tool_calls"}
}

var _ Client = (*MockClient)(nil)
