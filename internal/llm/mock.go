package llm

import (
	"context"
	"strings"
	"sync"
)

// MockResponse scripts one call of a MockGenerator.
type MockResponse struct {
	// Chunks are delivered in order; Text is split on spaces when Chunks is empty.
	Chunks     []string
	Text       string
	StopReason string
	// Err is returned after FailAfter chunks have been delivered.
	Err       error
	FailAfter int
	// Block, when set, delays the first chunk until it is closed or the context ends.
	Block <-chan struct{}
}

func (r MockResponse) chunks() []string {
	if len(r.Chunks) > 0 {
		return r.Chunks
	}
	if r.Text == "" {
		return nil
	}
	return strings.SplitAfter(r.Text, " ")
}

// MockGenerator replays scripted responses in order, repeating the last one. Without a script
// it echoes the last user message.
type MockGenerator struct {
	mu        sync.Mutex
	responses []MockResponse
	requests  []Request
}

// NewMockGenerator creates a mock with the given script.
func NewMockGenerator(responses ...MockResponse) *MockGenerator {
	return &MockGenerator{responses: responses}
}

// Requests returns a copy of every request received.
func (m *MockGenerator) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockGenerator) next(req Request) MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		last := ""
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				last = req.Messages[i].Content
				break
			}
		}
		return MockResponse{Text: "Mock response to: " + last}
	}
	r := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return r
}

// Stream delivers the next scripted response.
func (m *MockGenerator) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Completion, error) {
	r := m.next(req)
	model := req.Model
	if model == "" {
		model = "mock"
	}
	comp := &Completion{Model: model}

	if r.Block != nil {
		select {
		case <-r.Block:
		case <-ctx.Done():
			return comp, ctx.Err()
		}
	}
	var text strings.Builder
	for i, c := range r.chunks() {
		if r.Err != nil && i >= r.FailAfter {
			break
		}
		if err := ctx.Err(); err != nil {
			comp.Text = text.String()
			return comp, err
		}
		text.WriteString(c)
		if err := onDelta(c); err != nil {
			comp.Text = text.String()
			return comp, err
		}
	}
	comp.Text = text.String()
	if r.Err != nil {
		return comp, r.Err
	}
	comp.StopReason = r.StopReason
	if comp.StopReason == "" {
		comp.StopReason = StopEndTurn
	}
	comp.OutputTokens = len(strings.Fields(comp.Text))
	return comp, nil
}
