package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m4xw311/parley/session"
)

// Reply is one scripted turn of a MockProvider.
type Reply struct {
	Response *Response
	Err      error
	// Chunks, when set, are streamed in order instead of Response.Content.
	Chunks []string
	// StreamErr fails the stream after Chunks have been delivered.
	StreamErr error
}

// MockProvider replays scripted replies and records every request it receives.
// With no script it parrots back the last user message.
type MockProvider struct {
	Catalog
	Uninitialized bool
	Replies       []Reply
	// Respond, when set, takes precedence over Replies.
	Respond  func(req *ChatRequest) (*Response, error)
	Requests []*ChatRequest

	next int
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider returns an initialized provider replaying replies in order.
// The last reply repeats once the script is exhausted.
func NewMockProvider(replies ...Reply) *MockProvider {
	return &MockProvider{Catalog: NewCatalog("mock", nil), Replies: replies}
}

func (m *MockProvider) IsInitialized() bool { return !m.Uninitialized }

// Calls returns the number of requests received.
func (m *MockProvider) Calls() int { return len(m.Requests) }

func (m *MockProvider) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	m.Requests = append(m.Requests, req)
	if m.Respond != nil {
		return m.Respond(req)
	}
	r := m.reply(req)
	return r.Response, r.Err
}

func (m *MockProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	m.Requests = append(m.Requests, req)
	var r Reply
	if m.Respond != nil {
		resp, err := m.Respond(req)
		r = Reply{Response: resp, Err: err}
	} else {
		r = m.reply(req)
	}
	if r.Err != nil {
		return nil, r.Err
	}

	chunks := r.Chunks
	var usage *Usage
	if r.Response != nil {
		usage = r.Response.Usage
		if chunks == nil && r.Response.Content != "" {
			chunks = []string{r.Response.Content}
		}
	}

	ch := make(chan StreamChunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if !emit(ctx, ch, StreamChunk{Content: c}) {
				finish(ch, nil, ctx.Err())
				return
			}
		}
		finish(ch, usage, r.StreamErr)
	}()
	return ch, nil
}

func (m *MockProvider) reply(req *ChatRequest) Reply {
	if len(m.Replies) == 0 {
		return Reply{Response: &Response{Success: true, Content: echo(req.Messages)}}
	}
	i := m.next
	if i >= len(m.Replies) {
		i = len(m.Replies) - 1
	} else {
		m.next++
	}
	slog.Debug("Mock provider reply", "index", i, "messages", len(req.Messages))
	return m.Replies[i]
}

func echo(messages []session.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			return fmt.Sprintf("I am a mock LLM. You said: '%s'.", strings.TrimSpace(messages[i].Content))
		}
	}
	return "I am a mock LLM."
}
