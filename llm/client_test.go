package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m4xw311/parley/config"
	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/session"
)

func TestCatalogModelName(t *testing.T) {
	c := NewCatalog("base", map[string]string{"fast": "model-fast", "default": "model-default"})
	testCases := []struct {
		logical string
		want    string
	}{
		{"", "model-default"},
		{"default", "model-default"},
		{"fast", "model-fast"},
		{"explicit-id", "explicit-id"},
	}
	for _, tc := range testCases {
		if got := c.ModelName(tc.logical); got != tc.want {
			t.Errorf("ModelName(%q) = %q, want %q", tc.logical, got, tc.want)
		}
	}

	if got := NewCatalog("base", nil).ModelName(""); got != "base" {
		t.Errorf("expected base default, got %q", got)
	}
}

func TestUsageAdd(t *testing.T) {
	total := &Usage{}
	total.Add(newUsage(10, 5))
	total.Add(nil)
	total.Add(newUsage(3, 2))
	if total.PromptTokens != 13 || total.CompletionTokens != 7 || total.TotalTokens != 20 {
		t.Fatalf("unexpected usage: %+v", total)
	}
}

func TestMockProviderScript(t *testing.T) {
	m := NewMockProvider(
		Reply{Response: &Response{Success: true, Content: "first"}},
		Reply{Response: &Response{Success: true, Content: "second"}},
	)
	ctx := context.Background()
	for _, want := range []string{"first", "second", "second"} {
		resp, err := m.Chat(ctx, &ChatRequest{})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if resp.Content != want {
			t.Fatalf("expected %q, got %q", want, resp.Content)
		}
	}
	if m.Calls() != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", m.Calls())
	}
}

func TestMockProviderEcho(t *testing.T) {
	m := NewMockProvider()
	resp, _ := m.Chat(context.Background(), &ChatRequest{Messages: []session.Message{session.User("hi")}})
	if resp.Content != "I am a mock LLM. You said: 'hi'." {
		t.Fatalf("unexpected echo: %q", resp.Content)
	}
}

func TestMockProviderStream(t *testing.T) {
	m := NewMockProvider(Reply{Chunks: []string{"Hel", "lo"}, Response: &Response{Usage: newUsage(1, 2)}})
	ch, err := m.Stream(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	var got []StreamChunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 3 || got[0].Content != "Hel" || got[1].Content != "lo" || !got[2].Done {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if got[2].Usage == nil || got[2].Usage.TotalTokens != 3 {
		t.Fatalf("expected usage on final chunk, got %+v", got[2].Usage)
	}
}

func TestFallbackProvider(t *testing.T) {
	failing := NewMockProvider(Reply{Err: fmt.Errorf("401 unauthorized")})
	ok := NewMockProvider(Reply{Response: &Response{Success: true, Content: "from fallback"}})
	fb := &FallbackProvider{Providers: []Provider{failing, ok}}

	resp, err := fb.Chat(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "from fallback" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if failing.Calls() != 1 {
		t.Fatalf("non-transient error should not be retried, calls: %d", failing.Calls())
	}
}

func TestFallbackProviderRetriesTransient(t *testing.T) {
	flaky := NewMockProvider(
		Reply{Err: fmt.Errorf("503 Service Unavailable")},
		Reply{Response: &Response{Success: true, Content: "recovered"}},
	)
	fb := &FallbackProvider{Providers: []Provider{flaky}, MaxRetries: 2, RetryDelay: time.Millisecond}

	resp, err := fb.Chat(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "recovered" || flaky.Calls() != 2 {
		t.Fatalf("expected recovery on retry, got %q after %d calls", resp.Content, flaky.Calls())
	}
}

func TestFallbackProviderAllFail(t *testing.T) {
	fb := &FallbackProvider{Providers: []Provider{
		NewMockProvider(Reply{Response: Failure("quota")}),
		&MockProvider{Uninitialized: true},
	}}
	if _, err := fb.Chat(context.Background(), &ChatRequest{}); !errors.Is(err, errors.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if !fb.IsInitialized() {
		t.Fatal("fallback with one usable provider should be initialized")
	}
}

func TestIsTransientError(t *testing.T) {
	testCases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("dial tcp: connection refused"), true},
		{fmt.Errorf("429 Too Many Requests: rate limit"), true},
		{fmt.Errorf("400 Bad Request"), false},
		{context.DeadlineExceeded, true},
	}
	for _, tc := range testCases {
		if got := IsTransientError(tc.err); got != tc.want {
			t.Errorf("IsTransientError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestNewProviderMock(t *testing.T) {
	p, err := NewProvider(context.Background(), &config.Config{LLMClient: "mock"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if !p.IsInitialized() {
		t.Fatal("mock provider should be initialized")
	}

	if _, err := NewProvider(context.Background(), &config.Config{LLMClient: "nope"}); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
