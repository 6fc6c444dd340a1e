package llm

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Provider is a chat/completion backend.
type Provider interface {
	// IsInitialized reports whether the provider can serve requests.
	IsInitialized() bool
	// ModelName resolves a logical model name to the backend's model id.
	ModelName(logical string) string
	Chat(ctx context.Context, req *ChatRequest) (*Response, error)
	// Stream delivers partial content chunks followed by exactly one chunk
	// with Done set, then closes the channel. Failures after the stream has
	// started are reported through StreamChunk.Err on the final chunk.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}

// ChatRequest is one outbound request. The function fields are only populated
// when function calling is enabled for the agent that built it.
type ChatRequest struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Messages     []session.Message
	Stream       bool

	FunctionCalling   bool
	Functions         []tools.FunctionDefinition
	EnabledExtensions []string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u. A nil other is ignored.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

func newUsage(prompt, completion int) *Usage {
	return &Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// Metadata describes how a tool-calling invocation unfolded.
type Metadata struct {
	FunctionCalls int    `json:"function_calls"`
	Rounds        int    `json:"rounds"`
	Personality   string `json:"personality,omitempty"`
}

type Response struct {
	Success bool
	Content string
	Error   string
	Usage   *Usage
	// FunctionCalls holds structured calls for backends with native tool use.
	FunctionCalls []tools.FunctionCall
	Metadata      *Metadata
}

// Failure builds an unsuccessful response carrying msg.
func Failure(msg string) *Response {
	return &Response{Success: false, Error: msg}
}

type StreamChunk struct {
	Content string
	Done    bool
	Err     string
	Usage   *Usage
}

// Catalog maps logical model names to backend model ids.
type Catalog struct {
	Default string
	Aliases map[string]string
}

// NewCatalog builds a catalog. An alias named "default" overrides defaultID.
func NewCatalog(defaultID string, aliases map[string]string) Catalog {
	if id, ok := aliases["default"]; ok && id != "" {
		defaultID = id
	}
	return Catalog{Default: defaultID, Aliases: aliases}
}

// ModelName returns the mapped id, the default for an empty or "default"
// name, and any other name unchanged.
func (c Catalog) ModelName(logical string) string {
	if logical == "" || logical == "default" {
		return c.Default
	}
	if id, ok := c.Aliases[logical]; ok {
		return id
	}
	return logical
}

// emit sends c unless ctx is done.
func emit(ctx context.Context, ch chan<- StreamChunk, c StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamBuffer sizes the chunk channels returned by the adapters.
const streamBuffer = 64

// finish sends the terminal chunk. It is delivered even when ctx is done so
// the consumer always observes the end of the stream.
func finish(ch chan<- StreamChunk, usage *Usage, err error) {
	c := StreamChunk{Done: true, Usage: usage}
	if err != nil {
		c.Err = err.Error()
	}
	ch <- c
}
