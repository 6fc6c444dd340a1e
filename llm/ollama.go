package llm

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
	"github.com/ollama/ollama/api"
)

// OllamaProvider talks to a local or remote Ollama server.
type OllamaProvider struct {
	Catalog
	client *api.Client
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an OllamaProvider. OLLAMA_HOST selects the
// server; the default is the local instance.
func NewOllamaProvider(ctx context.Context, catalog Catalog) (*OllamaProvider, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Ollama client")
	}
	if catalog.Default == "" {
		catalog.Default = "llama3.2"
	}
	slog.Info("Ollama client initialized", "model", catalog.Default, "host", os.Getenv("OLLAMA_HOST"))
	return &OllamaProvider{Catalog: catalog, client: client}, nil
}

// NewOllamaProviderWithURL creates an OllamaProvider for an explicit server.
func NewOllamaProviderWithURL(baseURL string, catalog Catalog) (*OllamaProvider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base URL")
	}
	if catalog.Default == "" {
		catalog.Default = "llama3.2"
	}
	return &OllamaProvider{Catalog: catalog, client: api.NewClient(u, http.DefaultClient)}, nil
}

func (o *OllamaProvider) IsInitialized() bool { return o.client != nil }

func (o *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	out := &Response{Success: true}
	err := o.client.Chat(ctx, o.request(req, false), func(resp api.ChatResponse) error {
		out.Content += resp.Message.Content
		out.FunctionCalls = append(out.FunctionCalls, convertOllamaToolCalls(resp.Message.ToolCalls)...)
		if resp.Done {
			out.Usage = newUsage(resp.PromptEvalCount, resp.EvalCount)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Ollama")
	}
	return out, nil
}

// Stream starts the chat in the background. The SDK reports failures to
// open the stream only once the callback loop ends, so those arrive as the
// terminal chunk.
func (o *OllamaProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, streamBuffer)
	go func() {
		defer close(ch)
		var usage *Usage
		err := o.client.Chat(ctx, o.request(req, true), func(resp api.ChatResponse) error {
			if resp.Done {
				usage = newUsage(resp.PromptEvalCount, resp.EvalCount)
			}
			if resp.Message.Content == "" {
				return nil
			}
			if !emit(ctx, ch, StreamChunk{Content: resp.Message.Content}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			slog.Error("Stream error", "provider", "ollama", "error", err)
			finish(ch, usage, errors.Wrapf(err, "Ollama stream failed"))
			return
		}
		finish(ch, usage, nil)
	}()
	return ch, nil
}

func (o *OllamaProvider) request(req *ChatRequest, stream bool) *api.ChatRequest {
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	out := &api.ChatRequest{
		Model:    o.ModelName(req.Model),
		Messages: convertMessagesToOllama(req.SystemPrompt, req.Messages),
		Options:  options,
		Stream:   &stream,
	}
	if req.FunctionCalling {
		out.Tools = convertFunctionsToOllamaTools(req.Functions)
	}
	return out
}

func convertMessagesToOllama(systemPrompt string, messages []session.Message) []api.Message {
	var out []api.Message
	if systemPrompt != "" {
		out = append(out, api.Message{Role: session.RoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		out = append(out, api.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// convertFunctionsToOllamaTools goes through JSON so the schema does not
// depend on the SDK's parameter types, which change between releases.
func convertFunctionsToOllamaTools(defs []tools.FunctionDefinition) api.Tools {
	if len(defs) == 0 {
		return nil
	}
	var raw []map[string]any
	for _, d := range defs {
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters": map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		})
	}
	data, err := json.Marshal(raw)
	if err != nil {
		slog.Error("Failed to marshal tools", "provider", "ollama", "error", err)
		return nil
	}
	var ollamaTools api.Tools
	if err := json.Unmarshal(data, &ollamaTools); err != nil {
		slog.Error("Failed to unmarshal to api.Tools", "provider", "ollama", "error", err)
		return nil
	}
	return ollamaTools
}

func convertOllamaToolCalls(calls []api.ToolCall) []tools.FunctionCall {
	var out []tools.FunctionCall
	for _, tc := range calls {
		var args map[string]interface{}
		data, err := json.Marshal(tc.Function.Arguments)
		if err == nil {
			err = json.Unmarshal(data, &args)
		}
		if err != nil {
			slog.Warn("Dropping tool call with undecodable arguments", "provider", "ollama", "function", tc.Function.Name, "error", err)
			continue
		}
		out = append(out, tools.FunctionCall{Name: tc.Function.Name, Arguments: args})
	}
	return out
}
