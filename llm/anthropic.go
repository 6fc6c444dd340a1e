package llm

import (
	"context"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

// defaultAnthropicMaxTokens applies when the request does not set MaxTokens;
// the Messages API requires a value.
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider is a client for the Anthropic Messages API.
type AnthropicProvider struct {
	Catalog
	client *anthropic.Client
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an AnthropicProvider.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicProvider(ctx context.Context, catalog Catalog) (*AnthropicProvider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	if catalog.Default == "" {
		catalog.Default = "claude-sonnet-4-20250514"
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicProvider{Catalog: catalog, client: &client}, nil
}

func (a *AnthropicProvider) IsInitialized() bool { return a.client != nil }

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	resp, err := a.client.Messages.New(ctx, a.params(req))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}
	return processAnthropicResponse(resp), nil
}

func (a *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.params(req))

	ch := make(chan StreamChunk, streamBuffer)
	go func() {
		defer close(ch)
		defer stream.Close()

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				finish(ch, nil, errors.Wrapf(err, "failed to accumulate Anthropic stream"))
				return
			}
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !emit(ctx, ch, StreamChunk{Content: text.Text}) {
				finish(ch, nil, ctx.Err())
				return
			}
		}
		usage := newUsage(int(message.Usage.InputTokens), int(message.Usage.OutputTokens))
		if err := stream.Err(); err != nil {
			slog.Error("Stream error", "provider", "anthropic", "error", err)
			finish(ch, usage, errors.Wrapf(err, "Anthropic stream failed"))
			return
		}
		finish(ch, usage, nil)
	}()
	return ch, nil
}

func (a *AnthropicProvider) params(req *ChatRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.ModelName(req.Model)),
		MaxTokens:   int64(maxTokens),
		Messages:    convertMessagesToAnthropicMessages(req.Messages),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}
	if req.FunctionCalling {
		for _, toolParam := range convertFunctionsToAnthropicTools(req.Functions) {
			params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
	}
	return params
}

// convertMessagesToAnthropicMessages converts messages to Anthropic's format.
// The API has no system turn, so system messages inside the conversation
// (folded function results) are sent as user text.
func convertMessagesToAnthropicMessages(messages []session.Message) []anthropic.MessageParam {
	var anthropicMessages []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			if msg.Content == "" {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		default:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}
	return anthropicMessages
}

// convertFunctionsToAnthropicTools converts function definitions to Anthropic's tool format.
func convertFunctionsToAnthropicTools(defs []tools.FunctionDefinition) []anthropic.ToolParam {
	if len(defs) == 0 {
		return nil
	}
	var anthropicTools []anthropic.ToolParam
	for _, d := range defs {
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{},
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into a Response.
func processAnthropicResponse(resp *anthropic.Message) *Response {
	out := &Response{
		Success: true,
		Usage:   newUsage(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)),
	}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += c.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal(c.Input, &args); err != nil {
				slog.Warn("Dropping tool call with undecodable input", "provider", "anthropic", "function", c.Name, "error", err)
				continue
			}
			out.FunctionCalls = append(out.FunctionCalls, tools.FunctionCall{
				Name:      c.Name,
				Arguments: args,
			})
		}
	}
	return out
}
