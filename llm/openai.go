package llm

import (
	"context"
	"log/slog"
	"os"

	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIProvider talks to the OpenAI Chat Completions API or any endpoint
// compatible with it.
type OpenAIProvider struct {
	Catalog
	client *openai.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAIProvider. It requires the OPENAI_API_KEY
// environment variable to be set and honours OPENAI_BASE_URL for custom endpoints.
func NewOpenAIProvider(ctx context.Context, catalog Catalog) (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	return newOpenAIProvider(catalog, options...), nil
}

func newOpenAIProvider(catalog Catalog, options ...option.RequestOption) *OpenAIProvider {
	if catalog.Default == "" {
		catalog.Default = "gpt-4o-mini"
	}
	c := openai.NewClient(options...)
	// The &c is required, do not replace and just use c
	return &OpenAIProvider{Catalog: catalog, client: &c}
}

func (o *OpenAIProvider) IsInitialized() bool { return o.client != nil }

// Chat sends a chat request to OpenAI and converts the response.
func (o *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}
	return processOpenAIResponse(resp), nil
}

func (o *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	params := o.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan StreamChunk, streamBuffer)
	go func() {
		defer close(ch)
		defer stream.Close()

		var usage *Usage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = newUsage(int(chunk.Usage.PromptTokens), int(chunk.Usage.CompletionTokens))
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !emit(ctx, ch, StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
				finish(ch, usage, ctx.Err())
				return
			}
		}
		if err := stream.Err(); err != nil {
			slog.Error("Stream error", "provider", "openai", "error", err)
			finish(ch, usage, errors.Wrapf(err, "OpenAI stream failed"))
			return
		}
		finish(ch, usage, nil)
	}()
	return ch, nil
}

func (o *OpenAIProvider) params(req *ChatRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.ModelName(req.Model)),
		Messages:    convertMessagesToOpenAI(req.SystemPrompt, req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.FunctionCalling {
		params.Tools = convertFunctionsToOpenAITools(req.Functions)
	}
	return params
}

// processOpenAIResponse converts an OpenAI API response into a Response.
func processOpenAIResponse(resp *openai.ChatCompletion) *Response {
	out := &Response{
		Success: true,
		Usage:   newUsage(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens)),
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0].Message
	out.Content = choice.Content
	for _, tc := range choice.ToolCalls {
		var args map[string]interface{}
		// Arguments are a JSON string; we expect it to be a flat map of arguments.
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			slog.Warn("Dropping tool call with undecodable arguments", "provider", "openai", "function", tc.Function.Name, "error", err)
			continue
		}
		out.FunctionCalls = append(out.FunctionCalls, tools.FunctionCall{
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}

// convertMessagesToOpenAI converts the system prompt and messages to OpenAI's format.
func convertMessagesToOpenAI(systemPrompt string, messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			chatMessages = append(chatMessages, openai.AssistantMessage(msg.Content))
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertFunctionsToOpenAITools converts function definitions to OpenAI tools.
func convertFunctionsToOpenAITools(defs []tools.FunctionDefinition) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, d := range defs {
		// OpenAI models work better when the parameters are not nested.
		// We define a generic object schema and let the model infer the arguments.
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": map[string]any{},
		}
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  params,
		}))
	}
	return openAITools
}
