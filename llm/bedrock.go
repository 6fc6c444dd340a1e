package llm

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

// BedrockProvider is a client for the Anthropic models on AWS Bedrock.
type BedrockProvider struct {
	Catalog
	client *bedrockruntime.Client
	region string
}

var _ Provider = (*BedrockProvider)(nil)

// NewBedrockProvider creates a BedrockProvider.
// It requires AWS credentials to be configured in the environment.
func NewBedrockProvider(ctx context.Context, catalog Catalog) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg.Region = region

	var opts []func(*bedrockruntime.Options)
	// Custom endpoint, useful for testing
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if catalog.Default == "" {
		catalog.Default = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	return &BedrockProvider{
		Catalog: catalog,
		client:  bedrockruntime.NewFromConfig(cfg, opts...),
		region:  region,
	}, nil
}

func (b *BedrockProvider) IsInitialized() bool { return b.client != nil }

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockProvider) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	body, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.ModelName(req.Model)),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

func (b *BedrockProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	body, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	out, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.ModelName(req.Model)),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model with response stream")
	}

	ch := make(chan StreamChunk, streamBuffer)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()

		usage := &Usage{}
		for event := range stream.Events() {
			part, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			text, err := processBedrockStreamEvent(part.Value.Bytes, usage)
			if err != nil {
				finish(ch, usage, err)
				return
			}
			if text == "" {
				continue
			}
			if !emit(ctx, ch, StreamChunk{Content: text}) {
				finish(ch, usage, ctx.Err())
				return
			}
		}
		if err := stream.Err(); err != nil {
			slog.Error("Stream error", "provider", "bedrock", "region", b.region, "error", err)
			finish(ch, usage, errors.Wrapf(err, "Bedrock stream failed"))
			return
		}
		finish(ch, usage, nil)
	}()
	return ch, nil
}

// convertMessagesToAnthropicFormat converts messages to the Anthropic body format.
// System messages inside the conversation are sent as user text.
func convertMessagesToAnthropicFormat(messages []session.Message) []map[string]interface{} {
	var anthropicMessages []map[string]interface{}
	for _, msg := range messages {
		role := "user"
		if msg.Role == session.RoleAssistant {
			if msg.Content == "" {
				continue
			}
			role = "assistant"
		}
		anthropicMessages = append(anthropicMessages, map[string]interface{}{
			"role": role,
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": msg.Content,
				},
			},
		})
	}
	return anthropicMessages
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(req *ChatRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"temperature":       req.Temperature,
		"messages":          convertMessagesToAnthropicFormat(req.Messages),
	}

	if req.SystemPrompt != "" {
		request["system"] = req.SystemPrompt
	}

	if req.FunctionCalling && len(req.Functions) > 0 {
		var defs []map[string]interface{}
		for _, d := range req.Functions {
			defs = append(defs, map[string]interface{}{
				"name":        d.Name,
				"description": d.Description,
				"input_schema": map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			})
		}
		request["tools"] = defs
	}

	return json.Marshal(request)
}

type bedrockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type bedrockContent struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

type bedrockResponse struct {
	Content []bedrockContent `json:"content"`
	Usage   *bedrockUsage    `json:"usage"`
	Error   interface{}      `json:"error"`
}

// processBedrockResponse converts a Bedrock response body into a Response.
func processBedrockResponse(body []byte) (*Response, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if resp.Error != nil {
		return nil, errors.New("Bedrock API error: %v", resp.Error)
	}

	out := &Response{Success: true}
	if resp.Usage != nil {
		out.Usage = newUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	for _, item := range resp.Content {
		switch item.Type {
		case "text":
			out.Content += item.Text
		case "tool_use":
			if item.Name == "" {
				continue
			}
			out.FunctionCalls = append(out.FunctionCalls, tools.FunctionCall{
				Name:      item.Name,
				Arguments: item.Input,
			})
		}
	}
	return out, nil
}

type bedrockStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage bedrockUsage `json:"usage"`
	} `json:"message"`
	Usage bedrockUsage `json:"usage"`
}

// processBedrockStreamEvent decodes one streamed event, folding any usage it
// reports into usage, and returns its text delta.
func processBedrockStreamEvent(payload []byte, usage *Usage) (string, error) {
	var ev bedrockStreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", errors.Wrapf(err, "failed to unmarshal Bedrock stream event")
	}
	switch ev.Type {
	case "message_start":
		usage.PromptTokens = ev.Message.Usage.InputTokens
	case "message_delta":
		usage.CompletionTokens = ev.Usage.OutputTokens
	case "content_block_delta":
		if ev.Delta.Type == "text_delta" {
			return ev.Delta.Text, nil
		}
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return "", nil
}
