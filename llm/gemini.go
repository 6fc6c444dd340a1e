package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiProvider is a client for the Google Gemini API.
type GeminiProvider struct {
	Catalog
	client *genai.Client
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a GeminiProvider.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiProvider(ctx context.Context, catalog Catalog) (*GeminiProvider, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	if catalog.Default == "" {
		catalog.Default = "gemini-1.5-flash"
	}
	return &GeminiProvider{Catalog: catalog, client: client}, nil
}

func (g *GeminiProvider) IsInitialized() bool { return g.client != nil }

// Chat sends a chat request to the Gemini API.
func (g *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	chat, last, err := g.startChat(req)
	if err != nil {
		return nil, err
	}
	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

func (g *GeminiProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	chat, last, err := g.startChat(req)
	if err != nil {
		return nil, err
	}
	iter := chat.SendMessageStream(ctx, last.Parts...)

	ch := make(chan StreamChunk, streamBuffer)
	go func() {
		defer close(ch)
		var usage *Usage
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				slog.Error("Stream error", "provider", "gemini", "error", err)
				finish(ch, usage, errors.Wrapf(err, "Gemini stream failed"))
				return
			}
			if u := geminiUsage(resp); u != nil {
				usage = u
			}
			text := geminiText(resp)
			if text == "" {
				continue
			}
			if !emit(ctx, ch, StreamChunk{Content: text}) {
				finish(ch, usage, ctx.Err())
				return
			}
		}
		finish(ch, usage, nil)
	}()
	return ch, nil
}

// startChat configures a model for req and returns a chat session holding
// every message but the last, which is returned separately as the prompt.
func (g *GeminiProvider) startChat(req *ChatRequest) (*genai.ChatSession, *genai.Content, error) {
	history := convertMessagesToGeminiContent(req.Messages)
	if len(history) == 0 {
		return nil, nil, errors.New("Gemini requires at least one message")
	}

	model := g.client.GenerativeModel(g.ModelName(req.Model))
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.SystemPrompt != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemPrompt))
	}
	if req.FunctionCalling {
		model.Tools = convertFunctionsToGeminiTools(req.Functions)
	}

	chat := model.StartChat()
	chat.History = history[:len(history)-1]
	return chat, history[len(history)-1], nil
}

// convertMessagesToGeminiContent converts messages to Gemini's content format.
// Gemini only knows the user and model roles.
func convertMessagesToGeminiContent(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}

// convertFunctionsToGeminiTools converts function definitions to Gemini's
// FunctionDeclaration format.
func convertFunctionsToGeminiTools(defs []tools.FunctionDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, d := range defs {
		// Every function takes a generic map of arguments, nested under "args".
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"args": {
						Type:        genai.TypeObject,
						Description: "Arguments for the function call, as a map.",
					},
				},
				Required: []string{"args"},
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// processGeminiResponse converts a Gemini API response into a Response.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	out := &Response{Success: true, Usage: geminiUsage(resp)}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Content += string(v)
		case genai.FunctionCall:
			// As declared in convertFunctionsToGeminiTools, the arguments
			// are nested under an "args" key.
			args, ok := v.Args["args"].(map[string]interface{})
			if !ok {
				args = v.Args
			}
			out.FunctionCalls = append(out.FunctionCalls, tools.FunctionCall{
				Name:      v.Name,
				Arguments: args,
			})
		default:
			slog.Debug("Ignoring unsupported Gemini part", "type", fmt.Sprintf("%T", v))
		}
	}
	return out, nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return text
}

func geminiUsage(resp *genai.GenerateContentResponse) *Usage {
	if resp.UsageMetadata == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}
