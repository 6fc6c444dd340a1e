package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/session"
)

// NotReadyMessage is the error text reported by an agent used before Initialize.
const NotReadyMessage = "Agent not ready"

const (
	TypeBase     = "base"
	TypeEnhanced = "enhanced"
)

// Config is the request policy of an agent.
type Config struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Archetype    Archetype
	// HistoryWindow is the number of earlier non-system history messages sent
	// ahead of the input of each call. Zero sends only the input, a negative
	// value sends the whole history.
	HistoryWindow int
	// RoundTimeout bounds each provider round-trip. Zero means no bound
	// beyond the caller's context.
	RoundTimeout time.Duration
}

// Agent owns one conversation and drives single request/response or
// request/stream round-trips against a Provider.
//
// An Agent is not safe for concurrent use.
type Agent struct {
	kind     string
	cfg      Config
	policy   policy
	provider llm.Provider
	session  *session.Session
	ready    bool

	initializedAt time.Time
	totalMessages int
	totalTokens   int
}

// New creates an agent that is not ready until Initialize succeeds. A nil
// sess gives the agent an in-memory session.
func New(sess *session.Session) *Agent {
	if sess == nil {
		sess = session.New("default")
	}
	return &Agent{kind: TypeBase, session: sess}
}

// Initialize binds the provider and applies cfg. It fails when cfg or the
// provider is absent or the provider is not initialized; a failed call leaves
// the agent unchanged. Statistics are reset.
func (a *Agent) Initialize(cfg *Config, provider llm.Provider) error {
	if cfg == nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "agent config is required")
	}
	if provider == nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "provider is required")
	}
	if !provider.IsInitialized() {
		return errors.Wrapf(errors.ErrProvider, "provider is not initialized")
	}
	p, err := lookupArchetype(cfg.Archetype)
	if err != nil {
		return err
	}

	a.cfg = *cfg
	a.policy = p
	a.provider = provider
	a.session.SetSystemPrompt(cfg.SystemPrompt)
	a.ready = true
	a.initializedAt = time.Now()
	a.totalMessages = 0
	a.totalTokens = 0
	slog.Debug("Agent initialized", "type", a.kind, "model", cfg.Model, "archetype", cfg.Archetype)
	return nil
}

// IsReady reports whether a provider is bound.
func (a *Agent) IsReady() bool { return a.ready }

// Config returns a copy of the current policy.
func (a *Agent) Config() Config { return a.cfg }

// Session returns the conversation state backing the agent.
func (a *Agent) Session() *session.Session { return a.session }

// SetSystemPrompt replaces the system prompt and the system message at the
// head of the history.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.cfg.SystemPrompt = prompt
	a.session.SetSystemPrompt(prompt)
}

// SetContext replaces the persistent context with a single user message.
func (a *Agent) SetContext(text string) {
	a.session.SetContext([]session.Message{session.User(text)})
}

// SetContextMessages replaces the persistent context.
func (a *Agent) SetContextMessages(msgs []session.Message) {
	a.session.SetContext(msgs)
}

func (a *Agent) ClearContext() {
	a.session.ClearContext()
}

// AddMessage appends a message to the history. A system message becomes
// the system prompt.
func (a *Agent) AddMessage(role, content string) {
	if role == session.RoleSystem {
		a.SetSystemPrompt(content)
		return
	}
	a.session.AddMessage(session.Message{Role: role, Content: content})
	a.totalMessages++
}

// ClearHistory resets the history to its initial state: empty, or only the
// system prompt when one is set. The message counter restarts from zero.
func (a *Agent) ClearHistory() {
	a.session.Reset(a.cfg.SystemPrompt)
	a.totalMessages = 0
}

// History returns a copy of the message history.
func (a *Agent) History() []session.Message { return a.session.History() }

// Context returns a copy of the persistent context.
func (a *Agent) Context() []session.Message {
	return append([]session.Message(nil), a.session.Context...)
}

// BuildRequest assembles a request from the persistent context followed by
// working. It does not modify the agent.
func (a *Agent) BuildRequest(working []session.Message) *llm.ChatRequest {
	ctxMsgs := a.session.ContextMessages()
	msgs := make([]session.Message, 0, len(ctxMsgs)+len(working))
	msgs = append(msgs, ctxMsgs...)
	msgs = append(msgs, working...)

	model := a.cfg.Model
	if a.provider != nil {
		model = a.provider.ModelName(model)
	}
	return &llm.ChatRequest{
		Model:        model,
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
		SystemPrompt: a.cfg.SystemPrompt,
		Messages:     msgs,
	}
}

// Chat records msgs in the history and performs one provider round-trip.
// The returned response is never nil; failures are reported through
// Response.Success and Response.Error.
func (a *Agent) Chat(ctx context.Context, msgs ...session.Message) *llm.Response {
	if !a.ready {
		slog.Warn("Chat on agent before initialization", "error", errors.ErrNotReady)
		return llm.Failure(NotReadyMessage)
	}
	working := a.begin(msgs)
	resp := a.roundTrip(ctx, a.policy.apply(a.BuildRequest(working)))
	if !resp.Success {
		return resp
	}
	a.finish(resp.Content, resp.Usage)
	return resp
}

// Stream records msgs in the history and streams the reply through onChunk:
// one call per partial content, then exactly one call with Done set. A
// failure is reported on the Done chunk through StreamChunk.Err.
func (a *Agent) Stream(ctx context.Context, onChunk func(llm.StreamChunk), msgs ...session.Message) {
	if !a.ready {
		slog.Warn("Stream on agent before initialization", "error", errors.ErrNotReady)
		onChunk(llm.StreamChunk{Done: true, Err: NotReadyMessage})
		return
	}
	working := a.begin(msgs)
	req := a.policy.apply(a.BuildRequest(working))
	req.Stream = true

	ctx, cancel := withTimeout(ctx, a.cfg.RoundTimeout)
	defer cancel()
	ch, err := a.provider.Stream(ctx, req)
	if err != nil {
		slog.Error("Provider stream failed", "error", errors.Wrapf(errors.ErrProvider, "%v", err))
		onChunk(llm.StreamChunk{Done: true, Err: errors.Message(err)})
		return
	}

	var buf strings.Builder
	var usage *llm.Usage
	for c := range ch {
		if c.Done {
			if c.Err != "" {
				slog.Error("Provider stream interrupted", "error", c.Err, "received", buf.Len())
				onChunk(llm.StreamChunk{Done: true, Err: errors.StripLocation(c.Err)})
				return
			}
			usage = c.Usage
			break
		}
		if c.Content == "" {
			continue
		}
		buf.WriteString(c.Content)
		onChunk(llm.StreamChunk{Content: c.Content})
	}
	if buf.Len() > 0 {
		a.finish(buf.String(), usage)
	}
	onChunk(llm.StreamChunk{Done: true})
}

// begin appends msgs to the history and returns the working list for the
// call: the history window followed by msgs. System-role input only reaches
// the working list.
func (a *Agent) begin(msgs []session.Message) []session.Message {
	working := a.session.Recent(a.cfg.HistoryWindow)
	for _, m := range msgs {
		if m.Role == session.RoleSystem {
			continue
		}
		a.AddMessage(m.Role, m.Content)
	}
	return append(working, msgs...)
}

// roundTrip performs one provider call under the round timeout. The result
// is never nil.
func (a *Agent) roundTrip(ctx context.Context, req *llm.ChatRequest) *llm.Response {
	ctx, cancel := withTimeout(ctx, a.cfg.RoundTimeout)
	defer cancel()

	resp, err := a.provider.Chat(ctx, req)
	switch {
	case err != nil:
		slog.Error("Provider call failed", "model", req.Model, "error", errors.Wrapf(errors.ErrProvider, "%v", err))
		return llm.Failure(errors.Message(err))
	case resp == nil:
		slog.Error("Provider returned no response", "model", req.Model)
		return llm.Failure("no response")
	case !resp.Success:
		if resp.Error == "" {
			resp.Error = "no response"
		}
		slog.Error("Provider reported failure", "model", req.Model, "error", resp.Error)
		resp.Error = errors.StripLocation(resp.Error)
		return resp
	}
	return resp
}

// finish records the assistant reply and persists file-backed sessions.
func (a *Agent) finish(content string, usage *llm.Usage) {
	a.AddMessage(session.RoleAssistant, content)
	if usage != nil {
		a.totalTokens += usage.TotalTokens
	}
	if err := a.session.Save(); err != nil {
		slog.Warn("Failed to save session", "session", a.session.Name, "error", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
