package agent

import (
	"log/slog"
	"time"

	"github.com/m4xw311/parley/config"
	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

// DefaultMaxFunctionCalls is the per-invocation call budget used when
// EnhancedConfig.MaxFunctionCalls is zero.
const DefaultMaxFunctionCalls = 5

// EnhancedConfig is the policy of an EnhancedAgent.
type EnhancedConfig struct {
	Config
	Personality      *Personality
	FunctionCalling  bool
	MaxFunctionCalls int
	// ExtensionTimeout bounds each function execution. Zero means no bound
	// beyond the caller's context.
	ExtensionTimeout time.Duration
}

// ConfigFrom derives an EnhancedConfig from the loaded configuration.
func ConfigFrom(cfg *config.Config) *EnhancedConfig {
	return &EnhancedConfig{
		Config: Config{
			Model:         cfg.Model,
			Temperature:   cfg.Temperature,
			MaxTokens:     cfg.MaxTokens,
			SystemPrompt:  cfg.SystemPrompt,
			Archetype:     Archetype(cfg.Archetype),
			HistoryWindow: cfg.HistoryWindow,
			RoundTimeout:  cfg.RoundTimeout,
		},
		Personality:      PersonalityFromConfig(cfg.Personality),
		FunctionCalling:  cfg.FunctionCallingEnabled(),
		MaxFunctionCalls: cfg.MaxFunctionCalls,
		ExtensionTimeout: cfg.ExtensionTimeout,
	}
}

// Hooks let a host observe and gate function execution.
type Hooks struct {
	OnFunctionCall   func(call tools.FunctionCall)
	OnFunctionResult func(result tools.FunctionResult)
	// ShouldExecute approves each call before it runs. A nil func approves
	// every call.
	ShouldExecute func(call tools.FunctionCall) bool
}

// EnhancedAgent is an Agent with a capability registry and a multi-round
// tool-calling loop. Stream is inherited from Agent and does not dispatch
// functions.
type EnhancedAgent struct {
	*Agent
	opts        EnhancedConfig
	personality *Personality
	extractor   CallExtractor
	hooks       Hooks

	extensions []tools.Extension
	functions  map[string]tools.FunctionDefinition
	// available keeps registration order for prompts and requests.
	available []string

	functionCalls int
}

// NewEnhanced creates an enhanced agent that is not ready until Initialize
// succeeds. A nil sess gives the agent an in-memory session.
func NewEnhanced(sess *session.Session) *EnhancedAgent {
	a := New(sess)
	a.kind = TypeEnhanced
	return &EnhancedAgent{
		Agent:     a,
		extractor: DefaultExtractor(),
		functions: make(map[string]tools.FunctionDefinition),
	}
}

// Initialize binds the provider and applies cfg. A configured personality
// replaces the system prompt with the composed one.
func (e *EnhancedAgent) Initialize(cfg *EnhancedConfig, provider llm.Provider) error {
	if cfg == nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "agent config is required")
	}
	if cfg.MaxFunctionCalls < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "max function calls must not be negative")
	}
	if err := e.Agent.Initialize(&cfg.Config, provider); err != nil {
		return err
	}
	e.opts = *cfg
	if e.opts.MaxFunctionCalls == 0 {
		e.opts.MaxFunctionCalls = DefaultMaxFunctionCalls
	}
	e.functionCalls = 0
	if cfg.Personality != nil {
		e.SetPersonality(cfg.Personality)
	}
	return nil
}

// SetPersonality installs p and recomputes the system prompt. A nil p keeps
// the current prompt and stops further recomputation.
func (e *EnhancedAgent) SetPersonality(p *Personality) {
	e.personality = p
	e.refreshPrompt()
}

// Personality returns the active personality, or nil.
func (e *EnhancedAgent) Personality() *Personality { return e.personality }

// SetExtractor replaces the strategy used to find function calls.
func (e *EnhancedAgent) SetExtractor(x CallExtractor) {
	if x == nil {
		x = DefaultExtractor()
	}
	e.extractor = x
}

func (e *EnhancedAgent) SetHooks(h Hooks) { e.hooks = h }

// AddFunctionExtension registers ext and its functions. Adding an extension
// with an already registered name is a no-op. A function name that is
// already registered now resolves to ext.
func (e *EnhancedAgent) AddFunctionExtension(ext tools.Extension) {
	if ext == nil || e.extension(ext.Name()) != nil {
		return
	}
	e.extensions = append(e.extensions, ext)
	for _, def := range ext.FunctionDefinitions() {
		def.Extension = ext.Name()
		if prev, ok := e.functions[def.Name]; ok {
			slog.Warn("Function registered twice, last registration wins", "function", def.Name, "previous", prev.Extension, "extension", ext.Name())
			e.available = without(e.available, def.Name)
		}
		e.functions[def.Name] = def
		e.available = append(e.available, def.Name)
	}
	slog.Debug("Extension added", "extension", ext.Name(), "functions", len(e.available))
	e.refreshPrompt()
}

// RemoveFunctionExtension unregisters ext and the functions it owns.
// Removing an extension that is not registered is a no-op.
func (e *EnhancedAgent) RemoveFunctionExtension(ext tools.Extension) {
	if ext == nil {
		return
	}
	name := ext.Name()
	idx := -1
	for i, x := range e.extensions {
		if x.Name() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	e.extensions = append(e.extensions[:idx], e.extensions[idx+1:]...)

	kept := e.available[:0]
	for _, fn := range e.available {
		if e.functions[fn].Extension == name {
			delete(e.functions, fn)
			continue
		}
		kept = append(kept, fn)
	}
	e.available = kept
	slog.Debug("Extension removed", "extension", name, "functions", len(e.available))
	e.refreshPrompt()
}

// HasFunction reports whether name is registered.
func (e *EnhancedAgent) HasFunction(name string) bool {
	_, ok := e.functions[name]
	return ok
}

// Functions returns the registered functions in registration order.
func (e *EnhancedAgent) Functions() []tools.FunctionDefinition {
	defs := make([]tools.FunctionDefinition, 0, len(e.available))
	for _, name := range e.available {
		defs = append(defs, e.functions[name])
	}
	return defs
}

// Extensions returns the names of the registered extensions.
func (e *EnhancedAgent) Extensions() []string {
	names := make([]string, 0, len(e.extensions))
	for _, x := range e.extensions {
		names = append(names, x.Name())
	}
	return names
}

// BuildFunctionRequest is BuildRequest plus the function table, which is
// only attached when function calling is enabled.
func (e *EnhancedAgent) BuildFunctionRequest(working []session.Message) *llm.ChatRequest {
	req := e.BuildRequest(working)
	if e.opts.FunctionCalling {
		req.FunctionCalling = true
		req.Functions = e.Functions()
		req.EnabledExtensions = e.Extensions()
	}
	return req
}

func (e *EnhancedAgent) Statistics() Statistics {
	s := e.Agent.Statistics()
	if e.personality != nil {
		s.Personality = e.personality.Name
	}
	s.Extensions = len(e.extensions)
	s.Functions = len(e.available)
	s.FunctionCalls = e.functionCalls
	return s
}

func (e *EnhancedAgent) extension(name string) tools.Extension {
	for _, x := range e.extensions {
		if x.Name() == name {
			return x
		}
	}
	return nil
}

// refreshPrompt installs the composed prompt when a personality is set.
func (e *EnhancedAgent) refreshPrompt() {
	if e.personality == nil {
		return
	}
	e.SetSystemPrompt(composePrompt(e.opts.SystemPrompt, e.personality, e.opts.FunctionCalling, e.Functions()))
}

func without(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
