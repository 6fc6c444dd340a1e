package agent

import (
	"strings"

	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/llm"
)

// Archetype selects a default system prompt and a temperature policy.
type Archetype string

const (
	Assistant      Archetype = "assistant"
	Analytical     Archetype = "analytical"
	Technical      Archetype = "technical"
	Creative       Archetype = "creative"
	Conversational Archetype = "conversational"
)

type policy struct {
	prompt string
	clamp  func(float64) float64
}

var archetypes = map[Archetype]policy{
	Assistant: {
		prompt: "You are a helpful AI assistant. Answer clearly and accurately, and ask for clarification when a request is ambiguous.",
	},
	Analytical: {
		prompt: "You are an analytical AI assistant. Focus on data, evidence and logical reasoning, state your assumptions, and structure your conclusions step by step.",
		clamp:  atMost(0.4),
	},
	Technical: {
		prompt: "You are a technical AI assistant. Give precise, detailed and correct technical answers, and prefer concrete examples over general advice.",
		clamp:  atMost(0.3),
	},
	Creative: {
		prompt: "You are a creative AI assistant. Be imaginative and original, and explore unexpected ideas, styles and perspectives.",
		clamp:  atLeast(0.8),
	},
	Conversational: {
		prompt: "You are a friendly conversational AI assistant. Be warm and engaging, and keep the conversation natural.",
		clamp:  atLeast(0.7),
	},
}

// Archetypes lists the known archetype names.
func Archetypes() []Archetype {
	return []Archetype{Assistant, Analytical, Technical, Creative, Conversational}
}

// DefaultPrompt returns the archetype's default system prompt.
func (a Archetype) DefaultPrompt() string {
	return archetypes[a].prompt
}

func lookupArchetype(a Archetype) (policy, error) {
	if a == "" {
		return archetypes[Assistant], nil
	}
	p, ok := archetypes[Archetype(strings.ToLower(string(a)))]
	if !ok {
		return policy{}, errors.Wrapf(errors.ErrInvalidConfig, "unknown archetype %q", a)
	}
	return p, nil
}

// apply fills in the default prompt when req has none and clamps the
// temperature. It modifies and returns req.
func (p policy) apply(req *llm.ChatRequest) *llm.ChatRequest {
	if req.SystemPrompt == "" {
		req.SystemPrompt = p.prompt
	}
	if p.clamp != nil {
		req.Temperature = p.clamp(req.Temperature)
	}
	return req
}

func atMost(limit float64) func(float64) float64 {
	return func(t float64) float64 {
		if t > limit {
			return limit
		}
		return t
	}
}

func atLeast(limit float64) func(float64) float64 {
	return func(t float64) float64 {
		if t < limit {
			return limit
		}
		return t
	}
}
