package agent

import (
	"fmt"
	"strings"

	"github.com/m4xw311/parley/config"
	"github.com/m4xw311/parley/tools"
)

// Personality is composed into the effective system prompt of an EnhancedAgent.
type Personality struct {
	Name   string
	Prompt string
	Traits []string
}

// PersonalityFromConfig converts the configured personality; nil stays nil.
func PersonalityFromConfig(p *config.Personality) *Personality {
	if p == nil {
		return nil
	}
	return &Personality{Name: p.Name, Prompt: p.Prompt, Traits: append([]string(nil), p.Traits...)}
}

// composePrompt builds the effective system prompt: base, then the function
// catalog when function calling is on and functions exist, then the traits.
func composePrompt(base string, p *Personality, functionCalling bool, defs []tools.FunctionDefinition) string {
	var sb strings.Builder
	if p.Prompt != "" {
		sb.WriteString(p.Prompt)
	} else {
		sb.WriteString(base)
	}

	if functionCalling && len(defs) > 0 {
		sb.WriteString("\n\nYou have access to the following functions:\n")
		for _, d := range defs {
			fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
		}
		sb.WriteString("\nTo call a function, write a line on its own of the form:\n")
		fmt.Fprintf(&sb, "%s {\"name\": \"<function name>\", \"arguments\": {<arguments>}}\n", MarkerPrefix)
		sb.WriteString("Call functions explicitly whenever they help with the request, and tell the user which functions you used and what they returned.")
	}

	if len(p.Traits) > 0 {
		fmt.Fprintf(&sb, "\n\nYour personality traits: %s.", strings.Join(p.Traits, ", "))
	}
	return strings.TrimSpace(sb.String())
}
