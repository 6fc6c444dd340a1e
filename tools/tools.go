package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/parley/config"
	"github.com/m4xw311/parley/errors"
)

// FunctionNotFound is the error text reported for calls to unknown functions.
const FunctionNotFound = "Function not found"

// FunctionDefinition describes one callable function of an extension.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Extension   string `json:"extension"`
}

// FunctionCall is a parsed request from the model to run a function.
// Extension is resolved by the agent at dispatch time.
type FunctionCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Extension string                 `json:"-"`
}

// FunctionResult is the outcome of one FunctionCall.
type FunctionResult struct {
	Name    string
	Success bool
	Result  string
	Error   string
}

// Succeeded builds a successful result for name.
func Succeeded(name, result string) FunctionResult {
	return FunctionResult{Name: name, Success: true, Result: result}
}

// Failed builds a failed result for name.
func Failed(name, reason string) FunctionResult {
	return FunctionResult{Name: name, Error: reason}
}

// Extension is a pluggable capability exposing named functions the model may invoke.
type Extension interface {
	Name() string
	FunctionDefinitions() []FunctionDefinition
	// Execute runs call and always returns a result; failures are reported
	// through FunctionResult.Success rather than an error.
	Execute(ctx context.Context, call FunctionCall) FunctionResult
}

// Tool defines a single function. A Toolbox groups tools into an Extension.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Toolbox is an Extension backed by a fixed set of Tools.
type Toolbox struct {
	name  string
	tools map[string]Tool
	order []string
}

// NewToolbox groups tools under the extension name. Later tools replace
// earlier ones with the same name.
func NewToolbox(name string, ts ...Tool) *Toolbox {
	b := &Toolbox{name: name, tools: make(map[string]Tool)}
	for _, t := range ts {
		if _, ok := b.tools[t.Name()]; !ok {
			b.order = append(b.order, t.Name())
		}
		b.tools[t.Name()] = t
	}
	return b
}

func (b *Toolbox) Name() string { return b.name }

func (b *Toolbox) FunctionDefinitions() []FunctionDefinition {
	defs := make([]FunctionDefinition, 0, len(b.order))
	for _, name := range b.order {
		defs = append(defs, FunctionDefinition{
			Name:        name,
			Description: b.tools[name].Description(),
			Extension:   b.name,
		})
	}
	return defs
}

func (b *Toolbox) Execute(ctx context.Context, call FunctionCall) FunctionResult {
	if err := ctx.Err(); err != nil {
		return Failed(call.Name, err.Error())
	}
	t, ok := b.tools[call.Name]
	if !ok {
		return Failed(call.Name, FunctionNotFound)
	}
	out, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		return Failed(call.Name, err.Error())
	}
	return Succeeded(call.Name, out)
}

// filtered exposes a subset of another extension's functions.
type filtered struct {
	Extension
	allowed map[string]bool
}

// Only restricts ext to the named functions. The returned extension keeps ext's name.
func Only(ext Extension, names ...string) Extension {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	return &filtered{Extension: ext, allowed: allowed}
}

func (f *filtered) FunctionDefinitions() []FunctionDefinition {
	var defs []FunctionDefinition
	for _, d := range f.Extension.FunctionDefinitions() {
		if f.allowed[d.Name] {
			defs = append(defs, d)
		}
	}
	return defs
}

func (f *filtered) Execute(ctx context.Context, call FunctionCall) FunctionResult {
	if !f.allowed[call.Name] {
		return Failed(call.Name, FunctionNotFound)
	}
	return f.Extension.Execute(ctx, call)
}

// Registry holds all known extensions by name.
type Registry struct {
	extensions map[string]Extension
}

// NewRegistry registers the built-in extensions configured by cfg.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{extensions: make(map[string]Extension)}
	r.Register(NewFilesystem(&cfg.FilesystemAccess))
	r.Register(NewCommand(cfg.AllowedCommands))
	return r
}

func (r *Registry) Register(ext Extension) {
	r.extensions[ext.Name()] = ext
}

func (r *Registry) Get(name string) (Extension, bool) {
	ext, ok := r.extensions[name]
	return ext, ok
}

// Names lists registered extension names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.extensions))
	for n := range r.extensions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the extensions a toolset enables. Entries are either an
// extension name ("filesystem") or "extension:function" to enable a single
// function; several entries for the same extension are merged.
func (r *Registry) Resolve(ts *config.Toolset) ([]Extension, error) {
	var order []string
	whole := make(map[string]bool)
	partial := make(map[string][]string)

	for _, entry := range ts.Tools {
		extName, fnName, scoped := strings.Cut(entry, ":")
		if _, ok := r.extensions[extName]; !ok {
			return nil, errors.New("extension '%s' from toolset '%s' is not registered", extName, ts.Name)
		}
		if !whole[extName] && len(partial[extName]) == 0 {
			order = append(order, extName)
		}
		if scoped {
			partial[extName] = append(partial[extName], fnName)
		} else {
			whole[extName] = true
		}
	}

	var active []Extension
	for _, name := range order {
		ext := r.extensions[name]
		if !whole[name] {
			ext = Only(ext, partial[name]...)
		}
		active = append(active, ext)
	}
	slog.Debug("Resolved toolset", "toolset", ts.Name, "extensions", order)
	return active, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	cmdParts := strings.Fields(command)
	if len(cmdParts) == 0 {
		return false, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Warn("Invalid regex in allowed_commands", "pattern", pattern, "error", err)
			// Fall back to plain comparison for patterns that are not valid regexes.
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
