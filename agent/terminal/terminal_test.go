package terminal

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/m4xw311/parley/agent"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

type MockTool struct {
	name  string
	calls int
}

func (m *MockTool) Name() string        { return m.name }
func (m *MockTool) Description() string { return "mock " + m.name }
func (m *MockTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	m.calls++
	return "listed", nil
}

func newTestAgent(t *testing.T, provider llm.Provider) *agent.EnhancedAgent {
	t.Helper()
	a := agent.NewEnhanced(session.New("test-session"))
	if err := a.Initialize(&agent.EnhancedConfig{FunctionCalling: true}, provider); err != nil {
		t.Fatalf("Failed to initialize agent: %v", err)
	}
	return a
}

func textReply(content string) llm.Reply {
	return llm.Reply{Response: &llm.Response{Success: true, Content: content}}
}

func TestTerminalNew(t *testing.T) {
	a := newTestAgent(t, llm.NewMockProvider())
	term := New(a, strings.NewReader(""), &bytes.Buffer{})
	if term == nil {
		t.Fatal("Expected terminal instance, got nil")
	}
	if term.agent != a {
		t.Fatal("Terminal agent doesn't match the provided agent")
	}
	if term.Mode != ModePrompt || term.Verbosity != VerbosityNone {
		t.Errorf("Unexpected defaults: mode=%s verbosity=%s", term.Mode, term.Verbosity)
	}
}

func TestTerminalRun(t *testing.T) {
	a := newTestAgent(t, llm.NewMockProvider())
	var out bytes.Buffer
	term := New(a, strings.NewReader("hello\n\n/quit\nignored\n"), &out)

	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Parley: I am a mock LLM. You said: 'hello'.") {
		t.Errorf("Expected echoed reply, got %q", out.String())
	}
	if strings.Contains(out.String(), "ignored") {
		t.Errorf("Input after /quit must not be processed, got %q", out.String())
	}
	if n := len(a.History()); n != 2 {
		t.Errorf("Expected 2 messages in history, got %d", n)
	}
}

func TestTerminalInitialPromptAndClear(t *testing.T) {
	a := newTestAgent(t, llm.NewMockProvider())
	var out bytes.Buffer
	term := New(a, strings.NewReader("/clear\n"), &out)

	if err := term.Run(context.Background(), "first"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "You said: 'first'") {
		t.Errorf("Expected initial prompt processed, got %q", out.String())
	}
	if !strings.Contains(out.String(), "History cleared.") {
		t.Errorf("Expected clear confirmation, got %q", out.String())
	}
	if n := len(a.History()); n != 0 {
		t.Errorf("Expected empty history after /clear, got %d", n)
	}
}

func TestTerminalStats(t *testing.T) {
	a := newTestAgent(t, llm.NewMockProvider())
	var out bytes.Buffer
	term := New(a, strings.NewReader("/stats\n/exit\n"), &out)
	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, want := range []string{"agent_type: enhanced", "is_ready: true", "function_calls: 0"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in output %q", want, out.String())
		}
	}
}

func TestTerminalPromptMode(t *testing.T) {
	call := fmt.Sprintf(`%s {"name": "list_dir", "arguments": {"path": "."}}`, agent.MarkerPrefix)

	tests := []struct {
		name   string
		answer string
		calls  int
	}{
		{"approved", "y", 1},
		{"declined", "n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := llm.NewMockProvider(textReply(call), textReply("Done."))
			a := newTestAgent(t, provider)
			tool := &MockTool{name: "list_dir"}
			a.AddFunctionExtension(tools.NewToolbox("filesystem", tool))

			var out bytes.Buffer
			term := New(a, strings.NewReader("list files\n"+tt.answer+"\n"), &out)
			term.Verbosity = VerbosityInfo
			if err := term.Run(context.Background(), ""); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if tool.calls != tt.calls {
				t.Errorf("Expected %d tool executions, got %d", tt.calls, tool.calls)
			}
			if !strings.Contains(out.String(), "Parley wants to call function `list_dir`") {
				t.Errorf("Expected call announcement, got %q", out.String())
			}
			if !strings.Contains(out.String(), "Allow `list_dir`? (y/n): ") {
				t.Errorf("Expected confirmation prompt, got %q", out.String())
			}
			if !strings.Contains(out.String(), "Parley: Done.") {
				t.Errorf("Expected final reply, got %q", out.String())
			}
		})
	}
}

func TestTerminalAutoModeVerbose(t *testing.T) {
	call := fmt.Sprintf(`%s {"name": "list_dir", "arguments": {}}`, agent.MarkerPrefix)
	provider := llm.NewMockProvider(textReply(call), textReply("Done."))
	a := newTestAgent(t, provider)
	tool := &MockTool{name: "list_dir"}
	a.AddFunctionExtension(tools.NewToolbox("filesystem", tool))

	var out bytes.Buffer
	term := New(a, strings.NewReader("list files\n"), &out)
	term.Mode = ModeAuto
	term.Verbosity = VerbosityAll
	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tool.calls != 1 {
		t.Errorf("Expected 1 tool execution, got %d", tool.calls)
	}
	if strings.Contains(out.String(), "(y/n)") {
		t.Errorf("Auto mode must not ask for confirmation, got %q", out.String())
	}
	if !strings.Contains(out.String(), "Function `list_dir` output: listed") {
		t.Errorf("Expected function output, got %q", out.String())
	}
}

func TestTerminalStream(t *testing.T) {
	provider := llm.NewMockProvider(llm.Reply{Response: &llm.Response{Success: true}, Chunks: []string{"Hel", "lo"}})
	a := newTestAgent(t, provider)
	var out bytes.Buffer
	term := New(a, strings.NewReader("hi\n"), &out)
	term.Stream = true

	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Parley: Hello\n") {
		t.Errorf("Expected streamed reply, got %q", out.String())
	}
}

func TestTerminalReportsFailure(t *testing.T) {
	provider := llm.NewMockProvider(llm.Reply{Response: llm.Failure("quota exceeded")})
	a := newTestAgent(t, provider)
	var out bytes.Buffer
	term := New(a, strings.NewReader("hi\n"), &out)

	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Error: quota exceeded") {
		t.Errorf("Expected error line, got %q", out.String())
	}
}
