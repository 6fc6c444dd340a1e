package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/m4xw311/parley/agent"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

// Mode controls whether function calls need confirmation.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

// Verbosity controls how much of each function call is printed.
type Verbosity string

const (
	VerbosityNone Verbosity = "none"
	VerbosityInfo Verbosity = "info"
	VerbosityAll  Verbosity = "all"
)

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent *agent.EnhancedAgent
	in    *bufio.Reader
	out   io.Writer

	Mode      Mode
	Verbosity Verbosity
	// Stream prints replies as they arrive. Streamed turns do not run
	// functions.
	Stream bool
}

// New creates a new Terminal reading from in and writing to out.
func New(a *agent.EnhancedAgent, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		agent:     a,
		in:        bufio.NewReader(in),
		out:       out,
		Mode:      ModePrompt,
		Verbosity: VerbosityNone,
	}
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	t.agent.SetHooks(t.hooks())

	if initialPrompt != "" {
		t.processTurn(ctx, initialPrompt)
	}

	for {
		fmt.Fprint(t.out, "You: ")
		line, err := t.readLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		userInput := strings.TrimSpace(line)
		if userInput == "" {
			continue
		}

		switch userInput {
		case "/quit", "/exit":
			return nil
		case "/clear":
			t.agent.ClearHistory()
			fmt.Fprintln(t.out, "History cleared.")
			continue
		case "/stats":
			t.printStats()
			continue
		}

		t.processTurn(ctx, userInput)
	}
}

// processTurn handles a single user input turn
func (t *Terminal) processTurn(ctx context.Context, userInput string) {
	if t.Stream {
		started := false
		t.agent.Stream(ctx, func(c llm.StreamChunk) {
			if !started && !c.Done {
				fmt.Fprint(t.out, "Parley: ")
				started = true
			}
			switch {
			case c.Err != "":
				if started {
					fmt.Fprintln(t.out)
				}
				fmt.Fprintf(t.out, "Error: %s\n", c.Err)
			case c.Done:
				if started {
					fmt.Fprintln(t.out)
				}
			default:
				fmt.Fprint(t.out, c.Content)
			}
		}, session.User(userInput))
		return
	}

	resp := t.agent.Chat(ctx, session.User(userInput))
	if !resp.Success {
		fmt.Fprintf(t.out, "Error: %s\n", resp.Error)
		return
	}
	fmt.Fprintf(t.out, "Parley: %s\n", resp.Content)
}

func (t *Terminal) hooks() agent.Hooks {
	return agent.Hooks{
		OnFunctionCall: func(call tools.FunctionCall) {
			switch t.Verbosity {
			case VerbosityAll:
				fmt.Fprintf(t.out, "Parley wants to call function `%s` with args: %v\n", call.Name, call.Arguments)
			case VerbosityInfo:
				fmt.Fprintf(t.out, "Parley wants to call function `%s`\n", call.Name)
			}
		},
		OnFunctionResult: func(res tools.FunctionResult) {
			if t.Verbosity != VerbosityAll {
				return
			}
			if res.Success {
				fmt.Fprintf(t.out, "Function `%s` output: %s\n", res.Name, res.Result)
			} else {
				fmt.Fprintf(t.out, "Function `%s` failed: %s\n", res.Name, res.Error)
			}
		},
		ShouldExecute: func(call tools.FunctionCall) bool {
			if t.Mode != ModePrompt {
				return true
			}
			fmt.Fprintf(t.out, "Allow `%s`? (y/n): ", call.Name)
			answer, err := t.readLine()
			if err != nil && answer == "" {
				return false
			}
			return strings.TrimSpace(strings.ToLower(answer)) == "y"
		},
	}
}

func (t *Terminal) printStats() {
	stats := t.agent.Statistics().Map()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(t.out, "%s: %v\n", k, stats[k])
	}
}

// readLine returns the next line without its terminator. A final line
// without a newline is returned before io.EOF.
func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err == io.EOF && line != "" {
		return strings.TrimRight(line, "\r\n"), nil
	}
	return strings.TrimRight(line, "\r\n"), err
}
