package mcp

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// session is the subset of *mcpsdk.ClientSession the extension uses.
type session interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Close() error
}

// Extension exposes the tools of one MCP server subprocess as agent functions.
// The extension name is the server name from the configuration.
type Extension struct {
	name  string
	cmd   *exec.Cmd
	conn  session
	defs  []tools.FunctionDefinition
	known map[string]bool
}

var _ tools.Extension = (*Extension)(nil)

// Start launches the MCP server subprocess, connects to it and discovers its tools.
func Start(ctx context.Context, name, command string, args []string) (*Extension, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "parley", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}

	var discovered []*mcpsdk.Tool
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			conn.Close()
			cmd.Process.Kill()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		discovered = append(discovered, list.Tools...)
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	ext := newExtension(name, conn, discovered)
	ext.cmd = cmd
	slog.Info("Initialized MCP extension", "server", name, "functions", len(ext.defs))
	return ext, nil
}

func newExtension(name string, conn session, discovered []*mcpsdk.Tool) *Extension {
	ext := &Extension{name: name, conn: conn, known: make(map[string]bool)}
	for _, t := range discovered {
		if ext.known[t.Name] {
			continue
		}
		ext.known[t.Name] = true
		ext.defs = append(ext.defs, tools.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Extension:   name,
		})
	}
	return ext
}

func (e *Extension) Name() string { return e.name }

func (e *Extension) FunctionDefinitions() []tools.FunctionDefinition {
	return append([]tools.FunctionDefinition(nil), e.defs...)
}

// Execute forwards the call to the MCP server and concatenates its text content.
func (e *Extension) Execute(ctx context.Context, call tools.FunctionCall) tools.FunctionResult {
	if !e.known[call.Name] {
		return tools.Failed(call.Name, tools.FunctionNotFound)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := e.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		return tools.Failed(call.Name, errors.Wrapf(err, "failed to call tool '%s'", call.Name).Error())
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return tools.Failed(call.Name, sb.String())
	}
	return tools.Succeeded(call.Name, sb.String())
}

// Stop closes the connection and terminates the MCP server subprocess.
func (e *Extension) Stop() error {
	if e.conn != nil {
		e.conn.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		slog.Info("Terminating MCP server", "server", e.name)
		return e.cmd.Process.Kill()
	}
	return nil
}
