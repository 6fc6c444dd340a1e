package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/m4xw311/parley/errors"
)

// maxCommandOutput caps the combined output returned to the model.
const maxCommandOutput = 32 * 1024

// NewCommand returns the "command" extension limited to the allowed patterns.
func NewCommand(allowedCommands []string) *Toolbox {
	return NewToolbox("command", &CommandTool{allowed: allowedCommands})
}

// CommandTool runs an allow-listed program without a shell.
type CommandTool struct {
	allowed []string
}

func (t *CommandTool) Name() string { return "execute_command" }

func (t *CommandTool) Description() string {
	var sb strings.Builder
	sb.WriteString("Runs a program without a shell and returns its combined output. ")
	sb.WriteString("Args: command (string), workdir (optional string), timeout_seconds (optional number).")
	if len(t.allowed) == 0 {
		sb.WriteString("\nNo commands are currently allowed.")
		return sb.String()
	}
	sb.WriteString("\nThe command must match one of these patterns:")
	for _, pattern := range t.allowed {
		fmt.Fprintf(&sb, "\n- %s", pattern)
	}
	return sb.String()
}

func (t *CommandTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, _ := args["command"].(string)
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return "", errors.New("missing or empty 'command' argument")
	}

	ok, err := isCommandAllowed(command, t.allowed)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs*float64(time.Second)))
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir, ok := args["workdir"].(string); ok && dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	output := clipOutput(out)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", errors.New("command exited with code %d. Output:\n%s", exitErr.ExitCode(), output)
		}
		return "", errors.Wrapf(err, "command could not run. Output:\n%s", output)
	}
	return fmt.Sprintf("Exit code 0. Output:\n%s", output), nil
}

func clipOutput(out []byte) string {
	if len(out) <= maxCommandOutput {
		return string(out)
	}
	return string(out[:maxCommandOutput]) + "\n[... output truncated ...]"
}
