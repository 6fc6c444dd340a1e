package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/m4xw311/parley/agent"
	"github.com/m4xw311/parley/agent/acp"
	"github.com/m4xw311/parley/agent/terminal"
	"github.com/m4xw311/parley/config"
	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
	"github.com/m4xw311/parley/tools/mcp"
)

func main() {
	modeFlag := flag.String("m", "prompt", "Execution mode: 'auto' or 'prompt'")
	sessionFlag := flag.String("s", "", "Session name to create or use")
	toolsetFlag := flag.String("t", "default", "Toolset to use")
	resumeFlag := flag.String("r", "", "Resume a session by name")
	archetypeFlag := flag.String("archetype", "", "Agent archetype: assistant, analytical, technical, creative or conversational")
	verbosityFlag := flag.String("tool-verbosity", "none", "Tool verbosity level: 'none', 'info', or 'all'")
	streamFlag := flag.Bool("stream", false, "Stream replies as they arrive (functions are not called)")
	acpFlag := flag.Bool("acp", false, "Enable Agent Client Protocol support")
	traceFlag := flag.Bool("trace", false, "Enable execution tracing to troubleshoot issues")
	logLevelFlag := flag.String("log-level", "warn", "Log level: debug, info, warn or error")
	flag.Parse()

	// Load .env file if present (ignored if missing).
	_ = godotenv.Load()

	level, err := parseLevel(*logLevelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stderr, level))

	mode := terminal.Mode(*modeFlag)
	if mode != terminal.ModeAuto && mode != terminal.ModePrompt {
		fmt.Fprintf(os.Stderr, "Invalid mode '%s'. Must be 'auto' or 'prompt'.\n", *modeFlag)
		os.Exit(1)
	}
	verbosity := terminal.Verbosity(*verbosityFlag)
	switch verbosity {
	case terminal.VerbosityNone, terminal.VerbosityInfo, terminal.VerbosityAll:
	default:
		fmt.Fprintf(os.Stderr, "Invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'.\n", *verbosityFlag)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *archetypeFlag != "" {
		cfg.Archetype = *archetypeFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := llm.NewProvider(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing LLM provider: %+v\n", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry(cfg)
	for _, ext := range startMCPServers(ctx, cfg.AdditionalMCPServers) {
		defer ext.Stop()
		registry.Register(ext)
	}
	extensions, err := resolveToolset(cfg, registry, *toolsetFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving toolset '%s': %+v\n", *toolsetFlag, err)
		os.Exit(1)
	}

	newAgent := func(sess *session.Session) (*agent.EnhancedAgent, error) {
		return buildAgent(cfg, provider, sess, extensions)
	}

	if *acpFlag {
		opts := acp.Options{NewAgent: newAgent, SessionDir: cfg.SessionDir}
		if *traceFlag {
			opts.TracePath = "acp.trace"
		}
		if err := acp.Run(ctx, opts, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "ACP mode failed: %+v\n", err)
			os.Exit(1)
		}
		return
	}

	sess, resumed, err := openSession(cfg.SessionDir, *sessionFlag, *resumeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session: %+v\n", err)
		os.Exit(1)
	}
	if resumed {
		fmt.Printf("Resuming session: %s\n", sess.Name)
	} else {
		fmt.Printf("Starting new session: %s\n", sess.Name)
	}

	a, err := newAgent(sess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}

	fmt.Println("Parley is ready. Type your prompt.")
	term := terminal.New(a, os.Stdin, os.Stdout)
	term.Mode = mode
	term.Verbosity = verbosity
	term.Stream = *streamFlag
	if err := term.Run(ctx, strings.Join(flag.Args(), " ")); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}

func newLogger(output io.Writer, level slog.Level) *slog.Logger {
	handler := tint.NewHandler(output, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidConfig, "invalid log level '%s'", s)
	}
	return level, nil
}

// openSession resumes the named session or opens a new file-backed one.
func openSession(dir, name, resume string) (*session.Session, bool, error) {
	if resume != "" {
		sess, err := session.Load(dir, resume)
		if err != nil {
			return nil, false, errors.Wrapf(err, "could not resume session '%s'", resume)
		}
		return sess, true, nil
	}
	if name == "" {
		name = defaultSessionName()
	}
	sess, err := session.Open(dir, name)
	if err != nil {
		return nil, false, errors.Wrapf(err, "could not create session '%s'", name)
	}
	return sess, false, nil
}

// startMCPServers starts the configured MCP servers. Servers that fail to
// start are skipped with a warning.
func startMCPServers(ctx context.Context, servers []config.MCPServer) []*mcp.Extension {
	var started []*mcp.Extension
	for _, srv := range servers {
		ext, err := mcp.Start(ctx, srv.Name, srv.Command, srv.Args)
		if err != nil {
			slog.Warn("Skipping MCP server", "server", srv.Name, "error", err)
			continue
		}
		started = append(started, ext)
	}
	return started
}

// resolveToolset returns the extensions enabled by the named toolset. With no
// toolsets configured every registered extension is enabled.
func resolveToolset(cfg *config.Config, registry *tools.Registry, name string) ([]tools.Extension, error) {
	if len(cfg.Toolsets) == 0 {
		var all []tools.Extension
		for _, n := range registry.Names() {
			ext, _ := registry.Get(n)
			all = append(all, ext)
		}
		return all, nil
	}
	ts, err := cfg.GetToolset(name)
	if err != nil {
		return nil, err
	}
	return registry.Resolve(ts)
}

func buildAgent(cfg *config.Config, provider llm.Provider, sess *session.Session, extensions []tools.Extension) (*agent.EnhancedAgent, error) {
	a := agent.NewEnhanced(sess)
	if err := a.Initialize(agent.ConfigFrom(cfg), provider); err != nil {
		return nil, err
	}
	for _, ext := range extensions {
		a.AddFunctionExtension(ext)
	}
	return a, nil
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "parley"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
