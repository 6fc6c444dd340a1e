package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/lmittmann/tint"
	"github.com/m4xw311/parley/agent"
	"github.com/m4xw311/parley/config"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// incomingMessage is one prompt from the client. Stream selects streamed
// replies; otherwise the full tool-calling loop runs.
type incomingMessage struct {
	Text   string `json:"text"`
	Stream bool   `json:"stream"`
}

// outgoingMessage is one event sent to the client.
type outgoingMessage struct {
	Type  string         `json:"type"` // chunk, message, tool_call, tool_result, error, done
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
	Error string         `json:"error,omitempty"`
}

type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *safeConn) send(msg outgoingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteMessage(websocket.TextMessage, data)
}

// bridge serves one agent per WebSocket connection.
type bridge struct {
	newAgent func(sess *session.Session) (*agent.EnhancedAgent, error)
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	toolset := flag.String("t", "default", "Toolset to use")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo})))

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	provider, err := llm.NewProvider(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing LLM provider: %+v\n", err)
		os.Exit(1)
	}

	var extensions []tools.Extension
	if len(cfg.Toolsets) > 0 {
		ts, err := cfg.GetToolset(*toolset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving toolset '%s': %+v\n", *toolset, err)
			os.Exit(1)
		}
		if extensions, err = tools.NewRegistry(cfg).Resolve(ts); err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving toolset '%s': %+v\n", *toolset, err)
			os.Exit(1)
		}
	}

	b := &bridge{newAgent: func(sess *session.Session) (*agent.EnhancedAgent, error) {
		a := agent.NewEnhanced(sess)
		if err := a.Initialize(agent.ConfigFrom(cfg), provider); err != nil {
			return nil, err
		}
		for _, ext := range extensions {
			a.AddFunctionExtension(ext)
		}
		return a, nil
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	slog.Info("WebSocket server running", "addr", *addr, "path", "/ws")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		slog.Error("WebSocket server stopped", "error", err)
		os.Exit(1)
	}
}

func (b *bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS upgrade failed", "error", err)
		return
	}
	conn := &safeConn{Conn: rawConn}
	defer conn.Close()

	a, err := b.newAgent(session.New(r.RemoteAddr))
	if err != nil {
		slog.Error("Failed to create agent", "remote", r.RemoteAddr, "error", err)
		_ = conn.send(outgoingMessage{Type: "error", Error: err.Error()})
		return
	}
	a.SetHooks(agent.Hooks{
		OnFunctionCall: func(call tools.FunctionCall) {
			_ = conn.send(outgoingMessage{Type: "tool_call", Name: call.Name, Args: call.Arguments})
		},
		OnFunctionResult: func(res tools.FunctionResult) {
			msg := outgoingMessage{Type: "tool_result", Name: res.Name, Text: res.Result}
			if !res.Success {
				msg.Error = res.Error
			}
			_ = conn.send(msg)
		},
	})

	slog.Info("WS client connected", "remote", r.RemoteAddr)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("WS read error", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		var in incomingMessage
		if err := json.Unmarshal(data, &in); err != nil || in.Text == "" {
			_ = conn.send(outgoingMessage{Type: "error", Error: "expected {\"text\": \"...\"}"})
			continue
		}
		if err := b.turn(r.Context(), conn, a, in); err != nil {
			slog.Warn("WS write error", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

// turn runs one prompt and always finishes with a done or error event.
func (b *bridge) turn(ctx context.Context, conn *safeConn, a *agent.EnhancedAgent, in incomingMessage) error {
	if in.Stream {
		var werr error
		a.Stream(ctx, func(c llm.StreamChunk) {
			if werr != nil {
				return
			}
			switch {
			case c.Err != "":
				werr = conn.send(outgoingMessage{Type: "error", Error: c.Err})
			case c.Done:
				werr = conn.send(outgoingMessage{Type: "done"})
			default:
				werr = conn.send(outgoingMessage{Type: "chunk", Text: c.Content})
			}
		}, session.User(in.Text))
		return werr
	}

	resp := a.Chat(ctx, session.User(in.Text))
	if !resp.Success {
		return conn.send(outgoingMessage{Type: "error", Error: resp.Error})
	}
	if err := conn.send(outgoingMessage{Type: "message", Text: resp.Content}); err != nil {
		return err
	}
	return conn.send(outgoingMessage{Type: "done"})
}
