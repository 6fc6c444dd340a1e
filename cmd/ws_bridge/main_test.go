package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/parley/agent"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return fmt.Sprint(args["text"]), nil
}

func dial(t *testing.T, provider llm.Provider) *websocket.Conn {
	t.Helper()
	b := &bridge{newAgent: func(sess *session.Session) (*agent.EnhancedAgent, error) {
		a := agent.NewEnhanced(sess)
		if err := a.Initialize(&agent.EnhancedConfig{FunctionCalling: true}, provider); err != nil {
			return nil, err
		}
		a.AddFunctionExtension(tools.NewToolbox("echo", echoTool{}))
		return a, nil
	}}
	srv := httptest.NewServer(http.HandlerFunc(b.handleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilDone collects events up to and including done or error.
func readUntilDone(t *testing.T, conn *websocket.Conn) []outgoingMessage {
	t.Helper()
	var events []outgoingMessage
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		var msg outgoingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid event %q: %v", data, err)
		}
		events = append(events, msg)
		if msg.Type == "done" || msg.Type == "error" {
			return events
		}
	}
}

func TestBridgeStream(t *testing.T) {
	provider := llm.NewMockProvider(llm.Reply{Response: &llm.Response{Success: true}, Chunks: []string{"Hel", "lo"}})
	conn := dial(t, provider)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "hi", "stream": true}`)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	events := readUntilDone(t, conn)
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %+v", events)
	}
	if events[0].Type != "chunk" || events[0].Text != "Hel" || events[1].Text != "lo" || events[2].Type != "done" {
		t.Errorf("Unexpected events: %+v", events)
	}
}

func TestBridgeChat(t *testing.T) {
	conn := dial(t, llm.NewMockProvider())

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "hello"}`)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	events := readUntilDone(t, conn)
	if len(events) != 2 || events[0].Type != "message" || !strings.Contains(events[0].Text, "hello") {
		t.Errorf("Unexpected events: %+v", events)
	}
}

func TestBridgeRejectsBadInput(t *testing.T) {
	conn := dial(t, llm.NewMockProvider())

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	events := readUntilDone(t, conn)
	if len(events) != 1 || events[0].Type != "error" {
		t.Errorf("Expected an error event, got %+v", events)
	}
}

func TestBridgeProviderFailure(t *testing.T) {
	conn := dial(t, llm.NewMockProvider(llm.Reply{Response: llm.Failure("quota exceeded")}))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "hi"}`)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	events := readUntilDone(t, conn)
	if events[len(events)-1].Error != "quota exceeded" {
		t.Errorf("Expected provider failure, got %+v", events)
	}
}

func TestBridgeToolEvents(t *testing.T) {
	call := fmt.Sprintf(`%s {"name": "echo", "arguments": {"text": "ping"}}`, agent.MarkerPrefix)
	provider := llm.NewMockProvider(
		llm.Reply{Response: &llm.Response{Success: true, Content: call}},
		llm.Reply{Response: &llm.Response{Success: true, Content: "It said ping."}},
	)
	conn := dial(t, provider)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "echo ping"}`)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	events := readUntilDone(t, conn)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	if got := strings.Join(types, ","); got != "tool_call,tool_result,message,done" {
		t.Fatalf("Unexpected event sequence %s", got)
	}
	if events[0].Name != "echo" || events[0].Args["text"] != "ping" {
		t.Errorf("Unexpected tool call: %+v", events[0])
	}
	if events[1].Text != "ping" || events[1].Error != "" {
		t.Errorf("Unexpected tool result: %+v", events[1])
	}
	if events[2].Text != "It said ping." {
		t.Errorf("Unexpected message: %+v", events[2])
	}
}
