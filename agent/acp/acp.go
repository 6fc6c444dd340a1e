package acp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/m4xw311/parley/agent"
	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxContentSize caps inlined resource_link file contents.
const maxContentSize = 50000

// Factory builds the agent serving one ACP session.
type Factory func(sess *session.Session) (*agent.EnhancedAgent, error)

// Options configures an ACP server.
type Options struct {
	NewAgent Factory
	// SessionDir holds the session files; empty means session.DefaultDir.
	SessionDir string
	// TracePath, when set, receives a timestamped trace of the exchange.
	TracePath string
}

// Run starts the Agent Client Protocol server over stdio using JSON-RPC
// It implements a minimal subset of ACP:
// - initialize
// - session/new
// - session/load
// - session/prompt (emits session/update notifications with agent_message_chunk, tool_call, and tool_result)
// Nothing but JSON-RPC messages is written to out; diagnostics go to the
// trace file. Messages are newline-delimited JSON objects.
func Run(ctx context.Context, opts Options, in io.Reader, out io.Writer) error {
	if opts.NewAgent == nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "acp: agent factory is required")
	}

	trace := func(string) {}
	if opts.TracePath != "" {
		traceFile, err := os.OpenFile(opts.TracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrapf(err, "acp: could not open trace file")
		}
		defer traceFile.Close()
		trace = func(msg string) {
			fmt.Fprintf(traceFile, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
		}
	}

	s := &server{
		ctx:    ctx,
		opts:   opts,
		agents: make(map[string]*agent.EnhancedAgent),
		in:     bufio.NewReader(in),
		out:    bufio.NewWriter(out),
		trace:  trace,
	}
	trace("Run: starting ACP server")
	return s.serve()
}

// jsonrpcRequest represents a JSON-RPC 2.0 request message
type jsonrpcRequest struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      any                 `json:"id,omitempty"`
	Method  string              `json:"method"`
	Params  jsoniter.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message
type jsonrpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      any                 `json:"id"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError       `json:"error,omitempty"`
}

// jsonrpcError represents a JSON-RPC 2.0 error object
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// server holds one agent per ACP session.
type server struct {
	ctx  context.Context
	opts Options

	agents   map[string]*agent.EnhancedAgent
	agentsMu sync.Mutex

	in      *bufio.Reader
	out     *bufio.Writer
	writeMu sync.Mutex
	trace   func(string)
}

func (s *server) serve() error {
	for {
		payload, err := s.readMessage()
		if len(payload) == 0 && err == nil {
			continue
		}
		if len(payload) > 0 {
			s.handle(payload)
		}
		if err != nil {
			if err == io.EOF {
				s.trace("Run: EOF received, exiting")
				return nil
			}
			s.trace(fmt.Sprintf("Run: read error: %v", err))
			return errors.Wrapf(err, "acp: read error")
		}
	}
}

// readMessage reads one newline-delimited payload. A final payload without
// a trailing newline is returned together with io.EOF.
func (s *server) readMessage() ([]byte, error) {
	line, err := s.in.ReadBytes('\n')
	return bytes.TrimSpace(line), err
}

func (s *server) handle(payload []byte) {
	s.trace(fmt.Sprintf("received payload: %s", payload))
	var req jsonrpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.trace(fmt.Sprintf("JSON parse error: %v", err))
		_ = s.writeError(nil, codeParseError, "Parse error", nil)
		return
	}

	s.trace(fmt.Sprintf("dispatching method: %s with ID: %v", req.Method, req.ID))
	switch req.Method {
	case "initialize":
		s.handleInitialize(&req)
	case "session/new":
		s.handleSessionNew(&req)
	case "session/load":
		s.handleSessionLoad(&req)
	case "session/prompt":
		s.handleSessionPrompt(&req)
	default:
		if req.ID == nil {
			// Unknown notifications get no reply.
			s.trace(fmt.Sprintf("ignoring notification %s", req.Method))
			return
		}
		_ = s.writeError(req.ID, codeMethodNotFound, "Method not found", nil)
	}
}

func (s *server) writeJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		s.trace(fmt.Sprintf("writeJSON: marshal error: %v", err))
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.trace(fmt.Sprintf("writeJSON: %s", data))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	if err := s.out.WriteByte('\n'); err != nil {
		return err
	}
	return s.out.Flush()
}

// writeResult sends a successful response. A nil result is sent as null.
func (s *server) writeResult(id, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		s.trace(fmt.Sprintf("writeResult: marshal error: %v", err))
		return s.writeError(id, codeInternalError, "Internal error", err.Error())
	}
	return s.writeJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func (s *server) writeError(id any, code int, msg string, data any) error {
	s.trace(fmt.Sprintf("writeError: code=%d, msg=%s, data=%+v", code, msg, data))
	return s.writeJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

func (s *server) writeNotification(method string, params any) error {
	return s.writeJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// decode unmarshals params into v. Absent params leave v untouched.
func decode(params jsoniter.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}

// ---- Handlers ----

// handleInitialize returns the protocol version and agent capabilities.
func (s *server) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int `json:"protocolVersion"`
	}
	if err := decode(req.Params, &p); err != nil {
		s.trace(fmt.Sprintf("handleInitialize: unmarshal error: %v", err))
	}
	s.trace(fmt.Sprintf("handleInitialize: client protocol version %d", p.ProtocolVersion))

	_ = s.writeResult(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

// handleSessionNew creates a file-backed session and its agent.
func (s *server) handleSessionNew(req *jsonrpcRequest) {
	sid := uuid.NewString()
	sess, err := session.Open(s.opts.SessionDir, sid)
	if err != nil {
		_ = s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to create session: %v", err))
		return
	}
	if err := s.register(sid, sess); err != nil {
		_ = s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to create agent: %v", err))
		return
	}
	s.trace(fmt.Sprintf("handleSessionNew: created session %s", sid))
	_ = s.writeResult(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad loads a session from disk, replays its conversation as
// session/update notifications and answers null once done.
func (s *server) handleSessionLoad(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := decode(req.Params, &p); err != nil || p.SessionID == "" {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", "sessionId is required")
		return
	}

	sess, err := session.Load(s.opts.SessionDir, p.SessionID)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %v", err))
		return
	}
	if err := s.register(p.SessionID, sess); err != nil {
		_ = s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to create agent: %v", err))
		return
	}

	s.trace(fmt.Sprintf("handleSessionLoad: replaying %d messages", len(sess.Messages)))
	for _, msg := range sess.Messages {
		switch msg.Role {
		case session.RoleUser:
			_ = s.sendMessageChunk(p.SessionID, "user_message_chunk", msg.Content)
		case session.RoleAssistant:
			if msg.Content != "" {
				_ = s.sendMessageChunk(p.SessionID, "agent_message_chunk", msg.Content)
			}
		}
	}
	_ = s.writeResult(req.ID, nil)
}

// contentBlock represents a content block in ACP prompt requests.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// ResourceLink fields
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// handleSessionPrompt runs one agent turn. Function calls are reported as
// tool_call and tool_result updates, the reply as an agent_message_chunk.
func (s *server) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := decode(req.Params, &p); err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("unmarshal error: %v", err))
		return
	}

	s.agentsMu.Lock()
	a, ok := s.agents[p.SessionID]
	s.agentsMu.Unlock()
	if !ok {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	userText := extractUserText(p.Prompt)
	s.trace(fmt.Sprintf("handleSessionPrompt: extracted user text: %s", userText))

	// Dispatch is sequential, so results always belong to the last call.
	var callID string
	a.SetHooks(agent.Hooks{
		OnFunctionCall: func(call tools.FunctionCall) {
			callID = uuid.NewString()
			_ = s.sendToolCall(p.SessionID, callID, call)
		},
		OnFunctionResult: func(res tools.FunctionResult) {
			_ = s.sendToolResult(p.SessionID, callID, res)
		},
	})

	resp := a.Chat(s.ctx, session.User(userText))
	if !resp.Success {
		_ = s.writeError(req.ID, codeInternalError, "Internal error", resp.Error)
		return
	}
	if resp.Content != "" {
		_ = s.sendMessageChunk(p.SessionID, "agent_message_chunk", resp.Content)
	}
	_ = s.writeResult(req.ID, map[string]any{"stopReason": "end_turn"})
}

func (s *server) register(sid string, sess *session.Session) error {
	a, err := s.opts.NewAgent(sess)
	if err != nil {
		return err
	}
	s.agentsMu.Lock()
	s.agents[sid] = a
	s.agentsMu.Unlock()
	return nil
}

func (s *server) sendMessageChunk(sessionID, kind, text string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": kind,
			"content": map[string]any{
				"type": "text",
				"text": text,
			},
		},
	})
}

func (s *server) sendToolCall(sessionID, callID string, call tools.FunctionCall) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_call",
			"toolCall": map[string]any{
				"id":   callID,
				"name": call.Name,
				"args": call.Arguments,
			},
		},
	})
}

func (s *server) sendToolResult(sessionID, callID string, res tools.FunctionResult) error {
	result := res.Result
	if !res.Success {
		result = "ERROR: " + res.Error
	}
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_result",
			"toolResult": map[string]any{
				"toolCallId": callID,
				"result":     result,
			},
		},
	})
}

// readFileFromURI attempts to read file contents from a file:// URI
func readFileFromURI(uri string) (string, error) {
	parsedURL, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI: %v", err)
	}
	if parsedURL.Scheme != "file" {
		return "", fmt.Errorf("unsupported URI scheme: %s", parsedURL.Scheme)
	}
	content, err := os.ReadFile(parsedURL.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}
	return string(content), nil
}

// extractUserText creates a single string from all content blocks
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if len(content) > maxContentSize {
				content = truncate(content, maxContentSize) + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}

	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}
