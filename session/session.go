package session

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultDir is where file-backed sessions live unless configured otherwise.
var DefaultDir = filepath.Join(".parley", "sessions")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Session is the conversation state of one agent: the ordered history plus a
// persistent context that is re-sent with every request.
//
// History holds at most one system message and, if present, it is Messages[0].
type Session struct {
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
	Context  []Message `json:"context,omitempty"`
	path     string
}

// New creates an in-memory session. Save is a no-op for it.
func New(name string) *Session {
	return &Session{
		Name:     name,
		Messages: []Message{},
	}
}

// Open creates a new file-backed session under dir. The file is written on
// the first Save.
func Open(dir, name string) (*Session, error) {
	path, err := sessionPath(dir, name)
	if err != nil {
		return nil, err
	}
	s := New(name)
	s.path = path
	return s, nil
}

// Load loads an existing session from disk.
func Load(dir, name string) (*Session, error) {
	path, err := sessionPath(dir, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	// Files edited by hand may break the single-system-message rule.
	s.SetSystemPrompt(s.SystemPrompt())
	return &s, nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// Path returns the backing file, or "" for in-memory sessions.
func (s *Session) Path() string {
	return s.path
}

// AddMessage appends a message to the session history. A system message
// replaces the one at the head instead of being appended.
func (s *Session) AddMessage(msg Message) {
	if msg.Role == RoleSystem {
		s.SetSystemPrompt(msg.Content)
		return
	}
	s.Messages = append(s.Messages, msg)
}

// SystemPrompt returns the content of the leading system message, if any.
func (s *Session) SystemPrompt() string {
	for _, m := range s.Messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// SetSystemPrompt replaces the system message. An empty prompt only removes
// the existing one.
func (s *Session) SetSystemPrompt(prompt string) {
	kept := make([]Message, 0, len(s.Messages)+1)
	if prompt != "" {
		kept = append(kept, System(prompt))
	}
	for _, m := range s.Messages {
		if m.Role != RoleSystem {
			kept = append(kept, m)
		}
	}
	s.Messages = kept
}

// Reset empties the history and reinstates systemPrompt when non-empty.
func (s *Session) Reset(systemPrompt string) {
	s.Messages = []Message{}
	if systemPrompt != "" {
		s.Messages = append(s.Messages, System(systemPrompt))
	}
}

// History returns a copy of the message history.
func (s *Session) History() []Message {
	return append([]Message(nil), s.Messages...)
}

// Recent returns up to n of the latest non-system messages, oldest first.
// A negative n returns all of them.
func (s *Session) Recent(n int) []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	if n >= 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// SetContext replaces the persistent context.
func (s *Session) SetContext(msgs []Message) {
	s.Context = append([]Message(nil), msgs...)
}

// ClearContext drops the persistent context.
func (s *Session) ClearContext() {
	s.Context = nil
}

// ContextMessages returns the persistent context without system-role entries.
func (s *Session) ContextMessages() []Message {
	var out []Message
	for _, m := range s.Context {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

func sessionPath(dir, name string) (string, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(dir, fmt.Sprintf("%s.json", name)), nil
}
