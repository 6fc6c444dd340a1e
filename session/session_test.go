package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetSystemPromptKeepsSingleLeadingSystemMessage(t *testing.T) {
	s := New("test")
	s.AddMessage(User("hi"))
	s.SetSystemPrompt("first")
	s.AddMessage(Assistant("hello"))
	s.SetSystemPrompt("second")

	if len(s.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(s.Messages))
	}
	if s.Messages[0] != System("second") {
		t.Fatalf("unexpected first message: %+v", s.Messages[0])
	}
	for i, m := range s.Messages[1:] {
		if m.Role == RoleSystem {
			t.Fatalf("extra system message at %d", i+1)
		}
	}

	s.SetSystemPrompt("")
	if s.SystemPrompt() != "" || len(s.Messages) != 2 {
		t.Fatalf("empty prompt should remove the system message: %+v", s.Messages)
	}
}

func TestAddSystemMessageReplacesHead(t *testing.T) {
	s := New("test")
	s.AddMessage(User("hi"))
	s.AddMessage(System("first"))
	s.AddMessage(System("second"))

	if len(s.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %+v", s.Messages)
	}
	if s.Messages[0] != System("second") || s.Messages[1] != User("hi") {
		t.Fatalf("unexpected messages: %+v", s.Messages)
	}
}

func TestReset(t *testing.T) {
	s := New("test")
	s.SetSystemPrompt("sys")
	s.AddMessage(User("a"))
	s.AddMessage(Assistant("b"))

	s.Reset("sys")
	if len(s.Messages) != 1 || s.Messages[0] != System("sys") {
		t.Fatalf("unexpected history after reset: %+v", s.Messages)
	}

	s.Reset("")
	if len(s.Messages) != 0 {
		t.Fatalf("expected empty history, got %+v", s.Messages)
	}
}

func TestRecent(t *testing.T) {
	s := New("test")
	s.SetSystemPrompt("sys")
	for _, c := range []string{"1", "2", "3", "4"} {
		s.AddMessage(User(c))
	}

	testCases := []struct {
		name string
		n    int
		want []string
	}{
		{"None", 0, nil},
		{"Two", 2, []string{"3", "4"}},
		{"MoreThanAvailable", 10, []string{"1", "2", "3", "4"}},
		{"All", -1, []string{"1", "2", "3", "4"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Recent(tc.n)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d messages, got %d", len(tc.want), len(got))
			}
			for i, m := range got {
				if m.Content != tc.want[i] {
					t.Errorf("message %d: expected %q, got %q", i, tc.want[i], m.Content)
				}
			}
		})
	}
}

func TestContextMessagesFiltersSystemRole(t *testing.T) {
	s := New("test")
	s.SetContext([]Message{System("ignored"), User("background")})

	got := s.ContextMessages()
	if len(got) != 1 || got[0] != User("background") {
		t.Fatalf("unexpected context: %+v", got)
	}

	s.ClearContext()
	if len(s.ContextMessages()) != 0 {
		t.Fatal("context should be empty after ClearContext")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "round-trip")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	s.SetSystemPrompt("sys")
	s.AddMessage(User("question"))
	s.SetContext([]Message{User("background")})
	if err := s.Save(); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "round-trip.json")); err != nil {
		t.Fatalf("session file missing: %v", err)
	}

	loaded, err := Load(dir, "round-trip")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if loaded.Name != "round-trip" || len(loaded.Messages) != 2 || len(loaded.Context) != 1 {
		t.Fatalf("unexpected loaded session: %+v", loaded)
	}
	if loaded.Path() != s.Path() {
		t.Errorf("expected path %q, got %q", s.Path(), loaded.Path())
	}
}

func TestLoadRepairsSystemMessages(t *testing.T) {
	dir := t.TempDir()
	raw := `{"name":"broken","messages":[{"role":"user","content":"u"},{"role":"system","content":"a"},{"role":"system","content":"b"}]}`
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(dir, "broken")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if len(s.Messages) != 2 || s.Messages[0] != System("a") || s.Messages[1] != User("u") {
		t.Fatalf("unexpected repaired history: %+v", s.Messages)
	}
}

func TestSaveInMemoryIsNoop(t *testing.T) {
	s := New("memory")
	if err := s.Save(); err != nil {
		t.Fatalf("in-memory save should not fail: %v", err)
	}
	if s.Path() != "" {
		t.Fatalf("expected empty path, got %q", s.Path())
	}
}
