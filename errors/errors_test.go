package errors

import (
	"strings"
	"testing"
)

func TestNewCarriesCallSite(t *testing.T) {
	err := New("provider %q failed", "openai")
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Fatalf("expected call site prefix, got %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), `provider "openai" failed`) {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWrapfKeepsSentinel(t *testing.T) {
	if Wrapf(nil, "ignored") != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrNotReady, "chat")
	if !Is(err, ErrNotReady) {
		t.Fatalf("expected wrapped error to match ErrNotReady: %v", err)
	}
	if Is(err, ErrProvider) {
		t.Fatal("wrapped ErrNotReady must not match ErrProvider")
	}
	if !strings.Contains(err.Error(), "chat: agent not ready") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestMessageStripsCallSites(t *testing.T) {
	inner := New("quota exceeded")
	err := Wrapf(inner, "all fallback providers failed")
	if got := Message(err); got != "all fallback providers failed: quota exceeded" {
		t.Fatalf("unexpected message: %q", got)
	}
	if Message(nil) != "" {
		t.Fatal("Message(nil) should be empty")
	}
	if got := StripLocation("see [docs] here"); got != "see [docs] here" {
		t.Fatalf("non-location brackets must survive: %q", got)
	}
}

func TestJoin(t *testing.T) {
	err := Join(nil, ErrMalformedCall, nil, ErrFunctionNotFound)
	if !Is(err, ErrMalformedCall) || !Is(err, ErrFunctionNotFound) {
		t.Fatalf("joined error lost a member: %v", err)
	}
	if Join(nil, nil) != nil {
		t.Fatal("joining only nils should return nil")
	}
}
