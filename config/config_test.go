package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m4xw311/parley/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm: openai
model: default
models:
  default: gpt-4o-mini
temperature: 0.2
archetype: technical
function_calling: false
max_function_calls: 3
round_timeout: 30s
personality:
  name: Ada
  prompt: You are Ada.
  traits: [precise, curious]
toolsets:
  - name: default
    tools: [filesystem, "command:execute_command"]
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.LLMClient != "openai" || cfg.Models["default"] != "gpt-4o-mini" {
		t.Errorf("unexpected provider settings: %+v", cfg)
	}
	if cfg.Temperature != 0.2 || cfg.Archetype != "technical" || cfg.MaxFunctionCalls != 3 {
		t.Errorf("unexpected agent settings: temp=%v archetype=%q max=%d", cfg.Temperature, cfg.Archetype, cfg.MaxFunctionCalls)
	}
	if cfg.FunctionCallingEnabled() {
		t.Error("function_calling: false was not applied")
	}
	if cfg.RoundTimeout != 30*time.Second {
		t.Errorf("expected 30s round timeout, got %v", cfg.RoundTimeout)
	}
	if cfg.ExtensionTimeout != time.Minute || cfg.MaxTokens != 4096 || cfg.HistoryWindow != -1 {
		t.Errorf("defaults not kept: ext=%v max_tokens=%d", cfg.ExtensionTimeout, cfg.MaxTokens)
	}
	if cfg.Personality == nil || cfg.Personality.Name != "Ada" || len(cfg.Personality.Traits) != 2 {
		t.Errorf("unexpected personality: %+v", cfg.Personality)
	}

	ts, err := cfg.GetToolset("")
	if err != nil {
		t.Fatalf("GetToolset failed: %v", err)
	}
	if len(ts.Tools) != 2 {
		t.Errorf("unexpected default toolset: %+v", ts)
	}
}

func TestFunctionCallingDefaultsOn(t *testing.T) {
	if !Default().FunctionCallingEnabled() {
		t.Fatal("function calling should default to enabled")
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"TemperatureTooHigh", "temperature: 3"},
		{"NegativeMaxTokens", "max_tokens: -1"},
		{"NegativeMaxCalls", "max_function_calls: -2"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tc.body))
			if !errors.Is(err, errors.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestGetToolsetFallsBackToDefault(t *testing.T) {
	cfg := &Config{Toolsets: []Toolset{{Name: "default", Tools: []string{"filesystem"}}}}
	ts, err := cfg.GetToolset("missing")
	if err != nil {
		t.Fatalf("GetToolset failed: %v", err)
	}
	if ts.Name != "default" {
		t.Fatalf("expected default toolset, got %q", ts.Name)
	}

	empty := &Config{}
	if _, err := empty.GetToolset("anything"); err == nil {
		t.Fatal("expected error when no default toolset exists")
	}
}

func TestDefaultHidesConfigDir(t *testing.T) {
	cfg := Default()
	if len(cfg.FilesystemAccess.Hidden) != 2 || cfg.FilesystemAccess.Hidden[0] != DirName {
		t.Fatalf("unexpected hidden paths: %v", cfg.FilesystemAccess.Hidden)
	}
}
