package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewUsesJSONForNonTerminalWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{})
	log.Info("hello", "key", "value")

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected JSON output for a non-terminal writer, got %q", out)
	}
}

func TestNewRespectsVerbose(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Verbose: true})
	log.Debug("debug message")

	if !strings.Contains(buf.String(), "debug message") {
		t.Error("expected debug message to be logged when Verbose is set")
	}
}

func TestNewDropsDebugWithoutVerbose(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{})
	log.Debug("debug message")

	if buf.Len() != 0 {
		t.Errorf("expected no output for debug-level log without Verbose, got %q", buf.String())
	}
}

func TestNewForceJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{ForceJSON: true})
	log.Info("hi")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON line: %v", err)
	}
	if entry["msg"] != "hi" {
		t.Errorf("expected msg=hi, got %v", entry["msg"])
	}
}
