// Package testutil provides common test helpers: a scripted text generator
// standing in for the model endpoints, and file and JSON helpers.
package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// Call records one Generate invocation.
type Call struct {
	Prompt      string
	Temperature float64
}

// ScriptedGenerator returns canned responses in order. Once the script is
// exhausted it returns Fallback. When Respond is set it is consulted first
// and the script is used only if it returns ok == false.
type ScriptedGenerator struct {
	mu       sync.Mutex
	script   []string
	calls    []Call
	Fallback string
	Respond  func(prompt string) (string, bool)
}

// NewScriptedGenerator returns a generator replaying responses in order.
func NewScriptedGenerator(responses ...string) *ScriptedGenerator {
	return &ScriptedGenerator{script: append([]string(nil), responses...)}
}

// Push appends responses to the script.
func (g *ScriptedGenerator) Push(responses ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, responses...)
}

// Generate implements the generator interfaces used by the pipelines.
func (g *ScriptedGenerator) Generate(_ context.Context, prompt string, temperature float64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Prompt: prompt, Temperature: temperature})
	if g.Respond != nil {
		if out, ok := g.Respond(prompt); ok {
			return out
		}
	}
	if len(g.script) == 0 {
		return g.Fallback
	}
	out := g.script[0]
	g.script = g.script[1:]
	return out
}

// Calls returns a copy of the recorded calls.
func (g *ScriptedGenerator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// Remaining returns the number of unconsumed scripted responses.
func (g *ScriptedGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.script)
}

// Fenced wraps JSON text in a ```json fence with surrounding prose, the way
// models usually answer.
func Fenced(jsonText string) string {
	return "다음과 같습니다.\n```json\n" + jsonText + "\n```\n"
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// WriteFile writes content to name inside dir and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// ReadLines returns the non-blank lines of the file at path.
func ReadLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return lines
}
