package testutil

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestScriptedGenerator(t *testing.T) {
	g := NewScriptedGenerator("first", "second")
	g.Fallback = "done"

	ctx := context.Background()
	for _, want := range []string{"first", "second", "done"} {
		if got := g.Generate(ctx, "p", 0.5); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
	calls := g.Calls()
	if len(calls) != 3 || calls[0].Temperature != 0.5 {
		t.Errorf("unexpected calls %+v", calls)
	}
	if g.Remaining() != 0 {
		t.Errorf("expected exhausted script, got %d remaining", g.Remaining())
	}
}

func TestScriptedGeneratorRespond(t *testing.T) {
	g := NewScriptedGenerator("scripted")
	g.Respond = func(prompt string) (string, bool) {
		if strings.Contains(prompt, "summary") {
			return "routed", true
		}
		return "", false
	}
	ctx := context.Background()
	if got := g.Generate(ctx, "need summary", 0); got != "routed" {
		t.Errorf("expected routed response, got %q", got)
	}
	if got := g.Generate(ctx, "other", 0); got != "scripted" {
		t.Errorf("expected scripted response, got %q", got)
	}
}

func TestWriteFileAndReadLines(t *testing.T) {
	dir := t.TempDir()
	path := WriteFile(t, dir, "sub/cases.jsonl", "{\"a\":1}\n\n  \n{\"b\":2}\n")
	if path != filepath.Join(dir, "sub", "cases.jsonl") {
		t.Errorf("unexpected path %s", path)
	}
	lines := ReadLines(t, path)
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %v", lines)
	}
}

func TestMustJSON(t *testing.T) {
	data := MustMarshalJSON(t, map[string]int{"x": 1})
	var out map[string]int
	MustUnmarshalJSON(t, data, &out)
	if out["x"] != 1 {
		t.Errorf("unexpected result %v", out)
	}
}

func TestFenced(t *testing.T) {
	if got := Fenced(`{"a":1}`); !strings.Contains(got, "```json\n{\"a\":1}\n```") {
		t.Errorf("unexpected fence %q", got)
	}
}
