package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestIsValidRiskLevel(t *testing.T) {
	for _, r := range RiskLevels {
		if !IsValidRiskLevel(r) {
			t.Errorf("expected %q to be valid", r)
		}
	}
	if IsValidRiskLevel("critical") {
		t.Error("expected non-canonical risk level to be invalid")
	}
}

func TestIsTargetCategory(t *testing.T) {
	if !IsTargetCategory(TargetCategories, "소화기내과") {
		t.Error("expected 소화기내과 to be a target category")
	}
	if IsTargetCategory(TargetCategories, "소화기") {
		t.Error("abbreviations must not match exactly")
	}
}

func TestDialogueTurnPresence(t *testing.T) {
	var turns []DialogueTurn
	data := `[{"role":"assistant","intent":"onset","content":""},{"role":"user","content":"배가 아파요"},"stray"]`
	if err := json.Unmarshal([]byte(data), &turns); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Has(AssistantFields) {
		t.Error("assistant turn without thought must not report all assistant fields")
	}
	if !turns[0].Has(FieldContent) {
		t.Error("empty content must still count as present")
	}
	if turns[1].Role != RoleUser || turns[1].Content != "배가 아파요" {
		t.Errorf("unexpected user turn: %+v", turns[1])
	}
	if turns[2].Has(FieldRole) || turns[2].Role != "" {
		t.Errorf("non-object element should decode to an empty turn, got %+v", turns[2])
	}
}

func TestDialogueTurnNonStringValues(t *testing.T) {
	var turn DialogueTurn
	if err := json.Unmarshal([]byte(`{"role":"assistant","thought":null,"intent":3,"content":"ok"}`), &turn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.Intent != "3" || turn.Thought != "null" {
		t.Errorf("expected raw text for non-string values, got intent=%q thought=%q", turn.Intent, turn.Thought)
	}
}

func TestDialogueTurnNullRoundTrip(t *testing.T) {
	var turn DialogueTurn
	if err := json.Unmarshal([]byte(`{"role":"assistant","thought": null ,"intent":"summary","content":"ok"}`), &turn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !turn.Has(FieldThought) || turn.Thought != "null" {
		t.Fatalf("expected present thought with raw text null, got %+v", turn)
	}
	out, err := json.Marshal(turn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"role":"assistant","thought":"null","intent":"summary","content":"ok"}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}

func TestDialogueTurnMarshalOrder(t *testing.T) {
	out, err := json.Marshal(NewAssistantTurn("확인", "summary", "정리해 드릴게요."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"role":"assistant","thought":"확인","intent":"summary","content":"정리해 드릴게요."}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}

	out, err = json.Marshal(NewUserTurn("네"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"role":"user","content":"네"}` {
		t.Errorf("unexpected user turn encoding: %s", out)
	}
}

func TestConversationClone(t *testing.T) {
	c := Conversation{Dialogue: []DialogueTurn{NewAssistantTurn("a", "onset", "언제부터요?")}}
	clone := c.Clone()
	clone.Dialogue[0].SetContent("changed")
	clone.Dialogue = append(clone.Dialogue, NewUserTurn("어제요"))
	if c.Dialogue[0].Content != "언제부터요?" || len(c.Dialogue) != 1 {
		t.Error("clone must not share the dialogue backing array")
	}
}

func TestDecodePatientProfile(t *testing.T) {
	raw := `{"profile":{"age":45,"gender":"M"},"symptoms":{"chief_complaint":"두통","severity":5},"note":"extra"}`
	p, err := DecodePatientProfile(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Profile["gender"] != "M" || p.Symptoms["chief_complaint"] != "두통" {
		t.Errorf("unexpected profile: %+v", p)
	}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"note":"extra"`) {
		t.Errorf("extra keys should survive re-encoding: %s", out)
	}
}

func TestDecodePatientProfileMissingSections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"no profile", `{"symptoms":{}}`, ErrProfileMissing},
		{"null profile", `{"profile":null,"symptoms":{}}`, ErrProfileMissing},
		{"no symptoms", `{"profile":{}}`, ErrSymptomsMissing},
		{"profile not object", `{"profile":"x","symptoms":{}}`, ErrProfileMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePatientProfile(json.RawMessage(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestScenarioPlainEncoding(t *testing.T) {
	out, err := json.Marshal(Scenario{Category: "외과", Complaint: "배가 아파요", Risk: RiskHigh, DiagnosisGuess: "충수염"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"category":"외과","complaint":"배가 아파요","risk":"high","diagnosis_guess":"충수염"}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}

func TestScenarioKeepsUnknownAndNonStringValues(t *testing.T) {
	in := `{"category": 7, "complaint": "배가 아파요", "risk": ["high"], "diagnosis_guess": "충수염", "source": "er", "age": 34}`
	var s Scenario
	if err := json.Unmarshal([]byte(in), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Complaint != "배가 아파요" || s.Category != "" || s.Risk != "" {
		t.Errorf("unexpected typed fields %+v", s)
	}
	if s.Extra["source"] != "er" || s.Extra["category"] != 7.0 {
		t.Errorf("expected remainder kept, got %v", s.Extra)
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got, want map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = json.Unmarshal([]byte(in), &want)
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %s", len(want), out)
	}
	for k, v := range want {
		a, _ := json.Marshal(v)
		b, _ := json.Marshal(got[k])
		if string(a) != string(b) {
			t.Errorf("key %s: got %s, want %s", k, b, a)
		}
	}
}

func TestScenarioMissingKeysStayMissing(t *testing.T) {
	var s Scenario
	if err := json.Unmarshal([]byte(`{"complaint": "기침이 나요"}`), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"complaint":"기침이 나요"}` {
		t.Errorf("got %s", out)
	}
}

func TestScenarioRejectsNonObject(t *testing.T) {
	for _, in := range []string{`"text"`, `[1]`, `42`} {
		var s Scenario
		if err := json.Unmarshal([]byte(in), &s); !errors.Is(err, ErrScenarioNotObject) {
			t.Errorf("%s: expected ErrScenarioNotObject, got %v", in, err)
		}
	}
}
