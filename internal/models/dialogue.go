package models

import (
	"bytes"
	"encoding/json"
)

// Role identifies the speaker of a dialogue turn.
type Role string

const (
	// RoleAssistant is the interviewing clinician.
	RoleAssistant Role = "assistant"
	// RoleUser is the patient.
	RoleUser Role = "user"
)

// TurnField is a bit flag naming one key of a dialogue turn.
type TurnField uint8

const (
	FieldRole TurnField = 1 << iota
	FieldThought
	FieldIntent
	FieldContent
)

// AssistantFields are the keys every assistant turn must carry.
const AssistantFields = FieldThought | FieldIntent | FieldContent

// DialogueTurn is one message of a dialogue. Assistant turns carry thought,
// intent and content; user turns carry content only. The turn remembers which
// keys were present in the decoded JSON so that a missing key can be told
// apart from an empty value.
type DialogueTurn struct {
	Role    Role
	Thought string
	Intent  string
	Content string

	present TurnField
}

// NewAssistantTurn builds a fully populated assistant turn.
func NewAssistantTurn(thought, intent, content string) DialogueTurn {
	return DialogueTurn{
		Role:    RoleAssistant,
		Thought: thought,
		Intent:  intent,
		Content: content,
		present: FieldRole | AssistantFields,
	}
}

// NewUserTurn builds a user turn.
func NewUserTurn(content string) DialogueTurn {
	return DialogueTurn{Role: RoleUser, Content: content, present: FieldRole | FieldContent}
}

// Has reports whether every field in mask was present.
func (t DialogueTurn) Has(mask TurnField) bool {
	return t.present&mask == mask
}

// SetContent replaces the content and marks it present.
func (t *DialogueTurn) SetContent(content string) {
	t.Content = content
	t.present |= FieldContent
}

// UnmarshalJSON decodes a turn object. Elements that are not JSON objects
// decode to a turn with no fields rather than failing the whole dialogue.
func (t *DialogueTurn) UnmarshalJSON(data []byte) error {
	*t = DialogueTurn{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	if raw, ok := fields["role"]; ok {
		t.Role = Role(rawText(raw))
		t.present |= FieldRole
	}
	if raw, ok := fields["thought"]; ok {
		t.Thought = rawText(raw)
		t.present |= FieldThought
	}
	if raw, ok := fields["intent"]; ok {
		t.Intent = rawText(raw)
		t.present |= FieldIntent
	}
	if raw, ok := fields["content"]; ok {
		t.Content = rawText(raw)
		t.present |= FieldContent
	}
	return nil
}

// MarshalJSON writes the present fields in role, thought, intent, content order.
func (t DialogueTurn) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key, value string) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}
	pairs := []struct {
		field TurnField
		key   string
		value string
	}{
		{FieldRole, "role", string(t.Role)},
		{FieldThought, "thought", t.Thought},
		{FieldIntent, "intent", t.Intent},
		{FieldContent, "content", t.Content},
	}
	for _, p := range pairs {
		if !t.Has(p.field) {
			continue
		}
		if err := write(p.key, p.value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// rawText returns the string value of a JSON string, or the raw JSON text
// otherwise. null stays "null".
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// Conversation wraps the ordered dialogue of a case.
type Conversation struct {
	Dialogue []DialogueTurn `json:"dialogue"`
}

// Clone returns a copy whose dialogue slice can be modified independently.
func (c Conversation) Clone() Conversation {
	return Conversation{Dialogue: append([]DialogueTurn(nil), c.Dialogue...)}
}
