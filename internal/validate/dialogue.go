package validate

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/BTreeMap/MedSynth/internal/models"
)

// Reason is the outcome code of dialogue validation. Every failure has its
// own code so callers can route repairable failures differently.
type Reason string

const (
	ReasonOK                     Reason = "ok"
	ReasonNoDialogueKey          Reason = "no_dialogue_key"
	ReasonDialogueNotList        Reason = "dialogue_not_list"
	ReasonTooShort               Reason = "too_short"
	ReasonTurnMismatchAssistant  Reason = "turn_mismatch_expected_assistant"
	ReasonTurnMismatchUser       Reason = "turn_mismatch_expected_user"
	ReasonAssistantMissingFields Reason = "assist_missing_fields"
	ReasonMultiQuestion          Reason = "multi_question"
	ReasonNoAssistant            Reason = "no_assistant"
	ReasonEndsWithUser           Reason = "ends_with_user"
	ReasonNoSummary              Reason = "no_summary"
)

// MinDialogueTurns is the shortest dialogue accepted.
const MinDialogueTurns = 2

// SummaryIntent must appear, case-insensitively, in the final turn's intent.
const SummaryIntent = "summary"

// OK reports whether the reason is a pass.
func (r Reason) OK() bool { return r == ReasonOK }

// Repairable reports whether appending one summary turn could fix the failure.
func (r Reason) Repairable() bool {
	return r == ReasonNoSummary || r == ReasonEndsWithUser
}

// DecodeConversation reads the dialogue envelope out of extracted JSON.
func DecodeConversation(raw json.RawMessage) (models.Conversation, Reason) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return models.Conversation{}, ReasonNoDialogueKey
	}
	dlg, ok := envelope["dialogue"]
	if !ok {
		return models.Conversation{}, ReasonNoDialogueKey
	}
	if !bytes.HasPrefix(bytes.TrimSpace(dlg), []byte("[")) {
		return models.Conversation{}, ReasonDialogueNotList
	}
	var turns []models.DialogueTurn
	if err := json.Unmarshal(dlg, &turns); err != nil {
		return models.Conversation{}, ReasonDialogueNotList
	}
	return models.Conversation{Dialogue: turns}, ReasonOK
}

// Dialogue checks a conversation: strict assistant/user alternation starting
// with the assistant, required assistant fields, at most one question per
// assistant turn, and a closing assistant summary.
func Dialogue(conv models.Conversation) Reason {
	dlg := conv.Dialogue
	if len(dlg) < MinDialogueTurns {
		return ReasonTooShort
	}

	seenAssistant := false
	for i, turn := range dlg {
		expected := models.RoleAssistant
		if i%2 == 1 {
			expected = models.RoleUser
		}
		if turn.Role != expected {
			if expected == models.RoleAssistant {
				return ReasonTurnMismatchAssistant
			}
			return ReasonTurnMismatchUser
		}
		if turn.Role != models.RoleAssistant {
			continue
		}
		seenAssistant = true
		if !turn.Has(models.AssistantFields) {
			return ReasonAssistantMissingFields
		}
		if IsMultiQuestion(turn.Content) {
			return ReasonMultiQuestion
		}
	}
	if !seenAssistant {
		return ReasonNoAssistant
	}

	last := dlg[len(dlg)-1]
	if last.Role == models.RoleUser {
		return ReasonEndsWithUser
	}
	if !strings.Contains(strings.ToLower(last.Intent), SummaryIntent) {
		return ReasonNoSummary
	}
	return ReasonOK
}

// Check decodes and validates extracted dialogue JSON in one step.
func Check(raw json.RawMessage) (bool, Reason) {
	conv, reason := DecodeConversation(raw)
	if reason.OK() {
		reason = Dialogue(conv)
	}
	return reason.OK(), reason
}

// IsMultiQuestion reports whether content asks more than one question.
func IsMultiQuestion(content string) bool {
	return strings.Count(content, "?") >= 2
}
