// Package repair fixes model dialogues that fail validation in ways that do
// not need a full regeneration.
package repair

import (
	"strings"

	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/validate"
)

// SanitizeSingleQuestion cuts content right after its first question mark
// when it asks more than one question.
func SanitizeSingleQuestion(content string) string {
	if !validate.IsMultiQuestion(content) {
		return content
	}
	return content[:strings.IndexByte(content, '?')+1]
}

// SanitizeConversation returns a copy of conv with every assistant turn
// trimmed to a single question. Turns without content are left alone.
func SanitizeConversation(conv models.Conversation) models.Conversation {
	out := conv.Clone()
	for i := range out.Dialogue {
		turn := &out.Dialogue[i]
		if turn.Role != models.RoleAssistant || !turn.Has(models.FieldContent) {
			continue
		}
		if s := SanitizeSingleQuestion(turn.Content); s != turn.Content {
			turn.SetContent(s)
		}
	}
	return out
}
