package repair

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/MedSynth/internal/extract"
	"github.com/BTreeMap/MedSynth/internal/models"
)

// DefaultTemperature is the sampling temperature for the summary call.
const DefaultTemperature = 0.30

// Error variables for summary repair.
var (
	ErrEmptyResponse     = errors.New("summary model call returned nothing")
	ErrUnparseable       = errors.New("summary turn could not be parsed")
	ErrMissingTurnFields = errors.New("summary turn lacks role or content")
)

// Generator produces text for a prompt. It returns "" when generation fails.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) string
}

const appendSummaryPrompt = `아래 대화의 마지막에 의사(Assistant)의 '요약 및 권고(summary)' 턴을 추가하여 JSON을 완성하라.

[환자 프로필]
{profile_json}

[현재 대화]
{dialogue_json}

[규칙]
1. 요약 내용은 대화에서 환자가 실제로 언급한 내용에 기반해야 한다.
2. 출력은 JSON 객체 하나만.

[출력 포맷(JSON)]
{
  "role": "assistant",
  "thought": "종합 소견 및 향후 계획 안내",
  "intent": "summary",
  "content": "..."
}`

// Summarizer asks the model for one closing summary turn.
type Summarizer struct {
	gen         Generator
	temperature float64
}

// NewSummarizer returns a summarizer using gen at the given temperature.
func NewSummarizer(gen Generator, temperature float64) *Summarizer {
	return &Summarizer{gen: gen, temperature: temperature}
}

// AppendSummary makes a single model call and appends the returned turn to a
// copy of conv. On any failure it returns conv unchanged together with the
// reason; the caller re-validates either way.
func (s *Summarizer) AppendSummary(ctx context.Context, profileJSON string, conv models.Conversation) (models.Conversation, error) {
	prompt, err := BuildSummaryPrompt(profileJSON, conv)
	if err != nil {
		return conv, err
	}

	raw := s.gen.Generate(ctx, prompt, s.temperature)
	if strings.TrimSpace(raw) == "" {
		return conv, ErrEmptyResponse
	}

	obj, err := extract.FlatObject(raw)
	if err != nil {
		slog.Debug("Summarizer.AppendSummary: no summary object", "error", err)
		return conv, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	var turn models.DialogueTurn
	if err := json.Unmarshal(obj, &turn); err != nil {
		return conv, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	if !turn.Has(models.FieldRole | models.FieldContent) {
		return conv, ErrMissingTurnFields
	}

	out := conv.Clone()
	out.Dialogue = append(out.Dialogue, turn)
	return out, nil
}

// BuildSummaryPrompt fills the summary template with the profile and the
// current dialogue.
func BuildSummaryPrompt(profileJSON string, conv models.Conversation) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	turns := conv.Dialogue
	if turns == nil {
		turns = []models.DialogueTurn{}
	}
	if err := enc.Encode(turns); err != nil {
		return "", fmt.Errorf("failed to encode dialogue: %w", err)
	}
	r := strings.NewReplacer(
		"{profile_json}", profileJSON,
		"{dialogue_json}", strings.TrimSpace(buf.String()),
	)
	return r.Replace(appendSummaryPrompt), nil
}
