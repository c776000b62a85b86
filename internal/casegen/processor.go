package casegen

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"

	"github.com/BTreeMap/MedSynth/internal/extract"
	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/repair"
	"github.com/BTreeMap/MedSynth/internal/validate"
)

// Outcome keys reported by Process and counted by the generator.
const (
	OutcomeOK             = "ok"
	OutcomeProfileStruct  = "profile_struct_error"
	OutcomeDialoguePrefix = "dialogue_"
)

// Default sampling temperatures.
const (
	DefaultProfileTemperature  = 0.70
	DefaultDialogueTemperature = 0.55
)

// TextGenerator produces model text for a prompt, or "" on failure.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, temperature float64) string
}

// Processor expands one seed into a case with at most three model calls:
// profile, dialogue and, when the dialogue only lacks its closing summary,
// one summary repair.
type Processor struct {
	gen          TextGenerator
	summarizer   *repair.Summarizer
	profileTemp  float64
	dialogueTemp float64
	rng          *rand.Rand
}

// NewProcessor returns a processor using gen for every call.
func NewProcessor(gen TextGenerator, profileTemp, dialogueTemp, repairTemp float64, rng *rand.Rand) *Processor {
	return &Processor{
		gen:          gen,
		summarizer:   repair.NewSummarizer(gen, repairTemp),
		profileTemp:  profileTemp,
		dialogueTemp: dialogueTemp,
		rng:          rng,
	}
}

// Process builds case caseID from seed. The outcome is OutcomeOK on success,
// otherwise OutcomeProfileStruct or OutcomeDialoguePrefix plus the
// validation reason.
func (p *Processor) Process(ctx context.Context, caseID int, seed models.Scenario) (models.Case, string) {
	profile, profileJSON, ok := p.profile(ctx, seed)
	if !ok {
		return models.Case{}, OutcomeProfileStruct
	}

	conv, reason := p.dialogue(ctx, profileJSON)
	if reason.Repairable() {
		slog.Debug("Processor.Process: appending summary", "case_id", caseID, "reason", reason)
		repaired, err := p.summarizer.AppendSummary(ctx, profileJSON, conv)
		if err != nil {
			slog.Debug("Processor.Process: summary repair failed", "case_id", caseID, "error", err)
		}
		conv = repaired
		reason = validate.Dialogue(conv)
	}
	if !reason.OK() {
		return models.Case{}, OutcomeDialoguePrefix + string(reason)
	}

	return models.Case{
		CaseID:         caseID,
		SeedInfo:       seed,
		PatientProfile: profile,
		Conversation:   conv,
	}, OutcomeOK
}

func (p *Processor) profile(ctx context.Context, seed models.Scenario) (models.PatientProfile, string, bool) {
	raw := p.gen.Generate(ctx, BuildProfilePrompt(seed), p.profileTemp)
	obj, err := extract.Object(raw)
	if err != nil {
		return models.PatientProfile{}, "", false
	}
	profile, err := models.DecodePatientProfile(obj)
	if err != nil {
		slog.Debug("Processor.profile: bad structure", "error", err)
		return models.PatientProfile{}, "", false
	}
	text, err := indentJSON(profile)
	if err != nil {
		return models.PatientProfile{}, "", false
	}
	return profile, text, true
}

// dialogue generates, decodes, sanitizes and validates a dialogue.
func (p *Processor) dialogue(ctx context.Context, profileJSON string) (models.Conversation, validate.Reason) {
	raw := p.gen.Generate(ctx, BuildDialoguePrompt(profileJSON, PickStyles(p.rng)), p.dialogueTemp)
	obj, err := extract.Object(raw)
	if err != nil {
		return models.Conversation{}, validate.ReasonNoDialogueKey
	}
	conv, reason := validate.DecodeConversation(obj)
	if !reason.OK() {
		return conv, reason
	}
	conv = repair.SanitizeConversation(conv)
	return conv, validate.Dialogue(conv)
}

func indentJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
