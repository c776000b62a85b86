// Package validate checks untrusted model output against the structural
// invariants of scenarios and dialogues.
//
// Validators are pure: they never modify their input and return a
// normalized copy or a reason code instead.
package validate

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/normalize"
)

// Error variables for scenario validation.
var (
	ErrNotObject         = errors.New("scenario is not a JSON object")
	ErrMissingField      = errors.New("scenario is missing a required field")
	ErrComplaintTooShort = errors.New("complaint is missing or too short")
	ErrCategoryTooShort  = errors.New("category is too short to trust")
	ErrCategoryMismatch  = errors.New("category does not match the target category")
	ErrUnknownCategory   = errors.New("category is not a target category")
	ErrInvalidRisk       = errors.New("risk is not a recognized level")
	ErrDiagnosisTooShort = errors.New("diagnosis guess is missing or too short")
)

var requiredScenarioFields = []string{"complaint", "risk", "diagnosis_guess"}

// Scenario validates one generated scenario against the category it was
// requested for. A missing category is filled in with target; a present one
// must contain, or be contained in, the target after normalize.Category, so
// abbreviations such as "소화기" for "소화기내과" are accepted and rewritten.
func Scenario(raw map[string]any, target string) (models.Scenario, error) {
	if raw == nil {
		return models.Scenario{}, ErrNotObject
	}
	for _, k := range requiredScenarioFields {
		if _, ok := raw[k]; !ok {
			return models.Scenario{}, ErrMissingField
		}
	}

	complaint, ok := raw["complaint"].(string)
	complaint = strings.TrimSpace(complaint)
	if !ok || utf8.RuneCountInString(complaint) < models.MinComplaintLength {
		return models.Scenario{}, ErrComplaintTooShort
	}

	if cat, ok := raw["category"].(string); ok && strings.TrimSpace(cat) != "" {
		catNorm := normalize.Category(cat)
		if utf8.RuneCountInString(catNorm) < models.MinCategoryLength {
			return models.Scenario{}, ErrCategoryTooShort
		}
		tgtNorm := normalize.Category(target)
		if !strings.Contains(catNorm, tgtNorm) && !strings.Contains(tgtNorm, catNorm) {
			return models.Scenario{}, ErrCategoryMismatch
		}
	}

	risk, ok := normalize.Risk(raw["risk"])
	if !ok {
		return models.Scenario{}, ErrInvalidRisk
	}

	diagnosis, ok := raw["diagnosis_guess"].(string)
	diagnosis = strings.TrimSpace(diagnosis)
	if !ok || utf8.RuneCountInString(diagnosis) < models.MinDiagnosisLength {
		return models.Scenario{}, ErrDiagnosisTooShort
	}

	return models.Scenario{
		Category:       target,
		Complaint:      complaint,
		Risk:           risk,
		DiagnosisGuess: truncateRunes(diagnosis, models.MaxDiagnosisLength),
	}, nil
}

// LoadedScenario re-validates a scenario read back from an existing pool.
// Its category must already be exactly one of categories.
func LoadedScenario(raw map[string]any, categories []string) (models.Scenario, error) {
	if raw == nil {
		return models.Scenario{}, ErrNotObject
	}
	cat, _ := raw["category"].(string)
	if !models.IsTargetCategory(categories, cat) {
		return models.Scenario{}, ErrUnknownCategory
	}
	return Scenario(raw, cat)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
