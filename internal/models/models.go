// Package models defines the core data structures for MedSynth.
//
// It includes scenario seeds, patient profiles, dialogue turns and the cases
// that bundle them, which are shared across the seed and case pipelines.
package models

import (
	"errors"
	"slices"
)

// RiskLevel is the canonical triage level of a scenario.
type RiskLevel string

const (
	// RiskLow marks a scenario that can wait for a routine visit.
	RiskLow RiskLevel = "low"
	// RiskMedium marks a scenario that needs timely evaluation.
	RiskMedium RiskLevel = "medium"
	// RiskHigh marks an emergency or severe scenario.
	RiskHigh RiskLevel = "high"
)

// RiskLevels lists the canonical risk levels in ascending order.
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// IsValidRiskLevel checks if the given risk level is one of the canonical values.
func IsValidRiskLevel(r RiskLevel) bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// Validation constants shared by the validators.
const (
	// MinComplaintLength is the minimum trimmed rune length of a complaint.
	MinComplaintLength = 4
	// MinCategoryLength is the minimum normalized rune length of a model-supplied category.
	MinCategoryLength = 2
	// MinDiagnosisLength is the minimum trimmed rune length of a diagnosis guess.
	MinDiagnosisLength = 2
	// MaxDiagnosisLength is the rune length a diagnosis guess is truncated to.
	MaxDiagnosisLength = 60
	// MaxKeyLength is the rune length a dedup key is truncated to.
	MaxKeyLength = 120
)

// Error variables for better error handling and testability
var (
	ErrProfileMissing    = errors.New("patient profile is missing the profile object")
	ErrSymptomsMissing   = errors.New("patient profile is missing the symptoms object")
	ErrEmptyCategories   = errors.New("category list is empty")
	ErrScenarioNotObject = errors.New("scenario is not a JSON object")
)

// TargetCategories is the fixed department list scenarios are balanced across.
var TargetCategories = []string{
	"호흡기내과", "소화기내과", "순환기내과", "신경과", "정형외과",
	"이비인후과", "피부과", "안과", "비뇨의학과", "산부인과",
	"정신건강의학과", "응급의학과", "내분비내과", "류마티스내과",
	"신장내과", "감염내과", "알레르기내과", "외과", "소아청소년과",
	"신경외과", "흉부외과", "재활의학과", "마취통증의학과",
}

// IsTargetCategory reports whether category is exactly one of categories.
func IsTargetCategory(categories []string, category string) bool {
	return slices.Contains(categories, category)
}

// Scenario is a categorized chief-complaint seed that drives case synthesis.
// A decoded scenario keeps unknown keys, and known keys holding non-string
// values, in Extra so it encodes back to the object it was read from.
type Scenario struct {
	Category       string         `json:"category"`
	Complaint      string         `json:"complaint"`
	Risk           RiskLevel      `json:"risk"`
	DiagnosisGuess string         `json:"diagnosis_guess"`
	Extra          map[string]any `json:"-"`

	absent scenarioField
}

// Case is one synthesized patient profile plus its validated dialogue and originating scenario.
type Case struct {
	CaseID         int            `json:"case_id"`
	SeedInfo       Scenario       `json:"seed_info"`
	PatientProfile PatientProfile `json:"patient_profile"`
	Conversation   Conversation   `json:"conversation"`
}
