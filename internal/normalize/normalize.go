// Package normalize canonicalizes free text produced by the model so that
// records can be deduplicated and matched against the target categories.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/BTreeMap/MedSynth/internal/models"
)

// Hangul syllable block kept by Key regardless of Unicode category tables.
const (
	hangulFirst = '가'
	hangulLast  = '힣'
)

// Key returns the dedup identity of a complaint: lowercased, stripped of
// everything except letters, digits, underscores and Hangul syllables, and
// truncated to models.MaxKeyLength runes. Scenario and case pipelines both
// key on this value.
func Key(text string) string {
	if text == "" {
		return ""
	}
	t := cases.Lower(language.Und).String(norm.NFC.String(text))

	var b strings.Builder
	b.Grow(len(t))
	n := 0
	for _, r := range t {
		if !keepKeyRune(r) {
			continue
		}
		b.WriteRune(r)
		n++
		if n == models.MaxKeyLength {
			break
		}
	}
	return b.String()
}

func keepKeyRune(r rune) bool {
	if r >= hangulFirst && r <= hangulLast {
		return true
	}
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// categoryStrip holds the punctuation Category removes in addition to whitespace.
const categoryStrip = "(){}-_/"

// Category prepares a department name for fuzzy containment matching.
// Case is preserved; the result is never used as a dedup key.
func Category(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(categoryStrip, r) {
			return -1
		}
		return r
	}, strings.TrimSpace(text))
}

// Risk folds a raw risk label to a canonical level. Non-string input and
// labels outside the known aliases report false.
func Risk(raw any) (models.RiskLevel, bool) {
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	r := models.RiskLevel(strings.TrimSpace(strings.ToLower(s)))
	switch r {
	case "moderate", "mid":
		r = models.RiskMedium
	case "emergency", "critical":
		r = models.RiskHigh
	}
	if !models.IsValidRiskLevel(r) {
		return "", false
	}
	return r, true
}
