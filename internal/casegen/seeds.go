// Package casegen turns seed scenarios into full cases, a patient profile
// plus a validated interview dialogue, and appends them to a resumable log.
package casegen

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/normalize"
	"github.com/BTreeMap/MedSynth/internal/util"
)

// ErrSeedsNotList is returned when the seed file is not a JSON list.
var ErrSeedsNotList = errors.New("seed file is not a JSON list")

// Seed is one scenario to expand, with its precomputed dedup key.
type Seed struct {
	Scenario models.Scenario
	Key      string
}

// LoadSeeds reads a scenario list, keeps the first seed for every
// non-empty complaint key and shuffles the result with rng.
func LoadSeeds(path string, rng *rand.Rand) ([]Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var probe any
		if json.Unmarshal(data, &probe) == nil {
			return nil, fmt.Errorf("%s: %w", path, ErrSeedsNotList)
		}
		return nil, fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(raw))
	seeds := make([]Seed, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		s, ok := decodeSeed(r)
		if !ok {
			skipped++
			continue
		}
		key := normalize.Key(s.Complaint)
		if key == "" {
			skipped++
			continue
		}
		if _, dup := seen[key]; dup {
			skipped++
			continue
		}
		seen[key] = struct{}{}
		seeds = append(seeds, Seed{Scenario: s, Key: key})
	}
	util.Shuffle(rng, seeds)
	slog.Info("LoadSeeds: loaded unique seeds", "path", path, "unique", len(seeds), "skipped", skipped)
	return seeds, nil
}

// decodeSeed reads a seed object. A complaint string is required; every
// other key is carried through unchanged.
func decodeSeed(raw json.RawMessage) (models.Scenario, bool) {
	var s models.Scenario
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.Scenario{}, false
	}
	if _, nonString := s.Extra["complaint"]; nonString || s.Complaint == "" {
		return models.Scenario{}, false
	}
	return s, true
}
