package seedgen

import (
	"fmt"
	"math/rand/v2"
)

// PickMode selects how the next target category is chosen.
type PickMode string

const (
	// PickRandom chooses uniformly.
	PickRandom PickMode = "random"
	// PickUnderfill chooses the category with the fewest scenarios.
	PickUnderfill PickMode = "underfill"
	// PickMix underfills with probability UnderfillProb and picks randomly otherwise.
	PickMix PickMode = "mix"
)

// DefaultUnderfillProb is the underfill probability of PickMix.
const DefaultUnderfillProb = 0.8

// HighRiskFloor is the high-risk share below which batches must lean high.
const HighRiskFloor = 0.3

// Risk instructions embedded in the batch prompt.
const (
	RiskInstructionMoreHigh = "반드시 'High Risk(응급/중증)' 케이스를 3개 이상 포함할 것."
	RiskInstructionBalanced = "Low, Medium, High Risk를 골고루 섞어서 구성할 것."
)

// ParsePickMode validates a mode name.
func ParsePickMode(s string) (PickMode, error) {
	switch m := PickMode(s); m {
	case PickRandom, PickUnderfill, PickMix:
		return m, nil
	default:
		return "", fmt.Errorf("unknown pick mode %q (want random, underfill or mix)", s)
	}
}

// Picker chooses target categories.
type Picker struct {
	Mode          PickMode
	UnderfillProb float64
	rng           *rand.Rand
}

// NewPicker returns a picker drawing from rng.
func NewPicker(mode PickMode, underfillProb float64, rng *rand.Rand) *Picker {
	return &Picker{Mode: mode, UnderfillProb: underfillProb, rng: rng}
}

// Pick returns one of categories, which must not be empty. count reports
// how many scenarios a category already has.
func (p *Picker) Pick(categories []string, count func(string) int) string {
	switch p.Mode {
	case PickRandom:
		return categories[p.rng.IntN(len(categories))]
	case PickUnderfill:
		return underfilled(categories, count)
	default:
		if p.rng.Float64() < p.UnderfillProb {
			return underfilled(categories, count)
		}
		return categories[p.rng.IntN(len(categories))]
	}
}

// underfilled returns the first category with the smallest count.
func underfilled(categories []string, count func(string) int) string {
	best := categories[0]
	bestN := count(best)
	for _, c := range categories[1:] {
		if n := count(c); n < bestN {
			best, bestN = c, n
		}
	}
	return best
}

// RiskInstruction returns the risk clause for the next prompt given the
// current share of high-risk scenarios.
func RiskInstruction(highRatio float64) string {
	if highRatio < HighRiskFloor {
		return RiskInstructionMoreHigh
	}
	return RiskInstructionBalanced
}
