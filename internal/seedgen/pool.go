// Package seedgen accumulates a balanced, deduplicated pool of chief
// complaint scenarios by repeatedly prompting a model for small batches.
package seedgen

import (
	"errors"

	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/normalize"
)

// Error variables for pool admission.
var (
	ErrEmptyKey  = errors.New("complaint normalizes to an empty key")
	ErrDuplicate = errors.New("complaint is already in the pool")
)

// Pool is the ordered set of accepted scenarios together with the counters
// used for balancing. Every item has a distinct non-empty key.
type Pool struct {
	items      []models.Scenario
	keys       map[string]struct{}
	risks      map[models.RiskLevel]int
	categories map[string]int
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		keys:       make(map[string]struct{}),
		risks:      make(map[models.RiskLevel]int),
		categories: make(map[string]int),
	}
}

// Add admits s unless its key is empty or already present.
func (p *Pool) Add(s models.Scenario) error {
	key := normalize.Key(s.Complaint)
	if key == "" {
		return ErrEmptyKey
	}
	if _, ok := p.keys[key]; ok {
		return ErrDuplicate
	}
	p.keys[key] = struct{}{}
	p.items = append(p.items, s)
	p.risks[s.Risk]++
	p.categories[s.Category]++
	return nil
}

// Len returns the number of scenarios.
func (p *Pool) Len() int { return len(p.items) }

// Items returns a copy of the scenarios in insertion order.
func (p *Pool) Items() []models.Scenario {
	return append(make([]models.Scenario, 0, len(p.items)), p.items...)
}

// CategoryCount returns the number of scenarios in category.
func (p *Pool) CategoryCount(category string) int { return p.categories[category] }

// RiskCount returns the number of scenarios at level.
func (p *Pool) RiskCount(level models.RiskLevel) int { return p.risks[level] }

// HighRatio is the share of high-risk scenarios, or 0 for an empty pool.
func (p *Pool) HighRatio() float64 {
	return float64(p.risks[models.RiskHigh]) / float64(max(len(p.items), 1))
}

// RiskDistribution returns the counts for every risk level.
func (p *Pool) RiskDistribution() map[models.RiskLevel]int {
	out := make(map[models.RiskLevel]int, len(models.RiskLevels))
	for _, r := range models.RiskLevels {
		out[r] = p.risks[r]
	}
	return out
}

// CategoryDistribution returns the counts per category seen in the pool.
func (p *Pool) CategoryDistribution() map[string]int {
	out := make(map[string]int, len(p.categories))
	for c, n := range p.categories {
		out[c] = n
	}
	return out
}
