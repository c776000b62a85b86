package seedgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/MedSynth/internal/extract"
	"github.com/BTreeMap/MedSynth/internal/models"
	"github.com/BTreeMap/MedSynth/internal/store"
	"github.com/BTreeMap/MedSynth/internal/util"
	"github.com/BTreeMap/MedSynth/internal/validate"
)

// Failure statistic keys.
const (
	StatEmptyResponse   = "empty_response"
	StatParseError      = "parse_error"
	StatValidationError = "validation_error"
	StatEmptyKey        = "empty_key"
	StatDuplicate       = "duplicate"
)

// Default configuration constants
const (
	DefaultTarget         = 5000
	DefaultTemperature    = 0.85
	DefaultAutosaveEvery  = 100
	DefaultDelay          = 500 * time.Millisecond
	DefaultCooldown       = 5 * time.Second
	DefaultCooldownAfter  = 5
	DefaultOutputFileName = "scenarios.json"
)

// TextGenerator produces model text for a prompt, or "" on failure.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, temperature float64) string
}

// Opts holds configuration for a seed generation run.
type Opts struct {
	OutputPath    string
	Target        int
	Categories    []string
	Mode          PickMode
	UnderfillProb float64
	Temperature   float64
	AutosaveEvery int
	Delay         time.Duration
	Cooldown      time.Duration
	CooldownAfter int
	Rand          *rand.Rand
}

// Option configures a Generator.
type Option func(*Opts)

// WithOutputPath sets the scenario pool file.
func WithOutputPath(path string) Option { return func(o *Opts) { o.OutputPath = path } }

// WithTarget sets the pool size to reach.
func WithTarget(n int) Option { return func(o *Opts) { o.Target = n } }

// WithCategories replaces the target category list.
func WithCategories(c []string) Option { return func(o *Opts) { o.Categories = c } }

// WithPickMode sets the category pick strategy.
func WithPickMode(m PickMode, underfillProb float64) Option {
	return func(o *Opts) { o.Mode, o.UnderfillProb = m, underfillProb }
}

// WithTemperature sets the batch sampling temperature.
func WithTemperature(t float64) Option { return func(o *Opts) { o.Temperature = t } }

// WithAutosaveEvery sets the checkpoint interval in pool items; 0 disables checkpoints.
func WithAutosaveEvery(n int) Option { return func(o *Opts) { o.AutosaveEvery = n } }

// WithPacing sets the per-iteration delay and the cooldown taken after
// `after` consecutive failed iterations.
func WithPacing(delay, cooldown time.Duration, after int) Option {
	return func(o *Opts) { o.Delay, o.Cooldown, o.CooldownAfter = delay, cooldown, after }
}

// WithRand sets the random source used for category picks.
func WithRand(r *rand.Rand) Option { return func(o *Opts) { o.Rand = r } }

// Result summarizes a finished run.
type Result struct {
	Loaded   int
	Added    int
	Total    int
	Requests int
	Stats    map[string]int
	Risks    map[models.RiskLevel]int
}

// Generator runs the seed generation loop.
type Generator struct {
	gen    TextGenerator
	opts   Opts
	pool   *Pool
	picker *Picker
	stats  *util.Counter
	sleep  func(context.Context, time.Duration)
}

// NewGenerator builds a generator around gen.
func NewGenerator(gen TextGenerator, opts ...Option) (*Generator, error) {
	cfg := Opts{
		OutputPath:    DefaultOutputFileName,
		Target:        DefaultTarget,
		Categories:    models.TargetCategories,
		Mode:          PickMix,
		UnderfillProb: DefaultUnderfillProb,
		Temperature:   DefaultTemperature,
		AutosaveEvery: DefaultAutosaveEvery,
		Delay:         DefaultDelay,
		Cooldown:      DefaultCooldown,
		CooldownAfter: DefaultCooldownAfter,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Categories) == 0 {
		return nil, models.ErrEmptyCategories
	}
	if _, err := ParsePickMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Rand == nil {
		cfg.Rand = util.NewRand(0, false)
	}
	return &Generator{
		gen:    gen,
		opts:   cfg,
		pool:   NewPool(),
		picker: NewPicker(cfg.Mode, cfg.UnderfillProb, cfg.Rand),
		stats:  util.NewCounter(),
		sleep:  sleepContext,
	}, nil
}

// Pool exposes the accumulated pool.
func (g *Generator) Pool() *Pool { return g.pool }

// Run loads any existing pool, generates until the target is met or ctx is
// done, and always writes a final snapshot. Only the final write can fail
// the run.
func (g *Generator) Run(ctx context.Context) (Result, error) {
	loaded := g.loadExisting()
	slog.Info("Generator.Run: starting", "target", g.opts.Target, "loaded", loaded,
		"pick_mode", g.opts.Mode, "underfill_prob", g.opts.UnderfillProb, "output", g.opts.OutputPath)

	requests := 0
	consecutiveFailures := 0
	for g.pool.Len() < g.opts.Target && ctx.Err() == nil {
		requests++
		if g.step(ctx) > 0 {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
		}

		if g.opts.CooldownAfter > 0 && consecutiveFailures >= g.opts.CooldownAfter {
			slog.Warn("Generator.Run: too many consecutive failures, cooling down",
				"failures", consecutiveFailures, "cooldown", g.opts.Cooldown, "stats", g.stats)
			g.sleep(ctx, g.opts.Cooldown)
			consecutiveFailures = 0
		}
		g.sleep(ctx, g.opts.Delay)
	}
	if err := ctx.Err(); err != nil {
		slog.Warn("Generator.Run: interrupted, writing final snapshot", "error", err, "pool", g.pool.Len())
	}

	if err := store.WriteJSONAtomic(g.opts.OutputPath, g.pool.Items()); err != nil {
		return g.result(loaded, requests), fmt.Errorf("final save failed: %w", err)
	}

	res := g.result(loaded, requests)
	slog.Info("Generator.Run: generation complete", "total", res.Total, "added", res.Added, "output", g.opts.OutputPath)
	slog.Info("Generator.Run: final risk distribution", "low", res.Risks[models.RiskLow], "medium", res.Risks[models.RiskMedium], "high", res.Risks[models.RiskHigh])
	slog.Info("Generator.Run: final category distribution", "categories", g.pool.CategoryDistribution())
	slog.Info("Generator.Run: failure stats", "stats", g.stats)
	return res, nil
}

// step performs one batch request and returns the number of admitted items.
func (g *Generator) step(ctx context.Context) int {
	category := g.picker.Pick(g.opts.Categories, g.pool.CategoryCount)
	highRatio := g.pool.HighRatio()
	prompt := BuildPrompt(category, RiskInstruction(highRatio))

	slog.Info("Generator.step: requesting batch", "category", category,
		"high_ratio", fmt.Sprintf("%.2f", highRatio), "unique", g.pool.Len(), "target", g.opts.Target)

	raw := g.gen.Generate(ctx, prompt, g.opts.Temperature)
	if strings.TrimSpace(raw) == "" {
		g.stats.Inc(StatEmptyResponse)
		return 0
	}

	batch, err := extract.List(raw)
	if err != nil || len(batch) == 0 {
		g.stats.Inc(StatParseError)
		slog.Warn("Generator.step: parse failed", "category", category, "error", err)
		return 0
	}

	before := g.pool.Len()
	added := g.admit(batch, category)
	if added == 0 {
		slog.Warn("Generator.step: batch yielded no valid unique items", "category", category, "batch", len(batch))
		return 0
	}
	slog.Info("Generator.step: added items", "category", category, "added", added, "unique", g.pool.Len())
	g.checkpoint(before)
	return added
}

func (g *Generator) admit(batch []json.RawMessage, category string) int {
	added := 0
	for _, raw := range batch {
		var item map[string]any
		_ = json.Unmarshal(raw, &item)

		s, err := validate.Scenario(item, category)
		if err != nil {
			g.stats.Inc(StatValidationError)
			slog.Debug("Generator.admit: rejected item", "error", err)
			continue
		}
		switch err := g.pool.Add(s); {
		case errors.Is(err, ErrEmptyKey):
			g.stats.Inc(StatEmptyKey)
		case errors.Is(err, ErrDuplicate):
			g.stats.Inc(StatDuplicate)
		case err == nil:
			added++
		}
	}
	return added
}

// checkpoint saves when the pool crossed a multiple of AutosaveEvery since
// it held `before` items. A failed checkpoint is logged and retried at the
// next crossing.
func (g *Generator) checkpoint(before int) {
	every := g.opts.AutosaveEvery
	if every <= 0 || g.pool.Len()/every == before/every {
		return
	}
	if err := store.WriteJSONAtomic(g.opts.OutputPath, g.pool.Items()); err != nil {
		slog.Error("Generator.checkpoint: autosave failed", "error", err, "path", g.opts.OutputPath)
		return
	}
	slog.Info("Generator.checkpoint: auto-saved", "items", g.pool.Len(), "stats", g.stats)
}

// loadExisting re-validates a previous pool. Missing, malformed and
// non-list files start the run from an empty pool.
func (g *Generator) loadExisting() int {
	items, err := store.ReadScenarioSnapshot(g.opts.OutputPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0
	case errors.Is(err, store.ErrSnapshotNotList):
		slog.Warn("Generator.loadExisting: existing file is not a list, starting fresh", "path", g.opts.OutputPath)
		return 0
	case err != nil:
		slog.Warn("Generator.loadExisting: could not read existing file, starting fresh", "path", g.opts.OutputPath, "error", err)
		return 0
	}

	rejected := 0
	for _, item := range items {
		s, err := validate.LoadedScenario(item, g.opts.Categories)
		if err != nil || g.pool.Add(s) != nil {
			rejected++
		}
	}
	slog.Info("Generator.loadExisting: loaded valid unique scenarios", "loaded", g.pool.Len(), "rejected", rejected, "path", g.opts.OutputPath)
	return g.pool.Len()
}

func (g *Generator) result(loaded, requests int) Result {
	return Result{
		Loaded:   loaded,
		Added:    g.pool.Len() - loaded,
		Total:    g.pool.Len(),
		Requests: requests,
		Stats:    g.stats.Snapshot(),
		Risks:    g.pool.RiskDistribution(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
