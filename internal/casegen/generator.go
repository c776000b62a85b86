package casegen

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/BTreeMap/MedSynth/internal/repair"
	"github.com/BTreeMap/MedSynth/internal/store"
	"github.com/BTreeMap/MedSynth/internal/util"
)

// Statistic keys besides the processor outcomes.
const (
	StatSuccess  = "success"
	StatSkipDone = "skip_done"
)

// Default configuration constants
const (
	DefaultInputFileName  = "scenarios.json"
	DefaultOutputFileName = "medical_chat_data.jsonl"
	DefaultAutosaveEvery  = 10
	DefaultRandomSeed     = 42
	DefaultDelay          = 500 * time.Millisecond
	DefaultCooldown       = 5 * time.Second
	DefaultCooldownAfter  = 5
)

// Opts holds configuration for a case generation run.
type Opts struct {
	InputPath     string
	OutputPath    string
	Overwrite     bool
	MaxCases      int
	AutosaveEvery int
	ProfileTemp   float64
	DialogueTemp  float64
	RepairTemp    float64
	Delay         time.Duration
	Cooldown      time.Duration
	CooldownAfter int
	Rand          *rand.Rand
	Index         store.CaseIndex
	RunID         string
}

// Option configures a Generator.
type Option func(*Opts)

// WithInputPath sets the seed scenario file.
func WithInputPath(path string) Option { return func(o *Opts) { o.InputPath = path } }

// WithOutputPath sets the case log file.
func WithOutputPath(path string) Option { return func(o *Opts) { o.OutputPath = path } }

// WithOverwrite truncates the case log and ignores previous progress.
func WithOverwrite(overwrite bool) Option { return func(o *Opts) { o.Overwrite = overwrite } }

// WithMaxCases stops after n successes in this run; 0 means no cap.
func WithMaxCases(n int) Option { return func(o *Opts) { o.MaxCases = n } }

// WithAutosaveEvery sets the fsync interval in successes; 0 syncs only at the end.
func WithAutosaveEvery(n int) Option { return func(o *Opts) { o.AutosaveEvery = n } }

// WithTemperatures sets the profile, dialogue and repair temperatures.
func WithTemperatures(profile, dialogue, repairTemp float64) Option {
	return func(o *Opts) { o.ProfileTemp, o.DialogueTemp, o.RepairTemp = profile, dialogue, repairTemp }
}

// WithPacing sets the per-seed delay and the cooldown taken after `after`
// consecutive failed seeds.
func WithPacing(delay, cooldown time.Duration, after int) Option {
	return func(o *Opts) { o.Delay, o.Cooldown, o.CooldownAfter = delay, cooldown, after }
}

// WithRand sets the random source for seed order and persona picks.
func WithRand(r *rand.Rand) Option { return func(o *Opts) { o.Rand = r } }

// WithIndex mirrors accepted cases into idx.
func WithIndex(idx store.CaseIndex, runID string) Option {
	return func(o *Opts) { o.Index, o.RunID = idx, runID }
}

// Result summarizes a finished run.
type Result struct {
	Seeds   int
	Success int
	StartID int
	NextID  int
	Stats   map[string]int
}

// Generator runs the case generation loop.
type Generator struct {
	opts      Opts
	processor *Processor
	stats     *util.Counter
	sleep     func(context.Context, time.Duration)
}

// NewGenerator builds a generator around gen.
func NewGenerator(gen TextGenerator, opts ...Option) *Generator {
	cfg := Opts{
		InputPath:     DefaultInputFileName,
		OutputPath:    DefaultOutputFileName,
		AutosaveEvery: DefaultAutosaveEvery,
		ProfileTemp:   DefaultProfileTemperature,
		DialogueTemp:  DefaultDialogueTemperature,
		RepairTemp:    repair.DefaultTemperature,
		Delay:         DefaultDelay,
		Cooldown:      DefaultCooldown,
		CooldownAfter: DefaultCooldownAfter,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Rand == nil {
		cfg.Rand = util.NewRand(DefaultRandomSeed, true)
	}
	return &Generator{
		opts:      cfg,
		processor: NewProcessor(gen, cfg.ProfileTemp, cfg.DialogueTemp, cfg.RepairTemp, cfg.Rand),
		stats:     util.NewCounter(),
		sleep:     sleepContext,
	}
}

// Run expands every pending seed into a case. Case ids continue from the
// previous log; seeds already logged are skipped. The log is always synced
// on exit. Seed loading and log open or append failures abort the run.
func (g *Generator) Run(ctx context.Context) (Result, error) {
	seeds, err := LoadSeeds(g.opts.InputPath, g.opts.Rand)
	if err != nil {
		return Result{}, err
	}

	state, err := g.resumeState()
	if err != nil {
		return Result{}, err
	}

	caseLog, err := store.OpenCaseLog(g.opts.OutputPath, g.opts.Overwrite)
	if err != nil {
		return Result{}, err
	}

	slog.Info("Generator.Run: starting", "seeds", len(seeds), "start_id", state.NextID,
		"done", len(state.Done), "overwrite", g.opts.Overwrite, "max_cases", g.opts.MaxCases, "output", g.opts.OutputPath)

	success, runErr := g.loop(ctx, seeds, state, caseLog)

	if err := caseLog.Close(); err != nil {
		slog.Warn("Generator.Run: final sync failed", "error", err, "path", g.opts.OutputPath)
	}
	res := Result{
		Seeds:   len(seeds),
		Success: success,
		StartID: state.NextID,
		NextID:  state.NextID + success,
		Stats:   g.stats.Snapshot(),
	}
	if runErr != nil {
		return res, runErr
	}
	slog.Info("Generator.Run: done", "success", success, "next_id", res.NextID, "stats", g.stats)
	return res, nil
}

func (g *Generator) loop(ctx context.Context, seeds []Seed, state store.ResumeState, caseLog *store.CaseLog) (int, error) {
	success := 0
	consecutiveFailures := 0
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			slog.Warn("Generator.loop: interrupted", "error", err, "success", success)
			break
		}
		if g.opts.MaxCases > 0 && success >= g.opts.MaxCases {
			slog.Info("Generator.loop: case cap reached", "max_cases", g.opts.MaxCases)
			break
		}
		if state.HasDone(seed.Key) {
			g.stats.Inc(StatSkipDone)
			continue
		}

		caseID := state.NextID + success
		slog.Info("Generator.loop: processing", "case_id", caseID, "category", seed.Scenario.Category, "diagnosis", seed.Scenario.DiagnosisGuess)

		c, outcome := g.processor.Process(ctx, caseID, seed.Scenario)
		if outcome != OutcomeOK {
			g.stats.Inc(outcome)
			consecutiveFailures++
			slog.Warn("Generator.loop: case failed", "case_id", caseID, "outcome", outcome)
		} else {
			if err := caseLog.Append(c); err != nil {
				return success, fmt.Errorf("append case %d: %w", caseID, err)
			}
			state.Done[seed.Key] = struct{}{}
			success++
			consecutiveFailures = 0
			g.stats.Inc(StatSuccess)
			slog.Info("Generator.loop: case written", "case_id", caseID)

			g.recordIndex(seed, caseID)
			if g.opts.AutosaveEvery > 0 && success%g.opts.AutosaveEvery == 0 {
				if err := caseLog.Sync(); err != nil {
					slog.Warn("Generator.loop: autosave sync failed", "error", err)
				}
				slog.Info("Generator.loop: auto-saved", "success", success, "stats", g.stats)
			}
		}

		if g.opts.CooldownAfter > 0 && consecutiveFailures >= g.opts.CooldownAfter {
			slog.Warn("Generator.loop: too many consecutive failures, cooling down",
				"failures", consecutiveFailures, "cooldown", g.opts.Cooldown, "stats", g.stats)
			g.sleep(ctx, g.opts.Cooldown)
			consecutiveFailures = 0
		}
		g.sleep(ctx, g.opts.Delay)
	}
	return success, nil
}

// resumeState replays the case log and merges keys from the index. With
// overwrite set the index is cleared and the run starts from case 1 with
// nothing done.
func (g *Generator) resumeState() (store.ResumeState, error) {
	if g.opts.Overwrite {
		slog.Info("Generator.resumeState: overwriting output", "path", g.opts.OutputPath)
		if g.opts.Index != nil {
			if err := g.opts.Index.Reset(); err != nil {
				slog.Warn("Generator.resumeState: could not reset index", "error", err)
			}
		}
		return store.ResumeState{NextID: 1, Done: make(map[string]struct{})}, nil
	}
	state, err := store.ReplayCaseLog(g.opts.OutputPath)
	if err != nil {
		return state, err
	}
	if g.opts.Index != nil {
		keys, err := g.opts.Index.LoadKeys()
		if err != nil {
			slog.Warn("Generator.resumeState: could not load index keys", "error", err)
		}
		for _, k := range keys {
			state.Done[k] = struct{}{}
		}
	}
	return state, nil
}

func (g *Generator) recordIndex(seed Seed, caseID int) {
	if g.opts.Index == nil {
		return
	}
	inserted, err := g.opts.Index.RecordCase(store.IndexRecord{
		DedupKey: seed.Key,
		CaseID:   caseID,
		Category: seed.Scenario.Category,
		Risk:     string(seed.Scenario.Risk),
		RunID:    g.opts.RunID,
	})
	switch {
	case err != nil:
		slog.Warn("Generator.recordIndex: index write failed", "case_id", caseID, "error", err)
	case !inserted:
		slog.Debug("Generator.recordIndex: key already indexed", "case_id", caseID)
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
