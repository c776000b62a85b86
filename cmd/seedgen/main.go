// Command seedgen grows a category- and risk-balanced pool of deduplicated
// clinical scenarios, saved as an atomic JSON snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/BTreeMap/MedSynth/internal/cli"
	"github.com/BTreeMap/MedSynth/internal/genai"
	"github.com/BTreeMap/MedSynth/internal/lockfile"
	"github.com/BTreeMap/MedSynth/internal/seedgen"
	"github.com/BTreeMap/MedSynth/internal/util"
)

const pipelineName = "seedgen"

func main() {
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	level, err := cli.ParseLogLevel(flags.LogLevel)
	if err != nil {
		slog.Error("Invalid log level", "error", err)
		os.Exit(2)
	}
	cli.InitLogger(level)

	if err := run(flags); err != nil {
		slog.Error("seedgen failed", "error", err)
		os.Exit(1)
	}
	slog.Info("seedgen exited successfully")
}

// Config holds environment configuration
type Config struct {
	DataDir        string
	LogLevel       string
	Model          cli.ModelConfig
	OutputPath     string
	Target         int
	PickMode       string
	UnderfillProb  float64
	Temperature    float64
	AutosaveEvery  int
	RandomSeed     string
	CategoriesFile string
}

// Flags holds command line flag values. An empty output path resolves inside
// DataDir; an empty seed means an unseeded source.
type Flags Config

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	cli.LoadDotEnv()

	config := Config{
		DataDir:        util.GetenvDefault("MEDSYNTH_DATA_DIR", cli.DefaultDataDir),
		LogLevel:       util.GetenvDefault("LOG_LEVEL", cli.DefaultLogLevel),
		Model:          cli.LoadModelConfig(),
		OutputPath:     os.Getenv("SEEDGEN_OUTPUT"),
		Target:         util.ParseIntEnv("SEEDGEN_TARGET", seedgen.DefaultTarget),
		PickMode:       util.GetenvDefault("SEEDGEN_PICK_MODE", string(seedgen.PickMix)),
		UnderfillProb:  util.ParseFloatEnv("SEEDGEN_UNDERFILL_PROB", seedgen.DefaultUnderfillProb),
		Temperature:    util.ParseFloatEnv("SEEDGEN_TEMPERATURE", seedgen.DefaultTemperature),
		AutosaveEvery:  util.ParseIntEnv("MEDSYNTH_AUTOSAVE_EVERY", seedgen.DefaultAutosaveEvery),
		RandomSeed:     strings.TrimSpace(os.Getenv("MEDSYNTH_RANDOM_SEED")),
		CategoriesFile: os.Getenv("SEEDGEN_CATEGORIES_FILE"),
	}

	slog.Debug("environment variables loaded",
		"MEDSYNTH_DATA_DIR", config.DataDir,
		"SEEDGEN_OUTPUT", config.OutputPath,
		"SEEDGEN_TARGET", config.Target,
		"SEEDGEN_PICK_MODE", config.PickMode,
		"SEEDGEN_CATEGORIES_FILE", config.CategoriesFile,
		"model", config.Model)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	f := Flags(config)
	fs.StringVar(&f.DataDir, "data-dir", f.DataDir, "directory for pipeline files and the lock (overrides $MEDSYNTH_DATA_DIR)")
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.StringVar(&f.OutputPath, "output", f.OutputPath, "scenario pool file (default <data-dir>/"+seedgen.DefaultOutputFileName+")")
	fs.IntVar(&f.Target, "target", f.Target, "pool size to reach")
	fs.StringVar(&f.PickMode, "pick-mode", f.PickMode, "category pick strategy: random, underfill or mix")
	fs.Float64Var(&f.UnderfillProb, "underfill-prob", f.UnderfillProb, "probability of picking the most underfilled category in mix mode")
	fs.Float64Var(&f.Temperature, "temperature", f.Temperature, "batch sampling temperature")
	fs.IntVar(&f.AutosaveEvery, "autosave-every", f.AutosaveEvery, "snapshot the pool every N scenarios")
	fs.StringVar(&f.RandomSeed, "seed", f.RandomSeed, "random seed; empty for an unseeded run")
	fs.StringVar(&f.CategoriesFile, "categories-file", f.CategoriesFile, "YAML file with a categories list replacing the built-in departments")
	f.Model.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if f.OutputPath == "" {
		f.OutputPath = filepath.Join(f.DataDir, seedgen.DefaultOutputFileName)
	}
	slog.Debug("Resolved paths", "data_dir", f.DataDir, "output", f.OutputPath)
	return f, nil
}

// ensureDirectoriesExist creates the data directory and the snapshot's parent.
func ensureDirectoriesExist(flags Flags) error {
	for _, dir := range []string{flags.DataDir, filepath.Dir(flags.OutputPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildSeedgenOptions converts flags into generator options.
func buildSeedgenOptions(flags Flags) ([]seedgen.Option, error) {
	mode, err := seedgen.ParsePickMode(flags.PickMode)
	if err != nil {
		return nil, err
	}

	var seed uint64
	seeded := flags.RandomSeed != ""
	if seeded {
		seed, err = strconv.ParseUint(flags.RandomSeed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", flags.RandomSeed, err)
		}
	}

	opts := []seedgen.Option{
		seedgen.WithOutputPath(flags.OutputPath),
		seedgen.WithTarget(flags.Target),
		seedgen.WithPickMode(mode, flags.UnderfillProb),
		seedgen.WithTemperature(flags.Temperature),
		seedgen.WithAutosaveEvery(flags.AutosaveEvery),
		seedgen.WithRand(util.NewRand(seed, seeded)),
	}
	if flags.CategoriesFile != "" {
		categories, err := seedgen.LoadCategories(flags.CategoriesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, seedgen.WithCategories(categories))
	}
	return opts, nil
}

func run(flags Flags) error {
	if err := ensureDirectoriesExist(flags); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(flags.DataDir, pipelineName)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release lock", "path", lock.Path(), "error", err)
		}
	}()

	opts, err := buildSeedgenOptions(flags)
	if err != nil {
		return err
	}
	genaiOpts, err := flags.Model.GenAIOptions()
	if err != nil {
		return err
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}
	gen, err := seedgen.NewGenerator(client, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	slog.Info("Bootstrapping seedgen", "run_id", runID, "output", flags.OutputPath,
		"target", flags.Target, "pick_mode", flags.PickMode, "model", flags.Model)
	res, err := gen.Run(ctx)
	if err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		slog.Warn("seedgen interrupted; pool saved", "run_id", runID, "total", res.Total)
	}
	slog.Info("seedgen finished", "run_id", runID, "loaded", res.Loaded, "added", res.Added,
		"total", res.Total, "requests", res.Requests, "stats", res.Stats, "risks", res.Risks)
	return nil
}
