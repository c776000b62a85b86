// Command casegen expands a scenario pool into validated patient profiles
// and consultation dialogues, appended to a resumable NDJSON case log.
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
	"syscall"

	"github.com/google/uuid"

	"github.com/BTreeMap/MedSynth/internal/casegen"
	"github.com/BTreeMap/MedSynth/internal/cli"
	"github.com/BTreeMap/MedSynth/internal/genai"
	"github.com/BTreeMap/MedSynth/internal/lockfile"
	"github.com/BTreeMap/MedSynth/internal/repair"
	"github.com/BTreeMap/MedSynth/internal/store"
	"github.com/BTreeMap/MedSynth/internal/util"
)

const pipelineName = "casegen"

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
		slog.Error("casegen failed", "error", err)
		os.Exit(1)
	}
	slog.Info("casegen exited successfully")
}

// Config holds environment configuration
type Config struct {
	DataDir       string
	LogLevel      string
	Model         cli.ModelConfig
	InputPath     string
	OutputPath    string
	Overwrite     bool
	MaxCases      int
	AutosaveEvery int
	RandomSeed    int
	ProfileTemp   float64
	DialogueTemp  float64
	RepairTemp    float64
	IndexDSN      string
}

// Flags holds command line flag values. Empty paths resolve inside DataDir.
type Flags Config

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	cli.LoadDotEnv()

	config := Config{
		DataDir:       util.GetenvDefault("MEDSYNTH_DATA_DIR", cli.DefaultDataDir),
		LogLevel:      util.GetenvDefault("LOG_LEVEL", cli.DefaultLogLevel),
		Model:         cli.LoadModelConfig(),
		InputPath:     os.Getenv("CASEGEN_INPUT"),
		OutputPath:    os.Getenv("CASEGEN_OUTPUT"),
		Overwrite:     util.ParseBoolEnv("CASEGEN_OVERWRITE", false),
		MaxCases:      util.ParseIntEnv("CASEGEN_MAX_CASES", 0),
		AutosaveEvery: util.ParseIntEnv("MEDSYNTH_AUTOSAVE_EVERY", casegen.DefaultAutosaveEvery),
		RandomSeed:    util.ParseIntEnv("MEDSYNTH_RANDOM_SEED", casegen.DefaultRandomSeed),
		ProfileTemp:   util.ParseFloatEnv("CASEGEN_PROFILE_TEMP", casegen.DefaultProfileTemperature),
		DialogueTemp:  util.ParseFloatEnv("CASEGEN_DIALOGUE_TEMP", casegen.DefaultDialogueTemperature),
		RepairTemp:    util.ParseFloatEnv("CASEGEN_REPAIR_TEMP", repair.DefaultTemperature),
		IndexDSN:      os.Getenv("CASEGEN_INDEX_DSN"),
	}

	slog.Debug("environment variables loaded",
		"MEDSYNTH_DATA_DIR", config.DataDir,
		"CASEGEN_INPUT", config.InputPath,
		"CASEGEN_OUTPUT", config.OutputPath,
		"CASEGEN_INDEX_DSN_SET", config.IndexDSN != "",
		"model", config.Model)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	f := Flags(config)
	fs.StringVar(&f.DataDir, "data-dir", f.DataDir, "directory for pipeline files and the lock (overrides $MEDSYNTH_DATA_DIR)")
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.StringVar(&f.InputPath, "input", f.InputPath, "scenario pool file (default <data-dir>/"+casegen.DefaultInputFileName+")")
	fs.StringVar(&f.OutputPath, "output", f.OutputPath, "case log file (default <data-dir>/"+casegen.DefaultOutputFileName+")")
	fs.BoolVar(&f.Overwrite, "overwrite", f.Overwrite, "truncate the case log and ignore previous progress")
	fs.IntVar(&f.MaxCases, "max-cases", f.MaxCases, "stop after this many new cases; 0 means no cap")
	fs.IntVar(&f.AutosaveEvery, "autosave-every", f.AutosaveEvery, "sync the case log every N cases")
	fs.IntVar(&f.RandomSeed, "seed", f.RandomSeed, "random seed for seed order and persona picks")
	fs.Float64Var(&f.ProfileTemp, "profile-temp", f.ProfileTemp, "profile sampling temperature")
	fs.Float64Var(&f.DialogueTemp, "dialogue-temp", f.DialogueTemp, "dialogue sampling temperature")
	fs.Float64Var(&f.RepairTemp, "repair-temp", f.RepairTemp, "summary repair sampling temperature")
	fs.StringVar(&f.IndexDSN, "index-dsn", f.IndexDSN, "optional SQLite path or Postgres DSN mirroring accepted cases")
	f.Model.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if f.InputPath == "" {
		f.InputPath = filepath.Join(f.DataDir, casegen.DefaultInputFileName)
	}
	if f.OutputPath == "" {
		f.OutputPath = filepath.Join(f.DataDir, casegen.DefaultOutputFileName)
	}
	slog.Debug("Resolved paths", "data_dir", f.DataDir, "input", f.InputPath, "output", f.OutputPath)
	return f, nil
}

// ensureDirectoriesExist creates the data directory and the case log's parent.
func ensureDirectoriesExist(flags Flags) error {
	for _, dir := range []string{flags.DataDir, filepath.Dir(flags.OutputPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildCasegenOptions converts flags into generator options.
func buildCasegenOptions(flags Flags) []casegen.Option {
	return []casegen.Option{
		casegen.WithInputPath(flags.InputPath),
		casegen.WithOutputPath(flags.OutputPath),
		casegen.WithOverwrite(flags.Overwrite),
		casegen.WithMaxCases(flags.MaxCases),
		casegen.WithAutosaveEvery(flags.AutosaveEvery),
		casegen.WithTemperatures(flags.ProfileTemp, flags.DialogueTemp, flags.RepairTemp),
		casegen.WithRand(util.NewRand(uint64(flags.RandomSeed), true)),
	}
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

	genaiOpts, err := flags.Model.GenAIOptions()
	if err != nil {
		return err
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}

	opts := buildCasegenOptions(flags)
	if flags.IndexDSN != "" {
		idx, err := store.OpenCaseIndex(flags.IndexDSN)
		if err != nil {
			return fmt.Errorf("open case index: %w", err)
		}
		defer idx.Close()
		runID := uuid.NewString()
		opts = append(opts, casegen.WithIndex(idx, runID))
		slog.Info("Case index enabled", "db_type", store.DetectDSNType(flags.IndexDSN), "run_id", runID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping casegen", "input", flags.InputPath, "output", flags.OutputPath,
		"overwrite", flags.Overwrite, "max_cases", flags.MaxCases, "model", flags.Model)
	res, err := casegen.NewGenerator(client, opts...).Run(ctx)
	if err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		slog.Warn("casegen interrupted; progress saved", "success", res.Success, "next_id", res.NextID)
	}
	slog.Info("casegen finished", "seeds", res.Seeds, "success", res.Success,
		"start_id", res.StartID, "next_id", res.NextID, "stats", res.Stats)
	return nil
}
