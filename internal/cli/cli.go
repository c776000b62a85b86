// Package cli holds the configuration plumbing shared by the seedgen and
// casegen binaries: .env loading, logger setup, and the model endpoint
// settings that both pipelines accept.
package cli

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/MedSynth/internal/genai"
	"github.com/BTreeMap/MedSynth/internal/util"
)

// Default configuration constants
const (
	DefaultDataDir  = "./data"
	DefaultPort     = 11434
	DefaultLogLevel = "info"
)

// LoadDotEnv loads a .env file from the working directory when present.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// InitLogger installs a text handler on stdout as the default logger.
func InitLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// ModelConfig holds the model endpoint settings.
type ModelConfig struct {
	Provider      string
	Ports         string
	OpenAIBaseURL string
	OpenAIKey     string
	Model         string
	Timeout       time.Duration
	Retries       int
}

// LoadModelConfig reads model settings from the environment.
func LoadModelConfig() ModelConfig {
	return ModelConfig{
		Provider:      util.GetenvDefault("MEDSYNTH_PROVIDER", string(genai.ProviderOllama)),
		Ports:         util.GetenvDefault("MEDSYNTH_PORTS", fmt.Sprint(DefaultPort)),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URLS"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		Model:         util.GetenvDefault("MEDSYNTH_MODEL", genai.DefaultModel),
		Timeout:       util.ParseDurationEnv("MEDSYNTH_TIMEOUT", genai.DefaultTimeout),
		Retries:       util.ParseIntEnv("MEDSYNTH_RETRIES", genai.DefaultRetries),
	}
}

// RegisterFlags binds the settings to fs, using the current values as defaults.
func (m *ModelConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&m.Provider, "provider", m.Provider, "model provider: ollama or openai (overrides $MEDSYNTH_PROVIDER)")
	fs.StringVar(&m.Ports, "ports", m.Ports, "comma-separated local Ollama ports (overrides $MEDSYNTH_PORTS)")
	fs.StringVar(&m.OpenAIBaseURL, "openai-base-urls", m.OpenAIBaseURL, "comma-separated OpenAI-compatible base URLs (overrides $OPENAI_BASE_URLS)")
	fs.StringVar(&m.OpenAIKey, "openai-api-key", m.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&m.Model, "model", m.Model, "model name (overrides $MEDSYNTH_MODEL)")
	fs.DurationVar(&m.Timeout, "timeout", m.Timeout, "per-request timeout (overrides $MEDSYNTH_TIMEOUT)")
	fs.IntVar(&m.Retries, "retries", m.Retries, "attempts per model request (overrides $MEDSYNTH_RETRIES)")
}

// GenAIOptions converts the settings into client options. The openai
// provider rotates across the base URLs, or uses the SDK default when none
// are set; the ollama provider rotates across the local ports.
func (m ModelConfig) GenAIOptions() ([]genai.Option, error) {
	opts := []genai.Option{
		genai.WithModel(m.Model),
		genai.WithTimeout(m.Timeout),
		genai.WithRetries(m.Retries),
	}
	switch genai.Provider(m.Provider) {
	case genai.ProviderOllama:
		ports, err := util.ParseIntList(m.Ports)
		if err != nil {
			return nil, fmt.Errorf("invalid ports %q: %w", m.Ports, err)
		}
		opts = append(opts, genai.WithProvider(genai.ProviderOllama), genai.WithPorts(ports...))
	case genai.ProviderOpenAI:
		urls := util.ParseStringList(m.OpenAIBaseURL)
		if len(urls) == 0 {
			urls = []string{""}
		}
		opts = append(opts,
			genai.WithProvider(genai.ProviderOpenAI),
			genai.WithEndpoints(urls...),
			genai.WithAPIKey(m.OpenAIKey),
		)
	default:
		return nil, fmt.Errorf("%w: %q", genai.ErrUnknownProvider, m.Provider)
	}
	return opts, nil
}

// LogValue hides the API key.
func (m ModelConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", m.Provider),
		slog.String("ports", m.Ports),
		slog.String("openai_base_urls", m.OpenAIBaseURL),
		slog.Bool("openai_api_key_set", m.OpenAIKey != ""),
		slog.String("model", m.Model),
		slog.Duration("timeout", m.Timeout),
		slog.Int("retries", m.Retries),
	)
}
