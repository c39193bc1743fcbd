package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/live-captioner/internal/llm"
	"github.com/sjawhar/live-captioner/internal/session"
	"github.com/sjawhar/live-captioner/internal/settings"
)

// EnvPrefix is the namespace prefix for all Live Captioner environment variables.
const EnvPrefix = "LIVE_CAPTIONER_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBPath     string `yaml:"db_path"`
	ListenAddr string `yaml:"listen_addr"`
	ExportDir  string `yaml:"export_dir"`
	LogLevel   string `yaml:"log_level"`

	RestartDelay          string `yaml:"restart_delay"`
	MaxRapidRestarts      int    `yaml:"max_rapid_restarts"`
	RapidSessionThreshold string `yaml:"rapid_session_threshold"`
	AutoResume            bool   `yaml:"auto_resume"`
	TimestampLayout       string `yaml:"timestamp_layout"`

	// Preferences seed the display settings until the user saves their own.
	Preferences settings.Preferences `yaml:",inline"`

	DeepgramModel         string `yaml:"deepgram_model"`
	MicSampleRate         int    `yaml:"mic_sample_rate"`
	MicSampleRates        []int  `yaml:"mic_sample_rates"`
	SummaryModel          string `yaml:"summary_model"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		DBPath:                "data/live-captioner.db",
		ListenAddr:            "127.0.0.1:8080",
		ExportDir:             "data/exports",
		LogLevel:              "info",
		RestartDelay:          "500ms",
		MaxRapidRestarts:      5,
		RapidSessionThreshold: "2s",
		AutoResume:            true,
		TimestampLayout:       "3:04:05 PM",
		Preferences:           settings.Defaults(),
		DeepgramModel:         "nova-2",
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100, 32000, 24000},
		SummaryModel:          "openai/gpt-4o-mini",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// Policy returns the auto-restart policy, falling back to defaults for
// unparsable durations.
func (c *Config) Policy() session.Policy {
	p := session.DefaultPolicy()
	if d, err := time.ParseDuration(c.RestartDelay); err == nil && d > 0 {
		p.RestartDelay = d
	}
	if d, err := time.ParseDuration(c.RapidSessionThreshold); err == nil && d >= 0 {
		p.RapidSessionThreshold = d
	}
	if c.MaxRapidRestarts >= 0 {
		p.MaxRapidRestarts = c.MaxRapidRestarts
	}
	return p
}

// SummaryAPIKey returns the secret for the provider named in SummaryModel.
func (c *Config) SummaryAPIKey() string {
	provider, _, err := llm.ParseModel(c.SummaryModel)
	if err != nil {
		return ""
	}
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	str := map[string]*string{
		"DB_PATH":                 &cfg.DBPath,
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"EXPORT_DIR":              &cfg.ExportDir,
		"LOG_LEVEL":               &cfg.LogLevel,
		"RESTART_DELAY":           &cfg.RestartDelay,
		"RAPID_SESSION_THRESHOLD": &cfg.RapidSessionThreshold,
		"TIMESTAMP_LAYOUT":        &cfg.TimestampLayout,
		"LANGUAGE":                &cfg.Preferences.Language,
		"DEEPGRAM_MODEL":          &cfg.DeepgramModel,
		"SUMMARY_MODEL":           &cfg.SummaryModel,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
	}
	for key, dst := range str {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "FONT_SIZE"); v != "" {
		cfg.Preferences.FontSize = settings.FontSize(strings.ToLower(strings.TrimSpace(v)))
	}

	bools := map[string]*bool{
		"AUTO_RESUME":     &cfg.AutoResume,
		"AUTO_SCROLL":     &cfg.Preferences.AutoScroll,
		"SHOW_TIMESTAMPS": &cfg.Preferences.ShowTimestamps,
	}
	for key, dst := range bools {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "MAX_RAPID_RESTARTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.MaxRapidRestarts = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured; live captions are disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if provider, _, err := llm.ParseModel(cfg.SummaryModel); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid summary_model %q; transcript summaries are disabled.", cfg.SummaryModel))
	} else if cfg.SummaryAPIKey() == "" {
		warnings = append(warnings, fmt.Sprintf("%s API key not configured; transcript summaries are disabled. Set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
	}
	if d, err := time.ParseDuration(cfg.RestartDelay); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid restart_delay %q; using default 500ms.", cfg.RestartDelay))
	}
	if d, err := time.ParseDuration(cfg.RapidSessionThreshold); err != nil || d < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid rapid_session_threshold %q; using default 2s.", cfg.RapidSessionThreshold))
	}
	if cfg.MaxRapidRestarts < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid max_rapid_restarts %d; using default 5.", cfg.MaxRapidRestarts))
	}
	if err := cfg.Preferences.Validate(); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid display preferences (%v); using defaults.", err))
		cfg.Preferences = settings.Defaults()
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid log_level %q; using info.", cfg.LogLevel))
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
