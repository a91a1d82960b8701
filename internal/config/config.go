package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration for brief-engine.
type Config struct {
	ServerName    string `yaml:"server_name"`
	DBPath        string `yaml:"db_path"`
	LogLevel      string `yaml:"log_level"`
	EnvFile       string `yaml:"env_file"`
	UserIDPattern string `yaml:"user_id_pattern"`
	// RunTimeoutSeconds bounds one user's detection and ranking pass.
	RunTimeoutSeconds int                 `yaml:"run_timeout_seconds"`
	Embedding         EmbeddingConfig     `yaml:"embedding"`
	Novelty           NoveltyConfig       `yaml:"novelty"`
	Ranking           RankingConfig       `yaml:"ranking"`
	Consolidation     ConsolidationConfig `yaml:"consolidation"`
}

// EmbeddingConfig selects and tunes embedding providers.
type EmbeddingConfig struct {
	// Enabled=false runs the v1 detector without semantic features.
	Enabled        bool    `yaml:"enabled"`
	HostedEndpoint string  `yaml:"hosted_endpoint"`
	HostedModel    string  `yaml:"hosted_model"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	APIKey         string  `yaml:"-"`
	LocalEndpoint  string  `yaml:"local_endpoint"`
	LocalModel     string  `yaml:"local_model"`
	Dimension      int     `yaml:"dimension"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// NoveltyConfig tunes semantic duplicate detection.
type NoveltyConfig struct {
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	LookbackDays      int     `yaml:"lookback_days"`
	LookbackItems     int     `yaml:"lookback_items"`
}

// RankingConfig holds caps, factor weights and the source to module map.
type RankingConfig struct {
	MaxHighlights     int               `yaml:"max_highlights"`
	MaxItemsPerModule int               `yaml:"max_items_per_module"`
	MaxTotalItems     int               `yaml:"max_total_items"`
	Weights           WeightsConfig     `yaml:"weights"`
	Modules           map[string]string `yaml:"modules"`
	TrustedSources    []string          `yaml:"trusted_sources"`
}

// WeightsConfig are the final-score weights. They must sum to 1.
type WeightsConfig struct {
	Relevance     float64 `yaml:"relevance"`
	Urgency       float64 `yaml:"urgency"`
	Credibility   float64 `yaml:"credibility"`
	Impact        float64 `yaml:"impact"`
	Actionability float64 `yaml:"actionability"`
}

// Sum returns the total of all weights.
func (w WeightsConfig) Sum() float64 {
	return w.Relevance + w.Urgency + w.Credibility + w.Impact + w.Actionability
}

// ConsolidationConfig holds the preference learning thresholds.
type ConsolidationConfig struct {
	IntervalMinutes  int     `yaml:"interval_minutes"`
	WindowDays       int     `yaml:"window_days"`
	MinEvents        int     `yaml:"min_events"`
	MinPositive      float64 `yaml:"min_positive"`
	MinPositiveRatio float64 `yaml:"min_positive_ratio"`
	MinNegative      float64 `yaml:"min_negative"`
	OpenWeight       float64 `yaml:"open_weight"`
	WeightStep       float64 `yaml:"weight_step"`
	MinWeight        float64 `yaml:"min_weight"`
	MaxWeight        float64 `yaml:"max_weight"`
	Concurrency      int     `yaml:"concurrency"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	return Config{
		ServerName:        "brief-engine",
		DBPath:            filepath.Join(userHomeDir(), ".brief-engine", "brief.db"),
		LogLevel:          "info",
		EnvFile:           ".env",
		UserIDPattern:     `^[a-zA-Z0-9_.@-]{1,128}$`,
		RunTimeoutSeconds: 120,
		Embedding: EmbeddingConfig{
			Enabled:        true,
			HostedEndpoint: "https://api.openai.com/v1/embeddings",
			HostedModel:    "text-embedding-3-small",
			APIKeyEnv:      "BRIEF_EMBED_API_KEY",
			LocalEndpoint:  "http://localhost:11434",
			LocalModel:     "nomic-embed-text",
			Dimension:      0,
			RequestsPerSec: 5,
			TimeoutSeconds: 30,
		},
		Novelty: NoveltyConfig{
			SemanticThreshold: 0.85,
			LookbackDays:      14,
			LookbackItems:     500,
		},
		Ranking: RankingConfig{
			MaxHighlights:     3,
			MaxItemsPerModule: 5,
			MaxTotalItems:     20,
			Weights: WeightsConfig{
				Relevance:     0.30,
				Urgency:       0.25,
				Credibility:   0.15,
				Impact:        0.15,
				Actionability: 0.15,
			},
			Modules: map[string]string{
				"gmail":    "email",
				"outlook":  "email",
				"email":    "email",
				"gcal":     "calendar",
				"calendar": "calendar",
				"twitter":  "social",
				"x":        "social",
				"bluesky":  "social",
				"mastodon": "social",
				"reddit":   "social",
				"arxiv":    "papers",
				"papers":   "papers",
				"todoist":  "tasks",
				"tasks":    "tasks",
			},
			TrustedSources: []string{"gmail", "outlook", "gcal", "calendar", "arxiv", "todoist"},
		},
		Consolidation: ConsolidationConfig{
			IntervalMinutes:  360,
			WindowDays:       30,
			MinEvents:        5,
			MinPositive:      3,
			MinPositiveRatio: 0.6,
			MinNegative:      3,
			OpenWeight:       0.34,
			WeightStep:       0.1,
			MinWeight:        0.1,
			MaxWeight:        2.0,
			Concurrency:      4,
		},
	}
}

// Load loads config from disk; if path does not exist, default config is returned.
// Credentials are read from the environment after the optional env file is applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config yaml: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if cfg.EnvFile != "" {
		// Existing environment wins over the file.
		if err := godotenv.Load(ExpandPath(cfg.EnvFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg.Embedding.APIKey = lookupAPIKey(cfg.Embedding.APIKeyEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func lookupAPIKey(envName string) string {
	if envName != "" {
		if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return errors.New("server_name must not be empty")
	}
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	if _, err := regexp.Compile(c.UserIDPattern); err != nil {
		return fmt.Errorf("invalid user_id_pattern: %w", err)
	}

	if c.RunTimeoutSeconds <= 0 {
		return errors.New("run_timeout_seconds must be > 0")
	}

	n := c.Novelty
	if n.SemanticThreshold <= 0 || n.SemanticThreshold > 1 {
		return errors.New("novelty.semantic_threshold must be in (0, 1]")
	}
	if n.LookbackDays <= 0 {
		return errors.New("novelty.lookback_days must be > 0")
	}
	if n.LookbackItems <= 0 {
		return errors.New("novelty.lookback_items must be > 0")
	}

	r := c.Ranking
	if r.MaxHighlights <= 0 {
		return errors.New("ranking.max_highlights must be > 0")
	}
	if r.MaxItemsPerModule <= 0 {
		return errors.New("ranking.max_items_per_module must be > 0")
	}
	if r.MaxTotalItems < r.MaxHighlights {
		return errors.New("ranking.max_total_items must be >= max_highlights")
	}
	if err := r.Weights.Validate(); err != nil {
		return err
	}

	cc := c.Consolidation
	if cc.IntervalMinutes <= 0 {
		return errors.New("consolidation.interval_minutes must be > 0")
	}
	if cc.WindowDays <= 0 {
		return errors.New("consolidation.window_days must be > 0")
	}
	if cc.MinEvents <= 0 {
		return errors.New("consolidation.min_events must be > 0")
	}
	if cc.MinPositiveRatio <= 0 || cc.MinPositiveRatio > 1 {
		return errors.New("consolidation.min_positive_ratio must be in (0, 1]")
	}
	if cc.MinWeight <= 0 || cc.MaxWeight < cc.MinWeight {
		return errors.New("consolidation.min_weight/max_weight out of range")
	}
	if cc.Concurrency <= 0 {
		return errors.New("consolidation.concurrency must be > 0")
	}
	return nil
}

// Validate checks that weights are non-negative and form a convex combination.
func (w WeightsConfig) Validate() error {
	for name, v := range map[string]float64{
		"relevance":     w.Relevance,
		"urgency":       w.Urgency,
		"credibility":   w.Credibility,
		"impact":        w.Impact,
		"actionability": w.Actionability,
	} {
		if v < 0 {
			return fmt.Errorf("ranking.weights.%s must be >= 0", name)
		}
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		return fmt.Errorf("ranking.weights must sum to 1, got %.4f", w.Sum())
	}
	return nil
}

// EnsurePaths creates parent directories for config-managed paths.
func (c *Config) EnsurePaths() error {
	c.DBPath = ExpandPath(c.DBPath)
	parent := filepath.Dir(c.DBPath)
	if parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create db parent dir: %w", err)
	}
	return nil
}

// ExpandPath expands "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHomeDir(), p[2:])
	}
	return p
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
