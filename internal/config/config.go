// Package config loads forgefix configuration from a JSON file hierarchy
// with environment overrides. The merged object is read-mostly: components
// receive it by value at construction and never mutate it. Runtime file
// changes arrive through the Watcher as fresh snapshots.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// =============================================================================
// MODEL
// =============================================================================

// Config is the merged forgefix configuration.
type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Redaction RedactionConfig `json:"redaction"`
	Pruning   PruneConfig     `json:"pruning"`
	Budget    BudgetConfig    `json:"budget"`
	Gate      GateConfig      `json:"gate"`
	Logging   LoggingConfig   `json:"logging"`

	// LocalOnly disables every outbound backend call; analysis stops after
	// classification and local validation.
	LocalOnly bool `json:"localOnly"`

	// Sources lists the files that contributed, lowest priority first.
	Sources []string `json:"-"`
}

// BackendConfig selects and authenticates the reasoning backend.
type BackendConfig struct {
	Provider   string `json:"provider"` // anthropic, openai, gemini
	APIKey     string `json:"apiKey"`
	Model      string `json:"model"`
	BaseURL    string `json:"baseUrl"`
	Timeout    string `json:"timeout"`
	MaxRetries int    `json:"maxRetries"`
}

// GetTimeout returns the backend timeout as a duration.
func (b BackendConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RedactionConfig tunes the secret scrubber.
type RedactionConfig struct {
	// Aggressive additionally masks every long high-entropy token.
	Aggressive bool `json:"aggressive"`
}

// PruneConfig bounds the log window kept for analysis.
type PruneConfig struct {
	HeadLines int `json:"headLines"`
	TailLines int `json:"tailLines"`
}

// BudgetConfig caps prompt size.
type BudgetConfig struct {
	// TokenCap overrides the per-model context budget when positive.
	TokenCap int `json:"tokenCap"`
}

// GateConfig carries the confidence thresholds and review flags.
type GateConfig struct {
	AutoApplyThreshold    float64 `json:"autoApplyThreshold"`
	ManualReviewThreshold float64 `json:"manualReviewThreshold"`
	EscalateThreshold     float64 `json:"escalateThreshold"`

	AllowAutoApplyOnCritical  bool `json:"allowAutoApplyOnCritical"`
	RequiresSecurityReview    bool `json:"requiresSecurityReview"`
	RequiresPerformanceReview bool `json:"requiresPerformanceReview"`
}

// LoggingConfig places and levels the process logs. An empty Dir means
// <user-home>/.forge; the audit journal shares the same directory.
type LoggingConfig struct {
	Level string `json:"level"` // debug, info, warn, error
	Dir   string `json:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Provider:   "anthropic",
			Timeout:    "30s",
			MaxRetries: 3,
		},
		Pruning: PruneConfig{
			HeadLines: 100,
			TailLines: 500,
		},
		Gate: GateConfig{
			AutoApplyThreshold:     0.9,
			ManualReviewThreshold:  0.6,
			EscalateThreshold:      0.3,
			RequiresSecurityReview: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// searchPaths returns the hierarchy, highest priority first. The explicit
// path, when given, outranks everything.
func searchPaths(explicit string) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".forge", "config.json"))
	}
	paths = append(paths,
		".forge.json",
		filepath.Join(".github", "forge-config.json"),
	)
	return paths
}

// ActivePath returns the highest-priority existing config file, or "".
func ActivePath(explicit string) string {
	for _, p := range searchPaths(explicit) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load merges the file hierarchy over the defaults, lowest priority first so
// that higher files win per key, then applies environment overrides. A
// missing explicit path is an error; missing hierarchy files are not.
func Load(explicit string) (*Config, error) {
	cfg := Default()

	paths := searchPaths(explicit)
	for i := len(paths) - 1; i >= 0; i-- {
		path := paths[i]
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				if explicit != "" && path == explicit {
					return nil, fmt.Errorf("config file %s does not exist", explicit)
				}
				continue
			}
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.Sources = append(cfg.Sources, path)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies FORGE_* variables on top of the file hierarchy.
// Provider-specific key variables fill the API key when no FORGE_API_KEY is
// set, so a plain .env works unchanged.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FORGE_BACKEND"); v != "" {
		c.Backend.Provider = v
	}
	if v := os.Getenv("FORGE_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv("FORGE_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("FORGE_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("FORGE_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("FORGE_AGGRESSIVE_REDACTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Redaction.Aggressive = b
		}
	}
	if v := os.Getenv("FORGE_LOCAL_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LocalOnly = b
		}
	}
	if v := os.Getenv("FORGE_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Budget.TokenCap = n
		}
	}

	if c.Backend.APIKey == "" {
		switch c.Backend.Provider {
		case "anthropic":
			c.Backend.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			c.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			c.Backend.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidProviders lists the supported backend providers.
var ValidProviders = []string{"anthropic", "openai", "gemini"}

// Validate checks the merged configuration for contradictions. A custom
// BaseURL legitimises an unknown provider name (OpenAI-compatible endpoints).
func (c *Config) Validate() error {
	known := false
	for _, p := range ValidProviders {
		if c.Backend.Provider == p {
			known = true
			break
		}
	}
	if !known && c.Backend.BaseURL == "" {
		return fmt.Errorf("unknown backend provider %q (valid: %v, or set a baseUrl)", c.Backend.Provider, ValidProviders)
	}
	if c.Backend.APIKey == "" && !c.LocalOnly {
		return fmt.Errorf("backend API key not configured (set FORGE_API_KEY or the provider key variable)")
	}

	g := c.Gate
	if g.AutoApplyThreshold <= 0 || g.AutoApplyThreshold > 1 ||
		g.ManualReviewThreshold <= 0 || g.ManualReviewThreshold > 1 ||
		g.EscalateThreshold <= 0 || g.EscalateThreshold > 1 {
		return fmt.Errorf("gate thresholds must lie in (0, 1]")
	}
	if g.AutoApplyThreshold < g.ManualReviewThreshold || g.ManualReviewThreshold < g.EscalateThreshold {
		return fmt.Errorf("gate thresholds must be ordered: autoApply ≥ manualReview ≥ escalate")
	}

	if c.Pruning.HeadLines < 0 || c.Pruning.TailLines < 0 {
		return fmt.Errorf("prune line counts must be non-negative")
	}
	if c.Budget.TokenCap < 0 {
		return fmt.Errorf("token budget cap must be non-negative")
	}
	return nil
}
