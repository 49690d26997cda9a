// Package llm provides the outbound chat-completion backends. Every backend
// takes a system directive plus a user directive and returns a single text
// completion with token usage. Transport-level retries (rate limits,
// transient 5xx) live here; semantic retries on malformed output are the
// caller's concern.
package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"forgefix/internal/faults"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Provider names a backend family.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Config selects and parameterises a backend.
type Config struct {
	Provider    string        `json:"provider"`
	APIKey      string        `json:"apiKey,omitempty"`
	Model       string        `json:"model,omitempty"`
	BaseURL     string        `json:"baseUrl,omitempty"`
	MaxTokens   int           `json:"maxTokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Timeout     time.Duration `json:"-"`
	MaxRetries  int           `json:"-"`
}

// DefaultConfig returns the standard backend parameters. Temperature is
// pinned low because the agents must produce reproducible structured output.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderAnthropic,
		Temperature: 0.3,
		MaxTokens:   8192,
		Timeout:     30 * time.Second,
		MaxRetries:  3,
	}
}

// defaultModels maps a provider to the model used when none is configured.
var defaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderOpenAI:    "gpt-4o",
	ProviderGemini:    "gemini-2.5-pro",
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Model == "" {
		c.Model = defaultModels[c.Provider]
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.Temperature <= 0 || c.Temperature > 1 {
		c.Temperature = def.Temperature
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
}

// =============================================================================
// INTERFACE
// =============================================================================

// Request is one chat completion call.
type Request struct {
	System      string
	User        string
	MaxTokens   int     // 0 means the client default
	Temperature float64 // <=0 means the client default
}

// Response is the completion plus usage accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is the outbound backend interface.
type Client interface {
	// Complete sends the request and returns the completion text. The
	// context bounds the whole call including transport retries.
	Complete(ctx context.Context, req Request) (Response, error)
	// Model reports the configured model identifier, for budgeting.
	Model() string
}

// New builds the backend selected by cfg.Provider. The context is used only
// for client construction (the Gemini SDK dials during setup); completion
// calls carry their own contexts.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Client, error) {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropic(cfg, logger), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg, logger), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg, logger)
	default:
		// An explicit endpoint implies an OpenAI-compatible server.
		if cfg.BaseURL != "" {
			return NewOpenAI(cfg, logger), nil
		}
		return nil, faults.New(faults.InputInvalid, "unknown backend provider %q", cfg.Provider)
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// wait sleeps for the backoff interval or until the context ends, whichever
// comes first.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return faults.FromContext(ctx)
	case <-timer.C:
		return nil
	}
}

// retryDelay returns the exponential backoff before attempt i (1-based).
func retryDelay(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * time.Second
}

// retryable reports whether an HTTP status is worth another attempt.
func retryable(status int) bool {
	return status == 429 || status >= 500
}
