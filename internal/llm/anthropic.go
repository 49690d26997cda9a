package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"forgefix/internal/faults"
)

const anthropicBaseURL = "https://api.anthropic.com/v1"

// minRequestInterval spaces outbound calls so bursts of agent runs do not
// trip provider-side rate limits immediately.
const minRequestInterval = 100 * time.Millisecond

// Anthropic talks to the Anthropic messages API over plain HTTP.
type Anthropic struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	httpClient  *http.Client
	logger      *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewAnthropic creates an Anthropic backend from a normalised config.
func NewAnthropic(cfg Config, logger *zap.Logger) *Anthropic {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &Anthropic{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger.Named("anthropic"),
	}
}

// Model implements Client.
func (c *Anthropic) Model() string { return c.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements Client.
func (c *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, faults.New(faults.BackendUnavailable, "anthropic API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}

	body := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.User}},
		Temperature: temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, faults.Wrap(faults.BackendUnavailable, err, "failed to marshal request")
	}

	start := time.Now()
	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			if err := wait(ctx, retryDelay(i)); err != nil {
				return Response{}, err
			}
		}
		c.throttle()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return Response{}, faults.Wrap(faults.BackendUnavailable, err, "failed to create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if f := faults.FromContext(ctx); f != nil {
				return Response{}, f
			}
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if retryable(resp.StatusCode) {
			c.logger.Debug("retrying after transient status",
				zap.Int("status", resp.StatusCode), zap.Int("attempt", i+1))
			lastErr = faults.New(faults.BackendUnavailable, "anthropic returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return Response{}, faults.New(faults.BackendUnavailable,
				"anthropic returned status %d: %s", resp.StatusCode, truncateBody(respBody))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return Response{}, faults.Wrap(faults.BackendUnavailable, err, "failed to parse response")
		}
		if parsed.Error != nil {
			return Response{}, faults.New(faults.BackendUnavailable, "anthropic API error: %s", parsed.Error.Message)
		}
		if len(parsed.Content) == 0 {
			return Response{}, faults.New(faults.BackendUnavailable, "anthropic returned no content blocks")
		}

		c.logger.Debug("completion finished",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("inputTokens", parsed.Usage.InputTokens),
			zap.Int("outputTokens", parsed.Usage.OutputTokens))

		return Response{
			Text:         parsed.Content[0].Text,
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		}, nil
	}

	return Response{}, faults.Wrap(faults.BackendUnavailable, lastErr,
		"anthropic request failed after %d attempts", c.maxRetries+1)
}

// throttle enforces the minimum spacing between outbound requests.
func (c *Anthropic) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// truncateBody keeps error payloads readable in messages and logs.
func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
