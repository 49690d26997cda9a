package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"forgefix/internal/faults"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAI talks to any chat-completions-compatible endpoint: the OpenAI API
// itself or a self-hosted server selected via BaseURL.
type OpenAI struct {
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

// NewOpenAI creates an OpenAI-compatible backend from a normalised config.
func NewOpenAI(cfg Config, logger *zap.Logger) *OpenAI {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAI{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger.Named("openai"),
	}
}

// Model implements Client.
func (c *OpenAI) Model() string { return c.model }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements Client.
func (c *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, faults.New(faults.BackendUnavailable, "openai API key not configured")
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

	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.User})

	body := openAIRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
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

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return Response{}, faults.Wrap(faults.BackendUnavailable, err, "failed to create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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
			lastErr = faults.New(faults.BackendUnavailable, "backend returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return Response{}, faults.New(faults.BackendUnavailable,
				"backend returned status %d: %s", resp.StatusCode, truncateBody(respBody))
		}

		var parsed openAIResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return Response{}, faults.Wrap(faults.BackendUnavailable, err, "failed to parse response")
		}
		if parsed.Error != nil {
			return Response{}, faults.New(faults.BackendUnavailable, "backend API error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return Response{}, faults.New(faults.BackendUnavailable, "backend returned no choices")
		}

		c.logger.Debug("completion finished",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("inputTokens", parsed.Usage.PromptTokens),
			zap.Int("outputTokens", parsed.Usage.CompletionTokens))

		return Response{
			Text:         strings.TrimSpace(parsed.Choices[0].Message.Content),
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}, nil
	}

	return Response{}, faults.Wrap(faults.BackendUnavailable, lastErr,
		"backend request failed after %d attempts", c.maxRetries+1)
}

func (c *OpenAI) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}
