package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"forgefix/internal/faults"
)

// Gemini talks to the Gemini API through the official SDK. The SDK owns the
// transport; this wrapper adds the backoff loop and fault classification.
type Gemini struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGemini creates a Gemini backend. The context bounds client construction.
func NewGemini(ctx context.Context, cfg Config, logger *zap.Logger) (*Gemini, error) {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, faults.New(faults.BackendUnavailable, "gemini API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, faults.Wrap(faults.BackendUnavailable, err, "failed to create gemini client")
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		timeout:     cfg.Timeout,
		logger:      logger.Named("gemini"),
	}, nil
}

// Model implements Client.
func (c *Gemini) Model() string { return c.model }

// Complete implements Client.
func (c *Gemini) Complete(ctx context.Context, req Request) (Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
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

	contents := []*genai.Content{
		genai.NewContentFromText(req.User, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	start := time.Now()
	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			if err := wait(ctx, retryDelay(i)); err != nil {
				return Response{}, err
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
		if err != nil {
			if f := faults.FromContext(ctx); f != nil {
				return Response{}, f
			}
			lastErr = err
			continue
		}

		text := resp.Text()
		if text == "" {
			return Response{}, faults.New(faults.BackendUnavailable, "gemini returned no text candidates")
		}

		out := Response{Text: text}
		if resp.UsageMetadata != nil {
			out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		c.logger.Debug("completion finished",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("inputTokens", out.InputTokens),
			zap.Int("outputTokens", out.OutputTokens))

		return out, nil
	}

	return Response{}, faults.Wrap(faults.BackendUnavailable, lastErr,
		"gemini request failed after %d attempts", c.maxRetries+1)
}
