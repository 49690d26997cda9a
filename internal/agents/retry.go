package agents

import (
	"context"
	"fmt"
	"math"
	"time"

	"forgefix/internal/faults"
	"forgefix/internal/schema"
)

// =============================================================================
// RETRY POLICY
// =============================================================================

// Policy controls the retry loop around one backend call.
type Policy struct {
	// MaxAttempts bounds total tries, first call included.
	MaxAttempts int
	// InitialBackoff is the wait before the first retry; each further
	// retry multiplies by BackoffFactor up to BackoffCap.
	InitialBackoff time.Duration
	BackoffFactor  float64
	BackoffCap     time.Duration
	// AttemptTimeout bounds each individual backend call.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the standalone-call policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		BackoffFactor:  2,
		BackoffCap:     10 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// PipelinePolicy returns the tighter per-attempt timeout used when the call
// runs inside the analysis pipeline.
func PipelinePolicy() Policy {
	p := DefaultPolicy()
	p.AttemptTimeout = 15 * time.Second
	return p
}

func (p *Policy) normalize() {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = def.BackoffFactor
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = def.BackoffCap
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
}

// backoff returns the wait before retry number n (1-based).
func (p Policy) backoff(n int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(n-1))
	if d > float64(p.BackoffCap) {
		return p.BackoffCap
	}
	return time.Duration(d)
}

// sleep waits for the backoff or until the context ends.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return faults.FromContext(ctx)
	case <-timer.C:
		return nil
	}
}

// correctionDirective builds the re-prompt injected after a schema failure.
// It names every violated path so the backend can repair the exact fields.
func correctionDirective(violations []schema.Violation) string {
	return fmt.Sprintf(
		"Your previous response violated the required contract: %s. "+
			"Respond again with ONLY a pure JSON object in the required shape. "+
			"No prose, no markdown fences, no trailing commentary.",
		schema.ViolationSummary(violations))
}
