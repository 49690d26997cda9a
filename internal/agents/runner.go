package agents

import (
	"context"

	"go.uber.org/zap"

	"forgefix/internal/budget"
	"forgefix/internal/faults"
	"forgefix/internal/llm"
	"forgefix/internal/schema"
)

// =============================================================================
// AGENT RUNNER
// =============================================================================

// RunStats accounts for one agent run, retries included.
type RunStats struct {
	Attempts     int `json:"attempts"`
	RetriesUsed  int `json:"retriesUsed"`
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Runner executes a single expert role against the backend: budget check,
// completion, tolerant parse, schema validation, and validation-driven
// retries per the policy.
type Runner struct {
	backend  llm.Client
	budgeter *budget.Budgeter
	policy   Policy
	logger   *zap.Logger
}

// NewRunner creates a Runner. A nil budgeter gets the default configuration.
func NewRunner(backend llm.Client, budgeter *budget.Budgeter, policy Policy, logger *zap.Logger) *Runner {
	policy.normalize()
	if budgeter == nil {
		budgeter = budget.New(budget.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		backend:  backend,
		budgeter: budgeter,
		policy:   policy,
		logger:   logger.Named("agents"),
	}
}

// Run invokes the backend for one role and returns the validated structured
// response. The user payload is shrunk to fit the model budget when
// possible; a prompt that cannot fit fails with BudgetExceeded. Parent
// cancellation aborts the in-flight call and is not counted as an attempt.
func (r *Runner) Run(ctx context.Context, role Role, system, user string) (map[string]interface{}, RunStats, error) {
	var stats RunStats

	user, err := r.fitBudget(system, user)
	if err != nil {
		return nil, stats, err
	}

	sch := schemaFor(role)
	var (
		lastErr        error
		lastViolations []schema.Violation
	)

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, r.policy.backoff(attempt-1)); err != nil {
				return nil, stats, err
			}
			stats.RetriesUsed++
		}

		prompt := user
		if lastViolations != nil {
			prompt = user + "\n\n" + correctionDirective(lastViolations)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
		resp, err := r.backend.Complete(attemptCtx, llm.Request{System: system, User: prompt})
		cancel()

		stats.InputTokens += resp.InputTokens
		stats.OutputTokens += resp.OutputTokens

		if err != nil {
			// Parent cancellation is surfaced immediately and does not
			// consume an attempt.
			if f := faults.FromContext(ctx); f != nil {
				return nil, stats, f
			}
			stats.Attempts++
			lastErr = err
			lastViolations = nil
			r.logger.Debug("backend attempt failed",
				zap.String("role", string(role)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		stats.Attempts++

		data, parseErr := schema.Parse(resp.Text)
		if parseErr != nil {
			lastErr = parseErr
			lastViolations = []schema.Violation{{Path: "response", Message: parseErr.Error()}}
			r.logger.Debug("response did not parse",
				zap.String("role", string(role)),
				zap.Int("attempt", attempt),
				zap.Error(parseErr))
			continue
		}

		if sch != nil {
			if violations := sch.Validate(data); len(violations) > 0 {
				lastErr = nil
				lastViolations = violations
				r.logger.Debug("response violated contract",
					zap.String("role", string(role)),
					zap.Int("attempt", attempt),
					zap.String("violations", schema.ViolationSummary(violations)))
				continue
			}
		}

		r.logger.Debug("agent run complete",
			zap.String("role", string(role)),
			zap.Int("attempts", stats.Attempts),
			zap.Int("retriesUsed", stats.RetriesUsed))
		return data, stats, nil
	}

	if lastViolations != nil {
		return nil, stats, faults.New(faults.SchemaViolation,
			"%s response failed validation after %d attempts: %s",
			role.DisplayName(), stats.Attempts, schema.ViolationSummary(lastViolations))
	}
	return nil, stats, faults.Wrap(faults.BackendUnavailable, lastErr,
		"%s call failed after %d attempts", role.DisplayName(), stats.Attempts)
}

// fitBudget ensures system + user fit the model budget, shrinking the user
// payload when it is the oversized part.
func (r *Runner) fitBudget(system, user string) (string, error) {
	check := r.budgeter.CheckBudget(r.backend.Model(), system, user, "")
	if check.OK {
		return user, nil
	}

	allowance := check.Budget - check.OutputReservation - r.budgeter.EstimateTokens(system)
	if allowance <= 0 {
		return "", faults.New(faults.BudgetExceeded,
			"prompt exceeds the %d-token budget and cannot be truncated", check.Budget)
	}

	shrunk := r.budgeter.TruncateToFit(user, allowance, budget.TruncateMiddle)
	if !r.budgeter.CheckBudget(r.backend.Model(), system, shrunk, "").OK {
		return "", faults.New(faults.BudgetExceeded,
			"prompt still exceeds the %d-token budget after truncation", check.Budget)
	}

	r.logger.Debug("user payload truncated to fit budget",
		zap.Int("originalChars", len(user)),
		zap.Int("truncatedChars", len(shrunk)))
	return shrunk, nil
}
