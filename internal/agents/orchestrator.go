package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"forgefix/internal/faults"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator sequences the four experts, threads the accumulated prior
// context through them, and assembles the terminal summary.
type Orchestrator struct {
	runner *Runner
	logger *zap.Logger
}

// New creates an Orchestrator over a configured runner.
func New(runner *Runner, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{runner: runner, logger: logger.Named("orchestrator")}
}

// Run executes the pipeline to completion. On the first agent failure it
// returns the partial result together with the error; earlier outputs stay
// populated for display.
func (o *Orchestrator) Run(ctx context.Context, in Inputs) (*Result, error) {
	return o.run(ctx, in, nil)
}

func (o *Orchestrator) run(ctx context.Context, in Inputs, emit emitFunc) (*Result, error) {
	if emit == nil {
		emit = func(Chunk) error { return nil }
	}

	res := &Result{}
	prior := priorContext{}

	for _, role := range Order {
		if err := emit(Chunk{Type: ChunkStatus, Agent: role,
			Message: role.DisplayName() + " analysing"}); err != nil {
			return res, err
		}

		data, stats, err := o.runner.Run(ctx, role, directiveFor(role), userPrompt(role, in, prior))
		res.Usage.absorb(stats)
		if err != nil {
			o.logger.Warn("agent failed; returning partial result",
				zap.String("role", string(role)),
				zap.Error(err))
			// Best effort: a consumer watching the stream learns which
			// role died even when it never reads the returned error.
			_ = emit(Chunk{Type: ChunkError, Agent: role, Message: err.Error()})
			return res, err
		}

		if err := o.absorb(res, role, data, &prior); err != nil {
			return res, err
		}
		if err := emit(Chunk{Type: ChunkAgent, Agent: role, Payload: data}); err != nil {
			return res, err
		}
	}

	if err := emit(Chunk{Type: ChunkFix, Agent: RoleFixGenerator, Fix: &FixChunk{
		File:    res.FixGenerator.FixFile,
		Line:    res.FixGenerator.FixStartLine,
		Content: res.FixGenerator.FixContent,
	}}); err != nil {
		return res, err
	}

	res.Summary = buildSummary(res)

	if err := emit(Chunk{Type: ChunkDone, Message: res.Summary.Title}); err != nil {
		return res, err
	}

	o.logger.Info("pipeline complete",
		zap.Float64("overallConfidence", res.Summary.OverallConfidence),
		zap.Int("calls", res.Usage.Calls),
		zap.Int("retriesUsed", res.Usage.RetriesUsed))
	return res, nil
}

// absorb decodes one validated response into its typed slot and extends the
// prior context for the next role.
func (o *Orchestrator) absorb(res *Result, role Role, data map[string]interface{}, prior *priorContext) error {
	fail := func(err error) error {
		return faults.Wrap(faults.SchemaViolation, err,
			"%s response did not map onto its type", role.DisplayName())
	}

	switch role {
	case RoleLogAnalyst:
		var v LogAnalysis
		if err := decode(data, &v); err != nil {
			return fail(err)
		}
		res.LogAnalyst = &v
		prior.LogAnalyst = data
	case RoleWorkflowExpert:
		var v WorkflowAdvice
		if err := decode(data, &v); err != nil {
			return fail(err)
		}
		res.WorkflowExpert = &v
		prior.WorkflowExpert = data
	case RoleCodeReviewer:
		var v CodeReview
		if err := decode(data, &v); err != nil {
			return fail(err)
		}
		res.CodeReviewer = &v
		prior.CodeReviewer = data
	case RoleFixGenerator:
		var v FixProposal
		if err := decode(data, &v); err != nil {
			return fail(err)
		}
		res.FixGenerator = &v
	}
	return nil
}

// =============================================================================
// SUMMARY DERIVATION
// =============================================================================

func buildSummary(res *Result) *Summary {
	la := res.LogAnalyst
	wf := res.WorkflowExpert
	cr := res.CodeReviewer
	fix := res.FixGenerator

	title := fmt.Sprintf("Fix %s failure in %s", la.FailureType, fix.FixFile)

	text := la.Summary
	if fix.Explanation != "" {
		text = strings.TrimRight(text, ".") + ". " + fix.Explanation
	}

	items := []string{fmt.Sprintf("Apply the proposed fix to %s", fix.FixFile)}
	if wf.IssueType != "none" && wf.Recommendation != "" {
		items = append(items, wf.Recommendation)
	}
	for _, b := range cr.Blockers {
		items = append(items, "Resolve blocker: "+b)
	}
	if fix.TestSuggestion != "" {
		items = append(items, fix.TestSuggestion)
	}

	return &Summary{
		Title:   clip(title, 100),
		Summary: clip(text, 500),
		Agents: SummaryAgents{
			LogAnalyst:     *la,
			WorkflowExpert: *wf,
			CodeReviewer:   *cr,
			FixGenerator:   *fix,
		},
		OverallConfidence: fix.Confidence,
		ActionItems:       items,
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
