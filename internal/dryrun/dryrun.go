// Package dryrun simulates patch application against a working tree without
// writing anything. The output is an ordered plan whose steps record what
// would happen, what would fail, and how the change would be rolled back.
package dryrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"forgefix/internal/diff"
	"forgefix/internal/validate"
)

// =============================================================================
// TYPES
// =============================================================================

// Action names one simulated operation.
type Action string

const (
	ActionCreate              Action = "create"
	ActionModify              Action = "modify"
	ActionDelete              Action = "delete"
	ActionValidateSyntax      Action = "validate-syntax"
	ActionCheckConflicts      Action = "check-conflicts"
	ActionEstimatePerformance Action = "estimate-performance"
)

// Status grades one plan step.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Impact grades the whole change.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// largeChangeLines is the churn above which a step downgrades to warning.
const largeChangeLines = 100

// PlanStep is one simulated operation and its outcome.
type PlanStep struct {
	Index   int               `json:"index"`
	Action  Action            `json:"action"`
	Target  string            `json:"target"`
	Status  Status            `json:"status"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Summary aggregates the plan.
type Summary struct {
	Steps         int `json:"steps"`
	Succeeded     int `json:"succeeded"`
	Warnings      int `json:"warnings"`
	Errors        int `json:"errors"`
	FilesAffected int `json:"filesAffected"`
	LinesChanged  int `json:"linesChanged"`
}

// Plan is the full simulation result. Cancelled marks a plan cut short by
// context cancellation; its steps are the ones accumulated so far.
type Plan struct {
	Steps        []PlanStep `json:"steps"`
	Summary      Summary    `json:"summary"`
	Success      bool       `json:"success"`
	RollbackPlan string     `json:"rollbackPlan"`
	Impact       Impact     `json:"impact"`
	Cancelled    bool       `json:"cancelled,omitempty"`
}

// Options selects the optional simulation passes.
type Options struct {
	ValidateSyntax      bool `json:"validateSyntax"`
	DetectConflicts     bool `json:"detectConflicts"`
	EstimatePerformance bool `json:"estimatePerformance"`
}

// DefaultOptions enables every pass.
func DefaultOptions() Options {
	return Options{ValidateSyntax: true, DetectConflicts: true, EstimatePerformance: true}
}

// =============================================================================
// SIMULATOR
// =============================================================================

// Simulator plans patch applications. It never writes to the tree.
type Simulator struct {
	validator *validate.Validator
	logger    *zap.Logger
}

// New creates a Simulator. The validator powers the optional syntax pass and
// may be nil when that pass is disabled.
func New(validator *validate.Validator, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{validator: validator, logger: logger.Named("dryrun")}
}

// Simulate produces the plan for applying patches under root. An empty patch
// set skips the per-patch passes; the conflict and performance passes still
// contribute their steps and the plan succeeds.
func (s *Simulator) Simulate(ctx context.Context, root string, patches []diff.Patch, opts Options) *Plan {
	plan := &Plan{}

	for _, p := range patches {
		if ctx.Err() != nil {
			plan.Cancelled = true
			break
		}
		plan.add(s.simulatePatch(root, p))
	}

	if !plan.Cancelled && opts.ValidateSyntax && s.validator != nil {
		for _, p := range patches {
			if ctx.Err() != nil {
				plan.Cancelled = true
				break
			}
			plan.add(s.validateSyntax(ctx, root, p))
		}
	}
	if !plan.Cancelled && opts.DetectConflicts {
		plan.add(detectConflicts(patches))
	}
	if !plan.Cancelled && opts.EstimatePerformance {
		plan.add(estimatePerformance(patches))
	}

	plan.finish(patches)
	s.logger.Debug("dry run complete",
		zap.Int("steps", plan.Summary.Steps),
		zap.Int("errors", plan.Summary.Errors),
		zap.Bool("success", plan.Success),
		zap.Bool("cancelled", plan.Cancelled))
	return plan
}

// simulatePatch checks one patch's preconditions against the tree.
func (s *Simulator) simulatePatch(root string, p diff.Patch) PlanStep {
	target := filepath.Join(root, p.Filename)
	content, readErr := os.ReadFile(target)
	exists := readErr == nil
	added, removed := p.Stats()
	churn := added + removed

	step := PlanStep{
		Target: p.Filename,
		Details: map[string]string{
			"linesAdded":   fmt.Sprintf("%d", added),
			"linesRemoved": fmt.Sprintf("%d", removed),
		},
	}

	switch {
	case p.IsNew:
		step.Action = ActionCreate
		if exists {
			step.Status = StatusError
			step.Message = "target already exists"
			return step
		}
		step.Status = StatusSuccess
		step.Message = fmt.Sprintf("would create file with %d lines", added)

	case p.IsDeleted:
		step.Action = ActionDelete
		if !exists {
			step.Status = StatusError
			step.Message = "target does not exist"
			return step
		}
		step.Status = StatusSuccess
		step.Message = fmt.Sprintf("would delete file (%d lines)", removed)

	default:
		step.Action = ActionModify
		if !exists {
			step.Status = StatusError
			step.Message = "target does not exist"
			return step
		}
		if !diff.Applies(string(content), p) {
			step.Status = StatusError
			step.Message = "patch does not apply to the current content"
			return step
		}
		step.Status = StatusSuccess
		step.Message = fmt.Sprintf("would modify file (+%d/-%d lines)", added, removed)
	}

	if churn > largeChangeLines {
		step.Status = StatusWarning
		step.Message += fmt.Sprintf("; large change (%d lines)", churn)
	}
	return step
}

// validateSyntax runs the post-image through the content checks.
func (s *Simulator) validateSyntax(ctx context.Context, root string, p diff.Patch) PlanStep {
	step := PlanStep{Action: ActionValidateSyntax, Target: p.Filename}

	if p.IsDeleted {
		step.Status = StatusSuccess
		step.Message = "deletion; nothing to validate"
		return step
	}

	original := ""
	if !p.IsNew {
		content, err := os.ReadFile(filepath.Join(root, p.Filename))
		if err != nil {
			step.Status = StatusError
			step.Message = "cannot read target for post-image validation"
			return step
		}
		original = string(content)
	}

	post, err := diff.Apply(original, p)
	if err != nil {
		step.Status = StatusError
		step.Message = "cannot build post-image: " + err.Error()
		return step
	}

	result := s.validator.ValidateContent(ctx, p.Filename, post)
	switch {
	case len(result.Errors) > 0:
		step.Status = StatusError
		step.Message = fmt.Sprintf("post-image has %d syntax errors", len(result.Errors))
		step.Details = map[string]string{"firstError": result.Errors[0]}
	case len(result.Warnings) > 0:
		step.Status = StatusWarning
		step.Message = fmt.Sprintf("post-image has %d warnings", len(result.Warnings))
		step.Details = map[string]string{"firstWarning": result.Warnings[0]}
	default:
		step.Status = StatusSuccess
		step.Message = "post-image parses cleanly"
	}
	return step
}

// detectConflicts finds patches that collide on the same target.
func detectConflicts(patches []diff.Patch) PlanStep {
	step := PlanStep{Action: ActionCheckConflicts, Target: "."}

	seen := make(map[string]int)
	deleted := make(map[string]bool)
	modified := make(map[string]bool)
	var conflicts []string

	for _, p := range patches {
		seen[p.Filename]++
		if p.IsDeleted {
			deleted[p.Filename] = true
		} else {
			modified[p.Filename] = true
		}
	}
	for name, n := range seen {
		if n > 1 {
			conflicts = append(conflicts, fmt.Sprintf("%s is targeted by %d patches", name, n))
		}
		if deleted[name] && modified[name] {
			conflicts = append(conflicts, fmt.Sprintf("%s is both deleted and modified", name))
		}
	}
	sort.Strings(conflicts)

	if len(conflicts) > 0 {
		step.Status = StatusError
		step.Message = fmt.Sprintf("%d conflicts detected", len(conflicts))
		step.Details = map[string]string{"conflicts": strings.Join(conflicts, "; ")}
		return step
	}
	step.Status = StatusSuccess
	step.Message = "no conflicts between patches"
	return step
}

// estimatePerformance produces a synthetic apply-time estimate from churn.
func estimatePerformance(patches []diff.Patch) PlanStep {
	files := uniqueTargets(patches)
	lines := 0
	for _, p := range patches {
		added, removed := p.Stats()
		lines += added + removed
	}
	// Synthetic model: ~2ms per changed line + ~10ms per file touched.
	estimate := lines*2 + len(files)*10

	return PlanStep{
		Action:  ActionEstimatePerformance,
		Target:  ".",
		Status:  StatusSuccess,
		Message: fmt.Sprintf("estimated apply time %dms across %d files", estimate, len(files)),
		Details: map[string]string{
			"estimatedMs":   fmt.Sprintf("%d", estimate),
			"filesAffected": fmt.Sprintf("%d", len(files)),
			"linesChanged":  fmt.Sprintf("%d", lines),
		},
	}
}

// =============================================================================
// PLAN ASSEMBLY
// =============================================================================

func (p *Plan) add(step PlanStep) {
	step.Index = len(p.Steps)
	p.Steps = append(p.Steps, step)
}

func (p *Plan) finish(patches []diff.Patch) {
	for _, s := range p.Steps {
		switch s.Status {
		case StatusSuccess:
			p.Summary.Succeeded++
		case StatusWarning:
			p.Summary.Warnings++
		case StatusError:
			p.Summary.Errors++
		}
	}
	p.Summary.Steps = len(p.Steps)

	files := uniqueTargets(patches)
	p.Summary.FilesAffected = len(files)
	for _, patch := range patches {
		added, removed := patch.Stats()
		p.Summary.LinesChanged += added + removed
	}

	p.Success = p.Summary.Errors == 0 && !p.Cancelled
	p.Impact = classifyImpact(patches, p.Summary)
	p.RollbackPlan = rollbackPlan(patches)
}

func classifyImpact(patches []diff.Patch, s Summary) Impact {
	anyDelete := false
	for _, p := range patches {
		if p.IsDeleted {
			anyDelete = true
			break
		}
	}
	switch {
	case s.LinesChanged > 200 || s.FilesAffected > 5 || anyDelete:
		return ImpactHigh
	case s.LinesChanged > 50 || s.FilesAffected > 2:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// rollbackPlan renders the inverse actions in reverse order.
func rollbackPlan(patches []diff.Patch) string {
	if len(patches) == 0 {
		return "nothing to roll back"
	}
	var b strings.Builder
	n := 1
	for i := len(patches) - 1; i >= 0; i-- {
		p := patches[i]
		switch {
		case p.IsNew:
			fmt.Fprintf(&b, "%d. delete created file %s\n", n, p.Filename)
		case p.IsDeleted:
			fmt.Fprintf(&b, "%d. restore %s from backup\n", n, p.Filename)
		default:
			fmt.Fprintf(&b, "%d. restore %s from backup\n", n, p.Filename)
		}
		n++
	}
	b.WriteString("Backups recorded under the application directory enable full restoration.")
	return b.String()
}

func uniqueTargets(patches []diff.Patch) []string {
	set := make(map[string]struct{}, len(patches))
	for _, p := range patches {
		set[p.Filename] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
