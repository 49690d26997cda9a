// Package pipeline drives one diagnosis end to end: scrub, prune, classify,
// reason, diff, validate, decide. The stage packages own the mechanics; this
// package owns the sequencing, the audit tees, and the report the callers
// render. Application and rollback are separate entry points because the
// gate sits between analysis and any write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"forgefix/internal/agents"
	"forgefix/internal/analysis"
	"forgefix/internal/apply"
	"forgefix/internal/audit"
	"forgefix/internal/budget"
	"forgefix/internal/config"
	"forgefix/internal/diff"
	"forgefix/internal/dryrun"
	"forgefix/internal/faults"
	"forgefix/internal/gate"
	"forgefix/internal/llm"
	"forgefix/internal/prune"
	"forgefix/internal/redact"
	"forgefix/internal/validate"
)

// =============================================================================
// REQUEST AND REPORT
// =============================================================================

// Request carries the artifacts of one failed run into the pipeline.
type Request struct {
	// Log is the raw CI log. Nothing else sees it before the scrubber.
	Log string
	// Workflow is the workflow configuration YAML. Optional.
	Workflow string
	// Changes is the change-set diff of the failing run. Optional.
	Changes string
	// Resource names the run in journal entries, e.g. "owner/repo#123".
	Resource string
	// Root is the working tree the fix targets. Empty means the current
	// directory.
	Root string
}

// Report is everything one pipeline run produced. On failure the stages that
// completed stay populated, so callers can render partial findings next to
// the error.
type Report struct {
	Analysis   *analysis.Analysis `json:"analysis,omitempty"`
	Agents     *agents.Result     `json:"agents,omitempty"`
	Patches    []diff.Patch       `json:"patches,omitempty"`
	PatchText  string             `json:"patchText,omitempty"`
	Validation *validate.Report   `json:"validation,omitempty"`
	Decision   *gate.Decision     `json:"decision,omitempty"`
	Resource   string             `json:"resource,omitempty"`
	LocalOnly  bool               `json:"localOnly,omitempty"`
	DurationMs int64              `json:"durationMs"`
}

// =============================================================================
// DRIVER
// =============================================================================

// stages are the components ReloadConfig may swap mid-flight. A run works on
// the snapshot it took at entry, so a reload never mixes configurations
// within one run.
type stages struct {
	redactor  *redact.Redactor
	pruner    *prune.Pruner
	gate      *gate.Gate
	localOnly bool
}

// Driver sequences the pipeline. One Driver serves the whole process and is
// safe for concurrent runs; the applicator's per-root lock serialises writes.
type Driver struct {
	logger    *zap.Logger
	journal   *audit.Journal
	backend   llm.Client
	budgeter  *budget.Budgeter
	analyzer  *analysis.Analyzer
	orch      *agents.Orchestrator
	differ    *diff.Engine
	validator *validate.Validator

	mu sync.RWMutex
	st stages
}

// New assembles a Driver from the merged configuration. A nil backend forces
// local-only analysis regardless of cfg.LocalOnly; a nil journal disables
// the audit tees. The backend, the token budget, and the journal are fixed
// for the Driver's lifetime — ReloadConfig swaps only the scrubbing,
// pruning, and gating stages.
func New(cfg *config.Config, backend llm.Client, journal *audit.Journal, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}

	budgeter := budget.New(budget.Config{CapOverride: cfg.Budget.TokenCap})

	var orch *agents.Orchestrator
	if backend != nil {
		runner := agents.NewRunner(backend, budgeter, agents.PipelinePolicy(), logger)
		orch = agents.New(runner, logger)
	}

	return &Driver{
		logger:    logger.Named("pipeline"),
		journal:   journal,
		backend:   backend,
		budgeter:  budgeter,
		analyzer:  analysis.NewAnalyzer(analysis.DefaultEngineConfig(), logger),
		orch:      orch,
		differ:    diff.NewEngine(3),
		validator: validate.New(logger),
		st:        buildStages(cfg),
	}
}

func buildStages(cfg *config.Config) stages {
	return stages{
		redactor: redact.New(redact.Config{Aggressive: cfg.Redaction.Aggressive}),
		pruner: prune.New(prune.Config{
			HeadLines: cfg.Pruning.HeadLines,
			TailLines: cfg.Pruning.TailLines,
		}),
		gate: gate.New(gate.Config{
			AutoApplyThreshold:        cfg.Gate.AutoApplyThreshold,
			ManualReviewThreshold:     cfg.Gate.ManualReviewThreshold,
			EscalateThreshold:         cfg.Gate.EscalateThreshold,
			AllowAutoApplyOnCritical:  cfg.Gate.AllowAutoApplyOnCritical,
			RequiresSecurityReview:    cfg.Gate.RequiresSecurityReview,
			RequiresPerformanceReview: cfg.Gate.RequiresPerformanceReview,
		}),
		localOnly: cfg.LocalOnly,
	}
}

// ReloadConfig rebuilds the swappable stages from a fresh configuration and
// journals the change. Backend and budget changes need a new Driver.
func (d *Driver) ReloadConfig(cfg *config.Config) {
	d.mu.Lock()
	d.st = buildStages(cfg)
	d.mu.Unlock()

	if d.journal != nil {
		d.tee(d.journal.ConfigChange("pipeline", "scrubbing, pruning, and gating stages rebuilt"))
	}
	d.logger.Info("configuration reloaded",
		zap.Bool("aggressiveRedaction", cfg.Redaction.Aggressive),
		zap.Bool("localOnly", cfg.LocalOnly),
		zap.Float64("autoApplyThreshold", cfg.Gate.AutoApplyThreshold))
}

func (d *Driver) snapshot() stages {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st
}

// Close releases the validator's parsers. The journal and the backend belong
// to the caller.
func (d *Driver) Close() {
	d.validator.Close()
}

// =============================================================================
// ANALYSIS ENTRY POINTS
// =============================================================================

// Analyze runs the pipeline to a gate decision. Nothing is written to the
// working tree; Apply is a separate step.
func (d *Driver) Analyze(ctx context.Context, req Request) (*Report, error) {
	return d.run(ctx, req, nil)
}

// AnalyzeStream is Analyze with live progress: each expert chunk is handed
// to onChunk before the next one is produced, so a slow consumer slows the
// producer instead of dropping output. The callback runs on the pipeline
// goroutine.
func (d *Driver) AnalyzeStream(ctx context.Context, req Request, onChunk func(agents.Chunk)) (*Report, error) {
	return d.run(ctx, req, onChunk)
}

func (d *Driver) run(ctx context.Context, req Request, onChunk func(agents.Chunk)) (rep *Report, err error) {
	start := time.Now()
	st := d.snapshot()

	rep = &Report{Resource: req.Resource}
	defer func() { rep.DurationMs = time.Since(start).Milliseconds() }()

	// Scrub first. The raw log is not referenced again after this point.
	redacted, err := st.redactor.Redact(req.Log)
	if err != nil {
		return rep, err
	}
	d.journalSecrets(req.Resource, redacted.Stats)

	pruned := st.pruner.Prune(redacted.Text)

	// Workflow metadata is best effort: a workflow that does not parse
	// costs the blast-radius estimate its matrix context, nothing more.
	var meta *analysis.WorkflowMeta
	if req.Workflow != "" {
		m, metaErr := analysis.MetaFromWorkflow(req.Workflow)
		if metaErr != nil {
			d.logger.Warn("workflow metadata skipped", zap.Error(metaErr))
		} else {
			meta = m
		}
	}

	an, err := d.analyzer.Analyze(ctx, redacted, pruned, meta)
	if err != nil {
		return rep, err
	}
	rep.Analysis = an

	d.analyzer.BoostConfidence(an, map[string]bool{
		"workflow-context":   req.Workflow != "",
		"change-set-context": req.Changes != "",
	})

	if st.localOnly || d.orch == nil {
		return d.finishLocal(rep, an, st)
	}

	// A quarter of the model cap leaves the experts room for the workflow,
	// the change set, the accumulated findings, and their own output.
	snippet := d.budgeter.OptimizeLogSnippet(pruned.Text, d.budgeter.CapFor(d.backend.Model())/4)
	in := agents.Inputs{
		LogSnippet:     snippet,
		Workflow:       req.Workflow,
		Changes:        req.Changes,
		FailureType:    string(an.Primary.Type),
		FailureMessage: an.Primary.Message,
	}

	var res *agents.Result
	if onChunk == nil {
		res, err = d.orch.Run(ctx, in)
	} else {
		stream := d.orch.Stream(ctx, in)
		for c := range stream.Chunks() {
			onChunk(c)
			stream.Ack()
		}
		res, err = stream.Wait()
	}
	rep.Agents = res
	if err != nil {
		return rep, err
	}

	fix := res.FixGenerator
	if d.journal != nil {
		d.tee(d.journal.FixGenerated(req.Resource, an.ID, fix.Confidence))
	}

	root := req.Root
	if root == "" {
		root = "."
	}
	original, err := preImage(root, fix.FixFile)
	if err != nil {
		return rep, err
	}

	patch := d.differ.Compute(fix.FixFile, original, fix.FixContent)
	if !patch.IsEmpty() {
		rep.Patches = []diff.Patch{patch}
		rep.PatchText = diff.FormatAll(rep.Patches)
	}

	vr := d.validator.ValidateAll(ctx, rep.Patches, map[string]string{fix.FixFile: original})
	rep.Validation = &vr
	if d.journal != nil {
		d.tee(d.journal.ValidationCheck(req.Resource, vr.TotalErrors, vr.TotalWarnings))
	}

	dec := st.gate.Decide(gate.Input{
		Score:              fix.Confidence,
		CriticalFailure:    an.IsCritical(),
		ValidationErrors:   vr.TotalErrors,
		ValidationWarnings: vr.TotalWarnings,
		Patches:            rep.Patches,
	})
	rep.Decision = &dec
	d.journalGate(req.Resource, an.ID, dec)

	d.logger.Info("diagnosis complete",
		zap.String("resource", req.Resource),
		zap.String("primaryType", string(an.Primary.Type)),
		zap.Float64("fixConfidence", fix.Confidence),
		zap.String("gateAction", string(dec.Action)),
		zap.Int("backendCalls", res.Usage.Calls))
	return rep, nil
}

// finishLocal closes out a run that stops after classification: the gate
// decides on the classifier's own score and no patch exists to weigh.
func (d *Driver) finishLocal(rep *Report, an *analysis.Analysis, st stages) (*Report, error) {
	rep.LocalOnly = true
	dec := st.gate.Decide(gate.Input{
		Score:           an.Confidence.Score,
		CriticalFailure: an.IsCritical(),
	})
	rep.Decision = &dec
	d.journalGate(rep.Resource, an.ID, dec)

	d.logger.Info("local-only diagnosis complete",
		zap.String("resource", rep.Resource),
		zap.String("primaryType", string(an.Primary.Type)),
		zap.Float64("score", an.Confidence.Score),
		zap.String("gateAction", string(dec.Action)))
	return rep, nil
}

// preImage reads the fix target's current content under root. A missing file
// means the fix creates it.
func preImage(root, file string) (string, error) {
	if file == "" {
		return "", faults.New(faults.SchemaViolation, "fix proposal names no target file")
	}
	clean := filepath.Clean(filepath.FromSlash(file))
	if !filepath.IsLocal(clean) {
		return "", faults.New(faults.InputInvalid, "fix target %q escapes the working tree", file)
	}
	data, err := os.ReadFile(filepath.Join(root, clean))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", faults.Wrap(faults.ApplyFailed, err, "cannot read fix target %q", file)
	}
	return string(data), nil
}

// =============================================================================
// APPLICATION ENTRY POINTS
// =============================================================================

// DryRun simulates the report's patches against root without writing.
func (d *Driver) DryRun(ctx context.Context, rep *Report, root string) *dryrun.Plan {
	sim := dryrun.New(d.validator, d.logger)
	return sim.Simulate(ctx, root, rep.Patches, dryrun.DefaultOptions())
}

// Apply writes the report's patches under root, honouring its gate decision.
// Options.AutoApply marks a human-approved manual-review decision.
func (d *Driver) Apply(ctx context.Context, rep *Report, root string, opts apply.Options) (*apply.Record, error) {
	if rep.Decision == nil {
		return nil, faults.New(faults.InputInvalid, "report carries no gate decision")
	}
	app, err := apply.New(root, d.journal, dryrun.New(d.validator, d.logger), d.logger)
	if err != nil {
		return nil, err
	}
	return app.Apply(ctx, rep.Patches, *rep.Decision, opts)
}

// Rollback restores the snapshot of a previous application under root.
func (d *Driver) Rollback(ctx context.Context, root, applicationID string) (*apply.RollbackResult, error) {
	app, err := apply.New(root, d.journal, nil, d.logger)
	if err != nil {
		return nil, err
	}
	return app.Rollback(ctx, applicationID)
}

// =============================================================================
// AUDIT TEES
// =============================================================================

func (d *Driver) journalSecrets(resource string, stats redact.Stats) {
	if d.journal == nil {
		return
	}
	d.tee(d.journal.SecretsScan(resource, stats.SecretsFound, string(stats.Risk)))
	if stats.Risk == redact.RiskCritical {
		d.tee(d.journal.SecurityAlert(resource,
			fmt.Sprintf("submitted log contained critical-severity secrets (%d findings)", stats.SecretsFound)))
	}
}

func (d *Driver) journalGate(resource, fixID string, dec gate.Decision) {
	if d.journal == nil {
		return
	}
	d.tee(d.journal.GateDecision(resource, fixID, string(dec.Action), dec.Reasoning, dec.Confidence))
}

// tee downgrades journaling failures to warnings: an unwritable audit trail
// must not abort a diagnosis that is otherwise sound.
func (d *Driver) tee(err error) {
	if err != nil {
		d.logger.Warn("audit journaling failed", zap.Error(err))
	}
}
