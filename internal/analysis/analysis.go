package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"forgefix/internal/faults"
	"forgefix/internal/prune"
	"forgefix/internal/redact"
)

// Analysis is the immutable result of one classification run.
type Analysis struct {
	ID          string            `json:"id"`
	Events      []FailureEvent    `json:"events"`
	Primary     FailureEvent      `json:"primary"`
	Confidence  ConfidenceMetrics `json:"confidence"`
	BlastRadius Radius            `json:"blastRadius"`
	Redaction   redact.Stats      `json:"redaction"`
	Pruning     prune.Stats       `json:"pruning"`
	DurationMs  int64             `json:"durationMs"`
}

// IsCritical reports whether the primary failure is critical severity.
// The gate needs this to decide whether auto-apply is permitted.
func (a *Analysis) IsCritical() bool {
	return a.Primary.Severity == SeverityCritical
}

// Analyzer ties the rule engine, the confidence scorer, and the blast-radius
// estimator into one classification pass.
type Analyzer struct {
	engine    *Engine
	scorer    *Scorer
	estimator *Estimator
	logger    *zap.Logger
}

// NewAnalyzer creates an Analyzer over the default catalogue.
func NewAnalyzer(config EngineConfig, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		engine:    NewEngine(config),
		scorer:    NewScorer(),
		estimator: NewEstimator(),
		logger:    logger.Named("analysis"),
	}
}

// Analyze classifies the pruned log and scores the primary failure. Scoring
// and blast-radius estimation run concurrently once the primary event is
// known. An empty classification is fatal: the caller receives
// NoFailureDetected.
func (a *Analyzer) Analyze(ctx context.Context, redacted redact.Log, pruned prune.Log, meta *WorkflowMeta) (*Analysis, error) {
	start := time.Now()

	matches := a.engine.Classify(pruned.Text)
	if len(matches) == 0 {
		return nil, faults.New(faults.NoFailureDetected, "no rule matched the log")
	}

	primary := pickPrimary(matches)

	var (
		confidence ConfidenceMetrics
		radius     Radius
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		confidence = a.scorer.Score(primary)
		return nil
	})
	g.Go(func() error {
		radius = a.estimator.Estimate(primary.Event, meta)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if f := faults.FromContext(ctx); f != nil {
		return nil, f
	}

	events := make([]FailureEvent, len(matches))
	for i, m := range matches {
		events[i] = m.Event
	}

	a.logger.Debug("classification complete",
		zap.Int("events", len(events)),
		zap.String("primaryType", string(primary.Event.Type)),
		zap.String("primaryRule", primary.RuleID),
		zap.Float64("confidence", confidence.Score),
		zap.String("blastRadius", string(radius.Level)),
	)

	return &Analysis{
		ID:          uuid.NewString(),
		Events:      events,
		Primary:     primary.Event,
		Confidence:  confidence,
		BlastRadius: radius,
		Redaction:   redacted.Stats,
		Pruning:     pruned.Stats(),
		DurationMs:  time.Since(start).Milliseconds(),
	}, nil
}

// BoostConfidence applies external boolean context signals to an existing
// analysis, returning the updated metrics.
func (a *Analyzer) BoostConfidence(analysis *Analysis, signals map[string]bool) ConfidenceMetrics {
	analysis.Confidence = a.scorer.Boost(analysis.Confidence, signals)
	return analysis.Confidence
}

// pickPrimary selects the event the pipeline reasons about: highest severity,
// then highest rule modifier, then earliest appearance.
func pickPrimary(matches []Match) Match {
	best := matches[0]
	for _, m := range matches[1:] {
		if severityRank(m.Event.Severity) > severityRank(best.Event.Severity) {
			best = m
			continue
		}
		if severityRank(m.Event.Severity) == severityRank(best.Event.Severity) &&
			m.Modifier > best.Modifier {
			best = m
		}
	}
	return best
}
