package analysis

import (
	"fmt"
	"math"
	"sort"
)

// =============================================================================
// TYPES
// =============================================================================

// SuggestedAction is the scorer's advisory verdict. The gate makes the
// binding decision later, with more inputs.
type SuggestedAction string

const (
	ActionAutoFix      SuggestedAction = "auto-fix"
	ActionManualReview SuggestedAction = "manual-review"
	ActionEscalate     SuggestedAction = "escalate"
)

// ConfidenceFactor is one scored signal.
type ConfidenceFactor struct {
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"`
	Matched bool    `json:"matched"`
	Reason  string  `json:"reason"`
}

// ConfidenceMetrics is the combined result. Score is in [0,1] and carries
// exactly two decimal places.
type ConfidenceMetrics struct {
	Score           float64            `json:"score"`
	Factors         []ConfidenceFactor `json:"factors"`
	SuggestedAction SuggestedAction    `json:"suggestedAction"`
}

// =============================================================================
// SIGNAL TABLES
// =============================================================================

var severityAlignment = map[Severity]float64{
	SeverityInfo:     0.40,
	SeverityWarning:  0.65,
	SeverityError:    0.85,
	SeverityCritical: 0.95,
}

var typeCertainty = map[FailureType]float64{
	FailureAuth:    0.95,
	FailureEnv:     0.92,
	FailureBuild:   0.90,
	FailureDeploy:  0.88,
	FailureTest:    0.85,
	FailureTimeout: 0.80,
	FailureLint:    0.75,
	FailureNetwork: 0.70,
	FailureUnknown: 0.30,
}

const (
	contextWeightPerKey = 0.1
	contextWeightCap    = 0.3
	stackTraceWeight    = 0.20
	stackTraceMinChars  = 50
	boostPerSignal      = 0.05
	boostCap            = 0.20
	autoFixThreshold    = 0.9
	escalateThreshold   = 0.6
)

// =============================================================================
// SCORER
// =============================================================================

// Scorer combines the five fixed signals with equal weight.
type Scorer struct{}

// NewScorer creates a Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes confidence for one classified match: the arithmetic mean of
// rule match, severity alignment, context richness, type certainty, and
// stack-trace presence, capped at 1.0 and rounded to two decimals.
func (s *Scorer) Score(m Match) ConfidenceMetrics {
	ev := m.Event

	ruleWeight := m.Modifier
	ruleReason := fmt.Sprintf("rule %s matched", m.RuleID)
	if m.Fallback {
		ruleWeight = 0.5
		ruleReason = "only the generic fallback rule matched"
	}

	ctxWeight := math.Min(contextWeightPerKey*float64(len(ev.Context)), contextWeightCap)

	traceWeight := 0.0
	traceMatched := len(ev.StackTrace) > stackTraceMinChars
	if traceMatched {
		traceWeight = stackTraceWeight
	}

	factors := []ConfidenceFactor{
		{
			Name:    "rule-match",
			Weight:  ruleWeight,
			Matched: !m.Fallback,
			Reason:  ruleReason,
		},
		{
			Name:    "severity-alignment",
			Weight:  severityAlignment[ev.Severity],
			Matched: true,
			Reason:  fmt.Sprintf("severity %s", ev.Severity),
		},
		{
			Name:    "context-richness",
			Weight:  ctxWeight,
			Matched: len(ev.Context) > 0,
			Reason:  fmt.Sprintf("%d context keys extracted", len(ev.Context)),
		},
		{
			Name:    "type-certainty",
			Weight:  typeCertainty[ev.Type],
			Matched: ev.Type != FailureUnknown,
			Reason:  fmt.Sprintf("failure type %s", ev.Type),
		},
		{
			Name:    "stack-trace",
			Weight:  traceWeight,
			Matched: traceMatched,
			Reason:  traceReason(traceMatched),
		},
	}

	sum := 0.0
	for _, f := range factors {
		sum += f.Weight
	}
	score := round2(math.Min(sum/float64(len(factors)), 1.0))

	return ConfidenceMetrics{
		Score:           score,
		Factors:         factors,
		SuggestedAction: suggestAction(score),
	}
}

// Boost raises the score by 0.05 per true external signal, capped at +0.20
// and 1.0 overall. Signal names are recorded in the appended factor reason.
func (s *Scorer) Boost(metrics ConfidenceMetrics, signals map[string]bool) ConfidenceMetrics {
	var active []string
	for name, on := range signals {
		if on {
			active = append(active, name)
		}
	}
	sort.Strings(active)

	boost := math.Min(boostPerSignal*float64(len(active)), boostCap)
	metrics.Factors = append(metrics.Factors, ConfidenceFactor{
		Name:    "context-boost",
		Weight:  boost,
		Matched: boost > 0,
		Reason:  fmt.Sprintf("%d external signals: %v", len(active), active),
	})
	metrics.Score = round2(math.Min(metrics.Score+boost, 1.0))
	metrics.SuggestedAction = suggestAction(metrics.Score)
	return metrics
}

func suggestAction(score float64) SuggestedAction {
	switch {
	case score >= autoFixThreshold:
		return ActionAutoFix
	case score < escalateThreshold:
		return ActionEscalate
	default:
		return ActionManualReview
	}
}

func traceReason(matched bool) string {
	if matched {
		return "non-trivial stack trace attached"
	}
	return "no stack trace"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
