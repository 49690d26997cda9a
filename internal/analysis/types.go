// Package analysis classifies CI failures from pruned logs. It scans with an
// ordered rule catalogue, scores confidence from fixed signals, and estimates
// the blast radius of the primary failure.
package analysis

// FailureType categorises what broke.
type FailureType string

const (
	FailureAuth    FailureType = "auth"
	FailureBuild   FailureType = "build"
	FailureTest    FailureType = "test"
	FailureLint    FailureType = "lint"
	FailureDeploy  FailureType = "deploy"
	FailureNetwork FailureType = "network"
	FailureTimeout FailureType = "timeout"
	FailureEnv     FailureType = "env"
	FailureUnknown FailureType = "unknown"
)

// Severity grades a single failure event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// FailureEvent is one classified failure, ordered by appearance in the log.
type FailureEvent struct {
	Type       FailureType       `json:"type"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	LineNumber int               `json:"lineNumber"`
	Step       string            `json:"step"`
	Context    map[string]string `json:"context"`
	StackTrace string            `json:"stackTrace,omitempty"`
}

// Match pairs an event with the rule that produced it. The rule's modifier
// feeds the confidence scorer.
type Match struct {
	Event    FailureEvent
	RuleID   string
	Modifier float64
	Fallback bool
}
