// Package gate decides what happens to a generated fix: apply it unattended,
// hold it for review, escalate it, or reject it. The decision is a pure
// function of the inputs; the gate holds no state and touches no files.
package gate

import (
	"fmt"
	"path/filepath"
	"strings"

	"forgefix/internal/diff"
)

// Action is the gate verdict.
type Action string

const (
	ActionAutoApply    Action = "auto-apply"
	ActionManualReview Action = "manual-review"
	ActionEscalate     Action = "escalate"
	ActionReject       Action = "reject"
)

// Config carries the thresholds and review flags.
type Config struct {
	AutoApplyThreshold    float64 `json:"autoApplyThreshold"`
	ManualReviewThreshold float64 `json:"manualReviewThreshold"`
	EscalateThreshold     float64 `json:"escalateThreshold"`

	AllowAutoApplyOnCritical  bool `json:"allowAutoApplyOnCritical"`
	RequiresSecurityReview    bool `json:"requiresSecurityReview"`
	RequiresPerformanceReview bool `json:"requiresPerformanceReview"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		AutoApplyThreshold:     0.9,
		ManualReviewThreshold:  0.6,
		EscalateThreshold:      0.3,
		RequiresSecurityReview: true,
	}
}

// Input is everything the gate considers.
type Input struct {
	// Score is the fix confidence in [0,1].
	Score float64
	// CriticalFailure marks a critical-severity primary failure.
	CriticalFailure bool
	// ValidationErrors and ValidationWarnings summarise the patch validation.
	ValidationErrors   int
	ValidationWarnings int
	// Patches is the proposed change set.
	Patches []diff.Patch
}

// Decision is the gate verdict with its reasoning and risk notes.
type Decision struct {
	Action          Action   `json:"action"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	Risks           []string `json:"risks"`
	Recommendations []string `json:"recommendations"`
}

// Gate evaluates decisions under one configuration.
type Gate struct {
	cfg Config
}

// New creates a gate, normalising out-of-range thresholds to defaults.
func New(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.AutoApplyThreshold <= 0 || cfg.AutoApplyThreshold > 1 {
		cfg.AutoApplyThreshold = def.AutoApplyThreshold
	}
	if cfg.ManualReviewThreshold <= 0 || cfg.ManualReviewThreshold > 1 {
		cfg.ManualReviewThreshold = def.ManualReviewThreshold
	}
	if cfg.EscalateThreshold <= 0 || cfg.EscalateThreshold > 1 {
		cfg.EscalateThreshold = def.EscalateThreshold
	}
	return &Gate{cfg: cfg}
}

var securityLexicon = []string{
	"auth", "secret", "password", "token", "credential", "permission", "access", "security",
}

var performanceLexicon = []string{
	"cache", "database", "query", "optimization", "performance",
}

// Decide applies the decision ladder. First match wins; risks and
// recommendations are attached regardless of the chosen action.
func (g *Gate) Decide(in Input) Decision {
	d := Decision{
		Confidence: in.Score,
		Risks:      assessRisks(in),
	}

	var securityPath, performancePath string
	if g.cfg.RequiresSecurityReview {
		securityPath = touchesLexicon(in.Patches, securityLexicon, false)
	}
	if g.cfg.RequiresPerformanceReview {
		performancePath = touchesLexicon(in.Patches, performanceLexicon, true)
	}

	switch {
	case in.ValidationErrors > 0:
		d.Action = ActionReject
		d.Reasoning = fmt.Sprintf("validation reported %d error(s); the patch cannot be trusted", in.ValidationErrors)

	case securityPath != "":
		d.Action = ActionManualReview
		d.Reasoning = fmt.Sprintf("security-sensitive path %q requires human review", securityPath)

	case performancePath != "":
		d.Action = ActionManualReview
		d.Reasoning = fmt.Sprintf("performance-sensitive path %q requires human review", performancePath)

	case in.Score >= g.cfg.AutoApplyThreshold:
		if in.CriticalFailure && !g.cfg.AllowAutoApplyOnCritical {
			d.Action = ActionManualReview
			d.Reasoning = fmt.Sprintf("confidence %.2f meets the auto-apply threshold %.2f, but the failure is critical and unattended application is disabled for critical failures", in.Score, g.cfg.AutoApplyThreshold)
		} else {
			d.Action = ActionAutoApply
			d.Reasoning = fmt.Sprintf("confidence %.2f meets the auto-apply threshold %.2f", in.Score, g.cfg.AutoApplyThreshold)
		}

	case in.Score >= g.cfg.ManualReviewThreshold:
		d.Action = ActionManualReview
		d.Reasoning = fmt.Sprintf("confidence %.2f is below the auto-apply threshold %.2f", in.Score, g.cfg.AutoApplyThreshold)

	case in.Score >= g.cfg.EscalateThreshold:
		d.Action = ActionEscalate
		d.Reasoning = fmt.Sprintf("confidence %.2f is too low for review; more context is needed", in.Score)

	default:
		d.Action = ActionReject
		d.Reasoning = fmt.Sprintf("confidence %.2f is below the escalate threshold %.2f", in.Score, g.cfg.EscalateThreshold)
	}

	d.Recommendations = recommend(d.Action, d.Risks)
	return d
}

// assessRisks enriches the decision with everything a reviewer should know,
// independent of the chosen action.
func assessRisks(in Input) []string {
	var risks []string

	if in.ValidationWarnings > 0 {
		risks = append(risks, fmt.Sprintf("%d validation warning(s)", in.ValidationWarnings))
	}

	newFiles := 0
	deletions := 0
	for _, p := range in.Patches {
		if p.IsNew {
			newFiles++
		}
		if p.IsDeleted {
			deletions++
		}
		if reason := criticalPathReason(p.Filename); reason != "" {
			risks = append(risks, fmt.Sprintf("touches %s (%s)", p.Filename, reason))
		}
	}
	if len(in.Patches) > 5 {
		risks = append(risks, fmt.Sprintf("change set touches %d files", len(in.Patches)))
	}
	if deletions > 0 {
		risks = append(risks, fmt.Sprintf("change set deletes %d file(s)", deletions))
	}
	if newFiles > 3 {
		risks = append(risks, fmt.Sprintf("change set creates %d new files", newFiles))
	}
	if in.CriticalFailure {
		risks = append(risks, "primary failure is critical severity")
	}
	return risks
}

var manifestNames = map[string]string{
	"package.json":      "package manifest",
	"go.mod":            "module manifest",
	"cargo.toml":        "package manifest",
	"pom.xml":           "package manifest",
	"pyproject.toml":    "package manifest",
	"requirements.txt":  "dependency manifest",
	"package-lock.json": "lockfile",
	"yarn.lock":         "lockfile",
	"pnpm-lock.yaml":    "lockfile",
	"go.sum":            "lockfile",
	"cargo.lock":        "lockfile",
}

func criticalPathReason(path string) string {
	base := strings.ToLower(filepath.Base(path))
	if reason, ok := manifestNames[base]; ok {
		return reason
	}
	lp := strings.ToLower(filepath.ToSlash(path))
	if strings.Contains(lp, ".github/workflows/") {
		return "workflow definition"
	}
	if strings.HasPrefix(base, "main.") || strings.HasPrefix(base, "index.") {
		return "entry point"
	}
	return ""
}

// touchesLexicon returns the first patched path matching a lexicon word.
// With entryPoints set, index.* files also match (performance review treats
// orchestrator entry points as sensitive).
func touchesLexicon(patches []diff.Patch, lexicon []string, entryPoints bool) string {
	for _, p := range patches {
		lp := strings.ToLower(filepath.ToSlash(p.Filename))
		for _, word := range lexicon {
			if strings.Contains(lp, word) {
				return p.Filename
			}
		}
		if entryPoints && strings.HasPrefix(strings.ToLower(filepath.Base(p.Filename)), "index.") {
			return p.Filename
		}
	}
	return ""
}

func recommend(action Action, risks []string) []string {
	var recs []string
	switch action {
	case ActionAutoApply:
		recs = append(recs, "Re-run the failed workflow after application to confirm the fix")
	case ActionManualReview:
		recs = append(recs, "Review the diff and apply manually once satisfied")
	case ActionEscalate:
		recs = append(recs, "Gather more context from the full CI log and involve a maintainer")
	case ActionReject:
		recs = append(recs, "Do not apply; re-run analysis with a richer log or fix the issue manually")
	}
	for _, r := range risks {
		if strings.Contains(r, "lockfile") || strings.Contains(r, "manifest") {
			recs = append(recs, "Verify dependency manifest and lockfile stay consistent")
			break
		}
	}
	return recs
}
