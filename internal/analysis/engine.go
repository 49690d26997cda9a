package analysis

import (
	"regexp"
	"strings"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// EngineConfig bounds the line scan.
type EngineConfig struct {
	// MaxEvents stops the scan once this many events were emitted.
	MaxEvents int
	// StepLookback is how many preceding lines are searched for a step
	// delimiter.
	StepLookback int
	// TraceBefore/TraceAfter bound the stack-trace capture window around a
	// matched line.
	TraceBefore int
	TraceAfter  int
}

// DefaultEngineConfig returns the standard scan bounds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxEvents:    100,
		StepLookback: 20,
		TraceBefore:  5,
		TraceAfter:   15,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine scans a pruned log line by line against the rule catalogue.
// The first rule matching a line wins for that line.
type Engine struct {
	config EngineConfig
	rules  []*Rule
}

// NewEngine creates an engine over the default catalogue.
func NewEngine(config EngineConfig) *Engine {
	return NewEngineWithRules(config, DefaultCatalogue())
}

// NewEngineWithRules creates an engine over a custom catalogue. Catalogue
// order is preserved.
func NewEngineWithRules(config EngineConfig, rules []*Rule) *Engine {
	def := DefaultEngineConfig()
	if config.MaxEvents <= 0 {
		config.MaxEvents = def.MaxEvents
	}
	if config.StepLookback <= 0 {
		config.StepLookback = def.StepLookback
	}
	if config.TraceBefore <= 0 {
		config.TraceBefore = def.TraceBefore
	}
	if config.TraceAfter <= 0 {
		config.TraceAfter = def.TraceAfter
	}
	return &Engine{config: config, rules: rules}
}

// Classify emits one Match per matched line in order of appearance. An empty
// result means no rule fired; the caller treats that as fatal to the run.
func (e *Engine) Classify(text string) []Match {
	lines := strings.Split(text, "\n")
	matches := make([]Match, 0, 8)

	for i, line := range lines {
		if len(matches) >= e.config.MaxEvents {
			break
		}
		for _, rule := range e.rules {
			sub := rule.Pattern.FindStringSubmatch(line)
			if sub == nil {
				continue
			}
			event := FailureEvent{
				Type:       rule.Type,
				Severity:   rule.Severity,
				Message:    strings.TrimSpace(line),
				LineNumber: i + 1,
				Step:       e.resolveStep(lines, i),
				Context:    map[string]string{},
			}
			if rule.ExtractContext != nil {
				for k, v := range rule.ExtractContext(line, sub) {
					event.Context[k] = v
				}
			}
			if trace := e.captureStackTrace(lines, i); trace != "" {
				event.StackTrace = trace
			}
			matches = append(matches, Match{
				Event:    event,
				RuleID:   rule.ID,
				Modifier: rule.ConfidenceModifier,
				Fallback: rule.Fallback(),
			})
			break // first rule wins for this line
		}
	}
	return matches
}

// =============================================================================
// STEP RESOLUTION
// =============================================================================

var (
	stepGroupRun = regexp.MustCompile(`^##\[group\]Run\s+(.+)$`)
	stepItem     = regexp.MustCompile(`^##\[([a-z]+)\](.+)$`)
	stepBracket  = regexp.MustCompile(`^\[([^\[\]]+)\]$`)
	stepColon    = regexp.MustCompile(`^([A-Za-z][\w ./-]{0,60}):$`)
)

// Log-level tags share the ##[...] shape but never name a step.
var nonStepTags = map[string]bool{
	"error": true, "warning": true, "notice": true, "debug": true, "endgroup": true,
}

// resolveStep scans up to StepLookback lines preceding the match for a step
// delimiter. Delimiter shapes, most specific first: "##[group]Run X",
// "##[item]X", "[X]", "X:". Returns "unknown" when nothing matches.
func (e *Engine) resolveStep(lines []string, idx int) string {
	lo := idx - e.config.StepLookback
	if lo < 0 {
		lo = 0
	}
	for i := idx - 1; i >= lo; i-- {
		line := strings.TrimSpace(lines[i])
		if m := stepGroupRun.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := stepItem.FindStringSubmatch(line); m != nil && !nonStepTags[m[1]] {
			return strings.TrimSpace(m[2])
		}
		if m := stepBracket.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := stepColon.FindStringSubmatch(line); m != nil && !nonStepTags[strings.ToLower(m[1])] {
			return strings.TrimSpace(m[1])
		}
	}
	return "unknown"
}

// =============================================================================
// STACK TRACE CAPTURE
// =============================================================================

var traceLine = regexp.MustCompile(`^\s+at |Error:|\bstack\b|Traceback \(most recent call last\)|^\s+File "|^\s+raise |^goroutine \d+`)

// captureStackTrace inspects a window of TraceBefore lines before and
// TraceAfter lines after the match. The trace-looking lines of the window are
// attached when at least two are present.
func (e *Engine) captureStackTrace(lines []string, idx int) string {
	lo := idx - e.config.TraceBefore
	if lo < 0 {
		lo = 0
	}
	hi := idx + e.config.TraceAfter
	if hi >= len(lines) {
		hi = len(lines) - 1
	}
	var traceLines []string
	for i := lo; i <= hi; i++ {
		if traceLine.MatchString(lines[i]) {
			traceLines = append(traceLines, lines[i])
		}
	}
	if len(traceLines) < 2 {
		return ""
	}
	return strings.Join(traceLines, "\n")
}
