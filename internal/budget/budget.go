// Package budget estimates prompt sizes and keeps them inside per-model
// token caps. Estimation is heuristic: the average of a word-based and a
// char-based count, which tracks real tokenisers closely enough for
// budgeting.
package budget

import (
	"fmt"
	"strings"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls budgeting.
type Config struct {
	// SafetyFraction of the model cap defines the usable budget ceiling.
	SafetyFraction float64
	// OutputFraction of the model cap is reserved for the response.
	OutputFraction float64
	// CapOverride, when positive, replaces the tabulated cap for every
	// model. Wired to the FORGE_TOKEN_BUDGET override.
	CapOverride int
	// DefaultCap applies to models missing from the table.
	DefaultCap int
	// SnippetHeadLines/SnippetTailLines shape the optimised log window.
	SnippetHeadLines int
	SnippetTailLines int
}

// DefaultConfig returns the standard budgeting parameters.
func DefaultConfig() Config {
	return Config{
		SafetyFraction:   0.80,
		OutputFraction:   0.20,
		DefaultCap:       128000,
		SnippetHeadLines: 50,
		SnippetTailLines: 200,
	}
}

// modelCaps tabulates total-token caps per model family. Longest prefix wins.
var modelCaps = map[string]int{
	"claude-opus":      200000,
	"claude-sonnet":    200000,
	"claude-haiku":     200000,
	"gpt-4o":           128000,
	"gpt-4o-mini":      128000,
	"gpt-4.1":          1000000,
	"gemini-2.0-flash": 1048576,
	"gemini-2.5-pro":   1048576,
	"gemini-1.5-pro":   2097152,
	"glm-4":            128000,
}

// =============================================================================
// TYPES
// =============================================================================

// Strategy selects which end of the text truncation discards.
type Strategy string

const (
	// TruncateStart drops the oldest lines first.
	TruncateStart Strategy = "start"
	// TruncateEnd drops the newest lines first.
	TruncateEnd Strategy = "end"
	// TruncateMiddle keeps both ends and drops the middle.
	TruncateMiddle Strategy = "middle"
)

// Check is the result of a budget check for one prompt.
type Check struct {
	InputTokens       int  `json:"inputTokens"`
	OutputReservation int  `json:"outputReservation"`
	Remaining         int  `json:"remaining"`
	Cap               int  `json:"cap"`
	Budget            int  `json:"budget"`
	OK                bool `json:"ok"`
}

// =============================================================================
// BUDGETER
// =============================================================================

// Budgeter checks and shrinks prompts against model caps.
type Budgeter struct {
	config Config
}

// New creates a Budgeter.
func New(config Config) *Budgeter {
	def := DefaultConfig()
	if config.SafetyFraction <= 0 || config.SafetyFraction > 1 {
		config.SafetyFraction = def.SafetyFraction
	}
	if config.OutputFraction <= 0 || config.OutputFraction >= 1 {
		config.OutputFraction = def.OutputFraction
	}
	if config.DefaultCap <= 0 {
		config.DefaultCap = def.DefaultCap
	}
	if config.SnippetHeadLines <= 0 {
		config.SnippetHeadLines = def.SnippetHeadLines
	}
	if config.SnippetTailLines <= 0 {
		config.SnippetTailLines = def.SnippetTailLines
	}
	return &Budgeter{config: config}
}

// EstimateTokens approximates the token count of text as the average of
// 1.3 x words and 0.25 x chars.
func (b *Budgeter) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)
	return int((1.3*float64(words) + 0.25*float64(chars)) / 2)
}

// CapFor returns the total-token cap for a model, honouring the override.
func (b *Budgeter) CapFor(model string) int {
	if b.config.CapOverride > 0 {
		return b.config.CapOverride
	}
	longest := 0
	capTokens := b.config.DefaultCap
	for prefix, c := range modelCaps {
		if strings.HasPrefix(model, prefix) && len(prefix) > longest {
			longest = len(prefix)
			capTokens = c
		}
	}
	return capTokens
}

// CheckBudget verifies that system + user + context fit inside the model's
// budget ceiling once the output reservation is set aside.
func (b *Budgeter) CheckBudget(model, system, user, context string) Check {
	capTokens := b.CapFor(model)
	budget := int(float64(capTokens) * b.config.SafetyFraction)
	reservation := int(float64(capTokens) * b.config.OutputFraction)
	input := b.EstimateTokens(system) + b.EstimateTokens(user) + b.EstimateTokens(context)
	remaining := budget - reservation - input

	return Check{
		InputTokens:       input,
		OutputReservation: reservation,
		Remaining:         remaining,
		Cap:               capTokens,
		Budget:            budget,
		OK:                remaining >= 0,
	}
}

// TruncateToFit shrinks text under tokenCap by dropping lines per the
// strategy, at most 20 iterations, then hard-truncates by character count
// as the last resort.
func (b *Budgeter) TruncateToFit(text string, tokenCap int, strategy Strategy) string {
	if tokenCap <= 0 {
		return ""
	}
	if b.EstimateTokens(text) <= tokenCap {
		return text
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < 20 && b.EstimateTokens(strings.Join(lines, "\n")) > tokenCap; i++ {
		drop := len(lines) / 10
		if drop < 1 {
			drop = 1
		}
		if drop >= len(lines) {
			lines = lines[:0]
			break
		}
		switch strategy {
		case TruncateStart:
			lines = lines[drop:]
		case TruncateEnd:
			lines = lines[:len(lines)-drop]
		default: // TruncateMiddle
			mid := len(lines) / 2
			half := drop / 2
			if half < 1 {
				half = 1
			}
			kept := make([]string, 0, len(lines)-2*half)
			kept = append(kept, lines[:mid-half]...)
			kept = append(kept, lines[mid+half:]...)
			lines = kept
		}
	}

	out := strings.Join(lines, "\n")
	if b.EstimateTokens(out) <= tokenCap {
		return out
	}

	// Line dropping was not enough; cut by characters. Three chars per
	// token keeps the estimate safely under the cap.
	maxChars := tokenCap * 3
	if len(out) <= maxChars {
		return out
	}
	switch strategy {
	case TruncateStart:
		return out[len(out)-maxChars:]
	case TruncateEnd:
		return out[:maxChars]
	default:
		half := maxChars / 2
		return out[:half] + "\n...\n" + out[len(out)-half:]
	}
}

// OptimizeLogSnippet builds a head + omission marker + tail window over the
// log and, if the window still exceeds the cap, applies middle truncation.
func (b *Budgeter) OptimizeLogSnippet(log string, tokenCap int) string {
	lines := strings.Split(log, "\n")
	head := b.config.SnippetHeadLines
	tail := b.config.SnippetTailLines

	snippet := log
	if len(lines) > head+tail {
		omitted := len(lines) - head - tail
		parts := make([]string, 0, head+tail+1)
		parts = append(parts, lines[:head]...)
		parts = append(parts, fmt.Sprintf("... [%d lines omitted] ...", omitted))
		parts = append(parts, lines[len(lines)-tail:]...)
		snippet = strings.Join(parts, "\n")
	}

	if b.EstimateTokens(snippet) > tokenCap {
		snippet = b.TruncateToFit(snippet, tokenCap, TruncateMiddle)
	}
	return snippet
}
