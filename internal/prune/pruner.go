// Package prune trims oversized CI logs to a head/tail window so prompts
// stay inside token budgets while keeping the failure-bearing tail intact.
package prune

import (
	"fmt"
	"strings"
)

// Config holds the window sizes.
type Config struct {
	HeadLines int
	TailLines int
}

// DefaultConfig keeps 100 lines of head and 500 of tail. CI failures cluster
// near the end of the log, so the tail window dominates.
func DefaultConfig() Config {
	return Config{HeadLines: 100, TailLines: 500}
}

// Log is the pruned output with its accounting. KeptHead + KeptTail +
// Omitted always equals TotalLines.
type Log struct {
	Text       string `json:"text"`
	TotalLines int    `json:"totalLines"`
	KeptHead   int    `json:"keptHead"`
	KeptTail   int    `json:"keptTail"`
	Omitted    int    `json:"omitted"`
}

// Stats is the accounting subset carried into the failure analysis.
type Stats struct {
	TotalLines int `json:"totalLines"`
	KeptHead   int `json:"keptHead"`
	KeptTail   int `json:"keptTail"`
	Omitted    int `json:"omitted"`
}

// Stats returns the accounting without the text.
func (l Log) Stats() Stats {
	return Stats{
		TotalLines: l.TotalLines,
		KeptHead:   l.KeptHead,
		KeptTail:   l.KeptTail,
		Omitted:    l.Omitted,
	}
}

// Pruner trims logs to the configured window.
type Pruner struct {
	config Config
}

// New creates a Pruner, falling back to defaults for non-positive counts.
func New(config Config) *Pruner {
	def := DefaultConfig()
	if config.HeadLines <= 0 {
		config.HeadLines = def.HeadLines
	}
	if config.TailLines <= 0 {
		config.TailLines = def.TailLines
	}
	return &Pruner{config: config}
}

// Prune returns the input unchanged when it fits the window, otherwise the
// first HeadLines lines, one omission marker, and the last TailLines lines.
// No line other than the marker is synthesised.
func (p *Pruner) Prune(text string) Log {
	lines := strings.Split(text, "\n")
	total := len(lines)

	if total <= p.config.HeadLines+p.config.TailLines {
		return Log{
			Text:       text,
			TotalLines: total,
			KeptHead:   total,
			KeptTail:   0,
			Omitted:    0,
		}
	}

	head := lines[:p.config.HeadLines]
	tail := lines[total-p.config.TailLines:]
	omitted := total - p.config.HeadLines - p.config.TailLines

	var b strings.Builder
	b.Grow(len(text))
	for _, line := range head {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(marker(omitted))
	b.WriteByte('\n')
	for i, line := range tail {
		b.WriteString(line)
		if i < len(tail)-1 {
			b.WriteByte('\n')
		}
	}

	return Log{
		Text:       b.String(),
		TotalLines: total,
		KeptHead:   p.config.HeadLines,
		KeptTail:   p.config.TailLines,
		Omitted:    omitted,
	}
}

func marker(omitted int) string {
	return fmt.Sprintf("... [%d lines omitted] ...", omitted)
}
