package ux

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"forgefix/internal/agents"
	"forgefix/internal/analysis"
	"forgefix/internal/apply"
	"forgefix/internal/audit"
	"forgefix/internal/dryrun"
	"forgefix/internal/gate"
	"forgefix/internal/pipeline"
	"forgefix/internal/validate"
)

// =============================================================================
// REPORT MARKDOWN
// =============================================================================

// Markdown lays a report out as a markdown document. Partial reports render
// whatever stages completed; absent sections are omitted.
func Markdown(rep *pipeline.Report) string {
	var sb strings.Builder

	sb.WriteString("# " + reportTitle(rep) + "\n\n")

	if rep.Agents != nil && rep.Agents.Summary != nil && rep.Agents.Summary.Summary != "" {
		sb.WriteString(rep.Agents.Summary.Summary + "\n\n")
	}

	if rep.Analysis != nil {
		writeAnalysis(&sb, rep.Analysis, rep.LocalOnly)
	}
	if rep.Agents != nil {
		writeAgents(&sb, rep.Agents)
	}
	if rep.PatchText != "" {
		sb.WriteString("## Proposed patch\n\n```diff\n")
		sb.WriteString(strings.TrimRight(rep.PatchText, "\n"))
		sb.WriteString("\n```\n\n")
	}
	if rep.Validation != nil {
		writeValidation(&sb, rep.Validation)
	}
	if rep.Decision != nil {
		writeDecision(&sb, rep.Decision)
	}
	if rep.Agents != nil && rep.Agents.Summary != nil && len(rep.Agents.Summary.ActionItems) > 0 {
		sb.WriteString("## Next steps\n\n")
		for _, item := range rep.Agents.Summary.ActionItems {
			sb.WriteString("- " + item + "\n")
		}
		sb.WriteString("\n")
	}
	writeFooter(&sb, rep)

	return sb.String()
}

func reportTitle(rep *pipeline.Report) string {
	if rep.Agents != nil && rep.Agents.Summary != nil && rep.Agents.Summary.Title != "" {
		return rep.Agents.Summary.Title
	}
	if rep.Analysis != nil {
		return fmt.Sprintf("Diagnosis: %s failure", rep.Analysis.Primary.Type)
	}
	return "Diagnosis"
}

func writeAnalysis(sb *strings.Builder, an *analysis.Analysis, localOnly bool) {
	sb.WriteString("## Failure\n\n")
	fmt.Fprintf(sb, "- **Type:** %s (%s)\n", an.Primary.Type, an.Primary.Severity)
	if an.Primary.Message != "" {
		fmt.Fprintf(sb, "- **Evidence:** `%s`\n", an.Primary.Message)
	}
	if an.Primary.LineNumber > 0 {
		fmt.Fprintf(sb, "- **Log line:** %d\n", an.Primary.LineNumber)
	}
	fmt.Fprintf(sb, "- **Confidence:** %.2f (%s)\n", an.Confidence.Score, an.Confidence.SuggestedAction)
	fmt.Fprintf(sb, "- **Blast radius:** %s\n", an.BlastRadius.Level)
	if len(an.Events) > 1 {
		fmt.Fprintf(sb, "- **Events matched:** %d\n", len(an.Events))
	}
	if an.Redaction.SecretsFound > 0 {
		fmt.Fprintf(sb, "- **Secrets scrubbed:** %d (%s risk)\n",
			an.Redaction.SecretsFound, an.Redaction.Risk)
	}
	if localOnly {
		sb.WriteString("- **Mode:** local-only, no backend consulted\n")
	}
	sb.WriteString("\n")
}

func writeAgents(sb *strings.Builder, res *agents.Result) {
	if res.LogAnalyst == nil && res.WorkflowExpert == nil &&
		res.CodeReviewer == nil && res.FixGenerator == nil {
		return
	}
	sb.WriteString("## Expert findings\n\n")

	if la := res.LogAnalyst; la != nil {
		sb.WriteString("### Log Analyst\n\n")
		if la.Summary != "" {
			sb.WriteString(la.Summary + "\n\n")
		}
		if len(la.RootCauseLines) > 0 {
			sb.WriteString("```\n" + strings.Join(la.RootCauseLines, "\n") + "\n```\n\n")
		}
	}

	if wf := res.WorkflowExpert; wf != nil {
		sb.WriteString("### Workflow Expert\n\n")
		fmt.Fprintf(sb, "%s _(issue: %s, risk: %s)_\n\n",
			wf.Recommendation, wf.IssueType, wf.RiskLevel)
	}

	if cr := res.CodeReviewer; cr != nil {
		sb.WriteString("### Code Reviewer\n\n")
		fmt.Fprintf(sb, "Score **%d/100**", cr.OverallScore)
		if len(cr.Blockers) > 0 {
			fmt.Fprintf(sb, ", %d blocker(s)", len(cr.Blockers))
		}
		sb.WriteString("\n\n")
		for _, issue := range cr.IssuesFound {
			loc := issue.File
			if issue.Line > 0 {
				loc = fmt.Sprintf("%s:%d", issue.File, issue.Line)
			}
			fmt.Fprintf(sb, "- [%s/%s] %s: %s\n", issue.Type, issue.Severity, loc, issue.Message)
		}
		if len(cr.IssuesFound) > 0 {
			sb.WriteString("\n")
		}
		for _, b := range cr.Blockers {
			fmt.Fprintf(sb, "- **Blocker:** %s\n", b)
		}
		if len(cr.Blockers) > 0 {
			sb.WriteString("\n")
		}
	}

	if fix := res.FixGenerator; fix != nil {
		sb.WriteString("### Fix Generator\n\n")
		if fix.Explanation != "" {
			sb.WriteString(fix.Explanation + "\n\n")
		}
		fmt.Fprintf(sb, "- **Target:** `%s`\n", fix.FixFile)
		fmt.Fprintf(sb, "- **Confidence:** %.2f\n", fix.Confidence)
		if fix.TestSuggestion != "" {
			fmt.Fprintf(sb, "- **Suggested test:** %s\n", fix.TestSuggestion)
		}
		if fix.RollbackSteps != "" {
			fmt.Fprintf(sb, "- **Rollback:** %s\n", fix.RollbackSteps)
		}
		sb.WriteString("\n")
	}
}

func writeValidation(sb *strings.Builder, vr *validate.Report) {
	sb.WriteString("## Validation\n\n")
	if vr.Valid {
		fmt.Fprintf(sb, "Passed with %d warning(s).\n\n", vr.TotalWarnings)
	} else {
		fmt.Fprintf(sb, "**Failed:** %d error(s), %d warning(s).\n\n",
			vr.TotalErrors, vr.TotalWarnings)
	}
	for _, f := range vr.Files {
		for _, e := range f.Errors {
			fmt.Fprintf(sb, "- `%s`: %s\n", f.Filename, e)
		}
		for _, w := range f.Warnings {
			fmt.Fprintf(sb, "- `%s`: %s _(warning)_\n", f.Filename, w)
		}
	}
	if vr.TotalErrors+vr.TotalWarnings > 0 {
		sb.WriteString("\n")
	}
}

func writeDecision(sb *strings.Builder, dec *gate.Decision) {
	sb.WriteString("## Decision\n\n")
	fmt.Fprintf(sb, "**%s** (confidence %.2f)\n\n",
		strings.ToUpper(string(dec.Action)), dec.Confidence)
	if dec.Reasoning != "" {
		sb.WriteString(dec.Reasoning + "\n\n")
	}
	for _, r := range dec.Risks {
		fmt.Fprintf(sb, "- **Risk:** %s\n", r)
	}
	for _, r := range dec.Recommendations {
		fmt.Fprintf(sb, "- %s\n", r)
	}
	if len(dec.Risks)+len(dec.Recommendations) > 0 {
		sb.WriteString("\n")
	}
}

func writeFooter(sb *strings.Builder, rep *pipeline.Report) {
	parts := make([]string, 0, 2)
	if rep.Agents != nil && rep.Agents.Usage.Calls > 0 {
		u := rep.Agents.Usage
		part := fmt.Sprintf("%d backend call(s), %d tokens in, %d out",
			u.Calls, u.InputTokens, u.OutputTokens)
		if u.RetriesUsed > 0 {
			part += fmt.Sprintf(", %d retried", u.RetriesUsed)
		}
		parts = append(parts, part)
	}
	parts = append(parts, fmt.Sprintf("%dms", rep.DurationMs))
	sb.WriteString("---\n_" + strings.Join(parts, ", ") + "_\n")
}

// renderMarkdown runs content through glamour, falling back to the raw
// markdown when rendering is unavailable. glamour panics on some exotic
// terminal setups, hence the recover.
func renderMarkdown(content string, width int) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = content
		}
	}()

	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// PLAIN RENDERER
// =============================================================================

// Renderer prints pipeline artifacts without the live view. Reports go
// through glamour; records, plans, and journal entries are styled lines.
type Renderer struct {
	out    io.Writer
	styles Styles
	width  int
}

// NewRenderer writes to out with the detected theme.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out, styles: DefaultStyles(), width: 100}
}

// Report renders a full diagnosis report.
func (r *Renderer) Report(rep *pipeline.Report) error {
	_, err := io.WriteString(r.out, renderMarkdown(Markdown(rep), r.width))
	return err
}

// ApplyRecord summarises one application transaction.
func (r *Renderer) ApplyRecord(rec *apply.Record) error {
	var sb strings.Builder

	switch rec.Status {
	case apply.StatusApplied:
		sb.WriteString(r.styles.Success.Render(okMark + " applied"))
	case apply.StatusRolledBack:
		sb.WriteString(r.styles.Warning.Render("~ rolled back"))
	default:
		sb.WriteString(r.styles.Error.Render(failMark + " " + string(rec.Status)))
	}
	fmt.Fprintf(&sb, "  %s\n", rec.ID)

	for _, p := range rec.Patches {
		added, removed := p.Patch.Stats()
		fmt.Fprintf(&sb, "  %s  +%d -%d\n", p.Filename, added, removed)
	}
	if rec.Error != "" {
		sb.WriteString(r.styles.Error.Render("  "+rec.Error) + "\n")
	}
	if rec.Status == apply.StatusApplied {
		sb.WriteString(r.styles.Muted.Render("rollback with: forgefix rollback --id "+rec.ID) + "\n")
	}

	_, err := io.WriteString(r.out, sb.String())
	return err
}

// Rollback summarises a rollback pass.
func (r *Renderer) Rollback(res *apply.RollbackResult) error {
	var sb strings.Builder
	if len(res.Errors) == 0 {
		fmt.Fprintf(&sb, "%s %d file(s) restored in %dms\n",
			r.styles.Success.Render(okMark), res.Restored, res.DurationMs)
	} else {
		fmt.Fprintf(&sb, "%s %d file(s) restored, %d failure(s)\n",
			r.styles.Warning.Render("~"), res.Restored, len(res.Errors))
		for _, e := range res.Errors {
			sb.WriteString(r.styles.Error.Render("  "+e) + "\n")
		}
	}
	_, err := io.WriteString(r.out, sb.String())
	return err
}

// Plan prints a dry-run simulation step by step.
func (r *Renderer) Plan(plan *dryrun.Plan) error {
	var sb strings.Builder

	for _, step := range plan.Steps {
		var mark string
		switch step.Status {
		case dryrun.StatusSuccess:
			mark = r.styles.Success.Render(okMark)
		case dryrun.StatusWarning:
			mark = r.styles.Warning.Render("!")
		case dryrun.StatusError:
			mark = r.styles.Error.Render(failMark)
		default:
			mark = r.styles.Muted.Render(idleMark)
		}
		target := step.Target
		if target != "" {
			target += "  "
		}
		fmt.Fprintf(&sb, " %s %-20s %s%s\n",
			mark, step.Action, target, r.styles.Muted.Render(step.Message))
	}

	sum := plan.Summary
	line := fmt.Sprintf("%d step(s): %d ok, %d warning(s), %d error(s); %d file(s), %d line(s) changed",
		sum.Steps, sum.Succeeded, sum.Warnings, sum.Errors, sum.FilesAffected, sum.LinesChanged)
	sb.WriteString("\n")
	if plan.Success {
		sb.WriteString(r.styles.Success.Render(okMark+" "+line) + "\n")
	} else {
		sb.WriteString(r.styles.Error.Render(failMark+" "+line) + "\n")
	}
	if plan.RollbackPlan != "" {
		sb.WriteString(r.styles.Muted.Render(plan.RollbackPlan) + "\n")
	}

	_, err := io.WriteString(r.out, sb.String())
	return err
}

// AuditEntries prints journal entries one line each, oldest first.
func (r *Renderer) AuditEntries(entries []audit.Entry) error {
	if len(entries) == 0 {
		_, err := io.WriteString(r.out, r.styles.Muted.Render("no entries")+"\n")
		return err
	}

	var sb strings.Builder
	header := fmt.Sprintf("%-20s %-8s %-18s %-24s %s",
		"TIME", "STATUS", "EVENT", "RESOURCE", "DETAILS")
	sb.WriteString(r.styles.Bold.Render(header) + "\n")
	sb.WriteString(r.styles.RenderDivider(len(header)) + "\n")

	for _, e := range entries {
		ts := time.UnixMilli(e.Timestamp).UTC().Format("2006-01-02 15:04:05")
		padded := fmt.Sprintf("%-8s", e.Status)
		status := r.styles.Success.Render(padded)
		if e.Status != audit.StatusSuccess {
			status = r.styles.Error.Render(padded)
		}
		fmt.Fprintf(&sb, "%-20s %s %-18s %-24s %s\n", ts, status, e.Event, e.Resource, e.Details)
	}

	_, err := io.WriteString(r.out, sb.String())
	return err
}
