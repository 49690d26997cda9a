// Package agents runs the staged expert reasoning pipeline: four roles in
// strict order, each consuming its predecessors' structured outputs, every
// call budget-checked, schema-validated, and retried with correction
// directives when the backend returns malformed output.
package agents

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies one expert in the pipeline.
type Role string

const (
	RoleLogAnalyst     Role = "log-analyst"
	RoleWorkflowExpert Role = "workflow-expert"
	RoleCodeReviewer   Role = "code-reviewer"
	RoleFixGenerator   Role = "fix-generator"
)

// Order is the fixed execution order of the pipeline.
var Order = []Role{RoleLogAnalyst, RoleWorkflowExpert, RoleCodeReviewer, RoleFixGenerator}

// DisplayName returns the human-readable role name used in status output.
func (r Role) DisplayName() string {
	switch r {
	case RoleLogAnalyst:
		return "Log Analyst"
	case RoleWorkflowExpert:
		return "Workflow Expert"
	case RoleCodeReviewer:
		return "Code Reviewer"
	case RoleFixGenerator:
		return "Fix Generator"
	default:
		return string(r)
	}
}

// =============================================================================
// SYSTEM DIRECTIVES
// =============================================================================

const logAnalystDirective = `You are a CI log analyst. You receive the redacted, pruned log of a failed
continuous-integration run. Identify the failure and respond with ONLY a JSON
object, no prose, no markdown fences, in exactly this shape:

{
  "failureType": "auth|build|test|deploy|network|timeout|env|unknown",
  "severity": "critical|high|medium|low",
  "summary": "<one sentence, max 200 chars>",
  "rootCauseLines": ["<log lines that pinpoint the cause>"],
  "contextLines": ["<up to 5 surrounding lines that matter>"],
  "suggestedSearchTerms": ["<up to 3 terms for further research>"]
}

Quote log lines verbatim. Do not invent lines that are not in the log.`

const workflowExpertDirective = `You are a CI workflow expert. You receive a workflow configuration file and
the log analyst's findings. Diagnose configuration problems (permissions,
secrets, environment variables, version matrices, caching, concurrency) and
respond with ONLY a JSON object in exactly this shape:

{
  "issueType": "permissions|secrets|env-vars|matrix|cache|concurrency|none",
  "recommendation": "<what to change and why, max 300 chars>",
  "yamlChanges": [
    {"path": "<dotted YAML path>", "oldValue": "<current>", "newValue": "<proposed>", "reason": "<why>"}
  ],
  "riskLevel": "low|medium|high"
}

Propose the smallest change that fixes the failure. Use "none" when the
workflow is not at fault.`

const codeReviewerDirective = `You are a code reviewer. You receive the change set of the failing run plus
the prior experts' findings. Review the changes for problems that could cause
or worsen the failure and respond with ONLY a JSON object in exactly this
shape:

{
  "issuesFound": [
    {"type": "security|performance|style|logic|testing", "severity": "critical|major|minor",
     "file": "<path>", "line": <int>, "message": "<what is wrong>", "suggestion": "<how to fix>"}
  ],
  "overallScore": <int 0-100>,
  "blockers": ["<issues that must be fixed before merge>"]
}

Score 100 means the change set is sound. An empty change set scores 100 with
no issues.`

const fixGeneratorDirective = `You are a fix generator. You receive the structured findings of a log
analyst, a workflow expert, and a code reviewer, plus the failing log
excerpt. Produce ONE concrete fix and respond with ONLY a JSON object in
exactly this shape:

{
  "confidence": <real 0..1>,
  "fixFile": "<path of the file to change>",
  "fixStartLine": <int, advisory>,
  "fixContent": "<the complete corrected file content or YAML fragment>",
  "explanation": "<what the fix does and why, max 500 chars>",
  "testSuggestion": "<optional: how to verify>",
  "rollbackSteps": "<optional: how to undo manually>"
}

The fixContent must be the full post-image of the target file when the file
is source or configuration. Be conservative with confidence: 0.9+ only when
the log names the exact cause and the fix addresses it directly.`

// directiveFor returns the system directive of a role.
func directiveFor(role Role) string {
	switch role {
	case RoleLogAnalyst:
		return logAnalystDirective
	case RoleWorkflowExpert:
		return workflowExpertDirective
	case RoleCodeReviewer:
		return codeReviewerDirective
	case RoleFixGenerator:
		return fixGeneratorDirective
	default:
		return ""
	}
}

// =============================================================================
// USER PROMPTS
// =============================================================================

// Inputs carries the artifacts the experts reason about.
type Inputs struct {
	// LogSnippet is the optimised (redacted, pruned, budget-shaped) log.
	LogSnippet string
	// Workflow is the raw workflow configuration, may be empty.
	Workflow string
	// Changes is the change-set diff of the failing run, may be empty.
	Changes string
	// FailureType and FailureMessage summarise the rule-engine primary
	// event, giving the experts the classifier's head start.
	FailureType    string
	FailureMessage string
}

// priorContext accumulates structured outputs as the pipeline advances.
type priorContext struct {
	LogAnalyst     map[string]interface{} `json:"logAnalyst,omitempty"`
	WorkflowExpert map[string]interface{} `json:"workflowExpert,omitempty"`
	CodeReviewer   map[string]interface{} `json:"codeReviewer,omitempty"`
}

func (p priorContext) render() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// userPrompt builds the role-specific user directive. Every prompt leads
// with the classifier's hint so the experts agree on what they are fixing.
func userPrompt(role Role, in Inputs, prior priorContext) string {
	header := ""
	if in.FailureType != "" {
		header = fmt.Sprintf("Classified failure: %s — %s\n\n", in.FailureType, in.FailureMessage)
	}

	switch role {
	case RoleLogAnalyst:
		return fmt.Sprintf("%sFailed CI log:\n\n%s", header, in.LogSnippet)

	case RoleWorkflowExpert:
		workflow := in.Workflow
		if workflow == "" {
			workflow = "(no workflow file provided)"
		}
		return fmt.Sprintf("%sWorkflow configuration:\n\n%s\n\nPrior findings:\n%s",
			header, workflow, prior.render())

	case RoleCodeReviewer:
		changes := in.Changes
		if changes == "" {
			changes = "(no change set provided)"
		}
		return fmt.Sprintf("%sChange set:\n\n%s\n\nPrior findings:\n%s",
			header, changes, prior.render())

	case RoleFixGenerator:
		return fmt.Sprintf("%sExpert findings:\n%s\n\nFailed CI log:\n\n%s",
			header, prior.render(), in.LogSnippet)

	default:
		return in.LogSnippet
	}
}
