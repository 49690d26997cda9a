package agents

import "encoding/json"

// =============================================================================
// TYPED RESPONSES
// =============================================================================

// LogAnalysis is the Log Analyst's structured finding.
type LogAnalysis struct {
	FailureType          string   `json:"failureType"`
	Severity             string   `json:"severity"`
	Summary              string   `json:"summary"`
	RootCauseLines       []string `json:"rootCauseLines"`
	ContextLines         []string `json:"contextLines,omitempty"`
	SuggestedSearchTerms []string `json:"suggestedSearchTerms,omitempty"`
}

// YAMLChange is one proposed workflow edit.
type YAMLChange struct {
	Path     string `json:"path"`
	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue"`
	Reason   string `json:"reason,omitempty"`
}

// WorkflowAdvice is the Workflow Expert's structured finding.
type WorkflowAdvice struct {
	IssueType      string       `json:"issueType"`
	Recommendation string       `json:"recommendation"`
	YAMLChanges    []YAMLChange `json:"yamlChanges,omitempty"`
	RiskLevel      string       `json:"riskLevel"`
}

// ReviewIssue is one problem the Code Reviewer found.
type ReviewIssue struct {
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	File       string `json:"file"`
	Line       int    `json:"line,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// CodeReview is the Code Reviewer's structured finding.
type CodeReview struct {
	IssuesFound  []ReviewIssue `json:"issuesFound"`
	OverallScore int           `json:"overallScore"`
	Blockers     []string      `json:"blockers"`
}

// FixProposal is the Fix Generator's structured output. FixStartLine is
// advisory: the applicator always writes the full post-image.
type FixProposal struct {
	Confidence     float64 `json:"confidence"`
	FixFile        string  `json:"fixFile"`
	FixStartLine   int     `json:"fixStartLine"`
	FixContent     string  `json:"fixContent"`
	Explanation    string  `json:"explanation"`
	TestSuggestion string  `json:"testSuggestion,omitempty"`
	RollbackSteps  string  `json:"rollbackSteps,omitempty"`
}

// SummaryAgents bundles the four expert outputs inside the summary.
type SummaryAgents struct {
	LogAnalyst     LogAnalysis    `json:"logAnalyst"`
	WorkflowExpert WorkflowAdvice `json:"workflowExpert"`
	CodeReviewer   CodeReview     `json:"codeReviewer"`
	FixGenerator   FixProposal    `json:"fixGenerator"`
}

// Summary is the orchestrator's terminal object. OverallConfidence always
// equals the Fix Generator's confidence.
type Summary struct {
	Title             string        `json:"title"`
	Summary           string        `json:"summary"`
	Agents            SummaryAgents `json:"agents"`
	OverallConfidence float64       `json:"overallConfidence"`
	ActionItems       []string      `json:"actionItems"`
}

// =============================================================================
// RESULT
// =============================================================================

// Usage totals backend accounting across the whole pipeline run.
type Usage struct {
	Calls        int `json:"calls"`
	RetriesUsed  int `json:"retriesUsed"`
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

func (u *Usage) absorb(s RunStats) {
	u.Calls++
	u.RetriesUsed += s.RetriesUsed
	u.InputTokens += s.InputTokens
	u.OutputTokens += s.OutputTokens
}

// Result carries whatever the pipeline produced. On failure the fields of
// the agents that completed are populated and the rest are nil, so callers
// can display partial findings alongside the error.
type Result struct {
	LogAnalyst     *LogAnalysis    `json:"logAnalyst,omitempty"`
	WorkflowExpert *WorkflowAdvice `json:"workflowExpert,omitempty"`
	CodeReviewer   *CodeReview     `json:"codeReviewer,omitempty"`
	FixGenerator   *FixProposal    `json:"fixGenerator,omitempty"`
	Summary        *Summary        `json:"summary,omitempty"`
	Usage          Usage           `json:"usage"`
}

// decode maps a validated response object onto its typed struct.
func decode(data map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
