package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgefix/internal/faults"
	"forgefix/internal/llm"
)

func testInputs() Inputs {
	return Inputs{
		LogSnippet:     "npm ERR! code E403\nnpm ERR! 403 403 Forbidden - PUT https://registry.npmjs.org/pkg",
		Workflow:       "name: release\non: push\njobs:\n  publish:\n    runs-on: ubuntu-latest\n    steps:\n      - run: npm publish\n",
		Changes:        "diff --git a/package.json b/package.json\n",
		FailureType:    "auth",
		FailureMessage: "npm ERR! code E403",
	}
}

func TestOrchestrator_FullRun(t *testing.T) {
	backend := newScriptedBackend(happyHandler)
	o := New(NewRunner(backend, nil, fastPolicy(), nil), nil)

	res, err := o.Run(context.Background(), testInputs())
	require.NoError(t, err)

	require.NotNil(t, res.LogAnalyst)
	require.NotNil(t, res.WorkflowExpert)
	require.NotNil(t, res.CodeReviewer)
	require.NotNil(t, res.FixGenerator)
	require.NotNil(t, res.Summary)

	assert.Equal(t, "auth", res.LogAnalyst.FailureType)
	assert.Equal(t, "secrets", res.WorkflowExpert.IssueType)
	assert.Equal(t, 100, res.CodeReviewer.OverallScore)
	assert.InDelta(t, 0.92, res.FixGenerator.Confidence, 1e-9)

	// The summary's confidence is the Fix Generator's, verbatim.
	assert.Equal(t, res.FixGenerator.Confidence, res.Summary.OverallConfidence)
	assert.Contains(t, res.Summary.Title, ".github/workflows/release.yml")
	assert.LessOrEqual(t, len(res.Summary.Title), 100)
	assert.LessOrEqual(t, len(res.Summary.Summary), 500)
	assert.NotEmpty(t, res.Summary.ActionItems)
	assert.Contains(t, res.Summary.ActionItems[0], res.FixGenerator.FixFile)

	assert.Equal(t, 4, res.Usage.Calls)
	assert.Equal(t, 0, res.Usage.RetriesUsed)
	assert.Equal(t, 400, res.Usage.InputTokens)
}

func TestOrchestrator_SummaryConformsToContract(t *testing.T) {
	backend := newScriptedBackend(happyHandler)
	o := New(NewRunner(backend, nil, fastPolicy(), nil), nil)

	res, err := o.Run(context.Background(), testInputs())
	require.NoError(t, err)

	var asMap map[string]interface{}
	require.NoError(t, decodeInto(res.Summary, &asMap))
	assert.Empty(t, SummarySchema().Validate(asMap))
}

func TestOrchestrator_PriorContextThreading(t *testing.T) {
	backend := newScriptedBackend(happyHandler)
	o := New(NewRunner(backend, nil, fastPolicy(), nil), nil)

	_, err := o.Run(context.Background(), testInputs())
	require.NoError(t, err)

	// The Workflow Expert sees the Log Analyst's structured output.
	wfReqs := backend.requests(RoleWorkflowExpert)
	require.Len(t, wfReqs, 1)
	assert.Contains(t, wfReqs[0].User, `"failureType": "auth"`)
	assert.Contains(t, wfReqs[0].User, "name: release")

	// The Code Reviewer sees both predecessors.
	crReqs := backend.requests(RoleCodeReviewer)
	require.Len(t, crReqs, 1)
	assert.Contains(t, crReqs[0].User, `"logAnalyst"`)
	assert.Contains(t, crReqs[0].User, `"workflowExpert"`)

	// The Fix Generator sees all three plus the log snippet.
	fgReqs := backend.requests(RoleFixGenerator)
	require.Len(t, fgReqs, 1)
	assert.Contains(t, fgReqs[0].User, `"codeReviewer"`)
	assert.Contains(t, fgReqs[0].User, "npm ERR! code E403")
}

func TestOrchestrator_PartialResultOnFailure(t *testing.T) {
	backend := newScriptedBackend(func(ctx context.Context, role Role, attempt int, req llm.Request) (llm.Response, error) {
		if role == RoleCodeReviewer {
			return llm.Response{Text: "I could not produce JSON for this one."}, nil
		}
		return happyHandler(ctx, role, attempt, req)
	})
	policy := fastPolicy()
	policy.MaxAttempts = 2
	o := New(NewRunner(backend, nil, policy, nil), nil)

	res, err := o.Run(context.Background(), testInputs())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.SchemaViolation), "got %v", err)

	// Earlier outputs survive for display; the pipeline stopped at the
	// failing role.
	require.NotNil(t, res)
	assert.NotNil(t, res.LogAnalyst)
	assert.NotNil(t, res.WorkflowExpert)
	assert.Nil(t, res.CodeReviewer)
	assert.Nil(t, res.FixGenerator)
	assert.Nil(t, res.Summary)

	assert.Equal(t, 3, res.Usage.Calls)
	assert.Equal(t, 1, res.Usage.RetriesUsed)
	assert.Empty(t, backend.requests(RoleFixGenerator), "pipeline must stop at the first failure")
}

func TestOrchestrator_StrictRoleOrder(t *testing.T) {
	var order []Role
	backend := newScriptedBackend(func(ctx context.Context, role Role, attempt int, req llm.Request) (llm.Response, error) {
		order = append(order, role)
		return happyHandler(ctx, role, attempt, req)
	})
	o := New(NewRunner(backend, nil, fastPolicy(), nil), nil)

	_, err := o.Run(context.Background(), testInputs())
	require.NoError(t, err)
	assert.Equal(t, Order, order)
}

// decodeInto round-trips a typed value into a generic map for schema checks.
func decodeInto(v interface{}, out *map[string]interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
