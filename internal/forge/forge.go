// Package forge talks to the source forge hosting the repository under
// repair: pull requests, check runs, job logs, change sets, review comments,
// and the run job summary. The analysis core consumes only the returned text
// artifacts; authentication stays here.
package forge

import (
	"context"
	"strings"

	"forgefix/internal/faults"
)

// =============================================================================
// TYPES
// =============================================================================

// Repo identifies a repository as owner/name.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// ParseRepo splits an "owner/name" slug.
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, faults.New(faults.InputInvalid, "repository must be owner/name, got %q", s)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// PullRequest is the subset of pull-request metadata the pipeline needs.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HeadSHA string `json:"headSha"`
	URL     string `json:"url"`
}

// CheckRun is one CI check attached to a commit.
type CheckRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, cancelled, ...
	URL        string `json:"url"`
}

// Job is one job inside a workflow run.
type Job struct {
	ID           int64  `json:"id"`
	RunID        int64  `json:"runId"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Conclusion   string `json:"conclusion"`
	WorkflowName string `json:"workflowName"`
}

// =============================================================================
// CLIENT SURFACE
// =============================================================================

// Client is the collaborator surface the pipeline consumes.
type Client interface {
	ListPullRequests(ctx context.Context, repo Repo) ([]PullRequest, error)
	ListCheckRuns(ctx context.Context, repo Repo, ref string) ([]CheckRun, error)
	ListRunJobs(ctx context.Context, repo Repo, runID int64) ([]Job, error)
	DownloadJobLog(ctx context.Context, repo Repo, jobID int64) (string, error)
	// FetchChangeSet returns the unified diff of a pull request.
	FetchChangeSet(ctx context.Context, repo Repo, number int) (string, error)
	PostComment(ctx context.Context, repo Repo, number int, body string) error
	// AppendRunSummary adds markdown to the current job's run summary. Only
	// meaningful inside a CI job.
	AppendRunSummary(markdown string) error
}

// FailedRunLog fetches the log of the first failed job in a run, falling
// back to the first job when none report failure (a run can be red from a
// cancelled or timed-out job that never concluded "failure").
func FailedRunLog(ctx context.Context, c Client, repo Repo, runID int64) (string, Job, error) {
	jobs, err := c.ListRunJobs(ctx, repo, runID)
	if err != nil {
		return "", Job{}, err
	}
	if len(jobs) == 0 {
		return "", Job{}, faults.New(faults.InputInvalid, "run %d has no jobs", runID)
	}
	job := jobs[0]
	for _, j := range jobs {
		if j.Conclusion == "failure" {
			job = j
			break
		}
	}
	log, err := c.DownloadJobLog(ctx, repo, job.ID)
	if err != nil {
		return "", Job{}, err
	}
	return log, job, nil
}
