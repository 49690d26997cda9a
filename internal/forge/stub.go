package forge

import (
	"context"
	"sync"

	"forgefix/internal/faults"
)

// Stub is an in-memory Client for tests: canned results for reads, recorded
// calls for writes.
type Stub struct {
	PullRequests []PullRequest
	CheckRuns    []CheckRun
	Jobs         []Job
	JobLogs      map[int64]string
	ChangeSets   map[int]string
	Err          error // when set, every call returns it

	mu        sync.Mutex
	Comments  []StubComment
	Summaries []string
}

// StubComment is one recorded PostComment call.
type StubComment struct {
	Repo   Repo
	Number int
	Body   string
}

// ListPullRequests implements Client.
func (s *Stub) ListPullRequests(ctx context.Context, repo Repo) ([]PullRequest, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.PullRequests, nil
}

// ListCheckRuns implements Client.
func (s *Stub) ListCheckRuns(ctx context.Context, repo Repo, ref string) ([]CheckRun, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.CheckRuns, nil
}

// ListRunJobs implements Client.
func (s *Stub) ListRunJobs(ctx context.Context, repo Repo, runID int64) ([]Job, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Jobs, nil
}

// DownloadJobLog implements Client.
func (s *Stub) DownloadJobLog(ctx context.Context, repo Repo, jobID int64) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	log, ok := s.JobLogs[jobID]
	if !ok {
		return "", faults.New(faults.InputInvalid, "GET job %d logs: not found", jobID)
	}
	return log, nil
}

// FetchChangeSet implements Client.
func (s *Stub) FetchChangeSet(ctx context.Context, repo Repo, number int) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	diff, ok := s.ChangeSets[number]
	if !ok {
		return "", faults.New(faults.InputInvalid, "GET pull %d: not found", number)
	}
	return diff, nil
}

// PostComment implements Client.
func (s *Stub) PostComment(ctx context.Context, repo Repo, number int, body string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Comments = append(s.Comments, StubComment{Repo: repo, Number: number, Body: body})
	return nil
}

// AppendRunSummary implements Client.
func (s *Stub) AppendRunSummary(markdown string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Summaries = append(s.Summaries, markdown)
	return nil
}
