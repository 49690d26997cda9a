package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"forgefix/internal/faults"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
)

// Config parameterises the REST client.
type Config struct {
	BaseURL    string        // empty means the public endpoint
	Token      string        // empty means unauthenticated (public repos only)
	Timeout    time.Duration // per-call ceiling when the context has no deadline
	MaxRetries int
}

func (c *Config) normalize() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// GitHub implements Client against a GitHub-compatible REST API.
type GitHub struct {
	baseURL    string
	token      string
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGitHub creates the REST client.
func NewGitHub(cfg Config, logger *zap.Logger) *GitHub {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHub{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("forge"),
	}
}

// =============================================================================
// CLIENT IMPLEMENTATION
// =============================================================================

// ListPullRequests implements Client.
func (c *GitHub) ListPullRequests(ctx context.Context, repo Repo) ([]PullRequest, error) {
	body, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/pulls?state=open&per_page=50", repo.Owner, repo.Name),
		"application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}
	var wire []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
		URL string `json:"html_url"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, faults.Wrap(faults.BackendUnavailable, err, "failed to parse pull request list")
	}
	prs := make([]PullRequest, 0, len(wire))
	for _, w := range wire {
		prs = append(prs, PullRequest{
			Number:  w.Number,
			Title:   w.Title,
			State:   w.State,
			HeadSHA: w.Head.SHA,
			URL:     w.URL,
		})
	}
	return prs, nil
}

// ListCheckRuns implements Client.
func (c *GitHub) ListCheckRuns(ctx context.Context, repo Repo, ref string) ([]CheckRun, error) {
	body, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs", repo.Owner, repo.Name, url.PathEscape(ref)),
		"application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}
	var wire struct {
		CheckRuns []struct {
			ID         int64  `json:"id"`
			Name       string `json:"name"`
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
			URL        string `json:"html_url"`
		} `json:"check_runs"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, faults.Wrap(faults.BackendUnavailable, err, "failed to parse check run list")
	}
	runs := make([]CheckRun, 0, len(wire.CheckRuns))
	for _, w := range wire.CheckRuns {
		runs = append(runs, CheckRun{
			ID:         w.ID,
			Name:       w.Name,
			Status:     w.Status,
			Conclusion: w.Conclusion,
			URL:        w.URL,
		})
	}
	return runs, nil
}

// ListRunJobs implements Client.
func (c *GitHub) ListRunJobs(ctx context.Context, repo Repo, runID int64) ([]Job, error) {
	body, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/actions/runs/%d/jobs?filter=latest", repo.Owner, repo.Name, runID),
		"application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Jobs []struct {
			ID           int64  `json:"id"`
			RunID        int64  `json:"run_id"`
			Name         string `json:"name"`
			Status       string `json:"status"`
			Conclusion   string `json:"conclusion"`
			WorkflowName string `json:"workflow_name"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, faults.Wrap(faults.BackendUnavailable, err, "failed to parse job list")
	}
	jobs := make([]Job, 0, len(wire.Jobs))
	for _, w := range wire.Jobs {
		jobs = append(jobs, Job{
			ID:           w.ID,
			RunID:        w.RunID,
			Name:         w.Name,
			Status:       w.Status,
			Conclusion:   w.Conclusion,
			WorkflowName: w.WorkflowName,
		})
	}
	return jobs, nil
}

// DownloadJobLog implements Client. The API answers with a redirect to blob
// storage; the default client follows it and Go drops the Authorization
// header across hosts, which is what the signed URL expects.
func (c *GitHub) DownloadJobLog(ctx context.Context, repo Repo, jobID int64) (string, error) {
	body, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/actions/jobs/%d/logs", repo.Owner, repo.Name, jobID),
		"application/vnd.github+json", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchChangeSet implements Client.
func (c *GitHub) FetchChangeSet(ctx context.Context, repo Repo, number int) (string, error) {
	body, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/pulls/%d", repo.Owner, repo.Name, number),
		"application/vnd.github.v3.diff", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PostComment implements Client.
func (c *GitHub) PostComment(ctx context.Context, repo Repo, number int, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return faults.Wrap(faults.BackendUnavailable, err, "failed to marshal comment")
	}
	_, err = c.do(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/issues/%d/comments", repo.Owner, repo.Name, number),
		"application/vnd.github+json", payload)
	return err
}

// AppendRunSummary implements Client. GitHub exposes the run summary as a
// file named by GITHUB_STEP_SUMMARY inside the job, not as a REST resource.
func (c *GitHub) AppendRunSummary(markdown string) error {
	path := os.Getenv("GITHUB_STEP_SUMMARY")
	if path == "" {
		return faults.New(faults.InputInvalid,
			"run summary is only writable inside a workflow job (GITHUB_STEP_SUMMARY is unset)")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return faults.Wrap(faults.ApplyFailed, err, "failed to open run summary")
	}
	defer f.Close()
	if _, err := f.WriteString(markdown + "\n"); err != nil {
		return faults.Wrap(faults.ApplyFailed, err, "failed to append run summary")
	}
	return nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// do performs one REST call with the retry ladder. Rate limits (429, and the
// 403 variant GitHub uses when the primary quota is exhausted) and 5xx are
// retried; auth rejections and missing resources fail fast.
func (c *GitHub) do(ctx context.Context, method, path, accept string, payload []byte) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			if err := wait(ctx, retryDelay(i)); err != nil {
				return nil, err
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, faults.Wrap(faults.BackendUnavailable, err, "failed to create request")
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("X-GitHub-Api-Version", apiVersion)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if f := faults.FromContext(ctx); f != nil {
				return nil, f
			}
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		rateLimited := resp.StatusCode == http.StatusForbidden &&
			resp.Header.Get("X-RateLimit-Remaining") == "0"
		switch {
		case retryable(resp.StatusCode) || rateLimited:
			c.logger.Debug("retrying after transient status",
				zap.Int("status", resp.StatusCode), zap.Int("attempt", i+1))
			lastErr = faults.New(faults.BackendUnavailable, "forge returned status %d", resp.StatusCode)
			continue
		case resp.StatusCode == http.StatusNotFound:
			return nil, faults.New(faults.InputInvalid, "%s %s: not found", method, path)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, faults.New(faults.BackendUnavailable, "forge rejected credentials (status %d)", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, faults.New(faults.BackendUnavailable,
				"forge returned status %d: %s", resp.StatusCode, truncate(respBody))
		}
		return respBody, nil
	}
	return nil, faults.Wrap(faults.BackendUnavailable, lastErr,
		"forge request failed after %d attempts", c.maxRetries+1)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return faults.FromContext(ctx)
	case <-timer.C:
		return nil
	}
}

// retryDelay returns the exponential backoff before attempt i (1-based).
func retryDelay(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * time.Second
}

func retryable(status int) bool {
	return status == 429 || status >= 500
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
