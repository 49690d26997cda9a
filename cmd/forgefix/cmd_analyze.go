package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forgefix/internal/faults"
	"forgefix/internal/forge"
	"forgefix/internal/pipeline"
	"forgefix/internal/ux"
)

// =============================================================================
// ANALYZE COMMAND
// =============================================================================

var (
	logPath      string
	repoSlug     string
	runID        int64
	workflowPath string
	changesPath  string
	watchUI      bool
	jsonOut      bool
	outPath      string
	commentPR    int
)

// analyzeCmd diagnoses one failed run without touching the working tree
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Diagnose a failed CI run and propose a fix",
	Long: `Runs the diagnosis pipeline over one failed run: scrub, classify,
reason, diff, validate, decide. Nothing is written to the working tree;
use apply for that.

The log comes from a local file or straight from the forge:

  forgefix analyze --log build.log --workflow .github/workflows/ci.yml
  forgefix analyze --repo acme/widgets --run 8123456789 --watch

--watch shows each expert working live; --out saves the report for a
later 'forgefix apply --analysis'.`,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&logPath, "log", "", "path to a CI log file")
	f.StringVar(&repoSlug, "repo", "", "repository as owner/name (requires --run)")
	f.Int64Var(&runID, "run", 0, "workflow run id to fetch the failed job log from")
	f.StringVar(&workflowPath, "workflow", "", "path to the workflow YAML of the failing run")
	f.StringVar(&changesPath, "changes", "", "path to the change-set diff of the failing run")
	f.BoolVar(&watchUI, "watch", false, "show live expert progress while the analysis runs")
	f.BoolVar(&jsonOut, "json", false, "print the report as JSON instead of markdown")
	f.StringVar(&outPath, "out", "", "also save the report as JSON to this file")
	f.IntVar(&commentPR, "comment-pr", 0, "post the report as a comment on this pull request (repo mode)")

	analyzeCmd.MarkFlagsOneRequired("log", "repo")
	analyzeCmd.MarkFlagsMutuallyExclusive("log", "repo")
	analyzeCmd.MarkFlagsRequiredTogether("repo", "run")
	analyzeCmd.MarkFlagsMutuallyExclusive("watch", "json")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if commentPR > 0 && repoSlug == "" {
		return exitWith(exitConfig, faults.New(faults.InputInvalid, "--comment-pr needs --repo"))
	}

	ctx, cancel := signalContext()
	defer cancel()

	journal, err := openJournal()
	if err != nil {
		return exitWith(exitConfig, err)
	}
	defer journal.Close()

	driver, err := newDriver(ctx, journal)
	if err != nil {
		return exitWith(exitConfig, err)
	}
	defer driver.Close()
	defer watchConfig(ctx, driver)()

	req, err := buildRequest(ctx)
	if err != nil {
		return exitWith(exitAnalysis, err)
	}

	var rep *pipeline.Report
	if watchUI {
		rep, err = ux.NewViewer(driver).Run(ctx, req)
	} else {
		rep, err = driver.Analyze(ctx, req)
	}
	if err != nil {
		// The stages that completed stay populated; show the operator what
		// the pipeline knew before it failed.
		if rep != nil && rep.Analysis != nil && !jsonOut && !watchUI {
			_ = ux.NewRenderer(os.Stdout).Report(rep)
		}
		return exitWith(exitAnalysis, err)
	}

	return writeReport(rep)
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// forgeToken resolves the forge credential from the conventional variables.
func forgeToken() string {
	for _, key := range []string{"FORGE_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func forgeClient() *forge.GitHub {
	return forge.NewGitHub(forge.Config{Token: forgeToken()}, logger)
}

// buildRequest assembles the pipeline request from a local log file or a
// fetched run log, plus the optional workflow and change-set artifacts.
func buildRequest(ctx context.Context) (pipeline.Request, error) {
	var req pipeline.Request

	switch {
	case logPath != "":
		data, err := os.ReadFile(logPath)
		if err != nil {
			return req, faults.Wrap(faults.InputInvalid, err, "cannot read log file %q", logPath)
		}
		req.Log = string(data)
		req.Resource = logPath
	default:
		repo, err := forge.ParseRepo(repoSlug)
		if err != nil {
			return req, err
		}
		logger.Info("fetching failed job log",
			zap.String("repo", repo.String()), zap.Int64("run", runID))
		log, job, err := forge.FailedRunLog(ctx, forgeClient(), repo, runID)
		if err != nil {
			return req, err
		}
		logger.Info("job log fetched",
			zap.String("job", job.Name),
			zap.String("workflow", job.WorkflowName),
			zap.Int("bytes", len(log)))
		req.Log = log
		req.Resource = fmt.Sprintf("%s#%d", repo, runID)
	}

	if workflowPath != "" {
		data, err := os.ReadFile(workflowPath)
		if err != nil {
			return req, faults.Wrap(faults.InputInvalid, err, "cannot read workflow file %q", workflowPath)
		}
		req.Workflow = string(data)
	}
	if changesPath != "" {
		data, err := os.ReadFile(changesPath)
		if err != nil {
			return req, faults.Wrap(faults.InputInvalid, err, "cannot read change-set file %q", changesPath)
		}
		req.Changes = string(data)
	}
	return req, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

// writeReport delivers the finished report: saved JSON for --out, JSON or
// rendered markdown on stdout, then the CI surfaces.
func writeReport(rep *pipeline.Report) error {
	if outPath != "" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return exitWith(exitAnalysis, err)
		}
		if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
			return exitWith(exitAnalysis, fmt.Errorf("saving report: %w", err))
		}
	}

	switch {
	case jsonOut:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return exitWith(exitAnalysis, err)
		}
	case !watchUI:
		// --watch already painted the report as its final frame.
		if err := ux.NewRenderer(os.Stdout).Report(rep); err != nil {
			return exitWith(exitAnalysis, err)
		}
	}

	return publishReport(rep)
}

// publishReport mirrors the report into CI surfaces: the run summary when
// running inside a workflow job, and a pull-request comment when asked.
func publishReport(rep *pipeline.Report) error {
	var md string

	if os.Getenv("GITHUB_STEP_SUMMARY") != "" {
		md = ux.Markdown(rep)
		if err := forgeClient().AppendRunSummary(md); err != nil {
			logger.Warn("run summary not written", zap.Error(err))
		}
	}

	if commentPR > 0 {
		if md == "" {
			md = ux.Markdown(rep)
		}
		repo, err := forge.ParseRepo(repoSlug)
		if err != nil {
			return exitWith(exitAnalysis, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := forgeClient().PostComment(ctx, repo, commentPR, md); err != nil {
			return exitWith(exitAnalysis, err)
		}
		fmt.Printf("report posted to %s#%d\n", repoSlug, commentPR)
	}
	return nil
}
