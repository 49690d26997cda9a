package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forgefix/internal/apply"
	"forgefix/internal/faults"
	"forgefix/internal/pipeline"
	"forgefix/internal/ux"
)

// =============================================================================
// APPLY AND ROLLBACK COMMANDS
// =============================================================================

var (
	analysisPath string
	autoApprove  bool
	dryRunOnly   bool
	rootDir      string
	rollbackID   string
)

// applyCmd writes gated patches to the working tree
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a generated fix to the working tree",
	Long: `Applies the patches of an analysis under the confidence gate.

The analysis comes from a report saved with 'analyze --out', or is produced
on the spot with the same retrieval flags analyze takes. Application is
transactional: every touched file is snapshotted first, and a failure
restores all of them.

A manual-review decision needs --auto after a human has read the patch.
--dry-run simulates the application and writes nothing.`,
	RunE: runApply,
}

// rollbackCmd restores a recorded application
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the files touched by a previous application",
	Long: `Restores every file of a recorded application from its snapshot;
created files are deleted. The application id is printed by apply and
recorded in the audit journal.`,
	RunE: runRollback,
}

func init() {
	f := applyCmd.Flags()
	f.StringVar(&analysisPath, "analysis", "", "path to a report saved with analyze --out")
	f.StringVar(&logPath, "log", "", "path to a CI log file")
	f.StringVar(&repoSlug, "repo", "", "repository as owner/name (requires --run)")
	f.Int64Var(&runID, "run", 0, "workflow run id to fetch the failed job log from")
	f.StringVar(&workflowPath, "workflow", "", "path to the workflow YAML of the failing run")
	f.StringVar(&changesPath, "changes", "", "path to the change-set diff of the failing run")
	f.BoolVar(&autoApprove, "auto", false, "apply a manual-review decision after human approval")
	f.BoolVar(&dryRunOnly, "dry-run", false, "simulate the application without writing")
	f.StringVar(&rootDir, "root", ".", "working-tree root the patches target")

	applyCmd.MarkFlagsOneRequired("analysis", "log", "repo")
	applyCmd.MarkFlagsMutuallyExclusive("analysis", "log", "repo")
	applyCmd.MarkFlagsRequiredTogether("repo", "run")

	rollbackCmd.Flags().StringVar(&rollbackID, "id", "", "application id to roll back")
	rollbackCmd.Flags().StringVar(&rootDir, "root", ".", "working-tree root of the application")
	_ = rollbackCmd.MarkFlagRequired("id")

	rootCmd.AddCommand(applyCmd, rollbackCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
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

	rep, err := loadOrAnalyze(ctx, driver)
	if err != nil {
		return exitWith(exitAnalysis, err)
	}
	if len(rep.Patches) == 0 {
		return exitWith(exitAnalysis, faults.New(faults.InputInvalid,
			"the analysis carries no patches to apply"))
	}

	if dryRunOnly {
		plan := driver.DryRun(ctx, rep, rootDir)
		if err := ux.NewRenderer(os.Stdout).Plan(plan); err != nil {
			return exitWith(exitApply, err)
		}
		if !plan.Success {
			return exitWith(exitApply, faults.New(faults.ValidationFailed,
				"the dry run predicts failure; nothing was written"))
		}
		return nil
	}

	rec, err := driver.Apply(ctx, rep, rootDir, apply.Options{AutoApply: autoApprove})
	if rec != nil {
		// A partial record still names the files that were touched and
		// restored; the operator needs to see it either way.
		if rerr := ux.NewRenderer(os.Stdout).ApplyRecord(rec); rerr != nil {
			logger.Warn("application record not rendered", zap.Error(rerr))
		}
	}
	if err != nil {
		return exitWith(exitApply, err)
	}
	return nil
}

// loadOrAnalyze resolves the report to apply: a saved one, or a fresh
// diagnosis from the retrieval flags.
func loadOrAnalyze(ctx context.Context, driver *pipeline.Driver) (*pipeline.Report, error) {
	if analysisPath != "" {
		data, err := os.ReadFile(analysisPath)
		if err != nil {
			return nil, faults.Wrap(faults.InputInvalid, err, "cannot read analysis file %q", analysisPath)
		}
		var rep pipeline.Report
		if err := json.Unmarshal(data, &rep); err != nil {
			return nil, faults.Wrap(faults.InputInvalid, err,
				"analysis file %q is not a saved report", analysisPath)
		}
		return &rep, nil
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return nil, err
	}
	return driver.Analyze(ctx, req)
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	journal, err := openJournal()
	if err != nil {
		return exitWith(exitConfig, err)
	}
	defer journal.Close()

	app, err := apply.New(rootDir, journal, nil, logger)
	if err != nil {
		return exitWith(exitApply, err)
	}
	res, err := app.Rollback(ctx, rollbackID)
	if res != nil {
		if rerr := ux.NewRenderer(os.Stdout).Rollback(res); rerr != nil {
			logger.Warn("rollback result not rendered", zap.Error(rerr))
		}
	}
	if err != nil {
		return exitWith(exitApply, err)
	}
	return nil
}
