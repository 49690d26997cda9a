package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forgefix/internal/config"
	"forgefix/internal/diff"
	"forgefix/internal/faults"
	"forgefix/internal/gate"
	"forgefix/internal/pipeline"
)

const authFailureLog = `npm notice Publishing to https://registry.npmjs.org/
npm ERR! code E403
npm ERR! 403 403 Forbidden - PUT https://registry.npmjs.org/@acme%2fcli
npm ERR! 403 In most cases, you or one of your dependencies are requesting
npm ERR! 403 a package version that is not allowed to be published.
`

func TestExitCodes(t *testing.T) {
	if got := exitCodeOf(exitWith(exitApply, errors.New("boom"))); got != exitApply {
		t.Errorf("expected %d, got %d", exitApply, got)
	}
	if got := exitCodeOf(errors.New("unclassified")); got != exitConfig {
		t.Errorf("expected fallback %d, got %d", exitConfig, got)
	}

	wrapped := fmt.Errorf("while analysing: %w", exitWith(exitAnalysis, errors.New("inner")))
	if got := exitCodeOf(wrapped); got != exitAnalysis {
		t.Errorf("expected %d through wrapping, got %d", exitAnalysis, got)
	}

	if exitWith(exitApply, nil) != nil {
		t.Error("exitWith must pass nil through")
	}
}

func TestExitErrorKeepsFailure(t *testing.T) {
	err := exitWith(exitAnalysis, faults.New(faults.BackendUnavailable, "no backend"))

	var f *faults.Failure
	if !errors.As(err, &f) {
		t.Fatal("failure not reachable through the exit error")
	}
	if f.Kind != faults.BackendUnavailable {
		t.Errorf("expected BackendUnavailable, got %s", f.Kind)
	}
	if f.Recommendation == "" {
		t.Error("expected the default recommendation for the hint line")
	}
}

func TestSkipSetup(t *testing.T) {
	if !skipSetup(&cobra.Command{Use: "version"}) {
		t.Error("version must run without setup")
	}
	if skipSetup(&cobra.Command{Use: "analyze"}) {
		t.Error("analyze needs setup")
	}

	parent := &cobra.Command{Use: "completion"}
	child := &cobra.Command{Use: "zsh"}
	parent.AddCommand(child)
	if !skipSetup(child) {
		t.Error("completion subcommands must run without setup")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	pf := rootCmd.PersistentFlags()
	for name, value := range map[string]string{
		"backend":              "openai",
		"auto-threshold":       "0.95",
		"aggressive-redaction": "true",
	} {
		if err := pf.Set(name, value); err != nil {
			t.Fatalf("setting --%s: %v", name, err)
		}
	}

	c := config.Default()
	applyFlagOverrides(c)

	if c.Backend.Provider != "openai" {
		t.Errorf("provider override not applied: %s", c.Backend.Provider)
	}
	if c.Gate.AutoApplyThreshold != 0.95 {
		t.Errorf("threshold override not applied: %v", c.Gate.AutoApplyThreshold)
	}
	if !c.Redaction.Aggressive {
		t.Error("redaction override not applied")
	}
	if c.Backend.Model != config.Default().Backend.Model {
		t.Errorf("unset flag must leave the merged value alone, got %q", c.Backend.Model)
	}
}

func TestBuildRequestFromLogFile(t *testing.T) {
	logger = zap.NewNop()
	dir := t.TempDir()

	logFile := filepath.Join(dir, "build.log")
	if err := os.WriteFile(logFile, []byte(authFailureLog), 0o644); err != nil {
		t.Fatal(err)
	}
	wfFile := filepath.Join(dir, "ci.yml")
	if err := os.WriteFile(wfFile, []byte("name: ci\non: push\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	logPath = logFile
	workflowPath = wfFile
	defer func() { logPath, workflowPath = "", "" }()

	req, err := buildRequest(context.Background())
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if !strings.Contains(req.Log, "E403") {
		t.Errorf("log not loaded: %q", req.Log)
	}
	if req.Workflow == "" {
		t.Error("workflow not loaded")
	}
	if req.Resource != logFile {
		t.Errorf("resource should name the log file, got %q", req.Resource)
	}
}

func TestBuildRequestMissingLog(t *testing.T) {
	logger = zap.NewNop()
	logPath = filepath.Join(t.TempDir(), "absent.log")
	defer func() { logPath = "" }()

	_, err := buildRequest(context.Background())
	if !faults.IsKind(err, faults.InputInvalid) {
		t.Fatalf("expected InputInvalid, got %v", err)
	}
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("2026-08-01T10:00:00Z")
	if err != nil {
		t.Fatalf("RFC 3339 rejected: %v", err)
	}
	if got.Format(time.RFC3339) != "2026-08-01T10:00:00Z" {
		t.Errorf("RFC 3339 parsed wrong: %v", got)
	}

	if _, err := parseTimeFlag("2026-08-01"); err != nil {
		t.Errorf("plain date rejected: %v", err)
	}

	got, err = parseTimeFlag("48h")
	if err != nil {
		t.Fatalf("duration rejected: %v", err)
	}
	if d := time.Since(got); d < 47*time.Hour || d > 49*time.Hour {
		t.Errorf("duration should count back from now, got %v ago", d)
	}

	if _, err := parseTimeFlag("last tuesday"); !faults.IsKind(err, faults.InputInvalid) {
		t.Errorf("expected InputInvalid for garbage, got %v", err)
	}
}

func TestMaskKey(t *testing.T) {
	if got := maskKey(""); got != "" {
		t.Errorf("empty key: %q", got)
	}
	if got := maskKey("short"); got != "****" {
		t.Errorf("short key: %q", got)
	}

	got := maskKey("sk-test-123456789012")
	if got != "sk-t...9012" {
		t.Errorf("long key should keep its edges, got %q", got)
	}
}

func TestConfigShowMasksCredentials(t *testing.T) {
	logger = zap.NewNop()
	cfg = config.Default()
	cfg.Backend.APIKey = "sk-test-123456789012"
	defer func() { cfg = nil }()

	output := captureOutput(t, func() {
		if err := runConfigShow(&cobra.Command{}, nil); err != nil {
			t.Errorf("runConfigShow: %v", err)
		}
	})

	if strings.Contains(output, "sk-test-123456789012") {
		t.Error("raw credential leaked into the output")
	}
	if !strings.Contains(output, "sk-t...9012") {
		t.Errorf("masked credential missing, got: %s", output)
	}
	if !strings.Contains(output, "built-in defaults only") {
		t.Errorf("expected the source note, got: %s", output)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	logger = zap.NewNop()
	dir := t.TempDir()
	cfg = config.Default()
	cfg.Logging.Dir = dir
	initPath = filepath.Join(dir, "conf", "config.json")
	defer func() { cfg, initPath = nil, "" }()

	output := captureOutput(t, func() {
		if err := runConfigInit(&cobra.Command{}, nil); err != nil {
			t.Errorf("runConfigInit: %v", err)
		}
	})
	if !strings.Contains(output, "default configuration written") {
		t.Errorf("unexpected output: %s", output)
	}
	if _, err := os.Stat(initPath); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	err := runConfigInit(&cobra.Command{}, nil)
	if err == nil {
		t.Fatal("second init must refuse to overwrite")
	}
	if exitCodeOf(err) != exitConfig {
		t.Errorf("expected exit code %d, got %d", exitConfig, exitCodeOf(err))
	}
}

func TestAuditQueryEmptyJournal(t *testing.T) {
	logger = zap.NewNop()
	cfg = config.Default()
	cfg.Logging.Dir = t.TempDir()
	defer func() { cfg = nil }()

	output := captureOutput(t, func() {
		if err := runAuditQuery(&cobra.Command{}, nil); err != nil {
			t.Errorf("runAuditQuery: %v", err)
		}
	})

	if !strings.Contains(output, "no entries") {
		t.Errorf("expected the empty-journal notice, got: %s", output)
	}
}

func TestRollbackUnknownApplication(t *testing.T) {
	logger = zap.NewNop()
	cfg = config.Default()
	cfg.Logging.Dir = t.TempDir()
	rootDir = t.TempDir()
	rollbackID = "no-such-application"
	defer func() {
		cfg, rootDir, rollbackID = nil, ".", ""
	}()

	err := runRollback(&cobra.Command{}, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown application id")
	}
	if exitCodeOf(err) != exitApply {
		t.Errorf("expected exit code %d, got %d", exitApply, exitCodeOf(err))
	}
}

func TestAnalyzeLocalOnlyEndToEnd(t *testing.T) {
	logger = zap.NewNop()
	dir := t.TempDir()
	cfg = config.Default()
	cfg.LocalOnly = true
	cfg.Logging.Dir = dir
	t.Setenv("GITHUB_STEP_SUMMARY", "")

	logFile := filepath.Join(dir, "build.log")
	if err := os.WriteFile(logFile, []byte(authFailureLog), 0o644); err != nil {
		t.Fatal(err)
	}

	logPath = logFile
	jsonOut = true
	outPath = filepath.Join(dir, "report.json")
	defer func() {
		cfg, logPath, jsonOut, outPath = nil, "", false, ""
	}()

	output := captureOutput(t, func() {
		if err := runAnalyze(&cobra.Command{}, nil); err != nil {
			t.Errorf("runAnalyze: %v", err)
		}
	})

	if !strings.Contains(output, `"localOnly": true`) {
		t.Errorf("expected a local-only report, got: %s", output)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("saved report missing: %v", err)
	}
	var rep pipeline.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("saved report does not parse: %v", err)
	}
	if rep.Analysis == nil || rep.Decision == nil {
		t.Error("saved report should carry the analysis and the decision")
	}
}

func TestApplyEndToEnd(t *testing.T) {
	logger = zap.NewNop()
	stateDir := t.TempDir()
	workTree := t.TempDir()

	cfg = config.Default()
	cfg.LocalOnly = true
	cfg.Logging.Dir = stateDir

	workflowBody := `name: ci
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: npm ci
      - run: npm test
`
	patch := diff.NewEngine(3).Compute(".github/workflows/ci.yml", "", workflowBody)
	rep := pipeline.Report{
		Patches:   []diff.Patch{patch},
		PatchText: diff.FormatAll([]diff.Patch{patch}),
		Decision:  &gate.Decision{Action: gate.ActionAutoApply, Confidence: 0.95, Reasoning: "fixture"},
	}
	data, err := json.MarshalIndent(&rep, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	saved := filepath.Join(stateDir, "analysis.json")
	if err := os.WriteFile(saved, data, 0o644); err != nil {
		t.Fatal(err)
	}

	analysisPath = saved
	rootDir = workTree
	defer func() {
		cfg, analysisPath, rootDir = nil, "", "."
		dryRunOnly = false
	}()

	target := filepath.Join(workTree, ".github", "workflows", "ci.yml")

	// Simulation first: the plan prints, nothing is written.
	dryRunOnly = true
	output := captureOutput(t, func() {
		if err := runApply(&cobra.Command{}, nil); err != nil {
			t.Errorf("dry run: %v", err)
		}
	})
	if !strings.Contains(output, "create") {
		t.Errorf("plan should show the create step, got: %s", output)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("dry run must not write")
	}

	// Real application.
	dryRunOnly = false
	output = captureOutput(t, func() {
		if err := runApply(&cobra.Command{}, nil); err != nil {
			t.Errorf("apply: %v", err)
		}
	})
	if !strings.Contains(output, "applied") {
		t.Errorf("expected an applied record, got: %s", output)
	}
	if !strings.Contains(output, "rollback --id") {
		t.Errorf("expected the rollback hint, got: %s", output)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("patched file missing: %v", err)
	}
	if string(got) != workflowBody {
		t.Errorf("post-image mismatch: %q", got)
	}

	// Roll it back through the recorded application id.
	records, err := os.ReadDir(filepath.Join(workTree, ".forge", "patches"))
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one application record, got %d (%v)", len(records), err)
	}
	rollbackID = records[0].Name()
	defer func() { rollbackID = "" }()

	output = captureOutput(t, func() {
		if err := runRollback(&cobra.Command{}, nil); err != nil {
			t.Errorf("rollback: %v", err)
		}
	})
	if !strings.Contains(output, "restored") {
		t.Errorf("expected a restore summary, got: %s", output)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("rollback must remove the created file")
	}
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
