// Command forgefix turns a failed CI run into a reviewed fix: it scrubs the
// job log, classifies the failure, consults the reasoning backend for a root
// cause and a patch, validates the patch, and gates the outcome by confidence
// before anything touches the working tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forgefix/internal/audit"
	"forgefix/internal/config"
	"forgefix/internal/faults"
	"forgefix/internal/llm"
	"forgefix/internal/logging"
	"forgefix/internal/pipeline"
)

// =============================================================================
// EXIT CODES
// =============================================================================

// Process exit codes. Flag misuse and anything unclassified exit 1.
const (
	exitConfig   = 1 // configuration and setup failures
	exitAnalysis = 2 // retrieval and analysis failures
	exitApply    = 3 // applicator failures
)

// exitError pins an exit code to an error at the site that knows the phase.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCodeOf(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return exitConfig
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

var (
	// Global flags
	configPath          string
	backendName         string
	apiKey              string
	modelName           string
	baseURL             string
	logDir              string
	autoThreshold       float64
	reviewThreshold     float64
	escalateThreshold   float64
	aggressiveRedaction bool
	verbose             bool

	// Process state built by setup
	cfg         *config.Config
	logger      *zap.Logger
	closeLogger func()
)

// version is stamped at release time via -ldflags "-X main.version=...".
var version = "0.3.0-dev"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forgefix",
	Short: "forgefix - CI failure diagnosis and automated repair",
	Long: `forgefix diagnoses failed CI runs and proposes reviewed fixes.

A diagnosis scrubs the job log of credentials, classifies the failure
against a pattern catalogue, consults a panel of reasoning experts for a
root cause and a fix, validates the resulting patch, and gates the outcome
by confidence. Application is transactional: every write is snapshotted
first and can be rolled back, and every terminal action lands in an
append-only audit journal.

Credentials come from flags, FORGE_* variables, or a .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd prints the release identifier
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the forgefix version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("forgefix %s (%s)\n", version, runtime.Version())
	},
}

func init() {
	// Assigned here rather than in the composite literal to avoid an
	// initialization cycle (rootCmd -> setup -> applyFlagOverrides -> rootCmd).
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if skipSetup(cmd) {
			return nil
		}
		return setup()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if closeLogger != nil {
			closeLogger()
		}
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "explicit config file (outranks the hierarchy)")
	pf.StringVar(&backendName, "backend", "", "reasoning backend: anthropic, openai, or gemini")
	pf.StringVar(&apiKey, "api-key", "", "backend API key (or set FORGE_API_KEY)")
	pf.StringVar(&modelName, "model", "", "backend model identifier")
	pf.StringVar(&baseURL, "base-url", "", "endpoint for OpenAI-compatible servers")
	pf.StringVar(&logDir, "log-dir", "", "directory for logs and the audit journal")
	pf.Float64Var(&autoThreshold, "auto-threshold", 0, "confidence needed for unattended application")
	pf.Float64Var(&reviewThreshold, "review-threshold", 0, "confidence needed for manual review")
	pf.Float64Var(&escalateThreshold, "escalate-threshold", 0, "confidence below which failures escalate")
	pf.BoolVar(&aggressiveRedaction, "aggressive-redaction", false, "additionally mask long high-entropy tokens")
	pf.BoolVarP(&verbose, "verbose", "v", false, "console logging at debug level")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "forgefix: %v\n", err)
		var f *faults.Failure
		if errors.As(err, &f) && f.Recommendation != "" {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", f.Recommendation)
		}
		os.Exit(exitCodeOf(err))
	}
}

// =============================================================================
// SETUP
// =============================================================================

// skipSetup reports whether a command runs without configuration or logging:
// version, help, and shell completion never touch the filesystem.
func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "completion" {
			return true
		}
	}
	return false
}

// setup loads .env, merges the configuration hierarchy with the command-line
// overrides, and builds the process logger.
func setup() error {
	_ = godotenv.Load() // a missing .env is not an error

	c, err := config.Load(configPath)
	if err != nil {
		return exitWith(exitConfig, err)
	}
	applyFlagOverrides(c)
	cfg = c

	l, closer, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Dir:     cfg.Logging.Dir,
		Verbose: verbose,
	})
	if err != nil {
		return exitWith(exitConfig, err)
	}
	logger = l
	closeLogger = closer
	return nil
}

// applyFlagOverrides puts explicitly set global flags above every config
// file; unset flags leave the merged values alone.
func applyFlagOverrides(c *config.Config) {
	f := rootCmd.PersistentFlags()
	if f.Changed("backend") {
		c.Backend.Provider = backendName
	}
	if f.Changed("api-key") {
		c.Backend.APIKey = apiKey
	}
	if f.Changed("model") {
		c.Backend.Model = modelName
	}
	if f.Changed("base-url") {
		c.Backend.BaseURL = baseURL
	}
	if f.Changed("log-dir") {
		c.Logging.Dir = logDir
	}
	if f.Changed("auto-threshold") {
		c.Gate.AutoApplyThreshold = autoThreshold
	}
	if f.Changed("review-threshold") {
		c.Gate.ManualReviewThreshold = reviewThreshold
	}
	if f.Changed("escalate-threshold") {
		c.Gate.EscalateThreshold = escalateThreshold
	}
	if f.Changed("aggressive-redaction") {
		c.Redaction.Aggressive = aggressiveRedaction
	}
}

// =============================================================================
// SHARED PLUMBING
// =============================================================================

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// openJournal opens the audit journal next to the process logs.
func openJournal() (*audit.Journal, error) {
	return audit.Open(audit.Config{Dir: cfg.Logging.Dir}, logger)
}

// buildBackend validates the merged configuration and constructs the
// reasoning backend. Local-only mode returns a nil client, which the driver
// treats as "stop after classification".
func buildBackend(ctx context.Context) (llm.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LocalOnly {
		return nil, nil
	}
	return llm.New(ctx, llm.Config{
		Provider:   cfg.Backend.Provider,
		APIKey:     cfg.Backend.APIKey,
		Model:      cfg.Backend.Model,
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    cfg.Backend.GetTimeout(),
		MaxRetries: cfg.Backend.MaxRetries,
	}, logger)
}

func newDriver(ctx context.Context, journal *audit.Journal) (*pipeline.Driver, error) {
	backend, err := buildBackend(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg, backend, journal, logger), nil
}

// watchConfig hot-reloads the swappable pipeline stages while a command
// runs, keeping explicit flags above the reloaded file. The returned stop
// function is a no-op when no config file exists or the watcher cannot
// start.
func watchConfig(ctx context.Context, driver *pipeline.Driver) func() {
	path := config.ActivePath(configPath)
	if path == "" {
		return func() {}
	}
	w, err := config.Watch(ctx, path, logger, func(c *config.Config) {
		applyFlagOverrides(c)
		driver.ReloadConfig(c)
	})
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
		return func() {}
	}
	return w.Stop
}
