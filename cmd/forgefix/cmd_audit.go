package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"forgefix/internal/audit"
	"forgefix/internal/faults"
	"forgefix/internal/ux"
)

// =============================================================================
// AUDIT COMMANDS
// =============================================================================

var (
	auditResource string
	auditEvent    string
	auditStatus   string
	auditSince    string
	auditUntil    string
	auditLimit    int
	csvPath       string
	olderThanDays int
)

// auditCmd groups the journal maintenance commands
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and maintain the audit journal",
	Long: `The audit journal records every terminal pipeline action: secret
scans, generated and applied fixes, rollbacks, validation verdicts, gate
denials, and configuration changes.

  forgefix audit query --status failure --since 48h
  forgefix audit export --csv journal.csv
  forgefix audit purge --older-than 90`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List journal entries matching the filters",
	RunE:  runAuditQuery,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export journal entries as CSV",
	RunE:  runAuditExport,
}

var auditPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop journal entries older than a horizon",
	RunE:  runAuditPurge,
}

func init() {
	for _, c := range []*cobra.Command{auditQueryCmd, auditExportCmd} {
		f := c.Flags()
		f.StringVar(&auditResource, "resource", "", "filter by resource (log path or owner/name#run)")
		f.StringVar(&auditEvent, "event", "", "filter by event type (e.g. fix_applied, secrets_scan)")
		f.StringVar(&auditStatus, "status", "", "filter by status: success, failure, or warning")
		f.StringVar(&auditSince, "since", "", "oldest entry to include (RFC 3339, YYYY-MM-DD, or 48h)")
		f.StringVar(&auditUntil, "until", "", "newest entry to include (same formats as --since)")
	}
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 0, "keep only the newest N matches")

	auditExportCmd.Flags().StringVar(&csvPath, "csv", "", "destination CSV file")
	_ = auditExportCmd.MarkFlagRequired("csv")

	auditPurgeCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "purge entries older than this many days")
	_ = auditPurgeCmd.MarkFlagRequired("older-than")

	auditCmd.AddCommand(auditQueryCmd, auditExportCmd, auditPurgeCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	journal, err := openJournal()
	if err != nil {
		return exitWith(exitConfig, err)
	}
	defer journal.Close()

	filter, err := buildFilter()
	if err != nil {
		return exitWith(exitConfig, err)
	}
	if err := ux.NewRenderer(os.Stdout).AuditEntries(journal.Query(filter)); err != nil {
		return exitWith(exitAnalysis, err)
	}
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	journal, err := openJournal()
	if err != nil {
		return exitWith(exitConfig, err)
	}
	defer journal.Close()

	filter, err := buildFilter()
	if err != nil {
		return exitWith(exitConfig, err)
	}

	f, err := os.Create(csvPath)
	if err != nil {
		return exitWith(exitAnalysis, fmt.Errorf("creating export file: %w", err))
	}
	defer f.Close()

	matched := len(journal.Query(filter))
	if err := journal.ExportCSV(f, filter); err != nil {
		return exitWith(exitAnalysis, err)
	}
	fmt.Printf("%d entries exported to %s\n", matched, csvPath)
	return nil
}

func runAuditPurge(cmd *cobra.Command, args []string) error {
	journal, err := openJournal()
	if err != nil {
		return exitWith(exitConfig, err)
	}
	defer journal.Close()

	removed, err := journal.Purge(olderThanDays)
	if err != nil {
		return exitWith(exitAnalysis, err)
	}
	fmt.Printf("%d entries purged\n", removed)
	return nil
}

// buildFilter translates the filter flags into a journal query.
func buildFilter() (audit.Filter, error) {
	f := audit.Filter{
		Resource: auditResource,
		Event:    audit.EventType(auditEvent),
		Status:   audit.Status(auditStatus),
		Limit:    auditLimit,
	}
	if auditSince != "" {
		t, err := parseTimeFlag(auditSince)
		if err != nil {
			return f, err
		}
		f.From = t
	}
	if auditUntil != "" {
		t, err := parseTimeFlag(auditUntil)
		if err != nil {
			return f, err
		}
		f.To = t
	}
	return f, nil
}

// parseTimeFlag accepts RFC 3339, a plain date, or a duration back from now.
func parseTimeFlag(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	return time.Time{}, faults.New(faults.InputInvalid,
		"cannot parse %q as a time (want RFC 3339, YYYY-MM-DD, or a duration like 48h)", s)
}
