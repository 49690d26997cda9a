// Package audit persists the append-only event journal. Every terminal
// pipeline action lands here as one newline-delimited JSON record; a bounded
// in-memory window backs queries and exports without rereading the file.
package audit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"forgefix/internal/faults"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType names one journaled action.
type EventType string

const (
	EventSecretsScan     EventType = "secrets_scan"
	EventFixGenerated    EventType = "fix_generated"
	EventFixApplied      EventType = "fix_applied"
	EventFixReverted     EventType = "fix_reverted"
	EventValidationCheck EventType = "validation_check"
	EventAccessDenied    EventType = "access_denied"
	EventSecurityAlert   EventType = "security_alert"
	EventConfigChange    EventType = "config_change"
)

// Status is the outcome recorded with an entry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusWarning Status = "warning"
)

// Entry is one journal record.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Event     EventType              `json:"event"`
	Actor     string                 `json:"actor"`
	Resource  string                 `json:"resource"`
	Action    string                 `json:"action"`
	Status    Status                 `json:"status"`
	Details   string                 `json:"details"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Time returns the entry timestamp as time.Time.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// =============================================================================
// JOURNAL
// =============================================================================

const journalFile = "forge-audit.log"

// Config controls journal placement and retention.
type Config struct {
	// Dir holds the journal file. Empty means <user-home>/.forge.
	Dir string
	// Retention bounds the in-memory window used by queries.
	Retention int
	// Actor stamps entries that do not name one.
	Actor string
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{Retention: 10000, Actor: "forgefix"}
}

// Journal is the append-only event log. One Journal serves the whole process;
// concurrent appenders are serialised internally.
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	cfg     Config
	entries []Entry // trailing window, oldest first
	logger  *zap.Logger
}

// Open creates or reopens the journal under cfg.Dir, loading the trailing
// window of persisted entries into memory.
func Open(cfg Config, logger *zap.Logger) (*Journal, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.Actor == "" {
		cfg.Actor = DefaultConfig().Actor
	}
	if cfg.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, faults.Wrap(faults.InputInvalid, err, "no home directory for journal")
		}
		cfg.Dir = filepath.Join(home, ".forge")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, faults.Wrap(faults.ApplyFailed, err, "cannot create journal directory")
	}
	path := filepath.Join(cfg.Dir, journalFile)

	j := &Journal{path: path, cfg: cfg, logger: logger.Named("audit")}
	if err := j.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, faults.Wrap(faults.ApplyFailed, err, "cannot open journal")
	}
	j.file = file
	return j, nil
}

// load reads persisted entries, keeping the trailing retention window.
func (j *Journal) load() error {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return faults.Wrap(faults.ApplyFailed, err, "cannot read journal")
	}
	defer f.Close()

	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		j.entries = append(j.entries, e)
		if len(j.entries) > j.cfg.Retention {
			j.entries = j.entries[len(j.entries)-j.cfg.Retention:]
		}
	}
	if skipped > 0 {
		j.logger.Warn("journal contained unreadable lines", zap.Int("skipped", skipped))
	}
	return scanner.Err()
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Path returns the on-disk location of the journal file.
func (j *Journal) Path() string {
	return j.path
}

// Append journals one entry, filling in id, timestamp, and actor when absent.
func (j *Journal) Append(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Actor == "" {
		e.Actor = j.cfg.Actor
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}

	data, err := json.Marshal(e)
	if err != nil {
		return faults.Wrap(faults.InputInvalid, err, "journal entry not serialisable")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		if _, err := j.file.Write(append(data, '\n')); err != nil {
			return faults.Wrap(faults.ApplyFailed, err, "journal write failed")
		}
	}
	j.entries = append(j.entries, e)
	if len(j.entries) > j.cfg.Retention {
		j.entries = j.entries[len(j.entries)-j.cfg.Retention:]
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Resource string
	Event    EventType
	Status   Status
	From     time.Time
	To       time.Time
	Limit    int
}

func (f Filter) matches(e Entry) bool {
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && e.Time().Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Time().After(f.To) {
		return false
	}
	return true
}

// Query returns matching entries from the in-memory window, oldest first.
func (j *Journal) Query(f Filter) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Entry
	for _, e := range j.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Len reports the size of the in-memory window.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// ExportCSV writes matching entries as tabular records.
func (j *Journal) ExportCSV(w io.Writer, f Filter) error {
	entries := j.Query(f)

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "event", "actor", "resource", "action", "status", "details", "metadata"}); err != nil {
		return err
	}
	for _, e := range entries {
		meta := ""
		if len(e.Metadata) > 0 {
			if data, err := json.Marshal(e.Metadata); err == nil {
				meta = string(data)
			}
		}
		row := []string{
			e.ID,
			e.Time().UTC().Format(time.RFC3339),
			string(e.Event),
			e.Actor,
			e.Resource,
			e.Action,
			string(e.Status),
			e.Details,
			meta,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Purge drops entries older than the given number of days from memory and
// rewrites the journal file without them. Returns the number removed.
func (j *Journal) Purge(olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, faults.New(faults.InputInvalid, "purge horizon must be non-negative")
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	j.mu.Lock()
	defer j.mu.Unlock()

	kept := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		if !e.Time().Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(j.entries) - len(kept)

	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, faults.Wrap(faults.ApplyFailed, err, "cannot rewrite journal")
	}
	bw := bufio.NewWriter(f)
	for _, e := range kept {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		bw.Write(data)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, faults.Wrap(faults.ApplyFailed, err, "journal rewrite flush failed")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, faults.Wrap(faults.ApplyFailed, err, "journal rewrite close failed")
	}

	if j.file != nil {
		j.file.Close()
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return 0, faults.Wrap(faults.ApplyFailed, err, "journal swap failed")
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, faults.Wrap(faults.ApplyFailed, err, "cannot reopen journal")
	}
	j.file = file
	j.entries = kept
	return removed, nil
}

// =============================================================================
// CONVENIENCE RECORDERS
// =============================================================================

// SecretsScan journals a redaction pass over one log resource.
func (j *Journal) SecretsScan(resource string, found int, risk string) error {
	return j.Append(Entry{
		Event:    EventSecretsScan,
		Resource: resource,
		Action:   "redact",
		Status:   StatusSuccess,
		Details:  fmt.Sprintf("%d secrets redacted, residual risk %s", found, risk),
		Metadata: map[string]interface{}{"secretsFound": found, "risk": risk},
	})
}

// FixGenerated journals a completed reasoning pipeline.
func (j *Journal) FixGenerated(resource, fixID string, confidence float64) error {
	return j.Append(Entry{
		Event:    EventFixGenerated,
		Resource: resource,
		Action:   "generate",
		Status:   StatusSuccess,
		Details:  fmt.Sprintf("fix %s generated with confidence %.2f", fixID, confidence),
		Metadata: map[string]interface{}{"fixId": fixID, "confidence": confidence},
	})
}

// FixApplied journals the outcome of an application transaction.
func (j *Journal) FixApplied(resource, applicationID string, files int, success bool, errMsg string) error {
	status := StatusSuccess
	details := fmt.Sprintf("application %s wrote %d files", applicationID, files)
	if !success {
		status = StatusFailure
		details = fmt.Sprintf("application %s failed: %s", applicationID, errMsg)
	}
	return j.Append(Entry{
		Event:    EventFixApplied,
		Resource: resource,
		Action:   "apply",
		Status:   status,
		Details:  details,
		Metadata: map[string]interface{}{"applicationId": applicationID, "files": files},
	})
}

// FixReverted journals a rollback.
func (j *Journal) FixReverted(resource, applicationID string, restored int, errs int) error {
	status := StatusSuccess
	if errs > 0 {
		status = StatusWarning
	}
	return j.Append(Entry{
		Event:    EventFixReverted,
		Resource: resource,
		Action:   "rollback",
		Status:   status,
		Details:  fmt.Sprintf("application %s rolled back: %d restored, %d errors", applicationID, restored, errs),
		Metadata: map[string]interface{}{"applicationId": applicationID, "restored": restored, "errors": errs},
	})
}

// ValidationCheck journals a patch-validation verdict.
func (j *Journal) ValidationCheck(resource string, errors, warnings int) error {
	status := StatusSuccess
	if errors > 0 {
		status = StatusFailure
	} else if warnings > 0 {
		status = StatusWarning
	}
	return j.Append(Entry{
		Event:    EventValidationCheck,
		Resource: resource,
		Action:   "validate",
		Status:   status,
		Details:  fmt.Sprintf("%d errors, %d warnings", errors, warnings),
		Metadata: map[string]interface{}{"errors": errors, "warnings": warnings},
	})
}

// AccessDenied journals a gate rejection or lock refusal.
func (j *Journal) AccessDenied(resource, reason string) error {
	return j.Append(Entry{
		Event:    EventAccessDenied,
		Resource: resource,
		Action:   "deny",
		Status:   StatusFailure,
		Details:  reason,
	})
}

// SecurityAlert journals a security-sensitive observation.
func (j *Journal) SecurityAlert(resource, detail string) error {
	return j.Append(Entry{
		Event:    EventSecurityAlert,
		Resource: resource,
		Action:   "alert",
		Status:   StatusWarning,
		Details:  detail,
	})
}

// ConfigChange journals a configuration mutation.
func (j *Journal) ConfigChange(field, detail string) error {
	return j.Append(Entry{
		Event:    EventConfigChange,
		Resource: field,
		Action:   "configure",
		Status:   StatusSuccess,
		Details:  detail,
	})
}

// GateDecision journals the confidence-gate verdict for a fix. Rejections and
// escalations count as denials so operators can query them directly.
func (j *Journal) GateDecision(resource, fixID, action, reason string, confidence float64) error {
	entry := Entry{
		Resource: resource,
		Action:   action,
		Details:  reason,
		Metadata: map[string]interface{}{"fixId": fixID, "confidence": confidence},
	}
	switch action {
	case "reject", "escalate":
		entry.Event = EventAccessDenied
		entry.Status = StatusFailure
	default:
		entry.Event = EventValidationCheck
		entry.Status = StatusSuccess
	}
	return j.Append(entry)
}
