// Package apply is the only component that writes to the working tree. Every
// application is transactional: targets are snapshotted before the first
// write, any failure restores them all, and the outcome is persisted as an
// ApplicationRecord with SHA-256 hashes of the bytes actually on disk.
package apply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"forgefix/internal/audit"
	"forgefix/internal/diff"
	"forgefix/internal/dryrun"
	"forgefix/internal/faults"
	"forgefix/internal/gate"
)

// =============================================================================
// RECORD MODEL
// =============================================================================

// RecordStatus is the terminal state of an application.
type RecordStatus string

const (
	StatusApplied    RecordStatus = "applied"
	StatusRolledBack RecordStatus = "rolled-back"
	StatusPartial    RecordStatus = "partial"
)

// AppliedPatch records one file write with its pre and post hashes.
type AppliedPatch struct {
	Filename   string     `json:"filename"`
	BeforeHash string     `json:"beforeHash"`
	AfterHash  string     `json:"afterHash"`
	Timestamp  int64      `json:"ts"` // Unix milliseconds
	Patch      diff.Patch `json:"patch"`
}

// Record is the persisted outcome of one application transaction.
type Record struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"ts"` // Unix milliseconds
	Patches   []AppliedPatch `json:"patches"`
	Decision  gate.Decision  `json:"decision"`
	Status    RecordStatus   `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// RollbackResult reports a rollback pass.
type RollbackResult struct {
	Restored   int      `json:"restored"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

// Options adjusts a single application.
type Options struct {
	// AutoApply overrides the gate precondition, allowing application of a
	// manual-review decision that a human has approved.
	AutoApply bool
	// SkipDryRun disables the pre-flight simulation.
	SkipDryRun bool
}

// =============================================================================
// PER-ROOT EXCLUSION
// =============================================================================

// rootLocks serialises applications per working-tree root across every
// Applicator in the process. Weight 1 makes TryAcquire a mutex that can
// refuse instead of block.
var rootLocks sync.Map // absolute root path → *semaphore.Weighted

func lockFor(root string) *semaphore.Weighted {
	actual, _ := rootLocks.LoadOrStore(root, semaphore.NewWeighted(1))
	return actual.(*semaphore.Weighted)
}

// =============================================================================
// APPLICATOR
// =============================================================================

const (
	stateDirName = ".forge/patches"
	recordFile   = "record.json"
	backupDir    = "backups"
)

// Applicator applies validated patches under one working-tree root.
type Applicator struct {
	root     string // absolute
	stateDir string
	journal  *audit.Journal
	sim      *dryrun.Simulator
	logger   *zap.Logger
}

// New creates an applicator for the given root. The journal may be nil; the
// simulator defaults to one without syntax validation when nil.
func New(root string, journal *audit.Journal, sim *dryrun.Simulator, logger *zap.Logger) (*Applicator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, faults.Wrap(faults.InputInvalid, err, "cannot resolve working-tree root %q", root)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, faults.New(faults.InputInvalid, "working-tree root %q is not a directory", root)
	}
	if sim == nil {
		sim = dryrun.New(nil, logger)
	}
	return &Applicator{
		root:     abs,
		stateDir: filepath.Join(abs, filepath.FromSlash(stateDirName)),
		journal:  journal,
		sim:      sim,
		logger:   logger.Named("apply"),
	}, nil
}

// Root returns the absolute working-tree root.
func (a *Applicator) Root() string {
	return a.root
}

// Apply runs the application transaction. The context governs only the
// pre-flight phases; once snapshotting begins the transaction runs to
// completion or restoration regardless of cancellation.
func (a *Applicator) Apply(ctx context.Context, patches []diff.Patch, decision gate.Decision, opts Options) (*Record, error) {
	if len(patches) == 0 {
		return nil, faults.New(faults.InputInvalid, "no patches to apply")
	}
	for _, p := range patches {
		if !filepath.IsLocal(filepath.FromSlash(p.Filename)) {
			return nil, faults.New(faults.InputInvalid, "patch target %q escapes the working tree", p.Filename)
		}
	}
	if decision.Action != gate.ActionAutoApply && !opts.AutoApply {
		a.deny(fmt.Sprintf("gate decision %q does not permit application", decision.Action))
		return nil, faults.New(faults.InputInvalid,
			"gate decision %q does not permit application; pass the auto-apply override after review", decision.Action)
	}

	lock := lockFor(a.root)
	if !lock.TryAcquire(1) {
		a.deny("another application is in progress against this root")
		return nil, faults.New(faults.ConcurrentApplication, "another application is in progress against %s", a.root)
	}
	defer lock.Release(1)

	if f := faults.FromContext(ctx); f != nil {
		return nil, f
	}
	if !opts.SkipDryRun {
		plan := a.sim.Simulate(ctx, a.root, patches, dryrun.Options{DetectConflicts: true})
		if f := faults.FromContext(ctx); f != nil {
			return nil, f
		}
		if !plan.Success {
			return nil, faults.New(faults.ApplyConflict, "dry run predicts failure: %s", firstError(plan))
		}
	}

	// Transaction boundary. No cancellation checks beyond this point.
	rec := &Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Decision:  decision,
		Status:    StatusApplied,
	}
	recordDir := filepath.Join(a.stateDir, rec.ID)

	backups, err := a.snapshot(recordDir, patches)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, p := range patches {
		applied, err := a.applyOne(p)
		if err != nil {
			note := a.restore(backups, created)
			rec.Status = StatusPartial
			rec.Error = err.Error()
			_ = a.persistRecord(recordDir, rec)
			a.journalApplied(rec, false, err.Error())
			return rec, faults.Wrap(faults.ApplyFailed, err,
				"applying %s failed; %s", p.Filename, note)
		}
		if p.IsNew {
			created = append(created, p.Filename)
		}
		rec.Patches = append(rec.Patches, applied)
	}

	if err := a.persistRecord(recordDir, rec); err != nil {
		note := a.restore(backups, created)
		rec.Status = StatusPartial
		rec.Error = err.Error()
		a.journalApplied(rec, false, err.Error())
		return rec, faults.Wrap(faults.ApplyFailed, err, "persisting the application record failed; %s", note)
	}
	a.journalApplied(rec, true, "")
	a.logger.Info("patches applied",
		zap.String("applicationId", rec.ID),
		zap.Int("files", len(rec.Patches)))
	return rec, nil
}

// Rollback restores the pre-application state for a recorded application.
// Patches revert in reverse order; created files are deleted, everything
// else is restored verbatim from its backup blob. Rollback never removes
// backups, so a repeated rollback is a no-op rewrite.
func (a *Applicator) Rollback(ctx context.Context, applicationID string) (*RollbackResult, error) {
	lock := lockFor(a.root)
	if !lock.TryAcquire(1) {
		a.deny("another application is in progress against this root")
		return nil, faults.New(faults.ConcurrentApplication, "another application is in progress against %s", a.root)
	}
	defer lock.Release(1)

	if f := faults.FromContext(ctx); f != nil {
		return nil, f
	}

	rec, recordDir, err := a.loadRecord(applicationID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &RollbackResult{}
	for i := len(rec.Patches) - 1; i >= 0; i-- {
		ap := rec.Patches[i]
		target := filepath.Join(a.root, filepath.FromSlash(ap.Filename))

		if ap.BeforeHash == emptyHash {
			// The application created this file.
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ap.Filename, err))
				continue
			}
			result.Restored++
			continue
		}

		blob, err := os.ReadFile(filepath.Join(recordDir, backupDir, filepath.FromSlash(ap.Filename)))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: backup unreadable: %v", ap.Filename, err))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ap.Filename, err))
			continue
		}
		if err := os.WriteFile(target, blob, 0o644); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ap.Filename, err))
			continue
		}
		result.Restored++
	}
	result.DurationMs = time.Since(start).Milliseconds()

	rec.Status = StatusRolledBack
	if len(result.Errors) > 0 {
		rec.Status = StatusPartial
		rec.Error = strings.Join(result.Errors, "; ")
	}
	_ = a.persistRecord(recordDir, rec)

	if a.journal != nil {
		_ = a.journal.FixReverted(a.root, applicationID, result.Restored, len(result.Errors))
	}
	a.logger.Info("application rolled back",
		zap.String("applicationId", applicationID),
		zap.Int("restored", result.Restored),
		zap.Int("errors", len(result.Errors)))

	if len(result.Errors) > 0 {
		return result, faults.New(faults.ApplyFailed, "rollback of %s restored %d files with %d errors",
			applicationID, result.Restored, len(result.Errors))
	}
	return result, nil
}

// LoadRecord reads a persisted application record.
func (a *Applicator) LoadRecord(applicationID string) (*Record, error) {
	rec, _, err := a.loadRecord(applicationID)
	return rec, err
}

// Records lists persisted application records, newest first.
func (a *Applicator) Records() ([]Record, error) {
	entries, err := os.ReadDir(a.stateDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Wrap(faults.ApplyFailed, err, "cannot list application records")
	}

	var records []Record
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, _, err := a.loadRecord(e.Name())
		if err != nil {
			a.logger.Warn("skipping unreadable record", zap.String("applicationId", e.Name()))
			continue
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp > records[j].Timestamp })
	return records, nil
}

// =============================================================================
// TRANSACTION INTERNALS
// =============================================================================

// snapshot backs up every existing non-create target, in memory and under the
// record directory. A snapshot failure aborts before anything is written.
func (a *Applicator) snapshot(recordDir string, patches []diff.Patch) (map[string][]byte, error) {
	backups := make(map[string][]byte)
	for _, p := range patches {
		if p.IsNew {
			continue
		}
		target := filepath.Join(a.root, filepath.FromSlash(p.Filename))
		content, err := os.ReadFile(target)
		if os.IsNotExist(err) {
			continue // the apply step will report the missing target
		}
		if err != nil {
			return nil, faults.Wrap(faults.ApplyFailed, err, "cannot snapshot %s", p.Filename)
		}
		backups[p.Filename] = content

		blobPath := filepath.Join(recordDir, backupDir, filepath.FromSlash(p.Filename))
		if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
			return nil, faults.Wrap(faults.ApplyFailed, err, "cannot create backup directory for %s", p.Filename)
		}
		if err := os.WriteFile(blobPath, content, 0o644); err != nil {
			return nil, faults.Wrap(faults.ApplyFailed, err, "cannot persist backup of %s", p.Filename)
		}
	}
	return backups, nil
}

// applyOne writes a single patch and hashes the bytes on disk before and
// after.
func (a *Applicator) applyOne(p diff.Patch) (AppliedPatch, error) {
	target := filepath.Join(a.root, filepath.FromSlash(p.Filename))
	applied := AppliedPatch{Filename: p.Filename, Patch: p, Timestamp: time.Now().UnixMilli()}

	switch {
	case p.IsNew:
		if _, err := os.Stat(target); err == nil {
			return applied, faults.New(faults.ApplyConflict, "create target %s already exists", p.Filename)
		}
		post, err := diff.Apply("", p)
		if err != nil {
			return applied, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return applied, faults.Wrap(faults.ApplyFailed, err, "cannot create parent directory for %s", p.Filename)
		}
		if err := os.WriteFile(target, []byte(post), 0o644); err != nil {
			return applied, faults.Wrap(faults.ApplyFailed, err, "cannot write %s", p.Filename)
		}
		applied.BeforeHash = emptyHash
		applied.AfterHash = hashFile(target)

	case p.IsDeleted:
		current, err := os.ReadFile(target)
		if err != nil {
			return applied, faults.Wrap(faults.ApplyConflict, err, "delete target %s is unreadable", p.Filename)
		}
		applied.BeforeHash = hashBytes(current)
		if err := os.Remove(target); err != nil {
			return applied, faults.Wrap(faults.ApplyFailed, err, "cannot delete %s", p.Filename)
		}
		applied.AfterHash = emptyHash

	default:
		current, err := os.ReadFile(target)
		if err != nil {
			return applied, faults.Wrap(faults.ApplyConflict, err, "modify target %s is unreadable", p.Filename)
		}
		applied.BeforeHash = hashBytes(current)
		post, err := diff.Apply(string(current), p)
		if err != nil {
			return applied, err
		}
		if err := os.WriteFile(target, []byte(post), 0o644); err != nil {
			return applied, faults.Wrap(faults.ApplyFailed, err, "cannot write %s", p.Filename)
		}
		applied.AfterHash = hashFile(target)
	}
	return applied, nil
}

// restore puts every snapshot back and removes files created during the
// failed transaction. Returns the restoration note for the caller's error.
func (a *Applicator) restore(backups map[string][]byte, created []string) string {
	restored, failed := 0, 0
	for name, content := range backups {
		target := filepath.Join(a.root, filepath.FromSlash(name))
		if err := os.WriteFile(target, content, 0o644); err != nil {
			failed++
			a.logger.Error("restore failed", zap.String("file", name), zap.Error(err))
			continue
		}
		restored++
	}
	for _, name := range created {
		target := filepath.Join(a.root, filepath.FromSlash(name))
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			failed++
			a.logger.Error("restore failed to remove created file", zap.String("file", name), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Sprintf("restoration incomplete: %d restored, %d failed", restored, failed)
	}
	return fmt.Sprintf("all %d snapshots restored", restored)
}

func (a *Applicator) persistRecord(recordDir string, rec *Record) error {
	if err := os.MkdirAll(recordDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(recordDir, recordFile), data, 0o644)
}

func (a *Applicator) loadRecord(applicationID string) (*Record, string, error) {
	if applicationID == "" || !filepath.IsLocal(applicationID) || strings.ContainsRune(applicationID, os.PathSeparator) {
		return nil, "", faults.New(faults.InputInvalid, "malformed application id %q", applicationID)
	}
	recordDir := filepath.Join(a.stateDir, applicationID)
	data, err := os.ReadFile(filepath.Join(recordDir, recordFile))
	if os.IsNotExist(err) {
		return nil, "", faults.New(faults.InputInvalid, "unknown application id %q", applicationID)
	}
	if err != nil {
		return nil, "", faults.Wrap(faults.ApplyFailed, err, "cannot read application record %s", applicationID)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, "", faults.Wrap(faults.ApplyFailed, err, "application record %s is corrupt", applicationID)
	}
	return &rec, recordDir, nil
}

func (a *Applicator) journalApplied(rec *Record, success bool, errMsg string) {
	if a.journal == nil {
		return
	}
	_ = a.journal.FixApplied(a.root, rec.ID, len(rec.Patches), success, errMsg)
}

func (a *Applicator) deny(reason string) {
	if a.journal == nil {
		return
	}
	_ = a.journal.AccessDenied(a.root, reason)
}

func firstError(plan *dryrun.Plan) string {
	for _, s := range plan.Steps {
		if s.Status == dryrun.StatusError {
			return fmt.Sprintf("%s %s: %s", s.Action, s.Target, s.Message)
		}
	}
	if plan.Cancelled {
		return "simulation cancelled"
	}
	return "simulation reported failure"
}

// =============================================================================
// HASHING
// =============================================================================

var emptyHash = hashBytes(nil)

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// hashFile hashes the bytes actually on disk; unreadable files hash as empty.
func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return emptyHash
	}
	return hashBytes(data)
}
