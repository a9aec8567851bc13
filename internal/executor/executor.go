// Package executor applies and reverts ordered migration records against
// a live database. Each record gets its own transaction: a later
// record's failure never rolls back an earlier, committed one. A whole
// run is serialized by an advisory lock so two deploys cannot interleave
// schema changes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"modelmigrate/internal/db"
	"modelmigrate/internal/dialect"
	"modelmigrate/internal/migration"
	"modelmigrate/internal/state"
)

// Logger is the slice of slog the executor needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// ApplyError reports the record that failed and why. Records ordered
// before it are applied and recorded; it and everything after it are
// not.
type ApplyError struct {
	RecordID string
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply failed at migration %s: %v", e.RecordID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// RevertError is the revert-direction counterpart of ApplyError.
type RevertError struct {
	RecordID string
	Err      error
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("revert failed at migration %s: %v", e.RecordID, e.Err)
}

func (e *RevertError) Unwrap() error { return e.Err }

// Executor coordinates lock, translation, transactions and state rows.
type Executor struct {
	drv         db.Driver
	translator  dialect.Translator
	tracker     *state.Tracker
	logger      Logger
	lockName    string
	lockTimeout time.Duration
	stmtTimeout time.Duration
}

// New builds an executor. lockName scopes the advisory lock; use one
// name per target database.
func New(drv db.Driver, translator dialect.Translator, tracker *state.Tracker, logger Logger, lockName string, lockTimeout, stmtTimeout time.Duration) *Executor {
	return &Executor{
		drv:         drv,
		translator:  translator,
		tracker:     tracker,
		logger:      logger,
		lockName:    lockName,
		lockTimeout: lockTimeout,
		stmtTimeout: stmtTimeout,
	}
}

// Apply executes the records in the given order, skipping ones already
// applied with a matching checksum. Processing stops at the first
// failure; earlier records stay applied and recorded.
func (e *Executor) Apply(ctx context.Context, records []migration.Record) error {
	return e.run(ctx, "apply", records, e.applyRecord)
}

// Revert undoes the records in reverse order. A record containing any
// irreversible operation fails before a single statement of it runs.
func (e *Executor) Revert(ctx context.Context, records []migration.Record) error {
	reversed := make([]migration.Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		reversed = append(reversed, records[i])
	}
	return e.run(ctx, "revert", reversed, e.revertRecord)
}

// run holds the shared lock/exit-path discipline for both directions.
func (e *Executor) run(ctx context.Context, direction string, records []migration.Record, step func(context.Context, uuid.UUID, migration.Record, map[string]db.AppliedRow) error) error {
	runID := uuid.New()
	e.logger.Info("migration run starting", "run_id", runID, "direction", direction, "records", len(records))

	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()
	if err := e.drv.AcquireLock(lockCtx, e.lockName); err != nil {
		if errors.Is(err, db.ErrLockTimeout) {
			e.logger.Error("advisory lock timed out", "run_id", runID, "lock", e.lockName)
		}
		return err
	}
	defer func() {
		// Release must run even when ctx is already cancelled.
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), e.lockTimeout)
		defer releaseCancel()
		if err := e.drv.ReleaseLock(releaseCtx, e.lockName); err != nil {
			e.logger.Error("advisory lock release failed", "run_id", runID, "error", err)
		}
	}()

	if err := e.tracker.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	applied, err := e.tracker.AppliedSet(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := step(ctx, runID, rec, applied); err != nil {
			e.logger.Error("migration run failed", "run_id", runID, "migration", rec.ID, "error", err)
			return err
		}
	}
	e.logger.Info("migration run finished", "run_id", runID, "direction", direction)
	return nil
}

func (e *Executor) applyRecord(ctx context.Context, runID uuid.UUID, rec migration.Record, applied map[string]db.AppliedRow) error {
	checksum := rec.Checksum()
	if row, ok := applied[rec.ID]; ok {
		if row.Checksum != checksum {
			return fmt.Errorf("migration %s: %w (stored %s, computed %s)", rec.ID, state.ErrChecksumMismatch, row.Checksum, checksum)
		}
		e.logger.Info("migration already applied, skipped", "run_id", runID, "migration", rec.ID)
		return nil
	}

	stmts, err := e.translate(rec.Operations)
	if err != nil {
		return &ApplyError{RecordID: rec.ID, Err: err}
	}
	if err := e.execInTx(ctx, stmts); err != nil {
		return &ApplyError{RecordID: rec.ID, Err: e.ddlCaveat(err)}
	}

	if err := e.tracker.RecordApplied(ctx, rec.ID, checksum); err != nil {
		if errors.Is(err, state.ErrAlreadyApplied) {
			return nil
		}
		return &ApplyError{RecordID: rec.ID, Err: err}
	}
	applied[rec.ID] = db.AppliedRow{MigrationID: rec.ID, Checksum: checksum}
	e.logger.Info("migration applied", "run_id", runID, "migration", rec.ID, "statements", len(stmts))
	return nil
}

func (e *Executor) revertRecord(ctx context.Context, runID uuid.UUID, rec migration.Record, applied map[string]db.AppliedRow) error {
	if _, ok := applied[rec.ID]; !ok {
		e.logger.Info("migration not applied, skipped", "run_id", runID, "migration", rec.ID)
		return nil
	}

	// Fail fast: no statement runs for a record that cannot be fully
	// undone.
	inverse := make([]migration.Operation, 0, len(rec.Operations))
	for i := len(rec.Operations) - 1; i >= 0; i-- {
		inv, err := rec.Operations[i].Invert()
		if err != nil {
			return &RevertError{RecordID: rec.ID, Err: err}
		}
		inverse = append(inverse, inv)
	}

	stmts, err := e.translate(inverse)
	if err != nil {
		return &RevertError{RecordID: rec.ID, Err: err}
	}
	if err := e.execInTx(ctx, stmts); err != nil {
		return &RevertError{RecordID: rec.ID, Err: e.ddlCaveat(err)}
	}

	if err := e.tracker.RecordReverted(ctx, rec.ID); err != nil {
		return &RevertError{RecordID: rec.ID, Err: err}
	}
	delete(applied, rec.ID)
	e.logger.Info("migration reverted", "run_id", runID, "migration", rec.ID, "statements", len(stmts))
	return nil
}

// ddlCaveat annotates statement failures on backends that auto-commit
// DDL: the transaction rollback did not undo already-run statements of
// the failed record.
func (e *Executor) ddlCaveat(err error) error {
	if e.translator.SupportsTransactionalDDL() {
		return err
	}
	return fmt.Errorf("%w (%s auto-commits DDL; earlier statements of this migration may have taken effect)", err, e.translator.Name())
}

func (e *Executor) translate(ops []migration.Operation) ([]string, error) {
	var stmts []string
	for _, op := range ops {
		s, err := e.translator.Statements(op)
		if err != nil {
			return nil, fmt.Errorf("translate %s: %w", op.Describe(), err)
		}
		stmts = append(stmts, s...)
	}
	return stmts, nil
}

// execInTx runs the statements inside one transaction. Any failure or
// cancellation rolls the transaction back; commit happens only after
// every statement succeeded.
func (e *Executor) execInTx(ctx context.Context, stmts []string) error {
	tx, err := e.drv.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range stmts {
		stmtCtx, cancel := context.WithTimeout(ctx, e.stmtTimeout)
		err := tx.Exec(stmtCtx, stmt)
		cancel()
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
