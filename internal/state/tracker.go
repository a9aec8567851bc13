// Package state owns the durable record of which migrations a database
// has actually executed. The state table is the single source of truth;
// the tracker re-reads it on every query so restarts and concurrent
// deploys never act on stale memory.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modelmigrate/internal/db"
)

var (
	// ErrAlreadyApplied means the record is present with a matching
	// checksum. Apply treats it as a safe no-op.
	ErrAlreadyApplied = errors.New("migration already applied")

	// ErrChecksumMismatch means the record is present with a different
	// checksum: it was edited after being applied. This is environment
	// drift and halts further application.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")

	// ErrNotApplied means a revert was requested for a record with no
	// applied row.
	ErrNotApplied = errors.New("migration not applied")
)

// Tracker reads and writes applied-state rows through a driver.
type Tracker struct {
	drv   db.Driver
	table string
}

// New builds a tracker over the given state table.
func New(drv db.Driver, table string) *Tracker {
	return &Tracker{drv: drv, table: table}
}

// EnsureTable creates the state table if absent. Called before any other
// schema operation.
func (t *Tracker) EnsureTable(ctx context.Context) error {
	return t.drv.EnsureStateTable(ctx, t.table)
}

// AppliedSet returns the applied rows keyed by migration identifier.
func (t *Tracker) AppliedSet(ctx context.Context) (map[string]db.AppliedRow, error) {
	rows, err := t.drv.AppliedRows(ctx, t.table)
	if err != nil {
		return nil, fmt.Errorf("read applied set: %w", err)
	}
	out := make(map[string]db.AppliedRow, len(rows))
	for _, r := range rows {
		out[r.MigrationID] = r
	}
	return out, nil
}

// RecordApplied writes an applied row for id. A row with a matching
// checksum yields ErrAlreadyApplied; a differing checksum yields
// ErrChecksumMismatch.
func (t *Tracker) RecordApplied(ctx context.Context, id, checksum string) error {
	applied, err := t.AppliedSet(ctx)
	if err != nil {
		return err
	}
	if row, ok := applied[id]; ok {
		if row.Checksum == checksum {
			return fmt.Errorf("migration %s: %w", id, ErrAlreadyApplied)
		}
		return fmt.Errorf("migration %s: %w (stored %s, computed %s)", id, ErrChecksumMismatch, row.Checksum, checksum)
	}
	row := db.AppliedRow{MigrationID: id, AppliedAt: time.Now().UTC(), Checksum: checksum}
	if err := t.drv.InsertApplied(ctx, t.table, row); err != nil {
		return fmt.Errorf("record applied %s: %w", id, err)
	}
	return nil
}

// RecordReverted deletes the applied row for id, failing with
// ErrNotApplied when no row exists.
func (t *Tracker) RecordReverted(ctx context.Context, id string) error {
	applied, err := t.AppliedSet(ctx)
	if err != nil {
		return err
	}
	if _, ok := applied[id]; !ok {
		return fmt.Errorf("migration %s: %w", id, ErrNotApplied)
	}
	if err := t.drv.DeleteApplied(ctx, t.table, id); err != nil {
		return fmt.Errorf("record reverted %s: %w", id, err)
	}
	return nil
}

// Verify checks a record's stored checksum against the computed one,
// returning ErrChecksumMismatch on drift. Records without a row verify
// trivially.
func (t *Tracker) Verify(ctx context.Context, id, checksum string) error {
	applied, err := t.AppliedSet(ctx)
	if err != nil {
		return err
	}
	row, ok := applied[id]
	if !ok {
		return nil
	}
	if row.Checksum != checksum {
		return fmt.Errorf("migration %s: %w (stored %s, computed %s)", id, ErrChecksumMismatch, row.Checksum, checksum)
	}
	return nil
}
