// Package dbtest provides an in-memory Driver for exercising the
// tracker, executor and engine without a database.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"modelmigrate/internal/db"
	"modelmigrate/internal/schema"
)

// Driver records every executed statement and keeps applied-state rows
// in memory. FailOn makes any statement containing the given substring
// fail, which is how tests simulate a mid-run statement error.
type Driver struct {
	mu sync.Mutex

	// Executed lists committed statements in execution order.
	Executed []string
	// RolledBack lists statements from transactions that rolled back.
	RolledBack []string

	Rows map[string]db.AppliedRow

	FailOn string

	// Introspected is returned by IntrospectSchema.
	Introspected schema.Snapshot

	LockHeld     bool
	LockAcquired int
	LockReleased int
	// BlockLock makes AcquireLock wait for the context, simulating a
	// concurrent holder.
	BlockLock bool

	StateTableReady bool
}

// New returns an empty fake driver.
func New() *Driver {
	return &Driver{
		Rows:         map[string]db.AppliedRow{},
		Introspected: schema.NewSnapshot(),
	}
}

func (d *Driver) Provider() string { return "fake" }

func (d *Driver) Close() error { return nil }

func (d *Driver) Exec(ctx context.Context, stmt string, _ ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOn != "" && strings.Contains(stmt, d.FailOn) {
		return &db.DriverError{Statement: stmt, Err: fmt.Errorf("injected failure")}
	}
	d.Executed = append(d.Executed, stmt)
	return nil
}

func (d *Driver) Begin(ctx context.Context) (db.Tx, error) {
	return &tx{drv: d}, nil
}

func (d *Driver) AcquireLock(ctx context.Context, _ string) error {
	if d.BlockLock {
		<-ctx.Done()
		return db.ErrLockTimeout
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LockHeld = true
	d.LockAcquired++
	return nil
}

func (d *Driver) ReleaseLock(ctx context.Context, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LockHeld = false
	d.LockReleased++
	return nil
}

func (d *Driver) EnsureStateTable(ctx context.Context, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StateTableReady = true
	return nil
}

func (d *Driver) AppliedRows(ctx context.Context, _ string) ([]db.AppliedRow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]db.AppliedRow, 0, len(d.Rows))
	for _, r := range d.Rows {
		out = append(out, r)
	}
	return out, nil
}

func (d *Driver) InsertApplied(ctx context.Context, _ string, row db.AppliedRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.Rows[row.MigrationID]; ok {
		return fmt.Errorf("duplicate applied row %s", row.MigrationID)
	}
	d.Rows[row.MigrationID] = row
	return nil
}

func (d *Driver) DeleteApplied(ctx context.Context, _ string, migrationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Rows, migrationID)
	return nil
}

func (d *Driver) IntrospectSchema(ctx context.Context, _ string) (schema.Snapshot, error) {
	return d.Introspected.Clone(), nil
}

// tx buffers statements and appends them to Executed only on commit.
type tx struct {
	drv     *Driver
	pending []string
	done    bool
}

func (t *tx) Exec(ctx context.Context, stmt string, _ ...any) error {
	if t.drv.FailOn != "" && strings.Contains(stmt, t.drv.FailOn) {
		return &db.DriverError{Statement: stmt, Err: fmt.Errorf("injected failure")}
	}
	t.pending = append(t.pending, stmt)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.drv.mu.Lock()
	defer t.drv.mu.Unlock()
	t.drv.Executed = append(t.drv.Executed, t.pending...)
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.drv.mu.Lock()
	defer t.drv.mu.Unlock()
	t.drv.RolledBack = append(t.drv.RolledBack, t.pending...)
	return nil
}
