package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmigrate/internal/db"
	"modelmigrate/internal/db/dbtest"
	"modelmigrate/internal/dialect"
	"modelmigrate/internal/executor"
	"modelmigrate/internal/logging"
	"modelmigrate/internal/migration"
	"modelmigrate/internal/schema"
	"modelmigrate/internal/state"
)

func newExecutor(drv *dbtest.Driver) *executor.Executor {
	tracker := state.New(drv, "schema_migrations")
	return executor.New(drv, dialect.Postgres{}, tracker, logging.Nop(), "modelmigrate:schema_migrations", time.Second, time.Minute)
}

func createTableRecord(id, entity string) migration.Record {
	return migration.Record{
		ID:    id,
		Group: "default",
		Operations: []migration.Operation{
			{Kind: migration.OpCreateTable, Entity: entity, Fields: []schema.Field{
				{Name: "id", Type: schema.TypeAuto},
			}},
		},
	}
}

func TestApplyRecordsInOrder(t *testing.T) {
	drv := dbtest.New()
	exec := newExecutor(drv)

	records := []migration.Record{
		createTableRecord("20240101000000_0001", "user"),
		createTableRecord("20240102000000_0001", "post"),
	}
	require.NoError(t, exec.Apply(context.Background(), records))

	require.Len(t, drv.Executed, 2)
	assert.Contains(t, drv.Executed[0], `"user"`)
	assert.Contains(t, drv.Executed[1], `"post"`)

	assert.Contains(t, drv.Rows, "20240101000000_0001")
	assert.Contains(t, drv.Rows, "20240102000000_0001")
	assert.Equal(t, records[0].Checksum(), drv.Rows["20240101000000_0001"].Checksum)

	assert.True(t, drv.StateTableReady)
	assert.Equal(t, 1, drv.LockAcquired)
	assert.Equal(t, 1, drv.LockReleased)
	assert.False(t, drv.LockHeld)
}

func TestApplyIsIdempotent(t *testing.T) {
	drv := dbtest.New()
	exec := newExecutor(drv)
	records := []migration.Record{createTableRecord("20240101000000_0001", "user")}

	require.NoError(t, exec.Apply(context.Background(), records))
	executed := len(drv.Executed)

	require.NoError(t, exec.Apply(context.Background(), records))
	assert.Equal(t, executed, len(drv.Executed), "second apply must execute nothing")
	assert.Len(t, drv.Rows, 1)
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	drv := dbtest.New()
	drv.FailOn = `"broken"`
	exec := newExecutor(drv)

	records := []migration.Record{
		createTableRecord("20240101000000_0001", "user"),
		createTableRecord("20240102000000_0001", "broken"),
		createTableRecord("20240103000000_0001", "post"),
	}
	err := exec.Apply(context.Background(), records)
	require.Error(t, err)

	var applyErr *executor.ApplyError
	require.True(t, errors.As(err, &applyErr))
	assert.Equal(t, "20240102000000_0001", applyErr.RecordID)

	var drvErr *db.DriverError
	require.True(t, errors.As(err, &drvErr))
	assert.Contains(t, drvErr.Statement, `"broken"`)

	// Exactly the records before the failing one are applied.
	assert.Contains(t, drv.Rows, "20240101000000_0001")
	assert.NotContains(t, drv.Rows, "20240102000000_0001")
	assert.NotContains(t, drv.Rows, "20240103000000_0001")
	require.Len(t, drv.Executed, 1)

	// The lock is released on the failure path too.
	assert.False(t, drv.LockHeld)
	assert.Equal(t, 1, drv.LockReleased)
}

func TestApplyFailedRecordRollsBack(t *testing.T) {
	drv := dbtest.New()
	drv.FailOn = "ix_user_email"
	exec := newExecutor(drv)

	rec := migration.Record{
		ID:    "20240101000000_0001",
		Group: "default",
		Operations: []migration.Operation{
			{Kind: migration.OpCreateTable, Entity: "user", Fields: []schema.Field{
				{Name: "id", Type: schema.TypeAuto},
			}, Indexes: []schema.Index{
				{Name: "ix_user_email", Columns: []string{"id"}},
			}},
		},
	}
	err := exec.Apply(context.Background(), []migration.Record{rec})
	require.Error(t, err)

	// The CREATE TABLE of the same record was buffered in the
	// transaction and rolled back, not committed.
	assert.Empty(t, drv.Executed)
	require.Len(t, drv.RolledBack, 1)
	assert.Contains(t, drv.RolledBack[0], "CREATE TABLE")
	assert.Empty(t, drv.Rows)
}

func TestApplyHaltsOnChecksumMismatch(t *testing.T) {
	drv := dbtest.New()
	rec := createTableRecord("20240101000000_0001", "user")
	drv.Rows[rec.ID] = db.AppliedRow{MigrationID: rec.ID, Checksum: "edited-after-apply"}
	exec := newExecutor(drv)

	err := exec.Apply(context.Background(), []migration.Record{
		rec,
		createTableRecord("20240102000000_0001", "post"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrChecksumMismatch))
	assert.Empty(t, drv.Executed, "nothing runs once drift is detected")
}

func TestRevertInReverseOrder(t *testing.T) {
	drv := dbtest.New()
	exec := newExecutor(drv)
	records := []migration.Record{
		createTableRecord("20240101000000_0001", "user"),
		createTableRecord("20240102000000_0001", "post"),
	}
	require.NoError(t, exec.Apply(context.Background(), records))
	drv.Executed = nil

	require.NoError(t, exec.Revert(context.Background(), records))
	require.Len(t, drv.Executed, 2)
	assert.Contains(t, drv.Executed[0], `DROP TABLE "post"`)
	assert.Contains(t, drv.Executed[1], `DROP TABLE "user"`)
	assert.Empty(t, drv.Rows)
}

func TestRevertSkipsUnapplied(t *testing.T) {
	drv := dbtest.New()
	exec := newExecutor(drv)
	records := []migration.Record{createTableRecord("20240101000000_0001", "user")}

	require.NoError(t, exec.Revert(context.Background(), records))
	assert.Empty(t, drv.Executed)
}

func TestRevertIrreversibleFailsBeforeExecuting(t *testing.T) {
	drv := dbtest.New()
	exec := newExecutor(drv)

	col := schema.Field{Name: "legacy", Type: schema.TypeString}
	rec := migration.Record{
		ID:    "20240101000000_0001",
		Group: "default",
		Operations: []migration.Operation{
			{Kind: migration.OpAddColumn, Entity: "user", Column: &col},
			{Kind: migration.OpDropColumn, Entity: "user", Column: &col},
		},
	}
	drv.Rows[rec.ID] = db.AppliedRow{MigrationID: rec.ID, Checksum: rec.Checksum()}

	err := exec.Revert(context.Background(), []migration.Record{rec})
	require.Error(t, err)
	assert.True(t, errors.Is(err, migration.ErrIrreversible))

	var revertErr *executor.RevertError
	require.True(t, errors.As(err, &revertErr))
	assert.Equal(t, rec.ID, revertErr.RecordID)

	assert.Empty(t, drv.Executed, "no statement may run for a record that cannot be fully undone")
	assert.Contains(t, drv.Rows, rec.ID, "the record stays applied")
}

func TestApplyFailureNotesAutoCommittedDDL(t *testing.T) {
	drv := dbtest.New()
	drv.FailOn = "`user`"
	tracker := state.New(drv, "schema_migrations")
	exec := executor.New(drv, dialect.MySQL{}, tracker, logging.Nop(), "modelmigrate:schema_migrations", time.Second, time.Minute)

	err := exec.Apply(context.Background(), []migration.Record{createTableRecord("20240101000000_0001", "user")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto-commits DDL")

	var drvErr *db.DriverError
	assert.True(t, errors.As(err, &drvErr), "annotation must keep the cause unwrappable")
}

func TestLockTimeout(t *testing.T) {
	drv := dbtest.New()
	drv.BlockLock = true
	tracker := state.New(drv, "schema_migrations")
	exec := executor.New(drv, dialect.Postgres{}, tracker, logging.Nop(), "modelmigrate:schema_migrations", 20*time.Millisecond, time.Minute)

	err := exec.Apply(context.Background(), []migration.Record{createTableRecord("20240101000000_0001", "user")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrLockTimeout))
	assert.Empty(t, drv.Executed, "no schema change happens without the lock")
	assert.Empty(t, drv.Rows)
}
