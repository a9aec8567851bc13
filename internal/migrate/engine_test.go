package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmigrate/internal/config"
	"modelmigrate/internal/db"
	"modelmigrate/internal/db/dbtest"
	"modelmigrate/internal/diff"
	"modelmigrate/internal/logging"
	"modelmigrate/internal/migration"
	"modelmigrate/internal/schema"
)

const userModels = `entities:
  - name: user
    fields:
      - name: id
        type: auto
      - name: name
        type: string
        max_length: 120
`

const userModelsWithEmail = userModels + `      - name: email
        type: string
        max_length: 254
        unique: true
`

const userModelsWithEmailAndActive = userModelsWithEmail + `      - name: active
        type: boolean
        default: "true"
`

func newEngine(t *testing.T, drv *dbtest.Driver, models string) (*Engine, config.Config) {
	t.Helper()
	dir := t.TempDir()
	modelsFile := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(modelsFile, []byte(models), 0o644))

	cfg := config.Config{
		Target:           config.Target{Provider: "postgres", DSN: "unused", Schema: "public"},
		MigrationsDir:    filepath.Join(dir, "migrations"),
		ModelsFile:       modelsFile,
		StateTable:       "schema_migrations",
		LockTimeout:      time.Second,
		StatementTimeout: time.Minute,
	}
	eng, err := New(cfg, drv, logging.Nop())
	require.NoError(t, err)
	return eng, cfg
}

func rewriteModels(t *testing.T, cfg config.Config, models string) {
	t.Helper()
	require.NoError(t, os.WriteFile(cfg.ModelsFile, []byte(models), 0o644))
}

func TestMakeMigrationInitial(t *testing.T) {
	drv := dbtest.New()
	eng, cfg := newEngine(t, drv, userModels)
	ctx := context.Background()

	rec, path, err := eng.MakeMigration(ctx, "initial", diff.Options{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.FileExists(t, path)
	assert.Empty(t, rec.DependsOn)
	require.Len(t, rec.Operations, 1)
	assert.Equal(t, migration.OpCreateTable, rec.Operations[0].Kind)
	assert.Equal(t, "user", rec.Operations[0].Entity)

	records, err := migration.LoadDir(cfg.MigrationsDir)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.Checksum(), records[0].Checksum())

	// An empty database needs no baseline.
	assert.NoFileExists(t, filepath.Join(cfg.MigrationsDir, "baseline.json"))
}

func TestMakeMigrationNoChanges(t *testing.T) {
	drv := dbtest.New()
	eng, _ := newEngine(t, drv, userModels)
	ctx := context.Background()

	_, _, err := eng.MakeMigration(ctx, "initial", diff.Options{})
	require.NoError(t, err)

	rec, path, err := eng.MakeMigration(ctx, "noop", diff.Options{})
	require.NoError(t, err)
	assert.Nil(t, rec, "matching schemas produce no record")
	assert.Empty(t, path)
}

func TestMakeMigrationChainsOnLeaves(t *testing.T) {
	drv := dbtest.New()
	eng, cfg := newEngine(t, drv, userModels)
	ctx := context.Background()

	first, _, err := eng.MakeMigration(ctx, "initial", diff.Options{})
	require.NoError(t, err)
	require.NotNil(t, first)

	rewriteModels(t, cfg, userModelsWithEmail)
	second, _, err := eng.MakeMigration(ctx, "add_email", diff.Options{})
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, []string{first.ID}, second.DependsOn)
	require.Len(t, second.Operations, 2)
	assert.Equal(t, migration.OpAddColumn, second.Operations[0].Kind)
	assert.Equal(t, migration.OpAddConstraint, second.Operations[1].Kind)
	assert.Equal(t, "uq_user_email", second.Operations[1].Constraint.Name)
}

func TestMakeMigrationBootstrapsFromIntrospection(t *testing.T) {
	drv := dbtest.New()
	// A database that predates tracking already has the table; only the
	// new column should be generated.
	drv.Introspected.Entities["user"] = schema.Entity{Name: "user", Fields: []schema.Field{
		{Name: "id", Type: schema.TypeAuto},
		{Name: "name", Type: schema.TypeString, MaxLength: 120},
	}}
	drv.Introspected.Entities["schema_migrations"] = schema.Entity{Name: "schema_migrations"}

	eng, cfg := newEngine(t, drv, userModelsWithEmail)
	rec, _, err := eng.MakeMigration(context.Background(), "add_email", diff.Options{})
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.Len(t, rec.Operations, 2)
	assert.Equal(t, migration.OpAddColumn, rec.Operations[0].Kind)
	assert.Equal(t, "email", rec.Operations[0].Column.Name)

	// The introspected base is persisted alongside the history.
	assert.FileExists(t, filepath.Join(cfg.MigrationsDir, "baseline.json"))
}

func TestMakeMigrationAfterBootstrap(t *testing.T) {
	drv := dbtest.New()
	drv.Introspected.Entities["user"] = schema.Entity{Name: "user", Fields: []schema.Field{
		{Name: "id", Type: schema.TypeAuto},
		{Name: "name", Type: schema.TypeString, MaxLength: 120},
	}}

	eng, cfg := newEngine(t, drv, userModelsWithEmail)
	ctx := context.Background()

	first, _, err := eng.MakeMigration(ctx, "add_email", diff.Options{})
	require.NoError(t, err)
	require.NotNil(t, first)

	// The first record only adds to an entity the baseline carries, so
	// the next diff must replay the history from that baseline, not
	// from an empty snapshot.
	rewriteModels(t, cfg, userModelsWithEmailAndActive)
	second, _, err := eng.MakeMigration(ctx, "add_active", diff.Options{})
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, []string{first.ID}, second.DependsOn)
	require.Len(t, second.Operations, 1)
	assert.Equal(t, migration.OpAddColumn, second.Operations[0].Kind)
	assert.Equal(t, "active", second.Operations[0].Column.Name)

	// Unchanged models stay a no-op after a bootstrap too.
	third, _, err := eng.MakeMigration(ctx, "noop", diff.Options{})
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestPlanSplitsAppliedFromPending(t *testing.T) {
	drv := dbtest.New()
	eng, cfg := newEngine(t, drv, userModels)
	ctx := context.Background()

	first, _, err := eng.MakeMigration(ctx, "initial", diff.Options{})
	require.NoError(t, err)
	rewriteModels(t, cfg, userModelsWithEmail)
	second, _, err := eng.MakeMigration(ctx, "add_email", diff.Options{})
	require.NoError(t, err)

	drv.Rows[first.ID] = db.AppliedRow{MigrationID: first.ID, Checksum: first.Checksum()}

	plan, err := eng.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, plan.Order)
	require.Len(t, plan.Pending, 1)
	assert.Equal(t, second.ID, plan.Pending[0].ID)
	assert.NotEmpty(t, plan.Statements[second.ID])

	// Planning executes nothing.
	assert.Empty(t, drv.Executed)
}

func TestApplyThenStatus(t *testing.T) {
	drv := dbtest.New()
	eng, cfg := newEngine(t, drv, userModels)
	ctx := context.Background()

	first, _, err := eng.MakeMigration(ctx, "initial", diff.Options{})
	require.NoError(t, err)
	rewriteModels(t, cfg, userModelsWithEmail)
	second, _, err := eng.MakeMigration(ctx, "add_email", diff.Options{})
	require.NoError(t, err)

	require.NoError(t, eng.Apply(ctx))
	assert.Contains(t, drv.Rows, first.ID)
	assert.Contains(t, drv.Rows, second.ID)

	st, err := eng.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Applied, 2)
	assert.Equal(t, first.ID, st.Applied[0].MigrationID)
	assert.Equal(t, second.ID, st.Applied[1].MigrationID)
	assert.Empty(t, st.Pending)
}

func TestRevertToTarget(t *testing.T) {
	drv := dbtest.New()
	eng, cfg := newEngine(t, drv, userModels)
	ctx := context.Background()

	first, _, err := eng.MakeMigration(ctx, "initial", diff.Options{})
	require.NoError(t, err)
	rewriteModels(t, cfg, userModelsWithEmail)
	second, _, err := eng.MakeMigration(ctx, "add_email", diff.Options{})
	require.NoError(t, err)
	require.NoError(t, eng.Apply(ctx))

	// Back to first: second is undone, first stays applied.
	require.NoError(t, eng.Revert(ctx, first.ID))
	assert.Contains(t, drv.Rows, first.ID)
	assert.NotContains(t, drv.Rows, second.ID)

	require.NoError(t, eng.Apply(ctx))
	require.NoError(t, eng.Revert(ctx, RevertTarget))
	assert.Empty(t, drv.Rows)
}

func TestRevertUnknownTarget(t *testing.T) {
	drv := dbtest.New()
	eng, _ := newEngine(t, drv, userModels)
	ctx := context.Background()

	_, _, err := eng.MakeMigration(ctx, "initial", diff.Options{})
	require.NoError(t, err)

	err = eng.Revert(ctx, "20200101000000_0001")
	require.Error(t, err)
}
