// Package migrate is the engine facade: it connects the model reader,
// diff engine, resolver, tracker and executor behind the operations a
// deploy pipeline needs (make a migration, plan, apply, revert, status).
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"modelmigrate/internal/config"
	"modelmigrate/internal/db"
	"modelmigrate/internal/dialect"
	"modelmigrate/internal/diff"
	"modelmigrate/internal/executor"
	"modelmigrate/internal/migration"
	"modelmigrate/internal/resolver"
	"modelmigrate/internal/schema"
	"modelmigrate/internal/state"
)

// Engine owns one target database and one migration source directory.
// All durable state lives in the database and the source files; the
// engine itself can be rebuilt at any time.
type Engine struct {
	cfg        config.Config
	drv        db.Driver
	translator dialect.Translator
	tracker    *state.Tracker
	exec       *executor.Executor
	logger     *slog.Logger
}

// New wires an engine over an open driver.
func New(cfg config.Config, drv db.Driver, logger *slog.Logger) (*Engine, error) {
	translator, err := dialect.For(cfg.Target.Provider)
	if err != nil {
		return nil, err
	}
	tracker := state.New(drv, cfg.StateTable)
	lockName := "modelmigrate:" + cfg.StateTable
	exec := executor.New(drv, translator, tracker, logger, lockName, cfg.LockTimeout, cfg.StatementTimeout)
	return &Engine{
		cfg:        cfg,
		drv:        drv,
		translator: translator,
		tracker:    tracker,
		exec:       exec,
		logger:     logger,
	}, nil
}

// MakeMigration diffs the declared models against the last-known state
// and writes a new record to the source directory. Returns nil when the
// schemas already match.
func (e *Engine) MakeMigration(ctx context.Context, label string, opts diff.Options) (*migration.Record, string, error) {
	entities, err := schema.LoadModels(e.cfg.ModelsFile)
	if err != nil {
		return nil, "", err
	}
	current, err := schema.Read(entities)
	if err != nil {
		return nil, "", err
	}

	records, err := migration.LoadDir(e.cfg.MigrationsDir)
	if err != nil {
		return nil, "", err
	}

	previous, bootstrapped, err := e.previousSnapshot(ctx, records)
	if err != nil {
		return nil, "", err
	}

	ops, err := diff.Compute(previous, current, opts)
	if err != nil {
		return nil, "", err
	}
	if len(ops) == 0 {
		return nil, "", nil
	}

	if bootstrapped && len(previous.Entities) > 0 {
		// Later projections must replay from the same base this diff
		// was computed against.
		if err := migration.WriteBaseline(e.cfg.MigrationsDir, previous); err != nil {
			return nil, "", err
		}
		e.logger.Info("baseline recorded", "entities", len(previous.Entities))
	}

	now := time.Now().UTC()
	prefix := now.Format("20060102150405")
	rec := migration.Record{
		ID:         migration.NewID(now, migration.NextSequence(records, prefix)),
		Group:      "default",
		Label:      label,
		DependsOn:  leafRecords(records),
		Operations: ops,
	}
	path, err := migration.WriteFile(e.cfg.MigrationsDir, rec)
	if err != nil {
		return nil, "", err
	}
	e.logger.Info("migration created", "migration", rec.ID, "operations", len(ops), "path", path)
	return &rec, path, nil
}

// previousSnapshot reconstructs the last declared state by projecting
// the record history onto its baseline (the introspected snapshot the
// history was bootstrapped from, empty for histories that began on an
// empty database). Only when there is neither a baseline nor any record
// does it introspect the live schema; the second return reports that
// bootstrap case so the caller can persist the baseline.
func (e *Engine) previousSnapshot(ctx context.Context, records []migration.Record) (schema.Snapshot, bool, error) {
	base, haveBaseline, err := migration.LoadBaseline(e.cfg.MigrationsDir)
	if err != nil {
		return schema.Snapshot{}, false, err
	}
	if len(records) > 0 || haveBaseline {
		ordered, err := orderedRecords(records)
		if err != nil {
			return schema.Snapshot{}, false, err
		}
		snap, err := migration.Project(base, ordered)
		return snap, false, err
	}
	snap, err := e.drv.IntrospectSchema(ctx, e.cfg.Target.Schema)
	if err != nil {
		return schema.Snapshot{}, false, fmt.Errorf("introspect schema: %w", err)
	}
	// The engine's own table is not part of the declared model.
	delete(snap.Entities, e.cfg.StateTable)
	return snap, true, nil
}

// Plan is the resolved application order plus what each pending record
// would execute. Nothing is run.
type Plan struct {
	Order      []string
	Pending    []migration.Record
	Applied    map[string]db.AppliedRow
	Statements map[string][]string
}

// Plan resolves the full order and splits applied from pending. The
// state table is created if absent; no other statement executes.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	records, err := migration.LoadDir(e.cfg.MigrationsDir)
	if err != nil {
		return nil, err
	}
	order, err := resolver.Resolve(records)
	if err != nil {
		return nil, err
	}

	if err := e.tracker.EnsureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := e.tracker.AppliedSet(ctx)
	if err != nil {
		return nil, err
	}

	byID := recordsByID(records)
	plan := &Plan{Order: order, Applied: applied, Statements: map[string][]string{}}
	for _, id := range order {
		rec := byID[id]
		if _, ok := applied[id]; ok {
			continue
		}
		plan.Pending = append(plan.Pending, rec)
		var stmts []string
		for _, op := range rec.Operations {
			s, err := e.translator.Statements(op)
			if err != nil {
				return nil, fmt.Errorf("migration %s: translate %s: %w", id, op.Describe(), err)
			}
			stmts = append(stmts, s...)
		}
		plan.Statements[id] = stmts
	}
	return plan, nil
}

// Apply runs every pending record in resolved order, stopping at the
// first failure.
func (e *Engine) Apply(ctx context.Context) error {
	records, err := migration.LoadDir(e.cfg.MigrationsDir)
	if err != nil {
		return err
	}
	ordered, err := orderedRecords(records)
	if err != nil {
		return err
	}
	return e.exec.Apply(ctx, ordered)
}

// RevertTarget is the Revert argument meaning "revert every applied
// record".
const RevertTarget = "zero"

// Revert undoes everything applied after targetID, in reverse resolved
// order. targetID itself stays applied; RevertTarget reverts the whole
// history.
func (e *Engine) Revert(ctx context.Context, targetID string) error {
	records, err := migration.LoadDir(e.cfg.MigrationsDir)
	if err != nil {
		return err
	}
	ordered, err := orderedRecords(records)
	if err != nil {
		return err
	}

	start := 0
	if targetID != RevertTarget {
		found := false
		for i, rec := range ordered {
			if rec.ID == targetID {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown revert target %s", targetID)
		}
	}
	return e.exec.Revert(ctx, ordered[start:])
}

// Status summarizes the database against the source directory.
type Status struct {
	Applied []db.AppliedRow
	Pending []string
}

// Status reads the applied rows and lists pending identifiers in
// application order.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	plan, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{}
	for _, row := range plan.Applied {
		st.Applied = append(st.Applied, row)
	}
	sort.Slice(st.Applied, func(i, j int) bool { return st.Applied[i].MigrationID < st.Applied[j].MigrationID })
	for _, rec := range plan.Pending {
		st.Pending = append(st.Pending, rec.ID)
	}
	return st, nil
}

func orderedRecords(records []migration.Record) ([]migration.Record, error) {
	order, err := resolver.Resolve(records)
	if err != nil {
		return nil, err
	}
	byID := recordsByID(records)
	out := make([]migration.Record, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func recordsByID(records []migration.Record) map[string]migration.Record {
	byID := make(map[string]migration.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	return byID
}

// leafRecords returns the identifiers no other record depends on: the
// current heads of the history. A new record depends on all of them,
// which keeps independently authored branches ordered once merged.
func leafRecords(records []migration.Record) []string {
	dependedOn := map[string]bool{}
	for _, rec := range records {
		for _, dep := range rec.DependsOn {
			dependedOn[dep] = true
		}
	}
	var leaves []string
	for _, rec := range records {
		if !dependedOn[rec.ID] {
			leaves = append(leaves, rec.ID)
		}
	}
	sort.Strings(leaves)
	return leaves
}
