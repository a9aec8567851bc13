package migration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"modelmigrate/internal/schema"
)

var fileNamePattern = regexp.MustCompile(`^(\d{14}_\d{4})(?:_(.+))?\.json$`)

// baselineFile stores the introspected snapshot a history was
// bootstrapped from, so every later projection replays from the same
// base the first record was diffed against.
const baselineFile = "baseline.json"

// LoadDir reads every record file from a migration source directory,
// sorted by identifier. A missing directory yields an empty history.
func LoadDir(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if entry.Name() == baselineFile {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename: %s", entry.Name())
		}
		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		var rec Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", entry.Name(), err)
		}
		if rec.ID != m[1] {
			return nil, fmt.Errorf("migration %s: id %s does not match filename", entry.Name(), rec.ID)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("migration %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	for i := 1; i < len(records); i++ {
		if records[i].ID == records[i-1].ID {
			return nil, fmt.Errorf("duplicate migration id %s", records[i].ID)
		}
	}
	return records, nil
}

// WriteFile serializes a record into dir as <id>_<label>.json. The
// encoding round-trips byte-identically, which keeps checksums stable.
func WriteFile(dir string, rec Record) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations dir: %w", err)
	}
	name := rec.ID + ".json"
	if rec.Label != "" {
		name = fmt.Sprintf("%s_%s.json", rec.ID, rec.Label)
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("migration %s already exists", name)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return "", fmt.Errorf("encode migration: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write migration: %w", err)
	}
	return path, nil
}

// LoadBaseline reads the bootstrap snapshot, reporting whether one
// exists. Histories that began on an empty database have none.
func LoadBaseline(dir string) (schema.Snapshot, bool, error) {
	body, err := os.ReadFile(filepath.Join(dir, baselineFile))
	if os.IsNotExist(err) {
		return schema.NewSnapshot(), false, nil
	}
	if err != nil {
		return schema.Snapshot{}, false, fmt.Errorf("read baseline: %w", err)
	}
	snap := schema.NewSnapshot()
	if err := json.Unmarshal(body, &snap); err != nil {
		return schema.Snapshot{}, false, fmt.Errorf("parse baseline: %w", err)
	}
	return snap, true, nil
}

// WriteBaseline persists the snapshot the first record was diffed
// against. The baseline is fixed once written; overwriting is refused.
func WriteBaseline(dir string, snap schema.Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create migrations dir: %w", err)
	}
	path := filepath.Join(dir, baselineFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("baseline %s already exists", path)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return nil
}

// NextSequence returns the sequence number to use for a record created at
// the given timestamp prefix, accounting for records already present.
func NextSequence(existing []Record, timestampPrefix string) int {
	seq := 1
	for _, rec := range existing {
		if strings.HasPrefix(rec.ID, timestampPrefix) {
			seq++
		}
	}
	return seq
}
