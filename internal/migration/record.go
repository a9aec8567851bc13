package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Record is an immutable bundle of operations with declared dependencies
// on earlier records. Corrections are new records, never edits; the state
// tracker detects post-application edits through the checksum.
type Record struct {
	// ID orders records by creation: timestamp plus a sequence counter
	// to disambiguate records created within the same second.
	ID         string      `json:"id"`
	Group      string      `json:"group"`
	Label      string      `json:"label,omitempty"`
	DependsOn  []string    `json:"depends_on,omitempty"`
	Operations []Operation `json:"operations"`
}

// NewID builds a record identifier from a creation time and a sequence
// number, e.g. 20240615104500_0001.
func NewID(t time.Time, seq int) string {
	return fmt.Sprintf("%s_%04d", t.UTC().Format("20060102150405"), seq)
}

// Checksum returns the SHA-256 of the canonical operations encoding.
// encoding/json emits struct fields in declaration order, so the bytes
// are stable under repeated serialization.
func (r Record) Checksum() string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, op := range r.Operations {
		// Encode cannot fail for these types.
		_ = enc.Encode(op)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks every operation's structural payload.
func (r Record) Validate() error {
	for i, op := range r.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

// Reversible reports whether every operation in the record has an
// inverse. Revert refuses records for which this is false.
func (r Record) Reversible() bool {
	for _, op := range r.Operations {
		if !op.Reversible() {
			return false
		}
	}
	return true
}
