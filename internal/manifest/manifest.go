// Package manifest records batches of inserted records as YAML change
// manifests and persists them over a blob backend.
package manifest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hlskb/pkg/domain"
)

// Status is the rollback state of a manifest.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339
)

// Entry names one inserted record.
type Entry struct {
	Table domain.TableKind `yaml:"table"`
	ID    string           `yaml:"id"`
	Note  string           `yaml:"note,omitempty"`
}

// Manifest is the durable description of one batch. Field order is the key
// order of the YAML document.
type Manifest struct {
	Project           string  `yaml:"project"`
	Iteration         *int    `yaml:"iteration"`
	ProjectType       string  `yaml:"project_type"`
	Date              string  `yaml:"date"`
	Timestamp         string  `yaml:"timestamp"`
	Operator          string  `yaml:"operator"`
	Notes             string  `yaml:"notes"`
	Entries           []Entry `yaml:"inserted_records"`
	Status            Status  `yaml:"rollback_status"`
	RollbackTimestamp string  `yaml:"rollback_timestamp,omitempty"`
}

// New returns a pending manifest stamped at at.
func New(label, projectType, operator string, iteration *int, at time.Time) Manifest {
	at = at.UTC()
	return Manifest{
		Project:     label,
		Iteration:   iteration,
		ProjectType: projectType,
		Date:        at.Format(dateLayout),
		Timestamp:   at.Format(timestampLayout),
		Operator:    operator,
		Notes:       "Auto-generated log for " + label,
		Status:      StatusPending,
	}
}

// Add appends an entry, keeping insertion order.
func (m *Manifest) Add(table domain.TableKind, id, note string) {
	m.Entries = append(m.Entries, Entry{Table: table, ID: id, Note: note})
}

// AddRecord appends rec with note.
func (m *Manifest) AddRecord(rec domain.Record, note string) {
	m.Add(rec.Table(), rec.RecordID(), note)
}

// Completed reports whether the batch was already rolled back.
func (m Manifest) Completed() bool { return m.Status == StatusCompleted }

// CreatedAt parses Timestamp.
func (m Manifest) CreatedAt() (time.Time, error) {
	return time.Parse(timestampLayout, m.Timestamp)
}

// Tables returns the distinct table kinds in first-seen order.
func (m Manifest) Tables() []domain.TableKind {
	seen := make(map[domain.TableKind]bool, len(m.Entries))
	var out []domain.TableKind
	for _, e := range m.Entries {
		if !seen[e.Table] {
			seen[e.Table] = true
			out = append(out, e.Table)
		}
	}
	return out
}

// TableCount is one line of a per-table summary.
type TableCount struct {
	Table domain.TableKind
	Count int
}

// Summary counts entries per table in first-seen order.
func (m Manifest) Summary() []TableCount {
	idx := make(map[domain.TableKind]int)
	var out []TableCount
	for _, e := range m.Entries {
		i, ok := idx[e.Table]
		if !ok {
			i = len(out)
			idx[e.Table] = i
			out = append(out, TableCount{Table: e.Table})
		}
		out[i].Count++
	}
	return out
}

// Validate checks the status value and that every entry names a table and id.
func (m Manifest) Validate() error {
	var problems []string
	if strings.TrimSpace(m.Project) == "" {
		problems = append(problems, "project label is required")
	}
	if m.Status != StatusPending && m.Status != StatusCompleted {
		problems = append(problems, fmt.Sprintf("rollback_status %q must be pending or completed", m.Status))
	}
	if m.Iteration != nil && *m.Iteration <= 0 {
		problems = append(problems, fmt.Sprintf("iteration must be positive, got %d", *m.Iteration))
	}
	for i, e := range m.Entries {
		if strings.TrimSpace(string(e.Table)) == "" {
			problems = append(problems, fmt.Sprintf("inserted_records[%d]: table is required", i))
		}
		if strings.TrimSpace(e.ID) == "" {
			problems = append(problems, fmt.Sprintf("inserted_records[%d]: id is required", i))
		}
	}
	if len(problems) > 0 {
		return errors.New("invalid manifest: " + strings.Join(problems, "; "))
	}
	return nil
}

// Truncate shortens s to n runes for entry notes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
