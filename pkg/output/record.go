// Package output renders the job registry for people and programs.
//
// Text rendering (status listing, motd, prompt line) is styled with
// lipgloss. Machine output is a StatusDocument encoded as JSON or YAML, or
// a stream of JSONL envelope records when watching the registry.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/expinfo/pkg/jobregistry"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: expinfo.<type>.v<version>
const (
	// TypeSnapshot identifies a full registry snapshot.
	TypeSnapshot = "expinfo.snapshot.v1"

	// TypeError identifies error records.
	TypeError = "expinfo.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "expinfo.snapshot.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// Host is the machine the registry belongs to.
	Host string `json:"host"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// StatusDocument is the machine-readable registry listing.
type StatusDocument struct {
	Count int `json:"count" yaml:"count"`

	// Exclusive is the id of the job holding exclusive access, if any.
	Exclusive string `json:"exclusive,omitempty" yaml:"exclusive,omitempty"`

	// Jobs are ordered by start time, oldest first.
	Jobs []JobEntry `json:"jobs" yaml:"jobs"`
}

// JobEntry is one registry record plus derived state.
type JobEntry struct {
	ID  string          `json:"id" yaml:"id"`
	Job jobregistry.Job `json:"job" yaml:"job"`

	// Stale is set when the recorded pid no longer runs. The record stays
	// until its owner removes it.
	Stale bool `json:"stale" yaml:"stale"`
}

// ErrorRecord is the data payload for error records.
type ErrorRecord struct {
	// Code is a short machine-readable error class (e.g., "REGISTRY_BUSY").
	Code string `json:"code"`

	// Message is the human-readable error.
	Message string `json:"message"`

	// Path is the registry file involved, when known.
	Path string `json:"path,omitempty"`
}

// Error codes used in ErrorRecord.
const (
	CodeRegistryBusy = "REGISTRY_BUSY"
	CodeRenderFailed = "RENDER_FAILED"
	CodeInternal     = "INTERNAL"
)

// NewStatusDocument builds the listing for jobs. alive may be nil, in
// which case no entry is marked stale.
func NewStatusDocument(jobs jobregistry.Jobs, alive func(pid int) bool) *StatusDocument {
	doc := &StatusDocument{Count: len(jobs), Jobs: make([]JobEntry, 0, len(jobs))}
	if id, ok := jobs.HasExclusive(); ok {
		doc.Exclusive = id
	}
	for _, id := range jobs.IDs() {
		j := jobs[id]
		doc.Jobs = append(doc.Jobs, JobEntry{ID: id, Job: j, Stale: isStale(j, alive)})
	}
	return doc
}

func isStale(j jobregistry.Job, alive func(pid int) bool) bool {
	return alive != nil && j.PID > 0 && !alive(j.PID)
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrUnknownFormat is returned for an unsupported output format.
	ErrUnknownFormat = errors.New("unknown output format")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
