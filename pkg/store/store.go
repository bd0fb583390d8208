// Package store persists meeting records. Records are keyed by meeting
// identifier and updated in place as a meeting moves through its lifecycle:
// recording, recorded, transcribing, done.
//
// The package includes a BadgerDB-backed implementation for production use
// and an in-memory implementation for testing.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a meeting record does not exist.
var ErrNotFound = errors.New("store: meeting not found")

// Status is the lifecycle state of a meeting record.
type Status string

const (
	StatusRecording    Status = "recording"
	StatusRecorded     Status = "recorded"
	StatusTranscribing Status = "transcribing"
	StatusDone         Status = "done"
)

// Record is one meeting's persisted state.
type Record struct {
	ID       string `msgpack:"id"`
	DeviceID string `msgpack:"device_id"`
	Title    string `msgpack:"title,omitempty"`

	StartedAt time.Time     `msgpack:"started_at"`
	StoppedAt time.Time     `msgpack:"stopped_at,omitempty"`
	Duration  time.Duration `msgpack:"duration,omitempty"`

	Status Status `msgpack:"status"`

	// Transcript is the assembled meeting text; Gaps lists the indexes of
	// segments whose transcription failed.
	Transcript string `msgpack:"transcript,omitempty"`
	Gaps       []int  `msgpack:"gaps,omitempty"`

	// Summary is the rendered structured summary, empty when
	// summarization was skipped or failed.
	Summary string `msgpack:"summary,omitempty"`

	// AudioPath locates the archived meeting audio in the blob store.
	AudioPath string `msgpack:"audio_path,omitempty"`
}

// Store is the meeting record storage collaborator: a put/update-by-id
// interface. Implementations must be safe for concurrent use.
type Store interface {
	// Put stores or overwrites a record by its ID.
	Put(ctx context.Context, rec *Record) error

	// Get retrieves a record. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes a record. Deleting an absent record is a no-op.
	Delete(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}
