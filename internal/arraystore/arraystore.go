// Package arraystore is the durability substrate of a catalogue session: a
// named collection of arrays that can be (re)initialized, appended to chunk
// by chunk, reloaded across process restarts and detached, plus a
// versioned key-value info record and a run history.
//
// Arrays are opaque to the store. Typed access goes through Save, Load,
// AppendChunk and LoadChunks, which encode values with the gob+gzip codec.
package arraystore

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an array is absent (never created or detached).
var ErrNotFound = errors.New("array not found")

// Store persists named arrays as ordered chunk lists.
type Store interface {
	// Initialize creates name with no chunks, discarding any previous content.
	Initialize(name string) error
	// Append adds a chunk at the end of name. The array must exist.
	Append(name string, blob []byte) error
	// Blobs returns the chunks of name in append order.
	Blobs(name string) ([][]byte, error)
	// Detach removes name. Detaching an absent array is not an error.
	Detach(name string) error
	Exists(name string) (bool, error)
	Names() ([]string, error)

	// PutInfo upserts one key of the info record, bumping its version.
	PutInfo(key string, value []byte) error
	// Info returns the whole info record.
	Info() (map[string][]byte, error)

	RecordRun(r Run) error
	Runs() ([]Run, error)

	Close() error
}

// Run is one entry of the stage run history.
type Run struct {
	ID         string
	Stage      string
	ParamsJSON string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string
}

// Run statuses.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Save replaces name with a single chunk holding v.
func Save[T any](s Store, name string, v T) error {
	blob, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.Initialize(name); err != nil {
		return err
	}
	return s.Append(name, blob)
}

// Load decodes the single-chunk array name. ok is false when the array is
// absent.
func Load[T any](s Store, name string) (v T, ok bool, err error) {
	blobs, err := s.Blobs(name)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if len(blobs) != 1 {
		return v, false, fmt.Errorf("array %s holds %d chunks, want 1", name, len(blobs))
	}
	if err := Decode(blobs[0], &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, true, nil
}

// AppendChunk appends a slice chunk to the resizable array name. Empty
// chunks are skipped.
func AppendChunk[T any](s Store, name string, chunk []T) error {
	if len(chunk) == 0 {
		return nil
	}
	blob, err := Encode(chunk)
	if err != nil {
		return fmt.Errorf("encode %s chunk: %w", name, err)
	}
	return s.Append(name, blob)
}

// LoadChunks concatenates every chunk of the resizable array name.
func LoadChunks[T any](s Store, name string) (out []T, ok bool, err error) {
	blobs, err := s.Blobs(name)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out = []T{}
	for i, b := range blobs {
		var chunk []T
		if err := Decode(b, &chunk); err != nil {
			return nil, false, fmt.Errorf("decode %s chunk %d: %w", name, i, err)
		}
		out = append(out, chunk...)
	}
	return out, true, nil
}
