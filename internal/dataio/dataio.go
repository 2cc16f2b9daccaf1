// Package dataio is the acquisition layer consumed by the catalogue
// pipeline: chunked and random-access reads of multi-segment signals by
// signal type, writes of the conditioned signal, and per-segment length
// queries.
package dataio

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SignalType tags which version of a segment is addressed.
type SignalType string

const (
	// SignalInitial is the raw recording.
	SignalInitial SignalType = "initial"
	// SignalProcessed is the conditioned (filtered, normalized) signal.
	SignalProcessed SignalType = "processed"
)

// Source is the narrow contract the pipeline needs from a recording.
type Source interface {
	NbSegment() int
	NbChannel() int
	SampleRate() float64
	// SegmentLength is the sample count of a segment for every signal type.
	SegmentLength(seg int) int
	// ReadChunk returns samples [start, stop) as a (stop-start) x channels matrix.
	ReadChunk(seg, start, stop int, st SignalType) (*mat.Dense, error)
	// WriteChunk stores chunk at [start, start+rows) of the processed signal.
	WriteChunk(chunk mat.Matrix, seg, start int, st SignalType) error
	// ResetProcessed (re)allocates a zeroed processed signal for a segment.
	ResetProcessed(seg int) error
}

// ForEachChunk streams [0, stop) of a segment in chunks of chunkSize, in
// position order, calling fn with the position just past the chunk. stop
// is clamped to the segment length and a stop below one chunk streams
// nothing. A trailing partial chunk is dropped, matching the fixed-size
// contract of the conditioning engines.
func ForEachChunk(src Source, seg, chunkSize int, st SignalType, stop int, fn func(pos int, chunk *mat.Dense) error) error {
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	stop = min(stop, src.SegmentLength(seg))
	for pos := chunkSize; pos <= stop; pos += chunkSize {
		chunk, err := src.ReadChunk(seg, pos-chunkSize, pos, st)
		if err != nil {
			return fmt.Errorf("read segment %d [%d:%d]: %w", seg, pos-chunkSize, pos, err)
		}
		if err := fn(pos, chunk); err != nil {
			return err
		}
	}
	return nil
}
