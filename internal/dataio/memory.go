package dataio

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MemorySource keeps every segment in memory. It backs tests and the CLI,
// which loads raw binary recordings into it.
type MemorySource struct {
	sampleRate float64
	nbChannel  int
	initial    []*mat.Dense
	processed  []*mat.Dense
}

// NewMemorySource wraps raw segments, each a samples x channels matrix.
// All segments must share the channel count.
func NewMemorySource(sampleRate float64, segments ...*mat.Dense) (*MemorySource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("at least one segment is required")
	}
	_, ch := segments[0].Dims()
	for i, s := range segments {
		if _, c := s.Dims(); c != ch {
			return nil, fmt.Errorf("segment %d has %d channels, segment 0 has %d", i, c, ch)
		}
	}
	return &MemorySource{
		sampleRate: sampleRate,
		nbChannel:  ch,
		initial:    segments,
		processed:  make([]*mat.Dense, len(segments)),
	}, nil
}

// NbSegment returns the number of segments.
func (m *MemorySource) NbSegment() int { return len(m.initial) }

// NbChannel returns the channel count shared by all segments.
func (m *MemorySource) NbChannel() int { return m.nbChannel }

// SampleRate returns the sampling rate in Hz.
func (m *MemorySource) SampleRate() float64 { return m.sampleRate }

// SegmentLength returns the sample count of a segment, 0 when out of range.
func (m *MemorySource) SegmentLength(seg int) int {
	if seg < 0 || seg >= len(m.initial) {
		return 0
	}
	r, _ := m.initial[seg].Dims()
	return r
}

func (m *MemorySource) signal(seg int, st SignalType) (*mat.Dense, error) {
	if seg < 0 || seg >= len(m.initial) {
		return nil, fmt.Errorf("segment %d out of range [0, %d)", seg, len(m.initial))
	}
	switch st {
	case SignalInitial:
		return m.initial[seg], nil
	case SignalProcessed:
		if m.processed[seg] == nil {
			return nil, fmt.Errorf("processed signal of segment %d not initialized", seg)
		}
		return m.processed[seg], nil
	default:
		return nil, fmt.Errorf("unknown signal type %q", st)
	}
}

// ReadChunk copies samples [start, stop) of a segment.
func (m *MemorySource) ReadChunk(seg, start, stop int, st SignalType) (*mat.Dense, error) {
	sig, err := m.signal(seg, st)
	if err != nil {
		return nil, err
	}
	r, _ := sig.Dims()
	if start < 0 || stop > r || start >= stop {
		return nil, fmt.Errorf("window [%d:%d] outside segment %d of length %d", start, stop, seg, r)
	}
	out := mat.NewDense(stop-start, m.nbChannel, nil)
	out.Copy(sig.Slice(start, stop, 0, m.nbChannel))
	return out, nil
}

// WriteChunk copies chunk into the processed signal of a segment at start.
func (m *MemorySource) WriteChunk(chunk mat.Matrix, seg, start int, st SignalType) error {
	if st != SignalProcessed {
		return fmt.Errorf("only the processed signal is writable, got %q", st)
	}
	sig, err := m.signal(seg, st)
	if err != nil {
		return err
	}
	rows, ch := chunk.Dims()
	r, _ := sig.Dims()
	if ch != m.nbChannel {
		return fmt.Errorf("chunk has %d channels, want %d", ch, m.nbChannel)
	}
	if start < 0 || start+rows > r {
		return fmt.Errorf("write [%d:%d] outside segment %d of length %d", start, start+rows, seg, r)
	}
	sig.Slice(start, start+rows, 0, m.nbChannel).(*mat.Dense).Copy(chunk)
	return nil
}

// ResetProcessed allocates a zeroed processed signal for a segment.
func (m *MemorySource) ResetProcessed(seg int) error {
	if seg < 0 || seg >= len(m.initial) {
		return fmt.Errorf("segment %d out of range [0, %d)", seg, len(m.initial))
	}
	r, _ := m.initial[seg].Dims()
	m.processed[seg] = mat.NewDense(r, m.nbChannel, nil)
	return nil
}

// Verify at compile time that *MemorySource implements Source.
var _ Source = (*MemorySource)(nil)
