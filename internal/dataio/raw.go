package dataio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// RawDtype names the on-disk sample format of an interleaved raw recording.
type RawDtype string

const (
	DtypeInt16   RawDtype = "int16"
	DtypeFloat32 RawDtype = "float32"
	DtypeFloat64 RawDtype = "float64"
)

func (d RawDtype) size() (int, error) {
	switch d {
	case DtypeInt16:
		return 2, nil
	case DtypeFloat32:
		return 4, nil
	case DtypeFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported raw dtype %q", d)
}

// LoadRawFiles reads one interleaved little-endian binary file per segment
// (sample-major: every channel of sample 0, then sample 1, ...) into a
// MemorySource.
func LoadRawFiles(paths []string, dtype RawDtype, nbChannel int, sampleRate float64) (*MemorySource, error) {
	if nbChannel <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", nbChannel)
	}
	segments := make([]*mat.Dense, 0, len(paths))
	for _, p := range paths {
		seg, err := loadRawFile(filepath.Clean(p), dtype, nbChannel)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return NewMemorySource(sampleRate, segments...)
}

func loadRawFile(path string, dtype RawDtype, nbChannel int) (*mat.Dense, error) {
	width, err := dtype.size()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat raw file: %w", err)
	}
	frame := int64(width * nbChannel)
	if info.Size()%frame != 0 {
		return nil, fmt.Errorf("%s: size %d is not a multiple of %d channels x %d bytes", path, info.Size(), nbChannel, width)
	}
	n := int(info.Size() / frame)
	if n == 0 {
		return nil, fmt.Errorf("%s: empty recording", path)
	}
	data := make([]float64, n*nbChannel)
	r := bufio.NewReader(f)
	buf := make([]byte, width)
	for i := range data {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%s: read sample %d: %w", path, i, err)
		}
		switch dtype {
		case DtypeInt16:
			data[i] = float64(int16(binary.LittleEndian.Uint16(buf)))
		case DtypeFloat32:
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		case DtypeFloat64:
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf))
		}
	}
	return mat.NewDense(n, nbChannel, data), nil
}
