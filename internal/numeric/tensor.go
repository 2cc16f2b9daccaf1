package numeric

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor3 is a dense (N, Width, Channels) array stored row-major: the
// waveform of sample i occupies Data[i*Width*Channels:(i+1)*Width*Channels],
// itself laid out as Width rows of Channels values.
type Tensor3 struct {
	N        int
	Width    int
	Channels int
	Data     []float64
}

// NewTensor3 allocates a zeroed tensor.
func NewTensor3(n, width, channels int) Tensor3 {
	return Tensor3{N: n, Width: width, Channels: channels, Data: make([]float64, n*width*channels)}
}

// Stride is the number of values in one waveform.
func (t Tensor3) Stride() int { return t.Width * t.Channels }

// At returns the value of sample i at time offset s on channel c.
func (t Tensor3) At(i, s, c int) float64 {
	return t.Data[(i*t.Width+s)*t.Channels+c]
}

// Set stores v at sample i, time offset s, channel c.
func (t Tensor3) Set(i, s, c int, v float64) {
	t.Data[(i*t.Width+s)*t.Channels+c] = v
}

// Waveform returns the flattened waveform of sample i. The slice aliases
// the tensor storage.
func (t Tensor3) Waveform(i int) []float64 {
	st := t.Stride()
	return t.Data[i*st : (i+1)*st]
}

// WaveformDense returns sample i as a Width x Channels matrix sharing storage.
func (t Tensor3) WaveformDense(i int) *mat.Dense {
	return mat.NewDense(t.Width, t.Channels, t.Waveform(i))
}

// SetWaveform copies a Width x Channels matrix into sample i.
func (t Tensor3) SetWaveform(i int, m mat.Matrix) error {
	r, c := m.Dims()
	if r != t.Width || c != t.Channels {
		return fmt.Errorf("waveform shape (%d, %d) does not match tensor (%d, %d)", r, c, t.Width, t.Channels)
	}
	dst := t.WaveformDense(i)
	dst.Copy(m)
	return nil
}

// Select copies the listed samples into a new tensor.
func (t Tensor3) Select(rows []int) Tensor3 {
	out := NewTensor3(len(rows), t.Width, t.Channels)
	for j, i := range rows {
		copy(out.Waveform(j), t.Waveform(i))
	}
	return out
}

// SelectMask copies the samples whose mask entry is true.
func (t Tensor3) SelectMask(mask []bool) Tensor3 {
	rows := make([]int, 0, len(mask))
	for i, ok := range mask {
		if ok {
			rows = append(rows, i)
		}
	}
	return t.Select(rows)
}

// Flatten views the tensor as an N x (Width*Channels) matrix sharing storage.
// It returns nil for an empty tensor since gonum refuses zero-sized matrices.
func (t Tensor3) Flatten() *mat.Dense {
	if t.N == 0 || t.Stride() == 0 {
		return nil
	}
	return mat.NewDense(t.N, t.Stride(), t.Data)
}

// Size is the total element count.
func (t Tensor3) Size() int { return t.N * t.Width * t.Channels }

// Empty reports whether the tensor holds no waveform.
func (t Tensor3) Empty() bool { return t.N == 0 }

// Channel extracts channel c of every sample as an N x Width matrix.
func (t Tensor3) Channel(c int) *mat.Dense {
	out := mat.NewDense(t.N, t.Width, nil)
	for i := 0; i < t.N; i++ {
		for s := 0; s < t.Width; s++ {
			out.Set(i, s, t.At(i, s, c))
		}
	}
	return out
}
