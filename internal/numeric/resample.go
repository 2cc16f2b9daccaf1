package numeric

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// Resample band-limits each column of x to num samples using the Fourier
// method: the real spectrum is truncated or zero-padded and transformed
// back. When the input length is even, the input Nyquist bin is split
// across the positive and negative frequency when upsampling and folded
// when downsampling, so a sampled sinusoid keeps its amplitude.
func Resample(x *mat.Dense, num int) (*mat.Dense, error) {
	n, ch := x.Dims()
	if n < 1 || num < 1 {
		return nil, fmt.Errorf("resample: invalid lengths %d -> %d", n, num)
	}
	in := fourier.NewFFT(n)
	out := fourier.NewFFT(num)
	col := make([]float64, n)
	coeff := make([]complex128, n/2+1)
	resized := make([]complex128, num/2+1)
	seq := make([]float64, num)
	res := mat.NewDense(num, ch, nil)

	keep := min(n, num)
	nyq := keep/2 + 1
	scale := 1 / float64(n)
	for c := 0; c < ch; c++ {
		mat.Col(col, c, x)
		in.Coefficients(coeff, col)
		for i := range resized {
			resized[i] = 0
		}
		copy(resized[:nyq], coeff[:nyq])
		if keep%2 == 0 {
			switch {
			case num < n:
				resized[keep/2] *= 2
			case num > n:
				resized[keep/2] *= 0.5
			}
		}
		out.Sequence(seq, resized)
		for i, v := range seq {
			res.Set(i, c, v*scale)
		}
	}
	return res, nil
}
