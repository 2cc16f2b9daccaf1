package numeric

// CentralDifference applies the [1, 0, -1]/2 kernel along the time axis of
// every waveform, keeping the input length. Samples beyond either edge are
// treated as zero, which is why catalogue templates are trimmed afterwards.
func CentralDifference(t Tensor3) Tensor3 {
	out := NewTensor3(t.N, t.Width, t.Channels)
	for i := 0; i < t.N; i++ {
		for s := 0; s < t.Width; s++ {
			for c := 0; c < t.Channels; c++ {
				var next, prev float64
				if s+1 < t.Width {
					next = t.At(i, s+1, c)
				}
				if s-1 >= 0 {
					prev = t.At(i, s-1, c)
				}
				out.Set(i, s, c, 0.5*(next-prev))
			}
		}
	}
	return out
}
