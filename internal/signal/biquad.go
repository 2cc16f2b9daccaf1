package signal

import "math"

// biquad is one second-order section, normalized so a0 == 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// butterworthSections designs an order-4 Butterworth filter as two
// cascaded biquads (bilinear transform, prewarped at the cutoff).
func butterworthSections(cutoff, sampleRate float64, highpass bool) []biquad {
	const order = 4
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	sections := make([]biquad, 0, order/2)
	for k := 1; k <= order/2; k++ {
		q := 1 / (2 * math.Cos(float64(2*k-1)*math.Pi/(2*order)))
		alpha := sinw / (2 * q)
		a0 := 1 + alpha
		var b0, b1 float64
		if highpass {
			b0 = (1 + cosw) / 2
			b1 = -(1 + cosw)
		} else {
			b0 = (1 - cosw) / 2
			b1 = 1 - cosw
		}
		sections = append(sections, biquad{
			b0: b0 / a0,
			b1: b1 / a0,
			b2: b0 / a0,
			a1: -2 * cosw / a0,
			a2: (1 - alpha) / a0,
		})
	}
	return sections
}

// sosState is the transposed direct form II state of every section for
// every channel: state[ch][section] = {z1, z2}.
type sosState [][][2]float64

func newSOSState(nbChannel, nbSection int) sosState {
	s := make(sosState, nbChannel)
	for c := range s {
		s[c] = make([][2]float64, nbSection)
	}
	return s
}

// filterColumn runs x through the cascade in place, carrying state.
func filterColumn(sections []biquad, state [][2]float64, x []float64) {
	for k, sec := range sections {
		z := state[k]
		for i, v := range x {
			y := sec.b0*v + z[0]
			z[0] = sec.b1*v - sec.a1*y + z[1]
			z[1] = sec.b2*v - sec.a2*y
			x[i] = y
		}
		state[k] = z
	}
}
