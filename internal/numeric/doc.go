// Package numeric holds the array helpers shared by the catalogue stages:
// a dense 3-D waveform tensor, robust statistics (median and MAD scaled to
// Gaussian-equivalent spread), band-limited FFT resampling, cubic
// interpolation and the central-difference kernel used for derivative
// templates.
package numeric
