package audio

import "math"

const gateEpsilon = 1e-12

// Gate returns a copy of x with every sample quieter than thresholdDB (dBFS) zeroed.
func Gate(x []float32, thresholdDB float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		db := 20 * math.Log10(math.Abs(float64(v))+gateEpsilon)
		if db >= thresholdDB {
			out[i] = v
		}
	}
	return out
}

// SecondsToSamples floors sec*sr, never going below zero.
func SecondsToSamples(sec float64, sampleRate int) int {
	if sec <= 0 {
		return 0
	}
	return int(sec * float64(sampleRate))
}

// Window returns x[start:start+length] clipped to the buffer. A non-positive
// length means "to the end". The result aliases x.
func Window(x []float32, start, length int) []float32 {
	if start < 0 {
		start = 0
	}
	if start >= len(x) {
		return x[:0]
	}
	end := len(x)
	if length > 0 && start+length < end {
		end = start + length
	}
	return x[start:end]
}

// Duration reports the length of x in seconds.
func Duration(x []float32, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(x)) / float64(sampleRate)
}

// RMS is the root mean square of x, 0 for an empty slice.
func RMS(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(x)))
}

// Float64s widens x for the gonum routines.
func Float64s(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}
