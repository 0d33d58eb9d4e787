package dsp

import "gonum.org/v1/gonum/floats"

// CosineSimilarity returns a·b / (|a||b|), or 0 when either vector is all zeros.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
