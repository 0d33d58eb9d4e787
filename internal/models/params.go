package models

import (
	"fmt"
	"math"
)

// AlignMode selects which of the two files gets shifted.
type AlignMode string

const (
	ModeExternalToReference AlignMode = "external_to_reference"
	ModeReferenceToExternal AlignMode = "reference_to_external"
)

// AnchorMode selects the offset estimation strategy.
type AnchorMode string

const (
	AnchorCorrelation AnchorMode = "correlation"
	AnchorContent     AnchorMode = "content"
)

// AlignmentParameters are supplied once per request and never mutated.
type AlignmentParameters struct {
	Mode            AlignMode  `json:"mode"`
	AnchorMode      AnchorMode `json:"anchor_mode"`
	SampleRate      int        `json:"sample_rate"`
	GateThresholdDB *float64   `json:"gate_threshold_db,omitempty"`
	MaxSearchSec    float64    `json:"max_search_sec"`
	RefStartSec     float64    `json:"ref_start_sec"`
	SearchStartSec  float64    `json:"search_start_sec"`
	AnalysisSec     float64    `json:"analysis_sec"`
	TemplateSec     float64    `json:"template_sec"`
	HopSec          float64    `json:"hop_sec"`
	MinSimilarity   float64    `json:"min_similarity"`
	PreferTrim      bool       `json:"prefer_trim"`

	GenerateWaveform     bool `json:"generate_waveform"`
	GenerateSimilarity   bool `json:"generate_similarity"`
	GenerateZoom         bool `json:"generate_zoom"`
	GenerateSpectrograms bool `json:"generate_spectrograms"`
	GenerateResidual     bool `json:"generate_residual"`
	GenerateCandidates   bool `json:"generate_candidates"`

	Apply bool `json:"apply"`
}

// DefaultParameters returns the request defaults.
func DefaultParameters() AlignmentParameters {
	return AlignmentParameters{
		Mode:                 ModeExternalToReference,
		AnchorMode:           AnchorCorrelation,
		SampleRate:           48000,
		MaxSearchSec:         60.0,
		AnalysisSec:          30.0,
		TemplateSec:          4.0,
		HopSec:               0.1,
		MinSimilarity:        0.78,
		GenerateWaveform:     true,
		GenerateSimilarity:   true,
		GenerateZoom:         true,
		GenerateSpectrograms: true,
		GenerateResidual:     true,
		GenerateCandidates:   true,
	}
}

// Validate rejects enum and range violations before a job is created.
func (p AlignmentParameters) Validate() error {
	switch p.Mode {
	case ModeExternalToReference, ModeReferenceToExternal:
	default:
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("unsupported value %q", p.Mode)}
	}
	switch p.AnchorMode {
	case AnchorCorrelation, AnchorContent:
	default:
		return &ValidationError{Field: "anchor_mode", Reason: fmt.Sprintf("unsupported value %q", p.AnchorMode)}
	}
	if p.SampleRate < 8000 || p.SampleRate > 192000 {
		return &ValidationError{Field: "sample_rate", Reason: "must be between 8000 and 192000"}
	}
	if p.GateThresholdDB != nil && (*p.GateThresholdDB > 0 || math.IsNaN(*p.GateThresholdDB)) {
		return &ValidationError{Field: "gate_threshold_db", Reason: "must be a dBFS value <= 0"}
	}
	nonNegative := map[string]float64{
		"max_search_sec":   p.MaxSearchSec,
		"ref_start_sec":    p.RefStartSec,
		"search_start_sec": p.SearchStartSec,
		"analysis_sec":     p.AnalysisSec,
	}
	for field, v := range nonNegative {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: field, Reason: "must be a finite value >= 0"}
		}
	}
	if p.AnchorMode == AnchorContent {
		if !(p.TemplateSec > 0) {
			return &ValidationError{Field: "template_sec", Reason: "must be > 0"}
		}
		if !(p.HopSec > 0) {
			return &ValidationError{Field: "hop_sec", Reason: "must be > 0"}
		}
		if p.MinSimilarity < -1 || p.MinSimilarity > 1 || math.IsNaN(p.MinSimilarity) {
			return &ValidationError{Field: "min_similarity", Reason: "must be within [-1, 1]"}
		}
	}
	return nil
}
