package api

import (
	"strconv"
	"strings"

	"github.com/cisco7507/align-audio/internal/models"
)

// parseParameters reads alignment parameters from form values, starting from
// the defaults. Range checks are left to AlignmentParameters.Validate.
func parseParameters(form map[string][]string) (models.AlignmentParameters, error) {
	p := models.DefaultParameters()
	get := func(key string) (string, bool) {
		vs := form[key]
		if len(vs) == 0 {
			return "", false
		}
		v := strings.TrimSpace(vs[0])
		return v, v != ""
	}

	if v, ok := get("mode"); ok {
		p.Mode = models.AlignMode(v)
	}
	if v, ok := get("anchor_mode"); ok {
		p.AnchorMode = models.AnchorMode(v)
	}
	if v, ok := get("sample_rate"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &models.ValidationError{Field: "sample_rate", Reason: "must be an integer"}
		}
		p.SampleRate = n
	}
	if v, ok := get("gate_threshold_db"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, &models.ValidationError{Field: "gate_threshold_db", Reason: "must be a number"}
		}
		p.GateThresholdDB = &f
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"max_search_sec", &p.MaxSearchSec},
		{"ref_start_sec", &p.RefStartSec},
		{"search_start_sec", &p.SearchStartSec},
		{"analysis_sec", &p.AnalysisSec},
		{"template_sec", &p.TemplateSec},
		{"hop_sec", &p.HopSec},
		{"min_similarity", &p.MinSimilarity},
	}
	for _, f := range floats {
		v, ok := get(f.key)
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, &models.ValidationError{Field: f.key, Reason: "must be a number"}
		}
		*f.dst = n
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"prefer_trim", &p.PreferTrim},
		{"generate_waveform", &p.GenerateWaveform},
		{"generate_similarity", &p.GenerateSimilarity},
		{"generate_zoom", &p.GenerateZoom},
		{"generate_spectrograms", &p.GenerateSpectrograms},
		{"generate_residual", &p.GenerateResidual},
		{"generate_candidates", &p.GenerateCandidates},
		{"apply", &p.Apply},
	}
	for _, b := range bools {
		v, ok := get(b.key)
		if !ok {
			continue
		}
		parsed, err := parseBool(v)
		if err != nil {
			return p, &models.ValidationError{Field: b.key, Reason: "must be a boolean"}
		}
		*b.dst = parsed
	}
	return p, nil
}

// parseBool accepts strconv forms plus the yes/no and on/off spellings HTML forms send.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "on", "y":
		return true, nil
	case "no", "off", "n":
		return false, nil
	}
	return strconv.ParseBool(v)
}
