package api

import (
	"fmt"
	"net/url"
	"time"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/models"
)

// jobView is the poll response. Only the fields meaningful for the job's
// status are populated.
type jobView struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`

	Error *models.JobError `json:"error,omitempty"`

	CreatedAt       *time.Time                  `json:"created_at,omitempty"`
	ExpiresAt       *time.Time                  `json:"expires_at,omitempty"`
	Pinned          *bool                       `json:"pinned,omitempty"`
	HasRawAudio     *bool                       `json:"has_raw_audio,omitempty"`
	Parameters      *models.AlignmentParameters `json:"parameters,omitempty"`
	OffsetSec       *float64                    `json:"offset_sec,omitempty"`
	Confidence      *float64                    `json:"confidence,omitempty"`
	ConfidenceLabel string                      `json:"confidence_label,omitempty"`
	Correction      *correctionView             `json:"correction,omitempty"`
	ApplyError      *models.JobError            `json:"apply_error,omitempty"`
	ReferenceURL    string                      `json:"reference_url,omitempty"`
	ExternalURL     string                      `json:"external_url,omitempty"`
	ReferenceName   string                      `json:"reference_name,omitempty"`
	ExternalName    string                      `json:"external_name,omitempty"`
	Artifacts       map[string]string           `json:"artifacts,omitempty"`
	Spectrograms    map[models.Track]string     `json:"spectrograms,omitempty"`
	Analysis        *analysisView               `json:"analysis,omitempty"`
	Logs            []string                    `json:"logs,omitempty"`

	// CorrectionCommand repeats correction.command at the top level.
	CorrectionCommand string `json:"correction_command,omitempty"`
}

type correctionView struct {
	Action      models.CorrectionAction `json:"action"`
	DurationSec float64                 `json:"duration_sec"`
	Target      models.Track            `json:"target"`
	Command     string                  `json:"command"`
	OutputURL   string                  `json:"output_url,omitempty"`
}

type analysisView struct {
	ReferenceSamples int `json:"reference_samples"`
	ExternalSamples  int `json:"external_samples"`
}

func newJobView(job models.Job) jobView {
	v := jobView{JobID: job.ID, Status: job.Status}
	switch job.Status {
	case models.StatusFailed:
		v.Error = job.Error
		return v
	case models.StatusCompleted:
	default:
		return v
	}
	res := job.Result
	if res == nil {
		return v
	}

	v.CreatedAt = &job.CreatedAt
	v.ExpiresAt = &job.ExpiresAt
	v.Pinned = &job.Pinned
	v.HasRawAudio = &job.HasRawAudio
	v.Parameters = &job.Parameters
	v.OffsetSec = &res.OffsetSec
	v.Confidence = &res.Confidence
	v.ConfidenceLabel = res.ConfidenceLabel
	v.CorrectionCommand = res.Correction.Command
	v.ApplyError = res.ApplyError
	v.ReferenceName = job.ReferenceName
	v.ExternalName = job.ExternalName
	v.Logs = res.Logs
	v.Analysis = &analysisView{ReferenceSamples: res.ReferenceSamples, ExternalSamples: res.ExternalSamples}
	v.Correction = &correctionView{
		Action:      res.Correction.Action,
		DurationSec: res.Correction.DurationSec,
		Target:      res.Correction.Target,
		Command:     res.Correction.Command,
		OutputURL:   artifacts.MediaURL(res.Artifacts.CorrectedAudio),
	}
	if job.HasRawAudio {
		v.ReferenceURL = artifacts.MediaURL(res.Artifacts.ReferenceAudio)
		v.ExternalURL = artifacts.MediaURL(res.Artifacts.ExternalAudio)
	}

	a := res.Artifacts
	v.Artifacts = map[string]string{}
	for name, rel := range map[string]string{
		"waveform":              a.Waveform,
		"similarity":            a.Similarity,
		"zoom":                  a.Zoom,
		"spectrogram_reference": a.SpectrogramReference,
		"spectrogram_external":  a.SpectrogramExternal,
		"spectrogram_corrected": a.SpectrogramCorrected,
		"residual":              a.Residual,
		"candidates":            a.Candidates,
	} {
		if rel != "" {
			v.Artifacts[name] = artifacts.MediaURL(rel)
		}
	}
	v.Spectrograms = map[models.Track]string{}
	for _, track := range []models.Track{models.TrackReference, models.TrackExternal, models.TrackCorrected} {
		v.Spectrograms[track] = spectrogramURL(job.ID, track)
	}
	return v
}

func spectrogramURL(id string, track models.Track) string {
	return fmt.Sprintf("/api/v1/spectrograms/%s?track=%s", url.PathEscape(id), url.QueryEscape(string(track)))
}
