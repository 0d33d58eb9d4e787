package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted for an alignment job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Track names one of the two inputs, or the corrected rendition of the target.
type Track string

const (
	TrackReference Track = "reference"
	TrackExternal  Track = "external"
	TrackCorrected Track = "corrected"
)

// Job is the persisted record of one alignment request.
type Job struct {
	ID            string              `json:"job_id"`
	Status        JobStatus           `json:"status"`
	Parameters    AlignmentParameters `json:"parameters"`
	ReferenceName string              `json:"reference_name"`
	ExternalName  string              `json:"external_name"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
	Pinned        bool                `json:"pinned"`
	HasRawAudio   bool                `json:"has_raw_audio"`
	Result        *Result             `json:"result,omitempty"`
	Error         *JobError           `json:"error,omitempty"`
}

// Age returns how long ago the job was created relative to now.
func (j Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// Result holds everything derived from a completed analysis.
type Result struct {
	OffsetSec        float64           `json:"offset_sec"`
	Confidence       float64           `json:"confidence"`
	ConfidenceLabel  string            `json:"confidence_label"`
	Correction       CorrectionCommand `json:"correction"`
	Artifacts        Artifacts         `json:"artifacts"`
	ApplyError       *JobError         `json:"apply_error,omitempty"`
	ReferenceSamples int               `json:"reference_samples"`
	ExternalSamples  int               `json:"external_samples"`
	Logs             []string          `json:"logs,omitempty"`
}

// Artifacts are paths relative to the media root. Empty means not produced.
type Artifacts struct {
	ReferenceAudio       string `json:"reference_audio,omitempty"`
	ExternalAudio        string `json:"external_audio,omitempty"`
	CorrectedAudio       string `json:"corrected_audio,omitempty"`
	Waveform             string `json:"waveform,omitempty"`
	Similarity           string `json:"similarity,omitempty"`
	Zoom                 string `json:"zoom,omitempty"`
	SpectrogramReference string `json:"spectrogram_reference,omitempty"`
	SpectrogramExternal  string `json:"spectrogram_external,omitempty"`
	SpectrogramCorrected string `json:"spectrogram_corrected,omitempty"`
	Residual             string `json:"residual,omitempty"`
	Candidates           string `json:"candidates,omitempty"`
}

// CorrectionAction is the edit applied to the head of the target file.
type CorrectionAction string

const (
	ActionPadHead  CorrectionAction = "pad_head"
	ActionTrimHead CorrectionAction = "trim_head"
)

// CorrectionCommand is a concrete pad-or-trim instruction plus its ffmpeg rendering.
type CorrectionCommand struct {
	Action      CorrectionAction `json:"action"`
	DurationSec float64          `json:"duration_sec"`
	Target      Track            `json:"target"`
	Args        []string         `json:"args"`
	Command     string           `json:"command"`
	OutputPath  string           `json:"output_path"`
}

// IsNoop reports whether the command leaves the timeline untouched.
func (c CorrectionCommand) IsNoop() bool {
	return c.DurationSec == 0
}
