package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a recorded job failure.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindInsufficientData    ErrorKind = "insufficient_data"
	KindNoAnchorFound       ErrorKind = "no_anchor_found"
	KindDecode              ErrorKind = "decode"
	KindCorrectionExecution ErrorKind = "correction_execution"
	KindInternal            ErrorKind = "internal"
)

// JobError is the structured failure stored on a job record.
type JobError struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ValidationError rejects a request before a job is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientDataError means a windowed signal has no usable samples.
type InsufficientDataError struct {
	Signal string
	Need   int
	Have   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient %s data: need %d samples, have %d", e.Signal, e.Need, e.Have)
}

// NoAnchorFoundError means no content window reached the similarity threshold.
type NoAnchorFoundError struct {
	BestSimilarity float64
	BestTimeSec    float64
	MinSimilarity  float64
	Evaluated      int
}

func (e *NoAnchorFoundError) Error() string {
	return fmt.Sprintf("no anchor reached min similarity %.3f (best %.4f at %.2fs over %d windows)",
		e.MinSimilarity, e.BestSimilarity, e.BestTimeSec, e.Evaluated)
}

// DecodeError wraps a failure to read or decode an input file.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CorrectionExecutionError means the external tool failed to materialize output.
type CorrectionExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CorrectionExecutionError) Error() string {
	return fmt.Sprintf("correction command exited %d: %v", e.ExitCode, e.Err)
}

func (e *CorrectionExecutionError) Unwrap() error { return e.Err }

// ToJobError maps an error chain to its structured record.
func ToJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	var (
		jobErr   *JobError
		valErr   *ValidationError
		dataErr  *InsufficientDataError
		anchor   *NoAnchorFoundError
		decode   *DecodeError
		applyErr *CorrectionExecutionError
	)
	switch {
	case errors.As(err, &jobErr):
		return jobErr
	case errors.As(err, &valErr):
		return &JobError{Kind: KindValidation, Message: err.Error(), Details: map[string]any{"field": valErr.Field}}
	case errors.As(err, &dataErr):
		return &JobError{Kind: KindInsufficientData, Message: err.Error(), Details: map[string]any{
			"signal": dataErr.Signal, "need_samples": dataErr.Need, "have_samples": dataErr.Have,
		}}
	case errors.As(err, &anchor):
		return &JobError{Kind: KindNoAnchorFound, Message: err.Error(), Details: map[string]any{
			"best_similarity": anchor.BestSimilarity,
			"best_time_sec":   anchor.BestTimeSec,
			"min_similarity":  anchor.MinSimilarity,
		}}
	case errors.As(err, &decode):
		return &JobError{Kind: KindDecode, Message: err.Error(), Details: map[string]any{"path": decode.Path}}
	case errors.As(err, &applyErr):
		return &JobError{Kind: KindCorrectionExecution, Message: err.Error(), Details: map[string]any{
			"exit_code": applyErr.ExitCode, "stderr": applyErr.Stderr,
		}}
	default:
		return &JobError{Kind: KindInternal, Message: err.Error()}
	}
}
