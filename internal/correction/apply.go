package correction

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/models"
)

// Apply runs the command. A failure comes back as *models.CorrectionExecutionError.
func Apply(ctx context.Context, runner audio.Runner, ffmpegPath string, cmd models.CorrectionCommand) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	res, err := runner.Run(ctx, ffmpegPath, cmd.Args...)
	if err != nil {
		return &models.CorrectionExecutionError{
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(res.Stderr),
			Err:      fmt.Errorf("%s: %w", cmd.Action, err),
		}
	}
	return nil
}

// Shift performs the same edit as cmd on an in-memory signal. It returns x
// unchanged (not copied) for a zero-length edit.
func Shift(x []float32, cmd models.CorrectionCommand, sampleRate int) []float32 {
	n := int(math.Round(cmd.DurationSec * float64(sampleRate)))
	if n <= 0 {
		return x
	}
	switch cmd.Action {
	case models.ActionTrimHead:
		if n >= len(x) {
			return x[:0]
		}
		return x[n:]
	default:
		out := make([]float32, n+len(x))
		copy(out[n:], x)
		return out
	}
}

// Aligned applies cmd to whichever of ref and ext it targets and returns the pair.
func Aligned(ref, ext []float32, cmd models.CorrectionCommand, sampleRate int) (alignedRef, alignedExt []float32) {
	if cmd.Target == models.TrackReference {
		return Shift(ref, cmd, sampleRate), ext
	}
	return ref, Shift(ext, cmd, sampleRate)
}

// Corrected is the command's target after the edit.
func Corrected(ref, ext []float32, cmd models.CorrectionCommand, sampleRate int) []float32 {
	if cmd.Target == models.TrackReference {
		return Shift(ref, cmd, sampleRate)
	}
	return Shift(ext, cmd, sampleRate)
}
