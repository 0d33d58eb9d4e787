// Package correction turns an estimated offset into a pad-or-trim edit of one
// file, renders it as an ffmpeg invocation, and optionally runs it.
package correction

import (
	"fmt"
	"math"
	"strconv"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/cisco7507/align-audio/internal/models"
)

// Epsilon is the shift below which no edit is made.
const Epsilon = 1e-6

// Options carries the file locations the rendered command refers to.
type Options struct {
	ReferencePath string
	ExternalPath  string
	// OutputPath defaults to "<target>_aligned.wav".
	OutputPath string
	FFmpegPath string
}

// Build returns the edit that moves the target onto the other file's timeline.
//
// The shift s is the offset for external_to_reference and its negation for
// reference_to_external. A positive s means the target's content arrives late,
// so s seconds are trimmed from its head; a negative s pads |s| seconds of
// silence instead. With PreferTrim a pad is replaced by trimming |s| from the
// other file, which aligns the pair without inserting silence.
func Build(offsetSec float64, p models.AlignmentParameters, opts Options) models.CorrectionCommand {
	target, other := models.TrackExternal, models.TrackReference
	shift := offsetSec
	if p.Mode == models.ModeReferenceToExternal {
		target, other = other, target
		shift = -offsetSec
	}

	action := models.ActionPadHead
	duration := 0.0
	switch {
	case shift > Epsilon:
		action, duration = models.ActionTrimHead, shift
	case shift < -Epsilon:
		duration = -shift
		if p.PreferTrim {
			action, target = models.ActionTrimHead, other
		}
	}

	input := opts.ExternalPath
	if target == models.TrackReference {
		input = opts.ReferencePath
	}
	out := opts.OutputPath
	if out == "" {
		out = string(target) + "_aligned.wav"
	}
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	args := []string{"-y", "-i", input, "-ac", "1", "-ar", strconv.Itoa(p.SampleRate)}
	switch {
	case duration == 0:
	case action == models.ActionTrimHead:
		args = append(args, "-ss", timeFormat(duration))
	default:
		ms := int(math.Round(duration * 1000))
		args = append(args, "-af", fmt.Sprintf("adelay=%d|%d", ms, ms))
	}
	args = append(args, "-c:a", "pcm_s16le", "-rf64", "always", out)

	return models.CorrectionCommand{
		Action:      action,
		DurationSec: duration,
		Target:      target,
		Args:        args,
		Command:     shellquote.Join(append([]string{ffmpeg}, args...)...),
		OutputPath:  out,
	}
}

func timeFormat(sec float64) string {
	return strconv.FormatFloat(math.Max(0, sec), 'f', 6, 64)
}
