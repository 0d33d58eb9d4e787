package correction_test

import (
	"context"
	"errors"
	"math/rand"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/correction"
	"github.com/cisco7507/align-audio/internal/estimate"
	"github.com/cisco7507/align-audio/internal/models"
)

const sr = 8000

func params(mode models.AlignMode) models.AlignmentParameters {
	p := models.DefaultParameters()
	p.Mode = mode
	p.SampleRate = sr
	return p
}

func TestBuild(t *testing.T) {
	opts := correction.Options{ReferencePath: "/in/ref.wav", ExternalPath: "/in/ext file.wav", OutputPath: "/out/aligned.wav"}
	tail := []string{"-c:a", "pcm_s16le", "-rf64", "always", "/out/aligned.wav"}
	cases := []struct {
		name       string
		offset     float64
		mode       models.AlignMode
		preferTrim bool
		action     models.CorrectionAction
		target     models.Track
		duration   float64
		args       []string
	}{
		{
			name: "external lags, trim external", offset: 2, mode: models.ModeExternalToReference,
			action: models.ActionTrimHead, target: models.TrackExternal, duration: 2,
			args: []string{"-y", "-i", "/in/ext file.wav", "-ac", "1", "-ar", "8000", "-ss", "2.000000"},
		},
		{
			name: "external leads, pad external", offset: -1.5, mode: models.ModeExternalToReference,
			action: models.ActionPadHead, target: models.TrackExternal, duration: 1.5,
			args: []string{"-y", "-i", "/in/ext file.wav", "-ac", "1", "-ar", "8000", "-af", "adelay=1500|1500"},
		},
		{
			name: "external leads, prefer trim cuts reference", offset: -1.5, mode: models.ModeExternalToReference, preferTrim: true,
			action: models.ActionTrimHead, target: models.TrackReference, duration: 1.5,
			args: []string{"-y", "-i", "/in/ref.wav", "-ac", "1", "-ar", "8000", "-ss", "1.500000"},
		},
		{
			name: "reference target pads when external lags", offset: 2, mode: models.ModeReferenceToExternal,
			action: models.ActionPadHead, target: models.TrackReference, duration: 2,
			args: []string{"-y", "-i", "/in/ref.wav", "-ac", "1", "-ar", "8000", "-af", "adelay=2000|2000"},
		},
		{
			name: "zero shift rewraps", offset: 1e-7, mode: models.ModeExternalToReference,
			action: models.ActionPadHead, target: models.TrackExternal, duration: 0,
			args: []string{"-y", "-i", "/in/ext file.wav", "-ac", "1", "-ar", "8000"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := params(tc.mode)
			p.PreferTrim = tc.preferTrim
			cmd := correction.Build(tc.offset, p, opts)
			assert.Equal(t, tc.action, cmd.Action)
			assert.Equal(t, tc.target, cmd.Target)
			assert.InDelta(t, tc.duration, cmd.DurationSec, 1e-12)
			assert.Equal(t, append(tc.args, tail...), cmd.Args)
			assert.Equal(t, "/out/aligned.wav", cmd.OutputPath)
			assert.GreaterOrEqual(t, cmd.DurationSec, 0.0)

			words, err := shellquote.Split(cmd.Command)
			require.NoError(t, err)
			assert.Equal(t, append([]string{"ffmpeg"}, cmd.Args...), words)
		})
	}
}

func TestBuildCommandQuotesShellMetacharacters(t *testing.T) {
	path := "/in/$HOME/take `id` 'b'.wav"
	cmd := correction.Build(1.5, params(models.ModeExternalToReference), correction.Options{
		ExternalPath: path,
		OutputPath:   "/out/a;rm -rf x.wav",
		FFmpegPath:   "/opt/ff mpeg/bin/ffmpeg",
	})

	words, err := shellquote.Split(cmd.Command)
	require.NoError(t, err)
	require.Equal(t, append([]string{"/opt/ff mpeg/bin/ffmpeg"}, cmd.Args...), words)
	assert.Equal(t, path, words[3])
	assert.Equal(t, "/out/a;rm -rf x.wav", words[len(words)-1])
	assert.NotContains(t, cmd.Command, " $HOME")
	assert.NotContains(t, cmd.Command, `"`)
}

func TestBuildCommandRunsVerbatimInShell(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh on PATH")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "take $HOME `echo pwned`.wav")
	cmd := correction.Build(1.5, params(models.ModeExternalToReference), correction.Options{
		ExternalPath: path,
		OutputPath:   filepath.Join(dir, "out.wav"),
		FFmpegPath:   "printf",
	})

	// printf receives "-y" as its format string, so print the words one per line instead.
	line := strings.Replace(cmd.Command, "printf", `printf '%s\n'`, 1)
	out, err := exec.Command(sh, "-c", line).Output()
	require.NoError(t, err)
	assert.Equal(t, cmd.Args, strings.Split(strings.TrimSuffix(string(out), "\n"), "\n"))
}

func TestBuildDefaultOutputFollowsTarget(t *testing.T) {
	cmd := correction.Build(-1, params(models.ModeReferenceToExternal), correction.Options{})
	assert.Equal(t, models.TrackReference, cmd.Target)
	assert.Equal(t, "reference_aligned.wav", cmd.OutputPath)
}

func TestModeSwapInvertsShift(t *testing.T) {
	for _, offset := range []float64{-3.25, -0.01, 0.5, 7} {
		e2r := correction.Build(offset, params(models.ModeExternalToReference), correction.Options{})
		r2e := correction.Build(offset, params(models.ModeReferenceToExternal), correction.Options{})
		assert.NotEqual(t, e2r.Target, r2e.Target)
		assert.NotEqual(t, e2r.Action, r2e.Action, "offset %v", offset)
		assert.InDelta(t, e2r.DurationSec, r2e.DurationSec, 1e-12)
	}
}

func noise(seconds float64, seed int64) []float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float32, int(seconds*sr))
	for i := range out {
		out[i] = float32(0.3 * r.NormFloat64())
	}
	return out
}

func TestRoundTripRecoversAlignment(t *testing.T) {
	src := noise(12, 42)
	cases := []struct {
		name       string
		d          float64
		mode       models.AlignMode
		preferTrim bool
	}{
		{"external delayed", 1.25, models.ModeExternalToReference, false},
		{"external early", -0.75, models.ModeExternalToReference, false},
		{"external early, prefer trim", -0.75, models.ModeExternalToReference, true},
		{"reference target", 1.25, models.ModeReferenceToExternal, false},
		{"reference target, external early", -2, models.ModeReferenceToExternal, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// A positive d delays the external by d seconds of silence; negative drops its head.
			var ext []float32
			n := int(tc.d * sr)
			if n >= 0 {
				ext = append(make([]float32, n), src...)
			} else {
				ext = append([]float32(nil), src[-n:]...)
			}

			p := params(tc.mode)
			p.PreferTrim = tc.preferTrim
			p.AnalysisSec = 4
			p.MaxSearchSec = 3

			est, err := estimate.Run(context.Background(), src, ext, p)
			require.NoError(t, err)
			require.InDelta(t, tc.d, est.OffsetSec, 1.0/sr)

			cmd := correction.Build(est.OffsetSec, p, correction.Options{})
			ref2, ext2 := correction.Aligned(src, ext, cmd, sr)

			residual, err := estimate.Run(context.Background(), ref2, ext2, p)
			require.NoError(t, err)
			assert.InDelta(t, 0, residual.OffsetSec, 1.0/sr)
		})
	}
}

func TestShift(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	trim := models.CorrectionCommand{Action: models.ActionTrimHead, DurationSec: 0.5}
	pad := models.CorrectionCommand{Action: models.ActionPadHead, DurationSec: 0.5}
	assert.Equal(t, []float32{3, 4}, correction.Shift(x, trim, 4))
	assert.Equal(t, []float32{0, 0, 1, 2, 3, 4}, correction.Shift(x, pad, 4))
	assert.Empty(t, correction.Shift(x, models.CorrectionCommand{Action: models.ActionTrimHead, DurationSec: 2}, 4))
	assert.Equal(t, x, correction.Shift(x, models.CorrectionCommand{}, 4))
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, string, ...string) (audio.CommandResult, error) {
	return audio.CommandResult{ExitCode: 1, Stderr: "No such file or directory\n"}, errors.New("exit status 1")
}

func TestApplyFailure(t *testing.T) {
	cmd := correction.Build(1, params(models.ModeExternalToReference), correction.Options{ExternalPath: "missing.wav"})
	err := correction.Apply(context.Background(), failingRunner{}, "", cmd)
	var execErr *models.CorrectionExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Equal(t, "No such file or directory", execErr.Stderr)
	assert.Equal(t, models.KindCorrectionExecution, models.ToJobError(err).Kind)
}
