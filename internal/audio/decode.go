// Package audio turns input files into mono float32 sample buffers and
// provides the small signal helpers the estimators share.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cisco7507/align-audio/internal/models"
)

// Decoder loads a file as mono samples at the requested rate.
type Decoder interface {
	Decode(ctx context.Context, path string, sampleRate int) ([]float32, error)
}

// FFmpegDecoder decodes, downmixes and resamples through an ffmpeg subprocess
// writing raw little-endian float32 to stdout.
type FFmpegDecoder struct {
	ffmpegPath string
	runner     Runner
	stat       func(name string) (os.FileInfo, error)
}

// NewFFmpegDecoder returns a decoder bound to the given binary. A nil runner uses ExecRunner.
func NewFFmpegDecoder(ffmpegPath string, runner Runner) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, runner: runner, stat: os.Stat}
}

// Decode returns the whole file as mono float32 at sampleRate.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	if _, err := d.stat(path); err != nil {
		return nil, &models.DecodeError{Path: path, Err: err}
	}
	args := []string{
		"-hide_banner", "-v", "error",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"pipe:1",
	}
	res, err := d.runner.Run(ctx, d.ffmpegPath, args...)
	if err != nil {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = err.Error()
		}
		return nil, &models.DecodeError{Path: path, Err: fmt.Errorf("ffmpeg exited %d: %s", res.ExitCode, msg)}
	}
	samples, err := DecodeF32LE(res.Stdout)
	if err != nil {
		return nil, &models.DecodeError{Path: path, Err: err}
	}
	return samples, nil
}

// DecodeF32LE converts a raw little-endian float32 stream into samples.
func DecodeF32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, errors.New("unexpected byte length")
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
