// Package artifacts owns where a job's files live: uploads and results under
// the media root, the URLs they are served at, and an optional S3 mirror.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cisco7507/align-audio/internal/models"
)

// MediaPrefix is the URL path the media root is served under.
const MediaPrefix = "/media/"

// Result file names.
const (
	FileWaveform   = "waveform.png"
	FileSimilarity = "similarity.png"
	FileZoom       = "zoom.png"
	FileResidual   = "residual.png"
	FileCandidates = "candidates.png"
	FileAligned    = "aligned.wav"
)

// SpectrogramFile names the rendered spectrogram of a track. The default view
// has no suffix.
func SpectrogramFile(track models.Track, view string) string {
	if view == "" || view == "default" {
		return fmt.Sprintf("spectrogram_%s.png", track)
	}
	return fmt.Sprintf("spectrogram_%s_%s.png", track, view)
}

// TransformFile names the cached spectrogram transform of a track.
func TransformFile(track models.Track) string {
	return fmt.Sprintf("stft_%s.gob", track)
}

// Layout maps job files onto the media root:
//
//	<root>/uploads/<id>/{reference,external}/<name>
//	<root>/results/<id>/<file>
type Layout struct {
	Root string
}

// NewLayout returns a layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// UploadDir holds both inputs of a job.
func (l Layout) UploadDir(id string) string {
	return filepath.Join(l.Root, "uploads", id)
}

// ResultDir holds everything derived from a job.
func (l Layout) ResultDir(id string) string {
	return filepath.Join(l.Root, "results", id)
}

// ResultPath is the absolute path of one result file.
func (l Layout) ResultPath(id, name string) string {
	return filepath.Join(l.ResultDir(id), name)
}

// SaveUpload stores body as the job's input for track and returns its path.
func (l Layout) SaveUpload(id string, track models.Track, name string, body io.Reader) (string, error) {
	dir := filepath.Join(l.UploadDir(id), string(track))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(dir, SanitizeName(name))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	return dst, nil
}

// FindUpload returns the stored input for track. The error wraps
// os.ErrNotExist once the uploads were purged.
func (l Layout) FindUpload(id string, track models.Track) (string, error) {
	dir := filepath.Join(l.UploadDir(id), string(track))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read %s upload: %w", track, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no %s upload: %w", track, os.ErrNotExist)
}

// RemoveUploads deletes the job's inputs. Missing directories are not an error.
func (l Layout) RemoveUploads(id string) error {
	return removeDir(l.UploadDir(id))
}

// RemoveAll deletes the job's inputs and results.
func (l Layout) RemoveAll(id string) error {
	return errors.Join(removeDir(l.UploadDir(id)), removeDir(l.ResultDir(id)))
}

// Rel converts an absolute path under the root into a slash-separated
// relative path suitable for the job record.
func (l Layout) Rel(p string) (string, error) {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the media root", p)
	}
	return filepath.ToSlash(rel), nil
}

// Abs resolves a relative path from a job record.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// MediaURL is the URL a relative path is served at. Empty stays empty.
func MediaURL(rel string) string {
	if rel == "" {
		return ""
	}
	parts := strings.Split(path.Clean(rel), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return MediaPrefix + strings.Join(parts, "/")
}

// SanitizeName keeps the base name of an uploaded file and drops characters
// that are awkward in paths and shell commands.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}

func removeDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}
