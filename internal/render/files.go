package render

import (
	"encoding/gob"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// SavePNG writes img to path, creating parent directories. The file appears
// under its final name only once fully written.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.png")
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(out.Name())
	if err := EncodePNG(out, img); err != nil {
		out.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(out.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(out.Name(), path)
}

// SaveTransform persists t so the spectrogram can be redrawn after the audio is purged.
func SaveTransform(path string, t Transform) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := gob.NewEncoder(out).Encode(t); err != nil {
		out.Close()
		return fmt.Errorf("encode transform: %w", err)
	}
	return out.Close()
}

// LoadTransform reads a transform written by SaveTransform.
func LoadTransform(path string) (Transform, error) {
	in, err := os.Open(path)
	if err != nil {
		return Transform{}, err
	}
	defer in.Close()
	var t Transform
	if err := gob.NewDecoder(in).Decode(&t); err != nil {
		return Transform{}, fmt.Errorf("decode transform %s: %w", filepath.Base(path), err)
	}
	if len(t.DB) != t.Rows*t.Cols {
		return Transform{}, fmt.Errorf("decode transform %s: %d cells for %dx%d", filepath.Base(path), len(t.DB), t.Rows, t.Cols)
	}
	return t, nil
}
