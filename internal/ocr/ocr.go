package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrOCR marks a failed region extraction. The engine drops the
// affected pid's upsert for the cycle; the record keeps its previous
// field values until a future successful cycle.
var ErrOCR = errors.New("ocr failed")

// Region is a rectangular screen area to recognize, in pixels
// relative to the screenshot's top-left corner.
type Region struct {
	Name string
	X    int
	Y    int
	W    int
	H    int
}

func (r Region) validate() error {
	if r.W <= 0 || r.H <= 0 {
		return fmt.Errorf("region %q: width and height must be positive", r.Name)
	}
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("region %q: origin must be non-negative", r.Name)
	}
	return nil
}

// Extractor recognizes text inside one region of a screenshot.
type Extractor interface {
	ExtractRegion(ctx context.Context, imagePath string, r Region) (string, error)
}

// Tesseract crops the region out of the screenshot, converts it to
// grayscale, and feeds it to the tesseract CLI. The preprocessing
// mirrors what the capture helper's consumers expect: game UI text on
// a busy background recognizes poorly without it.
type Tesseract struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewTesseract(binary string, timeout time.Duration, logger *slog.Logger) *Tesseract {
	if strings.TrimSpace(binary) == "" {
		binary = "tesseract"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{binary: binary, timeout: timeout, logger: logger}
}

func (t *Tesseract) ExtractRegion(ctx context.Context, imagePath string, r Region) (string, error) {
	cropped, err := CropRegion(imagePath, r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOCR, err)
	}
	defer func() { _ = os.Remove(cropped) }()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// #nosec G204
	cmd := exec.CommandContext(ctx, t.binary, cropped, "stdout")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: region %q: %v", ErrOCR, r.Name, err)
	}
	text := string(out)
	t.logger.Debug("ocr region", "region", r.Name, "image", imagePath, "chars", len(text))
	return text, nil
}

// CropRegion extracts the region from a PNG screenshot, grayscales it,
// and writes the result next to the input as
// <image>.<region>.png. The caller removes the file when done.
func CropRegion(imagePath string, r Region) (string, error) {
	if err := r.validate(); err != nil {
		return "", err
	}
	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open screenshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode screenshot %s: %w", imagePath, err)
	}
	bounds := src.Bounds()
	rect := image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
	if !rect.In(bounds) {
		return "", fmt.Errorf("region %q %v outside image bounds %v", r.Name, rect, bounds)
	}

	gray := image.NewGray(image.Rect(0, 0, r.W, r.H))
	for y := 0; y < r.H; y++ {
		for x := 0; x < r.W; x++ {
			gray.Set(x, y, src.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}

	outPath := croppedPath(imagePath, r.Name)
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create cropped image: %w", err)
	}
	if err := png.Encode(out, gray); err != nil {
		_ = out.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("encode cropped image: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

func croppedPath(imagePath, region string) string {
	dir := filepath.Dir(imagePath)
	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	return filepath.Join(dir, fmt.Sprintf("%s.%s.png", base, region))
}
