package ocr

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "screen.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestCropRegion(t *testing.T) {
	src := writeTestPNG(t, 200, 100)
	out, err := CropRegion(src, Region{Name: "server", X: 10, Y: 20, W: 50, H: 30})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	defer func() { _ = os.Remove(out) }()

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open cropped: %v", err)
	}
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode cropped: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 50 || b.Dy() != 30 {
		t.Fatalf("expected 50x30 crop, got %dx%d", b.Dx(), b.Dy())
	}
	if filepath.Base(out) != "screen.server.png" {
		t.Fatalf("unexpected cropped name %q", filepath.Base(out))
	}
}

func TestCropRegionOutOfBounds(t *testing.T) {
	src := writeTestPNG(t, 100, 100)
	if _, err := CropRegion(src, Region{Name: "server", X: 90, Y: 90, W: 50, H: 30}); err == nil {
		t.Fatalf("expected out-of-bounds error")
	}
}

func TestCropRegionValidation(t *testing.T) {
	src := writeTestPNG(t, 100, 100)
	cases := []Region{
		{Name: "zero-w", X: 0, Y: 0, W: 0, H: 10},
		{Name: "neg-h", X: 0, Y: 0, W: 10, H: -1},
		{Name: "neg-x", X: -5, Y: 0, W: 10, H: 10},
	}
	for _, r := range cases {
		if _, err := CropRegion(src, r); err == nil {
			t.Fatalf("region %q: expected validation error", r.Name)
		}
	}
}

func TestCropRegionMissingImage(t *testing.T) {
	if _, err := CropRegion(filepath.Join(t.TempDir(), "missing.png"), Region{Name: "r", W: 10, H: 10}); err == nil {
		t.Fatalf("expected error for missing screenshot")
	}
}
