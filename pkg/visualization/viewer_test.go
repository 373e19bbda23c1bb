package visualization

import (
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"spmdrift/pkg/field"
)

// createTestImage creates a grayscale test image with the specified dimensions and pattern
func createTestImage(width, height int, pattern func(x, y int) uint16) image.Image {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.Gray16{Y: pattern(x, y)})
		}
	}
	return img
}

// createRampField creates a field whose values run from 0 to 1 in row-major order
func createRampField(t *testing.T, width, height int) *field.Field {
	t.Helper()
	f, err := field.New(width, height, 1e-6, 1e-6, false)
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}
	data := f.Data()
	for i := range data {
		data[i] = float64(i) / float64(len(data)-1)
	}
	return f
}

// TestFieldFromImage verifies that gray levels are scaled to [0, 1]
func TestFieldFromImage(t *testing.T) {
	img := createTestImage(4, 3, func(x, y int) uint16 { return uint16(x * 1000 * (y + 1)) })

	f, err := FieldFromImage(img, 2e-6, 1.5e-6)
	if err != nil {
		t.Fatalf("FieldFromImage failed: %v", err)
	}
	if f.XRes() != 4 || f.YRes() != 3 {
		t.Fatalf("Expected 4x3 field, got %dx%d", f.XRes(), f.YRes())
	}
	if f.XReal() != 2e-6 || f.YReal() != 1.5e-6 {
		t.Errorf("Expected physical size 2e-6 x 1.5e-6, got %g x %g", f.XReal(), f.YReal())
	}

	v, _ := f.Get(2, 3)
	if want := 9000.0 / 65535.0; math.Abs(v-want) > 1e-12 {
		t.Errorf("Expected %f at (3,2), got %f", want, v)
	}

	if _, err := FieldFromImage(img, 0, 1); !errors.Is(err, field.ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
}

// TestImageFromField verifies the linear mapping of the value range
func TestImageFromField(t *testing.T) {
	f := createRampField(t, 5, 2)
	f.Multiply(40)
	f.Add(-10)

	img := ImageFromField(f)
	if img.Bounds().Dx() != 5 || img.Bounds().Dy() != 2 {
		t.Fatalf("Expected 5x2 image, got %v", img.Bounds())
	}
	if y := img.Gray16At(0, 0).Y; y != 0 {
		t.Errorf("Expected minimum mapped to 0, got %d", y)
	}
	if y := img.Gray16At(4, 1).Y; y != 65535 {
		t.Errorf("Expected maximum mapped to 65535, got %d", y)
	}

	flat, _ := field.New(3, 3, 1, 1, false)
	flat.Fill(0.7)
	for _, p := range ImageFromField(flat).Pix {
		if p != 0 {
			t.Fatal("Expected black image for a constant field")
		}
	}
}

// TestImageRoundTrip verifies that 16-bit conversion keeps values of a [0, 1] field
func TestImageRoundTrip(t *testing.T) {
	f := createRampField(t, 7, 6)

	g, err := FieldFromImage(ImageFromField(f), f.XReal(), f.YReal())
	if err != nil {
		t.Fatalf("FieldFromImage failed: %v", err)
	}
	for i, v := range g.DataConst() {
		if math.Abs(v-f.DataConst()[i]) > 1.0/65535.0 {
			t.Errorf("Value %d: expected %f, got %f", i, f.DataConst()[i], v)
		}
	}
}

func TestNewExporterFormat(t *testing.T) {
	tests := map[string]string{
		"":     FormatPNG,
		"PNG":  FormatPNG,
		"jpg":  FormatJPEG,
		"jpeg": FormatJPEG,
		"tif":  FormatTIFF,
	}
	for in, want := range tests {
		e, err := NewExporter("out", in)
		if err != nil {
			t.Errorf("NewExporter(%q) failed: %v", in, err)
			continue
		}
		if e.Format != want {
			t.Errorf("NewExporter(%q): expected format %s, got %s", in, want, e.Format)
		}
	}

	if _, err := NewExporter("out", "bmp"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

// TestExporterSaveAll verifies that maps are written and can be loaded again
func TestExporterSaveAll(t *testing.T) {
	// Skip this test in short mode as it involves file I/O
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir, err := os.MkdirTemp("", "exporter-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	maps := map[string]*field.Field{
		"x":     createRampField(t, 8, 6),
		"score": createRampField(t, 8, 6),
	}

	for _, format := range []string{FormatPNG, FormatJPEG, FormatTIFF} {
		exporter := &Exporter{Dir: filepath.Join(tempDir, format), Format: format}
		paths, err := exporter.SaveAll(maps)
		if err != nil {
			t.Fatalf("SaveAll (%s) failed: %v", format, err)
		}
		if len(paths) != 2 {
			t.Fatalf("Expected 2 files, got %d", len(paths))
		}
		if filepath.Base(paths[0])[:5] != "score" {
			t.Errorf("Expected maps saved in name order, got %v", paths)
		}

		for _, path := range paths {
			f, err := LoadField(path, 1, 1)
			if err != nil {
				t.Fatalf("Failed to load %s: %v", path, err)
			}
			if f.XRes() != 8 || f.YRes() != 6 {
				t.Errorf("%s: expected 8x6, got %dx%d", path, f.XRes(), f.YRes())
			}
			if format == FormatJPEG {
				continue
			}
			// lossless formats keep 16-bit precision
			want := maps["x"].DataConst()
			for i, v := range f.DataConst() {
				if math.Abs(v-want[i]) > 1.0/65535.0 {
					t.Errorf("%s value %d: expected %f, got %f", path, i, want[i], v)
					break
				}
			}
		}
	}

	bad := &Exporter{Dir: tempDir, Format: "gif"}
	if _, err := bad.Save("x", maps["x"]); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoadImageMissingFile(t *testing.T) {
	if _, err := LoadImage(filepath.Join(os.TempDir(), "does-not-exist.png")); err == nil {
		t.Error("Expected error for a missing file")
	}
}
