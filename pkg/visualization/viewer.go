// Package visualization converts between scalar fields and grayscale images
// and exports result maps.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"

	"spmdrift/pkg/field"
)

// ErrUnsupportedFormat is returned for an unknown export format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Supported export formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatTIFF = "tiff"
)

// LoadImage decodes a PNG, JPEG or TIFF image from disk.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// LoadField loads an image and converts it with FieldFromImage.
func LoadField(path string, xreal, yreal float64) (*field.Field, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return FieldFromImage(img, xreal, yreal)
}

// FieldFromImage converts the gray level of img to a field with values in
// [0, 1] and the given physical size.
func FieldFromImage(img image.Image, xreal, yreal float64) (*field.Field, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	f, err := field.New(width, height, xreal, yreal, false)
	if err != nil {
		return nil, err
	}

	data := f.Data()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			data[y*width+x] = float64(g.Y) / 65535.0
		}
	}
	return f, nil
}

// ImageFromField maps the value range of f linearly onto 16-bit gray.
// A constant field gives a black image.
func ImageFromField(f *field.Field) *image.Gray16 {
	xres, yres := f.XRes(), f.YRes()
	img := image.NewGray16(image.Rect(0, 0, xres, yres))

	lo, hi := f.MinMax()
	span := hi - lo
	if span <= 0 {
		return img
	}

	data := f.DataConst()
	for y := 0; y < yres; y++ {
		for x := 0; x < xres; x++ {
			value := (data[y*xres+x] - lo) / span * 65535.0
			img.SetGray16(x, y, color.Gray16{Y: uint16(value + 0.5)})
		}
	}
	return img
}

// Exporter writes fields as images into a directory.
type Exporter struct {
	// Dir is created on first use
	Dir string

	// Format is png, jpeg or tiff
	Format string
}

// NewExporter creates an exporter, checking the format.
func NewExporter(dir, format string) (*Exporter, error) {
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	return &Exporter{Dir: dir, Format: format}, nil
}

func normalizeFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("%w: %s (must be png, jpeg or tiff)", ErrUnsupportedFormat, format)
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format string) error {
	format, err := normalizeFormat(format)
	if err != nil {
		return err
	}
	switch format {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return png.Encode(w, img)
	}
}

// Save writes f as <Dir>/<name>.<ext> and returns the file path.
func (e *Exporter) Save(name string, f *field.Field) (string, error) {
	format, err := normalizeFormat(e.Format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := map[string]string{FormatPNG: ".png", FormatJPEG: ".jpg", FormatTIFF: ".tif"}[format]
	path := filepath.Join(e.Dir, name+ext)

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := Encode(file, ImageFromField(f), format); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return path, nil
}

// SaveAll saves every map in name order and returns the written paths.
func (e *Exporter) SaveAll(maps map[string]*field.Field) ([]string, error) {
	names := make([]string, 0, len(maps))
	for name := range maps {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		path, err := e.Save(name, maps[name])
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
