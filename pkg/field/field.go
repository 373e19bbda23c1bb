// Package field provides the two-dimensional scalar field used throughout
// spmdrift: a dense row-major grid of height samples with physical extents
// and a lazily filled cache of whole-field statistics.
package field

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidDimensions is returned when a field would have no pixels or
	// a non-positive physical size.
	ErrInvalidDimensions = errors.New("invalid field dimensions")

	// ErrOutOfBounds is returned for pixel indices outside the field.
	ErrOutOfBounds = errors.New("pixel index out of bounds")

	// ErrSizeMismatch is returned when two fields must have equal pixel
	// dimensions and do not.
	ErrSizeMismatch = errors.New("field size mismatch")

	// ErrInvalidArea is returned for rectangles that are empty or extend
	// outside the field.
	ErrInvalidArea = errors.New("invalid field area")
)

// Field is a dense two-dimensional grid of real values with physical
// (real-world) extents.
//
// Data are stored by rows, the value at (row, col) is data[row*xres+col].
// A Field exclusively owns its buffer; no two fields share one.
// Fields are not safe for concurrent mutation.
type Field struct {
	// xres, yres are the number of columns and rows
	xres int
	yres int

	// xreal, yreal are the physical width and height (e.g. in metres)
	xreal float64
	yreal float64

	data []float64

	cache statsCache
}

// New creates a field of xres columns and yres rows covering a physical
// area of xreal × yreal.
//
// Go slices are always zero-initialised, so nullme only documents that the
// caller relies on the contents being zero.
func New(xres, yres int, xreal, yreal float64, nullme bool) (*Field, error) {
	if xres <= 0 || yres <= 0 {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrInvalidDimensions, xres, yres)
	}
	if !validReal(xreal) || !validReal(yreal) {
		return nil, fmt.Errorf("%w: physical size %gx%g", ErrInvalidDimensions, xreal, yreal)
	}

	return &Field{
		xres:  xres,
		yres:  yres,
		xreal: xreal,
		yreal: yreal,
		data:  make([]float64, xres*yres),
	}, nil
}

func validReal(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// NewAlike creates a field with the same dimensions and physical size as f.
// The data are not copied.
func NewAlike(f *Field, nullme bool) *Field {
	g, err := New(f.xres, f.yres, f.xreal, f.yreal, nullme)
	if err != nil {
		// f itself passed the same validation
		panic(err)
	}
	return g
}

// Duplicate returns a deep copy of the field, including cached statistics.
func (f *Field) Duplicate() *Field {
	g := NewAlike(f, false)
	copy(g.data, f.data)
	g.cache = f.cache
	return g
}

// XRes returns the number of columns
func (f *Field) XRes() int { return f.xres }

// YRes returns the number of rows
func (f *Field) YRes() int { return f.yres }

// XReal returns the physical width
func (f *Field) XReal() float64 { return f.xreal }

// YReal returns the physical height
func (f *Field) YReal() float64 { return f.yreal }

// XMeasure returns the physical width of one pixel
func (f *Field) XMeasure() float64 { return f.xreal / float64(f.xres) }

// YMeasure returns the physical height of one pixel
func (f *Field) YMeasure() float64 { return f.yreal / float64(f.yres) }

// SetReal changes the physical size of the field. Pixel data are unchanged.
func (f *Field) SetReal(xreal, yreal float64) error {
	if !validReal(xreal) || !validReal(yreal) {
		return fmt.Errorf("%w: physical size %gx%g", ErrInvalidDimensions, xreal, yreal)
	}
	f.xreal = xreal
	f.yreal = yreal
	return nil
}

// Itor converts a horizontal pixel distance to a physical distance.
func (f *Field) Itor(col float64) float64 { return col * f.XMeasure() }

// Jtor converts a vertical pixel distance to a physical distance.
func (f *Field) Jtor(row float64) float64 { return row * f.YMeasure() }

// Rtoi converts a horizontal physical distance to pixels.
func (f *Field) Rtoi(x float64) float64 { return x / f.XMeasure() }

// Rtoj converts a vertical physical distance to pixels.
func (f *Field) Rtoj(y float64) float64 { return y / f.YMeasure() }

func (f *Field) inside(row, col int) bool {
	return row >= 0 && row < f.yres && col >= 0 && col < f.xres
}

// Get returns the value at (row, col).
func (f *Field) Get(row, col int) (float64, error) {
	if !f.inside(row, col) {
		return 0, fmt.Errorf("%w: (%d,%d) in %dx%d field", ErrOutOfBounds, row, col, f.xres, f.yres)
	}
	return f.data[row*f.xres+col], nil
}

// Set stores v at (row, col) and invalidates cached statistics.
func (f *Field) Set(row, col int, v float64) error {
	if !f.inside(row, col) {
		return fmt.Errorf("%w: (%d,%d) in %dx%d field", ErrOutOfBounds, row, col, f.xres, f.yres)
	}
	f.data[row*f.xres+col] = v
	f.Invalidate()
	return nil
}

// Data returns the field buffer for direct modification. The cache is
// invalidated because the caller may write through the slice; call
// Invalidate again after writing if statistics were queried in between.
func (f *Field) Data() []float64 {
	f.Invalidate()
	return f.data
}

// DataConst returns the field buffer for reading. It must not be modified.
func (f *Field) DataConst() []float64 {
	return f.data
}

// Invalidate clears all cached statistics.
func (f *Field) Invalidate() {
	f.cache.clear()
}

// CheckCompatible returns ErrSizeMismatch unless other has the same pixel
// dimensions as f.
func (f *Field) CheckCompatible(other *Field) error {
	if other == nil {
		return fmt.Errorf("%w: nil field", ErrSizeMismatch)
	}
	if f.xres != other.xres || f.yres != other.yres {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrSizeMismatch, f.xres, f.yres, other.xres, other.yres)
	}
	return nil
}

// CopyFrom copies data and physical size of src into f. Both fields must
// have the same pixel dimensions.
func (f *Field) CopyFrom(src *Field) error {
	if err := f.CheckCompatible(src); err != nil {
		return err
	}
	if src == f {
		return nil
	}
	copy(f.data, src.data)
	f.xreal = src.xreal
	f.yreal = src.yreal
	f.Invalidate()
	return nil
}

// Fill sets every value to v.
func (f *Field) Fill(v float64) {
	for i := range f.data {
		f.data[i] = v
	}
	f.Invalidate()
}

// Clear fills the field with zeroes.
func (f *Field) Clear() {
	f.Fill(0)
}

func (f *Field) checkArea(col, row, width, height int) error {
	if col < 0 || row < 0 || width <= 0 || height <= 0 ||
		col+width > f.xres || row+height > f.yres {
		return fmt.Errorf("%w: %dx%d at (%d,%d) in %dx%d field",
			ErrInvalidArea, width, height, col, row, f.xres, f.yres)
	}
	return nil
}

// AreaFill sets every value in a rectangle to v.
func (f *Field) AreaFill(col, row, width, height int, v float64) error {
	if err := f.checkArea(col, row, width, height); err != nil {
		return err
	}
	for i := row; i < row+height; i++ {
		line := f.data[i*f.xres+col : i*f.xres+col+width]
		for j := range line {
			line[j] = v
		}
	}
	f.Invalidate()
	return nil
}

// Resize crops the field to a rectangle, reallocating the buffer. The
// physical size shrinks proportionally so the pixel measure is preserved.
func (f *Field) Resize(col, row, width, height int) error {
	if err := f.checkArea(col, row, width, height); err != nil {
		return err
	}
	data := make([]float64, width*height)
	for i := 0; i < height; i++ {
		src := (row+i)*f.xres + col
		copy(data[i*width:(i+1)*width], f.data[src:src+width])
	}
	f.xreal = f.XMeasure() * float64(width)
	f.yreal = f.YMeasure() * float64(height)
	f.xres = width
	f.yres = height
	f.data = data
	f.Invalidate()
	return nil
}

// AreaCopy copies a rectangle of f into dst with its upper-left corner at
// (destCol, destRow).
//
// A negative width or height means "up to the edge of f". The rectangle is
// clipped so that only the part fitting both fields is copied; copying
// nothing is not an error.
func (f *Field) AreaCopy(dst *Field, col, row, width, height, destCol, destRow int) {
	if width < 0 {
		width = f.xres - col
	}
	if height < 0 {
		height = f.yres - row
	}

	// clip against the source
	if col < 0 {
		width += col
		destCol -= col
		col = 0
	}
	if row < 0 {
		height += row
		destRow -= row
		row = 0
	}
	width = min(width, f.xres-col)
	height = min(height, f.yres-row)

	// clip against the destination
	if destCol < 0 {
		width += destCol
		col -= destCol
		destCol = 0
	}
	if destRow < 0 {
		height += destRow
		row -= destRow
		destRow = 0
	}
	width = min(width, dst.xres-destCol)
	height = min(height, dst.yres-destRow)

	if width <= 0 || height <= 0 {
		return
	}

	if f == dst {
		// overlapping copy within one field, go through a scratch buffer
		scratch := f.Duplicate()
		scratch.AreaCopy(dst, col, row, width, height, destCol, destRow)
		return
	}

	for i := 0; i < height; i++ {
		src := (row+i)*f.xres + col
		dpos := (destRow+i)*dst.xres + destCol
		copy(dst.data[dpos:dpos+width], f.data[src:src+width])
	}
	dst.Invalidate()
}
