// Package correlation implements normalized cross-correlation of scalar
// fields: single window scores, full-field kernel correlation and the
// displacement search used to estimate drift between two images.
//
// Both sweeps are resumable. A caller drives them with Step and may stop at
// any time between steps; see Correlator and CrossCorrelator.
package correlation

import (
	"errors"
	"fmt"
	"math"

	"spmdrift/internal/models"
	"spmdrift/pkg/field"
)

// NoCorrelation is the score returned when no comparison could be made.
// It is a sentinel, not a measured anti-correlation.
const NoCorrelation = -1.0

var (
	// ErrNilField is returned when a required field is missing.
	ErrNilField = errors.New("nil field")

	// ErrKernelTooLarge is returned when the kernel does not fit the data.
	ErrKernelTooLarge = errors.New("kernel larger than data field")

	// ErrInvalidSearchArea is returned for non-positive search sizes.
	ErrInvalidSearchArea = errors.New("invalid search area")

	// ErrInvalidWindow is returned for non-positive window sizes.
	ErrInvalidWindow = errors.New("invalid correlation window")
)

// Score calculates the correlation score of a width × height window with
// upper-left corner (col, row) in data against the window at
// (kernelCol, kernelRow) in kernel.
//
// The score is Σ(a-avgA)(b-avgB) / (rmsA·rmsB·width·height), 1 denoting a
// perfect match. NoCorrelation is returned when either window is empty or
// leaves its field, or when either window is flat.
func Score(data, kernel *field.Field, col, row, kernelCol, kernelRow, width, height int) float64 {
	return ScoreWindow(data, kernel, models.NewCorrelationWindow(col, row, kernelCol, kernelRow, width, height))
}

// ScoreWindow is Score taking the window pair as a value.
func ScoreWindow(data, kernel *field.Field, w models.CorrelationWindow) float64 {
	if data == nil || kernel == nil {
		return NoCorrelation
	}
	if w.Data.Width != w.Kernel.Width || w.Data.Height != w.Kernel.Height {
		return NoCorrelation
	}
	if !w.Data.Within(data.XRes(), data.YRes()) || !w.Kernel.Within(kernel.XRes(), kernel.YRes()) {
		return NoCorrelation
	}

	davg, drms, dflat := windowMoments(data, w.Data)
	kavg, krms, kflat := windowMoments(kernel, w.Kernel)
	if dflat || kflat {
		return NoCorrelation
	}

	raw := rawScore(data, kernel, w.Data.Col, w.Data.Row, w.Kernel.Col, w.Kernel.Row,
		w.Data.Width, w.Data.Height, davg, kavg)
	return normalize(raw, drms, krms)
}

// windowMoments returns average and rms of a rectangle that is known to lie
// inside f, and whether all its values are equal. The rms is summed around
// the average so a large common offset does not cancel the variance.
func windowMoments(f *field.Field, r models.Rect) (avg, rms float64, flat bool) {
	d := f.DataConst()
	xres := f.XRes()
	first := d[r.Row*xres+r.Col]

	sum := 0.0
	flat = true
	for j := r.Row; j < r.Row+r.Height; j++ {
		for _, v := range d[j*xres+r.Col : j*xres+r.Col+r.Width] {
			sum += v
			flat = flat && v == first
		}
	}
	n := float64(r.Width * r.Height)
	avg = sum / n
	if flat {
		return avg, 0, true
	}

	ss := 0.0
	for j := r.Row; j < r.Row+r.Height; j++ {
		for _, v := range d[j*xres+r.Col : j*xres+r.Col+r.Width] {
			ss += (v - avg) * (v - avg)
		}
	}
	return avg, math.Sqrt(ss / n), false
}

// rawScore returns Σ(a-dataAvg)(b-kernelAvg)/(width·height) without any
// bounds checking.
func rawScore(data, kernel *field.Field, col, row, kernelCol, kernelRow, width, height int,
	dataAvg, kernelAvg float64) float64 {
	d := data.DataConst()
	k := kernel.DataConst()
	xres, kxres := data.XRes(), kernel.XRes()

	score := 0.0
	for j := 0; j < height; j++ {
		drow := d[(row+j)*xres+col : (row+j)*xres+col+width]
		krow := k[(kernelRow+j)*kxres+kernelCol : (kernelRow+j)*kxres+kernelCol+width]
		for i, v := range drow {
			score += (v - dataAvg) * (krow[i] - kernelAvg)
		}
	}
	return score / float64(width*height)
}

// normalize divides a raw score by the rms product, mapping a zero or
// non-finite result to NoCorrelation.
func normalize(raw, rms1, rms2 float64) float64 {
	denom := rms1 * rms2
	if denom == 0 {
		return NoCorrelation
	}
	s := raw / denom
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return NoCorrelation
	}
	return s
}

// Normalization holds the average and rms of every placement of a
// width × height window inside a field, so sweeps compute them only once.
type Normalization struct {
	width, height int

	// cols, rows are the number of window placements
	cols, rows int

	avg  []float64
	rms  []float64
	flat []bool
}

// NewNormalization precalculates window statistics of f.
func NewNormalization(f *field.Field, width, height int) (*Normalization, error) {
	if f == nil {
		return nil, ErrNilField
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidWindow, width, height)
	}
	xres, yres := f.XRes(), f.YRes()
	cols := xres - width + 1
	rows := yres - height + 1
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("%w: window %dx%d, field %dx%d", ErrKernelTooLarge, width, height, xres, yres)
	}

	norm := &Normalization{
		width:  width,
		height: height,
		cols:   cols,
		rows:   rows,
		avg:    make([]float64, cols*rows),
		rms:    make([]float64, cols*rows),
		flat:   make([]bool, cols*rows),
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p := i*cols + j
			norm.avg[p], norm.rms[p], norm.flat[p] = windowMoments(f,
				models.Rect{Col: j, Row: i, Width: width, Height: height})
		}
	}
	return norm, nil
}

// At returns the statistics of the window with upper-left corner
// (col, row). ok is false when the window does not fit the field or is flat.
func (n *Normalization) At(col, row int) (avg, rms float64, ok bool) {
	if col < 0 || row < 0 || col >= n.cols || row >= n.rows {
		return 0, 0, false
	}
	p := row*n.cols + col
	if n.flat[p] {
		return n.avg[p], n.rms[p], false
	}
	return n.avg[p], n.rms[p], true
}

// WindowSize returns the window width and height.
func (n *Normalization) WindowSize() (int, int) {
	return n.width, n.height
}
