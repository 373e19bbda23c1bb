// Package interpolation fills masked areas of fields and resamples fields
// along displacement maps.
package interpolation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/kdtree"

	"spmdrift/pkg/field"
)

// ErrNothingToFill is returned when a mask leaves no known pixel.
var ErrNothingToFill = errors.New("mask covers the whole field")

// ProgressCallback is a function that reports progress during interpolation
type ProgressCallback func(completed, total int, message string)

// Seed selects the initial values of masked pixels before relaxation
type Seed int

const (
	// SeedAverage starts from the average of the unmasked pixels
	SeedAverage Seed = iota
	// SeedNearest starts from the value of the nearest unmasked pixel
	SeedNearest
)

// LaplaceParams controls FillLaplace
type LaplaceParams struct {
	// MaxIterations bounds the number of relaxation sweeps
	MaxIterations int

	// Tolerance stops the relaxation once the largest change of a sweep is
	// below Tolerance times the largest absolute value of the field
	Tolerance float64

	// Relaxation is the correction factor of one sweep, at most 0.25
	Relaxation float64

	Seed Seed
}

// DefaultLaplaceParams returns the parameters used for border extension
func DefaultLaplaceParams() LaplaceParams {
	return LaplaceParams{
		MaxIterations: 10000,
		Tolerance:     1e-9,
		Relaxation:    0.2,
		Seed:          SeedAverage,
	}
}

func masked(m []float64, i int) bool { return m[i] > 0 }

// FillAverage sets every masked pixel of f to the average of the unmasked
// ones.
func FillAverage(f, mask *field.Field) error {
	if err := f.CheckCompatible(mask); err != nil {
		return err
	}
	data, m := f.Data(), mask.DataConst()

	sum, n := 0.0, 0
	for i, v := range data {
		if !masked(m, i) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return ErrNothingToFill
	}
	avg := sum / float64(n)
	for i := range data {
		if masked(m, i) {
			data[i] = avg
		}
	}
	return nil
}

// FillNearest sets every masked pixel of f to the value of the nearest
// unmasked pixel.
func FillNearest(f, mask *field.Field) error {
	if err := f.CheckCompatible(mask); err != nil {
		return err
	}
	xres := f.XRes()
	data, m := f.Data(), mask.DataConst()

	known := make(Pixels, 0, len(data))
	for i, v := range data {
		if !masked(m, i) {
			known = append(known, Pixel{Col: float64(i % xres), Row: float64(i / xres), Value: v})
		}
	}
	if len(known) == 0 {
		return ErrNothingToFill
	}
	if len(known) == len(data) {
		return nil
	}

	tree := kdtree.New(known, true)
	for i := range data {
		if !masked(m, i) {
			continue
		}
		q := Pixel{Col: float64(i % xres), Row: float64(i / xres)}
		nearest, _ := tree.Nearest(q)
		data[i] = nearest.(Pixel).Value
	}
	return nil
}

// LaplaceIteration performs one relaxation sweep of the masked pixels of f
// towards the solution of the Laplace equation, using buffer as scratch
// space. It returns the largest absolute change.
func LaplaceIteration(f, mask, buffer *field.Field, relaxation float64) (float64, error) {
	if err := f.CheckCompatible(mask); err != nil {
		return 0, err
	}
	if err := f.CheckCompatible(buffer); err != nil {
		return 0, err
	}
	xres, yres := f.XRes(), f.YRes()
	m := mask.DataConst()
	old := buffer.Data()
	copy(old, f.DataConst())
	data := f.Data()

	maxChange := 0.0
	for row := 0; row < yres; row++ {
		for col := 0; col < xres; col++ {
			i := row*xres + col
			if !masked(m, i) {
				continue
			}
			// missing neighbours at the border contribute nothing
			lap := 0.0
			v := old[i]
			if col > 0 {
				lap += old[i-1] - v
			}
			if col < xres-1 {
				lap += old[i+1] - v
			}
			if row > 0 {
				lap += old[i-xres] - v
			}
			if row < yres-1 {
				lap += old[i+xres] - v
			}
			change := relaxation * lap
			data[i] = v + change
			maxChange = math.Max(maxChange, math.Abs(change))
		}
	}
	return maxChange, nil
}

// FillLaplace replaces the masked pixels of f by a smooth continuation of
// the unmasked ones. It returns the number of sweeps performed.
func FillLaplace(ctx context.Context, f, mask *field.Field, params LaplaceParams, progress ProgressCallback) (int, error) {
	if params.Relaxation <= 0 || params.Relaxation > 0.25 {
		return 0, fmt.Errorf("relaxation factor %g must be within (0, 0.25]", params.Relaxation)
	}

	var err error
	switch params.Seed {
	case SeedNearest:
		err = FillNearest(f, mask)
	default:
		err = FillAverage(f, mask)
	}
	if err != nil {
		return 0, err
	}

	scale := math.Max(math.Abs(floats.Min(f.DataConst())), math.Abs(floats.Max(f.DataConst())))
	buffer := field.NewAlike(f, false)

	iterations := 0
	for iterations < params.MaxIterations {
		if iterations%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return iterations, err
			}
			if progress != nil {
				progress(iterations, params.MaxIterations, "Extending borders...")
			}
		}
		change, err := LaplaceIteration(f, mask, buffer, params.Relaxation)
		if err != nil {
			return iterations, err
		}
		iterations++
		if change <= params.Tolerance*scale {
			break
		}
	}
	return iterations, nil
}
