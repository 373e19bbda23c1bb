package field

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Multiply multiplies every value by v.
func (f *Field) Multiply(v float64) {
	floats.Scale(v, f.data)
	f.Invalidate()
}

// Add adds v to every value.
func (f *Field) Add(v float64) {
	floats.AddConst(v, f.data)
	f.Invalidate()
}

// SumFields stores a + b into f. All three fields must have the same
// dimensions; f may be one of the operands.
func (f *Field) SumFields(a, b *Field) error {
	if err := f.CheckCompatible(a); err != nil {
		return err
	}
	if err := f.CheckCompatible(b); err != nil {
		return err
	}
	floats.AddTo(f.data, a.data, b.data)
	f.Invalidate()
	return nil
}

// Threshold sets values below threshold to bottom and the rest to top.
// It returns the number of values set to top.
func (f *Field) Threshold(threshold, bottom, top float64) int {
	n := 0
	for i, v := range f.data {
		if v < threshold {
			f.data[i] = bottom
		} else {
			f.data[i] = top
			n++
		}
	}
	f.Invalidate()
	return n
}

// Hypot stores sqrt(x² + y²) of two equally sized fields into f.
func (f *Field) Hypot(x, y *Field) error {
	return f.combine(x, y, math.Hypot)
}

// Atan2 stores the direction atan2(y, x) of the vector field (x, y) into f.
func (f *Field) Atan2(x, y *Field) error {
	return f.combine(x, y, func(xv, yv float64) float64 {
		return math.Atan2(yv, xv)
	})
}

func (f *Field) combine(x, y *Field, op func(xv, yv float64) float64) error {
	if err := f.CheckCompatible(x); err != nil {
		return err
	}
	if err := f.CheckCompatible(y); err != nil {
		return err
	}
	for i := range f.data {
		f.data[i] = op(x.data[i], y.data[i])
	}
	f.Invalidate()
	return nil
}
