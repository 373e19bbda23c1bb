package field

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Slot identifies one cached whole-field statistic.
type Slot uint

const (
	SlotSum Slot = 1 << iota
	SlotSum2
	SlotMin
	SlotMax
	SlotRMS
)

// statsCache holds whole-field aggregates. A slot is valid only while its
// bit is set in cached; any mutation of the field clears all bits.
type statsCache struct {
	cached Slot
	sum    float64
	sum2   float64
	min    float64
	max    float64
	rms    float64
}

func (c *statsCache) clear() {
	c.cached = 0
}

func (c *statsCache) has(s Slot) bool {
	return c.cached&s != 0
}

// Cached reports whether the given statistic is currently cached.
func (f *Field) Cached(s Slot) bool {
	return f.cache.has(s)
}

// Sum returns the sum of all values.
func (f *Field) Sum() float64 {
	if f.cache.has(SlotSum) {
		return f.cache.sum
	}
	f.cache.sum = floats.Sum(f.data)
	f.cache.cached |= SlotSum
	return f.cache.sum
}

// SumSquares returns the sum of squared values.
func (f *Field) SumSquares() float64 {
	if f.cache.has(SlotSum2) {
		return f.cache.sum2
	}
	f.cache.sum2 = floats.Dot(f.data, f.data)
	f.cache.cached |= SlotSum2
	return f.cache.sum2
}

// Avg returns the mean value.
func (f *Field) Avg() float64 {
	return f.Sum() / float64(len(f.data))
}

// Min returns the minimum value.
func (f *Field) Min() float64 {
	if f.cache.has(SlotMin) {
		return f.cache.min
	}
	f.cache.min = floats.Min(f.data)
	f.cache.cached |= SlotMin
	return f.cache.min
}

// Max returns the maximum value.
func (f *Field) Max() float64 {
	if f.cache.has(SlotMax) {
		return f.cache.max
	}
	f.cache.max = floats.Max(f.data)
	f.cache.cached |= SlotMax
	return f.cache.max
}

// MinMax returns both extremes.
func (f *Field) MinMax() (float64, float64) {
	return f.Min(), f.Max()
}

// RMS returns the root mean square deviation from the mean,
// sqrt((Σv² - (Σv)²/n)/n).
func (f *Field) RMS() float64 {
	if f.cache.has(SlotRMS) {
		return f.cache.rms
	}
	f.cache.rms = RMSFromSums(f.Sum(), f.SumSquares(), float64(len(f.data)))
	f.cache.cached |= SlotRMS
	return f.cache.rms
}

// RMSFromSums returns sqrt(max(0, sum2 - sum²/n)/n), the clamp absorbing
// cancellation error.
func RMSFromSums(sum, sum2, n float64) float64 {
	return math.Sqrt(math.Max(0, sum2-sum*sum/n) / n)
}

// AreaSums returns Σv and Σv² over a rectangle without any bounds checking.
// The rectangle must lie inside the field.
func (f *Field) AreaSums(col, row, width, height int) (sum, sum2 float64) {
	for i := row; i < row+height; i++ {
		line := f.data[i*f.xres+col : i*f.xres+col+width]
		sum += floats.Sum(line)
		sum2 += floats.Dot(line, line)
	}
	return sum, sum2
}

// AreaSum returns the sum of values in a rectangle.
func (f *Field) AreaSum(col, row, width, height int) (float64, error) {
	if err := f.checkArea(col, row, width, height); err != nil {
		return 0, err
	}
	sum, _ := f.AreaSums(col, row, width, height)
	return sum, nil
}

// AreaAvg returns the mean value of a rectangle.
func (f *Field) AreaAvg(col, row, width, height int) (float64, error) {
	sum, err := f.AreaSum(col, row, width, height)
	if err != nil {
		return 0, err
	}
	return sum / float64(width*height), nil
}

// AreaRMS returns the root mean square deviation of a rectangle. It uses
// the same formula as RMS but is never cached.
func (f *Field) AreaRMS(col, row, width, height int) (float64, error) {
	if err := f.checkArea(col, row, width, height); err != nil {
		return 0, err
	}
	sum, sum2 := f.AreaSums(col, row, width, height)
	return RMSFromSums(sum, sum2, float64(width*height)), nil
}

// AreaMin returns the minimum value of a rectangle.
func (f *Field) AreaMin(col, row, width, height int) (float64, error) {
	if err := f.checkArea(col, row, width, height); err != nil {
		return 0, err
	}
	m := math.Inf(1)
	for i := row; i < row+height; i++ {
		m = math.Min(m, floats.Min(f.data[i*f.xres+col:i*f.xres+col+width]))
	}
	return m, nil
}

// AreaMax returns the maximum value of a rectangle.
func (f *Field) AreaMax(col, row, width, height int) (float64, error) {
	if err := f.checkArea(col, row, width, height); err != nil {
		return 0, err
	}
	m := math.Inf(-1)
	for i := row; i < row+height; i++ {
		m = math.Max(m, floats.Max(f.data[i*f.xres+col:i*f.xres+col+width]))
	}
	return m, nil
}
