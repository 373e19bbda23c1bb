package interpolation

import (
	"math"

	"spmdrift/pkg/field"
)

// Bilinear returns the value of f at fractional pixel coordinates. Points
// outside the field take the value of the nearest border pixel; a NaN
// coordinate counts as 0.
func Bilinear(f *field.Field, col, row float64) float64 {
	xres, yres := f.XRes(), f.YRes()
	data := f.DataConst()

	col = clamp(col, 0, float64(xres-1))
	row = clamp(row, 0, float64(yres-1))

	c0, r0 := int(math.Floor(col)), int(math.Floor(row))
	c1, r1 := min(c0+1, xres-1), min(r0+1, yres-1)
	fc, fr := col-float64(c0), row-float64(r0)

	top := data[r0*xres+c0]*(1-fc) + data[r0*xres+c1]*fc
	bottom := data[r1*xres+c0]*(1-fc) + data[r1*xres+c1]*fc
	return top*(1-fr) + bottom*fr
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// pixels converts a physical displacement to pixels, 0 when it is not finite.
func pixels(d, measure float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return d / measure
}

// SampleDistorted fills dst with src sampled at every pixel moved by the
// physical displacements xDist, yDist. Sampling the second scan along the
// measured drift aligns it with the first one. Pixels with a non-finite
// displacement keep their own value.
func SampleDistorted(src, dst, xDist, yDist *field.Field) error {
	for _, f := range []*field.Field{dst, xDist, yDist} {
		if err := src.CheckCompatible(f); err != nil {
			return err
		}
	}

	xres, yres := src.XRes(), src.YRes()
	xd, yd := xDist.DataConst(), yDist.DataConst()
	out := make([]float64, xres*yres)
	for row := 0; row < yres; row++ {
		for col := 0; col < xres; col++ {
			i := row*xres + col
			out[i] = Bilinear(src,
				float64(col)+pixels(xd[i], src.XMeasure()),
				float64(row)+pixels(yd[i], src.YMeasure()))
		}
	}
	copy(dst.Data(), out)
	return dst.SetReal(src.XReal(), src.YReal())
}
