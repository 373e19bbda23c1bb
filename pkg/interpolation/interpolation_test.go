package interpolation

import (
	"context"
	"errors"
	"math"
	"testing"

	"spmdrift/pkg/field"
)

// createTestField creates a field from a pattern with unit pixels
func createTestField(t *testing.T, xres, yres int, pattern func(col, row int) float64) *field.Field {
	t.Helper()
	f, err := field.New(xres, yres, float64(xres), float64(yres), false)
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}
	data := f.Data()
	for row := 0; row < yres; row++ {
		for col := 0; col < xres; col++ {
			data[row*xres+col] = pattern(col, row)
		}
	}
	return f
}

// rectMask marks the given rectangle
func rectMask(t *testing.T, f *field.Field, col, row, width, height int) *field.Field {
	t.Helper()
	mask := field.NewAlike(f, true)
	if err := mask.AreaFill(col, row, width, height, 1); err != nil {
		t.Fatalf("Failed to fill mask: %v", err)
	}
	return mask
}

func TestFillAverage(t *testing.T) {
	f := createTestField(t, 3, 3, func(col, row int) float64 { return float64(row*3 + col) })
	mask := rectMask(t, f, 1, 1, 1, 1)

	if err := FillAverage(f, mask); err != nil {
		t.Fatalf("FillAverage failed: %v", err)
	}
	// (0+1+2+3+5+6+7+8) / 8
	if v, _ := f.Get(1, 1); v != 4 {
		t.Errorf("Expected 4 at the centre, got %f", v)
	}
	if v, _ := f.Get(0, 0); v != 0 {
		t.Errorf("Expected unmasked pixel unchanged, got %f", v)
	}

	full := rectMask(t, f, 0, 0, 3, 3)
	if err := FillAverage(f, full); !errors.Is(err, ErrNothingToFill) {
		t.Errorf("Expected ErrNothingToFill, got %v", err)
	}
}

func TestFillNearest(t *testing.T) {
	f := createTestField(t, 6, 1, func(col, row int) float64 {
		switch col {
		case 0:
			return 1
		case 5:
			return 6
		}
		return 0
	})
	mask := rectMask(t, f, 1, 0, 4, 1)

	if err := FillNearest(f, mask); err != nil {
		t.Fatalf("FillNearest failed: %v", err)
	}
	want := []float64{1, 1, 1, 6, 6, 6}
	for i, v := range f.DataConst() {
		if v != want[i] {
			t.Errorf("Pixel %d: expected %f, got %f", i, want[i], v)
		}
	}

	full := rectMask(t, f, 0, 0, 6, 1)
	if err := FillNearest(f, full); !errors.Is(err, ErrNothingToFill) {
		t.Errorf("Expected ErrNothingToFill, got %v", err)
	}
}

func TestFillLaplaceInterior(t *testing.T) {
	// harmonic continuation of a linear ramp is the ramp itself
	f := createTestField(t, 10, 6, func(col, row int) float64 { return float64(col) })
	mask := rectMask(t, f, 3, 1, 4, 4)

	for _, seed := range []Seed{SeedAverage, SeedNearest} {
		g := f.Duplicate()
		params := DefaultLaplaceParams()
		params.Seed = seed
		params.Tolerance = 1e-13

		n, err := FillLaplace(context.Background(), g, mask, params, nil)
		if err != nil {
			t.Fatalf("FillLaplace failed: %v", err)
		}
		if n == 0 || n >= params.MaxIterations {
			t.Errorf("Expected convergence before %d sweeps, got %d", params.MaxIterations, n)
		}
		for row := 1; row < 5; row++ {
			for col := 3; col < 7; col++ {
				if v, _ := g.Get(row, col); math.Abs(v-float64(col)) > 1e-6 {
					t.Errorf("Seed %d, pixel (%d,%d): expected %f, got %f", seed, col, row, float64(col), v)
				}
			}
		}
	}
}

func TestFillLaplaceBorder(t *testing.T) {
	// masked border strip takes the value of the first known column
	f := createTestField(t, 8, 5, func(col, row int) float64 { return float64(col) })
	mask := rectMask(t, f, 0, 0, 2, 5)

	var calls int
	_, err := FillLaplace(context.Background(), f, mask, DefaultLaplaceParams(), func(completed, total int, message string) {
		calls++
	})
	if err != nil {
		t.Fatalf("FillLaplace failed: %v", err)
	}
	if calls == 0 {
		t.Error("Expected progress to be reported")
	}
	for row := 0; row < 5; row++ {
		for col := 0; col < 2; col++ {
			if v, _ := f.Get(row, col); math.Abs(v-2) > 1e-6 {
				t.Errorf("Pixel (%d,%d): expected 2, got %f", col, row, v)
			}
		}
	}
}

func TestFillLaplaceErrors(t *testing.T) {
	f := createTestField(t, 4, 4, func(col, row int) float64 { return float64(col) })
	mask := rectMask(t, f, 0, 0, 1, 4)

	params := DefaultLaplaceParams()
	params.Relaxation = 0.3
	if _, err := FillLaplace(context.Background(), f, mask, params, nil); err == nil {
		t.Error("Expected error for an unstable relaxation factor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := FillLaplace(ctx, f, mask, DefaultLaplaceParams(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no sweeps, got %d", n)
	}
}

func TestBilinear(t *testing.T) {
	f := createTestField(t, 2, 2, func(col, row int) float64 { return float64(row*2 + col) })

	tests := []struct {
		col, row, want float64
	}{
		{0, 0, 0},
		{1, 1, 3},
		{0.5, 0.5, 1.5},
		{0.25, 0, 0.25},
		{-3, 0, 0},
		{5, 5, 3},
	}
	for _, tt := range tests {
		if got := Bilinear(f, tt.col, tt.row); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Bilinear(%g,%g): expected %f, got %f", tt.col, tt.row, tt.want, got)
		}
	}
}

func TestSampleDistorted(t *testing.T) {
	src := createTestField(t, 6, 3, func(col, row int) float64 { return float64(col) })
	xDist := field.NewAlike(src, false)
	xDist.Fill(src.Itor(1.5))
	yDist := field.NewAlike(src, true)
	dst := field.NewAlike(src, true)

	if err := SampleDistorted(src, dst, xDist, yDist); err != nil {
		t.Fatalf("SampleDistorted failed: %v", err)
	}
	for col := 0; col < 6; col++ {
		want := math.Min(float64(col)+1.5, 5)
		if v, _ := dst.Get(1, col); math.Abs(v-want) > 1e-12 {
			t.Errorf("Column %d: expected %f, got %f", col, want, v)
		}
	}

	// broken displacements keep the pixel in place
	xDist.Fill(0)
	if err := xDist.Set(1, 2, math.NaN()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := yDist.Set(2, 4, math.Inf(1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := SampleDistorted(src, dst, xDist, yDist); err != nil {
		t.Fatalf("SampleDistorted failed: %v", err)
	}
	if v, _ := dst.Get(1, 2); v != 2 {
		t.Errorf("Expected 2 at a NaN displacement, got %f", v)
	}
	if v, _ := dst.Get(2, 4); v != 4 {
		t.Errorf("Expected 4 at an infinite displacement, got %f", v)
	}
	if v := Bilinear(src, math.NaN(), 1); v != 0 {
		t.Errorf("Expected the first column for a NaN coordinate, got %f", v)
	}

	small := createTestField(t, 5, 3, func(col, row int) float64 { return 0 })
	if err := SampleDistorted(src, small, xDist, yDist); !errors.Is(err, field.ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch, got %v", err)
	}
}
