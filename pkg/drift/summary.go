package drift

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"spmdrift/pkg/field"
)

// Summary condenses displacement maps into a few numbers.
//
// Only pixels with a positive score take part. Means and standard
// deviations are weighted by score; the covariance of (x, y) is not.
type Summary struct {
	Total int
	Valid int

	MeanX   float64
	MeanY   float64
	StdDevX float64
	StdDevY float64

	MeanScore float64

	// Covariance is the 2×2 covariance of the displacements, nil with fewer
	// than two valid pixels.
	Covariance *mat.SymDense
}

// Summarize computes the summary of displacement maps x, y with their score.
func Summarize(x, y, score *field.Field) (Summary, error) {
	if err := score.CheckCompatible(x); err != nil {
		return Summary{}, err
	}
	if err := score.CheckCompatible(y); err != nil {
		return Summary{}, err
	}

	sd := score.DataConst()
	xd, yd := x.DataConst(), y.DataConst()

	var xs, ys, ws []float64
	for i, s := range sd {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		xs = append(xs, xd[i])
		ys = append(ys, yd[i])
		ws = append(ws, s)
	}

	summary := Summary{Total: len(sd), Valid: len(ws)}
	if summary.Valid == 0 {
		return summary, nil
	}

	summary.MeanX, summary.StdDevX = stat.PopMeanStdDev(xs, ws)
	summary.MeanY, summary.StdDevY = stat.PopMeanStdDev(ys, ws)
	summary.MeanScore = stat.Mean(ws, nil)

	if summary.Valid >= 2 {
		m := mat.NewDense(summary.Valid, 2, nil)
		m.SetCol(0, xs)
		m.SetCol(1, ys)
		var cov mat.SymDense
		stat.CovarianceMatrix(&cov, m, nil)
		summary.Covariance = &cov
	}
	return summary, nil
}
