// Package drift estimates the lateral drift between two scans of the same
// area. It runs the displacement search of package correlation, optionally
// on a second channel pair, and derives displacement magnitude, direction
// and a low score mask from the result.
package drift

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"spmdrift/internal/models"
	"spmdrift/pkg/correlation"
	"spmdrift/pkg/field"
	"spmdrift/pkg/interpolation"
)

var (
	// ErrMissingField is returned when a channel pair lacks one of its fields.
	ErrMissingField = errors.New("missing field in channel pair")

	// ErrNoOffset is returned when the offset guess finds no correlation.
	ErrNoOffset = errors.New("no offset found")
)

// ProgressCallback is a function that reports progress during analysis
type ProgressCallback = interpolation.ProgressCallback

// Params holds the drift analysis parameters.
type Params struct {
	// Correlation configures the displacement search
	Correlation correlation.CrossCorrelationParams

	// SearchOffsetX, SearchOffsetY are the expected drift in pixels. The
	// second scan is moved back by this amount before matching, so the
	// search area is centred on the expected position.
	SearchOffsetX int
	SearchOffsetY int

	// GuessOffset replaces the search offset by the one found by
	// GuessOffset before matching
	GuessOffset bool

	// Result selects the derived maps
	Result models.ResultKind

	// LowScoreMask enables the mask of pixels scoring below Threshold
	LowScoreMask bool
	Threshold    float64

	// ExtendBorders replaces the displacements near the border, where no
	// search was possible, by a smooth continuation of the inner ones
	ExtendBorders bool
	Laplace       interpolation.LaplaceParams

	// Correct resamples the second scan along the measured drift
	Correct bool
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		Correlation: correlation.CrossCorrelationParams{
			SearchWidth:  10,
			SearchHeight: 10,
			WindowWidth:  25,
			WindowHeight: 25,
		},
		Result:        models.ResultAbs,
		LowScoreMask:  true,
		Threshold:     0.95,
		ExtendBorders: true,
		Laplace:       interpolation.DefaultLaplaceParams(),
		Correct:       true,
	}
}

// Pair is one channel recorded in two scans.
type Pair struct {
	Before *field.Field
	After  *field.Field
}

func (p *Pair) validate() error {
	if p.Before == nil || p.After == nil {
		return ErrMissingField
	}
	if err := p.Before.CheckCompatible(p.After); err != nil {
		return fmt.Errorf("channel pair: %w", err)
	}
	return nil
}

// Result holds the maps produced by a drift analysis. X, Y and Score are
// always present; the others only when requested.
type Result struct {
	Kind models.ResultKind

	// OffsetX, OffsetY are the search offset used, in pixels
	OffsetX int
	OffsetY int

	// X, Y are displacements in physical units
	X     *field.Field
	Y     *field.Field
	Score *field.Field

	Abs *field.Field
	Dir *field.Field

	// Mask is 1 where the score is below the threshold, 0 elsewhere
	Mask *field.Field

	// Corrected is the second scan aligned with the first one
	Corrected *field.Field

	Summary Summary
}

// Maps returns the requested maps keyed by their result kind name, plus
// "mask" and "corrected" when those were computed.
func (r *Result) Maps() map[string]*field.Field {
	maps := make(map[string]*field.Field)
	candidates := []struct {
		kind models.ResultKind
		f    *field.Field
	}{
		{models.ResultX, r.X},
		{models.ResultY, r.Y},
		{models.ResultAbs, r.Abs},
		{models.ResultDir, r.Dir},
		{models.ResultScore, r.Score},
	}
	for _, c := range candidates {
		if r.Kind.Includes(c.kind) && c.f != nil {
			maps[c.kind.String()] = c.f
		}
	}
	if r.Mask != nil {
		maps["mask"] = r.Mask
	}
	if r.Corrected != nil {
		maps["corrected"] = r.Corrected
	}
	return maps
}

// Analyzer runs drift analyses with a fixed set of parameters.
type Analyzer struct {
	params           Params
	log              zerolog.Logger
	progressCallback ProgressCallback
}

// NewAnalyzer creates an analyzer. It does not log until a logger is set
// with WithLogger.
func NewAnalyzer(params Params) *Analyzer {
	return &Analyzer{
		params: params,
		log:    zerolog.Nop(),
	}
}

// WithLogger sets the logger and returns the analyzer.
func (a *Analyzer) WithLogger(log zerolog.Logger) *Analyzer {
	a.log = log
	return a
}

// SetProgressCallback sets a function to receive progress updates
func (a *Analyzer) SetProgressCallback(callback ProgressCallback) {
	a.progressCallback = callback
}

func (a *Analyzer) reportProgress(completed, total int, message string) {
	if a.progressCallback != nil {
		a.progressCallback(completed, total, message)
	}
}

// Params returns the analysis parameters
func (a *Analyzer) Params() Params {
	return a.params
}

// Process runs the complete drift analysis.
//
// Parameters:
//   - ctx: checked between correlation steps; cancelling it aborts the run
//   - pair: the channel used for matching
//   - second: optional second channel of the same scans, nil to skip. Its
//     displacements and scores are averaged with those of pair.
//
// Returns:
//   - the displacement maps, the derived maps and their summary
func (a *Analyzer) Process(ctx context.Context, pair Pair, second *Pair) (*Result, error) {
	if err := a.params.Correlation.Validate(); err != nil {
		return nil, err
	}
	if err := pair.validate(); err != nil {
		return nil, err
	}
	if second != nil {
		if err := second.validate(); err != nil {
			return nil, fmt.Errorf("second %w", err)
		}
		if err := pair.Before.CheckCompatible(second.Before); err != nil {
			return nil, fmt.Errorf("second channel pair: %w", err)
		}
	}

	offX, offY := a.params.SearchOffsetX, a.params.SearchOffsetY
	if a.params.GuessOffset {
		var err error
		if offX, offY, err = a.GuessOffset(ctx, pair); err != nil {
			return nil, err
		}
	}

	a.log.Info().
		Int("xres", pair.Before.XRes()).
		Int("yres", pair.Before.YRes()).
		Int("searchWidth", a.params.Correlation.SearchWidth).
		Int("searchHeight", a.params.Correlation.SearchHeight).
		Int("offsetX", offX).
		Int("offsetY", offY).
		Bool("secondPair", second != nil).
		Msg("drift analysis started")

	x, y, score, err := a.correlate(ctx, pair, offX, offY, "first")
	if err != nil {
		return nil, err
	}

	if second != nil {
		x2, y2, score2, err := a.correlate(ctx, *second, offX, offY, "second")
		if err != nil {
			return nil, err
		}
		for _, avg := range [][2]*field.Field{{x, x2}, {y, y2}, {score, score2}} {
			if err := avg[0].SumFields(avg[0], avg[1]); err != nil {
				return nil, err
			}
			avg[0].Multiply(0.5)
		}
	}

	if offX != 0 || offY != 0 {
		x.Add(x.Itor(float64(offX)))
		y.Add(y.Jtor(float64(offY)))
	}

	if a.params.ExtendBorders {
		if err := a.extendBorders(ctx, x, y); err != nil {
			return nil, err
		}
	}

	result := &Result{
		Kind:    a.params.Result,
		OffsetX: offX,
		OffsetY: offY,
		X:       x,
		Y:       y,
		Score:   score,
	}
	if a.params.Correct {
		result.Corrected = field.NewAlike(pair.After, false)
		if err := interpolation.SampleDistorted(pair.After, result.Corrected, x, y); err != nil {
			return nil, err
		}
	}
	if a.params.Result.Includes(models.ResultAbs) {
		result.Abs = field.NewAlike(x, false)
		if err := result.Abs.Hypot(x, y); err != nil {
			return nil, err
		}
	}
	if a.params.Result.Includes(models.ResultDir) {
		result.Dir = field.NewAlike(x, false)
		if err := result.Dir.Atan2(x, y); err != nil {
			return nil, err
		}
	}
	if a.params.LowScoreMask {
		result.Mask = score.Duplicate()
		n := result.Mask.Threshold(a.params.Threshold, 1, 0)
		a.log.Debug().
			Float64("threshold", a.params.Threshold).
			Int("masked", len(score.DataConst())-n).
			Msg("low score mask computed")
	}

	summary, err := Summarize(x, y, score)
	if err != nil {
		return nil, err
	}
	result.Summary = summary

	a.log.Info().
		Int("valid", summary.Valid).
		Int("total", summary.Total).
		Float64("meanX", summary.MeanX).
		Float64("meanY", summary.MeanY).
		Float64("meanScore", summary.MeanScore).
		Msg("drift analysis finished")

	return result, nil
}

// correlate runs one displacement search step by step, reporting progress
// after every column.
func (a *Analyzer) correlate(ctx context.Context, pair Pair, offX, offY int, label string) (x, y, score *field.Field, err error) {
	after := pair.After
	if offX != 0 || offY != 0 {
		after = shift(pair.After, -offX, -offY)
	}

	x = field.NewAlike(pair.Before, true)
	y = field.NewAlike(pair.Before, true)
	score = field.NewAlike(pair.Before, true)

	cc, err := correlation.NewCrossCorrelator(pair.Before, after, x, y, score, a.params.Correlation)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cc.Step(); err != nil {
		return nil, nil, nil, fmt.Errorf("%s set: %w", label, err)
	}

	total := cc.End() - cc.First()
	message := fmt.Sprintf("Correlating %s set...", label)
	a.log.Debug().Str("set", label).Int("columns", total).Msg("cross-correlation initialized")
	a.reportProgress(0, total, message)

	for cc.State() != models.StateFinished {
		if err := ctx.Err(); err != nil {
			a.log.Warn().Str("set", label).Int("column", cc.Cursor()).Msg("cross-correlation cancelled")
			return nil, nil, nil, err
		}
		if err := cc.Step(); err != nil {
			return nil, nil, nil, fmt.Errorf("%s set: %w", label, err)
		}
		a.reportProgress(cc.Cursor()-cc.First(), total, message)
	}
	return x, y, score, nil
}

// GuessOffset estimates the overall drift of pair in pixels. The centre of
// the second scan, without a border of a fifth of the width limited to
// 10..100 pixels, is correlated over the first scan; the position of the
// best score gives the offset.
func (a *Analyzer) GuessOffset(ctx context.Context, pair Pair) (dx, dy int, err error) {
	if err := pair.validate(); err != nil {
		return 0, 0, err
	}
	xres, yres := pair.Before.XRes(), pair.Before.YRes()
	border := max(10, min(xres/5, 100))
	kxres, kyres := xres-2*border, yres-2*border
	if kxres <= 0 || kyres <= 0 {
		return 0, 0, fmt.Errorf("%w: %dx%d field, border %d", field.ErrInvalidArea, xres, yres, border)
	}

	kernel := pair.After.Duplicate()
	if err := kernel.Resize(border, border, kxres, kyres); err != nil {
		return 0, 0, err
	}
	score := field.NewAlike(pair.Before, false)

	c, err := correlation.NewCorrelator(pair.Before, kernel, score)
	if err != nil {
		return 0, 0, err
	}
	if err := c.Step(); err != nil {
		return 0, 0, err
	}

	total := c.End() - c.First()
	message := "Guessing offset..."
	a.reportProgress(0, total, message)
	for c.State() != models.StateFinished {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		if err := c.Step(); err != nil {
			return 0, 0, err
		}
		a.reportProgress(c.Cursor()-c.First(), total, message)
	}

	best, ok := correlation.FindBestMatch(score)
	if !ok {
		return 0, 0, ErrNoOffset
	}
	// the kernel centre sits at (border + kxres/2, border + kyres/2) of the
	// second scan
	dx = border + kxres/2 - best.OffsetX
	dy = border + kyres/2 - best.OffsetY

	a.log.Info().
		Int("offsetX", dx).
		Int("offsetY", dy).
		Float64("score", best.Score).
		Msg("search offset guessed")
	return dx, dy, nil
}

// extendBorders fills strips along the border of the displacement maps
// that are wider by two pixels than the unsearched margin.
func (a *Analyzer) extendBorders(ctx context.Context, x, y *field.Field) error {
	xres, yres := x.XRes(), x.YRes()
	bw := min(a.params.Correlation.SearchWidth/2+2, xres)
	bh := min(a.params.Correlation.SearchHeight/2+2, yres)

	mask := field.NewAlike(x, true)
	for _, r := range []models.Rect{
		{Col: 0, Row: 0, Width: bw, Height: yres},
		{Col: 0, Row: 0, Width: xres, Height: bh},
		{Col: xres - bw, Row: 0, Width: bw, Height: yres},
		{Col: 0, Row: yres - bh, Width: xres, Height: bh},
	} {
		if err := mask.AreaFill(r.Col, r.Row, r.Width, r.Height, 1); err != nil {
			return err
		}
	}

	params := a.params.Laplace
	if params == (interpolation.LaplaceParams{}) {
		params = interpolation.DefaultLaplaceParams()
	}
	for _, f := range []*field.Field{x, y} {
		n, err := interpolation.FillLaplace(ctx, f, mask, params, a.progressCallback)
		if errors.Is(err, interpolation.ErrNothingToFill) {
			a.log.Warn().Msg("field too small for border extension")
			return nil
		}
		if err != nil {
			return err
		}
		a.log.Debug().Int("iterations", n).Msg("borders extended")
	}
	return nil
}

// shift returns a copy of f moved by (dx, dy) pixels. Uncovered pixels hold
// the average of f.
func shift(f *field.Field, dx, dy int) *field.Field {
	shifted := field.NewAlike(f, false)
	shifted.Fill(f.Avg())
	f.AreaCopy(shifted, 0, 0, -1, -1, dx, dy)
	return shifted
}
