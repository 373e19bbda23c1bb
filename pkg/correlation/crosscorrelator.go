package correlation

import (
	"context"
	"fmt"

	"spmdrift/internal/models"
	"spmdrift/pkg/field"
)

const (
	// DefaultZeroOffsetBoost multiplies the score of the zero displacement
	// candidate so flat or ambiguous data report no movement.
	DefaultZeroOffsetBoost = 1.01

	// LegacyZeroOffsetBoost is the smaller factor of the non-resumable
	// matcher of older releases.
	LegacyZeroOffsetBoost = 1.0001
)

// CrossCorrelationParams configures a displacement search.
type CrossCorrelationParams struct {
	// SearchWidth, SearchHeight are the size of the neighbourhood searched
	// in the second field. They are also the size of the compared windows.
	SearchWidth  int
	SearchHeight int

	// WindowWidth, WindowHeight must be positive but are otherwise
	// reserved: comparisons always use the search area as the window.
	WindowWidth  int
	WindowHeight int

	// ZeroOffsetBoost is the tie-break factor for the zero displacement
	// candidate. Zero selects DefaultZeroOffsetBoost.
	ZeroOffsetBoost float64
}

// Validate checks that all sizes are positive.
func (p CrossCorrelationParams) Validate() error {
	if p.SearchWidth <= 0 || p.SearchHeight <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSearchArea, p.SearchWidth, p.SearchHeight)
	}
	if p.WindowWidth <= 0 || p.WindowHeight <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidWindow, p.WindowWidth, p.WindowHeight)
	}
	if p.ZeroOffsetBoost < 0 {
		return fmt.Errorf("%w: negative zero offset boost %g", ErrInvalidSearchArea, p.ZeroOffsetBoost)
	}
	return nil
}

func (p CrossCorrelationParams) boost() float64 {
	if p.ZeroOffsetBoost == 0 {
		return DefaultZeroOffsetBoost
	}
	return p.ZeroOffsetBoost
}

// CrossCorrelator matches two images of the same area taken at different
// times. For every point of the first field it searches the neighbourhood
// of the same position in the second field for the best matching window
// and records the displacement in physical units together with the score.
//
// Like Correlator it is driven by Step, one column of the first field per
// step.
type CrossCorrelator struct {
	before *field.Field
	after  *field.Field
	xDist  *field.Field
	yDist  *field.Field
	score  *field.Field
	params CrossCorrelationParams

	state  models.ComputationState
	cursor int
	first  int
	end    int

	rowFirst int
	rowEnd   int

	// window statistics of after, nil when the window exceeds the field
	norm *Normalization

	err error
}

// NewCrossCorrelator creates a displacement search of before within after.
// Results go to xDist, yDist and score. Sizes are validated by the first
// Step.
func NewCrossCorrelator(before, after, xDist, yDist, score *field.Field,
	params CrossCorrelationParams) (*CrossCorrelator, error) {
	if before == nil || after == nil || xDist == nil || yDist == nil || score == nil {
		return nil, ErrNilField
	}
	return &CrossCorrelator{
		before: before,
		after:  after,
		xDist:  xDist,
		yDist:  yDist,
		score:  score,
		params: params,
		state:  models.StateInit,
	}, nil
}

// Step performs one unit of work. The first step validates the
// configuration and clears the outputs, each following step processes one
// column. Errors are only ever returned by the first step; afterwards a
// failed computation keeps returning the same error.
func (c *CrossCorrelator) Step() error {
	switch c.state {
	case models.StateInit:
		return c.init()
	case models.StateIterate:
		c.iterate()
		return nil
	default:
		return c.err
	}
}

func (c *CrossCorrelator) fail(err error) error {
	c.err = err
	c.state = models.StateFinished
	return err
}

// prepare validates the inputs and builds the window statistics of the
// second field when the search area fits it.
func (c *CrossCorrelator) prepare() error {
	if err := c.before.CheckCompatible(c.after); err != nil {
		return fmt.Errorf("compared fields: %w", err)
	}
	if err := c.params.Validate(); err != nil {
		return err
	}
	sw, sh := c.params.SearchWidth, c.params.SearchHeight
	if c.norm == nil && sw <= c.after.XRes() && sh <= c.after.YRes() {
		norm, err := NewNormalization(c.after, sw, sh)
		if err != nil {
			return err
		}
		c.norm = norm
	}
	return nil
}

func (c *CrossCorrelator) init() error {
	for _, out := range []*field.Field{c.xDist, c.yDist, c.score} {
		if err := c.before.CheckCompatible(out); err != nil {
			return c.fail(fmt.Errorf("output field: %w", err))
		}
	}
	if err := c.prepare(); err != nil {
		return c.fail(err)
	}

	c.xDist.Clear()
	c.yDist.Clear()
	c.score.Clear()

	xres, yres := c.before.XRes(), c.before.YRes()
	sw, sh := c.params.SearchWidth, c.params.SearchHeight
	c.first = sw / 2
	// the column bound uses the height radius, as it always has
	c.end = xres - sh/2
	c.rowFirst = sh / 2
	c.rowEnd = yres - sh/2

	c.cursor = c.first
	c.state = models.StateIterate
	if c.cursor >= c.end {
		c.state = models.StateFinished
	}
	return nil
}

func (c *CrossCorrelator) iterate() {
	xres := c.before.XRes()
	xd := c.xDist.Data()
	yd := c.yDist.Data()
	sd := c.score.Data()

	i := c.cursor
	for j := c.rowFirst; j < c.rowEnd; j++ {
		res := c.match(i, j)
		p := j*xres + i
		sd[p] = res.Score
		xd[p] = c.before.Itor(float64(res.OffsetX))
		yd[p] = c.before.Jtor(float64(res.OffsetY))
	}

	c.cursor++
	if c.cursor >= c.end {
		c.state = models.StateFinished
	}
}

// MatchAt searches the best match of the window centred at (i, j) without
// writing any output. It may be called in any state; when the fields or
// parameters are invalid the result holds NoCorrelation.
func (c *CrossCorrelator) MatchAt(i, j int) models.MatchResult {
	if c.err != nil || c.prepare() != nil {
		return models.MatchResult{Score: NoCorrelation}
	}
	return c.match(i, j)
}

// match searches the best position of the window centred at (i, j) of the
// first field. Candidate upper-left corners cover a SearchWidth ×
// SearchHeight neighbourhood ending just before the centre; windows leaving
// the second field are skipped.
func (c *CrossCorrelator) match(i, j int) models.MatchResult {
	sw, sh := c.params.SearchWidth, c.params.SearchHeight
	col0, row0 := i-sw/2, j-sh/2
	best := models.MatchResult{Score: NoCorrelation}

	win := models.Rect{Col: col0, Row: row0, Width: sw, Height: sh}
	if c.norm == nil || !win.Within(c.before.XRes(), c.before.YRes()) {
		return best
	}
	bavg, brms, bflat := windowMoments(c.before, win)
	if bflat {
		return best
	}

	boost := c.params.boost()
	cormax := NoCorrelation
	for m := i - sw; m < i; m++ {
		for n := j - sh; n < j; n++ {
			aavg, arms, ok := c.norm.At(m, n)
			if !ok {
				continue
			}
			raw := rawScore(c.before, c.after, col0, row0, m, n, sw, sh, bavg, aavg)
			s := normalize(raw, brms, arms)

			// prefer no movement on flat or ambiguous data
			ls := s
			if m == col0 && n == row0 {
				ls *= boost
			}

			if ls > cormax {
				cormax = ls
				best = models.MatchResult{
					OffsetX: m + sw/2 - i,
					OffsetY: n + sh/2 - j,
					Score:   s,
				}
			}
		}
	}
	return best
}

// StepN performs up to n steps, stopping early when the computation
// finishes.
func (c *CrossCorrelator) StepN(n int) error {
	for i := 0; i < n && c.state != models.StateFinished; i++ {
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Run steps until the computation finishes or ctx is done. The context is
// only checked between steps.
func (c *CrossCorrelator) Run(ctx context.Context) error {
	for c.state != models.StateFinished {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	return c.err
}

// State returns the computation phase
func (c *CrossCorrelator) State() models.ComputationState { return c.state }

// Cursor returns the next column to be processed
func (c *CrossCorrelator) Cursor() int { return c.cursor }

// First returns the first column processed, valid after the first step
func (c *CrossCorrelator) First() int { return c.first }

// End returns the cursor value at which the computation finishes
func (c *CrossCorrelator) End() int { return c.end }

// Err returns the setup error, if any
func (c *CrossCorrelator) Err() error { return c.err }

// Fraction returns the completed fraction of the work, in [0, 1].
func (c *CrossCorrelator) Fraction() float64 {
	switch c.state {
	case models.StateInit:
		return 0
	case models.StateFinished:
		return 1
	}
	return float64(c.cursor-c.first) / float64(c.end-c.first)
}

// CrossCorrelate runs a complete displacement search.
func CrossCorrelate(before, after, xDist, yDist, score *field.Field, params CrossCorrelationParams) error {
	c, err := NewCrossCorrelator(before, after, xDist, yDist, score, params)
	if err != nil {
		return err
	}
	return c.Run(context.Background())
}
