package correlation

import (
	"context"
	"fmt"

	"spmdrift/internal/models"
	"spmdrift/pkg/field"
)

// Correlator computes the correlation score of a kernel centred at every
// pixel of a data field.
//
// The work is split into steps, one data column per step:
//
//	c, err := correlation.NewCorrelator(data, kernel, score)
//	if err != nil {
//		return err
//	}
//	for c.State() != models.StateFinished {
//		if err := c.Step(); err != nil {
//			return err
//		}
//		report(c.Fraction())
//	}
//
// Pixels closer to the border than half the kernel size keep the
// NoCorrelation value. Columns end one short of the last centre where the
// kernel fits: scored columns are [kxres/2, xres-kxres/2-1), scored rows
// [kyres/2, yres-kyres/2).
type Correlator struct {
	data   *field.Field
	kernel *field.Field
	score  *field.Field

	state  models.ComputationState
	cursor int
	first  int
	end    int

	rowFirst int
	rowEnd   int

	kavg  float64
	krms  float64
	kflat bool
	norm  *Normalization

	err error
}

// NewCorrelator creates a correlation computation storing scores of kernel
// over data into score, which must have the dimensions of data.
func NewCorrelator(data, kernel, score *field.Field) (*Correlator, error) {
	if data == nil || kernel == nil || score == nil {
		return nil, ErrNilField
	}
	if err := data.CheckCompatible(score); err != nil {
		return nil, fmt.Errorf("score field: %w", err)
	}
	return &Correlator{
		data:   data,
		kernel: kernel,
		score:  score,
		state:  models.StateInit,
	}, nil
}

// Step performs one unit of work. The first step validates the input and
// prepares the output; each following step scores one column. Once the
// computation is finished Step does nothing and returns the setup error,
// if there was one.
func (c *Correlator) Step() error {
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

func (c *Correlator) init() error {
	xres, yres := c.data.XRes(), c.data.YRes()
	kxres, kyres := c.kernel.XRes(), c.kernel.YRes()

	if kxres > xres || kyres > yres {
		c.err = fmt.Errorf("%w: kernel %dx%d, data %dx%d", ErrKernelTooLarge, kxres, kyres, xres, yres)
		c.state = models.StateFinished
		return c.err
	}

	c.score.Fill(NoCorrelation)

	c.kavg, c.krms, c.kflat = windowMoments(c.kernel, models.Rect{Width: kxres, Height: kyres})

	norm, err := NewNormalization(c.data, kxres, kyres)
	if err != nil {
		c.err = err
		c.state = models.StateFinished
		return err
	}
	c.norm = norm

	c.first = kxres / 2
	c.end = xres - kxres/2 - 1
	c.rowFirst = kyres / 2
	c.rowEnd = yres - kyres/2

	c.cursor = c.first
	c.state = models.StateIterate
	if c.cursor >= c.end {
		c.state = models.StateFinished
	}
	return nil
}

func (c *Correlator) iterate() {
	xres := c.data.XRes()
	kxres, kyres := c.kernel.XRes(), c.kernel.YRes()
	out := c.score.Data()

	col := c.cursor
	if !c.kflat {
		for row := c.rowFirst; row < c.rowEnd; row++ {
			davg, drms, ok := c.norm.At(col-kxres/2, row-kyres/2)
			if !ok {
				continue
			}
			raw := rawScore(c.data, c.kernel, col-kxres/2, row-kyres/2, 0, 0, kxres, kyres, davg, c.kavg)
			out[row*xres+col] = normalize(raw, drms, c.krms)
		}
	}

	c.cursor++
	if c.cursor >= c.end {
		c.state = models.StateFinished
	}
}

// StepN performs up to n steps, stopping early when the computation
// finishes.
func (c *Correlator) StepN(n int) error {
	for i := 0; i < n && c.state != models.StateFinished; i++ {
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Run steps until the computation finishes or ctx is done. The context is
// only checked between steps.
func (c *Correlator) Run(ctx context.Context) error {
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
func (c *Correlator) State() models.ComputationState { return c.state }

// Cursor returns the next column to be processed
func (c *Correlator) Cursor() int { return c.cursor }

// First returns the first column processed, valid after the first step
func (c *Correlator) First() int { return c.first }

// End returns the cursor value at which the computation finishes
func (c *Correlator) End() int { return c.end }

// Err returns the setup error, if any
func (c *Correlator) Err() error { return c.err }

// Fraction returns the completed fraction of the work, in [0, 1].
func (c *Correlator) Fraction() float64 {
	switch c.state {
	case models.StateInit:
		return 0
	case models.StateFinished:
		return 1
	}
	return float64(c.cursor-c.first) / float64(c.end-c.first)
}

// Correlate runs a complete correlation of kernel over data into score.
func Correlate(data, kernel, score *field.Field) error {
	c, err := NewCorrelator(data, kernel, score)
	if err != nil {
		return err
	}
	return c.Run(context.Background())
}

// FindBestMatch returns the column and row of the highest score as
// OffsetX, OffsetY together with the score. ok is false when no pixel holds
// a score above NoCorrelation. The first maximum in row-major order wins.
func FindBestMatch(score *field.Field) (best models.MatchResult, ok bool) {
	best.Score = NoCorrelation
	xres := score.XRes()
	for i, v := range score.DataConst() {
		if v > best.Score {
			best = models.MatchResult{OffsetX: i % xres, OffsetY: i / xres, Score: v}
			ok = true
		}
	}
	return best, ok
}
