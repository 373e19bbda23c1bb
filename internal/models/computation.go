package models

import "fmt"

// ComputationState is the phase of a resumable computation.
type ComputationState int

const (
	// StateInit means the computation was created but no step has run yet.
	StateInit ComputationState = iota

	// StateIterate means setup is done and each step processes one unit of work.
	StateIterate

	// StateFinished means the computation is complete (or failed at setup).
	StateFinished
)

// String returns the state name
func (s ComputationState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIterate:
		return "iterate"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("ComputationState(%d)", int(s))
	}
}

// Rect is a rectangular area of a field in pixel coordinates
type Rect struct {
	// Col, Row are the upper-left corner
	Col, Row int

	// Width, Height are the number of columns and rows
	Width, Height int
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Within reports whether the rectangle is non-empty and lies fully inside
// a field of xres columns and yres rows.
func (r Rect) Within(xres, yres int) bool {
	if r.Empty() {
		return false
	}
	return r.Col >= 0 && r.Row >= 0 &&
		r.Col+r.Width <= xres && r.Row+r.Height <= yres
}

// CorrelationWindow pairs a rectangle in the data (search) field with an
// equally sized rectangle in the kernel field.
type CorrelationWindow struct {
	Data   Rect
	Kernel Rect
}

// NewCorrelationWindow creates a window pair of the given size
func NewCorrelationWindow(col, row, kernelCol, kernelRow, width, height int) CorrelationWindow {
	return CorrelationWindow{
		Data:   Rect{Col: col, Row: row, Width: width, Height: height},
		Kernel: Rect{Col: kernelCol, Row: kernelRow, Width: width, Height: height},
	}
}

// MatchResult is the outcome of a neighbourhood search for one pixel
type MatchResult struct {
	// OffsetX, OffsetY are the pixel offsets of the best match
	OffsetX, OffsetY int

	// Score is the correlation score of the best match, -1 when nothing
	// could be compared. It is the measured score, without the factor
	// favouring the zero offset during the search.
	Score float64
}

// ResultKind selects which maps a drift analysis produces.
type ResultKind int

const (
	ResultAll ResultKind = iota
	ResultAbs
	ResultX
	ResultY
	ResultDir
	ResultScore
)

var resultKindNames = map[ResultKind]string{
	ResultAll:   "all",
	ResultAbs:   "abs",
	ResultX:     "x",
	ResultY:     "y",
	ResultDir:   "dir",
	ResultScore: "score",
}

// String returns the configuration name of the result kind
func (k ResultKind) String() string {
	if name, ok := resultKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// ParseResultKind converts a configuration name to a ResultKind
func ParseResultKind(name string) (ResultKind, error) {
	for k, n := range resultKindNames {
		if n == name {
			return k, nil
		}
	}
	return ResultAll, fmt.Errorf("invalid result kind: %q (must be all, abs, x, y, dir or score)", name)
}

// Includes reports whether a run configured for k produces the map other.
func (k ResultKind) Includes(other ResultKind) bool {
	return k == ResultAll || k == other
}
