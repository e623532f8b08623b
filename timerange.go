package stave

import (
	"fmt"
	"math"
)

// TimeRange is a half-open interval [Start, Start+Length) on the timeline,
// in seconds. It is an immutable value: all the operations return a new
// TimeRange instead of modifying the receiver.
type TimeRange struct {
	Start  float64 `yaml:"start" json:"start"`
	Length float64 `yaml:"length" json:"length"`
}

// NewTimeRange returns a TimeRange, checking that start is non-negative and
// length is strictly positive.
func NewTimeRange(start, length float64) (TimeRange, error) {
	if start < 0 || length <= 0 {
		return TimeRange{}, fmt.Errorf("%w: start %v, length %v", ErrInvalidTimeRange, start, length)
	}
	return TimeRange{Start: start, Length: length}, nil
}

// End returns the exclusive end of the range.
func (r TimeRange) End() float64 {
	return r.Start + r.Length
}

// Shift returns the range moved by delta seconds. The result is validated,
// so shifting past zero fails.
func (r TimeRange) Shift(delta float64) (TimeRange, error) {
	return NewTimeRange(r.Start+delta, r.Length)
}

// WithStart returns the range with a new start and the same length.
func (r TimeRange) WithStart(start float64) (TimeRange, error) {
	return NewTimeRange(start, r.Length)
}

// WithLength returns the range with the same start and a new length.
func (r TimeRange) WithLength(length float64) (TimeRange, error) {
	return NewTimeRange(r.Start, length)
}

// Intersects reports whether the two half-open ranges overlap. Ranges that
// merely touch at an endpoint do not intersect.
func (r TimeRange) Intersects(other TimeRange) bool {
	return r.Start < other.End() && r.End() > other.Start
}

// Contains reports whether other lies fully within r.
func (r TimeRange) Contains(other TimeRange) bool {
	return r.Start <= other.Start && r.End() >= other.End()
}

// ContainsTime reports whether the time point t falls within the range.
func (r TimeRange) ContainsTime(t float64) bool {
	return t >= r.Start && t < r.End()
}

// Quantize snaps the start of the range to the nearest multiple of the grid
// duration at the given BPM. The length is left as it is; only the start
// moves onto the grid.
func (r TimeRange) Quantize(grid QuantizeGrid, bpm float64) (TimeRange, error) {
	step, err := grid.TimeValue(bpm)
	if err != nil {
		return TimeRange{}, err
	}
	start := math.Round(r.Start/step) * step
	if start < 0 {
		start = 0
	}
	return TimeRange{Start: start, Length: r.Length}, nil
}
