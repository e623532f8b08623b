package stave

import "fmt"

// GridKind enumerates the musical subdivisions a QuantizeGrid can snap to.
type GridKind int

const (
	GridWhole GridKind = iota
	GridHalf
	GridQuarter
	GridEighth
	GridSixteenth
	GridThirtySecond
	GridTripletQuarter
	GridTripletEighth
	GridTripletSixteenth
)

func (k GridKind) String() string {
	switch k {
	case GridWhole:
		return "1/1"
	case GridHalf:
		return "1/2"
	case GridQuarter:
		return "1/4"
	case GridEighth:
		return "1/8"
	case GridSixteenth:
		return "1/16"
	case GridThirtySecond:
		return "1/32"
	case GridTripletQuarter:
		return "1/4T"
	case GridTripletEighth:
		return "1/8T"
	case GridTripletSixteenth:
		return "1/16T"
	}
	return "unknown"
}

// QuantizeGrid is a musical grid used for snapping note and clip timing. The
// grid itself is tempo-agnostic; TimeValue converts it to seconds for a given
// BPM. Swing is stored for forward compatibility but does not yet affect the
// time value.
type QuantizeGrid struct {
	Kind  GridKind `yaml:"kind" json:"kind"`
	Swing *int     `yaml:"swing,omitempty" json:"swing,omitempty"`
}

// NewQuantizeGrid returns a straight grid of the given kind.
func NewQuantizeGrid(kind GridKind) QuantizeGrid {
	return QuantizeGrid{Kind: kind}
}

// WithSwing returns the grid with a swing amount in percent (0..100).
func (g QuantizeGrid) WithSwing(swing int) (QuantizeGrid, error) {
	if swing < 0 || swing > 100 {
		return QuantizeGrid{}, fmt.Errorf("swing %d out of range 0..100", swing)
	}
	g.Swing = &swing
	return g, nil
}

// TimeValue returns the duration of one grid step in seconds at the given
// tempo. Triplet kinds are 2/3 of the corresponding straight value.
func (g QuantizeGrid) TimeValue(bpm float64) (float64, error) {
	if bpm <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidBPM, bpm)
	}
	quarter := 60 / bpm
	switch g.Kind {
	case GridWhole:
		return quarter * 4, nil
	case GridHalf:
		return quarter * 2, nil
	case GridQuarter:
		return quarter, nil
	case GridEighth:
		return quarter / 2, nil
	case GridSixteenth:
		return quarter / 4, nil
	case GridThirtySecond:
		return quarter / 8, nil
	case GridTripletQuarter:
		return quarter * 2 / 3, nil
	case GridTripletEighth:
		return quarter / 3, nil
	case GridTripletSixteenth:
		return quarter / 6, nil
	}
	return 0, fmt.Errorf("unknown grid kind %d", g.Kind)
}
