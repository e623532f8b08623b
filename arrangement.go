package stave

import (
	"fmt"
	"io"

	yamlv2 "gopkg.in/yaml.v2"
	"gopkg.in/yaml.v3"
)

// Arrangement is the top-level aggregate saved to and loaded from project
// files: a tempo plus the tracks with their clips. The collaboration layer
// ships individual clip operations; the arrangement is what a client loads
// at startup and what the export tools consume.
type Arrangement struct {
	Name   string   `yaml:"name" json:"name"`
	BPM    float64  `yaml:"bpm" json:"bpm"`
	Tracks []*Track `yaml:"tracks" json:"tracks"`
}

// NewArrangement returns an empty arrangement at the given tempo.
func NewArrangement(name string, bpm float64) (*Arrangement, error) {
	if bpm <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBPM, bpm)
	}
	return &Arrangement{Name: name, BPM: bpm}, nil
}

// Track returns the track with the given id.
func (a *Arrangement) Track(id TrackID) (*Track, error) {
	for _, t := range a.Tracks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
}

// AddTrack appends a track to the arrangement.
func (a *Arrangement) AddTrack(t *Track) {
	a.Tracks = append(a.Tracks, t)
}

// Validate re-checks every invariant of the arrangement: tempo, clip
// ranges, per-track clip overlap and per-clip note containment/overlap.
// Called after deserialization, since a file may contain anything.
func (a *Arrangement) Validate() error {
	if a.BPM <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidBPM, a.BPM)
	}
	for _, t := range a.Tracks {
		clips := t.SortedClips()
		for i, c := range clips {
			if _, err := NewTimeRange(c.Range.Start, c.Range.Length); err != nil {
				return fmt.Errorf("track %s clip %s: %w", t.ID, c.ID, err)
			}
			if i > 0 && clips[i-1].Range.Intersects(c.Range) {
				return fmt.Errorf("track %s: %w: clips %s and %s", t.ID, ErrClipOverlap, clips[i-1].ID, c.ID)
			}
			if err := validateClipNotes(c); err != nil {
				return fmt.Errorf("track %s clip %s: %w", t.ID, c.ID, err)
			}
		}
	}
	return nil
}

func validateClipNotes(c *Clip) error {
	if c.Midi == nil {
		return nil
	}
	notes := c.SortedNotes()
	for i, n := range notes {
		if n.Pitch < 0 || n.Pitch > 127 {
			return fmt.Errorf("%w: %d", ErrInvalidPitch, n.Pitch)
		}
		if n.Velocity < 0 || n.Velocity > 127 {
			return fmt.Errorf("%w: %d", ErrInvalidVelocity, n.Velocity)
		}
		if !c.Range.Contains(n.Range) {
			return fmt.Errorf("%w: note %s", ErrNoteOutsideClip, n.ID)
		}
		for _, m := range notes[i+1:] {
			if m.Pitch == n.Pitch && m.Range.Intersects(n.Range) {
				return fmt.Errorf("%w: notes %s and %s", ErrNoteOverlap, n.ID, m.ID)
			}
		}
	}
	return nil
}

// Write serializes the arrangement as YAML.
func (a *Arrangement) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}
	return nil
}

// ReadArrangement deserializes an arrangement from YAML and validates it.
func ReadArrangement(r io.Reader) (*Arrangement, error) {
	var a Arrangement
	if err := yaml.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// ParseArrangementStrict parses an arrangement, rejecting unknown fields.
// Used for template files where a typo should be an error rather than
// silently dropped data.
func ParseArrangementStrict(data []byte) (*Arrangement, error) {
	var a Arrangement
	if err := yamlv2.UnmarshalStrict(data, &a); err != nil {
		return nil, fmt.Errorf("yaml strict decode: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
