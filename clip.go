package stave

import (
	"time"

	"github.com/google/uuid"
)

// ClipID identifies a Clip within the track that owns it.
type ClipID string

func newClipID() ClipID { return ClipID(uuid.NewString()) }

// ClipType tags the two kinds of clip. A Clip carries exactly one of the
// Audio and Midi payloads, selected by this tag; type-specific behavior
// switches on it instead of downcasting.
type ClipType int

const (
	ClipAudio ClipType = iota
	ClipMidi
)

func (t ClipType) String() string {
	switch t {
	case ClipAudio:
		return "audio"
	case ClipMidi:
		return "midi"
	}
	return "unknown"
}

// Clip is a named, timed region on a track, holding either a reference to an
// audio source or a collection of MIDI notes. The shared range and metadata
// live here; the type-specific payload lives in Audio or Midi, exactly one
// of which is non-nil.
type Clip struct {
	ID        ClipID        `yaml:"id" json:"id"`
	Type      ClipType      `yaml:"type" json:"type"`
	Range     TimeRange     `yaml:"range" json:"range"`
	Name      string        `yaml:"name" json:"name"`
	Tags      []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt time.Time     `yaml:"createdAt" json:"createdAt"`
	UpdatedAt time.Time     `yaml:"updatedAt" json:"updatedAt"`
	Audio     *AudioClipData `yaml:"audio,omitempty" json:"audio,omitempty"`
	Midi      *MidiClipData  `yaml:"midi,omitempty" json:"midi,omitempty"`
}

// NewAudioClip returns an audio clip with unity gain and no fades.
func NewAudioClip(name string, r TimeRange, source AudioSourceRef) (*Clip, error) {
	if _, err := NewTimeRange(r.Start, r.Length); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Clip{
		ID:        newClipID(),
		Type:      ClipAudio,
		Range:     r,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Audio:     &AudioClipData{Source: source, Gain: 1},
	}, nil
}

// NewMidiClip returns an empty MIDI clip for the given instrument.
func NewMidiClip(name string, r TimeRange, instrument InstrumentRef) (*Clip, error) {
	if _, err := NewTimeRange(r.Start, r.Length); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Clip{
		ID:        newClipID(),
		Type:      ClipMidi,
		Range:     r,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Midi:      &MidiClipData{Instrument: instrument, Notes: map[NoteID]MidiNote{}},
	}, nil
}

func (c *Clip) touch() { c.UpdatedAt = time.Now() }

// MoveToRange replaces the clip's range after validating it. Contained notes
// are not moved; the owning aggregate decides whether to shift them.
func (c *Clip) MoveToRange(r TimeRange) error {
	if _, err := NewTimeRange(r.Start, r.Length); err != nil {
		return err
	}
	c.Range = r
	c.touch()
	return nil
}

// Intersects reports whether the two clips' ranges overlap.
func (c *Clip) Intersects(other *Clip) bool {
	return c.Range.Intersects(other.Range)
}

// ContainsTime reports whether the time point falls within the clip.
func (c *Clip) ContainsTime(t float64) bool {
	return c.Range.ContainsTime(t)
}

// Clone returns a deep copy of the clip with a fresh clip id and, for MIDI
// clips, fresh note ids. Used for duplication and undo snapshots by the
// owning aggregate.
func (c *Clip) Clone() *Clip {
	now := time.Now()
	clone := &Clip{
		ID:        newClipID(),
		Type:      c.Type,
		Range:     c.Range,
		Name:      c.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(c.Tags) > 0 {
		clone.Tags = append([]string(nil), c.Tags...)
	}
	if c.Audio != nil {
		audio := *c.Audio
		if len(c.Audio.Source.Buffer) > 0 {
			audio.Source.Buffer = append([]byte(nil), c.Audio.Source.Buffer...)
		}
		clone.Audio = &audio
	}
	if c.Midi != nil {
		notes := make(map[NoteID]MidiNote, len(c.Midi.Notes))
		for _, n := range c.Midi.Notes {
			n.ID = newNoteID()
			notes[n.ID] = n
		}
		clone.Midi = &MidiClipData{
			Instrument: c.Midi.Instrument,
			Notes:      notes,
			Velocity:   c.Midi.Velocity,
		}
	}
	return clone
}
