package stave

import (
	"fmt"

	"github.com/google/uuid"
)

// NoteID identifies a MidiNote within the clip that owns it.
type NoteID string

func newNoteID() NoteID { return NoteID(uuid.NewString()) }

// MidiNote is a pitched, timed event owned by a MidiClip. Notes are never
// mutated; Transpose and Quantize return a replacement note with a fresh
// identity, and the owning clip swaps it in.
type MidiNote struct {
	ID       NoteID    `yaml:"id" json:"id"`
	Pitch    int       `yaml:"pitch" json:"pitch"`
	Velocity int       `yaml:"velocity" json:"velocity"`
	Range    TimeRange `yaml:"range" json:"range"`
}

// NewMidiNote returns a note with a fresh id, checking that pitch and
// velocity are valid MIDI values.
func NewMidiNote(pitch, velocity int, r TimeRange) (MidiNote, error) {
	if pitch < 0 || pitch > 127 {
		return MidiNote{}, fmt.Errorf("%w: %d", ErrInvalidPitch, pitch)
	}
	if velocity < 0 || velocity > 127 {
		return MidiNote{}, fmt.Errorf("%w: %d", ErrInvalidVelocity, velocity)
	}
	return MidiNote{ID: newNoteID(), Pitch: pitch, Velocity: velocity, Range: r}, nil
}

// Transpose returns a new note shifted by the given number of semitones,
// clamping the result to 0..127. The returned note has a fresh id.
func (n MidiNote) Transpose(semitones int) MidiNote {
	pitch := n.Pitch + semitones
	if pitch < 0 {
		pitch = 0
	}
	if pitch > 127 {
		pitch = 127
	}
	return MidiNote{ID: newNoteID(), Pitch: pitch, Velocity: n.Velocity, Range: n.Range}
}

// Quantize returns a new note with its range start snapped to the grid. The
// returned note has a fresh id.
func (n MidiNote) Quantize(grid QuantizeGrid, bpm float64) (MidiNote, error) {
	r, err := n.Range.Quantize(grid, bpm)
	if err != nil {
		return MidiNote{}, err
	}
	return MidiNote{ID: newNoteID(), Pitch: n.Pitch, Velocity: n.Velocity, Range: r}, nil
}
