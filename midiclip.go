package stave

import (
	"fmt"
	"sort"
)

// InstrumentKind enumerates the instrument backends a MIDI clip can target.
type InstrumentKind int

const (
	InstrumentSynth InstrumentKind = iota
	InstrumentSampler
	InstrumentPlugin
)

func (k InstrumentKind) String() string {
	switch k {
	case InstrumentSynth:
		return "synth"
	case InstrumentSampler:
		return "sampler"
	case InstrumentPlugin:
		return "plugin"
	}
	return "unknown"
}

// InstrumentRef points a MIDI clip at the instrument that should play it.
type InstrumentRef struct {
	Kind         InstrumentKind `yaml:"kind" json:"kind"`
	InstrumentID string         `yaml:"instrumentId" json:"instrumentId"`
	Name         string         `yaml:"name" json:"name"`
	PresetID     string         `yaml:"presetId,omitempty" json:"presetId,omitempty"`
}

// MidiClipData is the MIDI-specific payload of a Clip: the instrument
// reference and the notes, keyed by note id. Two invariants hold for Notes:
// every note's range is contained in the clip's range, and no two notes of
// the same pitch intersect.
type MidiClipData struct {
	Instrument InstrumentRef       `yaml:"instrument" json:"instrument"`
	Notes      map[NoteID]MidiNote `yaml:"notes" json:"notes"`
	Velocity   int                 `yaml:"velocity,omitempty" json:"velocity,omitempty"`
}

// AddNote inserts a note, checking containment in the clip range and overlap
// against existing notes of the same pitch. The check is an O(n) scan over
// the current notes, which is fine for per-clip note counts.
func (c *Clip) AddNote(n MidiNote) error {
	if c.Midi == nil {
		return ErrNotMidiClip
	}
	if err := c.validateNote(n, ""); err != nil {
		return err
	}
	c.Midi.Notes[n.ID] = n
	c.touch()
	return nil
}

// RemoveNote deletes the note with the given id.
func (c *Clip) RemoveNote(id NoteID) error {
	if c.Midi == nil {
		return ErrNotMidiClip
	}
	if _, ok := c.Midi.Notes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	delete(c.Midi.Notes, id)
	c.touch()
	return nil
}

// UpdateNote replaces the note with the given id by a new note. Containment
// and overlap are re-validated, with the replaced note excluded from the
// overlap scan.
func (c *Clip) UpdateNote(id NoteID, n MidiNote) error {
	if c.Midi == nil {
		return ErrNotMidiClip
	}
	if _, ok := c.Midi.Notes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	if err := c.validateNote(n, id); err != nil {
		return err
	}
	delete(c.Midi.Notes, id)
	c.Midi.Notes[n.ID] = n
	c.touch()
	return nil
}

// Note returns the note with the given id.
func (c *Clip) Note(id NoteID) (MidiNote, error) {
	if c.Midi == nil {
		return MidiNote{}, ErrNotMidiClip
	}
	n, ok := c.Midi.Notes[id]
	if !ok {
		return MidiNote{}, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	return n, nil
}

// NoteCount returns the number of notes in the clip, 0 for audio clips.
func (c *Clip) NoteCount() int {
	if c.Midi == nil {
		return 0
	}
	return len(c.Midi.Notes)
}

// SortedNotes returns the notes ordered by start time, then pitch. Used
// wherever deterministic iteration matters, e.g. serialization and MIDI
// file export.
func (c *Clip) SortedNotes() []MidiNote {
	if c.Midi == nil {
		return nil
	}
	notes := make([]MidiNote, 0, len(c.Midi.Notes))
	for _, n := range c.Midi.Notes {
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Range.Start != notes[j].Range.Start {
			return notes[i].Range.Start < notes[j].Range.Start
		}
		return notes[i].Pitch < notes[j].Pitch
	})
	return notes
}

// QuantizeNotes snaps every note's start to the grid, replacing the whole
// note map at once so external observers never see a half-quantized clip.
// Each replacement note has a fresh id.
func (c *Clip) QuantizeNotes(grid QuantizeGrid, bpm float64) error {
	if c.Midi == nil {
		return ErrNotMidiClip
	}
	quantized := make(map[NoteID]MidiNote, len(c.Midi.Notes))
	for _, n := range c.Midi.Notes {
		q, err := n.Quantize(grid, bpm)
		if err != nil {
			return err
		}
		quantized[q.ID] = q
	}
	c.Midi.Notes = quantized
	c.touch()
	return nil
}

// TransposeNotes shifts every note by the given number of semitones,
// clamping to the MIDI range, replacing the whole note map at once. Each
// replacement note has a fresh id.
func (c *Clip) TransposeNotes(semitones int) error {
	if c.Midi == nil {
		return ErrNotMidiClip
	}
	transposed := make(map[NoteID]MidiNote, len(c.Midi.Notes))
	for _, n := range c.Midi.Notes {
		t := n.Transpose(semitones)
		transposed[t.ID] = t
	}
	c.Midi.Notes = transposed
	c.touch()
	return nil
}

// validateNote checks containment and same-pitch overlap for a note about to
// be inserted. exclude names a note id to skip in the overlap scan, so that
// updating a note does not collide with itself.
func (c *Clip) validateNote(n MidiNote, exclude NoteID) error {
	if !c.Range.Contains(n.Range) {
		return fmt.Errorf("%w: note %v..%v, clip %v..%v",
			ErrNoteOutsideClip, n.Range.Start, n.Range.End(), c.Range.Start, c.Range.End())
	}
	for id, existing := range c.Midi.Notes {
		if id == exclude {
			continue
		}
		if existing.Pitch == n.Pitch && existing.Range.Intersects(n.Range) {
			return fmt.Errorf("%w: pitch %d at %v..%v", ErrNoteOverlap, n.Pitch, n.Range.Start, n.Range.End())
		}
	}
	return nil
}
