package stave_test

import (
	"errors"
	"testing"

	"github.com/jkivinie/stave"
)

func newMidiClip(t *testing.T, start, length float64) *stave.Clip {
	t.Helper()
	c, err := stave.NewMidiClip("keys", mustRange(t, start, length),
		stave.InstrumentRef{Kind: stave.InstrumentSynth, InstrumentID: "syn-1", Name: "Lead"})
	if err != nil {
		t.Fatalf("NewMidiClip failed: %v", err)
	}
	return c
}

func addNote(t *testing.T, c *stave.Clip, pitch int, start, length float64) stave.MidiNote {
	t.Helper()
	n, err := stave.NewMidiNote(pitch, 100, mustRange(t, start, length))
	if err != nil {
		t.Fatalf("NewMidiNote failed: %v", err)
	}
	if err := c.AddNote(n); err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}
	return n
}

func TestAddNoteContainment(t *testing.T) {
	c := newMidiClip(t, 0, 4)
	n, _ := stave.NewMidiNote(60, 100, mustRange(t, 3, 2))
	if err := c.AddNote(n); !errors.Is(err, stave.ErrNoteOutsideClip) {
		t.Errorf("AddNote outside clip error = %v, want ErrNoteOutsideClip", err)
	}
	if c.NoteCount() != 0 {
		t.Errorf("failed insert must not leave partial state")
	}
}

func TestAddNoteOverlap(t *testing.T) {
	c := newMidiClip(t, 0, 4)
	addNote(t, c, 60, 0, 2)
	overlapping, _ := stave.NewMidiNote(60, 80, mustRange(t, 1, 2))
	if err := c.AddNote(overlapping); !errors.Is(err, stave.ErrNoteOverlap) {
		t.Errorf("same-pitch overlap error = %v, want ErrNoteOverlap", err)
	}
	// Different pitch with the same range is fine.
	other, _ := stave.NewMidiNote(64, 80, mustRange(t, 0, 2))
	if err := c.AddNote(other); err != nil {
		t.Errorf("different-pitch overlap should succeed, got %v", err)
	}
	// Back to back notes of the same pitch do not overlap.
	adjacent, _ := stave.NewMidiNote(60, 80, mustRange(t, 2, 1))
	if err := c.AddNote(adjacent); err != nil {
		t.Errorf("touching notes should succeed, got %v", err)
	}
}

func TestUpdateNote(t *testing.T) {
	c := newMidiClip(t, 0, 4)
	n := addNote(t, c, 60, 0, 1)

	// The overlap scan must not collide with the note being replaced.
	replacement, _ := stave.NewMidiNote(60, 90, mustRange(t, 0.5, 1))
	if err := c.UpdateNote(n.ID, replacement); err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}
	if _, err := c.Note(n.ID); !errors.Is(err, stave.ErrNoteNotFound) {
		t.Errorf("old note id should be gone")
	}
	got, err := c.Note(replacement.ID)
	if err != nil {
		t.Fatalf("replacement not found: %v", err)
	}
	if got.Velocity != 90 {
		t.Errorf("velocity = %d, want 90", got.Velocity)
	}
	if err := c.UpdateNote("missing", replacement); !errors.Is(err, stave.ErrNoteNotFound) {
		t.Errorf("UpdateNote on missing id error = %v, want ErrNoteNotFound", err)
	}
}

func TestRemoveNote(t *testing.T) {
	c := newMidiClip(t, 0, 4)
	n := addNote(t, c, 60, 0, 1)
	if err := c.RemoveNote(n.ID); err != nil {
		t.Fatalf("RemoveNote failed: %v", err)
	}
	if err := c.RemoveNote(n.ID); !errors.Is(err, stave.ErrNoteNotFound) {
		t.Errorf("double remove error = %v, want ErrNoteNotFound", err)
	}
}

func TestQuantizeAndTransposeNotes(t *testing.T) {
	// The end case from the editor: a note on the grid stays put under
	// quantize, and transposing up an octave yields pitch 72 with the same
	// range but a new identity.
	c := newMidiClip(t, 0, 4)
	n := addNote(t, c, 60, 0, 1)

	if err := c.QuantizeNotes(stave.NewQuantizeGrid(stave.GridQuarter), 120); err != nil {
		t.Fatalf("QuantizeNotes failed: %v", err)
	}
	notes := c.SortedNotes()
	if len(notes) != 1 {
		t.Fatalf("note count = %d, want 1", len(notes))
	}
	if notes[0].Range.Start != 0 {
		t.Errorf("on-grid note moved to %v", notes[0].Range.Start)
	}

	if err := c.TransposeNotes(12); err != nil {
		t.Fatalf("TransposeNotes failed: %v", err)
	}
	notes = c.SortedNotes()
	if notes[0].Pitch != 72 {
		t.Errorf("pitch = %d, want 72", notes[0].Pitch)
	}
	if notes[0].Range != n.Range {
		t.Errorf("transpose should keep the range")
	}
	if notes[0].ID == n.ID {
		t.Errorf("bulk transpose must mint fresh note ids")
	}
}

func TestClipClone(t *testing.T) {
	c := newMidiClip(t, 0, 4)
	n := addNote(t, c, 60, 0, 1)
	clone := c.Clone()
	if clone.ID == c.ID {
		t.Errorf("clone must get a fresh clip id")
	}
	if clone.NoteCount() != 1 {
		t.Fatalf("clone note count = %d, want 1", clone.NoteCount())
	}
	if _, err := clone.Note(n.ID); !errors.Is(err, stave.ErrNoteNotFound) {
		t.Errorf("clone must mint fresh note ids")
	}
	// Mutating the clone must not touch the original.
	cloneNotes := clone.SortedNotes()
	if err := clone.RemoveNote(cloneNotes[0].ID); err != nil {
		t.Fatalf("RemoveNote on clone failed: %v", err)
	}
	if c.NoteCount() != 1 {
		t.Errorf("clone mutation leaked into the original")
	}
}

func TestMoveToRange(t *testing.T) {
	c := newMidiClip(t, 0, 4)
	before := c.UpdatedAt
	if err := c.MoveToRange(mustRange(t, 8, 4)); err != nil {
		t.Fatalf("MoveToRange failed: %v", err)
	}
	if c.Range.Start != 8 {
		t.Errorf("range start = %v, want 8", c.Range.Start)
	}
	if c.UpdatedAt.Before(before) {
		t.Errorf("MoveToRange should bump UpdatedAt")
	}
	if err := c.MoveToRange(stave.TimeRange{Start: -1, Length: 4}); !errors.Is(err, stave.ErrInvalidTimeRange) {
		t.Errorf("invalid range error = %v, want ErrInvalidTimeRange", err)
	}
}
