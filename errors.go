package stave

import "errors"

// Validation errors are returned synchronously by the call that would break
// an invariant; the receiver is never left partially mutated.
var (
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidBPM       = errors.New("invalid BPM")
	ErrInvalidPitch     = errors.New("MIDI pitch out of range 0..127")
	ErrInvalidVelocity  = errors.New("MIDI velocity out of range 0..127")
	ErrInvalidGain      = errors.New("gain cannot be negative")
	ErrInvalidFade      = errors.New("fade cannot be negative")
	ErrNoteOutsideClip  = errors.New("note range outside clip range")
	ErrNoteOverlap      = errors.New("note overlaps an existing note of the same pitch")
	ErrClipOverlap      = errors.New("clip overlaps an existing clip on the track")
)

// Lookup errors.
var (
	ErrNoteNotFound  = errors.New("MIDI note not found")
	ErrClipNotFound  = errors.New("clip not found")
	ErrTrackNotFound = errors.New("track not found")
)

// Type errors, returned when an audio operation is attempted on a MIDI clip
// or vice versa.
var (
	ErrNotAudioClip = errors.New("not an audio clip")
	ErrNotMidiClip  = errors.New("not a MIDI clip")
)
