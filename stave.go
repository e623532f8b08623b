// Package stave is the timeline arrangement core of a collaborative
// audio/MIDI editor. It owns the musical-time arithmetic (TimeRange,
// QuantizeGrid), the clip and note aggregate model with its validation
// invariants, and the value types shared by the synchronization layer in
// the collab subpackage.
//
// The package renders nothing, produces no sound and persists nothing by
// itself: rendering, playback scheduling and storage consume this model
// through read-only data and the repo.ClipRepository interface.
package stave
