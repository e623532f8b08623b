// Package smf renders MIDI clips to Standard MIDI Files, so arrangements
// can be taken into any DAW. Note ranges are converted from seconds to
// metric ticks at the arrangement tempo.
package smf

import (
	"fmt"
	"io"
	"math"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/jkivinie/stave"
)

const ticksPerQuarter = 960

type timedMessage struct {
	tick uint32
	off  bool // note-offs sort before note-ons at the same tick
	msg  midi.Message
}

// WriteClip renders one MIDI clip as a single-track SMF at the given tempo.
// Note times are relative to the clip start.
func WriteClip(w io.Writer, clip *stave.Clip, bpm float64) error {
	if clip.Midi == nil {
		return stave.ErrNotMidiClip
	}
	if bpm <= 0 {
		return fmt.Errorf("%w: %v", stave.ErrInvalidBPM, bpm)
	}
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerQuarter)
	tr, err := clipTrack(clip, bpm, clip.Range.Start)
	if err != nil {
		return err
	}
	if err := s.Add(tr); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write smf: %w", err)
	}
	return nil
}

// WriteArrangement renders every track of the arrangement into one SMF,
// one MIDI file track per arrangement track. Audio clips are skipped. Note
// times are absolute on the arrangement timeline.
func WriteArrangement(w io.Writer, arr *stave.Arrangement) error {
	if err := arr.Validate(); err != nil {
		return err
	}
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerQuarter)
	for _, t := range arr.Tracks {
		tr, err := arrangementTrack(t, arr.BPM)
		if err != nil {
			return err
		}
		if err := s.Add(tr); err != nil {
			return fmt.Errorf("add track %s: %w", t.Name, err)
		}
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write smf: %w", err)
	}
	return nil
}

func clipTrack(clip *stave.Clip, bpm, origin float64) (smf.Track, error) {
	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(clip.Name))
	tr.Add(0, smf.MetaTempo(bpm))
	emitTrack(&tr, clipMessages(clip, bpm, origin, nil))
	tr.Close(0)
	return tr, nil
}

func arrangementTrack(t *stave.Track, bpm float64) (smf.Track, error) {
	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(t.Name))
	tr.Add(0, smf.MetaTempo(bpm))
	var msgs []timedMessage
	for _, clip := range t.SortedClips() {
		if clip.Midi == nil {
			continue
		}
		msgs = clipMessages(clip, bpm, 0, msgs)
	}
	emitTrack(&tr, msgs)
	tr.Close(0)
	return tr, nil
}

// clipMessages appends the note on/off pairs of a clip to msgs, with times
// measured from origin seconds.
func clipMessages(clip *stave.Clip, bpm, origin float64, msgs []timedMessage) []timedMessage {
	for _, n := range clip.SortedNotes() {
		on := secondsToTicks(n.Range.Start-origin, bpm)
		off := secondsToTicks(n.Range.End()-origin, bpm)
		if off <= on {
			off = on + 1
		}
		msgs = append(msgs,
			timedMessage{tick: on, msg: midi.NoteOn(0, uint8(n.Pitch), uint8(n.Velocity))},
			timedMessage{tick: off, off: true, msg: midi.NoteOff(0, uint8(n.Pitch))},
		)
	}
	return msgs
}

// emitTrack sorts the messages chronologically and adds them with delta
// times. Insertion sort keeps it simple; clips hold modest note counts.
func emitTrack(tr *smf.Track, msgs []timedMessage) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && less(msgs[j], msgs[j-1]); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
	var last uint32
	for _, m := range msgs {
		tr.Add(m.tick-last, m.msg)
		last = m.tick
	}
}

func less(a, b timedMessage) bool {
	if a.tick != b.tick {
		return a.tick < b.tick
	}
	return a.off && !b.off
}

func secondsToTicks(seconds, bpm float64) uint32 {
	if seconds < 0 {
		seconds = 0
	}
	beats := seconds * bpm / 60
	return uint32(math.Round(beats * ticksPerQuarter))
}
