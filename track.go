package stave

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// TrackID identifies a Track within an Arrangement.
type TrackID string

// Track owns a set of non-overlapping clips on the timeline. All mutation
// goes through the Track API so the no-overlap invariant holds; callers are
// expected to mutate a track from one goroutine at a time.
type Track struct {
	ID    TrackID          `yaml:"id" json:"id"`
	Name  string           `yaml:"name" json:"name"`
	Clips map[ClipID]*Clip `yaml:"clips" json:"clips"`
}

// NewTrack returns an empty track.
func NewTrack(name string) *Track {
	return &Track{
		ID:    TrackID(uuid.NewString()),
		Name:  name,
		Clips: map[ClipID]*Clip{},
	}
}

// AddClip inserts a clip, rejecting it if it overlaps any clip already on
// the track.
func (t *Track) AddClip(c *Clip) error {
	if err := t.checkOverlap(c.Range, c.ID); err != nil {
		return err
	}
	t.Clips[c.ID] = c
	return nil
}

// RemoveClip deletes the clip with the given id.
func (t *Track) RemoveClip(id ClipID) error {
	if _, ok := t.Clips[id]; !ok {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	delete(t.Clips, id)
	return nil
}

// Clip returns the clip with the given id.
func (t *Track) Clip(id ClipID) (*Clip, error) {
	c, ok := t.Clips[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	return c, nil
}

// MoveClip moves a clip to a new range, re-checking overlap against the
// other clips on the track before committing the move.
func (t *Track) MoveClip(id ClipID, r TimeRange) error {
	c, ok := t.Clips[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	if _, err := NewTimeRange(r.Start, r.Length); err != nil {
		return err
	}
	if err := t.checkOverlap(r, id); err != nil {
		return err
	}
	return c.MoveToRange(r)
}

// ClipsInRange returns the clips intersecting the given range, ordered by
// start time.
func (t *Track) ClipsInRange(r TimeRange) []*Clip {
	var clips []*Clip
	for _, c := range t.Clips {
		if c.Range.Intersects(r) {
			clips = append(clips, c)
		}
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].Range.Start < clips[j].Range.Start })
	return clips
}

// SortedClips returns all clips on the track ordered by start time.
func (t *Track) SortedClips() []*Clip {
	clips := make([]*Clip, 0, len(t.Clips))
	for _, c := range t.Clips {
		clips = append(clips, c)
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].Range.Start < clips[j].Range.Start })
	return clips
}

// Copy makes a deep copy of the track, keeping clip and note identities.
// Unlike Clip.Clone, this is a snapshot, not a duplicate.
func (t *Track) Copy() *Track {
	clips := make(map[ClipID]*Clip, len(t.Clips))
	for id, c := range t.Clips {
		cc := *c
		if len(c.Tags) > 0 {
			cc.Tags = append([]string(nil), c.Tags...)
		}
		if c.Audio != nil {
			audio := *c.Audio
			if len(c.Audio.Source.Buffer) > 0 {
				audio.Source.Buffer = append([]byte(nil), c.Audio.Source.Buffer...)
			}
			cc.Audio = &audio
		}
		if c.Midi != nil {
			notes := make(map[NoteID]MidiNote, len(c.Midi.Notes))
			for nid, n := range c.Midi.Notes {
				notes[nid] = n
			}
			midi := *c.Midi
			midi.Notes = notes
			cc.Midi = &midi
		}
		clips[id] = &cc
	}
	return &Track{ID: t.ID, Name: t.Name, Clips: clips}
}

func (t *Track) checkOverlap(r TimeRange, exclude ClipID) error {
	for id, existing := range t.Clips {
		if id == exclude {
			continue
		}
		if existing.Range.Intersects(r) {
			return fmt.Errorf("%w: %v..%v hits clip %s", ErrClipOverlap, r.Start, r.End(), id)
		}
	}
	return nil
}
