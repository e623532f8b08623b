// Package repo defines the clip persistence interface the arrangement core
// queries for cross-aggregate lookups, plus an in-memory implementation for
// tests and single-process use. The sqlite subpackage provides a durable
// implementation.
package repo

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jkivinie/stave"
)

// ClipRepository stores clips keyed by id, associated with the track that
// owns them. Range queries use the same half-open interval semantics as
// stave.TimeRange.
type ClipRepository interface {
	FindByID(id stave.ClipID) (*stave.Clip, error)
	Save(trackID stave.TrackID, clip *stave.Clip) error
	Delete(id stave.ClipID) error
	FindByTrackID(trackID stave.TrackID) ([]*stave.Clip, error)
	// FindInTimeRange returns clips fully contained in r, across tracks.
	FindInTimeRange(r stave.TimeRange) ([]*stave.Clip, error)
	// FindOverlapping returns clips intersecting r, across tracks.
	FindOverlapping(r stave.TimeRange) ([]*stave.Clip, error)
	DeleteByTrackID(trackID stave.TrackID) error
}

type memoryEntry struct {
	trackID stave.TrackID
	clip    *stave.Clip
}

// Memory is a mutex-guarded in-memory ClipRepository.
type Memory struct {
	mu    sync.RWMutex
	clips map[stave.ClipID]memoryEntry
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{clips: map[stave.ClipID]memoryEntry{}}
}

func (m *Memory) FindByID(id stave.ClipID) (*stave.Clip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.clips[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stave.ErrClipNotFound, id)
	}
	return entry.clip, nil
}

func (m *Memory) Save(trackID stave.TrackID, clip *stave.Clip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clips[clip.ID] = memoryEntry{trackID: trackID, clip: clip}
	return nil
}

func (m *Memory) Delete(id stave.ClipID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clips[id]; !ok {
		return fmt.Errorf("%w: %s", stave.ErrClipNotFound, id)
	}
	delete(m.clips, id)
	return nil
}

func (m *Memory) FindByTrackID(trackID stave.TrackID) ([]*stave.Clip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(e memoryEntry) bool { return e.trackID == trackID }), nil
}

func (m *Memory) FindInTimeRange(r stave.TimeRange) ([]*stave.Clip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(e memoryEntry) bool { return r.Contains(e.clip.Range) }), nil
}

func (m *Memory) FindOverlapping(r stave.TimeRange) ([]*stave.Clip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(e memoryEntry) bool { return r.Intersects(e.clip.Range) }), nil
}

func (m *Memory) DeleteByTrackID(trackID stave.TrackID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.clips {
		if entry.trackID == trackID {
			delete(m.clips, id)
		}
	}
	return nil
}

func (m *Memory) collect(match func(memoryEntry) bool) []*stave.Clip {
	var clips []*stave.Clip
	for _, entry := range m.clips {
		if match(entry) {
			clips = append(clips, entry.clip)
		}
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].Range.Start < clips[j].Range.Start })
	return clips
}
