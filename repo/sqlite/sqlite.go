// Package sqlite implements repo.ClipRepository on a SQLite database. The
// clip payload is stored as JSON; the range columns are duplicated out of
// the payload so the overlap and containment queries run in SQL.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jkivinie/stave"
	"github.com/jkivinie/stave/repo"
)

const schema = `
CREATE TABLE IF NOT EXISTS clips (
	id TEXT PRIMARY KEY,
	track_id TEXT NOT NULL,
	start REAL NOT NULL,
	length REAL NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clips_track ON clips(track_id);
CREATE INDEX IF NOT EXISTS idx_clips_start ON clips(start);
`

// Repository is a SQLite-backed ClipRepository.
type Repository struct {
	db *sql.DB
}

var _ repo.ClipRepository = (*Repository)(nil)

// Open opens (and if needed creates) the database at path. Use ":memory:"
// for an ephemeral database.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) FindByID(id stave.ClipID) (*stave.Clip, error) {
	var payload string
	err := r.db.QueryRow("SELECT payload FROM clips WHERE id = ?", string(id)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", stave.ErrClipNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query clip: %w", err)
	}
	return decodeClip(payload)
}

func (r *Repository) Save(trackID stave.TrackID, clip *stave.Clip) error {
	payload, err := json.Marshal(clip)
	if err != nil {
		return fmt.Errorf("marshal clip: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO clips (id, track_id, start, length, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET track_id=excluded.track_id, start=excluded.start,
			length=excluded.length, payload=excluded.payload`,
		string(clip.ID), string(trackID), clip.Range.Start, clip.Range.Length, string(payload))
	if err != nil {
		return fmt.Errorf("save clip: %w", err)
	}
	return nil
}

func (r *Repository) Delete(id stave.ClipID) error {
	res, err := r.db.Exec("DELETE FROM clips WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("delete clip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", stave.ErrClipNotFound, id)
	}
	return nil
}

func (r *Repository) FindByTrackID(trackID stave.TrackID) ([]*stave.Clip, error) {
	return r.query("SELECT payload FROM clips WHERE track_id = ? ORDER BY start", string(trackID))
}

func (r *Repository) FindInTimeRange(tr stave.TimeRange) ([]*stave.Clip, error) {
	return r.query("SELECT payload FROM clips WHERE start >= ? AND start + length <= ? ORDER BY start",
		tr.Start, tr.End())
}

func (r *Repository) FindOverlapping(tr stave.TimeRange) ([]*stave.Clip, error) {
	// Half-open intervals: touching endpoints do not overlap.
	return r.query("SELECT payload FROM clips WHERE start < ? AND start + length > ? ORDER BY start",
		tr.End(), tr.Start)
}

func (r *Repository) DeleteByTrackID(trackID stave.TrackID) error {
	if _, err := r.db.Exec("DELETE FROM clips WHERE track_id = ?", string(trackID)); err != nil {
		return fmt.Errorf("delete track clips: %w", err)
	}
	return nil
}

func (r *Repository) query(q string, args ...any) ([]*stave.Clip, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()
	var clips []*stave.Clip
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		clip, err := decodeClip(payload)
		if err != nil {
			return nil, err
		}
		clips = append(clips, clip)
	}
	return clips, rows.Err()
}

func decodeClip(payload string) (*stave.Clip, error) {
	var clip stave.Clip
	if err := json.Unmarshal([]byte(payload), &clip); err != nil {
		return nil, fmt.Errorf("unmarshal clip: %w", err)
	}
	return &clip, nil
}
