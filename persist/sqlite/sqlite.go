// Package sqlite implements persist.Persister on an SQLite database, using
// the pure Go driver from modernc.org/sqlite. It is the server of record for
// local runs of the relay and for tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/persist"

	_ "modernc.org/sqlite"
)

// Store is a persist.Persister and persist.Loader backed by an SQLite file.
type Store struct {
	db *sql.DB
}

var (
	_ persist.Persister = (*Store)(nil)
	_ persist.Loader    = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	// modernc.org/sqlite registers itself as "sqlite"
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one connection: pragmas are per connection and writes are serialized
	// anyway
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	glog.V(1).Infof("[sqlite]opened %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			settings_json TEXT NOT NULL,
			chords_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			ord INTEGER NOT NULL,
			color TEXT NOT NULL,
			kind TEXT NOT NULL,
			muted INTEGER NOT NULL,
			solo INTEGER NOT NULL,
			volume REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			track_id TEXT NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			start_time REAL NOT NULL,
			duration REAL NOT NULL,
			src_offset REAL NOT NULL,
			source_duration REAL NOT NULL,
			loop_enabled INTEGER NOT NULL,
			playback_rate REAL NOT NULL,
			lick_id TEXT NOT NULL,
			chord_name TEXT NOT NULL,
			rhythm_pattern_id TEXT NOT NULL,
			is_customized INTEGER NOT NULL,
			midi_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_track ON items(track_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_project ON tracks(project_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveProject replaces the stored project with p.
func (s *Store) SaveProject(ctx context.Context, p riffline.Project) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, p.ID); err != nil {
			return err
		}
		settings, err := json.Marshal(p.Settings)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		chords, err := json.Marshal(p.Chords)
		if err != nil {
			return fmt.Errorf("encode chords: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id, settings_json, chords_json) VALUES(?, ?, ?)`, p.ID, string(settings), string(chords)); err != nil {
			return err
		}
		for _, t := range p.Tracks {
			if err := insertTrack(ctx, tx, p.ID, t); err != nil {
				return err
			}
		}
		for _, it := range p.Items {
			if err := insertItem(ctx, tx, p.ID, it); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadProject(ctx context.Context, projectID string) (riffline.Project, error) {
	p := riffline.Project{ID: projectID}
	var settings, chords string
	err := s.db.QueryRowContext(ctx, `SELECT settings_json, chords_json FROM projects WHERE id = ?`, projectID).Scan(&settings, &chords)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("project %s: %w", projectID, persist.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("load project %s: %w", projectID, err)
	}
	if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
		return p, fmt.Errorf("project %s settings: %w", projectID, err)
	}
	if err := json.Unmarshal([]byte(chords), &p.Chords); err != nil {
		return p, fmt.Errorf("project %s chords: %w", projectID, err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, ord, color, kind, muted, solo, volume FROM tracks WHERE project_id = ? ORDER BY ord, id`, projectID)
	if err != nil {
		return p, fmt.Errorf("load tracks: %w", err)
	}
	for rows.Next() {
		var t riffline.Track
		var muted, solo int
		if err := rows.Scan(&t.ID, &t.Order, &t.Color, &t.Kind, &muted, &solo, &t.Volume); err != nil {
			rows.Close()
			return p, fmt.Errorf("scan track: %w", err)
		}
		t.Muted, t.Solo = muted != 0, solo != 0
		p.Tracks = append(p.Tracks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return p, fmt.Errorf("load tracks: %w", err)
	}
	rows, err = s.db.QueryContext(ctx, `SELECT id, track_id, kind, start_time, duration, src_offset, source_duration, loop_enabled, playback_rate,
		lick_id, chord_name, rhythm_pattern_id, is_customized, midi_json FROM items WHERE project_id = ? ORDER BY track_id, start_time, id`, projectID)
	if err != nil {
		return p, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it riffline.Item
		var loop, customized int
		var midi string
		if err := rows.Scan(&it.ID, &it.TrackID, &it.Kind, &it.StartTime, &it.Duration, &it.Offset, &it.SourceDuration, &loop, &it.PlaybackRate,
			&it.LickID, &it.ChordName, &it.RhythmPatternID, &customized, &midi); err != nil {
			return p, fmt.Errorf("scan item: %w", err)
		}
		it.LoopEnabled, it.IsCustomized = loop != 0, customized != 0
		if err := json.Unmarshal([]byte(midi), &it.CustomMidiEvents); err != nil {
			return p, fmt.Errorf("item %s midi events: %w", it.ID, err)
		}
		p.Items = append(p.Items, it)
	}
	if err := rows.Err(); err != nil {
		return p, fmt.Errorf("load items: %w", err)
	}
	return p, nil
}

func (s *Store) BulkUpdateItems(ctx context.Context, projectID string, items []persist.ItemRecord) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, r := range items {
			res, err := tx.ExecContext(ctx, `UPDATE items SET start_time = ?, duration = ?, src_offset = ?, source_duration = ?, loop_enabled = ?, playback_rate = ?
				WHERE id = ? AND project_id = ?`,
				r.StartTime, r.Duration, r.Offset, r.SourceDuration, boolToInt(r.LoopEnabled), r.PlaybackRate, r.ID, projectID)
			if err != nil {
				return fmt.Errorf("update item %s: %w", r.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				glog.V(1).Infof("[sqlite]bulk update of unknown item %s", r.ID)
				continue
			}
			if r.Kind != riffline.ChordItem {
				continue
			}
			midi, err := json.Marshal(r.CustomMidiEvents)
			if err != nil {
				return fmt.Errorf("encode midi of %s: %w", r.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE items SET chord_name = ?, rhythm_pattern_id = ?, is_customized = ?, midi_json = ? WHERE id = ?`,
				r.ChordName, r.RhythmPatternID, boolToInt(r.IsCustomized), string(midi), r.ID); err != nil {
				return fmt.Errorf("update chord %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) AddItem(ctx context.Context, projectID string, it riffline.Item) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := ensureProject(ctx, tx, projectID); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks WHERE id = ? AND project_id = ?`, it.TrackID, projectID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("track %s: %w", it.TrackID, persist.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, it.ID); err != nil {
			return err
		}
		return insertItem(ctx, tx, projectID, it)
	})
}

func (s *Store) UpdateItem(ctx context.Context, projectID string, it riffline.Item) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ? AND project_id = ?`, it.ID, projectID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("item %s: %w", it.ID, persist.ErrNotFound)
		}
		return insertItem(ctx, tx, projectID, it)
	})
}

func (s *Store) DeleteItem(ctx context.Context, projectID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ? AND project_id = ?`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", id, persist.ErrNotFound)
	}
	return nil
}

func (s *Store) AddTrack(ctx context.Context, projectID string, t riffline.Track) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := ensureProject(ctx, tx, projectID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, t.ID); err != nil {
			return err
		}
		return insertTrack(ctx, tx, projectID, t)
	})
}

func (s *Store) UpdateTrack(ctx context.Context, projectID string, t riffline.Track) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tracks SET ord = ?, color = ?, kind = ?, muted = ?, solo = ?, volume = ? WHERE id = ? AND project_id = ?`,
		t.Order, t.Color, string(t.Kind), boolToInt(t.Muted), boolToInt(t.Solo), t.Volume, t.ID, projectID)
	if err != nil {
		return fmt.Errorf("update track %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("track %s: %w", t.ID, persist.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTrack(ctx context.Context, projectID, id string) error {
	// items go with the track: ON DELETE CASCADE
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ? AND project_id = ?`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete track %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("track %s: %w", id, persist.ErrNotFound)
	}
	return nil
}

func (s *Store) tx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureProject(ctx context.Context, tx *sql.Tx, projectID string) error {
	settings, err := json.Marshal(riffline.DefaultSettings())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO projects(id, settings_json, chords_json) VALUES(?, ?, '[]')`, projectID, string(settings))
	return err
}

func insertTrack(ctx context.Context, tx *sql.Tx, projectID string, t riffline.Track) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tracks(id, project_id, ord, color, kind, muted, solo, volume) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, projectID, t.Order, t.Color, string(t.Kind), boolToInt(t.Muted), boolToInt(t.Solo), t.Volume)
	if err != nil {
		return fmt.Errorf("insert track %s: %w", t.ID, err)
	}
	return nil
}

func insertItem(ctx context.Context, tx *sql.Tx, projectID string, it riffline.Item) error {
	midi, err := json.Marshal(it.CustomMidiEvents)
	if err != nil {
		return fmt.Errorf("encode midi of %s: %w", it.ID, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO items(id, project_id, track_id, kind, start_time, duration, src_offset, source_duration, loop_enabled, playback_rate,
		lick_id, chord_name, rhythm_pattern_id, is_customized, midi_json) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, projectID, it.TrackID, string(it.Kind), it.StartTime, it.Duration, it.Offset, it.SourceDuration, boolToInt(it.LoopEnabled), it.PlaybackRate,
		it.LickID, it.ChordName, it.RhythmPatternID, boolToInt(it.IsCustomized), string(midi))
	if err != nil {
		return fmt.Errorf("insert item %s: %w", it.ID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
