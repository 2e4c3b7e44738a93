package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run ID is not in the catalog.
var ErrRunNotFound = errors.New("run not found")

// Run is one playback run.
type Run struct {
	RunID         string        `json:"run_id"`
	Source        string        `json:"source"`
	Delay         time.Duration `json:"delay"`
	Policy        string        `json:"policy"`
	FrameTotal    int           `json:"frame_total"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
	FramesShown   int           `json:"frames_shown"`
	FramesSkipped int           `json:"frames_skipped"`
	StopReason    string        `json:"stop_reason,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Frame is one displayed or skipped frame of a run.
type Frame struct {
	RunID      string  `json:"run_id"`
	Index      int     `json:"frame_idx"`
	Path       string  `json:"path"`
	PointCount int     `json:"point_count"`
	LoadMS     float64 `json:"load_ms"`
	MinX       float64 `json:"min_x"`
	MinY       float64 `json:"min_y"`
	MinZ       float64 `json:"min_z"`
	MaxX       float64 `json:"max_x"`
	MaxY       float64 `json:"max_y"`
	MaxZ       float64 `json:"max_z"`
	Skipped    bool    `json:"skipped"`
	Error      string  `json:"error,omitempty"`
}

// InsertRun records the start of a run.
func (db *DB) InsertRun(r *Run) error {
	return retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO playback_runs (run_id, source, delay_ms, policy, frame_total, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Source, float64(r.Delay)/float64(time.Millisecond), r.Policy, r.FrameTotal, r.StartedAt.UnixNano(),
		)
		return err
	})
}

// FinishRun stores the outcome of a run.
func (db *DB) FinishRun(r *Run) error {
	return retryOnBusy(func() error {
		res, err := db.Exec(`
			UPDATE playback_runs
			SET finished_at = ?, frames_shown = ?, frames_skipped = ?, stop_reason = ?, error = ?
			WHERE run_id = ?`,
			r.FinishedAt.UnixNano(), r.FramesShown, r.FramesSkipped, r.StopReason, nullString(r.Error), r.RunID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, r.RunID)
		}
		return nil
	})
}

// InsertFrame records one frame of a run.
func (db *DB) InsertFrame(f *Frame) error {
	return retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO playback_frames (
				run_id, frame_idx, path, point_count, load_ms,
				min_x, min_y, min_z, max_x, max_y, max_z, skipped, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.RunID, f.Index, f.Path, f.PointCount, f.LoadMS,
			f.MinX, f.MinY, f.MinZ, f.MaxX, f.MaxY, f.MaxZ, f.Skipped, nullString(f.Error),
		)
		return err
	})
}

const runColumns = `run_id, source, delay_ms, policy, frame_total, started_at, finished_at,
		       frames_shown, frames_skipped, stop_reason, error`

// GetRun returns a single run by ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM playback_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM playback_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListFrames returns the frames of a run in index order.
func (db *DB) ListFrames(runID string) ([]Frame, error) {
	rows, err := db.Query(`
		SELECT run_id, frame_idx, path, point_count, load_ms,
		       min_x, min_y, min_z, max_x, max_y, max_z, skipped, error
		FROM playback_frames
		WHERE run_id = ?
		ORDER BY frame_idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var minX, minY, minZ, maxX, maxY, maxZ sql.NullFloat64
		var errStr sql.NullString
		if err := rows.Scan(&f.RunID, &f.Index, &f.Path, &f.PointCount, &f.LoadMS,
			&minX, &minY, &minZ, &maxX, &maxY, &maxZ, &f.Skipped, &errStr); err != nil {
			return nil, fmt.Errorf("scan frame row: %w", err)
		}
		f.MinX, f.MinY, f.MinZ = minX.Float64, minY.Float64, minZ.Float64
		f.MaxX, f.MaxY, f.MaxZ = maxX.Float64, maxY.Float64, maxZ.Float64
		f.Error = errStr.String
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var delayMS float64
	var startedAt int64
	var finishedAt sql.NullInt64
	var stopReason, errStr sql.NullString
	err := row.Scan(&r.RunID, &r.Source, &delayMS, &r.Policy, &r.FrameTotal, &startedAt, &finishedAt,
		&r.FramesShown, &r.FramesSkipped, &stopReason, &errStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	r.Delay = time.Duration(delayMS * float64(time.Millisecond))
	r.StartedAt = time.Unix(0, startedAt).UTC()
	if finishedAt.Valid {
		r.FinishedAt = time.Unix(0, finishedAt.Int64).UTC()
	}
	r.StopReason = stopReason.String
	r.Error = errStr.String
	return &r, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
