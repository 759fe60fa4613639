// Package manifest persists capture sessions, their frames and the files
// each session wrote in a SQLite database migrated from embedded SQL.
package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/geom"
	"github.com/banshee-data/splatcapture/internal/timeutil"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("manifest: session not found")

// Status is the lifecycle state of a session row.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Session is one capture run.
type Session struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	OutputDir   string     `json:"output_dir"`
	Convention  string     `json:"convention"`
	Format      string     `json:"format"`
	Trajectory  string     `json:"trajectory"`
	FrameCount  int        `json:"frame_count"`
	Bounds      *r3.Box    `json:"bounds,omitempty"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Version     string     `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FrameRecord is the persisted subset of a dataset.Frame.
type FrameRecord struct {
	SessionID string    `json:"session_id"`
	FrameID   uint32    `json:"frame_id"`
	ImageName string    `json:"image_name"`
	Timestamp time.Time `json:"timestamp"`
	Pose      geom.Pose `json:"pose"`
	HasDepth  bool      `json:"has_depth"`
}

// Store wraps the manifest database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	return OpenWithClock(path, timeutil.RealClock{})
}

// OpenWithClock is Open with an injected clock for created and completed
// timestamps.
func OpenWithClock(path string, clock timeutil.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	// PRAGMAs are per connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	s := &Store{db: db, clock: clock}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateSession inserts a running session. An empty ID is replaced by a
// new UUID and CreatedAt is stamped from the store clock.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	sess.CreatedAt = s.clock.Now()
	sess.Status = StatusRunning
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_sessions (
			session_id, name, output_dir, convention, format, trajectory,
			status, version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.OutputDir, sess.Convention, sess.Format, sess.Trajectory,
		string(sess.Status), sess.Version, sess.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// RecordFrame stores the pose and name of a written frame.
func (s *Store) RecordFrame(ctx context.Context, sessionID string, f dataset.Frame) error {
	q := f.Pose.Rotation
	hasDepth := 0
	if f.Depth != nil {
		hasDepth = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_frames (
			session_id, frame_id, image_name, timestamp,
			pos_x, pos_y, pos_z, qw, qx, qy, qz, has_depth
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, f.ID, f.Name, f.Timestamp.UnixNano(),
		f.Pose.Position.X, f.Pose.Position.Y, f.Pose.Position.Z,
		q.Real, q.Imag, q.Jmag, q.Kmag, hasDepth,
	)
	if err != nil {
		return fmt.Errorf("failed to record frame %d: %w", f.ID, err)
	}
	return nil
}

// RecordOutput stores a written file. Recording the same path twice keeps
// the latest size.
func (s *Store) RecordOutput(ctx context.Context, sessionID string, o dataset.Output) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_outputs (session_id, kind, path, bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, path) DO UPDATE SET kind = excluded.kind, bytes = excluded.bytes`,
		sessionID, o.Kind, o.Path, o.Bytes,
	)
	if err != nil {
		return fmt.Errorf("failed to record output %s: %w", o.Path, err)
	}
	return nil
}

// CompleteSession marks a session complete with its final frame count and
// bounds.
func (s *Store) CompleteSession(ctx context.Context, id string, frameCount int, bounds r3.Box) error {
	return s.finish(ctx, id, `
		UPDATE capture_sessions SET
			status = ?, frame_count = ?,
			bounds_min_x = ?, bounds_min_y = ?, bounds_min_z = ?,
			bounds_max_x = ?, bounds_max_y = ?, bounds_max_z = ?,
			completed_at = ?
		WHERE session_id = ?`,
		string(StatusComplete), frameCount,
		bounds.Min.X, bounds.Min.Y, bounds.Min.Z,
		bounds.Max.X, bounds.Max.Y, bounds.Max.Z,
		s.clock.Now().UnixNano(), id,
	)
}

// FailSession marks a session failed with the error text.
func (s *Store) FailSession(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, id, `
		UPDATE capture_sessions SET status = ?, error = ?, completed_at = ?
		WHERE session_id = ?`,
		string(StatusFailed), msg, s.clock.Now().UnixNano(), id,
	)
}

func (s *Store) finish(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const sessionColumns = `
	session_id, name, output_dir, convention, format, trajectory, frame_count,
	bounds_min_x, bounds_min_y, bounds_min_z, bounds_max_x, bounds_max_y, bounds_max_z,
	status, error, version, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var status string
	var errText sql.NullString
	var minX, minY, minZ, maxX, maxY, maxZ sql.NullFloat64
	var created int64
	var completed sql.NullInt64
	err := row.Scan(
		&sess.ID, &sess.Name, &sess.OutputDir, &sess.Convention, &sess.Format, &sess.Trajectory, &sess.FrameCount,
		&minX, &minY, &minZ, &maxX, &maxY, &maxZ,
		&status, &errText, &sess.Version, &created, &completed,
	)
	if err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	sess.Error = errText.String
	sess.CreatedAt = time.Unix(0, created)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		sess.CompletedAt = &t
	}
	if minX.Valid {
		sess.Bounds = &r3.Box{
			Min: r3.Vec{X: minX.Float64, Y: minY.Float64, Z: minZ.Float64},
			Max: r3.Vec{X: maxX.Float64, Y: maxY.Float64, Z: maxZ.Float64},
		}
	}
	return &sess, nil
}

// GetSession returns one session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM capture_sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM capture_sessions ORDER BY created_at DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// ListFrames returns the frames of a session in id order.
func (s *Store) ListFrames(ctx context.Context, sessionID string) ([]FrameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_id, image_name, timestamp, pos_x, pos_y, pos_z, qw, qx, qy, qz, has_depth
		FROM capture_frames WHERE session_id = ? ORDER BY frame_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		fr := FrameRecord{SessionID: sessionID}
		var ts int64
		var q quat.Number
		var hasDepth int
		if err := rows.Scan(&fr.FrameID, &fr.ImageName, &ts,
			&fr.Pose.Position.X, &fr.Pose.Position.Y, &fr.Pose.Position.Z,
			&q.Real, &q.Imag, &q.Jmag, &q.Kmag, &hasDepth); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		fr.Timestamp = time.Unix(0, ts)
		fr.Pose.Rotation = q
		fr.HasDepth = hasDepth == 1
		out = append(out, fr)
	}
	return out, rows.Err()
}

// ListOutputs returns the files a session wrote, ordered by path.
func (s *Store) ListOutputs(ctx context.Context, sessionID string) ([]dataset.Output, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, path, bytes FROM capture_outputs WHERE session_id = ? ORDER BY path`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	var out []dataset.Output
	for rows.Next() {
		var o dataset.Output
		if err := rows.Scan(&o.Kind, &o.Path, &o.Bytes); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteSession removes a session with its frames and outputs.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.finish(ctx, id, `DELETE FROM capture_sessions WHERE session_id = ?`, id)
}
