// Package trail records odometry samples to a SQLite database so a run can be replayed later.
package trail

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	// registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"go.viam.com/diffdrive/components/base/diffdrive"
	"go.viam.com/diffdrive/spatialmath"
)

const schema = `
CREATE TABLE IF NOT EXISTS odometry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stamp_ns INTEGER NOT NULL,
	frame_id TEXT NOT NULL,
	child_frame_id TEXT NOT NULL,
	x DOUBLE NOT NULL,
	y DOUBLE NOT NULL,
	theta DOUBLE NOT NULL,
	linear_x DOUBLE NOT NULL,
	linear_y DOUBLE NOT NULL,
	angular_z DOUBLE NOT NULL,
	degenerate INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS odometry_stamp ON odometry (stamp_ns);
CREATE INDEX IF NOT EXISTS odometry_run ON odometry (run_id);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

var _ = diffdrive.OdometrySink(&Recorder{})

// Config enables the recorder. An empty Path disables it.
type Config struct {
	Path string `json:"path"`
}

// Record is one stored odometry sample.
type Record struct {
	RunID        string
	Time         time.Time
	FrameID      string
	ChildFrameID string
	Pose         spatialmath.Pose2D
	LinearX      float64
	LinearY      float64
	AngularZ     float64
	// Degenerate marks samples whose velocity was carried over from the previous one.
	Degenerate bool
}

// A Recorder appends odometry samples to a SQLite database. Every Recorder tags
// its rows with a fresh run id.
type Recorder struct {
	db    *sql.DB
	runID string
}

// Open opens, creating if needed, the database at path.
func Open(ctx context.Context, path string) (*Recorder, error) {
	if path == "" {
		return nil, errors.New("trail database path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open trail database %q", path)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "failed to apply %q", pragma), db.Close())
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "failed to create trail schema"), db.Close())
	}
	return &Recorder{db: db, runID: uuid.NewString()}, nil
}

// RunID identifies the rows written by this recorder.
func (r *Recorder) RunID() string {
	return r.runID
}

// PublishOdometry stores the sample.
func (r *Recorder) PublishOdometry(ctx context.Context, sample diffdrive.OdometrySample) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO odometry
			(run_id, stamp_ns, frame_id, child_frame_id, x, y, theta, linear_x, linear_y, angular_z, degenerate)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.runID, sample.Time.UnixNano(), sample.FrameID, sample.ChildFrameID,
		sample.Pose.X, sample.Pose.Y, sample.Pose.Theta,
		sample.Twist.Linear.X, sample.Twist.Linear.Y, sample.Twist.Angular.Z,
		sample.DegenerateInterval,
	)
	return errors.Wrap(err, "failed to record odometry")
}

// PublishTransform does nothing; the transform is derivable from consecutive records.
func (r *Recorder) PublishTransform(ctx context.Context, tf diffdrive.Transform) error {
	return nil
}

// Samples returns up to limit records stamped at or after since, oldest first.
// A zero since matches every record and a limit <= 0 returns all of them.
func (r *Recorder) Samples(ctx context.Context, since time.Time, limit int) (records []Record, err error) {
	if limit <= 0 {
		limit = -1
	}
	sinceNs := int64(math.MinInt64)
	if !since.IsZero() {
		sinceNs = since.UnixNano()
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, stamp_ns, frame_id, child_frame_id, x, y, theta, linear_x, linear_y, angular_z, degenerate
			FROM odometry WHERE stamp_ns >= ? ORDER BY stamp_ns, id LIMIT ?`,
		sinceNs, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query odometry")
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()

	for rows.Next() {
		var rec Record
		var stamp int64
		if err := rows.Scan(
			&rec.RunID, &stamp, &rec.FrameID, &rec.ChildFrameID,
			&rec.Pose.X, &rec.Pose.Y, &rec.Pose.Theta,
			&rec.LinearX, &rec.LinearY, &rec.AngularZ,
			&rec.Degenerate,
		); err != nil {
			return nil, errors.Wrap(err, "failed to read odometry row")
		}
		rec.Time = time.Unix(0, stamp)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
