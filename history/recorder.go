// Package history records an append-only audit trail of queue
// lifecycle transitions to Postgres, for dashboards and post-mortems
// that outlive the in-memory queue state.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridgeci/ridgeline/queue"
)

// Recorder appends lifecycle events to the queue_history table.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder builds a Recorder on top of an existing pool; the caller
// owns the pool's lifetime.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Migrate creates the queue_history table if it does not already
// exist. Called once at startup.
func (r *Recorder) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS queue_history (
			id BIGSERIAL PRIMARY KEY,
			item_id BIGINT NOT NULL,
			task_name TEXT NOT NULL,
			stage TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

// RecordTransition appends one row for an item entering a new stage.
// Errors are the caller's to decide whether to log and continue;
// history is observational and must never block the scheduler.
func (r *Recorder) RecordTransition(ctx context.Context, item queue.Item, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queue_history (item_id, task_name, stage, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, uint64(item.ID()), item.Task().FullDisplayName(), item.Stage().String(), at)
	return err
}

// Recent returns the most recent n transitions for a task, newest
// first, for a dashboard's per-task history view.
func (r *Recorder) Recent(ctx context.Context, taskName string, n int) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT item_id, stage, recorded_at
		FROM queue_history
		WHERE task_name = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, taskName, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var itemID uint64
		if err := rows.Scan(&itemID, &ev.Stage, &ev.RecordedAt); err != nil {
			return nil, err
		}
		ev.ItemID = queue.ItemID(itemID)
		ev.TaskName = taskName
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Event is one row of recorded history.
type Event struct {
	ItemID     queue.ItemID
	TaskName   string
	Stage      string
	RecordedAt time.Time
}
