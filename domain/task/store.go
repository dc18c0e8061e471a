package task

import (
	"context"

	"github.com/tribridrag/tribridrag/domain/queryopt"
)

// TaskStore persists queued tasks. Existence implies pending: a task is
// deleted once processed, successfully or not.
type TaskStore interface {
	// Save inserts the task, or bumps priority when one with the same
	// dedup key is already queued.
	Save(ctx context.Context, t Task) (Task, error)

	// Dequeue pops the highest-priority pending task. found is false
	// when the queue is empty.
	Dequeue(ctx context.Context) (t Task, found bool, err error)

	// Delete removes a task from the queue.
	Delete(ctx context.Context, t Task) error

	// Get retrieves a task by id.
	Get(ctx context.Context, id int64) (Task, error)

	// FindPending lists queued tasks matching the options.
	FindPending(ctx context.Context, options ...queryopt.Option) ([]Task, error)

	// FindAll lists every queued task.
	FindAll(ctx context.Context) ([]Task, error)

	// CountPending counts queued tasks.
	CountPending(ctx context.Context) (int64, error)
}

// StatusStore persists task progress statuses for introspection.
type StatusStore interface {
	// Save upserts a status by its id.
	Save(ctx context.Context, s Status) (Status, error)

	// Get retrieves a status by id.
	Get(ctx context.Context, id string) (Status, error)

	// FindByTrackable lists statuses for one tracked entity.
	FindByTrackable(ctx context.Context, trackableType TrackableType, trackableKey string) ([]Status, error)

	// DeleteByTrackable removes statuses for one tracked entity.
	DeleteByTrackable(ctx context.Context, trackableType TrackableType, trackableKey string) error
}
