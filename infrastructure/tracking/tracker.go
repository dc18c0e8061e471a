// Package tracking persists per-operation progress statuses so queued
// builds and learning runs are inspectable while they run and after
// they finish.
package tracking

import (
	"context"
	"log/slog"

	"github.com/tribridrag/tribridrag/domain/task"
)

// Tracker records progress for one operation on one tracked entity.
// Every update is persisted immediately; a crashed worker leaves the
// last written state behind for diagnosis.
type Tracker struct {
	store  task.StatusStore
	status task.Status
	logger *slog.Logger
}

// Factory creates trackers bound to a status store.
type Factory struct {
	store  task.StatusStore
	logger *slog.Logger
}

// NewFactory creates a Factory. store may be nil, which makes every
// tracker log-only.
func NewFactory(store task.StatusStore, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{store: store, logger: logger}
}

// ForOperation creates a tracker for one operation on one entity.
func (f *Factory) ForOperation(operation task.Operation, trackableType task.TrackableType, trackableKey string) *Tracker {
	return &Tracker{
		store:  f.store,
		status: task.NewStatus(operation, nil, trackableType, trackableKey),
		logger: f.logger,
	}
}

func (t *Tracker) save(ctx context.Context) {
	if t.store == nil {
		return
	}
	if _, err := t.store.Save(ctx, t.status); err != nil {
		t.logger.Warn("save status failed",
			"status_id", t.status.ID(), "error", err)
	}
}

// SetTotal records the operation's total unit count.
func (t *Tracker) SetTotal(ctx context.Context, total int) {
	t.status = t.status.SetTotal(total)
	t.save(ctx)
}

// SetCurrent records progress through the operation's units.
func (t *Tracker) SetCurrent(ctx context.Context, current int, message string) {
	t.status = t.status.SetCurrent(current, message)
	t.save(ctx)
}

// Skip marks the operation skipped.
func (t *Tracker) Skip(ctx context.Context, message string) {
	t.status = t.status.Skip(message)
	t.save(ctx)
}

// Fail marks the operation failed.
func (t *Tracker) Fail(ctx context.Context, message string) {
	t.status = t.status.Fail(message)
	t.save(ctx)
	t.logger.Warn("operation failed",
		"operation", t.status.Operation().String(),
		"trackable", t.status.TrackableKey(),
		"error", message)
}

// Complete marks the operation complete.
func (t *Tracker) Complete(ctx context.Context) {
	t.status = t.status.Complete()
	t.save(ctx)
}
