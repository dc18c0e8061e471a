package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tribridrag/tribridrag/domain/queryopt"
	"github.com/tribridrag/tribridrag/domain/task"
	"github.com/tribridrag/tribridrag/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskModel is the GORM model backing the task queue.
type TaskModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	DedupKey  string    `gorm:"column:dedup_key;uniqueIndex"`
	Operation string    `gorm:"column:operation;index"`
	Priority  int       `gorm:"column:priority;index"`
	Payload   string    `gorm:"column:payload"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName implements the GORM table name convention.
func (TaskModel) TableName() string { return "tasks" }

// TaskMapper maps between task.Task and TaskModel.
type TaskMapper struct{}

// ToDomain converts a model to a domain task.
func (TaskMapper) ToDomain(m TaskModel) (task.Task, error) {
	payload := make(map[string]any)
	if m.Payload != "" {
		if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
			return task.Task{}, fmt.Errorf("decode task payload: %w", err)
		}
	}
	return task.NewTaskWithID(m.ID, m.DedupKey, task.Operation(m.Operation), m.Priority, payload, m.CreatedAt, m.UpdatedAt), nil
}

// ToModel converts a domain task to a model.
func (TaskMapper) ToModel(t task.Task) (TaskModel, error) {
	raw, err := json.Marshal(t.Payload())
	if err != nil {
		return TaskModel{}, fmt.Errorf("encode task payload: %w", err)
	}
	return TaskModel{
		ID:        t.ID(),
		DedupKey:  t.DedupKey(),
		Operation: t.Operation().String(),
		Priority:  t.Priority(),
		Payload:   string(raw),
		CreatedAt: t.CreatedAt(),
		UpdatedAt: t.UpdatedAt(),
	}, nil
}

// TaskStore implements task.TaskStore using GORM.
type TaskStore struct {
	db     database.Database
	mapper TaskMapper
}

// NewTaskStore creates a TaskStore.
func NewTaskStore(db database.Database) TaskStore {
	return TaskStore{db: db, mapper: TaskMapper{}}
}

// Save inserts the task; a dedup-key conflict bumps the priority of the
// queued copy instead of duplicating it.
func (s TaskStore) Save(ctx context.Context, t task.Task) (task.Task, error) {
	model, err := s.mapper.ToModel(t)
	if err != nil {
		return task.Task{}, err
	}
	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now

	err = s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"priority", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return task.Task{}, fmt.Errorf("save task: %w", err)
	}
	return s.mapper.ToDomain(model)
}

// Dequeue pops the highest-priority, oldest pending task.
func (s TaskStore) Dequeue(ctx context.Context) (task.Task, bool, error) {
	var model TaskModel
	err := s.db.Session(ctx).
		Order("priority DESC").
		Order("created_at ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return task.Task{}, false, nil
		}
		return task.Task{}, false, fmt.Errorf("dequeue task: %w", err)
	}
	t, err := s.mapper.ToDomain(model)
	if err != nil {
		return task.Task{}, false, err
	}
	return t, true, nil
}

// Delete removes a task from the queue.
func (s TaskStore) Delete(ctx context.Context, t task.Task) error {
	return s.db.Session(ctx).Where("id = ?", t.ID()).Delete(&TaskModel{}).Error
}

// Get retrieves a task by id.
func (s TaskStore) Get(ctx context.Context, id int64) (task.Task, error) {
	var model TaskModel
	err := s.db.Session(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return task.Task{}, fmt.Errorf("%w: task %d", database.ErrNotFound, id)
		}
		return task.Task{}, err
	}
	return s.mapper.ToDomain(model)
}

// FindPending lists queued tasks matching the options.
func (s TaskStore) FindPending(ctx context.Context, options ...queryopt.Option) ([]task.Task, error) {
	db := database.ApplyOptions(s.db.Session(ctx).Model(&TaskModel{}), options...)
	var models []TaskModel
	if err := db.Order("priority DESC").Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("find pending tasks: %w", err)
	}
	return s.toDomainAll(models)
}

// FindAll lists every queued task.
func (s TaskStore) FindAll(ctx context.Context) ([]task.Task, error) {
	var models []TaskModel
	if err := s.db.Session(ctx).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("find all tasks: %w", err)
	}
	return s.toDomainAll(models)
}

// CountPending counts queued tasks.
func (s TaskStore) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.Session(ctx).Model(&TaskModel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

func (s TaskStore) toDomainAll(models []TaskModel) ([]task.Task, error) {
	out := make([]task.Task, 0, len(models))
	for _, m := range models {
		t, err := s.mapper.ToDomain(m)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

var _ task.TaskStore = TaskStore{}
