package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tribridrag/tribridrag/domain/task"
	"github.com/tribridrag/tribridrag/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskStatusModel is the GORM model backing task progress statuses.
type TaskStatusModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	State         string    `gorm:"column:state"`
	Operation     string    `gorm:"column:operation;index"`
	Message       string    `gorm:"column:message"`
	Total         int       `gorm:"column:total"`
	Current       int       `gorm:"column:current"`
	ErrorMessage  string    `gorm:"column:error_message"`
	TrackableKey  string    `gorm:"column:trackable_key;index"`
	TrackableType string    `gorm:"column:trackable_type;index"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// TableName implements the GORM table name convention.
func (TaskStatusModel) TableName() string { return "task_status" }

// StatusMapper maps between task.Status and TaskStatusModel.
type StatusMapper struct{}

// ToDomain converts a model to a domain status.
func (StatusMapper) ToDomain(m TaskStatusModel) task.Status {
	return task.NewStatusFull(
		m.ID,
		task.ReportingState(m.State),
		task.Operation(m.Operation),
		m.Message,
		m.CreatedAt, m.UpdatedAt,
		m.Total, m.Current,
		m.ErrorMessage,
		nil,
		m.TrackableKey,
		task.TrackableType(m.TrackableType),
	)
}

// ToModel converts a domain status to a model.
func (StatusMapper) ToModel(s task.Status) TaskStatusModel {
	return TaskStatusModel{
		ID:            s.ID(),
		State:         string(s.State()),
		Operation:     s.Operation().String(),
		Message:       s.Message(),
		Total:         s.Total(),
		Current:       s.Current(),
		ErrorMessage:  s.Error(),
		TrackableKey:  s.TrackableKey(),
		TrackableType: string(s.TrackableType()),
		CreatedAt:     s.CreatedAt(),
		UpdatedAt:     s.UpdatedAt(),
	}
}

// StatusStore implements task.StatusStore using GORM.
type StatusStore struct {
	db     database.Database
	mapper StatusMapper
}

// NewStatusStore creates a StatusStore.
func NewStatusStore(db database.Database) StatusStore {
	return StatusStore{db: db, mapper: StatusMapper{}}
}

// Save upserts a status by id.
func (s StatusStore) Save(ctx context.Context, status task.Status) (task.Status, error) {
	model := s.mapper.ToModel(status)
	err := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return task.Status{}, fmt.Errorf("save status: %w", err)
	}
	return s.mapper.ToDomain(model), nil
}

// Get retrieves a status by id.
func (s StatusStore) Get(ctx context.Context, id string) (task.Status, error) {
	var model TaskStatusModel
	err := s.db.Session(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return task.Status{}, fmt.Errorf("%w: status %s", database.ErrNotFound, id)
		}
		return task.Status{}, err
	}
	return s.mapper.ToDomain(model), nil
}

// FindByTrackable lists statuses for one tracked entity.
func (s StatusStore) FindByTrackable(ctx context.Context, trackableType task.TrackableType, trackableKey string) ([]task.Status, error) {
	var models []TaskStatusModel
	err := s.db.Session(ctx).
		Where("trackable_type = ?", string(trackableType)).
		Where("trackable_key = ?", trackableKey).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("find statuses: %w", err)
	}
	out := make([]task.Status, len(models))
	for i, m := range models {
		out[i] = s.mapper.ToDomain(m)
	}
	return out, nil
}

// DeleteByTrackable removes statuses for one tracked entity.
func (s StatusStore) DeleteByTrackable(ctx context.Context, trackableType task.TrackableType, trackableKey string) error {
	return s.db.Session(ctx).
		Where("trackable_type = ?", string(trackableType)).
		Where("trackable_key = ?", trackableKey).
		Delete(&TaskStatusModel{}).Error
}

var _ task.StatusStore = StatusStore{}
