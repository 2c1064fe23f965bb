package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"gorm.io/gorm"
)

type HistoryRepository interface {
	Create(ctx context.Context, h *domain.HistoryEntry) error
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.HistoryEntry, int64, error)
}

type GormHistoryRepo struct {
	db *gorm.DB
}

func NewGormHistoryRepo(db *gorm.DB) *GormHistoryRepo {
	return &GormHistoryRepo{db: db}
}

func (r *GormHistoryRepo) Create(ctx context.Context, h *domain.HistoryEntry) error {
	if h != nil && h.ID == "" {
		h.ID = uuid.NewString()
	}
	model := historyModelFromDomain(h)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err, "history entry")
	}
	return nil
}

func (r *GormHistoryRepo) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.HistoryEntry, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	query := r.db.WithContext(ctx).Model(&HistoryModel{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translateError(err, "history")
	}

	var models []HistoryModel
	err := query.
		Order("sent_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, translateError(err, "history")
	}

	entries := make([]domain.HistoryEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *historyModelToDomain(&models[i]))
	}
	return entries, total, nil
}
