package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// Column names a notifications column that updates may match on.
type Column string

const (
	ColumnID        Column = "id"
	ColumnContentID Column = "content_id"
)

func (c Column) IsValid() bool {
	return c == ColumnID || c == ColumnContentID
}

// Fields is a partial update of a notification row. Modified is always
// refreshed by the ledger.
type Fields struct {
	Status               *domain.Status
	Failures             *int
	IncrementFailures    bool
	LastNotificationSend *time.Time

	// From restricts the update to rows currently in one of these states.
	From []domain.Status
}

// Filter selects notification rows. Nil fields are ignored; Modified bounds are exclusive.
type Filter struct {
	ContentID      *string
	Status         *domain.Status
	ModifiedAfter  *time.Time
	ModifiedBefore *time.Time
}

// Ledger persists notification content and status records.
//
// Every method runs in its own short transaction; callers never get a
// transaction spanning several calls.
type Ledger interface {
	InsertContent(ctx context.Context, c *domain.NotificationContent) error
	InsertNotification(ctx context.Context, n *domain.Notification) error
	UpdateNotification(ctx context.Context, column Column, value string, fields Fields) error
	SelectNotifications(ctx context.Context, filter Filter, page, pageSize int) ([]domain.Notification, error)
	GetContent(ctx context.Context, id string) (*domain.NotificationContent, error)
}

type GormLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, now: time.Now}
}

func (l *GormLedger) InsertContent(ctx context.Context, c *domain.NotificationContent) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: content id is required", domain.ErrValidation)
	}

	model := contentModelFromDomain(c)
	if err := l.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err, "content "+c.ID)
	}
	return nil
}

func (l *GormLedger) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	prepareForInsert(n, l.now().UTC())
	if err := n.Validate(); err != nil {
		return err
	}

	model := notificationModelFromDomain(n)
	if err := l.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err, "notification for content "+n.ContentID)
	}
	*n = *notificationModelToDomain(model)
	return nil
}

func (l *GormLedger) UpdateNotification(ctx context.Context, column Column, value string, fields Fields) error {
	if !column.IsValid() {
		return fmt.Errorf("%w: cannot match on column %q", domain.ErrValidation, column)
	}
	updates, err := fieldsToUpdates(fields, l.now().UTC())
	if err != nil {
		return err
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&NotificationModel{}).Where(string(column)+" = ?", value)
		if len(fields.From) > 0 {
			query = query.Where("status IN ?", fields.From)
		}

		result := query.Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		if len(fields.From) == 0 {
			return domain.ErrNotFound
		}

		var count int64
		if err := tx.Model(&NotificationModel{}).Where(string(column)+" = ?", value).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidTransition
	})
	if err != nil {
		return translateError(err, fmt.Sprintf("notification %s=%s", column, value))
	}
	return nil
}

func (l *GormLedger) SelectNotifications(ctx context.Context, filter Filter, page, pageSize int) ([]domain.Notification, error) {
	page, pageSize = normalizePage(page, pageSize)

	query := l.db.WithContext(ctx).Model(&NotificationModel{})
	if filter.ContentID != nil {
		query = query.Where("content_id = ?", *filter.ContentID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ModifiedAfter != nil {
		query = query.Where("modified > ?", *filter.ModifiedAfter)
	}
	if filter.ModifiedBefore != nil {
		query = query.Where("modified < ?", *filter.ModifiedBefore)
	}

	var models []NotificationModel
	err := query.
		Order("modified ASC").
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, translateError(err, "notifications")
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

func (l *GormLedger) GetContent(ctx context.Context, id string) (*domain.NotificationContent, error) {
	var model ContentModel
	if err := l.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err, "content "+id)
	}
	return contentModelToDomain(&model), nil
}

func prepareForInsert(n *domain.Notification, now time.Time) {
	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.ContentID = strings.TrimSpace(n.ContentID)
	if n.Status == "" {
		n.Status = domain.StatusInitiated
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.Modified.IsZero() {
		n.Modified = now
	}
}

func fieldsToUpdates(fields Fields, now time.Time) (map[string]any, error) {
	if fields.Failures != nil && fields.IncrementFailures {
		return nil, fmt.Errorf("%w: failures cannot be both set and incremented", domain.ErrValidation)
	}

	updates := map[string]any{"modified": now}
	if fields.Status != nil {
		if !fields.Status.IsValid() {
			return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, *fields.Status)
		}
		updates["status"] = *fields.Status
	}
	if fields.Failures != nil {
		if *fields.Failures < 0 {
			return nil, fmt.Errorf("%w: failures must be non-negative", domain.ErrValidation)
		}
		updates["failures"] = *fields.Failures
	}
	if fields.IncrementFailures {
		updates["failures"] = gorm.Expr("failures + 1")
	}
	if fields.LastNotificationSend != nil {
		updates["last_notification_send"] = *fields.LastNotificationSend
	}
	return updates, nil
}

func normalizePage(page, pageSize int) (int, int) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return page, min(pageSize, MaxPageSize)
}

func translateError(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, subject)
	case errors.Is(err, domain.ErrInvalidTransition):
		return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, subject)
	case isUniqueViolationError(err):
		return fmt.Errorf("%w: %s already exists", domain.ErrConflict, subject)
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrStorage, subject, err)
	}
}

func isUniqueViolationError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
