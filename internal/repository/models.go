package repository

import (
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"gorm.io/datatypes"
)

// ContentModel is the persistence model for the content table.
type ContentModel struct {
	ID      string         `gorm:"type:varchar(255);primaryKey"`
	Content datatypes.JSON `gorm:"type:jsonb"`
}

func (ContentModel) TableName() string {
	return "content"
}

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                   string        `gorm:"type:uuid;primaryKey"`
	ContentID            string        `gorm:"type:varchar(255);not null;uniqueIndex"`
	RoutingKey           string        `gorm:"type:varchar(255);not null"`
	Status               domain.Status `gorm:"type:varchar(20);not null"`
	Failures             int           `gorm:"not null;default:0"`
	CreatedAt            time.Time     `gorm:"not null"`
	Modified             time.Time     `gorm:"not null"`
	LastNotificationSend *time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// HistoryModel is the persistence model for notifications_history.
type HistoryModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"type:varchar(255);not null"`
	UserEmail   string    `gorm:"type:varchar(255);not null"`
	ContentID   string    `gorm:"type:varchar(255);not null"`
	RoutingKey  string    `gorm:"type:varchar(255);not null"`
	Subject     string    `gorm:"type:varchar(255);not null"`
	HTMLContent string    `gorm:"type:text"`
	SentAt      time.Time `gorm:"not null"`
}

func (HistoryModel) TableName() string {
	return "notifications_history"
}

func contentModelFromDomain(c *domain.NotificationContent) *ContentModel {
	if c == nil {
		return nil
	}
	return &ContentModel{
		ID:      c.ID,
		Content: datatypes.JSON(c.Content),
	}
}

func contentModelToDomain(m *ContentModel) *domain.NotificationContent {
	if m == nil {
		return nil
	}
	return &domain.NotificationContent{
		ID:      m.ID,
		Content: []byte(m.Content),
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                   n.ID,
		ContentID:            n.ContentID,
		RoutingKey:           n.RoutingKey,
		Status:               n.Status,
		Failures:             n.Failures,
		CreatedAt:            n.CreatedAt,
		Modified:             n.Modified,
		LastNotificationSend: n.LastNotificationSend,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:                   m.ID,
		ContentID:            m.ContentID,
		RoutingKey:           m.RoutingKey,
		Status:               m.Status,
		Failures:             m.Failures,
		CreatedAt:            m.CreatedAt,
		Modified:             m.Modified,
		LastNotificationSend: m.LastNotificationSend,
	}
}

func historyModelFromDomain(h *domain.HistoryEntry) *HistoryModel {
	if h == nil {
		return nil
	}

	return &HistoryModel{
		ID:          h.ID,
		UserID:      h.UserID,
		UserEmail:   h.UserEmail,
		ContentID:   h.ContentID,
		RoutingKey:  h.RoutingKey,
		Subject:     h.Subject,
		HTMLContent: h.HTMLContent,
		SentAt:      h.SentAt,
	}
}

func historyModelToDomain(m *HistoryModel) *domain.HistoryEntry {
	if m == nil {
		return nil
	}

	return &domain.HistoryEntry{
		ID:          m.ID,
		UserID:      m.UserID,
		UserEmail:   m.UserEmail,
		ContentID:   m.ContentID,
		RoutingKey:  m.RoutingKey,
		Subject:     m.Subject,
		HTMLContent: m.HTMLContent,
		SentAt:      m.SentAt,
	}
}
