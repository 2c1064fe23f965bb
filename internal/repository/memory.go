package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-pipeline/internal/domain"
)

var (
	_ Ledger            = (*MemoryLedger)(nil)
	_ Ledger            = (*GormLedger)(nil)
	_ HistoryRepository = (*MemoryHistory)(nil)
	_ HistoryRepository = (*GormHistoryRepo)(nil)
)

// MemoryLedger is an in-process Ledger with the same uniqueness and
// transition rules as the Postgres one. It backs tests and local runs.
type MemoryLedger struct {
	mu            sync.Mutex
	now           func() time.Time
	contents      map[string]domain.NotificationContent
	notifications map[string]domain.Notification
	byContentID   map[string]string
}

func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		now:           now,
		contents:      map[string]domain.NotificationContent{},
		notifications: map[string]domain.Notification{},
		byContentID:   map[string]string{},
	}
}

func (l *MemoryLedger) InsertContent(ctx context.Context, c *domain.NotificationContent) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: content id is required", domain.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.contents[c.ID]; ok {
		return fmt.Errorf("%w: content %s already exists", domain.ErrConflict, c.ID)
	}
	l.contents[c.ID] = domain.NotificationContent{ID: c.ID, Content: slices.Clone(c.Content)}
	return nil
}

func (l *MemoryLedger) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prepareForInsert(n, l.now().UTC())
	if err := n.Validate(); err != nil {
		return err
	}
	if _, ok := l.contents[n.ContentID]; !ok {
		return fmt.Errorf("%w: content %s does not exist", domain.ErrStorage, n.ContentID)
	}
	if _, ok := l.notifications[n.ID]; ok {
		return fmt.Errorf("%w: notification %s already exists", domain.ErrConflict, n.ID)
	}
	if _, ok := l.byContentID[n.ContentID]; ok {
		return fmt.Errorf("%w: notification for content %s already exists", domain.ErrConflict, n.ContentID)
	}

	l.notifications[n.ID] = *n
	l.byContentID[n.ContentID] = n.ID
	return nil
}

func (l *MemoryLedger) UpdateNotification(ctx context.Context, column Column, value string, fields Fields) error {
	if !column.IsValid() {
		return fmt.Errorf("%w: cannot match on column %q", domain.ErrValidation, column)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if _, err := fieldsToUpdates(fields, now); err != nil {
		return err
	}

	id := value
	if column == ColumnContentID {
		id = l.byContentID[value]
	}
	n, ok := l.notifications[id]
	if !ok {
		return fmt.Errorf("%w: notification %s=%s", domain.ErrNotFound, column, value)
	}
	if len(fields.From) > 0 && !slices.Contains(fields.From, n.Status) {
		return fmt.Errorf("%w: notification %s=%s is %s", domain.ErrInvalidTransition, column, value, n.Status)
	}

	if fields.Status != nil {
		n.Status = *fields.Status
	}
	if fields.Failures != nil {
		n.Failures = *fields.Failures
	}
	if fields.IncrementFailures {
		n.Failures++
	}
	if fields.LastNotificationSend != nil {
		sent := *fields.LastNotificationSend
		n.LastNotificationSend = &sent
	}
	n.Modified = now

	l.notifications[id] = n
	return nil
}

func (l *MemoryLedger) SelectNotifications(ctx context.Context, filter Filter, page, pageSize int) ([]domain.Notification, error) {
	page, pageSize = normalizePage(page, pageSize)

	l.mu.Lock()
	matched := make([]domain.Notification, 0, len(l.notifications))
	for _, n := range l.notifications {
		if matchesFilter(n, filter) {
			matched = append(matched, n)
		}
	}
	l.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Modified.Equal(matched[j].Modified) {
			return matched[i].Modified.Before(matched[j].Modified)
		}
		return matched[i].ID < matched[j].ID
	})

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []domain.Notification{}, nil
	}
	end := min(start+pageSize, len(matched))
	return matched[start:end], nil
}

func (l *MemoryLedger) GetContent(ctx context.Context, id string) (*domain.NotificationContent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.contents[id]
	if !ok {
		return nil, fmt.Errorf("%w: content %s", domain.ErrNotFound, id)
	}
	return &domain.NotificationContent{ID: c.ID, Content: slices.Clone(c.Content)}, nil
}

func matchesFilter(n domain.Notification, f Filter) bool {
	if f.ContentID != nil && n.ContentID != *f.ContentID {
		return false
	}
	if f.Status != nil && n.Status != *f.Status {
		return false
	}
	if f.ModifiedAfter != nil && !n.Modified.After(*f.ModifiedAfter) {
		return false
	}
	if f.ModifiedBefore != nil && !n.Modified.Before(*f.ModifiedBefore) {
		return false
	}
	return true
}

// MemoryHistory is an in-process HistoryRepository.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Create(ctx context.Context, e *domain.HistoryEntry) error {
	if e == nil {
		return fmt.Errorf("%w: history entry is required", domain.ErrValidation)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, *e)
	return nil
}

func (h *MemoryHistory) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.HistoryEntry, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	h.mu.Lock()
	matched := make([]domain.HistoryEntry, 0)
	for _, e := range h.entries {
		if e.UserID == userID {
			matched = append(matched, e)
		}
	}
	h.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].SentAt.After(matched[j].SentAt)
	})

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []domain.HistoryEntry{}, total, nil
	}
	end := min(start+pageSize, len(matched))
	return matched[start:end], total, nil
}
