package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"github.com/kursadbilgin/notify-pipeline/internal/provider"
	"github.com/kursadbilgin/notify-pipeline/internal/queue"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"go.uber.org/zap"
)

const registeredPayload = `{"user_id":"6c0dd299-63ad-4fd0-89de-790b0789fb50","user_email":"alice@example.com","first_name":"Alice","last_name":"Smith"}`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type producedMessage struct {
	routingKey    string
	payload       []byte
	correlationID string
}

type fakeProducer struct {
	mu        sync.Mutex
	produceFn func(ctx context.Context, routingKey string, payload []byte, correlationID string) error
	produced  []producedMessage
}

func (f *fakeProducer) Produce(ctx context.Context, routingKey string, payload []byte, correlationID string) error {
	if f.produceFn != nil {
		if err := f.produceFn(ctx, routingKey, payload, correlationID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.produced = append(f.produced, producedMessage{routingKey: routingKey, payload: payload, correlationID: correlationID})
	return nil
}

func (f *fakeProducer) messages() []producedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]producedMessage, len(f.produced))
	copy(out, f.produced)
	return out
}

// asDelivery turns a produced message into what the consumer receives.
func (m producedMessage) asDelivery() queue.Message {
	return queue.Message{Body: m.payload, CorrelationID: m.correlationID, RoutingKey: m.routingKey}
}

type fakeProvider struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, email provider.Email) (*provider.ProviderResponse, error)
	sent   []provider.Email
}

func (f *fakeProvider) Send(ctx context.Context, email provider.Email) (*provider.ProviderResponse, error) {
	if f.sendFn != nil {
		resp, err := f.sendFn(ctx, email)
		if err != nil {
			return nil, err
		}
		f.record(email)
		return resp, nil
	}
	f.record(email)
	return &provider.ProviderResponse{StatusCode: 200, MessageID: "provider-1"}, nil
}

func (f *fakeProvider) record(email provider.Email) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, email)
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, routingKey string) error
	runFn     func(ctx context.Context, handler queue.MessageHandler) error
	bound     []string
}

func (f *fakeConsumer) Consume(ctx context.Context, routingKey string) error {
	if f.consumeFn != nil {
		if err := f.consumeFn(ctx, routingKey); err != nil {
			return err
		}
	}
	f.bound = append(f.bound, routingKey)
	return nil
}

func (f *fakeConsumer) Run(ctx context.Context, handler queue.MessageHandler) error {
	if f.runFn != nil {
		return f.runFn(ctx, handler)
	}
	return nil
}

// recordingLedger records every status a notification is moved into.
type recordingLedger struct {
	*repository.MemoryLedger

	mu           sync.Mutex
	statuses     map[string][]domain.Status
	selectFn     func(ctx context.Context, filter repository.Filter, page, pageSize int) ([]domain.Notification, error)
	updateFn     func(ctx context.Context, column repository.Column, value string, fields repository.Fields) error
	insertFn     func(ctx context.Context, n *domain.Notification) error
	getContentFn func(ctx context.Context, id string) (*domain.NotificationContent, error)
}

func (l *recordingLedger) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if l.insertFn != nil {
		if err := l.insertFn(ctx, n); err != nil {
			return err
		}
	}
	if err := l.MemoryLedger.InsertNotification(ctx, n); err != nil {
		return err
	}
	l.record(n.ContentID, n.Status)
	return nil
}

func (l *recordingLedger) UpdateNotification(ctx context.Context, column repository.Column, value string, fields repository.Fields) error {
	if l.updateFn != nil {
		return l.updateFn(ctx, column, value, fields)
	}
	if err := l.MemoryLedger.UpdateNotification(ctx, column, value, fields); err != nil {
		return err
	}
	if fields.Status == nil && !fields.IncrementFailures {
		return nil
	}

	filter := repository.Filter{}
	if column == repository.ColumnContentID {
		filter.ContentID = &value
	}
	rows, _ := l.MemoryLedger.SelectNotifications(ctx, filter, 1, repository.MaxPageSize)
	for _, n := range rows {
		if (column == repository.ColumnID && n.ID == value) || column == repository.ColumnContentID {
			l.record(n.ContentID, n.Status)
		}
	}
	return nil
}

func (l *recordingLedger) SelectNotifications(ctx context.Context, filter repository.Filter, page, pageSize int) ([]domain.Notification, error) {
	if l.selectFn != nil {
		return l.selectFn(ctx, filter, page, pageSize)
	}
	return l.MemoryLedger.SelectNotifications(ctx, filter, page, pageSize)
}

func (l *recordingLedger) GetContent(ctx context.Context, id string) (*domain.NotificationContent, error) {
	if l.getContentFn != nil {
		return l.getContentFn(ctx, id)
	}
	return l.MemoryLedger.GetContent(ctx, id)
}

func (l *recordingLedger) record(contentID string, status domain.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statuses == nil {
		l.statuses = map[string][]domain.Status{}
	}
	l.statuses[contentID] = append(l.statuses[contentID], status)
}

func (l *recordingLedger) observed(contentID string) []domain.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Status, len(l.statuses[contentID]))
	copy(out, l.statuses[contentID])
	return out
}

// pipeline wires both sides of the delivery pipeline over an in-memory ledger.
type pipeline struct {
	clock    *fakeClock
	ledger   *recordingLedger
	history  *repository.MemoryHistory
	producer *fakeProducer
	provider *fakeProvider
	service  *NotificationService
	worker   *WorkerService
}

func newPipeline(t *testing.T, logger *zap.Logger) *pipeline {
	t.Helper()

	clock := newFakeClock()
	p := &pipeline{
		clock:    clock,
		ledger:   &recordingLedger{MemoryLedger: repository.NewMemoryLedger(clock.Now)},
		history:  repository.NewMemoryHistory(),
		producer: &fakeProducer{},
		provider: &fakeProvider{},
	}

	svc, err := NewNotificationService(p.ledger, p.producer, logger)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	worker, err := NewWorkerService(p.ledger, p.history, &fakeConsumer{}, p.provider, &fakeRateLimiter{}, logger)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	worker.now = clock.Now

	p.service = svc
	p.worker = worker
	return p
}

func (p *pipeline) notification(t *testing.T, correlationID string) domain.Notification {
	t.Helper()
	n, err := findByContentID(context.Background(), p.ledger, correlationID)
	if err != nil {
		t.Fatalf("lookup %s: %v", correlationID, err)
	}
	return *n
}
