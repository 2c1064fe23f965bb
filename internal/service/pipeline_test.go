package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"github.com/kursadbilgin/notify-pipeline/internal/provider"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPipelineDeliversRegisteredNotification(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, nil)
	ctx := context.Background()

	if _, err := p.service.Initiate(ctx, "user-1", domain.RoutingKeyRegistered, []byte(registeredPayload)); err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	produced := p.producer.messages()
	if len(produced) != 1 {
		t.Fatalf("produced = %d, want 1", len(produced))
	}

	p.clock.Advance(30 * time.Second)
	if err := p.worker.Consume(ctx, produced[0].asDelivery()); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	n := p.notification(t, "user-1")
	if n.Status != domain.StatusSent {
		t.Fatalf("status = %s, want Sent", n.Status)
	}
	if n.Failures != 0 {
		t.Fatalf("failures = %d, want 0", n.Failures)
	}
	if n.LastNotificationSend == nil || !n.LastNotificationSend.Equal(p.clock.Now()) {
		t.Fatalf("last notification send = %v, want %v", n.LastNotificationSend, p.clock.Now())
	}
	if p.provider.count() != 1 {
		t.Fatalf("sends = %d, want 1", p.provider.count())
	}
}

func TestPipelineRedeliveryAfterSentIsNoop(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	p := newPipeline(t, zap.New(core))
	ctx := context.Background()

	if _, err := p.service.Initiate(ctx, "user-2", domain.RoutingKeyRegistered, []byte(registeredPayload)); err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	msg := p.producer.messages()[0].asDelivery()

	for i := 0; i < 2; i++ {
		if err := p.worker.Consume(ctx, msg); err != nil {
			t.Fatalf("Consume() #%d error = %v, want nil so the message is acknowledged", i+1, err)
		}
	}

	if p.provider.count() != 1 {
		t.Fatalf("sends = %d, want exactly 1", p.provider.count())
	}
	if got := p.notification(t, "user-2").Status; got != domain.StatusSent {
		t.Fatalf("status = %s, want Sent", got)
	}
	if recorded.FilterMessage("notification already sent, skipping").Len() != 1 {
		t.Fatal("expected the duplicate delivery to be logged")
	}
	if _, total, _ := p.history.ListByUser(ctx, "6c0dd299-63ad-4fd0-89de-790b0789fb50", 1, 10); total != 1 {
		t.Fatalf("history total = %d, want 1", total)
	}
}

func TestPipelineStatusNeverRegresses(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, nil)
	ctx := context.Background()
	sweeper := newTestSweeper(t, p, nil)

	// Publish fails so the notification goes through the initiated retry loop.
	failing := true
	p.producer.produceFn = func(ctx context.Context, routingKey string, payload []byte, correlationID string) error {
		if failing {
			return context.DeadlineExceeded
		}
		return nil
	}
	if _, err := p.service.Initiate(ctx, "mono-1", domain.RoutingKeyRegistered, []byte(registeredPayload)); err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		p.clock.Advance(16 * time.Minute)
		if err := sweeper.SweepInitiated(ctx); err != nil {
			t.Fatalf("SweepInitiated() error = %v", err)
		}
	}
	failing = false
	p.clock.Advance(16 * time.Minute)
	if err := sweeper.SweepInitiated(ctx); err != nil {
		t.Fatalf("SweepInitiated() error = %v", err)
	}

	msg := p.producer.messages()[0].asDelivery()
	for i := 0; i < 3; i++ {
		if err := p.worker.Consume(ctx, msg); err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
	}

	observed := p.ledger.observed("mono-1")
	want := []domain.Status{
		domain.StatusInitiated,
		domain.StatusInitiated,
		domain.StatusInitiated,
		domain.StatusProduced,
		domain.StatusConsumed,
		domain.StatusSent,
	}
	if len(observed) != len(want) {
		t.Fatalf("observed = %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("observed = %v, want %v", observed, want)
		}
	}
	assertMonotonic(t, observed)
}

// Two redelivered copies that both pass the sent check before either marks
// the row Sent are both handed to the transport. The row still ends Sent.
func TestPipelineConcurrentRedeliveryMaySendTwice(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, nil)
	ctx := context.Background()
	if _, err := p.service.Initiate(ctx, "race-1", domain.RoutingKeyRegistered, []byte(registeredPayload)); err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	msg := p.producer.messages()[0].asDelivery()

	var inSend sync.WaitGroup
	inSend.Add(2)
	released := make(chan struct{})
	var timedOut atomic.Bool
	p.provider.sendFn = func(ctx context.Context, email provider.Email) (*provider.ProviderResponse, error) {
		inSend.Done()
		select {
		case <-released:
		case <-time.After(2 * time.Second):
			timedOut.Store(true)
		}
		return &provider.ProviderResponse{StatusCode: 200}, nil
	}
	go func() {
		inSend.Wait()
		close(released)
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.worker.Consume(ctx, msg)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
	}
	if timedOut.Load() {
		t.Fatal("both copies should reach the transport before either finishes")
	}
	if p.provider.count() != 2 {
		t.Fatalf("sends = %d, want 2", p.provider.count())
	}
	if got := p.notification(t, "race-1").Status; got != domain.StatusSent {
		t.Fatalf("status = %s, want Sent", got)
	}
}
