package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeDigestSource struct {
	loadFn func(ctx context.Context, date string) ([]domain.UserLikes, error)
}

func (f *fakeDigestSource) Load(ctx context.Context, date string) ([]domain.UserLikes, error) {
	return f.loadFn(ctx, date)
}

func digestUser(id string) domain.UserLikes {
	return domain.UserLikes{
		UserID:    id,
		UserEmail: id + "@example.com",
		FirstName: "Reviewer",
		LastName:  "Person",
		Reviews:   []domain.ReviewLikes{{ReviewID: "r-" + id, Title: "Solaris", Likes: 3}},
	}
}

func newTestDigestJob(t *testing.T, p *pipeline, source DigestSource, logger *zap.Logger) *DigestJob {
	t.Helper()
	job, err := NewDigestJob(source, p.service, logger)
	if err != nil {
		t.Fatalf("NewDigestJob() error = %v", err)
	}
	job.now = p.clock.Now
	return job
}

func TestNewDigestJobValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewDigestJob(nil, &NotificationService{}, nil); err == nil {
		t.Fatal("expected error when source is nil")
	}
	if _, err := NewDigestJob(&fakeDigestSource{}, nil, nil); err == nil {
		t.Fatal("expected error when initiator is nil")
	}
}

func TestDigestJobInitiatesYesterdaysDigest(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, nil)
	invalid := digestUser("broken")
	invalid.UserEmail = "not-an-email"

	var gotDate string
	source := &fakeDigestSource{loadFn: func(ctx context.Context, date string) ([]domain.UserLikes, error) {
		gotDate = date
		return []domain.UserLikes{digestUser("u1"), invalid, digestUser("u2")}, nil
	}}

	if err := newTestDigestJob(t, p, source, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gotDate != "2026-10-17" {
		t.Fatalf("date = %q, want 2026-10-17", gotDate)
	}

	produced := p.producer.messages()
	if len(produced) != 1 {
		t.Fatalf("produced = %d, want 1", len(produced))
	}
	if produced[0].correlationID != "likes-for-reviews:2026-10-17" || produced[0].routingKey != domain.RoutingKeyLikesForReviews {
		t.Fatalf("produced = %+v", produced[0])
	}

	var digest domain.LikesDigest
	if err := json.Unmarshal(produced[0].payload, &digest); err != nil {
		t.Fatalf("payload is not a digest: %v", err)
	}
	if digest.Date != "2026-10-17" || len(digest.Users) != 2 {
		t.Fatalf("digest = %+v, want 2 valid users", digest)
	}

	if err := p.worker.Consume(context.Background(), produced[0].asDelivery()); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if p.provider.count() != 2 {
		t.Fatalf("sends = %d, want 2", p.provider.count())
	}
}

func TestDigestJobRerunIsLogged(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	p := newPipeline(t, nil)
	source := &fakeDigestSource{loadFn: func(ctx context.Context, date string) ([]domain.UserLikes, error) {
		return []domain.UserLikes{digestUser("u1")}, nil
	}}
	job := newTestDigestJob(t, p, source, zap.New(core))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}
	if len(p.producer.messages()) != 1 {
		t.Fatalf("produced = %d, want 1", len(p.producer.messages()))
	}
	if recorded.FilterMessage("likes digest already initiated").Len() != 1 {
		t.Fatal("expected the re-run to be logged")
	}
}

func TestDigestJobSkipsEmptyDigest(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, nil)
	source := &fakeDigestSource{loadFn: func(ctx context.Context, date string) ([]domain.UserLikes, error) {
		return nil, nil
	}}

	if err := newTestDigestJob(t, p, source, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(p.producer.messages()) != 0 {
		t.Fatal("empty digest must not be initiated")
	}
	if _, err := p.service.GetByCorrelationID(context.Background(), DigestCorrelationID("2026-10-17")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByCorrelationID() error = %v, want ErrNotFound", err)
	}
}

func TestDigestJobSourceError(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, nil)
	loadErr := errors.New("redis down")
	source := &fakeDigestSource{loadFn: func(ctx context.Context, date string) ([]domain.UserLikes, error) {
		return nil, loadErr
	}}

	if err := newTestDigestJob(t, p, source, nil).Run(context.Background()); !errors.Is(err, loadErr) {
		t.Fatalf("Run() error = %v, want load error", err)
	}
}
