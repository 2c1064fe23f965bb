package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"github.com/kursadbilgin/notify-pipeline/internal/observability"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultInitiatedWait = 15 * time.Minute
	defaultProducedWait  = 10 * time.Minute
	defaultConsumedWait  = 10 * time.Minute
	defaultSweepHorizon  = 24 * time.Hour
	defaultMaxFailures   = 2
	defaultSweepPageSize = 100
)

// Reproducer republishes a stuck notification.
type Reproducer interface {
	Reproduce(ctx context.Context, n domain.Notification) error
}

// SweeperConfig sets the staleness thresholds of the sweeps. Zero values fall
// back to defaults.
type SweeperConfig struct {
	InitiatedWait time.Duration
	ProducedWait  time.Duration
	ConsumedWait  time.Duration
	// Horizon excludes rows older than now-Horizon as abandoned.
	Horizon     time.Duration
	MaxFailures int
	PageSize    int
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.InitiatedWait <= 0 {
		c.InitiatedWait = defaultInitiatedWait
	}
	if c.ProducedWait <= 0 {
		c.ProducedWait = defaultProducedWait
	}
	if c.ConsumedWait <= 0 {
		c.ConsumedWait = defaultConsumedWait
	}
	if c.Horizon <= 0 {
		c.Horizon = defaultSweepHorizon
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultSweepPageSize
	}
	c.PageSize = min(c.PageSize, repository.MaxPageSize)
	return c
}

// Sweeper scans the ledger for notifications whose status has not advanced
// in time.
type Sweeper struct {
	ledger     repository.Ledger
	reproducer Reproducer
	cfg        SweeperConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewSweeper(
	ledger repository.Ledger,
	reproducer Reproducer,
	cfg SweeperConfig,
	logger *zap.Logger,
) (*Sweeper, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if reproducer == nil {
		return nil, fmt.Errorf("reproducer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		ledger:     ledger,
		reproducer: reproducer,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *Sweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SweepInitiated retries stale Initiated rows in place and re-produces the
// ones that already reached MaxFailures.
func (s *Sweeper) SweepInitiated(ctx context.Context) error {
	stale, err := s.stale(ctx, domain.StatusInitiated, s.cfg.InitiatedWait)
	if err != nil {
		return err
	}

	for _, n := range stale {
		logger := s.logger.With(observability.NotificationFields(n.ContentID, n.RoutingKey)...)

		if n.Failures >= s.cfg.MaxFailures {
			if err := s.reproducer.Reproduce(ctx, n); err != nil {
				logger.Error("failed to reproduce stale notification", zap.Int("failures", n.Failures), zap.Error(err))
				s.metrics.IncSweepRows(domain.StatusInitiated.String(), "error")
				continue
			}
			s.metrics.IncSweepRows(domain.StatusInitiated.String(), "reproduced")
			continue
		}

		err := s.ledger.UpdateNotification(ctx, repository.ColumnID, n.ID, repository.Fields{
			IncrementFailures: true,
			From:              []domain.Status{domain.StatusInitiated},
		})
		if err != nil {
			logger.Warn("failed to increment notification failures", zap.Error(err))
			s.metrics.IncSweepRows(domain.StatusInitiated.String(), "error")
			continue
		}
		logger.Info("stale notification retried", zap.Int("failures", n.Failures+1))
		s.metrics.IncSweepRows(domain.StatusInitiated.String(), "incremented")
	}

	s.logger.Debug("initiated sweep finished", zap.Int("rows", len(stale)))
	return nil
}

// SweepProduced reports notifications the broker never delivered to a consumer.
func (s *Sweeper) SweepProduced(ctx context.Context) error {
	return s.alert(ctx, domain.StatusProduced, s.cfg.ProducedWait, "notification produced but never consumed")
}

// SweepConsumed reports notifications whose email send never completed.
func (s *Sweeper) SweepConsumed(ctx context.Context) error {
	// TODO: re-send stale Consumed rows once providers deduplicate by correlation id.
	return s.alert(ctx, domain.StatusConsumed, s.cfg.ConsumedWait, "notification consumed but never sent")
}

func (s *Sweeper) alert(ctx context.Context, status domain.Status, wait time.Duration, msg string) error {
	stale, err := s.stale(ctx, status, wait)
	if err != nil {
		return err
	}
	for _, n := range stale {
		s.logger.Warn(msg,
			zap.String("correlationId", n.ContentID),
			zap.String("routingKey", n.RoutingKey),
			zap.String("notificationId", n.ID),
			zap.Time("modified", n.Modified),
		)
		s.metrics.IncSweepRows(status.String(), "alerted")
	}
	return nil
}

// stale collects every row in status whose modified time lies in
// (now-Horizon, now-wait). All pages are read before any row is touched so
// updates do not shift the paging.
func (s *Sweeper) stale(ctx context.Context, status domain.Status, wait time.Duration) ([]domain.Notification, error) {
	now := s.now().UTC()
	after := now.Add(-s.cfg.Horizon)
	before := now.Add(-wait)
	filter := repository.Filter{
		Status:         &status,
		ModifiedAfter:  &after,
		ModifiedBefore: &before,
	}

	var out []domain.Notification
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := s.ledger.SelectNotifications(ctx, filter, page, s.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to select stale %s notifications: %w", status, err)
		}
		out = append(out, rows...)
		if len(rows) < s.cfg.PageSize {
			return out, nil
		}
	}
}
