// Package scheduler runs named periodic jobs on cron or interval specs.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a periodic task. The context is canceled when the scheduler stops.
type Job func(ctx context.Context) error

// Option configures a registered job.
type Option func(*entry)

// RunOnStart runs the job once as soon as the scheduler starts.
func RunOnStart() Option {
	return func(e *entry) { e.runOnStart = true }
}

type entry struct {
	name       string
	spec       string
	job        Job
	runOnStart bool

	// running is held while the job runs, so a cron tick never overlaps the
	// run started by RunOnStart.
	running sync.Mutex
}

// Scheduler accepts 5-field and 6-field (seconds) cron specs and descriptors
// such as "@every 5m" or "@daily".
type Scheduler struct {
	parser cron.Parser
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	runCtx  context.Context
	started bool

	initial sync.WaitGroup
}

func New(timezone string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone %q: %w", timezone, err)
		}
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronLogger := zapCronLogger{logger: logger.Sugar()}

	return &Scheduler{
		parser: parser,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		entries: map[string]*entry{},
		runCtx:  context.Background(),
	}, nil
}

// Register adds job under a unique name. Jobs must be registered before Start.
func (s *Scheduler) Register(name, spec string, job Job, opts ...Option) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if job == nil {
		return fmt.Errorf("job %q: function is required", name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("job %q: scheduler already started", name)
	}
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	e := &entry{name: name, spec: spec, job: job}
	for _, opt := range opts {
		opt(e)
	}

	if _, err := s.cron.AddFunc(spec, func() { s.run(e) }); err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	s.entries[name] = e

	s.logger.Info("job registered",
		zap.String("job", name),
		zap.String("schedule", spec),
	)
	return nil
}

// Start runs the registered jobs until ctx is canceled, then waits for
// running jobs to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.runCtx = ctx
	initial := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.runOnStart {
			initial = append(initial, e)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)))

	for _, e := range initial {
		e := e
		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			s.run(e)
		}()
	}

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.initial.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Trigger runs a registered job once, synchronously.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q is not registered", name)
	}
	return e.job(ctx)
}

func (s *Scheduler) run(e *entry) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if !e.running.TryLock() {
		s.logger.Info("job still running, skipping", zap.String("job", e.name))
		return
	}
	defer e.running.Unlock()

	start := time.Now()
	if err := e.job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("job failed",
			zap.String("job", e.name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("job finished",
		zap.String("job", e.name),
		zap.Duration("took", time.Since(start)),
	)
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
