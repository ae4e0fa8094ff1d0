// Package janitor periodically removes staging tables abandoned by interrupted
// ingestions.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mimir-aip/mimir-insight/pkg/logging"
)

// DefaultSchedule runs the sweep every fifteen minutes
const DefaultSchedule = "@every 15m"

// Sweeper drops staging tables older than a given age
type Sweeper interface {
	SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config configures the janitor
type Config struct {
	Schedule string
	MaxAge   time.Duration
}

// Service runs the sweep on a cron schedule
type Service struct {
	sweeper Sweeper
	maxAge  time.Duration
	cron    *cron.Cron
	logger  *logging.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	started bool
}

// NewService creates a janitor. The schedule accepts standard cron expressions and
// descriptors such as "@every 15m".
func NewService(sweeper Sweeper, cfg Config, logger *logging.Logger) (*Service, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}

	log := logging.OrDefault(logger)
	cronLog := cronLogger{logger: log}
	s := &Service{
		sweeper: sweeper,
		maxAge:  cfg.MaxAge,
		logger:  log,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.RunOnce(context.Background())
	}))
	return s, nil
}

// Start starts the scheduler
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("Janitor started",
		logging.Component("janitor"),
		logging.Duration("max_age", s.maxAge))
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Janitor stopped", logging.Component("janitor"))
}

// Next returns the time of the next scheduled sweep, or the zero time before Start
func (s *Service) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunOnce sweeps immediately and returns the number of tables dropped
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	swept, err := s.sweeper.SweepOrphans(ctx, s.maxAge)
	if err != nil {
		s.logger.Error("Staging sweep failed", err, logging.Component("janitor"))
		return swept, err
	}
	s.logger.Debug("Staging sweep completed",
		logging.Component("janitor"),
		logging.Int("swept", swept),
		logging.Duration("duration", time.Since(start)))
	return swept, nil
}

// cronLogger routes cron's own messages into the structured logger
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, append(cronFields(keysAndValues), logging.Component("janitor"))...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, err, append(cronFields(keysAndValues), logging.Component("janitor"))...)
}

func cronFields(keysAndValues []any) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.String(fmt.Sprint(keysAndValues[i]), fmt.Sprint(keysAndValues[i+1])))
	}
	return fields
}
