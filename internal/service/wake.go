package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
)

// DefaultWakeSchedule runs the sweep daily at 17:00
const DefaultWakeSchedule = "0 0 17 * * *"

var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper runs one wake sweep
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*usecase.SweepResult, error)
}

// WakeScheduler runs wake sweeps on a cron schedule
type WakeScheduler struct {
	sweeper  Sweeper
	schedule string
	now      func() time.Time
	logger   *zap.Logger

	// Only one sweep at a time, whether scheduled or manual
	sweepMu sync.Mutex

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewWakeScheduler creates a new wake scheduler. The schedule takes a
// seconds field, e.g. "0 0 17 * * *", or a descriptor such as "@hourly".
func NewWakeScheduler(sweeper Sweeper, schedule string, logger *zap.Logger) (*WakeScheduler, error) {
	if schedule == "" {
		schedule = DefaultWakeSchedule
	}
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid wake schedule %q: %w", schedule, err)
	}
	return &WakeScheduler{
		sweeper:  sweeper,
		schedule: schedule,
		now:      time.Now,
		logger:   logger.Named("wake-scheduler"),
	}, nil
}

// Start begins the schedule. Sweeps run with ctx, which Stop cancels.
func (s *WakeScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("wake scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	cronLogger := cronZapLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.RunWakeSweep(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule wake sweep: %w", err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.logger.Info("wake scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop cancels a running sweep and waits for it to return
func (s *WakeScheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("wake scheduler stopped")
}

// RunWakeSweep runs one sweep now. Errors and panics are logged and
// reported through the returned error.
func (s *WakeScheduler) RunWakeSweep(ctx context.Context) (res *usecase.SweepResult, err error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("wake sweep panicked: %v", r)
			s.logger.Error("wake sweep panicked", zap.Any("panic", r))
		}
	}()

	start := s.now()
	res, err = s.sweeper.Sweep(ctx, start)
	if err != nil {
		s.logger.Error("wake sweep failed", zap.Error(err))
		return res, err
	}
	s.logger.Info("wake sweep done",
		zap.Int("scanned", res.Scanned),
		zap.Int("idle", res.Idle),
		zap.Int("sent", res.Sent),
		zap.Int("silent", res.Silent),
		zap.Int("failed", res.Failed),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

// cronZapLogger adapts zap to cron.Logger
type cronZapLogger struct {
	s *zap.SugaredLogger
}

func (l cronZapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronZapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
