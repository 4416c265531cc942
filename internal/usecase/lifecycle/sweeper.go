package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// sweeper runs Manager.Sweep on a fixed interval. Overlapping ticks are skipped.
type sweeper struct {
	m *Manager

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	started bool
}

func newSweeper(m *Manager) *sweeper {
	return &sweeper{m: m}
}

func (s *sweeper) start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	logger := cronLogger{s.m.logger}
	s.cron = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cron.Schedule(constantDelay{interval}, cron.FuncJob(func() {
		s.m.Sweep(runCtx)
	}))
	s.cron.Start()
	s.started = true
	s.m.logger.Info("idle sweep started", "interval", interval, "timeout", s.m.config.IdleTimeout)
	return nil
}

func (s *sweeper) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false
}

// constantDelay fires at a fixed interval; unlike cron.Every it keeps sub-second precision.
type constantDelay struct {
	delay time.Duration
}

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
