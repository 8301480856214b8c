// Package schedule runs the execution cycle on a fixed cadence and stops
// the loop on a hard halt.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one execution cycle.
type Job func(ctx context.Context) error

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	every   time.Duration
	isFatal func(error) bool

	once  sync.Once
	fatal chan error
}

// New builds a runner that fires every interval. Overlapping firings are
// skipped while a cycle is still running. isFatal decides which job errors
// end the loop.
func New(logger *zap.Logger, every time.Duration, isFatal func(error) bool) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Named("cron")}
	return &Runner{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		every:   every,
		isFatal: isFatal,
		fatal:   make(chan error, 1),
	}
}

// Run schedules job and blocks until ctx is done or a job returns a fatal
// error, which Run returns. The first cycle starts immediately.
func (r *Runner) Run(ctx context.Context, job Job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tick := func() {
		if ctx.Err() != nil {
			return
		}
		err := job(ctx)
		if err == nil {
			return
		}
		if r.isFatal != nil && r.isFatal(err) {
			r.once.Do(func() { r.fatal <- err })
			return
		}
		r.logger.Warn("cycle failed", zap.Error(err))
	}

	id, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.every), tick)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	r.logger.Info("scheduler started", zap.Duration("every", r.every))
	r.cron.Start()
	go r.cron.Entry(id).WrappedJob.Run()

	defer func() {
		<-r.cron.Stop().Done()
		r.logger.Info("scheduler stopped")
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-r.fatal:
		return err
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
