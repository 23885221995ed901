// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"time"

	"github.com/glacials/splits.io/internal/metrics"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Scheduler polls a Backend and hands due tasks to a Handler.
type Scheduler struct {
	backend  Backend
	clock    clockwork.Clock
	interval time.Duration
	batch    int
	logger   *logrus.Logger
}

// Options tunes polling.
type Options struct {
	Interval time.Duration
	Batch    int
}

func New(backend Backend, clock clockwork.Clock, logger *logrus.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	return &Scheduler{
		backend:  backend,
		clock:    clock,
		interval: opts.Interval,
		batch:    opts.Batch,
		logger:   logger,
	}
}

// Schedule arms tasks. Re-arming an existing task is a no-op.
func (s *Scheduler) Schedule(ctx context.Context, tasks ...Task) error {
	return s.backend.Schedule(ctx, tasks...)
}

// CancelRace drops every task armed for the race. Only race deletion calls this.
func (s *Scheduler) CancelRace(ctx context.Context, raceID uuid.UUID) error {
	return s.backend.CancelRace(ctx, raceID)
}

// Run polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context, h Handler) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.WithField("interval", s.interval).Info("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.Chan():
			if _, err := s.Tick(ctx, h); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("scheduler tick failed")
			}
		}
	}
}

// Tick fires every task due at the current clock time and reports how many were acked.
// A task whose handler fails stays armed and is retried on a later tick.
func (s *Scheduler) Tick(ctx context.Context, h Handler) (int, error) {
	now := s.clock.Now()
	due, err := s.backend.Due(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, t := range due {
		if t.At.After(now) {
			continue
		}
		log := s.logger.WithFields(logrus.Fields{
			"race_id": t.RaceID,
			"task":    t.Kind,
			"at":      t.At,
		})
		if err := h.HandleTask(ctx, t); err != nil {
			metrics.RecordTask(string(t.Kind), "error", now.Sub(t.At))
			log.WithError(err).Warn("task handler failed, will retry")
			continue
		}
		if err := s.backend.Ack(ctx, t); err != nil {
			log.WithError(err).Warn("failed to ack task")
			continue
		}
		metrics.RecordTask(string(t.Kind), "fired", now.Sub(t.At))
		log.Debug("task fired")
		fired++
	}
	return fired, nil
}
