// internal/historian/historian.go pops broadcast records from a Redis queue and persists
// them in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glacials/splits.io/internal/cache"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Popper is the slice of the Redis client the historian reads with.
type Popper interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Sink persists a batch and reports how many records were written.
type Sink func(ctx context.Context, records []cache.RaceEventRecord) (int64, error)

// Options tunes batching. Zero values fall back to defaults.
type Options struct {
	Queue      string
	BatchSize  int
	FlushEvery time.Duration
	// MaxPending caps how many unflushed records are kept while the sink is failing.
	MaxPending int
}

// Service drains the queue into the sink.
type Service struct {
	rdb    Popper
	sink   Sink
	clock  clockwork.Clock
	logger *logrus.Logger
	opts   Options

	batch     []cache.RaceEventRecord
	lastFlush time.Time
}

func New(rdb Popper, sink Sink, clock clockwork.Clock, logger *logrus.Logger, opts Options) *Service {
	if opts.Queue == "" {
		opts.Queue = cache.DefaultQueueName
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = time.Second
	}
	if opts.MaxPending < opts.BatchSize {
		opts.MaxPending = 10 * opts.BatchSize
	}
	return &Service{
		rdb:       rdb,
		sink:      sink,
		clock:     clock,
		logger:    logger,
		opts:      opts,
		batch:     make([]cache.RaceEventRecord, 0, opts.BatchSize),
		lastFlush: clock.Now(),
	}
}

// Run pops until ctx is cancelled, then flushes whatever is left.
func (s *Service) Run(ctx context.Context) {
	s.logger.WithField("queue", s.opts.Queue).Info("historian started")
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.flush(flushCtx)
		s.logger.Info("historian stopped")
	}()

	for ctx.Err() == nil {
		s.pop(ctx)
		if len(s.batch) >= s.opts.BatchSize || s.clock.Since(s.lastFlush) >= s.opts.FlushEvery {
			s.flush(ctx)
		}
	}
}

// pop waits up to FlushEvery for one record.
func (s *Service) pop(ctx context.Context) {
	res, err := s.rdb.BLPop(ctx, s.opts.FlushEvery, s.opts.Queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			s.logger.WithError(err).Warn("BLPop failed")
		}
		return
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return
	}
	var record cache.RaceEventRecord
	if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
		s.logger.WithError(err).Warn("invalid race event record")
		return
	}
	s.batch = append(s.batch, record)
}

// flush writes the batch. On failure the records stay queued in memory for the next
// attempt, oldest dropped first once MaxPending is exceeded.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = s.clock.Now()
	if len(s.batch) == 0 {
		return
	}
	n, err := s.sink(ctx, s.batch)
	if err != nil {
		if over := len(s.batch) - s.opts.MaxPending; over > 0 {
			s.batch = append(s.batch[:0], s.batch[over:]...)
			s.logger.WithField("dropped", over).Error("historian backlog full, dropping oldest records")
		}
		s.logger.WithError(err).WithField("pending", len(s.batch)).Error("failed to persist race events")
		return
	}
	s.logger.WithField("count", n).Debug("flushed race events")
	s.batch = s.batch[:0]
}
