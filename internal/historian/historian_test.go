// internal/historian/historian_test.go
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glacials/splits.io/internal/cache"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue pops pre-loaded payloads and reports redis.Nil once empty.
type fakeQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *fakeQueue) push(t *testing.T, rec cache.RaceEventRecord) {
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	q.pushRaw(string(data))
}

func (q *fakeQueue) pushRaw(s string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, s)
}

func (q *fakeQueue) BLPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		cmd.SetVal([]string{keys[0], item})
		return cmd
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		cmd.SetErr(ctx.Err())
	case <-time.After(time.Millisecond):
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]cache.RaceEventRecord
	fail    int
}

func (s *recordingSink) write(_ context.Context, recs []cache.RaceEventRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return 0, errors.New("database unavailable")
	}
	s.batches = append(s.batches, append([]cache.RaceEventRecord(nil), recs...))
	return int64(len(recs)), nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func record(typ string) cache.RaceEventRecord {
	id := uuid.New()
	return cache.RaceEventRecord{RaceID: &id, Scope: "race", Type: typ, Message: "x", Timestamp: 1710007200000}
}

func run(t *testing.T, svc *Service) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("historian did not stop")
		}
	}
}

func TestFlushesFullBatches(t *testing.T) {
	q := &fakeQueue{}
	sink := &recordingSink{}
	for i := 0; i < 4; i++ {
		q.push(t, record("race_entrants_updated"))
	}
	svc := New(q, sink.write, clockwork.NewFakeClock(), quietLogger(), Options{BatchSize: 2, FlushEvery: time.Hour})

	stop := run(t, svc)
	require.Eventually(t, func() bool { return sink.total() == 4 }, time.Second, 5*time.Millisecond)
	stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[0], 2)
}

func TestFlushesRemainderOnStop(t *testing.T) {
	q := &fakeQueue{}
	sink := &recordingSink{}
	q.push(t, record("race_ended"))
	svc := New(q, sink.write, clockwork.NewFakeClock(), quietLogger(), Options{BatchSize: 10, FlushEvery: time.Hour})

	stop := run(t, svc)
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.items) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, sink.total())
	stop()
	assert.Equal(t, 1, sink.total())
}

func TestSkipsInvalidRecords(t *testing.T) {
	q := &fakeQueue{}
	sink := &recordingSink{}
	q.pushRaw("{garbage")
	q.push(t, record("race_ended"))
	svc := New(q, sink.write, clockwork.NewFakeClock(), quietLogger(), Options{BatchSize: 1, FlushEvery: time.Hour})

	stop := run(t, svc)
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, 1, sink.total())
}

func TestRetainsBatchWhenSinkFails(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{fail: 1}
	svc := New(&fakeQueue{}, sink.write, clock, quietLogger(), Options{BatchSize: 2, MaxPending: 3})

	svc.batch = append(svc.batch, record("a"), record("b"), record("c"), record("d"))
	svc.flush(context.Background())
	require.Len(t, svc.batch, 3, "oldest record dropped past MaxPending")
	assert.Equal(t, "b", svc.batch[0].Type)

	svc.flush(context.Background())
	assert.Empty(t, svc.batch)
	assert.Equal(t, 3, sink.total())
}
