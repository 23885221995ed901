// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the historian drains.
const DefaultQueueName = "race_events"

// RaceEventRecord is one broadcast as the historian stores it.
type RaceEventRecord struct {
	RaceID    *uuid.UUID      `json:"race_id,omitempty"`
	Scope     string          `json:"scope"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"` // epoch millis
}

// ConnectRedis opens a client to addr/db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Pusher is the slice of the Redis client the history queue needs.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// PublishRaceEvent serializes record and pushes it onto queue.
func PublishRaceEvent(ctx context.Context, rdb Pusher, queue string, record RaceEventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal RaceEventRecord: %w", err)
	}
	if err := rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queue, err)
	}
	return nil
}

// HistoryRecorder is a broadcast.Dispatcher that queues every broadcast for the
// historian. Pushes happen on a single background worker so broadcasting never waits
// on Redis.
type HistoryRecorder struct {
	rdb    Pusher
	queue  string
	logger *logrus.Logger
	now    func() time.Time

	mu      sync.RWMutex
	closed  bool
	records chan RaceEventRecord
	wg      sync.WaitGroup
}

// NewHistoryRecorder starts the push worker. Close stops it after draining.
func NewHistoryRecorder(rdb Pusher, queue string, buffer int, logger *logrus.Logger) *HistoryRecorder {
	if queue == "" {
		queue = DefaultQueueName
	}
	h := &HistoryRecorder{
		rdb:     rdb,
		queue:   queue,
		logger:  logger,
		now:     time.Now,
		records: make(chan RaceEventRecord, buffer),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *HistoryRecorder) BroadcastRace(raceID uuid.UUID, msg broadcast.Message) {
	id := raceID
	h.enqueue(&id, broadcast.ScopeRace, msg)
}

func (h *HistoryRecorder) BroadcastGlobal(msg broadcast.Message) {
	var raceID *uuid.UUID
	if msg.Race != nil {
		id := msg.Race.ID
		raceID = &id
	}
	h.enqueue(raceID, broadcast.ScopeGlobal, msg)
}

func (h *HistoryRecorder) enqueue(raceID *uuid.UUID, scope string, msg broadcast.Message) {
	var payload json.RawMessage
	if msg.Race != nil {
		data, err := json.Marshal(msg.Race)
		if err != nil {
			h.logger.WithError(err).Warn("failed to marshal race snapshot for history")
		} else {
			payload = data
		}
	}
	record := RaceEventRecord{
		RaceID:    raceID,
		Scope:     scope,
		Type:      msg.Type,
		Message:   msg.Message,
		Payload:   payload,
		Timestamp: h.now().UnixMilli(),
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.records <- record:
	default:
		h.logger.WithField("type", msg.Type).Warn("history queue full, dropping race event")
	}
}

func (h *HistoryRecorder) run() {
	defer h.wg.Done()
	for record := range h.records {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := PublishRaceEvent(ctx, h.rdb, h.queue, record); err != nil {
			h.logger.WithError(err).Warn("failed to queue race event")
		}
		cancel()
	}
}

// Close stops accepting records and waits for queued ones to be pushed.
func (h *HistoryRecorder) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.records)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
