// internal/broadcast/hub.go
package broadcast

import (
	"sync"

	"github.com/glacials/splits.io/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ScopeRace   = "race"
	ScopeGlobal = "global"
)

// Subscriber is one websocket's presence on a race or on the global feed.
type Subscriber struct {
	ID            uuid.UUID
	ParticipantID *uuid.UUID // nil when anonymous
	Out           chan Message
	// Cancel tears down the owning connection. The hub calls it when Out overflows.
	Cancel func()
}

// NewSubscriber creates a subscriber with a buffered outbound channel.
func NewSubscriber(participant *uuid.UUID, buffer int, cancel func()) *Subscriber {
	return &Subscriber{
		ID:            uuid.New(),
		ParticipantID: participant,
		Out:           make(chan Message, buffer),
		Cancel:        cancel,
	}
}

// Write pushes msg onto Out without blocking. It reports false when the buffer is full.
func (s *Subscriber) Write(msg Message) bool {
	select {
	case s.Out <- msg:
		return true
	default:
		return false
	}
}

// Hub is the in-process fan-out for race and global subscribers.
type Hub struct {
	mu     sync.RWMutex
	races  map[uuid.UUID]map[uuid.UUID]*Subscriber
	global map[uuid.UUID]*Subscriber
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		races:  make(map[uuid.UUID]map[uuid.UUID]*Subscriber),
		global: make(map[uuid.UUID]*Subscriber),
		logger: logger,
	}
}

// SubscribeRace registers sub for broadcasts about raceID.
func (h *Hub) SubscribeRace(raceID uuid.UUID, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.races[raceID]
	if !ok {
		subs = make(map[uuid.UUID]*Subscriber)
		h.races[raceID] = subs
	}
	if _, exists := subs[sub.ID]; !exists {
		subs[sub.ID] = sub
		metrics.SubscriberAdded(ScopeRace)
	}
}

func (h *Hub) UnsubscribeRace(raceID uuid.UUID, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.races[raceID]
	if !ok {
		return
	}
	if _, exists := subs[sub.ID]; exists {
		delete(subs, sub.ID)
		metrics.SubscriberRemoved(ScopeRace)
	}
	if len(subs) == 0 {
		delete(h.races, raceID)
	}
}

// SubscribeGlobal registers sub for the global race feed.
func (h *Hub) SubscribeGlobal(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.global[sub.ID]; !exists {
		h.global[sub.ID] = sub
		metrics.SubscriberAdded(ScopeGlobal)
	}
}

func (h *Hub) UnsubscribeGlobal(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.global[sub.ID]; exists {
		delete(h.global, sub.ID)
		metrics.SubscriberRemoved(ScopeGlobal)
	}
}

// RaceSubscribers returns how many subscribers are watching raceID.
func (h *Hub) RaceSubscribers(raceID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.races[raceID])
}

// BroadcastRace enqueues msg for every subscriber of raceID before returning.
func (h *Hub) BroadcastRace(raceID uuid.UUID, msg Message) {
	if !h.valid(msg) {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.races[raceID] {
		h.deliver(sub, msg)
	}
	metrics.RecordBroadcast(ScopeRace, msg.Type)
}

// BroadcastGlobal enqueues msg for every global subscriber before returning.
func (h *Hub) BroadcastGlobal(msg Message) {
	if !h.valid(msg) {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.global {
		h.deliver(sub, msg)
	}
	metrics.RecordBroadcast(ScopeGlobal, msg.Type)
}

func (h *Hub) valid(msg Message) bool {
	if err := msg.Validate(); err != nil {
		h.logger.WithError(err).Error("refusing to broadcast invalid message")
		return false
	}
	return true
}

// deliver drops a subscriber that can't keep up instead of letting it reorder or stall
// the feed. The client reconnects and receives a fresh snapshot.
func (h *Hub) deliver(sub *Subscriber, msg Message) {
	if sub.Write(msg) {
		return
	}
	metrics.RecordDropped()
	h.logger.WithFields(logrus.Fields{
		"subscriber": sub.ID,
		"type":       msg.Type,
	}).Warn("subscriber buffer full, disconnecting")
	if sub.Cancel != nil {
		sub.Cancel()
	}
}
