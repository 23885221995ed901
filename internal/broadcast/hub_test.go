package broadcast

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/glacials/splits.io/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// recorder collects broadcasts instead of sending them anywhere.
type recorder struct {
	mu     sync.Mutex
	race   map[uuid.UUID][]Message
	global []Message
}

func newRecorder() *recorder {
	return &recorder{race: make(map[uuid.UUID][]Message)}
}

func (r *recorder) BroadcastRace(id uuid.UUID, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.race[id] = append(r.race[id], msg)
}

func (r *recorder) BroadcastGlobal(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = append(r.global, msg)
}

func TestMessageValidate(t *testing.T) {
	assert.NoError(t, New(TypeEnded, "The race has ended", nil).Validate())
	assert.NoError(t, New(SuccessType("ready"), "Entrant ready successful", nil).Validate())
	assert.Error(t, New("race_exploded", "boom", nil).Validate())
	assert.Error(t, New(TypeEnded, "  ", nil).Validate())
}

func TestNewSnapshotsRace(t *testing.T) {
	r := &models.Race{ID: uuid.New(), Notes: "Any%\nno major glitches", JoinToken: "secret"}
	msg := New(TypeEntrantsUpdated, "An entrant has joined the race", r)
	require.NotNil(t, msg.Race)
	assert.Equal(t, "Any%", msg.Race.Title)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestHubPreservesOrderPerRace(t *testing.T) {
	hub := NewHub(quietLogger())
	raceID := uuid.New()
	sub := NewSubscriber(nil, 64, nil)
	hub.SubscribeRace(raceID, sub)

	for i := 0; i < 20; i++ {
		hub.BroadcastRace(raceID, New(TypeEntrantsUpdated, fmt.Sprintf("update %d", i), nil))
	}
	for i := 0; i < 20; i++ {
		msg := <-sub.Out
		assert.Equal(t, fmt.Sprintf("update %d", i), msg.Message)
	}
}

func TestHubScopes(t *testing.T) {
	hub := NewHub(quietLogger())
	raceA, raceB := uuid.New(), uuid.New()
	subA := NewSubscriber(nil, 8, nil)
	subB := NewSubscriber(nil, 8, nil)
	global := NewSubscriber(nil, 8, nil)
	hub.SubscribeRace(raceA, subA)
	hub.SubscribeRace(raceB, subB)
	hub.SubscribeGlobal(global)

	hub.BroadcastRace(raceA, New(TypeEnded, "The race has ended", nil))
	hub.BroadcastGlobal(New(TypeEnded, "A race has ended", nil))

	assert.Len(t, subA.Out, 1)
	assert.Len(t, subB.Out, 0)
	assert.Len(t, global.Out, 1)

	hub.UnsubscribeRace(raceA, subA)
	assert.Equal(t, 0, hub.RaceSubscribers(raceA))
	hub.UnsubscribeGlobal(global)
	hub.BroadcastGlobal(New(TypeEnded, "A race has ended", nil))
	assert.Len(t, global.Out, 1)
}

func TestHubDropsInvalidMessages(t *testing.T) {
	hub := NewHub(quietLogger())
	raceID := uuid.New()
	sub := NewSubscriber(nil, 8, nil)
	hub.SubscribeRace(raceID, sub)

	hub.BroadcastRace(raceID, Message{Type: "nope", Message: "x"})
	assert.Len(t, sub.Out, 0)
}

func TestHubCancelsSlowSubscriber(t *testing.T) {
	hub := NewHub(quietLogger())
	raceID := uuid.New()
	cancelled := false
	sub := NewSubscriber(nil, 1, func() { cancelled = true })
	hub.SubscribeRace(raceID, sub)

	hub.BroadcastRace(raceID, New(TypeEntrantsUpdated, "one", nil))
	assert.False(t, cancelled)
	hub.BroadcastRace(raceID, New(TypeEntrantsUpdated, "two", nil))
	assert.True(t, cancelled)
}

func TestMultiFansOut(t *testing.T) {
	a, b := newRecorder(), newRecorder()
	raceID := uuid.New()
	Multi{a, b}.BroadcastRace(raceID, New(TypeEnded, "The race has ended", nil))
	Multi{a, b}.BroadcastGlobal(New(TypeEnded, "A race has ended", nil))

	for _, r := range []*recorder{a, b} {
		assert.Len(t, r.race[raceID], 1)
		assert.Len(t, r.global, 1)
	}
}

func TestNATSRelayReceive(t *testing.T) {
	local := newRecorder()
	relay := NewNATSRelay(nil, local, quietLogger())
	raceID := uuid.New()

	remote, err := json.Marshal(envelope{Origin: "other", Message: New(TypeEnded, "The race has ended", nil)})
	require.NoError(t, err)
	relay.receive(&nats.Msg{Subject: subjectPrefix + raceID.String(), Data: remote})
	relay.receive(&nats.Msg{Subject: globalSubject, Data: remote})

	own, err := json.Marshal(envelope{Origin: relay.origin, Message: New(TypeEnded, "The race has ended", nil)})
	require.NoError(t, err)
	relay.receive(&nats.Msg{Subject: globalSubject, Data: own})
	relay.receive(&nats.Msg{Subject: subjectPrefix + "not-a-uuid", Data: remote})

	assert.Len(t, local.race[raceID], 1)
	assert.Len(t, local.global, 1)
}
