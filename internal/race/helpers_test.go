package race

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/models"
	"github.com/glacials/splits.io/internal/scheduler"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster collects broadcasts instead of sending them over websockets.
type mockBroadcaster struct {
	mu     sync.Mutex
	race   map[uuid.UUID][]broadcast.Message
	global []broadcast.Message
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{race: make(map[uuid.UUID][]broadcast.Message)}
}

func (mb *mockBroadcaster) BroadcastRace(raceID uuid.UUID, msg broadcast.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.race[raceID] = append(mb.race[raceID], msg)
}

func (mb *mockBroadcaster) BroadcastGlobal(msg broadcast.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.global = append(mb.global, msg)
}

// count returns how many race-scope messages of typ were sent for raceID.
func (mb *mockBroadcaster) count(raceID uuid.UUID, typ string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, m := range mb.race[raceID] {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (mb *mockBroadcaster) countGlobal(typ string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, m := range mb.global {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (mb *mockBroadcaster) messages(raceID uuid.UUID) []string {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]string, 0, len(mb.race[raceID]))
	for _, m := range mb.race[raceID] {
		out = append(out, m.Message)
	}
	return out
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *clockwork.FakeClock
	store   *MemoryStore
	backend *scheduler.MemoryBackend
	sched   *scheduler.Scheduler
	mb      *mockBroadcaster
	svc     *Service
	logger  *logrus.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC))
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		clock:  clock,
		store:  NewMemoryStore(clock),
		mb:     newMockBroadcaster(),
		logger: logger,
	}
	h.restart()
	return h
}

// restart replaces everything but the store, as a process restart with an empty
// in-memory task backend would.
func (h *harness) restart() {
	h.backend = scheduler.NewMemoryBackend()
	h.sched = scheduler.New(h.backend, h.clock, h.logger, scheduler.Options{})
	h.svc = NewService(h.store, h.sched, h.mb, h.clock, h.logger)
}

// tick advances the clock by d and fires whatever became due.
func (h *harness) tick(d time.Duration) int {
	h.t.Helper()
	h.clock.Advance(d)
	n, err := h.sched.Tick(h.ctx, h.svc)
	require.NoError(h.t, err)
	return n
}

func (h *harness) newRace(owner uuid.UUID, visibility models.Visibility) *models.Race {
	h.t.Helper()
	category := int64(42)
	r, err := h.svc.Create(h.ctx, &owner, CreateParams{
		Kind:       models.KindStandard,
		Visibility: string(visibility),
		CategoryID: &category,
		Notes:      "Any%",
	})
	require.NoError(h.t, err)
	return r
}

func (h *harness) run(cmd Command, raceID uuid.UUID, participant uuid.UUID) (*models.Race, error) {
	return h.svc.Execute(h.ctx, cmd, raceID, &participant, CommandOptions{})
}

func (h *harness) mustRun(cmd Command, raceID uuid.UUID, participant uuid.UUID) *models.Race {
	h.t.Helper()
	r, err := h.run(cmd, raceID, participant)
	require.NoError(h.t, err)
	return r
}

func (h *harness) reload(raceID uuid.UUID) *models.Race {
	h.t.Helper()
	r, err := h.store.GetRace(h.ctx, raceID)
	require.NoError(h.t, err)
	return r
}
