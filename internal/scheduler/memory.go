package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend keeps tasks in process memory. It loses them on restart; callers rely
// on recovery to re-arm.
type MemoryBackend struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tasks: make(map[string]Task)}
}

func (b *MemoryBackend) Schedule(_ context.Context, tasks ...Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tasks {
		if _, exists := b.tasks[t.Key()]; !exists {
			b.tasks[t.Key()] = t
		}
	}
	return nil
}

func (b *MemoryBackend) Due(_ context.Context, now time.Time, limit int) ([]Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var due []Task
	for _, t := range b.tasks {
		if !t.At.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].At.Equal(due[j].At) {
			return due[i].Key() < due[j].Key()
		}
		return due[i].At.Before(due[j].At)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (b *MemoryBackend) Ack(_ context.Context, t Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, t.Key())
	return nil
}

func (b *MemoryBackend) CancelRace(_ context.Context, raceID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, t := range b.tasks {
		if t.RaceID == raceID {
			delete(b.tasks, key)
		}
	}
	return nil
}

// Len reports how many tasks are armed.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}
