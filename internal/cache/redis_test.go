package cache

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeList records RPush calls in place of Redis.
type fakeList struct {
	mu    sync.Mutex
	lists map[string][]string
}

func (f *fakeList) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lists == nil {
		f.lists = map[string][]string{}
	}
	for _, v := range values {
		f.lists[key] = append(f.lists[key], string(v.([]byte)))
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func TestHistoryRecorderQueuesBroadcasts(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	list := &fakeList{}
	rec := NewHistoryRecorder(list, "", 16, logger)
	rec.now = func() time.Time { return time.UnixMilli(1700000000000) }

	r := &models.Race{ID: uuid.New(), Notes: "Any%"}
	rec.BroadcastRace(r.ID, broadcast.New(broadcast.TypeEntrantsUpdated, "An entrant has readied up", r))
	rec.BroadcastGlobal(broadcast.New(broadcast.TypeEnded, "A race has ended", r))
	rec.Close()
	// late broadcasts after shutdown are ignored
	rec.BroadcastGlobal(broadcast.New(broadcast.TypeEnded, "A race has ended", r))

	require.Len(t, list.lists[DefaultQueueName], 2)
	var first RaceEventRecord
	require.NoError(t, json.Unmarshal([]byte(list.lists[DefaultQueueName][0]), &first))
	assert.Equal(t, broadcast.ScopeRace, first.Scope)
	assert.Equal(t, r.ID, *first.RaceID)
	assert.Equal(t, "race_entrants_updated", first.Type)
	assert.Equal(t, int64(1700000000000), first.Timestamp)
	assert.Contains(t, string(first.Payload), `"title":"Any%"`)

	var second RaceEventRecord
	require.NoError(t, json.Unmarshal([]byte(list.lists[DefaultQueueName][1]), &second))
	assert.Equal(t, broadcast.ScopeGlobal, second.Scope)
	assert.Equal(t, r.ID, *second.RaceID)
}
