package database

import (
	"context"
	"fmt"
	"time"

	"github.com/glacials/splits.io/internal/cache"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InsertRaceEvents bulk-copies historian records into race_events.
func InsertRaceEvents(ctx context.Context, pool *pgxpool.Pool, records []cache.RaceEventRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"race_events"},
		[]string{"race_id", "scope", "type", "message", "payload", "created_at"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			var payload any
			if len(r.Payload) > 0 {
				payload = string(r.Payload)
			}
			return []any{
				toPgUUID(r.RaceID), r.Scope, r.Type, r.Message, payload,
				time.UnixMilli(r.Timestamp).UTC(),
			}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copy %d race events: %w", len(records), err)
	}
	return n, nil
}
