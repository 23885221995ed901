package race

import (
	"context"
	"strings"

	"github.com/glacials/splits.io/internal/models"
	"github.com/google/uuid"
)

// ResolvePrefix returns the single race whose id starts with shortID. An empty prefix or
// no match yields ErrNotFound; more than one match yields ErrAmbiguous.
func ResolvePrefix(ctx context.Context, store Store, shortID string) (*models.Race, error) {
	prefix := strings.ToLower(strings.TrimSpace(shortID))
	if prefix == "" {
		return nil, ErrNotFound
	}
	ids, err := store.RaceIDsByPrefix(ctx, prefix, 2)
	if err != nil {
		return nil, transient("resolve prefix", err)
	}
	switch len(ids) {
	case 0:
		return nil, ErrNotFound
	case 1:
		r, err := store.GetRace(ctx, ids[0])
		if err != nil {
			return nil, transient("resolve prefix", err)
		}
		return r, nil
	default:
		return nil, ErrAmbiguous
	}
}

// ShortID returns the shortest prefix of id that matches exactly one race, scanning
// lengths from one upward. It falls back to the full id.
func ShortID(ctx context.Context, store Store, id uuid.UUID) (string, error) {
	full := id.String()
	for n := 1; n < len(full); n++ {
		ids, err := store.RaceIDsByPrefix(ctx, full[:n], 2)
		if err != nil {
			return "", transient("short id", err)
		}
		if len(ids) == 1 {
			return full[:n], nil
		}
	}
	return full, nil
}
