// internal/handlers/server.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/models"
	"github.com/glacials/splits.io/internal/race"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const activeCacheKey = "active"

// ServerOptions tunes the transport layer.
type ServerOptions struct {
	OriginPatterns []string
	CommandRate    float64
	CommandBurst   int
	SendBuffer     int
	ActiveCacheTTL time.Duration
	ActiveLimit    int
}

// RaceServer holds what the race HTTP and websocket handlers share.
type RaceServer struct {
	races  *race.Service
	hub    *broadcast.Hub
	clock  clockwork.Clock
	logger *logrus.Logger

	originPatterns []string
	commandRate    rate.Limit
	commandBurst   int
	sendBuffer     int
	activeLimit    int
	// ActiveCache holds the public active race list for a few seconds.
	ActiveCache *cache.Cache
}

func NewRaceServer(races *race.Service, hub *broadcast.Hub, clock clockwork.Clock, logger *logrus.Logger, opts ServerOptions) *RaceServer {
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{"*"}
	}
	if opts.CommandRate <= 0 {
		opts.CommandRate = 5
	}
	if opts.CommandBurst <= 0 {
		opts.CommandBurst = 10
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.ActiveCacheTTL <= 0 {
		opts.ActiveCacheTTL = 3 * time.Second
	}
	if opts.ActiveLimit <= 0 {
		opts.ActiveLimit = 100
	}
	return &RaceServer{
		races:          races,
		hub:            hub,
		clock:          clock,
		logger:         logger,
		originPatterns: opts.OriginPatterns,
		commandRate:    rate.Limit(opts.CommandRate),
		commandBurst:   opts.CommandBurst,
		sendBuffer:     opts.SendBuffer,
		activeLimit:    opts.ActiveLimit,
		ActiveCache:    cache.New(opts.ActiveCacheTTL, 2*opts.ActiveCacheTTL),
	}
}

// Routes registers every race endpoint on mux, each wrapped by wrap.
func (s *RaceServer) Routes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /races", wrap(http.HandlerFunc(s.ListRacesHandler)))
	mux.Handle("GET /races/{prefix}", wrap(http.HandlerFunc(s.ShowRaceHandler)))
	mux.Handle("GET /races/ws/{id}", wrap(http.HandlerFunc(s.RaceWSHandler)))
	mux.Handle("GET /races/global/ws", wrap(http.HandlerFunc(s.GlobalWSHandler)))
}

// lookup accepts either a full race id or a short id prefix.
func (s *RaceServer) lookup(ctx context.Context, id string) (*models.Race, error) {
	if parsed, err := uuid.Parse(id); err == nil {
		return s.races.Find(ctx, parsed)
	}
	return race.ResolvePrefix(ctx, s.races.Store(), id)
}

// activeSnapshots lists active races that are not secret, served from ActiveCache when fresh.
func (s *RaceServer) activeSnapshots(ctx context.Context) ([]*models.RaceSnapshot, error) {
	if cached, ok := s.ActiveCache.Get(activeCacheKey); ok {
		return cached.([]*models.RaceSnapshot), nil
	}
	races, err := s.races.ActiveRaces(ctx, s.activeLimit)
	if err != nil {
		return nil, err
	}
	snaps := make([]*models.RaceSnapshot, 0, len(races))
	for _, r := range races {
		snaps = append(snaps, models.NewRaceSnapshot(r))
	}
	s.ActiveCache.SetDefault(activeCacheKey, snaps)
	return snaps, nil
}

// racePath is the short, shareable path of a race.
func (s *RaceServer) racePath(ctx context.Context, id uuid.UUID) string {
	short, err := race.ShortID(ctx, s.races.Store(), id)
	if err != nil {
		s.logger.WithError(err).WithField("race_id", id).Warn("short id lookup failed")
		short = id.String()
	}
	return "/races/" + short
}

// httpStatus maps race errors onto HTTP statuses.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, race.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, race.ErrAuthorizationDenied), errors.Is(err, race.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, race.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
