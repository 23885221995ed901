// internal/handlers/races.go
package handlers

import (
	"net/http"

	"github.com/glacials/splits.io/internal/auth"
	"github.com/glacials/splits.io/internal/models"
	"github.com/glacials/splits.io/internal/race"
)

type raceResponse struct {
	Race *models.RaceSnapshot `json:"race"`
	Path string               `json:"path"`
	// JoinToken is only present for the owner and entrants.
	JoinToken string `json:"join_token,omitempty"`
}

// ListRacesHandler returns active, non-secret races.
func (s *RaceServer) ListRacesHandler(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.activeSnapshots(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("failed to list races")
		writeError(w, httpStatus(err), "could not list races")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"races": snaps})
}

// ShowRaceHandler returns one race by short id. Secret races are only visible to
// participants who could join them.
func (s *RaceServer) ShowRaceHandler(w http.ResponseWriter, r *http.Request) {
	rc, err := s.lookup(r.Context(), r.PathValue("prefix"))
	if err != nil {
		writeError(w, httpStatus(err), "race not found")
		return
	}

	participant := auth.Participant(r)
	if rc.Visibility == models.VisibilitySecret && !rc.Joinable(participant, r.URL.Query().Get("join_token")) {
		writeError(w, httpStatus(race.ErrAuthorizationDenied), "a valid join token is required to view this race")
		return
	}

	resp := raceResponse{
		Race: models.NewRaceSnapshot(rc),
		Path: s.racePath(r.Context(), rc.ID),
	}
	if rc.BelongsTo(participant) || rc.EntrantFor(participant) != nil {
		resp.JoinToken = rc.JoinToken
	}
	writeJSON(w, http.StatusOK, resp)
}
