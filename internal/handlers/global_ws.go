// internal/handlers/global_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/glacials/splits.io/internal/auth"
	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/middleware"
	"github.com/glacials/splits.io/internal/race"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// globalPacket is an inbound global channel frame. Only create_race is understood.
type globalPacket struct {
	Action string `json:"action"`
	race.CreateParams
}

// GlobalWSHandler streams the global race feed. With ?state=1 the client first receives
// the currently active races.
func (s *RaceServer) GlobalWSHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"global_race"},
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "global_race" {
		c.Close(BadSubprotocolError, "client must speak the global_race subprotocol")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	participant := auth.Participant(r)
	sub := broadcast.NewSubscriber(participant, s.sendBuffer, cancel)
	s.hub.SubscribeGlobal(sub)
	defer s.hub.UnsubscribeGlobal(sub)

	if r.URL.Query().Get("state") == "1" {
		snaps, err := s.activeSnapshots(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("failed to load active races")
			send(sub, broadcast.New(broadcast.TypeError, "Could not load active races", nil))
		} else {
			send(sub, broadcast.Message{Type: broadcast.TypeGlobalState, Message: "Active races", Races: snaps})
		}
	}

	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path)
	go writePump(ctx, c, sub, s.logger)

	err = s.globalReadPump(ctx, c, sub)
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, err)
}

func (s *RaceServer) globalReadPump(ctx context.Context, c *websocket.Conn, sub *broadcast.Subscriber) error {
	limiter := rate.NewLimiter(s.commandRate, s.commandBurst)
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return readErr(err)
		}
		if typ != websocket.MessageText {
			continue
		}
		var packet globalPacket
		if err := json.Unmarshal(data, &packet); err != nil {
			send(sub, broadcast.New(broadcast.TypeError, "Invalid JSON format", nil))
			continue
		}
		if !limiter.Allow() {
			send(sub, broadcast.New(broadcast.TypeError, "Too many commands, slow down", nil))
			continue
		}
		if packet.Action != "create_race" {
			send(sub, broadcast.New(broadcast.TypeError, fmt.Sprintf("Unknown action: %q", packet.Action), nil))
			continue
		}
		send(sub, s.createRace(ctx, sub, packet.CreateParams))
	}
}

func (s *RaceServer) createRace(ctx context.Context, sub *broadcast.Subscriber, p race.CreateParams) broadcast.Message {
	cmdCtx, done := context.WithTimeout(context.WithoutCancel(ctx), commandTimeout)
	defer done()

	rc, err := s.races.Create(cmdCtx, sub.ParticipantID, p)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"participant_id": race.ParticipantString(sub.ParticipantID),
			"race_type":      p.Kind,
		}).WithError(err).Debug("race creation rejected")
		return race.CreationReply(nil, "", err)
	}
	s.ActiveCache.Delete(activeCacheKey)
	return race.CreationReply(rc, s.racePath(cmdCtx, rc.ID), nil)
}
