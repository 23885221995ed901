// internal/handlers/race_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/glacials/splits.io/internal/auth"
	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/middleware"
	"github.com/glacials/splits.io/internal/race"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// commandTimeout bounds a single command once it has been read off the socket.
const commandTimeout = 10 * time.Second

// commandPacket is an inbound race channel frame.
type commandPacket struct {
	Action     string     `json:"action"`
	ServerTime *float64   `json:"server_time,omitempty"`
	RunID      *uuid.UUID `json:"run_id,omitempty"`
}

// RaceWSHandler subscribes the connection to one race and executes its commands.
func (s *RaceServer) RaceWSHandler(w http.ResponseWriter, r *http.Request) {
	raceParam := r.PathValue("id")
	joinToken := r.URL.Query().Get("join_token")

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"race"},
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "race" {
		c.Close(BadSubprotocolError, "client must speak the race subprotocol")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rc, err := s.lookup(ctx, raceParam)
	if err == nil {
		err = race.CanSubscribe(rc, joinToken)
	}
	if err != nil {
		s.reject(ctx, c, raceParam, err)
		return
	}

	participant := auth.Participant(r)
	sub := broadcast.NewSubscriber(participant, s.sendBuffer, cancel)
	s.hub.SubscribeRace(rc.ID, sub)
	defer s.hub.UnsubscribeRace(rc.ID, sub)

	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path)
	go writePump(ctx, c, sub, s.logger)

	err = s.raceReadPump(ctx, c, rc.ID, sub)
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, err)
}

// reject tells the client why it cannot subscribe, then closes with a matching code.
func (s *RaceServer) reject(ctx context.Context, c *websocket.Conn, raceParam string, err error) {
	var (
		msg  broadcast.Message
		code websocket.StatusCode
	)
	switch {
	case errors.Is(err, race.ErrNotFound):
		msg = broadcast.New(broadcast.TypeNotFound, "No race found with id: "+raceParam, nil)
		code = InvalidRaceIDError
	case errors.Is(err, race.ErrAuthorizationDenied):
		msg = broadcast.New(broadcast.TypeInvalidJoinToken, "The join token provided is not valid for this race", nil)
		code = InvalidJoinTokenError
	default:
		s.logger.WithError(err).WithField("race", raceParam).Error("subscribe failed")
		msg = broadcast.New(broadcast.TypeError, "The race service is temporarily unavailable, please try again", nil)
		code = ServiceUnavailableError
	}
	writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	if err := wsjson.Write(writeCtx, c, msg); err != nil {
		s.logger.Debugf("failed to send rejection: %v", err)
	}
	c.Close(code, msg.Type)
}

// raceReadPump reads commands until the connection closes. Replies go only to sub;
// state changes reach everyone through the dispatcher.
func (s *RaceServer) raceReadPump(ctx context.Context, c *websocket.Conn, raceID uuid.UUID, sub *broadcast.Subscriber) error {
	limiter := rate.NewLimiter(s.commandRate, s.commandBurst)
	log := s.logger.WithFields(logrus.Fields{
		"race_id":        raceID,
		"participant_id": race.ParticipantString(sub.ParticipantID),
	})

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return readErr(err)
		}
		// Stamp arrival before anything else so done/forfeit times are as close as possible.
		receivedAt := s.clock.Now()

		if typ != websocket.MessageText {
			log.Warnf("ignoring non-text message type %d", typ)
			continue
		}
		var packet commandPacket
		if err := json.Unmarshal(data, &packet); err != nil {
			send(sub, broadcast.New(broadcast.TypeError, "Invalid JSON format", nil))
			continue
		}
		if !limiter.Allow() {
			send(sub, broadcast.New(broadcast.TypeError, "Too many commands, slow down", nil))
			continue
		}
		cmd, ok := race.ParseCommand(packet.Action)
		if !ok {
			send(sub, broadcast.New(broadcast.TypeError, fmt.Sprintf("Unknown action: %q", packet.Action), nil))
			continue
		}

		opts := race.CommandOptions{ReceivedAt: receivedAt, RunID: packet.RunID}
		if packet.ServerTime != nil {
			t, ok := unixSeconds(*packet.ServerTime)
			if !ok {
				send(sub, broadcast.New(broadcast.ErrorType(string(cmd)), "server_time must be a unix timestamp in seconds", nil))
				continue
			}
			opts.ServerTime = &t
		}

		// A command that has been read runs to completion even if the client goes away.
		cmdCtx, done := context.WithTimeout(context.WithoutCancel(ctx), commandTimeout)
		rc, err := s.races.Execute(cmdCtx, cmd, raceID, sub.ParticipantID, opts)
		done()
		if err != nil {
			log.WithError(err).WithField("command", cmd).Debug("command rejected")
		}
		if reply, ok := race.Reply(cmd, rc, err); ok {
			send(sub, reply)
		}
	}
}

// send queues a direct reply. A subscriber that cannot take it is disconnected.
func send(sub *broadcast.Subscriber, msg broadcast.Message) {
	if !sub.Write(msg) && sub.Cancel != nil {
		sub.Cancel()
	}
}

// readErr reports nil for ordinary disconnects.
func readErr(err error) error {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		return nil
	}
	if errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "context canceled") {
		return nil
	}
	return err
}

// writePump drains sub.Out onto the socket and keeps the connection alive with pings.
func writePump(ctx context.Context, c *websocket.Conn, sub *broadcast.Subscriber, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer func() {
		_ = c.Close(websocket.StatusGoingAway, "write pump stopping")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.Out:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c, msg)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for subscriber %v: %v", sub.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debugf("ping failed for subscriber %v: %v", sub.ID, err)
				return
			}
		}
	}
}
