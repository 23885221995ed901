package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	subjectPrefix = "races."
	globalSubject = subjectPrefix + "global"
)

// envelope is what travels between instances.
type envelope struct {
	Origin  string  `json:"origin"`
	Message Message `json:"message"`
}

// NATSRelay publishes local broadcasts to NATS and replays broadcasts from other
// instances onto the local dispatcher, so subscribers connected anywhere see every race.
type NATSRelay struct {
	nc     *nats.Conn
	local  Dispatcher
	origin string
	logger *logrus.Logger
	sub    *nats.Subscription
}

// ConnectNATS dials url with reconnect handling that logs through logger.
func ConnectNATS(url string, logger *logrus.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("splitsio-races"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.WithError(err).Error("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSRelay wires nc to local. Call Start to begin receiving remote broadcasts.
func NewNATSRelay(nc *nats.Conn, local Dispatcher, logger *logrus.Logger) *NATSRelay {
	return &NATSRelay{
		nc:     nc,
		local:  local,
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Start subscribes to every race subject. NATS delivers a subscription's messages in
// order, which keeps per-race ordering intact across instances.
func (r *NATSRelay) Start() error {
	sub, err := r.nc.Subscribe(subjectPrefix+">", r.receive)
	if err != nil {
		return fmt.Errorf("subscribe to race broadcasts: %w", err)
	}
	r.sub = sub
	return nil
}

// Close drains the subscription.
func (r *NATSRelay) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Drain()
}

func (r *NATSRelay) BroadcastRace(raceID uuid.UUID, msg Message) {
	r.publish(subjectPrefix+raceID.String(), msg)
}

func (r *NATSRelay) BroadcastGlobal(msg Message) {
	r.publish(globalSubject, msg)
}

func (r *NATSRelay) publish(subject string, msg Message) {
	data, err := json.Marshal(envelope{Origin: r.origin, Message: msg})
	if err != nil {
		r.logger.WithError(err).WithField("type", msg.Type).Error("failed to marshal broadcast for NATS")
		return
	}
	if err := r.nc.Publish(subject, data); err != nil {
		r.logger.WithError(err).WithField("subject", subject).Warn("failed to publish broadcast to NATS")
	}
}

func (r *NATSRelay) receive(m *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		r.logger.WithError(err).WithField("subject", m.Subject).Warn("invalid broadcast envelope")
		return
	}
	if env.Origin == r.origin {
		return
	}
	if m.Subject == globalSubject {
		r.local.BroadcastGlobal(env.Message)
		return
	}
	raceID, err := uuid.Parse(strings.TrimPrefix(m.Subject, subjectPrefix))
	if err != nil {
		r.logger.WithField("subject", m.Subject).Warn("broadcast on unknown subject")
		return
	}
	r.local.BroadcastRace(raceID, env.Message)
}
