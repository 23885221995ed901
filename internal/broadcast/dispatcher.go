package broadcast

import "github.com/google/uuid"

// Dispatcher fans messages out to subscribers. Calls are fire-and-forget; messages for
// one race reach a given subscriber in call order.
type Dispatcher interface {
	BroadcastRace(raceID uuid.UUID, msg Message)
	BroadcastGlobal(msg Message)
}

// Multi sends every broadcast to each dispatcher in order.
type Multi []Dispatcher

func (m Multi) BroadcastRace(raceID uuid.UUID, msg Message) {
	for _, d := range m {
		d.BroadcastRace(raceID, msg)
	}
}

func (m Multi) BroadcastGlobal(msg Message) {
	for _, d := range m {
		d.BroadcastGlobal(msg)
	}
}
