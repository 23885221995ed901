package models

import (
	"time"

	"github.com/google/uuid"
)

// Run is a recorded attempt that a ghost entrant replays.
type Run struct {
	ID       uuid.UUID     `json:"id"`
	RunnerID uuid.UUID     `json:"runner_id"`
	Duration time.Duration `json:"duration"`
	// Splits holds the end offset of each segment that has one, in order.
	Splits []time.Duration `json:"splits"`
}
