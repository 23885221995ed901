// internal/broadcast/message.go
package broadcast

import (
	"fmt"
	"strings"

	"github.com/glacials/splits.io/internal/models"
)

// Message types understood by clients. The set is a stable contract.
const (
	TypeCreationSuccess  = "race_creation_success"
	TypeCreationError    = "race_creation_error"
	TypeStartScheduled   = "race_start_scheduled"
	TypeEnded            = "race_ended"
	TypeEntrantsUpdated  = "race_entrants_updated"
	TypeNotFound         = "race_not_found"
	TypeInvalidJoinToken = "race_invalid_join_token"
	TypeStartedError     = "race_started_error"
	TypeFinishedError    = "race_finished_error"
	TypeGlobalState      = "global_state"
	TypeError            = "error"
)

// Commands that reply with race_<command>_success / race_<command>_error.
var commandTypes = []string{"join", "leave", "ready", "unready", "forfeit", "done", "rejoin", "add_ghost"}

var types = func() map[string]struct{} {
	t := map[string]struct{}{}
	for _, typ := range []string{
		TypeCreationSuccess, TypeCreationError, TypeStartScheduled, TypeEnded,
		TypeEntrantsUpdated, TypeNotFound, TypeInvalidJoinToken, TypeStartedError,
		TypeFinishedError, TypeGlobalState, TypeError,
	} {
		t[typ] = struct{}{}
	}
	for _, cmd := range commandTypes {
		t[SuccessType(cmd)] = struct{}{}
		t[ErrorType(cmd)] = struct{}{}
	}
	return t
}()

// SuccessType is the reply type for a successful command.
func SuccessType(command string) string { return "race_" + command + "_success" }

// ErrorType is the generic reply type for a failed command.
func ErrorType(command string) string { return "race_" + command + "_error" }

// Message is the envelope every client receives. Race, when present, is a full snapshot
// rather than a diff.
type Message struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Race    *models.RaceSnapshot   `json:"race,omitempty"`
	Races   []*models.RaceSnapshot `json:"races,omitempty"`
	Path    string                 `json:"path,omitempty"`
}

// New builds a message, snapshotting r when it is non-nil.
func New(typ, msg string, r *models.Race) Message {
	m := Message{Type: typ, Message: msg}
	if r != nil {
		m.Race = models.NewRaceSnapshot(r)
	}
	return m
}

// Validate rejects unknown types and blank messages.
func (m Message) Validate() error {
	if _, ok := types[m.Type]; !ok {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if strings.TrimSpace(m.Message) == "" {
		return fmt.Errorf("message of type %q has no text", m.Type)
	}
	return nil
}
