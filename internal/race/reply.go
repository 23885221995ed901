package race

import (
	"errors"
	"fmt"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/models"
)

// successMessages are the direct acknowledgements sent to the issuing client.
var successMessages = map[Command]string{
	CmdJoin:     "Race successfully joined",
	CmdLeave:    "Race successfully left",
	CmdReady:    "Entrant ready successful",
	CmdUnready:  "Entrant unready successful",
	CmdForfeit:  "Entrant forfeit successful",
	CmdDone:     "Entrant done successful",
	CmdRejoin:   "Entrant rejoin successful",
	CmdAddGhost: "Ghost successfully added",
}

// Reply turns the outcome of a command into the message for the issuing client. It
// reports false when nothing should be sent, which is the case when the caller's entrant
// has already gone away.
func Reply(cmd Command, r *models.Race, err error) (broadcast.Message, bool) {
	if err == nil {
		return broadcast.New(broadcast.SuccessType(string(cmd)), successMessages[cmd], r), true
	}
	if errors.Is(err, ErrEntrantNotFound) {
		return broadcast.Message{}, false
	}

	var ve *ValidationError
	switch {
	case errors.As(err, &ve) && ve.Status != "":
		return broadcast.New(ve.Status, ve.Message, nil), true
	case errors.As(err, &ve):
		return broadcast.New(broadcast.ErrorType(string(cmd)), ve.Error(), nil), true
	case errors.Is(err, ErrAuthenticationRequired):
		return broadcast.New(broadcast.ErrorType(string(cmd)),
			fmt.Sprintf("Must be authenticated as a user to %s (you are anonymous)", humanCommand(cmd)), nil), true
	case errors.Is(err, ErrAuthorizationDenied):
		return broadcast.New(broadcast.ErrorType(string(cmd)), "You are not allowed to do that in this race", nil), true
	case errors.Is(err, ErrNotFound):
		return broadcast.New(broadcast.TypeNotFound, "Race not found", nil), true
	case errors.Is(err, ErrTransient):
		return broadcast.New(broadcast.ErrorType(string(cmd)), "The race service is temporarily unavailable, please try again", nil), true
	default:
		return broadcast.New(broadcast.ErrorType(string(cmd)), "Something went wrong", nil), true
	}
}

func humanCommand(cmd Command) string {
	if cmd == CmdAddGhost {
		return "add a ghost"
	}
	return string(cmd)
}

// CreationReply is the message for a create_race request. path is where the new race
// can be viewed and is only used on success.
func CreationReply(r *models.Race, path string, err error) broadcast.Message {
	if err == nil {
		m := broadcast.New(broadcast.TypeCreationSuccess, "Race has been created", r)
		m.Path = path
		return m
	}
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return broadcast.New(broadcast.TypeCreationError, "Must be authenticated as a user to make a race (you are anonymous)", nil)
	case errors.As(err, &ve) && ve.Field == "race_type":
		return broadcast.New(broadcast.TypeCreationError, ve.Message, nil)
	case errors.As(err, &ve):
		return broadcast.New(broadcast.TypeCreationError, ve.Error(), nil)
	case errors.Is(err, ErrTransient):
		return broadcast.New(broadcast.TypeCreationError, "The race service is temporarily unavailable, please try again", nil)
	default:
		return broadcast.New(broadcast.TypeCreationError, "Something went wrong", nil)
	}
}
