package race

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/glacials/splits.io/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CreateParams is what an owner submits to open a race.
type CreateParams struct {
	Kind       models.RaceKind `json:"race_type"`
	Visibility string          `json:"visibility"`
	Notes      string          `json:"notes"`
	CategoryID *int64          `json:"category_id"`
	GameID     *int64          `json:"game_id"`
	BingoCard  string          `json:"bingo_card"`
	Seed       string          `json:"seed"`
}

type standardConfig struct {
	CategoryID *int64 `json:"category_id" validate:"required"`
}

type bingoConfig struct {
	GameID    *int64 `json:"game_id" validate:"required"`
	BingoCard string `json:"bingo_card" validate:"required,url"`
}

type randomizerConfig struct {
	GameID *int64 `json:"game_id" validate:"required"`
	Seed   string `json:"seed" validate:"required"`
}

// kindConfigs maps each race kind to the struct carrying its required fields.
var kindConfigs = map[models.RaceKind]func(p CreateParams) any{
	models.KindStandard: func(p CreateParams) any {
		return standardConfig{CategoryID: p.CategoryID}
	},
	models.KindBingo: func(p CreateParams) any {
		return bingoConfig{GameID: p.GameID, BingoCard: p.BingoCard}
	},
	models.KindRandomizer: func(p CreateParams) any {
		return randomizerConfig{GameID: p.GameID, Seed: p.Seed}
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// KindNames lists the accepted race_type values in sorted order.
func KindNames() []string {
	names := make([]string, 0, len(kindConfigs))
	for k := range kindConfigs {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// Validate checks the kind-specific required fields of p.
func (p CreateParams) Validate() error {
	build, ok := kindConfigs[p.Kind]
	if !ok {
		return Invalid("race_type", "Invalid race_type, must be one of: "+strings.Join(KindNames(), ", "))
	}
	err := validate.Struct(build(p))
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return Invalid("", err.Error())
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return Invalid(fe.Field(), "is required for "+string(p.Kind)+" races")
	case "url":
		return Invalid(fe.Field(), "must be a valid URL")
	default:
		return Invalid(fe.Field(), "is invalid")
	}
}

// newRace builds a race owned by owner from validated params.
func newRace(owner uuid.UUID, p CreateParams, at time.Time) (*models.Race, *models.Entrant) {
	visibility, ok := models.ParseVisibility(p.Visibility)
	if !ok {
		visibility = models.VisibilityPublic
	}
	r := &models.Race{
		ID:         uuid.New(),
		Kind:       p.Kind,
		OwnerID:    owner,
		Visibility: visibility,
		JoinToken:  NewJoinToken(),
		StatusText: models.StatusNotStarted,
		Notes:      p.Notes,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	switch p.Kind {
	case models.KindStandard:
		r.CategoryID = p.CategoryID
	case models.KindBingo:
		r.GameID = p.GameID
		r.CardURL = p.BingoCard
	case models.KindRandomizer:
		r.GameID = p.GameID
		r.Seed = p.Seed
	}
	ownerID := owner
	e := &models.Entrant{
		ID:            uuid.New(),
		RaceID:        r.ID,
		ParticipantID: &ownerID,
		CreatedAt:     at,
	}
	r.Entrants = []models.Entrant{*e}
	return r, e
}

// NewJoinToken returns a fresh opaque join token.
func NewJoinToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create validates p and persists a new race with the owner enrolled as its first entrant.
func (s *Service) Create(ctx context.Context, owner *uuid.UUID, p CreateParams) (*models.Race, error) {
	if owner == nil {
		return nil, ErrAuthenticationRequired
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r, e := newRace(*owner, p, s.clock.Now())
	if err := s.store.CreateRace(ctx, r, e); err != nil {
		return nil, transient("create race", err)
	}
	s.logger.WithField("race_id", r.ID).Info("race created")
	return r, nil
}
