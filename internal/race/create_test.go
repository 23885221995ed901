package race

import (
	"testing"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateParamsValidate(t *testing.T) {
	id := int64(7)
	tests := []struct {
		name   string
		params CreateParams
		field  string
	}{
		{"standard ok", CreateParams{Kind: models.KindStandard, CategoryID: &id}, ""},
		{"standard missing category", CreateParams{Kind: models.KindStandard}, "category_id"},
		{"bingo ok", CreateParams{Kind: models.KindBingo, GameID: &id, BingoCard: "https://bingosync.com/room/abc"}, ""},
		{"bingo missing card", CreateParams{Kind: models.KindBingo, GameID: &id}, "bingo_card"},
		{"bingo bad card", CreateParams{Kind: models.KindBingo, GameID: &id, BingoCard: "not a url"}, "bingo_card"},
		{"bingo missing game", CreateParams{Kind: models.KindBingo, BingoCard: "https://bingosync.com/room/abc"}, "game_id"},
		{"randomizer ok", CreateParams{Kind: models.KindRandomizer, GameID: &id, Seed: "A1B2"}, ""},
		{"randomizer missing seed", CreateParams{Kind: models.KindRandomizer, GameID: &id}, "seed"},
		{"unknown kind", CreateParams{Kind: "relay"}, "race_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestUnknownKindMessage(t *testing.T) {
	err := CreateParams{Kind: "relay"}.Validate()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Invalid race_type, must be one of: bingo, race, randomizer", ve.Message)
}

func TestCreateEnrollsOwner(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	game := int64(3)
	r, err := h.svc.Create(h.ctx, &owner, CreateParams{
		Kind:       models.KindRandomizer,
		GameID:     &game,
		Seed:       "42",
		Visibility: "secret",
	})
	require.NoError(t, err)

	stored := h.reload(r.ID)
	assert.Equal(t, models.VisibilitySecret, stored.Visibility)
	assert.Equal(t, "42", stored.Seed)
	assert.Len(t, stored.JoinToken, 32)
	assert.Equal(t, models.StatusNotStarted, stored.StatusText)
	require.Len(t, stored.Entrants, 1)
	assert.Equal(t, owner, *stored.Entrants[0].ParticipantID)
	assert.True(t, stored.BelongsTo(&owner))
}

func TestCreateDefaultsToPublic(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	cat := int64(1)
	r, err := h.svc.Create(h.ctx, &owner, CreateParams{Kind: models.KindStandard, CategoryID: &cat, Visibility: "friends"})
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPublic, r.Visibility)
}

func TestCreateRequiresAuthentication(t *testing.T) {
	h := newHarness(t)
	cat := int64(1)
	_, err := h.svc.Create(h.ctx, nil, CreateParams{Kind: models.KindStandard, CategoryID: &cat})
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestJoinTokensAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := NewJoinToken()
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestCreationReply(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	cat := int64(1)
	r, err := h.svc.Create(h.ctx, &owner, CreateParams{Kind: models.KindStandard, CategoryID: &cat})
	require.NoError(t, err)

	ok := CreationReply(r, "/races/a", nil)
	assert.Equal(t, broadcast.TypeCreationSuccess, ok.Type)
	assert.Equal(t, "/races/a", ok.Path)
	require.NotNil(t, ok.Race)
	assert.Equal(t, r.ID, ok.Race.ID)
	require.NoError(t, ok.Validate())

	anon := CreationReply(nil, "", ErrAuthenticationRequired)
	assert.Equal(t, broadcast.TypeCreationError, anon.Type)
	assert.Equal(t, "Must be authenticated as a user to make a race (you are anonymous)", anon.Message)

	kind := CreationReply(nil, "", CreateParams{Kind: ""}.Validate())
	assert.Equal(t, "Invalid race_type, must be one of: bingo, race, randomizer", kind.Message)

	missing := CreationReply(nil, "", CreateParams{Kind: models.KindBingo}.Validate())
	assert.Equal(t, broadcast.TypeCreationError, missing.Type)
	assert.Contains(t, missing.Message, "is required for bingo races")
}
