// internal/database/store.go
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glacials/splits.io/internal/models"
	"github.com/glacials/splits.io/internal/race"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements race.Store on Postgres. Every call is bounded by timeout.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ race.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{pool: pool, timeout: timeout}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// mapErr translates driver errors into the race package's error taxonomy.
func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return race.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.ConstraintName == "entrants_race_run_key" {
				return race.Invalid("run_id", "is already racing as a ghost")
			}
			return race.Invalid("participant", "has already entered this race")
		case "23503": // foreign_key_violation
			return race.ErrNotFound
		case "23514": // check_violation
			return race.Invalid("", "an entrant cannot both finish and forfeit")
		}
	}
	return fmt.Errorf("%s: %w: %w", op, race.ErrTransient, err)
}

const raceColumns = `id, kind, owner_id, visibility, join_token, status_text, notes,
	category_id, game_id, bingo_card, seed, started_at, created_at, updated_at`

const entrantColumns = `id, race_id, participant_id, ghost, run_id,
	readied_at, finished_at, forfeited_at, created_at`

func scanRace(row pgx.Row) (*models.Race, error) {
	var r models.Race
	err := row.Scan(
		&r.ID, &r.Kind, &r.OwnerID, &r.Visibility, &r.JoinToken, &r.StatusText, &r.Notes,
		&r.CategoryID, &r.GameID, &r.CardURL, &r.Seed, &r.StartedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanEntrant(row pgx.Row) (models.Entrant, error) {
	var (
		e           models.Entrant
		participant pgtype.UUID
		run         pgtype.UUID
	)
	err := row.Scan(
		&e.ID, &e.RaceID, &participant, &e.Ghost, &run,
		&e.ReadiedAt, &e.FinishedAt, &e.ForfeitedAt, &e.CreatedAt,
	)
	if err != nil {
		return e, err
	}
	e.ParticipantID = fromPgUUID(participant)
	e.RunID = fromPgUUID(run)
	return e, nil
}

func fromPgUUID(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func toPgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func (s *Store) CreateRace(ctx context.Context, r *models.Race, owner *models.Entrant) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `INSERT INTO races (` + raceColumns + `)
		      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		if _, err := tx.Exec(ctx, q,
			r.ID, r.Kind, r.OwnerID, r.Visibility, r.JoinToken, r.StatusText, r.Notes,
			r.CategoryID, r.GameID, r.CardURL, r.Seed, r.StartedAt, r.CreatedAt, r.UpdatedAt,
		); err != nil {
			return err
		}
		return insertEntrant(ctx, tx, owner)
	})
	if err != nil {
		return mapErr("create race", err)
	}
	return nil
}

func insertEntrant(ctx context.Context, tx pgx.Tx, e *models.Entrant) error {
	q := `INSERT INTO entrants (` + entrantColumns + `)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := tx.Exec(ctx, q,
		e.ID, e.RaceID, toPgUUID(e.ParticipantID), e.Ghost, toPgUUID(e.RunID),
		e.ReadiedAt, e.FinishedAt, e.ForfeitedAt, e.CreatedAt,
	)
	return err
}

func (s *Store) GetRace(ctx context.Context, id uuid.UUID) (*models.Race, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	r, err := scanRace(s.pool.QueryRow(ctx, `SELECT `+raceColumns+` FROM races WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get race", err)
	}
	entrants, err := s.entrantsFor(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, mapErr("get entrants", err)
	}
	r.Entrants = entrants[id]
	return r, nil
}

// entrantsFor loads the entrants of every listed race, in join order.
func (s *Store) entrantsFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]models.Entrant, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+entrantColumns+` FROM entrants WHERE race_id = ANY($1::uuid[]) ORDER BY created_at, id`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]models.Entrant, len(ids))
	for rows.Next() {
		e, err := scanEntrant(rows)
		if err != nil {
			return nil, err
		}
		out[e.RaceID] = append(out[e.RaceID], e)
	}
	return out, rows.Err()
}

func (s *Store) RaceIDsByPrefix(ctx context.Context, prefix string, limit int) ([]uuid.UUID, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 2
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM races WHERE LEFT(id::text, $1) = $2 ORDER BY created_at LIMIT $3`,
		len(prefix), prefix, limit)
	if err != nil {
		return nil, mapErr("races by prefix", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, mapErr("races by prefix", err)
	}
	return ids, nil
}

func (s *Store) ListRaces(ctx context.Context, opts race.ListOptions) ([]*models.Race, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	q, args := listQuery(opts)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list races", err)
	}
	var races []*models.Race
	for rows.Next() {
		r, err := scanRace(rows)
		if err != nil {
			rows.Close()
			return nil, mapErr("list races", err)
		}
		races = append(races, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr("list races", err)
	}
	if len(races) == 0 {
		return races, nil
	}

	ids := make([]uuid.UUID, len(races))
	for i, r := range races {
		ids[i] = r.ID
	}
	entrants, err := s.entrantsFor(ctx, ids)
	if err != nil {
		return nil, mapErr("list entrants", err)
	}
	for _, r := range races {
		r.Entrants = entrants[r.ID]
	}
	return races, nil
}

const undoneEntrant = `EXISTS (SELECT 1 FROM entrants e WHERE e.race_id = races.id
	AND e.finished_at IS NULL AND e.forfeited_at IS NULL)`

// listQuery renders opts as a races query so filtering and the limit happen in Postgres.
func listQuery(opts race.ListOptions) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.StartedOnly {
		where = append(where, `started_at IS NOT NULL`)
	}
	if opts.Unfinished || !opts.ActiveAt.IsZero() {
		where = append(where, `(started_at IS NULL OR `+undoneEntrant+`)`)
	}
	if !opts.ActiveAt.IsZero() {
		where = append(where, fmt.Sprintf(
			`(updated_at >= %s OR (SELECT count(*) FROM entrants e WHERE e.race_id = races.id) >= %s)`,
			arg(opts.ActiveAt.Add(-models.AbandonAfter)), arg(models.MinEntrants)))
	}
	if opts.ExcludeSecret {
		where = append(where, `visibility <> `+arg(string(models.VisibilitySecret)))
	}

	q := `SELECT ` + raceColumns + ` FROM races`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		q += ` LIMIT ` + arg(opts.Limit)
	}
	return q, args
}

func (s *Store) DeleteRace(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM races WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete race", err)
	}
	if tag.RowsAffected() == 0 {
		return race.ErrNotFound
	}
	return nil
}

func (s *Store) StartRace(ctx context.Context, id uuid.UUID, startedAt time.Time, status string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx,
		`UPDATE races SET started_at = $2, status_text = $3, updated_at = now()
		 WHERE id = $1 AND started_at IS NULL`,
		id, startedAt, status)
	if err != nil {
		return false, mapErr("start race", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `UPDATE races SET status_text = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return mapErr("set status", err)
	}
	if tag.RowsAffected() == 0 {
		return race.ErrNotFound
	}
	return nil
}
