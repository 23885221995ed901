package database

import (
	"context"
	"errors"
	"time"

	"github.com/glacials/splits.io/internal/models"
	"github.com/glacials/splits.io/internal/race"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Entrant writes bump the parent race's updated_at in the same statement.

func (s *Store) CreateEntrant(ctx context.Context, e *models.Entrant) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	q := `WITH e AS (
	          INSERT INTO entrants (` + entrantColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING race_id
	      )
	      UPDATE races SET updated_at = now() WHERE id IN (SELECT race_id FROM e)`
	_, err := s.pool.Exec(ctx, q,
		e.ID, e.RaceID, toPgUUID(e.ParticipantID), e.Ghost, toPgUUID(e.RunID),
		e.ReadiedAt, e.FinishedAt, e.ForfeitedAt, e.CreatedAt,
	)
	if err != nil {
		return mapErr("create entrant", err)
	}
	return nil
}

func (s *Store) UpdateEntrant(ctx context.Context, e *models.Entrant) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	q := `WITH e AS (
	          UPDATE entrants SET readied_at = $3, finished_at = $4, forfeited_at = $5
	          WHERE id = $1 AND race_id = $2
	          RETURNING race_id
	      )
	      UPDATE races SET updated_at = now() WHERE id IN (SELECT race_id FROM e) RETURNING id`
	var raceID uuid.UUID
	err := s.pool.QueryRow(ctx, q, e.ID, e.RaceID, e.ReadiedAt, e.FinishedAt, e.ForfeitedAt).Scan(&raceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return race.ErrEntrantNotFound
	}
	if err != nil {
		return mapErr("update entrant", err)
	}
	return nil
}

func (s *Store) DeleteEntrant(ctx context.Context, raceID, entrantID uuid.UUID) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	q := `WITH e AS (
	          DELETE FROM entrants WHERE id = $1 AND race_id = $2 RETURNING race_id
	      )
	      UPDATE races SET updated_at = now() WHERE id IN (SELECT race_id FROM e) RETURNING id`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, q, entrantID, raceID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return race.ErrEntrantNotFound
	}
	if err != nil {
		return mapErr("delete entrant", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	run := &models.Run{ID: id}
	var durationMs int64
	err := s.pool.QueryRow(ctx, `SELECT runner_id, duration_ms FROM runs WHERE id = $1`, id).
		Scan(&run.RunnerID, &durationMs)
	if err != nil {
		return nil, mapErr("get run", err)
	}
	run.Duration = time.Duration(durationMs) * time.Millisecond

	rows, err := s.pool.Query(ctx,
		`SELECT end_ms FROM segments WHERE run_id = $1 AND end_ms IS NOT NULL ORDER BY segment_number`, id)
	if err != nil {
		return nil, mapErr("get segments", err)
	}
	ends, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapErr("get segments", err)
	}
	for _, ms := range ends {
		run.Splits = append(run.Splits, time.Duration(ms)*time.Millisecond)
	}
	return run, nil
}
