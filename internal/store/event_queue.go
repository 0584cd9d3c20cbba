package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/internal/model"
)

type eventQueueStore struct {
	pool *pgxpool.Pool
}

func (s *eventQueueStore) EnqueueIfBelow(ctx context.Context, sessionKey string, payload []byte, max int) (bool, error) {
	// The count-then-insert must be serialized per lane: an advisory lock
	// keyed on the session makes the depth check exact under concurrent
	// enqueues. Taken in its own statement so the count's snapshot is
	// opened after the lock is held.
	enqueued := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, sessionKey); err != nil {
			return fmt.Errorf("locking lane queue: %w", err)
		}

		var inserted int64
		err := tx.QueryRow(ctx, `
			INSERT INTO queued_events (id, session_key, payload, status)
			SELECT $1, $2, $3, 'pending'
			WHERE (
				SELECT count(*) FROM queued_events
				WHERE session_key = $2 AND status = 'pending'
			) < $4
			RETURNING id`,
			id.New(), sessionKey, payload, max,
		).Scan(&inserted)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("enqueueing event: %w", err)
		}
		enqueued = true
		return nil
	})
	return enqueued, err
}

func (s *eventQueueStore) ClaimAll(ctx context.Context, sessionKey string) ([]model.QueuedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE queued_events
			SET status = 'processing'
			WHERE session_key = $1 AND status = 'pending'
			RETURNING id, session_key, payload, status, enqueued_at
		)
		SELECT id, session_key, payload, status, enqueued_at
		FROM claimed
		ORDER BY enqueued_at, id`,
		sessionKey)
	if err != nil {
		return nil, fmt.Errorf("claiming queued events: %w", err)
	}
	defer rows.Close()

	var events []model.QueuedEvent
	for rows.Next() {
		var ev model.QueuedEvent
		if err := rows.Scan(&ev.ID, &ev.SessionKey, &ev.Payload, &ev.Status, &ev.EnqueuedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *eventQueueStore) Depth(ctx context.Context, sessionKey string) (int, error) {
	var depth int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM queued_events
		WHERE session_key = $1 AND status = 'pending'`,
		sessionKey,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("counting queued events: %w", err)
	}
	return depth, nil
}

func (s *eventQueueStore) MarkProcessed(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, model.QueuedEventProcessed)
}

func (s *eventQueueStore) MarkDropped(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, model.QueuedEventDropped)
}

func (s *eventQueueStore) setStatus(ctx context.Context, id int64, status model.QueuedEventStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE queued_events SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating queued event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
