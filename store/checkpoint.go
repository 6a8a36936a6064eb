package store

import (
	"context"
	"database/sql"
	"errors"

	"synapse/models"

	"github.com/rohanthewiz/serr"
)

// Checkpoint returns the pull watermark for userID, 0 if none was recorded.
func (s *Store) Checkpoint(ctx context.Context, userID string) (int64, error) {
	var watermark int64
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark FROM sync_checkpoint WHERE user_id = ?`, userID,
	).Scan(&watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("checkpoint.get", serr.Wrap(err, "failed to read sync checkpoint"))
	}
	return watermark, nil
}

// AdvanceCheckpoint moves the watermark forward. It never moves backwards.
func (s *Store) AdvanceCheckpoint(ctx context.Context, userID string, watermark int64) error {
	return s.write(ctx, "checkpoint.advance", func(ctx context.Context, tx DBTX) error {
		return advanceCheckpoint(ctx, tx, userID, watermark)
	})
}

func advanceCheckpoint(ctx context.Context, tx DBTX, userID string, watermark int64) error {
	var current int64
	err := tx.QueryRowContext(ctx,
		`SELECT watermark FROM sync_checkpoint WHERE user_id = ?`, userID,
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sync_checkpoint (user_id, watermark, updated_at) VALUES (?, ?, ?)`,
			userID, watermark, models.NowMs(),
		)
		if err != nil {
			return serr.Wrap(err, "failed to insert sync checkpoint")
		}
		return nil
	case err != nil:
		return serr.Wrap(err, "failed to read sync checkpoint")
	}

	if watermark <= current {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sync_checkpoint SET watermark = ?, updated_at = ? WHERE user_id = ?`,
		watermark, models.NowMs(), userID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to update sync checkpoint")
	}
	return nil
}
