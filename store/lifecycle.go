package store

import (
	"context"

	"synapse/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Purge removes a tombstoned entity for good: its row and its sync metadata.
// The op log keeps its history. Purging is refused while any log entry of
// the entity is unsynced, so a delete is never lost before the server has it.
func (s *Store) Purge(ctx context.Context, t models.EntityType, id string) error {
	return s.write(ctx, "lifecycle.purge", func(ctx context.Context, tx DBTX) error {
		return purge(ctx, tx, t, id)
	})
}

func purge(ctx context.Context, tx DBTX, t models.EntityType, id string) error {
	meta, err := getMetadata(ctx, tx, t, id)
	if err != nil {
		return err
	}
	switch meta.Lifecycle() {
	case models.LifecyclePurged:
		return nil
	case models.LifecycleActive:
		return ErrNotTombstoned
	}

	n, err := countUnsynced(ctx, tx, t, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrPurgeUnsynced
	}

	if err := deleteEntityRow(ctx, tx, t, id); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM sync_metadata WHERE entity_type = ? AND entity_id = ?`, string(t), id)
	if err != nil {
		return serr.Wrap(err, "failed to delete sync metadata")
	}
	return nil
}

// PurgeTombstones purges every tombstoned entity whose delete has been
// pushed. Tombstones still waiting on the server are left alone.
func (s *Store) PurgeTombstones(ctx context.Context) (int, error) {
	var purged int
	err := s.write(ctx, "lifecycle.purge_tombstones", func(ctx context.Context, tx DBTX) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT m.entity_type, m.entity_id FROM sync_metadata m
			WHERE m.tombstone = TRUE AND NOT EXISTS (
				SELECT 1 FROM operation_log o
				WHERE o.entity_type = m.entity_type AND o.entity_id = m.entity_id AND o.synced = FALSE
			)`)
		if err != nil {
			return serr.Wrap(err, "failed to query tombstones")
		}
		type key struct {
			t  models.EntityType
			id string
		}
		var keys []key
		for rows.Next() {
			var k key
			var et string
			if err := rows.Scan(&et, &k.id); err != nil {
				rows.Close()
				return serr.Wrap(err, "failed to scan tombstone")
			}
			k.t = models.EntityType(et)
			keys = append(keys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return serr.Wrap(err, "error iterating tombstones")
		}

		for _, k := range keys {
			if err := purge(ctx, tx, k.t, k.id); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		logger.Info("Purged tombstones", "count", purged)
	}
	return purged, nil
}
