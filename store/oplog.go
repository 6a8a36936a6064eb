package store

import (
	"context"

	"synapse/models"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

const selectOperationColumns = `
	SELECT id, seq, entity_type, entity_id, operation, COALESCE(data, ''), version, "timestamp", synced, user_id
	FROM operation_log`

// appendOperation inserts a new log entry, assigning its id and sequence.
func appendOperation(ctx context.Context, q DBTX, e *models.OperationLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM operation_log`).Scan(&e.Seq)
	if err != nil {
		return serr.Wrap(err, "failed to allocate log sequence")
	}

	var data any
	if e.Data != "" {
		data = e.Data
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO operation_log (id, seq, entity_type, entity_id, operation, data, version, "timestamp", synced, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Seq, string(e.EntityType), e.EntityID, string(e.Operation), data, e.Version, e.Timestamp, e.Synced, e.UserID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to append operation log entry")
	}
	return nil
}

func scanOperations(ctx context.Context, q DBTX, query string, args ...any) ([]models.OperationLogEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query operation log")
	}
	defer rows.Close()

	var ops []models.OperationLogEntry
	for rows.Next() {
		var e models.OperationLogEntry
		var et, op string
		if err := rows.Scan(&e.ID, &e.Seq, &et, &e.EntityID, &op, &e.Data, &e.Version, &e.Timestamp, &e.Synced, &e.UserID); err != nil {
			return nil, serr.Wrap(err, "failed to scan operation log entry")
		}
		e.EntityType = models.EntityType(et)
		e.Operation = models.Operation(op)
		ops = append(ops, e)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating operation log")
	}
	return ops, nil
}

// UnsyncedOperations returns every entry still waiting to be pushed, oldest
// first across all entity types, so cross-entity dependencies replay in the
// order they happened locally.
func (s *Store) UnsyncedOperations(ctx context.Context) ([]models.OperationLogEntry, error) {
	ops, err := scanOperations(ctx, s.db,
		selectOperationColumns+` WHERE synced = FALSE ORDER BY "timestamp" ASC, seq ASC`)
	return ops, storeErr("oplog.unsynced", err)
}

// OperationsForEntity returns the full log history of one entity.
func (s *Store) OperationsForEntity(ctx context.Context, t models.EntityType, id string) ([]models.OperationLogEntry, error) {
	ops, err := scanOperations(ctx, s.db,
		selectOperationColumns+` WHERE entity_type = ? AND entity_id = ? ORDER BY seq ASC`, string(t), id)
	return ops, storeErr("oplog.entity", err)
}

// PendingCount is the number of unsynced log entries.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operation_log WHERE synced = FALSE`).Scan(&n)
	if err != nil {
		return 0, storeErr("oplog.pending", serr.Wrap(err, "failed to count pending operations"))
	}
	return n, nil
}

// MarkOperationSynced flips the entry's synced flag after the remote sink
// accepted it. The entity's metadata moves to synced only if no newer local
// version was written since the entry.
func (s *Store) MarkOperationSynced(ctx context.Context, e models.OperationLogEntry, serverVersion int64) error {
	return s.write(ctx, "oplog.mark_synced", func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `UPDATE operation_log SET synced = TRUE WHERE id = ?`, e.ID); err != nil {
			return serr.Wrap(err, "failed to mark operation synced")
		}
		if serverVersion <= 0 {
			serverVersion = e.Version
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE sync_metadata SET sync_status = ?, server_version = ?
			WHERE entity_type = ? AND entity_id = ? AND version = ?`,
			string(models.SyncStatusSynced), serverVersion, string(e.EntityType), e.EntityID, e.Version,
		)
		if err != nil {
			return serr.Wrap(err, "failed to mark metadata synced")
		}
		return nil
	})
}

func countUnsynced(ctx context.Context, q DBTX, t models.EntityType, id string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operation_log WHERE entity_type = ? AND entity_id = ? AND synced = FALSE`,
		string(t), id,
	).Scan(&n)
	if err != nil {
		return 0, serr.Wrap(err, "failed to count unsynced entity operations")
	}
	return n, nil
}

// supersedeUnsynced marks every pending entry of the entity as synced
// without pushing it. Used when a remote change wins a conflict.
func supersedeUnsynced(ctx context.Context, q DBTX, t models.EntityType, id string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE operation_log SET synced = TRUE WHERE entity_type = ? AND entity_id = ? AND synced = FALSE`,
		string(t), id,
	)
	if err != nil {
		return 0, serr.Wrap(err, "failed to supersede pending operations")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneSyncedOperations deletes synced entries older than beforeMs.
// Unsynced entries are never removed.
func (s *Store) PruneSyncedOperations(ctx context.Context, beforeMs int64) (int64, error) {
	var n int64
	err := s.write(ctx, "oplog.prune", func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM operation_log WHERE synced = TRUE AND "timestamp" < ?`, beforeMs)
		if err != nil {
			return serr.Wrap(err, "failed to prune operation log")
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
