package store

import (
	"context"
	"database/sql"
	"errors"

	"synapse/models"

	"github.com/rohanthewiz/serr"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Conflict is one audited conflict decision.
type Conflict struct {
	ID             string            `json:"id"`
	EntityType     models.EntityType `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	LocalVersion   int64             `json:"local_version"`
	RemoteVersion  int64             `json:"remote_version"`
	LocalModified  int64             `json:"local_modified"`
	RemoteModified int64             `json:"remote_modified"`
	Resolution     models.Resolution `json:"resolution"`
	Diff           string            `json:"diff,omitempty"` // patch text, local -> remote
	CreatedAt      int64             `json:"created_at"`
}

func recordConflict(ctx context.Context, tx DBTX, local *models.SyncMetadata, c *models.Change, r models.Resolution) error {
	localData, err := latestPendingData(ctx, tx, c.EntityType, c.EntityID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_conflicts (id, entity_type, entity_id, local_version, remote_version,
			local_modified, remote_modified, resolution, diff, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		models.NewID(), string(c.EntityType), c.EntityID, local.Version, c.Version,
		local.LastModified, c.Timestamp, string(r), payloadDiff(localData, string(c.Payload)), models.NowMs(),
	)
	if err != nil {
		return serr.Wrap(err, "failed to record sync conflict")
	}
	return nil
}

// latestPendingData returns the payload of the newest unsynced entry.
func latestPendingData(ctx context.Context, q DBTX, t models.EntityType, id string) (string, error) {
	var data sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT data FROM operation_log
		WHERE entity_type = ? AND entity_id = ? AND synced = FALSE
		ORDER BY seq DESC LIMIT 1`,
		string(t), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", serr.Wrap(err, "failed to read pending payload")
	}
	return data.String, nil
}

func payloadDiff(local, remote string) string {
	if local == remote {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(local, remote, false)
	return dmp.PatchToText(dmp.PatchMake(local, diffs))
}

// ListConflicts returns audited conflicts, newest first.
func (s *Store) ListConflicts(ctx context.Context, limit int) ([]Conflict, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, local_version, remote_version,
			local_modified, remote_modified, resolution, COALESCE(diff, ''), created_at
		FROM sync_conflicts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("conflicts.list", serr.Wrap(err, "failed to query conflicts"))
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var c Conflict
		var et, res string
		if err := rows.Scan(&c.ID, &et, &c.EntityID, &c.LocalVersion, &c.RemoteVersion,
			&c.LocalModified, &c.RemoteModified, &res, &c.Diff, &c.CreatedAt); err != nil {
			return nil, storeErr("conflicts.list", serr.Wrap(err, "failed to scan conflict"))
		}
		c.EntityType = models.EntityType(et)
		c.Resolution = models.Resolution(res)
		out = append(out, c)
	}
	return out, storeErr("conflicts.list", rows.Err())
}
