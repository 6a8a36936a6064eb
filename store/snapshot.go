package store

import (
	"context"

	"synapse/models"

	"github.com/rohanthewiz/serr"
)

// Backup row caps. Content rows carry metadata columns only.
const (
	backupContentLimit = 100
	backupRowLimit     = 500
)

// snapshotRow is one row headed for the mirror, with the entity key it is
// tracked under and the statements that write it.
type snapshotRow struct {
	entityType models.EntityType
	entityID   string
	modified   int64
	exists     func(ctx context.Context, tx DBTX) (bool, error)
	insert     func(ctx context.Context, tx DBTX) error
	update     func(ctx context.Context, tx DBTX) error // nil: leave existing rows alone
}

func rowExists(table, cond string, args ...any) func(ctx context.Context, tx DBTX) (bool, error) {
	return func(ctx context.Context, tx DBTX) (bool, error) {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE `+cond, args...).Scan(&n); err != nil {
			return false, serr.Wrap(err, "failed to check "+table+" row")
		}
		return n > 0, nil
	}
}

func execer(query string, args ...any) func(ctx context.Context, tx DBTX) error {
	return func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return serr.Wrap(err, "failed to write snapshot row")
		}
		return nil
	}
}

// snapshotRows flattens a snapshot in dependency order. When full is false
// content rows lack their body and an update keeps the stored one.
func snapshotRows(snap *models.Snapshot, userID string, full bool) []snapshotRow {
	var out []snapshotRow
	for i := range snap.Content {
		c := snap.Content[i]
		if c.UserID == "" {
			c.UserID = userID
		}
		row := snapshotRow{
			entityType: models.EntityContent, entityID: c.ID, modified: c.UpdatedAt,
			exists: rowExists("content", "id = ?", c.ID),
			insert: func(ctx context.Context, tx DBTX) error { return insertContentRow(ctx, tx, &c) },
		}
		if full {
			row.update = execer(`UPDATE content SET type = ?, title = ?, content = ?, thumbnail_base64 = ?, created_at = ?, updated_at = ? WHERE id = ?`,
				c.Type, nullIfEmpty(c.Title), c.Content, nullIfEmpty(c.ThumbnailBase64), c.CreatedAt, c.UpdatedAt, c.ID)
		} else {
			row.update = execer(`UPDATE content SET type = ?, title = ?, created_at = ?, updated_at = ? WHERE id = ?`,
				c.Type, nullIfEmpty(c.Title), c.CreatedAt, c.UpdatedAt, c.ID)
		}
		out = append(out, row)
	}
	for _, t := range snap.Tags {
		if t.UserID == "" {
			t.UserID = userID
		}
		out = append(out, snapshotRow{
			entityType: models.EntityTag, entityID: t.ID, modified: t.UpdatedAt,
			exists: rowExists("tags", "id = ?", t.ID),
			insert: execer(`INSERT INTO tags (id, title, created_at, updated_at, user_id) VALUES (?, ?, ?, ?, ?)`,
				t.ID, t.Title, t.CreatedAt, t.UpdatedAt, t.UserID),
			update: execer(`UPDATE tags SET title = ?, created_at = ?, updated_at = ? WHERE id = ?`,
				t.Title, t.CreatedAt, t.UpdatedAt, t.ID),
		})
	}
	for _, ct := range snap.ContentTags {
		if ct.UserID == "" {
			ct.UserID = userID
		}
		out = append(out, snapshotRow{
			entityType: models.EntityContentTag, entityID: ct.ID(), modified: ct.CreatedAt,
			exists: rowExists("content_tags", "content_id = ? AND tag_id = ?", ct.ContentID, ct.TagID),
			insert: execer(`INSERT INTO content_tags (content_id, tag_id, created_at, user_id) VALUES (?, ?, ?, ?)`,
				ct.ContentID, ct.TagID, ct.CreatedAt, ct.UserID),
		})
	}
	for i := range snap.Nodes {
		n := snap.Nodes[i]
		if n.UserID == "" {
			n.UserID = userID
		}
		out = append(out, snapshotRow{
			entityType: models.EntityNode, entityID: n.ID, modified: n.UpdatedAt,
			exists: rowExists("nodes", "id = ?", n.ID),
			insert: func(ctx context.Context, tx DBTX) error { return writeNodeRow(ctx, tx, &n, true) },
			update: func(ctx context.Context, tx DBTX) error { return writeNodeRow(ctx, tx, &n, false) },
		})
	}
	for i := range snap.Edges {
		e := snap.Edges[i]
		if e.UserID == "" {
			e.UserID = userID
		}
		out = append(out, snapshotRow{
			entityType: models.EntityEdge, entityID: e.ID, modified: e.CreatedAt,
			exists: rowExists("edges", "id = ?", e.ID),
			insert: func(ctx context.Context, tx DBTX) error { return insertEdgeRow(ctx, tx, &e) },
			update: execer(`UPDATE edges SET from_node = ?, to_node = ?, relation_type = ?, created_at = ? WHERE id = ?`,
				e.FromNode, e.ToNode, e.RelationType, e.CreatedAt, e.ID),
		})
	}
	return out
}

// ImportSnapshot bulk-loads an initial-sync snapshot. Entities the store
// already tracks are left untouched; new ones are inserted with synced
// metadata at version 1. The pull checkpoint moves to the snapshot time.
// Returns the number of rows inserted.
func (s *Store) ImportSnapshot(ctx context.Context, snap *models.Snapshot, userID string) (int, error) {
	var inserted int
	err := s.write(ctx, "snapshot.import", func(ctx context.Context, tx DBTX) error {
		for _, row := range snapshotRows(snap, userID, true) {
			meta, err := getMetadata(ctx, tx, row.entityType, row.entityID)
			if err != nil {
				return err
			}
			if meta != nil {
				continue
			}
			exists, err := row.exists(ctx, tx)
			if err != nil {
				return err
			}
			if !exists {
				if err := row.insert(ctx, tx); err != nil {
					return err
				}
			}
			if err := putMetadata(ctx, tx, &models.SyncMetadata{
				EntityType: row.entityType, EntityID: row.entityID,
				Version: 1, ServerVersion: 1, LastModified: row.modified,
				SyncStatus: models.SyncStatusSynced,
			}); err != nil {
				return err
			}
			inserted++
		}
		if snap.TakenAt > 0 {
			return advanceCheckpoint(ctx, tx, userID, snap.TakenAt)
		}
		return nil
	})
	return inserted, err
}

// TakeSnapshot reads the active mirror into a backup snapshot. Content rows
// carry metadata columns only and every table is capped.
func (s *Store) TakeSnapshot(ctx context.Context, userID string) (*models.Snapshot, error) {
	snap := &models.Snapshot{UserID: userID, TakenAt: models.NowMs()}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.type, COALESCE(c.title, ''), '', '', c.created_at, c.updated_at, c.user_id
		FROM content c
		LEFT JOIN sync_metadata m ON m.entity_type = 'content' AND m.entity_id = c.id
		WHERE c.user_id = ? AND `+tombstonedFilter+`
		ORDER BY c.created_at DESC, c.id DESC LIMIT ?`, userID, backupContentLimit)
	if err != nil {
		return nil, storeErr("snapshot.take", serr.Wrap(err, "failed to query content"))
	}
	if snap.Content, err = scanContentRows(rows); err != nil {
		return nil, storeErr("snapshot.take", err)
	}

	if snap.Tags, err = queryTags(ctx, s.db,
		selectTagColumns+` WHERE t.user_id = ? AND `+tombstonedFilter+` ORDER BY t.title LIMIT ?`,
		userID, backupRowLimit); err != nil {
		return nil, storeErr("snapshot.take", err)
	}
	if snap.ContentTags, err = queryContentTags(ctx, s.db,
		selectContentTagColumns+` WHERE ct.user_id = ? AND `+tombstonedFilter+` ORDER BY ct.created_at ASC LIMIT ?`,
		userID, backupRowLimit); err != nil {
		return nil, storeErr("snapshot.take", err)
	}
	if snap.Nodes, err = queryNodes(ctx, s.db,
		selectNodeColumns+` WHERE n.user_id = ? AND `+tombstonedFilter+` ORDER BY n.created_at ASC LIMIT ?`,
		userID, backupRowLimit); err != nil {
		return nil, storeErr("snapshot.take", err)
	}
	if snap.Edges, err = queryEdges(ctx, s.db,
		selectEdgeColumns+` WHERE e.user_id = ? AND `+tombstonedFilter+` ORDER BY e.created_at ASC LIMIT ?`,
		userID, backupRowLimit); err != nil {
		return nil, storeErr("snapshot.take", err)
	}
	return snap, nil
}

// RestoreSnapshot upserts a backup snapshot into the mirror. Existing content
// keeps its body. Entities without metadata get synced metadata at version 0
// so any server change supersedes the restored copy.
func (s *Store) RestoreSnapshot(ctx context.Context, snap *models.Snapshot, userID string) (int, error) {
	var restored int
	err := s.write(ctx, "snapshot.restore", func(ctx context.Context, tx DBTX) error {
		for _, row := range snapshotRows(snap, userID, false) {
			exists, err := row.exists(ctx, tx)
			if err != nil {
				return err
			}
			switch {
			case !exists:
				err = row.insert(ctx, tx)
			case row.update != nil:
				err = row.update(ctx, tx)
			}
			if err != nil {
				return err
			}

			meta, err := getMetadata(ctx, tx, row.entityType, row.entityID)
			if err != nil {
				return err
			}
			if meta == nil {
				if err := putMetadata(ctx, tx, &models.SyncMetadata{
					EntityType: row.entityType, EntityID: row.entityID,
					LastModified: row.modified, SyncStatus: models.SyncStatusSynced,
				}); err != nil {
					return err
				}
			}
			restored++
		}
		return nil
	})
	return restored, err
}
