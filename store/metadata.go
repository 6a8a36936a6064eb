package store

import (
	"context"
	"database/sql"
	"errors"

	"synapse/models"

	"github.com/rohanthewiz/serr"
)

const selectMetadataSQL = `
	SELECT entity_type, entity_id, version, server_version, last_modified, sync_status, tombstone
	FROM sync_metadata WHERE entity_type = ? AND entity_id = ?`

// getMetadata returns the metadata row or nil when the entity is unknown.
func getMetadata(ctx context.Context, q DBTX, t models.EntityType, id string) (*models.SyncMetadata, error) {
	m := &models.SyncMetadata{}
	var status string
	err := q.QueryRowContext(ctx, selectMetadataSQL, string(t), id).Scan(
		&m.EntityType, &m.EntityID, &m.Version, &m.ServerVersion, &m.LastModified, &status, &m.Tombstone,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to read sync metadata")
	}
	m.SyncStatus = models.SyncStatus(status)
	return m, nil
}

// putMetadata inserts or replaces the metadata row for m's entity.
func putMetadata(ctx context.Context, q DBTX, m *models.SyncMetadata) error {
	res, err := q.ExecContext(ctx, `
		UPDATE sync_metadata
		SET version = ?, server_version = ?, last_modified = ?, sync_status = ?, tombstone = ?
		WHERE entity_type = ? AND entity_id = ?`,
		m.Version, m.ServerVersion, m.LastModified, string(m.SyncStatus), m.Tombstone,
		string(m.EntityType), m.EntityID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to update sync metadata")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO sync_metadata (entity_type, entity_id, version, server_version, last_modified, sync_status, tombstone)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(m.EntityType), m.EntityID, m.Version, m.ServerVersion, m.LastModified, string(m.SyncStatus), m.Tombstone,
	)
	if err != nil {
		return serr.Wrap(err, "failed to insert sync metadata")
	}
	return nil
}

func setSyncStatus(ctx context.Context, q DBTX, t models.EntityType, id string, status models.SyncStatus) error {
	_, err := q.ExecContext(ctx,
		`UPDATE sync_metadata SET sync_status = ? WHERE entity_type = ? AND entity_id = ?`,
		string(status), string(t), id,
	)
	if err != nil {
		return serr.Wrap(err, "failed to set sync status")
	}
	return nil
}

// nextVersion returns a version strictly greater than anything allocated for
// the entity so far, starting at 1. The op log is consulted as well so a
// purged and recreated id never reuses a version.
func nextVersion(ctx context.Context, q DBTX, t models.EntityType, id string) (int64, error) {
	var metaVersion, logVersion int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM sync_metadata WHERE entity_type = ? AND entity_id = ?`,
		string(t), id,
	).Scan(&metaVersion)
	if err != nil {
		return 0, serr.Wrap(err, "failed to read metadata version")
	}
	err = q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM operation_log WHERE entity_type = ? AND entity_id = ?`,
		string(t), id,
	).Scan(&logVersion)
	if err != nil {
		return 0, serr.Wrap(err, "failed to read log version")
	}
	return max(metaVersion, logVersion) + 1, nil
}

// GetMetadata returns the sync metadata for an entity, or nil if it has
// none (never created, or purged).
func (s *Store) GetMetadata(ctx context.Context, t models.EntityType, id string) (*models.SyncMetadata, error) {
	m, err := getMetadata(ctx, s.db, t, id)
	return m, storeErr("metadata.get", err)
}

// Lifecycle returns the lifecycle state of an entity.
func (s *Store) Lifecycle(ctx context.Context, t models.EntityType, id string) (models.Lifecycle, error) {
	m, err := s.GetMetadata(ctx, t, id)
	if err != nil {
		return models.LifecyclePurged, err
	}
	return m.Lifecycle(), nil
}

// tombstonedFilter is the listing predicate for a LEFT JOIN on sync_metadata
// aliased "m". Tombstoned rows never reach user-facing lists.
const tombstonedFilter = `(m.tombstone IS NULL OR m.tombstone = FALSE)`
