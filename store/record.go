package store

import (
	"context"

	"synapse/models"

	"github.com/rohanthewiz/serr"
)

// Failpoint stages, in the order a local write reaches them.
const (
	StageRow      = "row"
	StageMetadata = "metadata"
	StageLog      = "log"
)

// mutation describes one entity change to be recorded alongside the row write.
type mutation struct {
	entityType models.EntityType
	entityID   string
	op         models.Operation
	payload    models.Payload // nil for delete
	userID     string
	now        int64
}

// recordLocal writes the bookkeeping half of a local mutation: a freshly
// allocated version in sync_metadata (pending) and an unsynced log entry.
// It runs inside the caller's transaction.
func (s *Store) recordLocal(ctx context.Context, tx DBTX, m mutation) (int64, error) {
	if err := s.checkFailpoint(StageMetadata); err != nil {
		return 0, err
	}
	version, err := nextVersion(ctx, tx, m.entityType, m.entityID)
	if err != nil {
		return 0, err
	}

	prev, err := getMetadata(ctx, tx, m.entityType, m.entityID)
	if err != nil {
		return 0, err
	}
	meta := &models.SyncMetadata{
		EntityType:   m.entityType,
		EntityID:     m.entityID,
		Version:      version,
		LastModified: m.now,
		SyncStatus:   models.SyncStatusPending,
		Tombstone:    m.op == models.OperationDelete,
	}
	if prev != nil {
		meta.ServerVersion = prev.ServerVersion
	}
	if err := putMetadata(ctx, tx, meta); err != nil {
		return 0, err
	}

	if err := s.checkFailpoint(StageLog); err != nil {
		return 0, err
	}
	data, err := models.EncodePayload(m.payload)
	if err != nil {
		return 0, serr.Wrap(err, "failed to encode payload")
	}
	entry := &models.OperationLogEntry{
		EntityType: m.entityType,
		EntityID:   m.entityID,
		Operation:  m.op,
		Data:       data,
		Version:    version,
		Timestamp:  m.now,
		Synced:     false,
		UserID:     m.userID,
	}
	if err := appendOperation(ctx, tx, entry); err != nil {
		return 0, err
	}
	return version, nil
}

// recordRemote writes the bookkeeping for an applied remote change. The
// metadata adopts the server's version and the log entry is born synced.
func recordRemote(ctx context.Context, tx DBTX, c *models.Change, payload models.Payload, userID string) error {
	meta := &models.SyncMetadata{
		EntityType:    c.EntityType,
		EntityID:      c.EntityID,
		Version:       c.Version,
		ServerVersion: c.Version,
		LastModified:  c.Timestamp,
		SyncStatus:    models.SyncStatusSynced,
		Tombstone:     c.Operation == models.OperationDelete,
	}
	if err := putMetadata(ctx, tx, meta); err != nil {
		return err
	}

	data, err := models.EncodePayload(payload)
	if err != nil {
		return serr.Wrap(err, "failed to encode payload")
	}
	return appendOperation(ctx, tx, &models.OperationLogEntry{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Operation:  c.Operation,
		Data:       data,
		Version:    c.Version,
		Timestamp:  c.Timestamp,
		Synced:     true,
		UserID:     userID,
	})
}

// requireActive returns ErrNotFound unless the entity is Active.
func requireActive(ctx context.Context, q DBTX, t models.EntityType, id string) (*models.SyncMetadata, error) {
	meta, err := getMetadata(ctx, q, t, id)
	if err != nil {
		return nil, err
	}
	if meta.Lifecycle() != models.LifecycleActive {
		return nil, ErrNotFound
	}
	return meta, nil
}
