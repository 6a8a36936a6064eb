package store

import (
	"context"

	"synapse/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ApplyOutcome says what ApplyRemote did with a change.
type ApplyOutcome string

const (
	// ApplyApplied: the change was written to the mirror.
	ApplyApplied ApplyOutcome = "applied"
	// ApplySkipped: the local mirror already holds this version or a newer one.
	ApplySkipped ApplyOutcome = "skipped"
	// ApplyLocalWon: the entity had pending local work that won the conflict.
	ApplyLocalWon ApplyOutcome = "local_won"
)

type ApplyResult struct {
	Outcome    ApplyOutcome
	Resolution models.Resolution // empty unless there was a conflict
}

// ApplyRemote applies one pulled change in a single transaction.
//
// A change for an entity with no pending local operations is applied when it
// is newer than the last server version the mirror has seen, and skipped
// otherwise, so replaying a pull is harmless. If local operations are pending the change is resolved with
// last-write-wins; the decision is recorded in sync_conflicts. A remote win
// supersedes the pending operations, a local win marks the entity conflict
// and leaves the operations to be pushed.
//
// A malformed change is returned as *models.ValidationError without touching
// the store.
func (s *Store) ApplyRemote(ctx context.Context, c models.Change, userID string) (ApplyResult, error) {
	payload, err := c.Decode()
	if err != nil {
		return ApplyResult{}, err
	}

	var res ApplyResult
	err = s.write(ctx, "sync.apply_remote", func(ctx context.Context, tx DBTX) error {
		meta, err := getMetadata(ctx, tx, c.EntityType, c.EntityID)
		if err != nil {
			return err
		}
		pending, err := countUnsynced(ctx, tx, c.EntityType, c.EntityID)
		if err != nil {
			return err
		}

		switch {
		case meta != nil && pending > 0:
			resolution := models.ResolveConflict(
				models.Stamp{Version: meta.Version, LastModified: meta.LastModified},
				models.Stamp{Version: c.Version, LastModified: c.Timestamp},
			)
			res.Resolution = resolution
			if err := recordConflict(ctx, tx, meta, &c, resolution); err != nil {
				return err
			}
			if !resolution.RemoteWins() {
				res.Outcome = ApplyLocalWon
				return setSyncStatus(ctx, tx, c.EntityType, c.EntityID, models.SyncStatusConflict)
			}
			if _, err := supersedeUnsynced(ctx, tx, c.EntityType, c.EntityID); err != nil {
				return err
			}
		case meta != nil && c.Version <= meta.ServerVersion:
			// the local counter runs ahead of the server's once local edits
			// are pushed, so only the server version says what was seen
			res.Outcome = ApplySkipped
			return nil
		}

		if err := applyRemoteRow(ctx, tx, &c, payload, userID); err != nil {
			return err
		}
		if err := recordRemote(ctx, tx, &c, payload, userID); err != nil {
			return err
		}
		res.Outcome = ApplyApplied
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return res, nil
}

func applyRemoteRow(ctx context.Context, tx DBTX, c *models.Change, payload models.Payload, userID string) error {
	if c.Operation == models.OperationDelete {
		if err := cascadeRemoteDelete(ctx, tx, c); err != nil {
			return err
		}
		return deleteEntityRow(ctx, tx, c.EntityType, c.EntityID)
	}

	switch p := payload.(type) {
	case *models.ContentPayload:
		return applyRemoteContent(ctx, tx, c, p, userID)
	case *models.TagPayload:
		return applyRemoteTag(ctx, tx, c, p, userID)
	case *models.ContentTagPayload:
		return applyRemoteContentTag(ctx, tx, c, p, userID)
	case *models.NodePayload:
		return applyRemoteNode(ctx, tx, c, p, userID)
	case *models.EdgePayload:
		return applyRemoteEdge(ctx, tx, c, p, userID)
	}
	return serr.New("no payload for " + string(c.Operation) + " of " + string(c.EntityType))
}

// cascadeRemoteDelete removes what a local delete of the same entity would
// have tombstoned: the edges touching a node, the tag links of a content
// item or a tag. Dependents end tombstoned and synced, and any pending local
// work on them is superseded.
func cascadeRemoteDelete(ctx context.Context, tx DBTX, c *models.Change) error {
	var (
		depType models.EntityType
		ids     []string
	)
	switch c.EntityType {
	case models.EntityNode:
		edges, err := queryEdges(ctx, tx,
			selectEdgeColumns+` WHERE (e.from_node = ? OR e.to_node = ?) AND `+tombstonedFilter,
			c.EntityID, c.EntityID)
		if err != nil {
			return err
		}
		depType = models.EntityEdge
		for _, e := range edges {
			ids = append(ids, e.ID)
		}
	case models.EntityContent, models.EntityTag:
		cond := `ct.content_id = ?`
		if c.EntityType == models.EntityTag {
			cond = `ct.tag_id = ?`
		}
		links, err := activeContentTags(ctx, tx, cond, c.EntityID)
		if err != nil {
			return err
		}
		depType = models.EntityContentTag
		for _, ct := range links {
			ids = append(ids, ct.ID())
		}
	default:
		return nil
	}

	for _, id := range ids {
		if err := tombstoneDependent(ctx, tx, depType, id, c.Timestamp); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		logger.Debug("Remote delete cascaded", "entity_type", c.EntityType, "entity_id", c.EntityID,
			"dependent_type", depType, "count", len(ids))
	}
	return nil
}

func tombstoneDependent(ctx context.Context, tx DBTX, t models.EntityType, id string, ts int64) error {
	if err := deleteEntityRow(ctx, tx, t, id); err != nil {
		return err
	}
	if _, err := supersedeUnsynced(ctx, tx, t, id); err != nil {
		return err
	}
	meta, err := getMetadata(ctx, tx, t, id)
	if err != nil || meta == nil {
		return err
	}
	meta.Tombstone = true
	meta.SyncStatus = models.SyncStatusSynced
	meta.LastModified = max(meta.LastModified, ts)
	return putMetadata(ctx, tx, meta)
}
