package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityType names a mirrored table. The string value is what travels in the
// operation log and over the wire.
type EntityType string

const (
	EntityContent    EntityType = "content"
	EntityTag        EntityType = "tag"
	EntityContentTag EntityType = "content_tag"
	EntityNode       EntityType = "node"
	EntityEdge       EntityType = "edge"
)

// EntityTypes lists every mirrored entity type in dependency order
// (parents before the rows that reference them).
var EntityTypes = []EntityType{EntityContent, EntityTag, EntityContentTag, EntityNode, EntityEdge}

func (t EntityType) Valid() bool {
	switch t {
	case EntityContent, EntityTag, EntityContentTag, EntityNode, EntityEdge:
		return true
	}
	return false
}

// Operation is the kind of mutation recorded in the operation log.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// SyncStatus is the per-entity replication state kept in sync_metadata.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// Lifecycle is the state of a mirrored entity.
//
//	Active -> Tombstoned   local or remote delete
//	Tombstoned -> Purged   only once every log entry for the entity is synced
//	Tombstoned -> Active   a newer create/update wins over the delete
type Lifecycle int

const (
	LifecyclePurged Lifecycle = iota
	LifecycleActive
	LifecycleTombstoned
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleActive:
		return "active"
	case LifecycleTombstoned:
		return "tombstoned"
	default:
		return "purged"
	}
}

// CanTransition reports whether moving from l to next is allowed.
func (l Lifecycle) CanTransition(next Lifecycle) bool {
	switch l {
	case LifecyclePurged:
		return next == LifecycleActive
	case LifecycleActive:
		return next == LifecycleActive || next == LifecycleTombstoned
	case LifecycleTombstoned:
		return next == LifecycleActive || next == LifecyclePurged
	}
	return false
}

// SyncMetadata is the bookkeeping row kept for every mirrored entity.
type SyncMetadata struct {
	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	Version       int64      `json:"version"`
	ServerVersion int64      `json:"server_version"`
	LastModified  int64      `json:"last_modified"` // epoch ms
	SyncStatus    SyncStatus `json:"sync_status"`
	Tombstone     bool       `json:"tombstone"`
}

// Lifecycle derives the entity state from its metadata row. A nil row means
// the entity was never seen or has been purged.
func (m *SyncMetadata) Lifecycle() Lifecycle {
	if m == nil {
		return LifecyclePurged
	}
	if m.Tombstone {
		return LifecycleTombstoned
	}
	return LifecycleActive
}

// Operation log entry. Data holds the encoded payload for create/update and
// is empty for delete.
type OperationLogEntry struct {
	ID         string     `json:"id"`
	Seq        int64      `json:"seq"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Operation  Operation  `json:"operation"`
	Data       string     `json:"data,omitempty"`
	Version    int64      `json:"version"`
	Timestamp  int64      `json:"timestamp"` // epoch ms
	Synced     bool       `json:"synced"`
	UserID     string     `json:"user_id"`
}

// NewID returns a client-generated identifier so entities can be created
// while offline.
func NewID() string {
	return uuid.NewString()
}

// NowMs returns the current time as epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// ContentTagID is the entity id of a content/tag association.
func ContentTagID(contentID, tagID string) string {
	return contentID + ":" + tagID
}
