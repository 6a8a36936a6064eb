package store

import (
	"context"
	"database/sql"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Schema
//
// Mirrored entity tables keep the server's row shape with timestamps as
// epoch milliseconds. The bookkeeping tables (sync_metadata, operation_log,
// sync_checkpoint, sync_conflicts) are local only.
// The DDL sticks to the subset DuckDB and SQLite both accept.
// ============================================================================

const DDLCreateContentTable = `
CREATE TABLE IF NOT EXISTS content (
    id               VARCHAR PRIMARY KEY,
    type             VARCHAR NOT NULL,
    title            VARCHAR,
    content          TEXT NOT NULL,
    thumbnail_base64 TEXT,
    created_at       BIGINT NOT NULL,
    updated_at       BIGINT NOT NULL,
    user_id          VARCHAR NOT NULL
);
`

const DDLCreateTagsTable = `
CREATE TABLE IF NOT EXISTS tags (
    id         VARCHAR PRIMARY KEY,
    title      VARCHAR NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    user_id    VARCHAR NOT NULL
);
`

const DDLCreateContentTagsTable = `
CREATE TABLE IF NOT EXISTS content_tags (
    content_id VARCHAR NOT NULL,
    tag_id     VARCHAR NOT NULL,
    created_at BIGINT NOT NULL,
    user_id    VARCHAR NOT NULL,
    PRIMARY KEY (content_id, tag_id)
);
`

const DDLCreateNodesTable = `
CREATE TABLE IF NOT EXISTS nodes (
    id         VARCHAR PRIMARY KEY,
    type       VARCHAR NOT NULL,
    content    TEXT,
    metadata   TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    user_id    VARCHAR NOT NULL
);
`

const DDLCreateEdgesTable = `
CREATE TABLE IF NOT EXISTS edges (
    id            VARCHAR PRIMARY KEY,
    from_node     VARCHAR NOT NULL,
    to_node       VARCHAR NOT NULL,
    relation_type VARCHAR NOT NULL,
    created_at    BIGINT NOT NULL,
    user_id       VARCHAR NOT NULL
);
`

// DDLCreateSyncMetadataTable holds one row per mirrored entity. version is
// allocated locally on every mutation and overwritten by the server's
// version when a remote change is applied.
const DDLCreateSyncMetadataTable = `
CREATE TABLE IF NOT EXISTS sync_metadata (
    entity_type    VARCHAR NOT NULL,
    entity_id      VARCHAR NOT NULL,
    version        BIGINT NOT NULL,
    server_version BIGINT NOT NULL DEFAULT 0,
    last_modified  BIGINT NOT NULL,
    sync_status    VARCHAR NOT NULL,
    tombstone      BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (entity_type, entity_id)
);
`

// DDLCreateOperationLogTable is append-only. seq is the insertion order and
// breaks timestamp ties. "timestamp" is quoted everywhere it is referenced.
const DDLCreateOperationLogTable = `
CREATE TABLE IF NOT EXISTS operation_log (
    id          VARCHAR PRIMARY KEY,
    seq         BIGINT NOT NULL,
    entity_type VARCHAR NOT NULL,
    entity_id   VARCHAR NOT NULL,
    operation   VARCHAR NOT NULL,
    data        TEXT,
    version     BIGINT NOT NULL,
    "timestamp" BIGINT NOT NULL,
    synced      BOOLEAN NOT NULL DEFAULT FALSE,
    user_id     VARCHAR NOT NULL
);
`

const DDLCreateSyncCheckpointTable = `
CREATE TABLE IF NOT EXISTS sync_checkpoint (
    user_id    VARCHAR PRIMARY KEY,
    watermark  BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
`

const DDLCreateSyncConflictsTable = `
CREATE TABLE IF NOT EXISTS sync_conflicts (
    id              VARCHAR PRIMARY KEY,
    entity_type     VARCHAR NOT NULL,
    entity_id       VARCHAR NOT NULL,
    local_version   BIGINT NOT NULL,
    remote_version  BIGINT NOT NULL,
    local_modified  BIGINT NOT NULL,
    remote_modified BIGINT NOT NULL,
    resolution      VARCHAR NOT NULL,
    diff            TEXT,
    created_at      BIGINT NOT NULL
);
`

var schema = []string{
	DDLCreateContentTable,
	DDLCreateTagsTable,
	DDLCreateContentTagsTable,
	DDLCreateNodesTable,
	DDLCreateEdgesTable,
	DDLCreateSyncMetadataTable,
	DDLCreateOperationLogTable,
	DDLCreateSyncCheckpointTable,
	DDLCreateSyncConflictsTable,
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_content_user_created ON content(user_id, created_at, id)",
	"CREATE INDEX IF NOT EXISTS idx_tags_user ON tags(user_id)",
	"CREATE INDEX IF NOT EXISTS idx_content_tags_tag ON content_tags(tag_id)",
	"CREATE INDEX IF NOT EXISTS idx_nodes_user ON nodes(user_id)",
	"CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_node)",
	"CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_node)",
	"CREATE INDEX IF NOT EXISTS idx_oplog_synced ON operation_log(synced, \"timestamp\", seq)",
	"CREATE INDEX IF NOT EXISTS idx_oplog_entity ON operation_log(entity_type, entity_id)",
	"CREATE INDEX IF NOT EXISTS idx_sync_conflicts_entity ON sync_conflicts(entity_type, entity_id)",
}

// migrate creates every table and index. Safe to run on every open.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return serr.Wrap(err, "failed to apply schema")
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			logger.LogErr(err, "failed to create index", "sql", indexSQL)
			// Continue with other indexes even if one fails
		}
	}

	logger.Debug("Local store migration completed")
	return nil
}
