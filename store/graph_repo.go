package store

import (
	"context"
	"strings"

	"synapse/models"

	"github.com/rohanthewiz/serr"
)

// GraphRepo manages knowledge-graph nodes and edges.
type GraphRepo struct {
	s *Store
}

const selectNodeColumns = `
	SELECT n.id, n.type, COALESCE(n.content, ''), COALESCE(n.metadata, ''), n.created_at, n.updated_at, n.user_id
	FROM nodes n
	LEFT JOIN sync_metadata m ON m.entity_type = 'node' AND m.entity_id = n.id`

const selectEdgeColumns = `
	SELECT e.id, e.from_node, e.to_node, e.relation_type, e.created_at, e.user_id
	FROM edges e
	LEFT JOIN sync_metadata m ON m.entity_type = 'edge' AND m.entity_id = e.id`

// jsonText returns a SQL expression extracting a JSON path as text.
// DuckDB's json_extract yields JSON (quoted), so it needs the _string form.
func (s *Store) jsonText(column, path string) string {
	if s.driver == DriverDuckDB {
		return "json_extract_string(" + column + ", '" + path + "')"
	}
	return "json_extract(" + column + ", '" + path + "')"
}

func queryNodes(ctx context.Context, q DBTX, query string, args ...any) ([]models.Node, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query nodes")
	}
	defer rows.Close()

	var out []models.Node
	for rows.Next() {
		var n models.Node
		var meta string
		if err := rows.Scan(&n.ID, &n.Type, &n.Content, &meta, &n.CreatedAt, &n.UpdatedAt, &n.UserID); err != nil {
			return nil, serr.Wrap(err, "failed to scan node")
		}
		if n.Metadata, err = models.ParseNodeMetadata(n.ID, meta); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating nodes")
	}
	return out, nil
}

func queryEdges(ctx context.Context, q DBTX, query string, args ...any) ([]models.Edge, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query edges")
	}
	defer rows.Close()

	var out []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.ID, &e.FromNode, &e.ToNode, &e.RelationType, &e.CreatedAt, &e.UserID); err != nil {
			return nil, serr.Wrap(err, "failed to scan edge")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating edges")
	}
	return out, nil
}

func getNodeRow(ctx context.Context, q DBTX, id string) (*models.Node, error) {
	nodes, err := queryNodes(ctx, q, selectNodeColumns+` WHERE n.id = ?`, id)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &nodes[0], nil
}

func getEdgeRow(ctx context.Context, q DBTX, id string) (*models.Edge, error) {
	edges, err := queryEdges(ctx, q, selectEdgeColumns+` WHERE e.id = ?`, id)
	if err != nil || len(edges) == 0 {
		return nil, err
	}
	return &edges[0], nil
}

func writeNodeRow(ctx context.Context, q DBTX, n *models.Node, insert bool) error {
	meta, err := n.MetadataJSON()
	if err != nil {
		return serr.Wrap(err, "failed to encode node metadata")
	}
	var metaArg any
	if meta != nil {
		metaArg = *meta
	}
	if insert {
		_, err = q.ExecContext(ctx, `
			INSERT INTO nodes (id, type, content, metadata, created_at, updated_at, user_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.Type, nullIfEmpty(n.Content), metaArg, n.CreatedAt, n.UpdatedAt, n.UserID)
	} else {
		_, err = q.ExecContext(ctx, `
			UPDATE nodes SET type = ?, content = ?, metadata = ?, created_at = ?, updated_at = ? WHERE id = ?`,
			n.Type, nullIfEmpty(n.Content), metaArg, n.CreatedAt, n.UpdatedAt, n.ID)
	}
	if err != nil {
		return serr.Wrap(err, "failed to write node")
	}
	return nil
}

func insertEdgeRow(ctx context.Context, q DBTX, e *models.Edge) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO edges (id, from_node, to_node, relation_type, created_at, user_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.FromNode, e.ToNode, e.RelationType, e.CreatedAt, e.UserID)
	if err != nil {
		return serr.Wrap(err, "failed to insert edge")
	}
	return nil
}

// CreateNode inserts a graph node.
func (r *GraphRepo) CreateNode(ctx context.Context, p *models.NodePayload, userID string) (*models.Node, error) {
	if p.ID == "" {
		p.ID = models.NewID()
	}
	if err := p.ValidateFor(models.OperationCreate); err != nil {
		return nil, err
	}

	now := models.NowMs()
	n := &models.Node{ID: p.ID, CreatedAt: now, UpdatedAt: now, UserID: userID}
	n.Apply(&models.NodePayload{Type: p.Type, Content: p.Content, Metadata: p.Metadata})

	err := r.s.write(ctx, "node.create", func(ctx context.Context, tx DBTX) error {
		existing, err := getNodeRow(ctx, tx, n.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyExists
		}
		if err := writeNodeRow(ctx, tx, n, true); err != nil {
			return err
		}
		if err := r.s.checkFailpoint(StageRow); err != nil {
			return err
		}
		_, err = r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityNode, entityID: n.ID, op: models.OperationCreate,
			payload: n.Snapshot(), userID: userID, now: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateNode applies the provided fields only.
func (r *GraphRepo) UpdateNode(ctx context.Context, id string, p *models.NodePayload, userID string) (*models.Node, error) {
	p.ID = id
	if err := p.ValidateFor(models.OperationUpdate); err != nil {
		return nil, err
	}

	var updated *models.Node
	err := r.s.write(ctx, "node.update", func(ctx context.Context, tx DBTX) error {
		if _, err := requireActive(ctx, tx, models.EntityNode, id); err != nil {
			return err
		}
		current, err := getNodeRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || current.UserID != userID {
			return ErrNotFound
		}

		now := models.NowMs()
		applied := &models.NodePayload{ID: id, Type: p.Type, Content: p.Content, Metadata: p.Metadata, UpdatedAt: models.Ptr(now)}
		current.Apply(applied)
		// the merged row must still satisfy the node schema
		if err := current.Snapshot().ValidateFor(models.OperationCreate); err != nil {
			return err
		}
		if err := writeNodeRow(ctx, tx, current, false); err != nil {
			return err
		}
		if err := r.s.checkFailpoint(StageRow); err != nil {
			return err
		}
		if _, err := r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityNode, entityID: id, op: models.OperationUpdate,
			payload: applied, userID: userID, now: now,
		}); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteNode tombstones the node and every edge touching it. Edge deletes are
// logged first so they replay before the node delete.
func (r *GraphRepo) DeleteNode(ctx context.Context, id, userID string) error {
	return r.s.write(ctx, "node.delete", func(ctx context.Context, tx DBTX) error {
		if _, err := requireActive(ctx, tx, models.EntityNode, id); err != nil {
			return err
		}
		current, err := getNodeRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || current.UserID != userID {
			return ErrNotFound
		}

		now := models.NowMs()
		edges, err := queryEdges(ctx, tx,
			selectEdgeColumns+` WHERE (e.from_node = ? OR e.to_node = ?) AND `+tombstonedFilter+` ORDER BY e.created_at ASC`,
			id, id)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if _, err := r.s.recordLocal(ctx, tx, mutation{
				entityType: models.EntityEdge, entityID: e.ID, op: models.OperationDelete, userID: userID, now: now,
			}); err != nil {
				return err
			}
		}
		if _, err := r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityNode, entityID: id, op: models.OperationDelete, userID: userID, now: now,
		}); err != nil {
			return err
		}
		return r.s.checkFailpoint(StageRow)
	})
}

// GetNodeByID returns an active node.
func (r *GraphRepo) GetNodeByID(ctx context.Context, id, userID string) (*models.Node, error) {
	return r.oneNode(ctx, "node.get", `n.id = ?`, id, userID)
}

// GetNodeByContentID finds the content node whose metadata points at contentID.
func (r *GraphRepo) GetNodeByContentID(ctx context.Context, contentID, userID string) (*models.Node, error) {
	return r.oneNode(ctx, "node.by_content",
		`n.type = 'content' AND `+r.s.jsonText("n.metadata", "$.content_id")+` = ?`, contentID, userID)
}

// GetNodeByTagID finds the tag node whose metadata points at tagID.
func (r *GraphRepo) GetNodeByTagID(ctx context.Context, tagID, userID string) (*models.Node, error) {
	return r.oneNode(ctx, "node.by_tag",
		`n.type = 'tag' AND `+r.s.jsonText("n.metadata", "$.tag_id")+` = ?`, tagID, userID)
}

func (r *GraphRepo) oneNode(ctx context.Context, op, cond, arg, userID string) (*models.Node, error) {
	nodes, err := queryNodes(ctx, r.s.db,
		selectNodeColumns+` WHERE `+cond+` AND n.user_id = ? AND `+tombstonedFilter+` LIMIT 1`, arg, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if len(nodes) == 0 {
		return nil, storeErr(op, ErrNotFound)
	}
	return &nodes[0], nil
}

// GetAllNodes returns every active node of the user.
func (r *GraphRepo) GetAllNodes(ctx context.Context, userID string) ([]models.Node, error) {
	nodes, err := queryNodes(ctx, r.s.db,
		selectNodeColumns+` WHERE n.user_id = ? AND `+tombstonedFilter+` ORDER BY n.created_at DESC, n.id DESC`, userID)
	return nodes, storeErr("node.list", err)
}

// CreateEdge links two active nodes.
func (r *GraphRepo) CreateEdge(ctx context.Context, p *models.EdgePayload, userID string) (*models.Edge, error) {
	if p.ID == "" {
		p.ID = models.NewID()
	}
	if err := p.ValidateFor(models.OperationCreate); err != nil {
		return nil, err
	}

	now := models.NowMs()
	e := &models.Edge{ID: p.ID, CreatedAt: now, UserID: userID}
	e.Apply(&models.EdgePayload{FromNode: p.FromNode, ToNode: p.ToNode, RelationType: p.RelationType})

	err := r.s.write(ctx, "edge.create", func(ctx context.Context, tx DBTX) error {
		for _, nodeID := range []string{e.FromNode, e.ToNode} {
			if _, err := requireActive(ctx, tx, models.EntityNode, nodeID); err != nil {
				return err
			}
		}
		existing, err := getEdgeRow(ctx, tx, e.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyExists
		}
		if err := insertEdgeRow(ctx, tx, e); err != nil {
			return err
		}
		if err := r.s.checkFailpoint(StageRow); err != nil {
			return err
		}
		_, err = r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityEdge, entityID: e.ID, op: models.OperationCreate,
			payload: e.Snapshot(), userID: userID, now: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteEdge tombstones a single edge.
func (r *GraphRepo) DeleteEdge(ctx context.Context, id, userID string) error {
	return r.s.write(ctx, "edge.delete", func(ctx context.Context, tx DBTX) error {
		if _, err := requireActive(ctx, tx, models.EntityEdge, id); err != nil {
			return err
		}
		current, err := getEdgeRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || current.UserID != userID {
			return ErrNotFound
		}
		_, err = r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityEdge, entityID: id, op: models.OperationDelete, userID: userID, now: models.NowMs(),
		})
		return err
	})
}

// GetEdges returns the active edges touching nodeID.
func (r *GraphRepo) GetEdges(ctx context.Context, nodeID, userID string) ([]models.Edge, error) {
	edges, err := queryEdges(ctx, r.s.db,
		selectEdgeColumns+` WHERE (e.from_node = ? OR e.to_node = ?) AND e.user_id = ? AND `+tombstonedFilter+
			` ORDER BY e.created_at ASC, e.id ASC`, nodeID, nodeID, userID)
	return edges, storeErr("edge.by_node", err)
}

// GetAllEdges returns every active edge of the user.
func (r *GraphRepo) GetAllEdges(ctx context.Context, userID string) ([]models.Edge, error) {
	edges, err := queryEdges(ctx, r.s.db,
		selectEdgeColumns+` WHERE e.user_id = ? AND `+tombstonedFilter+` ORDER BY e.created_at ASC, e.id ASC`, userID)
	return edges, storeErr("edge.list", err)
}

// Graph is the full node/edge set of a user.
type Graph struct {
	Nodes []models.Node `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

// GetGraph returns every active node and edge of the user.
func (r *GraphRepo) GetGraph(ctx context.Context, userID string) (*Graph, error) {
	nodes, err := r.GetAllNodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	edges, err := r.GetAllEdges(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Graph{Nodes: nodes, Edges: edges}, nil
}

func applyRemoteNode(ctx context.Context, tx DBTX, c *models.Change, p *models.NodePayload, userID string) error {
	current, err := getNodeRow(ctx, tx, c.EntityID)
	if err != nil {
		return err
	}
	insert := current == nil
	if insert {
		current = &models.Node{ID: c.EntityID, CreatedAt: c.Timestamp, UpdatedAt: c.Timestamp, UserID: userID}
	}
	current.Apply(p)
	if p.UpdatedAt == nil {
		current.UpdatedAt = c.Timestamp
	}
	if err := current.Snapshot().ValidateFor(models.OperationCreate); err != nil {
		return err
	}
	return writeNodeRow(ctx, tx, current, insert)
}

func applyRemoteEdge(ctx context.Context, tx DBTX, c *models.Change, p *models.EdgePayload, userID string) error {
	current, err := getEdgeRow(ctx, tx, c.EntityID)
	if err != nil {
		return err
	}
	if current == nil {
		row := &models.Edge{ID: c.EntityID, CreatedAt: c.Timestamp, UserID: userID}
		row.Apply(p)
		if err := row.Snapshot().ValidateFor(models.OperationCreate); err != nil {
			return err
		}
		return insertEdgeRow(ctx, tx, row)
	}
	current.Apply(p)
	_, err = tx.ExecContext(ctx,
		`UPDATE edges SET from_node = ?, to_node = ?, relation_type = ?, created_at = ? WHERE id = ?`,
		current.FromNode, current.ToNode, current.RelationType, current.CreatedAt, current.ID)
	if err != nil {
		return serr.Wrap(err, "failed to update edge")
	}
	return nil
}

// deleteEntityRow physically removes the mirrored row of an entity.
func deleteEntityRow(ctx context.Context, tx DBTX, t models.EntityType, id string) error {
	var query string
	args := []any{id}
	switch t {
	case models.EntityContent:
		query = `DELETE FROM content WHERE id = ?`
	case models.EntityTag:
		query = `DELETE FROM tags WHERE id = ?`
	case models.EntityContentTag:
		contentID, tagID, _ := strings.Cut(id, ":")
		query = `DELETE FROM content_tags WHERE content_id = ? AND tag_id = ?`
		args = []any{contentID, tagID}
	case models.EntityNode:
		query = `DELETE FROM nodes WHERE id = ?`
	case models.EntityEdge:
		query = `DELETE FROM edges WHERE id = ?`
	default:
		return serr.New("unknown entity type " + string(t))
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return serr.Wrap(err, "failed to delete "+string(t)+" row")
	}
	return nil
}
