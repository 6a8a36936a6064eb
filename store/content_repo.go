package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"synapse/models"

	"github.com/rohanthewiz/serr"
)

// ContentRepo is the data-access layer for content items.
type ContentRepo struct {
	s *Store
}

const selectContentColumns = `
	SELECT c.id, c.type, COALESCE(c.title, ''), c.content, COALESCE(c.thumbnail_base64, ''),
	       c.created_at, c.updated_at, c.user_id
	FROM content c
	LEFT JOIN sync_metadata m ON m.entity_type = 'content' AND m.entity_id = c.id`

func scanContentRows(rows *sql.Rows) ([]models.Content, error) {
	defer rows.Close()
	var out []models.Content
	for rows.Next() {
		var c models.Content
		if err := rows.Scan(&c.ID, &c.Type, &c.Title, &c.Content, &c.ThumbnailBase64,
			&c.CreatedAt, &c.UpdatedAt, &c.UserID); err != nil {
			return nil, serr.Wrap(err, "failed to scan content row")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating content rows")
	}
	return out, nil
}

func getContentRow(ctx context.Context, q DBTX, id string) (*models.Content, error) {
	rows, err := q.QueryContext(ctx, selectContentColumns+` WHERE c.id = ?`, id)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query content")
	}
	items, err := scanContentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func insertContentRow(ctx context.Context, q DBTX, c *models.Content) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO content (id, type, title, content, thumbnail_base64, created_at, updated_at, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Type, nullIfEmpty(c.Title), c.Content, nullIfEmpty(c.ThumbnailBase64), c.CreatedAt, c.UpdatedAt, c.UserID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to insert content")
	}
	return nil
}

// updateContentColumns writes only the fields present in p.
func updateContentColumns(ctx context.Context, q DBTX, id string, p *models.ContentPayload, updatedAt int64) error {
	var sets []string
	var args []any
	if p.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, *p.Type)
	}
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, nullIfEmpty(*p.Title))
	}
	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *p.Content)
	}
	if p.ThumbnailBase64 != nil {
		sets = append(sets, "thumbnail_base64 = ?")
		args = append(args, nullIfEmpty(*p.ThumbnailBase64))
	}
	if p.CreatedAt != nil {
		sets = append(sets, "created_at = ?")
		args = append(args, *p.CreatedAt)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, updatedAt, id)

	_, err := q.ExecContext(ctx, `UPDATE content SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return serr.Wrap(err, "failed to update content")
	}
	return nil
}

// Create inserts a content item and records it for sync.
func (r *ContentRepo) Create(ctx context.Context, p *models.ContentPayload, userID string) (*models.Content, error) {
	if p.ID == "" {
		p.ID = models.NewID()
	}
	if err := p.ValidateFor(models.OperationCreate); err != nil {
		return nil, err
	}

	now := models.NowMs()
	c := &models.Content{ID: p.ID, UserID: userID, CreatedAt: now, UpdatedAt: now}
	c.Apply(&models.ContentPayload{Type: p.Type, Title: p.Title, Content: p.Content, ThumbnailBase64: p.ThumbnailBase64})

	err := r.s.write(ctx, "content.create", func(ctx context.Context, tx DBTX) error {
		existing, err := getContentRow(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyExists
		}
		if err := insertContentRow(ctx, tx, c); err != nil {
			return err
		}
		if err := r.s.checkFailpoint(StageRow); err != nil {
			return err
		}
		_, err = r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityContent, entityID: c.ID, op: models.OperationCreate,
			payload: c.Snapshot(), userID: userID, now: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Update applies the provided fields only and bumps updated_at.
func (r *ContentRepo) Update(ctx context.Context, id string, p *models.ContentPayload, userID string) (*models.Content, error) {
	p.ID = id
	if err := p.ValidateFor(models.OperationUpdate); err != nil {
		return nil, err
	}

	var updated *models.Content
	err := r.s.write(ctx, "content.update", func(ctx context.Context, tx DBTX) error {
		if _, err := requireActive(ctx, tx, models.EntityContent, id); err != nil {
			return err
		}
		current, err := getContentRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || current.UserID != userID {
			return ErrNotFound
		}

		now := models.NowMs()
		applied := &models.ContentPayload{
			ID: id, Type: p.Type, Title: p.Title, Content: p.Content,
			ThumbnailBase64: p.ThumbnailBase64, UpdatedAt: models.Ptr(now),
		}
		if err := updateContentColumns(ctx, tx, id, applied, now); err != nil {
			return err
		}
		if err := r.s.checkFailpoint(StageRow); err != nil {
			return err
		}
		if _, err := r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityContent, entityID: id, op: models.OperationUpdate,
			payload: applied, userID: userID, now: now,
		}); err != nil {
			return err
		}
		current.Apply(applied)
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete tombstones the content item and every tag association it has.
// The rows stay hidden until the deletes are confirmed synced and purged.
func (r *ContentRepo) Delete(ctx context.Context, id, userID string) error {
	return r.s.write(ctx, "content.delete", func(ctx context.Context, tx DBTX) error {
		if _, err := requireActive(ctx, tx, models.EntityContent, id); err != nil {
			return err
		}
		current, err := getContentRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || current.UserID != userID {
			return ErrNotFound
		}

		now := models.NowMs()
		links, err := activeContentTags(ctx, tx, `ct.content_id = ?`, id)
		if err != nil {
			return err
		}
		for _, ct := range links {
			if _, err := r.s.recordLocal(ctx, tx, mutation{
				entityType: models.EntityContentTag, entityID: ct.ID(), op: models.OperationDelete,
				userID: userID, now: now,
			}); err != nil {
				return err
			}
		}

		if _, err := r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityContent, entityID: id, op: models.OperationDelete,
			userID: userID, now: now,
		}); err != nil {
			return err
		}
		return r.s.checkFailpoint(StageRow)
	})
}

// GetByID returns an active content item owned by userID.
func (r *ContentRepo) GetByID(ctx context.Context, id, userID string) (*models.Content, error) {
	rows, err := r.s.db.QueryContext(ctx,
		selectContentColumns+` WHERE c.id = ? AND c.user_id = ? AND `+tombstonedFilter, id, userID)
	if err != nil {
		return nil, storeErr("content.get", serr.Wrap(err, "failed to query content"))
	}
	items, err := scanContentRows(rows)
	if err != nil {
		return nil, storeErr("content.get", err)
	}
	if len(items) == 0 {
		return nil, storeErr("content.get", ErrNotFound)
	}
	return &items[0], nil
}

// GetAll lists active content newest first with keyset pagination.
func (r *ContentRepo) GetAll(ctx context.Context, userID string, opts ListOptions) (models.Page[models.Content], error) {
	return r.list(ctx, userID, opts, nil)
}

// GetByTagIDs lists active content carrying any of the given tags.
func (r *ContentRepo) GetByTagIDs(ctx context.Context, userID string, tagIDs []string, opts ListOptions) (models.Page[models.Content], error) {
	if len(tagIDs) == 0 {
		return r.GetAll(ctx, userID, opts)
	}
	return r.list(ctx, userID, opts, tagIDs)
}

func (r *ContentRepo) list(ctx context.Context, userID string, opts ListOptions, tagIDs []string) (models.Page[models.Content], error) {
	where := []string{"c.user_id = ?", tombstonedFilter}
	args := []any{userID}

	if opts.Type != "" {
		where = append(where, "c.type = ?")
		args = append(args, opts.Type)
	}
	if strings.TrimSpace(opts.Search) != "" {
		pattern := likePattern(opts.Search)
		where = append(where, `(LOWER(COALESCE(c.title, '')) LIKE ? ESCAPE '\' OR LOWER(c.content) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(tagIDs) > 0 {
		where = append(where, `c.id IN (
			SELECT ct.content_id FROM content_tags ct
			LEFT JOIN sync_metadata tm ON tm.entity_type = 'content_tag'
			     AND tm.entity_id = ct.content_id || ':' || ct.tag_id
			WHERE (tm.tombstone IS NULL OR tm.tombstone = FALSE)
			  AND ct.tag_id IN (`+placeholders(len(tagIDs))+`))`)
		for _, id := range tagIDs {
			args = append(args, id)
		}
	}
	where, args = keysetClause("c", opts.Cursor, where, args)

	limit := opts.limit()
	query := selectContentColumns + ` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY c.created_at DESC, c.id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.Page[models.Content]{}, storeErr("content.list", serr.Wrap(err, "failed to list content"))
	}
	items, err := scanContentRows(rows)
	if err != nil {
		return models.Page[models.Content]{}, storeErr("content.list", err)
	}
	return paginate(items, limit, func(c models.Content) models.Cursor {
		return models.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	}), nil
}

// applyRemoteContent writes a pulled content change into the table.
func applyRemoteContent(ctx context.Context, tx DBTX, c *models.Change, p *models.ContentPayload, userID string) error {
	current, err := getContentRow(ctx, tx, c.EntityID)
	if err != nil {
		return err
	}

	if c.Operation == models.OperationCreate && current == nil {
		row := &models.Content{ID: c.EntityID, UserID: userID, CreatedAt: c.Timestamp, UpdatedAt: c.Timestamp}
		row.Apply(p)
		return insertContentRow(ctx, tx, row)
	}

	if current == nil {
		if err := p.ValidateFor(models.OperationCreate); err != nil {
			return errors.Join(ErrNotFound, err)
		}
		row := &models.Content{ID: c.EntityID, UserID: userID, CreatedAt: c.Timestamp, UpdatedAt: c.Timestamp}
		row.Apply(p)
		return insertContentRow(ctx, tx, row)
	}
	updatedAt := c.Timestamp
	if p.UpdatedAt != nil {
		updatedAt = *p.UpdatedAt
	}
	return updateContentColumns(ctx, tx, c.EntityID, p, updatedAt)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
