package store

import (
	"context"
	"strings"

	"synapse/models"

	"github.com/rohanthewiz/serr"
)

// TagRepo manages tags and content/tag associations.
type TagRepo struct {
	s *Store
}

const selectTagColumns = `
	SELECT t.id, t.title, t.created_at, t.updated_at, t.user_id
	FROM tags t
	LEFT JOIN sync_metadata m ON m.entity_type = 'tag' AND m.entity_id = t.id`

const selectContentTagColumns = `
	SELECT ct.content_id, ct.tag_id, ct.created_at, ct.user_id
	FROM content_tags ct
	LEFT JOIN sync_metadata m ON m.entity_type = 'content_tag' AND m.entity_id = ct.content_id || ':' || ct.tag_id`

func queryTags(ctx context.Context, q DBTX, query string, args ...any) ([]models.Tag, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query tags")
	}
	defer rows.Close()

	var out []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt, &t.UserID); err != nil {
			return nil, serr.Wrap(err, "failed to scan tag")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating tags")
	}
	return out, nil
}

func getTagRow(ctx context.Context, q DBTX, id string) (*models.Tag, error) {
	tags, err := queryTags(ctx, q, selectTagColumns+` WHERE t.id = ?`, id)
	if err != nil || len(tags) == 0 {
		return nil, err
	}
	return &tags[0], nil
}

func queryContentTags(ctx context.Context, q DBTX, query string, args ...any) ([]models.ContentTag, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query content tags")
	}
	defer rows.Close()

	var out []models.ContentTag
	for rows.Next() {
		var ct models.ContentTag
		if err := rows.Scan(&ct.ContentID, &ct.TagID, &ct.CreatedAt, &ct.UserID); err != nil {
			return nil, serr.Wrap(err, "failed to scan content tag")
		}
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating content tags")
	}
	return out, nil
}

// activeContentTags returns non-tombstoned associations matching cond.
func activeContentTags(ctx context.Context, q DBTX, cond string, args ...any) ([]models.ContentTag, error) {
	return queryContentTags(ctx, q,
		selectContentTagColumns+` WHERE `+cond+` AND `+tombstonedFilter+` ORDER BY ct.created_at ASC`, args...)
}

func contentTagRowExists(ctx context.Context, q DBTX, contentID, tagID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_tags WHERE content_id = ? AND tag_id = ?`, contentID, tagID,
	).Scan(&n)
	if err != nil {
		return false, serr.Wrap(err, "failed to check content tag")
	}
	return n > 0, nil
}

// Create inserts a tag.
func (r *TagRepo) Create(ctx context.Context, p *models.TagPayload, userID string) (*models.Tag, error) {
	if p.ID == "" {
		p.ID = models.NewID()
	}
	if err := p.ValidateFor(models.OperationCreate); err != nil {
		return nil, err
	}

	now := models.NowMs()
	t := &models.Tag{ID: p.ID, Title: strings.TrimSpace(*p.Title), CreatedAt: now, UpdatedAt: now, UserID: userID}
	err := r.s.write(ctx, "tag.create", func(ctx context.Context, tx DBTX) error {
		existing, err := getTagRow(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyExists
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (id, title, created_at, updated_at, user_id) VALUES (?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.CreatedAt, t.UpdatedAt, t.UserID,
		); err != nil {
			return serr.Wrap(err, "failed to insert tag")
		}
		if err := r.s.checkFailpoint(StageRow); err != nil {
			return err
		}
		_, err = r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityTag, entityID: t.ID, op: models.OperationCreate,
			payload: t.Snapshot(), userID: userID, now: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Update renames a tag.
func (r *TagRepo) Update(ctx context.Context, id string, p *models.TagPayload, userID string) (*models.Tag, error) {
	p.ID = id
	if err := p.ValidateFor(models.OperationUpdate); err != nil {
		return nil, err
	}

	var updated *models.Tag
	err := r.s.write(ctx, "tag.update", func(ctx context.Context, tx DBTX) error {
		if _, err := requireActive(ctx, tx, models.EntityTag, id); err != nil {
			return err
		}
		current, err := getTagRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || current.UserID != userID {
			return ErrNotFound
		}

		now := models.NowMs()
		applied := &models.TagPayload{ID: id, Title: models.Ptr(strings.TrimSpace(*p.Title)), UpdatedAt: models.Ptr(now)}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tags SET title = ?, updated_at = ? WHERE id = ?`, *applied.Title, now, id,
		); err != nil {
			return serr.Wrap(err, "failed to update tag")
		}
		if err := r.s.checkFailpoint(StageRow); err != nil {
			return err
		}
		if _, err := r.s.recordLocal(ctx, tx, mutation{
			entityType: models.EntityTag, entityID: id, op: models.OperationUpdate,
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

// Delete tombstones a tag and every association that uses it.
func (r *TagRepo) Delete(ctx context.Context, id, userID string) error {
	return r.s.write(ctx, "tag.delete", func(ctx context.Context, tx DBTX) error {
		if _, err := requireActive(ctx, tx, models.EntityTag, id); err != nil {
			return err
		}
		current, err := getTagRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || current.UserID != userID {
			return ErrNotFound
		}

		now := models.NowMs()
		links, err := activeContentTags(ctx, tx, `ct.tag_id = ?`, id)
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
			entityType: models.EntityTag, entityID: id, op: models.OperationDelete, userID: userID, now: now,
		}); err != nil {
			return err
		}
		return r.s.checkFailpoint(StageRow)
	})
}

// GetAll returns every active tag of the user ordered by title.
func (r *TagRepo) GetAll(ctx context.Context, userID string) ([]models.Tag, error) {
	tags, err := queryTags(ctx, r.s.db,
		selectTagColumns+` WHERE t.user_id = ? AND `+tombstonedFilter+` ORDER BY t.title ASC, t.id ASC`, userID)
	return tags, storeErr("tag.list", err)
}

// GetByTitle finds an active tag by exact (case-insensitive) title.
func (r *TagRepo) GetByTitle(ctx context.Context, title, userID string) (*models.Tag, error) {
	tags, err := queryTags(ctx, r.s.db,
		selectTagColumns+` WHERE t.user_id = ? AND LOWER(t.title) = LOWER(?) AND `+tombstonedFilter+` LIMIT 1`,
		userID, strings.TrimSpace(title))
	if err != nil {
		return nil, storeErr("tag.get_by_title", err)
	}
	if len(tags) == 0 {
		return nil, storeErr("tag.get_by_title", ErrNotFound)
	}
	return &tags[0], nil
}

// GetByContentID returns the active tags attached to a content item.
func (r *TagRepo) GetByContentID(ctx context.Context, contentID, userID string) ([]models.Tag, error) {
	tags, err := queryTags(ctx, r.s.db, selectTagColumns+`
		JOIN content_tags ct ON ct.tag_id = t.id
		LEFT JOIN sync_metadata cm ON cm.entity_type = 'content_tag' AND cm.entity_id = ct.content_id || ':' || ct.tag_id
		WHERE ct.content_id = ? AND t.user_id = ? AND `+tombstonedFilter+`
		  AND (cm.tombstone IS NULL OR cm.tombstone = FALSE)
		ORDER BY t.title ASC`, contentID, userID)
	return tags, storeErr("tag.by_content", err)
}

// AddToContent attaches a tag to a content item.
func (r *TagRepo) AddToContent(ctx context.Context, contentID, tagID, userID string) (*models.ContentTag, error) {
	var ct *models.ContentTag
	err := r.s.write(ctx, "content_tag.create", func(ctx context.Context, tx DBTX) error {
		var err error
		ct, err = r.addToContent(ctx, tx, contentID, tagID, userID, models.NowMs())
		return err
	})
	return ct, err
}

func (r *TagRepo) addToContent(ctx context.Context, tx DBTX, contentID, tagID, userID string, now int64) (*models.ContentTag, error) {
	p := &models.ContentTagPayload{ContentID: contentID, TagID: tagID}
	if err := p.ValidateFor(models.OperationCreate); err != nil {
		return nil, err
	}
	if _, err := requireActive(ctx, tx, models.EntityContent, contentID); err != nil {
		return nil, err
	}
	if _, err := requireActive(ctx, tx, models.EntityTag, tagID); err != nil {
		return nil, err
	}

	ct := &models.ContentTag{ContentID: contentID, TagID: tagID, CreatedAt: now, UserID: userID}
	meta, err := getMetadata(ctx, tx, models.EntityContentTag, ct.ID())
	if err != nil {
		return nil, err
	}
	if meta.Lifecycle() == models.LifecycleActive {
		return nil, ErrAlreadyExists
	}

	exists, err := contentTagRowExists(ctx, tx, contentID, tagID)
	if err != nil {
		return nil, err
	}
	if exists {
		// a tombstoned association comes back to life
		_, err = tx.ExecContext(ctx,
			`UPDATE content_tags SET created_at = ?, user_id = ? WHERE content_id = ? AND tag_id = ?`,
			now, userID, contentID, tagID)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO content_tags (content_id, tag_id, created_at, user_id) VALUES (?, ?, ?, ?)`,
			contentID, tagID, now, userID)
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to write content tag")
	}
	if err := r.s.checkFailpoint(StageRow); err != nil {
		return nil, err
	}
	if _, err := r.s.recordLocal(ctx, tx, mutation{
		entityType: models.EntityContentTag, entityID: ct.ID(), op: models.OperationCreate,
		payload: ct.Snapshot(), userID: userID, now: now,
	}); err != nil {
		return nil, err
	}
	return ct, nil
}

// RemoveFromContent detaches a tag from a content item.
func (r *TagRepo) RemoveFromContent(ctx context.Context, contentID, tagID, userID string) error {
	return r.s.write(ctx, "content_tag.delete", func(ctx context.Context, tx DBTX) error {
		return r.removeFromContent(ctx, tx, contentID, tagID, userID, models.NowMs())
	})
}

func (r *TagRepo) removeFromContent(ctx context.Context, tx DBTX, contentID, tagID, userID string, now int64) error {
	id := models.ContentTagID(contentID, tagID)
	if _, err := requireActive(ctx, tx, models.EntityContentTag, id); err != nil {
		return err
	}
	_, err := r.s.recordLocal(ctx, tx, mutation{
		entityType: models.EntityContentTag, entityID: id, op: models.OperationDelete, userID: userID, now: now,
	})
	return err
}

// ReplaceContentTags makes the content item's tag set equal to tagIDs,
// creating missing associations and deleting the rest in one transaction.
func (r *TagRepo) ReplaceContentTags(ctx context.Context, contentID string, tagIDs []string, userID string) error {
	return r.s.write(ctx, "content_tag.replace", func(ctx context.Context, tx DBTX) error {
		current, err := activeContentTags(ctx, tx, `ct.content_id = ?`, contentID)
		if err != nil {
			return err
		}

		want := make(map[string]bool, len(tagIDs))
		for _, id := range tagIDs {
			want[id] = true
		}
		have := make(map[string]bool, len(current))
		now := models.NowMs()

		for _, ct := range current {
			have[ct.TagID] = true
			if !want[ct.TagID] {
				if err := r.removeFromContent(ctx, tx, contentID, ct.TagID, userID, now); err != nil {
					return err
				}
			}
		}
		for _, id := range tagIDs {
			if have[id] {
				continue
			}
			have[id] = true
			if _, err := r.addToContent(ctx, tx, contentID, id, userID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyRemoteTag(ctx context.Context, tx DBTX, c *models.Change, p *models.TagPayload, userID string) error {
	current, err := getTagRow(ctx, tx, c.EntityID)
	if err != nil {
		return err
	}
	if current == nil {
		if p.Title == nil {
			return ErrNotFound
		}
		row := &models.Tag{ID: c.EntityID, CreatedAt: c.Timestamp, UpdatedAt: c.Timestamp, UserID: userID}
		row.Apply(p)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tags (id, title, created_at, updated_at, user_id) VALUES (?, ?, ?, ?, ?)`,
			row.ID, row.Title, row.CreatedAt, row.UpdatedAt, row.UserID)
		if err != nil {
			return serr.Wrap(err, "failed to insert tag")
		}
		return nil
	}

	current.Apply(p)
	if p.UpdatedAt == nil {
		current.UpdatedAt = c.Timestamp
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tags SET title = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		current.Title, current.CreatedAt, current.UpdatedAt, c.EntityID)
	if err != nil {
		return serr.Wrap(err, "failed to update tag")
	}
	return nil
}

func applyRemoteContentTag(ctx context.Context, tx DBTX, c *models.Change, p *models.ContentTagPayload, userID string) error {
	exists, err := contentTagRowExists(ctx, tx, p.ContentID, p.TagID)
	if err != nil || exists {
		return err
	}
	createdAt := c.Timestamp
	if p.CreatedAt != nil {
		createdAt = *p.CreatedAt
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO content_tags (content_id, tag_id, created_at, user_id) VALUES (?, ?, ?, ?)`,
		p.ContentID, p.TagID, createdAt, userID)
	if err != nil {
		return serr.Wrap(err, "failed to insert content tag")
	}
	return nil
}
