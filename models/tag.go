package models

import "strings"

const maxTagTitleLen = 100

// Tag is a mirrored tag row.
type Tag struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	UserID    string `json:"user_id"`
}

type TagPayload struct {
	ID        string  `json:"id"`
	Title     *string `json:"title,omitempty"`
	CreatedAt *int64  `json:"created_at,omitempty"`
	UpdatedAt *int64  `json:"updated_at,omitempty"`
}

func (*TagPayload) EntityType() EntityType { return EntityTag }
func (*TagPayload) isPayload()             {}

func (p *TagPayload) ValidateFor(op Operation) error {
	if p.ID == "" {
		return invalid(EntityTag, p.ID, "id", "is required")
	}
	if op == OperationCreate && p.Title == nil {
		return invalid(EntityTag, p.ID, "title", "is required")
	}
	if op == OperationUpdate && p.Title == nil {
		return invalid(EntityTag, p.ID, "", "update has no fields")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid(EntityTag, p.ID, "title", "must not be blank")
	}
	if err := checkLen(EntityTag, p.ID, "title", p.Title, maxTagTitleLen); err != nil {
		return err
	}
	return nil
}

func (t *Tag) Snapshot() *TagPayload {
	return &TagPayload{ID: t.ID, Title: Ptr(t.Title), CreatedAt: Ptr(t.CreatedAt), UpdatedAt: Ptr(t.UpdatedAt)}
}

func (t *Tag) Apply(p *TagPayload) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.CreatedAt != nil {
		t.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		t.UpdatedAt = *p.UpdatedAt
	}
}

// ContentTag associates a content item with a tag. Its entity id is
// "content_id:tag_id".
type ContentTag struct {
	ContentID string `json:"content_id"`
	TagID     string `json:"tag_id"`
	CreatedAt int64  `json:"created_at"`
	UserID    string `json:"user_id"`
}

func (ct *ContentTag) ID() string { return ContentTagID(ct.ContentID, ct.TagID) }

type ContentTagPayload struct {
	ContentID string `json:"content_id"`
	TagID     string `json:"tag_id"`
	CreatedAt *int64 `json:"created_at,omitempty"`
}

func (*ContentTagPayload) EntityType() EntityType { return EntityContentTag }
func (*ContentTagPayload) isPayload()             {}

func (p *ContentTagPayload) ValidateFor(op Operation) error {
	id := ContentTagID(p.ContentID, p.TagID)
	if op == OperationUpdate {
		return invalid(EntityContentTag, id, "", "associations are immutable")
	}
	if p.ContentID == "" {
		return invalid(EntityContentTag, id, "content_id", "is required")
	}
	if p.TagID == "" {
		return invalid(EntityContentTag, id, "tag_id", "is required")
	}
	return nil
}

func (ct *ContentTag) Snapshot() *ContentTagPayload {
	return &ContentTagPayload{ContentID: ct.ContentID, TagID: ct.TagID, CreatedAt: Ptr(ct.CreatedAt)}
}
