package models

// ContentKind enumerates the content item types the knowledge base stores.
const (
	ContentNote  = "note"
	ContentMedia = "media"
	ContentLink  = "link"
	ContentTodo  = "todo"
	ContentAudio = "audio"
)

const (
	maxTitleLen     = 512
	maxContentLen   = 8 << 20
	maxThumbnailLen = 2 << 20
)

func validContentKind(k string) bool {
	switch k {
	case ContentNote, ContentMedia, ContentLink, ContentTodo, ContentAudio:
		return true
	}
	return false
}

// Content is a mirrored content row. Timestamps are epoch milliseconds.
type Content struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Title           string `json:"title,omitempty"`
	Content         string `json:"content"`
	ThumbnailBase64 string `json:"thumbnail_base64,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
	UserID          string `json:"user_id"`
}

// ContentPayload carries a content snapshot (create) or the changed subset
// of fields (update).
type ContentPayload struct {
	ID              string  `json:"id"`
	Type            *string `json:"type,omitempty"`
	Title           *string `json:"title,omitempty"`
	Content         *string `json:"content,omitempty"`
	ThumbnailBase64 *string `json:"thumbnail_base64,omitempty"`
	CreatedAt       *int64  `json:"created_at,omitempty"`
	UpdatedAt       *int64  `json:"updated_at,omitempty"`
}

func (*ContentPayload) EntityType() EntityType { return EntityContent }
func (*ContentPayload) isPayload()             {}

func (p *ContentPayload) ValidateFor(op Operation) error {
	if p.ID == "" {
		return invalid(EntityContent, p.ID, "id", "is required")
	}
	if op == OperationCreate {
		if p.Type == nil {
			return invalid(EntityContent, p.ID, "type", "is required")
		}
		if p.Content == nil {
			return invalid(EntityContent, p.ID, "content", "is required")
		}
	}
	if op == OperationUpdate && p.Type == nil && p.Title == nil && p.Content == nil && p.ThumbnailBase64 == nil {
		return invalid(EntityContent, p.ID, "", "update has no fields")
	}
	if p.Type != nil && !validContentKind(*p.Type) {
		return invalid(EntityContent, p.ID, "type", "must be one of note, media, link, todo, audio")
	}
	if err := checkLen(EntityContent, p.ID, "title", p.Title, maxTitleLen); err != nil {
		return err
	}
	if err := checkLen(EntityContent, p.ID, "content", p.Content, maxContentLen); err != nil {
		return err
	}
	if err := checkLen(EntityContent, p.ID, "thumbnail_base64", p.ThumbnailBase64, maxThumbnailLen); err != nil {
		return err
	}
	return nil
}

// Snapshot returns the full-row payload for c.
func (c *Content) Snapshot() *ContentPayload {
	return &ContentPayload{
		ID:              c.ID,
		Type:            Ptr(c.Type),
		Title:           Ptr(c.Title),
		Content:         Ptr(c.Content),
		ThumbnailBase64: Ptr(c.ThumbnailBase64),
		CreatedAt:       Ptr(c.CreatedAt),
		UpdatedAt:       Ptr(c.UpdatedAt),
	}
}

// Apply overlays the fields present in p onto c.
func (c *Content) Apply(p *ContentPayload) {
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Content != nil {
		c.Content = *p.Content
	}
	if p.ThumbnailBase64 != nil {
		c.ThumbnailBase64 = *p.ThumbnailBase64
	}
	if p.CreatedAt != nil {
		c.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
}
