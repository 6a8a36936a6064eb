package syncer

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"synapse/models"
)

// ============================================================================
// Wire protocol
//
//   POST {base}/api/sync/pull    {since}        -> {changes, has_more}
//   POST {base}/api/sync/push    {operations}   -> {results}
//   GET  {base}/api/sync/initial                -> {content, tags, content_tags, nodes, edges}
// ============================================================================

type PullRequest struct {
	Since int64 `json:"since"`
}

type PullResponse struct {
	Changes []models.Change `json:"changes"`
	HasMore bool            `json:"has_more"`
}

type PushRequest struct {
	Operations []models.OperationLogEntry `json:"operations"`
}

// PushResult is the server's verdict on one pushed operation, matched by ID.
type PushResult struct {
	ID            string `json:"id"`
	Accepted      bool   `json:"accepted"`
	ServerVersion int64  `json:"server_version,omitempty"`
	Error         string `json:"error,omitempty"`
}

type PushResponse struct {
	Results []PushResult `json:"results"`
}

// wireTime accepts either epoch milliseconds or an RFC 3339 string.
type wireTime int64

func (t *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = 0
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return err
		}
		*t = wireTime(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = wireTime(ts.UnixMilli())
	return nil
}

type initialContent struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Title           *string  `json:"title"`
	Content         string   `json:"content"`
	ThumbnailBase64 *string  `json:"thumbnail_base64"`
	CreatedAt       wireTime `json:"created_at"`
	UpdatedAt       wireTime `json:"updated_at"`
	UserID          string   `json:"user_id"`
}

type initialTag struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	CreatedAt wireTime `json:"created_at"`
	UpdatedAt wireTime `json:"updated_at"`
	UserID    string   `json:"user_id"`
}

type initialContentTag struct {
	ContentID string   `json:"content_id"`
	TagID     string   `json:"tag_id"`
	CreatedAt wireTime `json:"created_at"`
	UserID    string   `json:"user_id"`
}

type initialNode struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	Content   *string              `json:"content"`
	Metadata  *models.NodeMetadata `json:"metadata"`
	CreatedAt wireTime             `json:"created_at"`
	UpdatedAt wireTime             `json:"updated_at"`
	UserID    string               `json:"user_id"`
}

type initialEdge struct {
	ID           string   `json:"id"`
	FromNode     string   `json:"from_node"`
	ToNode       string   `json:"to_node"`
	RelationType string   `json:"relation_type"`
	CreatedAt    wireTime `json:"created_at"`
	UserID       string   `json:"user_id"`
}

// InitialResponse is the bulk snapshot in the server's row shape.
type InitialResponse struct {
	Content     []initialContent    `json:"content"`
	Tags        []initialTag        `json:"tags"`
	ContentTags []initialContentTag `json:"content_tags"`
	Nodes       []initialNode       `json:"nodes"`
	Edges       []initialEdge       `json:"edges"`
	TakenAt     wireTime            `json:"taken_at,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Snapshot maps the server rows into the local row shape. When the server
// sends no taken_at the newest row timestamp stands in for it.
func (r *InitialResponse) Snapshot() *models.Snapshot {
	snap := &models.Snapshot{TakenAt: int64(r.TakenAt)}
	newest := int64(0)
	seen := func(ts wireTime) {
		newest = max(newest, int64(ts))
	}

	for _, c := range r.Content {
		seen(c.UpdatedAt)
		snap.Content = append(snap.Content, models.Content{
			ID: c.ID, Type: c.Type, Title: deref(c.Title), Content: c.Content,
			ThumbnailBase64: deref(c.ThumbnailBase64),
			CreatedAt:       int64(c.CreatedAt), UpdatedAt: int64(c.UpdatedAt), UserID: c.UserID,
		})
	}
	for _, t := range r.Tags {
		seen(t.UpdatedAt)
		snap.Tags = append(snap.Tags, models.Tag{
			ID: t.ID, Title: t.Title, CreatedAt: int64(t.CreatedAt), UpdatedAt: int64(t.UpdatedAt), UserID: t.UserID,
		})
	}
	for _, ct := range r.ContentTags {
		seen(ct.CreatedAt)
		snap.ContentTags = append(snap.ContentTags, models.ContentTag{
			ContentID: ct.ContentID, TagID: ct.TagID, CreatedAt: int64(ct.CreatedAt), UserID: ct.UserID,
		})
	}
	for _, n := range r.Nodes {
		seen(n.UpdatedAt)
		snap.Nodes = append(snap.Nodes, models.Node{
			ID: n.ID, Type: n.Type, Content: deref(n.Content), Metadata: n.Metadata,
			CreatedAt: int64(n.CreatedAt), UpdatedAt: int64(n.UpdatedAt), UserID: n.UserID,
		})
	}
	for _, e := range r.Edges {
		seen(e.CreatedAt)
		snap.Edges = append(snap.Edges, models.Edge{
			ID: e.ID, FromNode: e.FromNode, ToNode: e.ToNode, RelationType: e.RelationType,
			CreatedAt: int64(e.CreatedAt), UserID: e.UserID,
		})
	}
	if snap.TakenAt == 0 {
		snap.TakenAt = newest
	}
	return snap
}
