package models

// Snapshot is a point-in-time copy of the mirrored tables. It is the shape
// of the initial-sync response and of a local backup.
type Snapshot struct {
	Content     []Content    `json:"content" msgpack:"content"`
	Tags        []Tag        `json:"tags" msgpack:"tags"`
	ContentTags []ContentTag `json:"content_tags" msgpack:"content_tags"`
	Nodes       []Node       `json:"nodes" msgpack:"nodes"`
	Edges       []Edge       `json:"edges" msgpack:"edges"`
	UserID      string       `json:"user_id,omitempty" msgpack:"user_id"`
	TakenAt     int64        `json:"taken_at,omitempty" msgpack:"taken_at"`
}

// Len returns the total number of rows across all tables.
func (s *Snapshot) Len() int {
	return len(s.Content) + len(s.Tags) + len(s.ContentTags) + len(s.Nodes) + len(s.Edges)
}
