package models

import (
	"encoding/json"
	"strings"
)

// Node types. A content node mirrors a content item, a tag node mirrors a
// tag, a concept node stands on its own.
const (
	NodeContent = "content"
	NodeTag     = "tag"
	NodeConcept = "concept"
)

// NodeMetadata is the structured metadata stored as JSON text on a node.
// The store queries content_id and tag_id with json_extract.
type NodeMetadata struct {
	ContentID string   `json:"content_id,omitempty"`
	TagID     string   `json:"tag_id,omitempty"`
	Label     string   `json:"label,omitempty"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
}

// Node is a mirrored graph node row.
type Node struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Content   string        `json:"content,omitempty"`
	Metadata  *NodeMetadata `json:"metadata,omitempty"`
	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
	UserID    string        `json:"user_id"`
}

// MetadataJSON returns the metadata column value, or nil when there is none.
func (n *Node) MetadataJSON() (*string, error) {
	return encodeNodeMetadata(n.Metadata)
}

func encodeNodeMetadata(m *NodeMetadata) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// ParseNodeMetadata decodes the metadata column. Unknown keys are rejected.
func ParseNodeMetadata(nodeID, raw string) (*NodeMetadata, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m NodeMetadata
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, invalid(EntityNode, nodeID, "metadata", "malformed: "+err.Error())
	}
	return &m, nil
}

type NodePayload struct {
	ID        string        `json:"id"`
	Type      *string       `json:"type,omitempty"`
	Content   *string       `json:"content,omitempty"`
	Metadata  *NodeMetadata `json:"metadata,omitempty"`
	CreatedAt *int64        `json:"created_at,omitempty"`
	UpdatedAt *int64        `json:"updated_at,omitempty"`
}

func (*NodePayload) EntityType() EntityType { return EntityNode }
func (*NodePayload) isPayload()             {}

func (p *NodePayload) ValidateFor(op Operation) error {
	if p.ID == "" {
		return invalid(EntityNode, p.ID, "id", "is required")
	}
	if op == OperationCreate && p.Type == nil {
		return invalid(EntityNode, p.ID, "type", "is required")
	}
	if op == OperationUpdate && p.Type == nil && p.Content == nil && p.Metadata == nil {
		return invalid(EntityNode, p.ID, "", "update has no fields")
	}
	if p.Type == nil {
		return nil
	}
	switch *p.Type {
	case NodeContent:
		if p.Metadata == nil || p.Metadata.ContentID == "" {
			return invalid(EntityNode, p.ID, "metadata.content_id", "is required for content nodes")
		}
	case NodeTag:
		if p.Metadata == nil || p.Metadata.TagID == "" {
			return invalid(EntityNode, p.ID, "metadata.tag_id", "is required for tag nodes")
		}
	case NodeConcept:
	default:
		return invalid(EntityNode, p.ID, "type", "must be one of content, tag, concept")
	}
	return nil
}

func (n *Node) Snapshot() *NodePayload {
	return &NodePayload{
		ID:        n.ID,
		Type:      Ptr(n.Type),
		Content:   Ptr(n.Content),
		Metadata:  n.Metadata,
		CreatedAt: Ptr(n.CreatedAt),
		UpdatedAt: Ptr(n.UpdatedAt),
	}
}

func (n *Node) Apply(p *NodePayload) {
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Metadata != nil {
		n.Metadata = p.Metadata
	}
	if p.CreatedAt != nil {
		n.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		n.UpdatedAt = *p.UpdatedAt
	}
}

// Edge is a directed, typed relation between two nodes.
type Edge struct {
	ID           string `json:"id"`
	FromNode     string `json:"from_node"`
	ToNode       string `json:"to_node"`
	RelationType string `json:"relation_type"`
	CreatedAt    int64  `json:"created_at"`
	UserID       string `json:"user_id"`
}

type EdgePayload struct {
	ID           string  `json:"id"`
	FromNode     *string `json:"from_node,omitempty"`
	ToNode       *string `json:"to_node,omitempty"`
	RelationType *string `json:"relation_type,omitempty"`
	CreatedAt    *int64  `json:"created_at,omitempty"`
}

func (*EdgePayload) EntityType() EntityType { return EntityEdge }
func (*EdgePayload) isPayload()             {}

func (p *EdgePayload) ValidateFor(op Operation) error {
	if p.ID == "" {
		return invalid(EntityEdge, p.ID, "id", "is required")
	}
	if op == OperationCreate {
		if strOrEmpty(p.FromNode) == "" {
			return invalid(EntityEdge, p.ID, "from_node", "is required")
		}
		if strOrEmpty(p.ToNode) == "" {
			return invalid(EntityEdge, p.ID, "to_node", "is required")
		}
		if strOrEmpty(p.RelationType) == "" {
			return invalid(EntityEdge, p.ID, "relation_type", "is required")
		}
	}
	if op == OperationUpdate && p.FromNode == nil && p.ToNode == nil && p.RelationType == nil {
		return invalid(EntityEdge, p.ID, "", "update has no fields")
	}
	if p.FromNode != nil && p.ToNode != nil && *p.FromNode == *p.ToNode {
		return invalid(EntityEdge, p.ID, "to_node", "must differ from from_node")
	}
	return nil
}

func (e *Edge) Snapshot() *EdgePayload {
	return &EdgePayload{
		ID:           e.ID,
		FromNode:     Ptr(e.FromNode),
		ToNode:       Ptr(e.ToNode),
		RelationType: Ptr(e.RelationType),
		CreatedAt:    Ptr(e.CreatedAt),
	}
}

func (e *Edge) Apply(p *EdgePayload) {
	if p.FromNode != nil {
		e.FromNode = *p.FromNode
	}
	if p.ToNode != nil {
		e.ToNode = *p.ToNode
	}
	if p.RelationType != nil {
		e.RelationType = *p.RelationType
	}
	if p.CreatedAt != nil {
		e.CreatedAt = *p.CreatedAt
	}
}
