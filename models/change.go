package models

import "encoding/json"

// Change is one remote mutation as delivered by the pull endpoint.
type Change struct {
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Version    int64           `json:"version"`
	Timestamp  int64           `json:"timestamp"` // epoch ms
}

// Decode validates the change envelope and returns its typed payload.
// The payload's own id must agree with the envelope's entity id. Deletes
// need only the envelope and decode to a nil payload.
func (c *Change) Decode() (Payload, error) {
	if c.EntityID == "" {
		return nil, invalid(c.EntityType, "", "entity_id", "is required")
	}
	if c.Version <= 0 {
		return nil, invalid(c.EntityType, c.EntityID, "version", "must be positive")
	}
	if c.Operation == OperationDelete {
		if !c.EntityType.Valid() {
			return nil, invalid(c.EntityType, c.EntityID, "entity_type", "is not a known entity type")
		}
		return nil, nil
	}
	p, err := DecodePayload(c.EntityType, c.Operation, c.Payload)
	if err != nil {
		if ve, ok := err.(*ValidationError); ok && ve.EntityID == "" {
			ve.EntityID = c.EntityID
		}
		return nil, err
	}
	if p != nil && PayloadID(p) != c.EntityID {
		return nil, invalid(c.EntityType, c.EntityID, "id", "does not match entity_id")
	}
	return p, nil
}

// PayloadID returns the entity id a payload refers to.
func PayloadID(p Payload) string {
	switch v := p.(type) {
	case *ContentPayload:
		return v.ID
	case *TagPayload:
		return v.ID
	case *ContentTagPayload:
		return ContentTagID(v.ContentID, v.TagID)
	case *NodePayload:
		return v.ID
	case *EdgePayload:
		return v.ID
	}
	return ""
}
