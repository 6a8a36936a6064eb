package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the closed set of per-entity payloads carried by the operation
// log and by remote changes. Only the types in this package implement it.
type Payload interface {
	EntityType() EntityType
	// ValidateFor checks the payload against the schema required by op.
	// Create needs a full snapshot; update accepts any non-empty subset.
	ValidateFor(op Operation) error
	isPayload()
}

// ValidationError reports a payload that does not match its entity schema.
// Pulled changes that fail validation are skipped, local writes are refused.
type ValidationError struct {
	EntityType EntityType
	EntityID   string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s payload (id %q): %s", e.EntityType, e.EntityID, e.Reason)
	}
	return fmt.Sprintf("invalid %s payload (id %q): %s %s", e.EntityType, e.EntityID, e.Field, e.Reason)
}

func invalid(t EntityType, id, field, reason string) *ValidationError {
	return &ValidationError{EntityType: t, EntityID: id, Field: field, Reason: reason}
}

// DecodePayload parses raw JSON into the payload variant for entityType and
// validates it for op. Unknown fields are rejected. Delete carries no payload,
// so an empty raw value returns (nil, nil) for it.
func DecodePayload(entityType EntityType, op Operation, raw []byte) (Payload, error) {
	if !entityType.Valid() {
		return nil, invalid(entityType, "", "entity_type", "is not a known entity type")
	}
	if !op.Valid() {
		return nil, invalid(entityType, "", "operation", fmt.Sprintf("%q is not a known operation", op))
	}

	trimmed := bytes.TrimSpace(raw)
	if op == OperationDelete && (len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))) {
		return nil, nil
	}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, invalid(entityType, "", "", "payload is required for "+string(op))
	}

	var p Payload
	switch entityType {
	case EntityContent:
		p = &ContentPayload{}
	case EntityTag:
		p = &TagPayload{}
	case EntityContentTag:
		p = &ContentTagPayload{}
	case EntityNode:
		p = &NodePayload{}
	case EntityEdge:
		p = &EdgePayload{}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, invalid(entityType, "", "", "malformed payload: "+err.Error())
	}
	if op == OperationDelete {
		return p, nil
	}
	if err := p.ValidateFor(op); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodePayload serializes a payload for the operation log.
func EncodePayload(p Payload) (string, error) {
	if p == nil {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func checkLen(t EntityType, id, field string, v *string, max int) *ValidationError {
	if v != nil && len(*v) > max {
		return invalid(t, id, field, fmt.Sprintf("exceeds %d bytes", max))
	}
	return nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ptr returns a pointer to v. Handy for building partial payloads.
func Ptr[T any](v T) *T {
	return &v
}
