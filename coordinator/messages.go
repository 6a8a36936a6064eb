package coordinator

import (
	"bytes"
	"encoding/json"

	"synapse/models"
)

// MessageType tags a coordinator message.
type MessageType string

const (
	MsgInit        MessageType = "INIT"
	MsgInitSuccess MessageType = "INIT_SUCCESS"
	MsgSyncNow     MessageType = "SYNC_NOW"
	MsgSyncUpdate  MessageType = "SYNC_UPDATE"
	MsgSyncError   MessageType = "SYNC_ERROR"
	MsgAuthError   MessageType = "AUTH_ERROR"
	MsgBroadcast   MessageType = "BROADCAST"
	MsgStop        MessageType = "STOP"
)

// Message is the envelope exchanged between tabs and the coordinator. Which
// fields are meaningful depends on Type:
//
//	INIT         UserID
//	SYNC_UPDATE  Changes
//	SYNC_ERROR   Message, Status, StatusText, IsNetworkError
//	AUTH_ERROR   Message
//	BROADCAST    Payload
type Message struct {
	Type           MessageType     `json:"type"`
	UserID         string          `json:"userId,omitempty"`
	Changes        []models.Change `json:"changes,omitempty"`
	Status         int             `json:"status,omitempty"`
	StatusText     string          `json:"statusText,omitempty"`
	Message        string          `json:"message,omitempty"`
	IsNetworkError bool            `json:"isNetworkError,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// MessageError reports a message a tab may not send.
type MessageError struct {
	Type   MessageType
	Reason string
}

func (e *MessageError) Error() string {
	if e.Type == "" {
		return "invalid message: " + e.Reason
	}
	return "invalid " + string(e.Type) + " message: " + e.Reason
}

// Validate checks a message arriving from a tab. Only the inbound types are
// accepted; the rest are produced by the coordinator itself.
func (m *Message) Validate() error {
	switch m.Type {
	case MsgInit:
		if m.UserID == "" {
			return &MessageError{Type: m.Type, Reason: "userId is required"}
		}
	case MsgSyncNow, MsgStop:
	case MsgBroadcast:
		if len(bytes.TrimSpace(m.Payload)) == 0 {
			return &MessageError{Type: m.Type, Reason: "payload is required"}
		}
	case "":
		return &MessageError{Reason: "type is required"}
	default:
		return &MessageError{Type: m.Type, Reason: "not accepted from a tab"}
	}
	return nil
}

// DecodeMessage parses and validates an inbound message.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Message{}, &MessageError{Reason: "malformed: " + err.Error()}
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// BroadcastEvent is the conventional BROADCAST payload sent between sibling
// sessions, e.g. {"event": "SYNC_COMPLETED"}.
type BroadcastEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// EventSyncCompleted announces a finished full sync to sibling tabs.
const EventSyncCompleted = "SYNC_COMPLETED"

// NewBroadcast wraps an event into a BROADCAST message.
func NewBroadcast(ev BroadcastEvent) (Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgBroadcast, Payload: b}, nil
}
