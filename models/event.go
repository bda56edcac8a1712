package models

import "encoding/json"

// Realtime event types pushed over the websocket channel.
const (
	EventNewMessage   = "newMessage"
	EventMessagesRead = "messagesRead"
	EventTyping       = "typing"
	EventPresence     = "presence"
)

// WebSocketMessage is the format for real-time messages
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessagesReadPayload tells a sender that the reader has read their messages.
type MessagesReadPayload struct {
	ReaderUserID string `json:"reader_user_id"`
}

// TypingPayload is sent client -> server with RecipientID set, and
// server -> client with UserID set.
type TypingPayload struct {
	UserID      string `json:"user_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	Typing      bool   `json:"typing"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// NewEvent marshals payload into an event envelope.
func NewEvent(eventType string, payload interface{}) (WebSocketMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{Type: eventType, Payload: raw}, nil
}

// Decode unmarshals the event payload into v.
func (e WebSocketMessage) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
