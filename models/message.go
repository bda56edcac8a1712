package models

import (
	"strings"
	"time"
)

// MessageKind describes which payload fields a message carries.
type MessageKind string

const (
	KindText          MessageKind = "text"
	KindImage         MessageKind = "image"
	KindAudio         MessageKind = "audio"
	KindVideo         MessageKind = "video"
	KindTextWithMedia MessageKind = "text_with_media"
	KindMixedMedia    MessageKind = "mixed_media"
	KindEmpty         MessageKind = "empty"
)

// Message represents a chat message between users.
//
// Image, Audio and Video hold retrieval URLs returned by the blob store.
// IsRead only ever moves from false to true.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	Audio      string    `json:"audio,omitempty"`
	Video      string    `json:"video,omitempty"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// Kind classifies the populated payload fields.
func (m *Message) Kind() MessageKind {
	return classify(m.Text, m.Image, m.Audio, m.Video)
}

// Involves reports whether the message belongs to the conversation between a and b.
func (m *Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// SendPayload is the body of a send request. Media fields carry
// base64 data URLs ("data:image/png;base64,...").
type SendPayload struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
	Audio string `json:"audio,omitempty"`
	Video string `json:"video,omitempty"`
}

// Normalize trims the text field in place.
func (p *SendPayload) Normalize() {
	p.Text = strings.TrimSpace(p.Text)
}

// Empty reports whether no field carries content.
func (p SendPayload) Empty() bool {
	return p.Kind() == KindEmpty
}

// Kind classifies the populated payload fields.
func (p SendPayload) Kind() MessageKind {
	return classify(strings.TrimSpace(p.Text), p.Image, p.Audio, p.Video)
}

func classify(text, image, audio, video string) MessageKind {
	media := make([]MessageKind, 0, 3)
	if image != "" {
		media = append(media, KindImage)
	}
	if audio != "" {
		media = append(media, KindAudio)
	}
	if video != "" {
		media = append(media, KindVideo)
	}

	switch {
	case text == "" && len(media) == 0:
		return KindEmpty
	case len(media) == 0:
		return KindText
	case text != "":
		return KindTextWithMedia
	case len(media) == 1:
		return media[0]
	default:
		return KindMixedMedia
	}
}
