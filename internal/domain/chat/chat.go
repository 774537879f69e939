package chat

import (
	"strings"
	"time"
)

// Conversation describes one thread between the current user and a partner.
type Conversation struct {
	ID               string    `json:"id"`
	PartnerID        string    `json:"partner_id"`
	PartnerName      string    `json:"partner_name"`
	PartnerAvatarURL string    `json:"partner_avatar_url,omitempty"`
	LastMessage      string    `json:"last_message,omitempty"`
	LastMessageAt    time.Time `json:"last_message_at,omitempty"`
	LastSenderID     string    `json:"last_sender_id,omitempty"`
	UnreadCount      int       `json:"unread_count"`
}

// Message contains a single chat message payload. Messages are immutable
// once received; the client never rewrites Text or SentAt.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
	Read           bool      `json:"read"`
	ClientRef      string    `json:"client_ref,omitempty"`
}

// Partner is a candidate counterpart for starting an ad-hoc conversation.
type Partner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Roles the console distinguishes when choosing the entry flow.
const (
	RoleResident = "resident"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Empty reports whether a message body carries no sendable content.
func Empty(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Chronological reports whether messages are non-decreasing by SentAt.
func Chronological(messages []Message) bool {
	for i := 1; i < len(messages); i++ {
		if messages[i].SentAt.Before(messages[i-1].SentAt) {
			return false
		}
	}
	return true
}
