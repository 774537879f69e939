package stubserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tenantdesk/internal/domain/chat"
)

var (
	// ErrConversationNotFound is returned when a thread does not exist.
	ErrConversationNotFound = errors.New("stubserver: conversation not found")
	// ErrNotParticipant is returned when a user is not part of the thread.
	ErrNotParticipant = errors.New("stubserver: not a participant")
	// ErrUnknownUser is returned for tokens that resolve to no seeded user.
	ErrUnknownUser = errors.New("stubserver: unknown user")
)

// User is a seeded account of the stub backend.
type User struct {
	ID   string
	Name string
	Role string
}

type conversation struct {
	id           string
	participants [2]string
	createdAt    time.Time
	lastMessage  string
	lastAt       time.Time
	lastSender   string
	messages     []chat.Message
	unread       map[string]int
	refs         map[string]string // client_ref -> message id
}

func (c *conversation) partnerOf(userID string) string {
	if c.participants[0] == userID {
		return c.participants[1]
	}
	return c.participants[0]
}

func (c *conversation) has(userID string) bool {
	return c.participants[0] == userID || c.participants[1] == userID
}

// Store is the in-memory state behind the stub backend.
type Store struct {
	mu            sync.RWMutex
	users         map[string]User
	conversations map[string]*conversation
	now           func() time.Time
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]User),
		conversations: make(map[string]*conversation),
		now:           time.Now,
	}
}

// SetClock overrides the message timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddUser seeds an account.
func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// UserByID resolves a seeded account.
func (s *Store) UserByID(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Partners lists chat candidates for a user, excluding self. Residents see
// staff and admins; staff and admins see everyone.
func (s *Store) Partners(userID string) ([]chat.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	me, ok := s.users[userID]
	if !ok {
		return nil, ErrUnknownUser
	}
	out := make([]chat.Partner, 0, len(s.users))
	for _, u := range s.users {
		if u.ID == userID {
			continue
		}
		if me.Role == chat.RoleResident && u.Role == chat.RoleResident {
			continue
		}
		out = append(out, chat.Partner{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrCreateConversation returns the thread for a participant pair,
// creating it on first use. Reports whether it was created.
func (s *Store) GetOrCreateConversation(userID, partnerID string) (chat.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return chat.Conversation{}, false, ErrUnknownUser
	}
	if _, ok := s.users[partnerID]; !ok {
		return chat.Conversation{}, false, ErrUnknownUser
	}
	for _, conv := range s.conversations {
		if conv.has(userID) && conv.has(partnerID) {
			return s.summaryLocked(conv, userID), false, nil
		}
	}
	conv := &conversation{
		id:           uuid.NewString(),
		participants: [2]string{userID, partnerID},
		createdAt:    s.now(),
		unread:       make(map[string]int),
		refs:         make(map[string]string),
	}
	s.conversations[conv.id] = conv
	return s.summaryLocked(conv, userID), true, nil
}

// Conversations lists a user's threads, most recently active first.
func (s *Store) Conversations(userID string) []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.has(userID) {
			out = append(out, s.summaryLocked(conv, userID))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Messages returns one page: page 1 holds the newest rows, every page is
// chronological within itself.
func (s *Store) Messages(conversationID, userID string, page, size int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if !conv.has(userID) {
		return nil, ErrNotParticipant
	}
	if page < 1 || size < 1 {
		return nil, errors.New("stubserver: invalid page request")
	}
	total := len(conv.messages)
	end := total - (page-1)*size
	if end <= 0 {
		return []chat.Message{}, nil
	}
	start := end - size
	if start < 0 {
		start = 0
	}
	return append([]chat.Message(nil), conv.messages[start:end]...), nil
}

// Append stores a message, bumps the partner's unread counter and returns
// the persisted copy. A repeated client ref returns the original message
// instead of storing a duplicate.
func (s *Store) Append(conversationID, senderID, text, clientRef string) (chat.Message, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Message{}, "", ErrConversationNotFound
	}
	if !conv.has(senderID) {
		return chat.Message{}, "", ErrNotParticipant
	}
	if clientRef != "" {
		if existingID, ok := conv.refs[clientRef]; ok {
			for _, m := range conv.messages {
				if m.ID == existingID {
					return m, conv.partnerOf(senderID), nil
				}
			}
		}
	}
	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		SentAt:         s.now(),
		ClientRef:      clientRef,
	}
	conv.messages = append(conv.messages, msg)
	if clientRef != "" {
		conv.refs[clientRef] = msg.ID
	}
	partner := conv.partnerOf(senderID)
	conv.unread[partner]++
	conv.lastMessage = text
	conv.lastAt = msg.SentAt
	conv.lastSender = senderID
	return msg, partner, nil
}

// MarkRead resets a user's unread counter for the thread.
func (s *Store) MarkRead(conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if !conv.has(userID) {
		return ErrNotParticipant
	}
	conv.unread[userID] = 0
	return nil
}

// Participants returns both sides of a thread.
func (s *Store) Participants(conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return []string{conv.participants[0], conv.participants[1]}, nil
}

func (s *Store) summaryLocked(conv *conversation, userID string) chat.Conversation {
	partnerID := conv.partnerOf(userID)
	partner := s.users[partnerID]
	return chat.Conversation{
		ID:            conv.id,
		PartnerID:     partnerID,
		PartnerName:   partner.Name,
		LastMessage:   conv.lastMessage,
		LastMessageAt: conv.lastAt,
		LastSenderID:  conv.lastSender,
		UnreadCount:   conv.unread[userID],
	}
}
