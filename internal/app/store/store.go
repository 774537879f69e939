package store

import (
	"context"
	"log/slog"
	"sync"

	"tenantdesk/internal/domain/chat"
)

// Lister is the slice of the backend API the store pulls from.
type Lister interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
}

// Outcome tells the caller how to adjust the current selection after a
// refresh. The store itself never touches the pager.
type Outcome struct {
	// SelectID is the conversation the caller should open, if non-empty.
	SelectID string
	// ReloadOpen reports new partner activity inside the open conversation;
	// the caller should reload its messages.
	ReloadOpen bool
}

// Store holds the current full conversation-summary list for the signed-in
// user. The list is replaced wholesale on every successful refresh and left
// untouched on failure.
type Store struct {
	client        Lister
	currentUserID string
	logger        *slog.Logger

	mu    sync.RWMutex
	items []chat.Conversation
}

// New builds an empty store.
func New(client Lister, currentUserID string, logger *slog.Logger) *Store {
	return &Store{
		client:        client,
		currentUserID: currentUserID,
		logger:        logger,
	}
}

// Refresh pulls the full list and applies selection preservation:
// nothing open and no hint selects the first item; nothing open with a hint
// selects the hint when present; an open conversation showing unread partner
// activity requests a reload of its messages.
func (s *Store) Refresh(ctx context.Context, openID, hint string) (Outcome, error) {
	list, err := s.client.ListConversations(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("conversation list refresh failed", "error", err)
		}
		return Outcome{}, err
	}

	s.mu.Lock()
	s.items = list
	s.mu.Unlock()

	var out Outcome
	switch {
	case openID == "" && hint == "":
		if len(list) > 0 {
			out.SelectID = list[0].ID
		}
	case openID == "":
		if _, ok := s.Find(hint); ok {
			out.SelectID = hint
		}
	default:
		if conv, ok := s.Find(openID); ok && conv.UnreadCount > 0 && conv.LastSenderID != s.currentUserID {
			out.ReloadOpen = true
		}
	}
	return out, nil
}

// Conversations returns a copy of the current list in server order.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Conversation(nil), s.items...)
}

// Find returns a conversation by id.
func (s *Store) Find(id string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.items {
		if conv.ID == id {
			return conv, true
		}
	}
	return chat.Conversation{}, false
}

// FindByPartner returns the conversation with the given partner, if any.
func (s *Store) FindByPartner(partnerID string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.items {
		if conv.PartnerID == partnerID {
			return conv, true
		}
	}
	return chat.Conversation{}, false
}
