package pager

import (
	"context"
	"log/slog"
	"sync"

	"tenantdesk/internal/domain/chat"
)

// DefaultPageSize matches the backend's message page threshold.
const DefaultPageSize = 10

// Fetcher is the slice of the backend API the pager pulls pages from.
type Fetcher interface {
	ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]chat.Message, error)
}

// Viewport receives scroll side effects. The initial page of a conversation
// scrolls to the bottom; every older page preserves the visual offset by
// compensating for the rows prepended above the viewport.
type Viewport interface {
	ScrollToBottom()
	PreserveOffset(prepended int)
}

// NopViewport ignores scroll side effects.
type NopViewport struct{}

func (NopViewport) ScrollToBottom()    {}
func (NopViewport) PreserveOffset(int) {}

// Pager maintains the backward-paginated message window of the currently
// open conversation. Pages arrive newest-first and are chronological within
// a page, so prepending each fetched page keeps the window chronological.
type Pager struct {
	client   Fetcher
	view     Viewport
	pageSize int
	logger   *slog.Logger

	mu             sync.Mutex
	conversationID string
	page           int
	hasMore        bool
	loading        bool
	gen            uint64
	messages       []chat.Message
}

// New builds a pager with no open conversation.
func New(client Fetcher, view Viewport, pageSize int, logger *slog.Logger) *Pager {
	if view == nil {
		view = NopViewport{}
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{
		client:   client,
		view:     view,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Select switches the open conversation: the cursor resets to page 1, the
// window clears, any in-flight fetch for the previous selection is orphaned
// (its response will be discarded), and the first page is loaded.
func (p *Pager) Select(ctx context.Context, conversationID string) error {
	p.mu.Lock()
	p.gen++
	p.conversationID = conversationID
	p.page = 1
	p.hasMore = true
	p.loading = false
	p.messages = nil
	p.mu.Unlock()
	return p.LoadOlder(ctx)
}

// Reset closes the open conversation and discards all cursor state.
func (p *Pager) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.conversationID = ""
	p.page = 0
	p.hasMore = false
	p.loading = false
	p.messages = nil
}

// LoadOlder fetches the next older page. It is a no-op while a fetch is in
// flight or once the conversation history is exhausted.
func (p *Pager) LoadOlder(ctx context.Context) error {
	p.mu.Lock()
	if p.conversationID == "" || p.loading || !p.hasMore {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	gen := p.gen
	conversationID := p.conversationID
	page := p.page
	initial := page == 1
	p.mu.Unlock()

	rows, err := p.client.ListMessages(ctx, conversationID, page, p.pageSize)

	p.mu.Lock()
	if gen != p.gen {
		// The user switched conversations while this fetch was in flight.
		p.mu.Unlock()
		return nil
	}
	p.loading = false
	if err != nil {
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.Error("message page load failed", "conversation_id", conversationID, "page", page, "error", err)
		}
		return err
	}
	p.messages = append(append([]chat.Message(nil), rows...), p.messages...)
	if len(rows) < p.pageSize {
		p.hasMore = false
	} else {
		p.page++
	}
	p.mu.Unlock()

	if initial {
		p.view.ScrollToBottom()
	} else {
		p.view.PreserveOffset(len(rows))
	}
	return nil
}

// Append pushes a message to the end of the window. Messages for other
// conversations and duplicate ids are dropped. Reports whether the window
// changed.
func (p *Pager) Append(msg chat.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conversationID == "" || msg.ConversationID != p.conversationID {
		return false
	}
	for _, existing := range p.messages {
		if existing.ID == msg.ID {
			return false
		}
	}
	p.messages = append(p.messages, msg)
	return true
}

// Messages returns a copy of the loaded window, chronological.
func (p *Pager) Messages() []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.messages...)
}

// ConversationID returns the open conversation, or "".
func (p *Pager) ConversationID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversationID
}

// Cursor reports the pagination state: next page to request and whether
// older history remains.
func (p *Pager) Cursor() (page int, hasMore bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page, p.hasMore
}

// Loading reports whether a page fetch is in flight.
func (p *Pager) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}
