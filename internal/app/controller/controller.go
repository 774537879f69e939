package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"tenantdesk/internal/app/pager"
	"tenantdesk/internal/app/store"
	"tenantdesk/internal/domain/chat"
)

// API is the slice of the backend contract the controller calls directly.
// List and page fetches go through the store and pager instead.
type API interface {
	SendMessage(ctx context.Context, conversationID, text, clientRef string) (chat.Message, error)
	CreateConversation(ctx context.Context, partnerID string) (chat.Conversation, error)
	SearchPartners(ctx context.Context) ([]chat.Partner, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Transport is the push-channel surface the controller subscribes to.
type Transport interface {
	Start(token string)
	Stop()
	OnMessage(func(chat.Message))
	OnListChanged(func())
}

// Notifier surfaces transient user-visible notices (the toast equivalent).
type Notifier interface {
	Notify(text string)
}

// NopNotifier swallows notices.
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}

var (
	// ErrEmptyMessage is returned when the composed text is blank.
	ErrEmptyMessage = errors.New("controller: message text is empty")
	// ErrSendInFlight guards against double submit.
	ErrSendInFlight = errors.New("controller: send already in progress")
	// ErrNoConversation is returned when nothing is open to send into.
	ErrNoConversation = errors.New("controller: no open conversation")
)

// Deps wires a Controller.
type Deps struct {
	API       API
	Transport Transport
	Store     *store.Store
	Pager     *pager.Pager
	View      pager.Viewport
	Notifier  Notifier
	Logger    *slog.Logger
	UserID    string
	UserRole  string
	Token     string
}

// Controller binds user intent and push events to the conversation store
// and message pager. It owns the open-conversation selection and the
// sending guard.
type Controller struct {
	api       API
	transport Transport
	store     *store.Store
	pager     *pager.Pager
	view      pager.Viewport
	notifier  Notifier
	logger    *slog.Logger
	userID    string
	userRole  string
	token     string

	mu      sync.Mutex
	openID  string
	sending bool
}

// New builds a controller. Open must be called to start the session.
func New(deps Deps) *Controller {
	view := deps.View
	if view == nil {
		view = pager.NopViewport{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Controller{
		api:       deps.API,
		transport: deps.Transport,
		store:     deps.Store,
		pager:     deps.Pager,
		view:      view,
		notifier:  notifier,
		logger:    deps.Logger,
		userID:    deps.UserID,
		userRole:  deps.UserRole,
		token:     deps.Token,
	}
}

// Open starts the session: subscribe to push events, connect the hub and
// pull the initial conversation list. A resident with no conversations yet
// gets one auto-initiated with the first available partner (building
// staff); everyone else just gets the list with the first item selected.
func (c *Controller) Open(ctx context.Context) error {
	if c.transport != nil {
		c.transport.OnMessage(c.handlePush)
		c.transport.OnListChanged(func() {
			_ = c.RefreshList(context.Background(), "")
		})
		c.transport.Start(c.token)
	}

	out, err := c.store.Refresh(ctx, "", "")
	if err != nil {
		return err
	}
	if c.userRole == chat.RoleResident && len(c.store.Conversations()) == 0 {
		partners, err := c.api.SearchPartners(ctx)
		if err != nil {
			if c.logger != nil {
				c.logger.Error("partner search failed", "error", err)
			}
			return err
		}
		if len(partners) > 0 {
			return c.StartWith(ctx, partners[0].ID)
		}
		return nil
	}
	return c.apply(ctx, out)
}

// Close tears down the session.
func (c *Controller) Close() {
	if c.transport != nil {
		c.transport.Stop()
	}
	c.pager.Reset()
	c.mu.Lock()
	c.openID = ""
	c.sending = false
	c.mu.Unlock()
}

// OpenID returns the currently open conversation, or "".
func (c *Controller) OpenID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openID
}

// Select opens a conversation: the pager restarts at its latest page and
// the unread counter decays via a read receipt.
func (c *Controller) Select(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.openID = conversationID
	c.mu.Unlock()

	if err := c.pager.Select(ctx, conversationID); err != nil {
		return err
	}
	c.markRead(ctx, conversationID)
	return nil
}

// Send posts the composed text into the open conversation. On failure the
// caller keeps the draft; on success the confirmed message is appended
// locally and the list refreshes so previews and ordering update.
func (c *Controller) Send(ctx context.Context, text string) error {
	if chat.Empty(text) {
		return ErrEmptyMessage
	}
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	if c.openID == "" {
		c.mu.Unlock()
		return ErrNoConversation
	}
	c.sending = true
	conversationID := c.openID
	c.mu.Unlock()

	msg, err := c.api.SendMessage(ctx, conversationID, text, uuid.NewString())

	c.mu.Lock()
	c.sending = false
	c.mu.Unlock()

	if err != nil {
		if c.logger != nil {
			c.logger.Error("send failed", "conversation_id", conversationID, "error", err)
		}
		c.notifier.Notify("Message could not be sent")
		return err
	}
	if c.pager.Append(msg) {
		c.view.ScrollToBottom()
	}
	_ = c.RefreshList(ctx, "")
	return nil
}

// StartWith opens a conversation with the chosen partner, creating an
// ad-hoc thread when none exists yet.
func (c *Controller) StartWith(ctx context.Context, partnerID string) error {
	if conv, ok := c.store.FindByPartner(partnerID); ok {
		c.notifier.Notify("Opening existing conversation")
		return c.Select(ctx, conv.ID)
	}
	conv, err := c.api.CreateConversation(ctx, partnerID)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("create conversation failed", "partner_id", partnerID, "error", err)
		}
		c.notifier.Notify("Conversation could not be started")
		return err
	}
	if _, err := c.store.Refresh(ctx, "", conv.ID); err != nil {
		// The created thread is still usable; selection below works off its id.
		if c.logger != nil {
			c.logger.Warn("list refresh after create failed", "error", err)
		}
	}
	c.notifier.Notify("Conversation started")
	return c.Select(ctx, conv.ID)
}

// RefreshList re-pulls the conversation list and applies the selection
// outcome. Errors are logged by the store; the last-known list stays.
func (c *Controller) RefreshList(ctx context.Context, hint string) error {
	out, err := c.store.Refresh(ctx, c.OpenID(), hint)
	if err != nil {
		return err
	}
	return c.apply(ctx, out)
}

// handlePush reconciles a pushed message against whichever conversation is
// open at the time the handler runs, then refreshes the list so unread
// counters and previews update for the rest.
func (c *Controller) handlePush(msg chat.Message) {
	ctx := context.Background()
	if msg.ConversationID == c.OpenID() {
		if c.pager.Append(msg) {
			c.view.ScrollToBottom()
		}
	}
	_ = c.RefreshList(ctx, "")
}

func (c *Controller) apply(ctx context.Context, out store.Outcome) error {
	if out.SelectID != "" && out.SelectID != c.OpenID() {
		return c.Select(ctx, out.SelectID)
	}
	if out.ReloadOpen {
		open := c.OpenID()
		if open != "" {
			if err := c.pager.Select(ctx, open); err != nil {
				return err
			}
			c.markRead(ctx, open)
		}
	}
	return nil
}

// markRead is background housekeeping; failures degrade silently.
func (c *Controller) markRead(ctx context.Context, conversationID string) {
	if err := c.api.MarkRead(ctx, conversationID); err != nil && c.logger != nil {
		c.logger.Warn("mark read failed", "conversation_id", conversationID, "error", err)
	}
}
