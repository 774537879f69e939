package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tenantdesk/internal/app/pager"
	"tenantdesk/internal/app/store"
	"tenantdesk/internal/domain/chat"
)

// fakeBackend plays the whole REST contract for the controller, the store
// and the pager.
type fakeBackend struct {
	mu            sync.Mutex
	conversations []chat.Conversation
	history       map[string][]chat.Message
	partners      []chat.Partner

	listCalls   int
	sendCalls   int
	createCalls int
	readIDs     []string
	nextMsgID   string
	sendGate    chan struct{}
	sendStarted chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: make(map[string][]chat.Message)}
}

func (f *fakeBackend) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]chat.Conversation(nil), f.conversations...), nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, conversationID string, page, size int) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.history[conversationID]
	total := len(msgs)
	end := total - (page-1)*size
	if end <= 0 {
		return []chat.Message{}, nil
	}
	start := end - size
	if start < 0 {
		start = 0
	}
	return append([]chat.Message(nil), msgs[start:end]...), nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, conversationID, text, clientRef string) (chat.Message, error) {
	f.mu.Lock()
	f.sendCalls++
	gate := f.sendGate
	started := f.sendStarted
	id := f.nextMsgID
	if id == "" {
		id = fmt.Sprintf("m%d", f.sendCalls)
	}
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	msg := chat.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "me",
		Text:           text,
		SentAt:         time.Now(),
		ClientRef:      clientRef,
	}
	f.mu.Lock()
	f.history[conversationID] = append(f.history[conversationID], msg)
	f.mu.Unlock()
	return msg, nil
}

func (f *fakeBackend) CreateConversation(ctx context.Context, partnerID string) (chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	conv := chat.Conversation{ID: "c-" + partnerID, PartnerID: partnerID}
	f.conversations = append(f.conversations, conv)
	return conv, nil
}

func (f *fakeBackend) SearchPartners(ctx context.Context) ([]chat.Partner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Partner(nil), f.partners...), nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readIDs = append(f.readIDs, conversationID)
	for i := range f.conversations {
		if f.conversations[i].ID == conversationID {
			f.conversations[i].UnreadCount = 0
		}
	}
	return nil
}

func (f *fakeBackend) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// fakeTransport delivers pushes synchronously like the hub's read loop.
type fakeTransport struct {
	mu       sync.Mutex
	started  int
	stopped  int
	msgSubs  []func(chat.Message)
	listSubs []func()
}

func (f *fakeTransport) Start(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeTransport) OnMessage(fn func(chat.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgSubs = append(f.msgSubs, fn)
}

func (f *fakeTransport) OnListChanged(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listSubs = append(f.listSubs, fn)
}

func (f *fakeTransport) EmitMessage(msg chat.Message) {
	f.mu.Lock()
	subs := append(([]func(chat.Message))(nil), f.msgSubs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

func (f *fakeTransport) EmitListChanged() {
	f.mu.Lock()
	subs := append(([]func())(nil), f.listSubs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func seedMessages(f *fakeBackend, conversationID string, n int) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		f.history[conversationID] = append(f.history[conversationID], chat.Message{
			ID:             fmt.Sprintf("%s-h%d", conversationID, i+1),
			ConversationID: conversationID,
			SenderID:       "partner",
			Text:           fmt.Sprintf("history %d", i+1),
			SentAt:         base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func newController(backend *fakeBackend, transport *fakeTransport, role string) *Controller {
	conversations := store.New(backend, "me", nil)
	pages := pager.New(backend, nil, 10, nil)
	return New(Deps{
		API:       backend,
		Transport: transport,
		Store:     conversations,
		Pager:     pages,
		UserID:    "me",
		UserRole:  role,
		Token:     "token",
	})
}

func TestOpenSelectsFirstConversation(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []chat.Conversation{
		{ID: "c1", PartnerID: "p1"},
		{ID: "c2", PartnerID: "p2"},
	}
	seedMessages(backend, "c1", 3)
	transport := &fakeTransport{}
	ctrl := newController(backend, transport, chat.RoleAdmin)

	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if transport.started != 1 {
		t.Fatalf("expected hub started once, got %d", transport.started)
	}
	if got := ctrl.OpenID(); got != "c1" {
		t.Fatalf("expected first conversation open, got %q", got)
	}
	if len(backend.readIDs) != 1 || backend.readIDs[0] != "c1" {
		t.Fatalf("expected read receipt for c1, got %v", backend.readIDs)
	}
}

func TestResidentAutoInitiatesConversation(t *testing.T) {
	backend := newFakeBackend()
	backend.partners = []chat.Partner{{ID: "staff1", Name: "Front Desk", Role: chat.RoleStaff}}
	transport := &fakeTransport{}
	ctrl := newController(backend, transport, chat.RoleResident)

	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if backend.createCalls != 1 {
		t.Fatalf("expected one ad-hoc create, got %d", backend.createCalls)
	}
	if got := ctrl.OpenID(); got != "c-staff1" {
		t.Fatalf("expected the new staff conversation open, got %q", got)
	}
}

func TestSendValidations(t *testing.T) {
	backend := newFakeBackend()
	transport := &fakeTransport{}
	ctrl := newController(backend, transport, chat.RoleAdmin)

	if err := ctrl.Send(context.Background(), "   \t"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := ctrl.Send(context.Background(), "hello"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
	if backend.sendCalls != 0 {
		t.Fatalf("rejected sends must not hit the network, got %d calls", backend.sendCalls)
	}
}

func TestSendDoubleSubmitGuard(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []chat.Conversation{{ID: "c1", PartnerID: "p1"}}
	transport := &fakeTransport{}
	ctrl := newController(backend, transport, chat.RoleAdmin)
	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	backend.mu.Lock()
	backend.sendGate = gate
	backend.sendStarted = started
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- ctrl.Send(context.Background(), "first") }()
	<-started

	if err := ctrl.Send(context.Background(), "second"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}

	backend.mu.Lock()
	backend.sendGate = nil
	backend.sendStarted = nil
	backend.mu.Unlock()
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first send failed: %v", err)
	}
}

func TestSendRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []chat.Conversation{{ID: "c1", PartnerID: "p1"}}
	backend.nextMsgID = "m99"
	transport := &fakeTransport{}
	ctrl := newController(backend, transport, chat.RoleAdmin)
	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	baseline := backend.listCallCount()
	if err := ctrl.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if backend.sendCalls != 1 {
		t.Fatalf("expected exactly one outbound send, got %d", backend.sendCalls)
	}
	if got := backend.listCallCount(); got != baseline+1 {
		t.Fatalf("expected exactly one list refresh after send, got %d", got-baseline)
	}

	msgs := ctrl.pager.Messages()
	if len(msgs) == 0 || msgs[len(msgs)-1].ID != "m99" {
		t.Fatalf("expected m99 appended last, got %+v", msgs)
	}
}

func TestPushReconciliation(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []chat.Conversation{
		{ID: "c1", PartnerID: "p1"},
		{ID: "c2", PartnerID: "p2"},
	}
	seedMessages(backend, "c1", 2)
	transport := &fakeTransport{}
	ctrl := newController(backend, transport, chat.RoleAdmin)
	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	pushed := chat.Message{
		ID: "p1-new", ConversationID: "c1", SenderID: "p1",
		Text: "knock knock", SentAt: time.Now(),
	}
	baseline := backend.listCallCount()
	transport.EmitMessage(pushed)

	msgs := ctrl.pager.Messages()
	count := 0
	for _, m := range msgs {
		if m.ID == "p1-new" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("pushed message must appear exactly once, got %d", count)
	}
	if backend.listCallCount() != baseline+1 {
		t.Fatalf("push must trigger one list refresh")
	}

	// A push for a different conversation leaves the open window alone but
	// still refreshes the list.
	other := chat.Message{ID: "c2-new", ConversationID: "c2", SenderID: "p2", Text: "elsewhere", SentAt: time.Now()}
	before := len(ctrl.pager.Messages())
	transport.EmitMessage(other)
	if got := len(ctrl.pager.Messages()); got != before {
		t.Fatalf("foreign push mutated the open window: %d -> %d", before, got)
	}
	if backend.listCallCount() != baseline+2 {
		t.Fatalf("foreign push must still refresh the list")
	}
}

func TestListChangedReloadsOpenOnPartnerActivity(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []chat.Conversation{{ID: "c1", PartnerID: "p1"}}
	seedMessages(backend, "c1", 2)
	transport := &fakeTransport{}
	ctrl := newController(backend, transport, chat.RoleAdmin)
	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// New partner activity lands server-side; the client only hears a
	// list-changed signal and converts the unread delta into a reload.
	backend.mu.Lock()
	backend.history["c1"] = append(backend.history["c1"], chat.Message{
		ID: "c1-h3", ConversationID: "c1", SenderID: "p1",
		Text: "history 3", SentAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	})
	backend.conversations[0].UnreadCount = 1
	backend.conversations[0].LastSenderID = "p1"
	backend.mu.Unlock()

	transport.EmitListChanged()

	msgs := ctrl.pager.Messages()
	found := false
	for _, m := range msgs {
		if m.ID == "c1-h3" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reload did not surface the new message, window: %+v", msgs)
	}
	if !chat.Chronological(msgs) {
		t.Fatalf("window out of order after reload")
	}
}

func TestStartWithExistingPartnerSelects(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []chat.Conversation{
		{ID: "c1", PartnerID: "p1"},
		{ID: "c2", PartnerID: "p2"},
	}
	transport := &fakeTransport{}
	ctrl := newController(backend, transport, chat.RoleAdmin)
	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if err := ctrl.StartWith(context.Background(), "p2"); err != nil {
		t.Fatalf("start with existing partner failed: %v", err)
	}
	if backend.createCalls != 0 {
		t.Fatalf("existing partner must not create a new thread")
	}
	if got := ctrl.OpenID(); got != "c2" {
		t.Fatalf("expected c2 open, got %q", got)
	}

	if err := ctrl.StartWith(context.Background(), "p3"); err != nil {
		t.Fatalf("start with new partner failed: %v", err)
	}
	if backend.createCalls != 1 {
		t.Fatalf("expected one create for the new partner")
	}
	if got := ctrl.OpenID(); got != "c-p3" {
		t.Fatalf("expected the created thread open, got %q", got)
	}
}
