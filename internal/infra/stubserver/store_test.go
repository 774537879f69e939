package stubserver

import (
	"fmt"
	"testing"
	"time"

	"tenantdesk/internal/domain/chat"
)

func seedStore(t *testing.T) (*Store, string) {
	t.Helper()
	s := NewStore()
	s.AddUser(User{ID: "alice", Name: "Alice", Role: chat.RoleResident})
	s.AddUser(User{ID: "bob", Name: "Bob", Role: chat.RoleResident})
	s.AddUser(User{ID: "manager", Name: "Manager", Role: chat.RoleAdmin})
	conv, created, err := s.GetOrCreateConversation("alice", "manager")
	if err != nil || !created {
		t.Fatalf("conversation seed failed: created=%v err=%v", created, err)
	}
	return s, conv.ID
}

func TestMessagePaging(t *testing.T) {
	s, convID := seedStore(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})
	for i := 0; i < 14; i++ {
		if _, _, err := s.Append(convID, "alice", fmt.Sprintf("msg %d", i+1), ""); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	page1, err := s.Messages(convID, "alice", 1, 10)
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}
	if len(page1) != 10 || page1[0].Text != "msg 5" || page1[9].Text != "msg 14" {
		t.Fatalf("page 1 wrong window: len=%d first=%q last=%q", len(page1), page1[0].Text, page1[len(page1)-1].Text)
	}
	if !chat.Chronological(page1) {
		t.Fatalf("page 1 not chronological")
	}

	page2, err := s.Messages(convID, "alice", 2, 10)
	if err != nil {
		t.Fatalf("page 2 failed: %v", err)
	}
	if len(page2) != 4 || page2[0].Text != "msg 1" {
		t.Fatalf("page 2 wrong window: len=%d", len(page2))
	}

	page3, err := s.Messages(convID, "alice", 3, 10)
	if err != nil {
		t.Fatalf("page 3 failed: %v", err)
	}
	if len(page3) != 0 {
		t.Fatalf("expected empty page past history, got %d rows", len(page3))
	}
}

func TestAppendDedupesClientRef(t *testing.T) {
	s, convID := seedStore(t)
	first, _, err := s.Append(convID, "alice", "hello", "ref-1")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	again, _, err := s.Append(convID, "alice", "hello", "ref-1")
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("repeated client ref created a duplicate message")
	}
	rows, err := s.Messages(convID, "alice", 1, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single stored message, got %d", len(rows))
	}
}

func TestUnreadCounters(t *testing.T) {
	s, convID := seedStore(t)
	if _, _, err := s.Append(convID, "alice", "ping", ""); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, _, err := s.Append(convID, "alice", "ping again", ""); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	managerView := s.Conversations("manager")
	if len(managerView) != 1 || managerView[0].UnreadCount != 2 {
		t.Fatalf("expected 2 unread for manager, got %+v", managerView)
	}
	aliceView := s.Conversations("alice")
	if aliceView[0].UnreadCount != 0 {
		t.Fatalf("sender must not accrue unread, got %d", aliceView[0].UnreadCount)
	}

	if err := s.MarkRead(convID, "manager"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	managerView = s.Conversations("manager")
	if managerView[0].UnreadCount != 0 {
		t.Fatalf("unread did not decay after mark read, got %d", managerView[0].UnreadCount)
	}
}

func TestPartnerVisibility(t *testing.T) {
	s, _ := seedStore(t)

	residents, err := s.Partners("alice")
	if err != nil {
		t.Fatalf("partner search failed: %v", err)
	}
	for _, p := range residents {
		if p.Role == chat.RoleResident {
			t.Fatalf("resident must not see other residents, saw %s", p.ID)
		}
	}

	staffView, err := s.Partners("manager")
	if err != nil {
		t.Fatalf("partner search failed: %v", err)
	}
	if len(staffView) != 2 {
		t.Fatalf("admin should see everyone but self, got %d", len(staffView))
	}
	for _, p := range staffView {
		if p.ID == "manager" {
			t.Fatalf("partner list must exclude self")
		}
	}
}

func TestGetOrCreateIsStablePerPair(t *testing.T) {
	s, convID := seedStore(t)
	again, created, err := s.GetOrCreateConversation("manager", "alice")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if created || again.ID != convID {
		t.Fatalf("expected the existing pair thread, got created=%v id=%s", created, again.ID)
	}
}
