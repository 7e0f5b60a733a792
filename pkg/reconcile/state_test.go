package reconcile

import (
	"testing"
	"time"

	"github.com/rmehta/coursetalk/pkg/model"
)

func msg(id int64, conv, sender, content string) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Content:        content,
		ReadBy:         []string{sender},
	}
}

func ids(msgs []ViewMessage) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestOptimisticSendResolvesInPlace(t *testing.T) {
	s := NewState("me", time.Second)
	s.AppendPending("c1", "local-1", "hello", nil)

	view := s.Messages("c1")
	if len(view) != 1 || !view[0].Pending {
		t.Fatalf("view = %+v, want one pending entry", view)
	}

	s.ResolvePending("c1", "local-1", msg(10, "c1", "me", "hello"))
	view = s.Messages("c1")
	if len(view) != 1 {
		t.Fatalf("view has %d entries after resolve, want 1", len(view))
	}
	if view[0].Pending || view[0].ID != 10 {
		t.Errorf("entry = %+v, want confirmed id 10", view[0])
	}
}

func TestResolveAfterRacingPushDoesNotDuplicate(t *testing.T) {
	s := NewState("me", time.Second)
	s.AppendPending("c1", "local-1", "hello", nil)

	// A fetch (or any confirmed path) lands the same message before the
	// send round-trip resolves.
	s.LoadMessages("c1", []model.Message{msg(10, "c1", "me", "hello")})
	s.ResolvePending("c1", "local-1", msg(10, "c1", "me", "hello"))

	view := s.Messages("c1")
	if len(view) != 1 {
		t.Fatalf("view has %d entries, want 1 (no duplicate)", len(view))
	}
}

func TestFailedSendKeepsRetryableEntry(t *testing.T) {
	s := NewState("me", time.Second)
	s.AppendPending("c1", "local-1", "hello", nil)
	s.FailPending("c1", "local-1")

	view := s.Messages("c1")
	if len(view) != 1 || !view[0].Failed {
		t.Fatalf("view = %+v, want one failed entry", view)
	}

	s.RetryPending("c1", "local-1")
	view = s.Messages("c1")
	if view[0].Failed {
		t.Error("retry must clear the failure flag")
	}
	s.ResolvePending("c1", "local-1", msg(11, "c1", "me", "hello"))
	if view = s.Messages("c1"); view[0].ID != 11 || view[0].Pending {
		t.Errorf("entry = %+v, want confirmed id 11", view[0])
	}
}

func TestSelfPushIsIgnored(t *testing.T) {
	s := NewState("me", time.Second)
	s.AppendPending("c1", "local-1", "hello", nil)

	// Exclusion on the server is an optimization; if our own message is
	// pushed anyway it must not appear as a second entry.
	m := msg(10, "c1", "me", "hello")
	s.ApplyEvent(model.Event{Type: model.EventNewMessage, ConversationID: "c1", Message: &m})

	view := s.Messages("c1")
	if len(view) != 1 || !view[0].Pending {
		t.Fatalf("view = %+v, want only the pending entry", view)
	}
}

func TestPushedDuplicateById(t *testing.T) {
	s := NewState("me", time.Second)
	m := msg(10, "c1", "peer", "hi")
	ev := model.Event{Type: model.EventNewMessage, ConversationID: "c1", Message: &m}
	s.ApplyEvent(ev)
	s.ApplyEvent(ev)

	if view := s.Messages("c1"); len(view) != 1 {
		t.Fatalf("view has %d entries, want 1", len(view))
	}
	if s.Unread("c1") != 1 {
		t.Errorf("unread = %d, want 1 (duplicate must not double-count)", s.Unread("c1"))
	}
}

func TestOrderingByIdRegardlessOfArrival(t *testing.T) {
	s := NewState("me", time.Second)
	for _, id := range []int64{30, 10, 20} {
		m := msg(id, "c1", "peer", "x")
		s.ApplyEvent(model.Event{Type: model.EventNewMessage, ConversationID: "c1", Message: &m})
	}
	got := ids(s.Messages("c1"))
	want := []int64{10, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestReadReceiptUpdatesWithoutRefetch(t *testing.T) {
	s := NewState("me", time.Second)
	s.LoadMessages("c1", []model.Message{
		msg(10, "c1", "me", "a"),
		msg(20, "c1", "me", "b"),
		msg(30, "c1", "me", "c"),
	})

	s.ApplyEvent(model.Event{
		Type:           model.EventMessageRead,
		ConversationID: "c1",
		Read:           &model.ReadReceipt{ConversationID: "c1", UserID: "peer", UpToMessageID: 20},
	})

	view := s.Messages("c1")
	for _, m := range view {
		want := m.ID <= 20
		if got := m.ReadByUser("peer"); got != want {
			t.Errorf("message %d read by peer = %v, want %v", m.ID, got, want)
		}
	}
}

func TestUnreadOnlyZeroesForOpenConversation(t *testing.T) {
	s := NewState("me", time.Second)
	s.LoadConversations([]model.ConversationSummary{
		{Conversation: model.Conversation{ID: "open"}, UnreadCount: 2},
		{Conversation: model.Conversation{ID: "bg"}, UnreadCount: 3},
	})

	s.Open("open")
	if s.Unread("open") != 0 {
		t.Errorf("open unread = %d, want 0", s.Unread("open"))
	}
	if s.Unread("bg") != 3 {
		t.Errorf("background unread = %d, want 3", s.Unread("bg"))
	}

	// New pushes accumulate only on conversations not on screen.
	m1 := msg(10, "open", "peer", "x")
	m2 := msg(11, "bg", "peer", "y")
	s.ApplyEvent(model.Event{Type: model.EventNewMessage, ConversationID: "open", Message: &m1})
	s.ApplyEvent(model.Event{Type: model.EventNewMessage, ConversationID: "bg", Message: &m2})

	if s.Unread("open") != 0 {
		t.Errorf("open unread after push = %d, want 0", s.Unread("open"))
	}
	if s.Unread("bg") != 4 {
		t.Errorf("background unread after push = %d, want 4", s.Unread("bg"))
	}
}

func TestEditedPushReplacesEntry(t *testing.T) {
	s := NewState("me", time.Second)
	s.LoadMessages("c1", []model.Message{msg(10, "c1", "peer", "tpyo")})
	s.Open("c1")

	edited := msg(10, "c1", "peer", "typo")
	edited.Edited = true
	s.ApplyEvent(model.Event{Type: model.EventNewMessage, ConversationID: "c1", Message: &edited})

	view := s.Messages("c1")
	if len(view) != 1 || view[0].Content != "typo" || !view[0].Edited {
		t.Fatalf("view = %+v, want single edited entry", view)
	}
}

func TestTypingIndicatorExpiresLazily(t *testing.T) {
	s := NewState("me", time.Second)
	now := time.Now()
	s.now = func() time.Time { return now }

	s.ApplyEvent(model.Event{Type: model.EventTyping, ConversationID: "c1", UserID: "peer", Content: "started"})
	if got := s.Typing("c1"); len(got) != 1 || got[0] != "peer" {
		t.Fatalf("Typing = %v, want [peer]", got)
	}

	now = now.Add(2 * time.Second)
	if got := s.Typing("c1"); len(got) != 0 {
		t.Fatalf("Typing after window = %v, want empty (no stop event ever arrived)", got)
	}
}

func TestTypingStopClearsImmediately(t *testing.T) {
	s := NewState("me", time.Second)
	s.ApplyEvent(model.Event{Type: model.EventTyping, ConversationID: "c1", UserID: "peer", Content: "started"})
	s.ApplyEvent(model.Event{Type: model.EventTyping, ConversationID: "c1", UserID: "peer", Content: "stopped"})
	if got := s.Typing("c1"); len(got) != 0 {
		t.Fatalf("Typing = %v, want empty", got)
	}
}

func TestNewConversationEventAddsRoster(t *testing.T) {
	s := NewState("me", time.Second)
	conv := model.Conversation{ID: "pc1", Kind: model.KindPrivate, IsActive: true}
	s.ApplyEvent(model.Event{Type: model.EventNewConversation, ConversationID: "pc1", Conversation: &conv})

	if s.Unread("pc1") != 0 {
		t.Errorf("new conversation unread = %d, want 0", s.Unread("pc1"))
	}
}
