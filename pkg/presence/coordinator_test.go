package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/model"
)

type stubConn struct {
	id string

	mu     sync.Mutex
	events []model.Event
	err    error
}

func (s *stubConn) UserID() string { return s.id }

func (s *stubConn) Send(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *stubConn) received() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *stubConn) count(typ model.EventType, content string) int {
	n := 0
	for _, ev := range s.received() {
		if ev.Type == typ && (content == "" || ev.Content == content) {
			n++
		}
	}
	return n
}

func newTestCoordinator(window time.Duration) *Coordinator {
	return NewCoordinator(window, nil, zap.NewNop())
}

func TestBroadcastExcludesSender(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	conns := []*stubConn{{id: "t1"}, {id: "s1"}, {id: "s2"}}
	for _, conn := range conns {
		c.Connect(ctx, conn)
		c.JoinRoom(conn, "cs301")
	}

	c.Broadcast("cs301", model.Event{
		Type:           model.EventNewMessage,
		ConversationID: "cs301",
		ExcludeUserID:  "t1",
		Message:        &model.Message{ID: 1, SenderID: "t1", Content: "Welcome to CS301"},
	})

	if got := conns[0].count(model.EventNewMessage, ""); got != 0 {
		t.Errorf("sender received %d pushes, want 0", got)
	}
	for _, conn := range conns[1:] {
		if got := conn.count(model.EventNewMessage, ""); got != 1 {
			t.Errorf("%s received %d pushes, want exactly 1", conn.id, got)
		}
	}
}

func TestBroadcastToEmptyRoomIsDropped(t *testing.T) {
	c := newTestCoordinator(time.Second)
	// Nothing to assert beyond not panicking: delivery is at-most-once and
	// never queued.
	c.Broadcast("nobody-here", model.Event{Type: model.EventNewMessage})
}

func TestJoinLeaveBroadcastsPresence(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	a := &stubConn{id: "a"}
	b := &stubConn{id: "b"}
	c.Connect(ctx, a)
	c.Connect(ctx, b)
	c.JoinRoom(a, "c1")
	c.JoinRoom(b, "c1")

	if got := a.count(model.EventPresence, "joined"); got != 1 {
		t.Errorf("a saw %d joins, want 1 (b's)", got)
	}
	if got := b.count(model.EventPresence, "joined"); got != 0 {
		t.Errorf("b saw %d joins, want 0 (own join excluded)", got)
	}

	c.LeaveRoom(b, "c1")
	if got := a.count(model.EventPresence, "left"); got != 1 {
		t.Errorf("a saw %d leaves, want 1", got)
	}
}

func TestIsOnlineTracksConnections(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	first := &stubConn{id: "u1"}
	second := &stubConn{id: "u1"}
	c.Connect(ctx, first)
	c.Connect(ctx, second)

	if !c.IsOnline("u1") {
		t.Fatal("u1 must be online with two connections")
	}
	c.Disconnect(ctx, first)
	if !c.IsOnline("u1") {
		t.Fatal("u1 must stay online while one connection remains")
	}
	c.Disconnect(ctx, second)
	if c.IsOnline("u1") {
		t.Fatal("u1 must be offline after the last disconnect")
	}
	if c.IsOnline("never-connected") {
		t.Fatal("unknown users are offline")
	}
}

func TestLastDisconnectBroadcastsOffline(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	watcher := &stubConn{id: "w"}
	first := &stubConn{id: "u1"}
	second := &stubConn{id: "u1"}
	for _, conn := range []*stubConn{watcher, first, second} {
		c.Connect(ctx, conn)
		c.JoinRoom(conn, "c1")
	}

	c.Disconnect(ctx, first)
	if got := watcher.count(model.EventPresence, "offline"); got != 0 {
		t.Fatalf("offline broadcast while a connection remains: %d", got)
	}

	c.Disconnect(ctx, second)
	if got := watcher.count(model.EventPresence, "offline"); got != 1 {
		t.Fatalf("watcher saw %d offline events, want 1", got)
	}
}

func TestDisconnectReleasesRooms(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	gone := &stubConn{id: "u1"}
	c.Connect(ctx, gone)
	c.JoinRoom(gone, "c1")
	c.Disconnect(ctx, gone)

	c.Broadcast("c1", model.Event{Type: model.EventNewMessage, ConversationID: "c1"})
	if got := gone.count(model.EventNewMessage, ""); got != 0 {
		t.Errorf("disconnected client received %d events", got)
	}
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	c := newTestCoordinator(time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	typer := &stubConn{id: "s1"}
	other := &stubConn{id: "t1"}
	for _, conn := range []*stubConn{typer, other} {
		c.Connect(ctx, conn)
		c.JoinRoom(conn, "c1")
	}

	c.StartTyping("c1", "s1")
	if got := other.count(model.EventTyping, "started"); got != 1 {
		t.Fatalf("typing started events = %d, want 1", got)
	}
	if users := c.TypingUsers("c1"); len(users) != 1 || users[0] != "s1" {
		t.Fatalf("TypingUsers = %v, want [s1]", users)
	}

	// No further events; the entry must vanish once the window passes.
	now = now.Add(2 * time.Second)
	c.sweepTyping(now)

	if users := c.TypingUsers("c1"); len(users) != 0 {
		t.Fatalf("TypingUsers after expiry = %v, want empty", users)
	}
	if got := other.count(model.EventTyping, "stopped"); got != 1 {
		t.Errorf("typing stopped events = %d, want 1 (synthesized by sweep)", got)
	}
}

func TestStopAfterExpiryDoesNotResurrect(t *testing.T) {
	c := newTestCoordinator(time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	typer := &stubConn{id: "s1"}
	other := &stubConn{id: "t1"}
	for _, conn := range []*stubConn{typer, other} {
		c.Connect(ctx, conn)
		c.JoinRoom(conn, "c1")
	}

	c.StartTyping("c1", "s1")
	now = now.Add(2 * time.Second)
	c.sweepTyping(now)

	// The late stop must be a no-op: no second stopped broadcast, no
	// reborn entry.
	c.StopTyping("c1", "s1")
	if got := other.count(model.EventTyping, "stopped"); got != 1 {
		t.Errorf("stopped events = %d, want 1", got)
	}
	if users := c.TypingUsers("c1"); len(users) != 0 {
		t.Errorf("TypingUsers = %v, want empty", users)
	}
}

func TestStartTypingRefreshDoesNotRebroadcast(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	typer := &stubConn{id: "s1"}
	other := &stubConn{id: "t1"}
	for _, conn := range []*stubConn{typer, other} {
		c.Connect(ctx, conn)
		c.JoinRoom(conn, "c1")
	}

	c.StartTyping("c1", "s1")
	c.StartTyping("c1", "s1")
	c.StartTyping("c1", "s1")
	if got := other.count(model.EventTyping, "started"); got != 1 {
		t.Errorf("started events = %d, want 1 (refreshes are silent)", got)
	}
}

func TestTypingClearedOnDisconnect(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	typer := &stubConn{id: "s1"}
	c.Connect(ctx, typer)
	c.JoinRoom(typer, "c1")
	c.StartTyping("c1", "s1")

	c.Disconnect(ctx, typer)
	if users := c.TypingUsers("c1"); len(users) != 0 {
		t.Errorf("TypingUsers after disconnect = %v, want empty", users)
	}
}

func TestDeliverRoutesByRecipients(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	inRoom := &stubConn{id: "a"}
	target := &stubConn{id: "b"}
	c.Connect(ctx, inRoom)
	c.Connect(ctx, target)
	c.JoinRoom(inRoom, "c1")
	// target has not joined any room: a new-conversation event must still
	// reach it via the user map.

	c.Deliver(model.Event{
		Type:           model.EventNewConversation,
		ConversationID: "c1",
		Recipients:     []string{"b"},
		Conversation:   &model.Conversation{ID: "c1"},
	})

	if got := target.count(model.EventNewConversation, ""); got != 1 {
		t.Errorf("target received %d events, want 1", got)
	}
	if got := inRoom.count(model.EventNewConversation, ""); got != 0 {
		t.Errorf("room member received %d events, want 0 (not a recipient)", got)
	}
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &stubConn{id: "u"}
			c.Connect(ctx, conn)
			for j := 0; j < 50; j++ {
				c.JoinRoom(conn, "c1")
				c.Broadcast("c1", model.Event{Type: model.EventNewMessage, ConversationID: "c1"})
				c.StartTyping("c1", conn.UserID())
				c.StopTyping("c1", conn.UserID())
				c.LeaveRoom(conn, "c1")
			}
			c.Disconnect(ctx, conn)
		}(i)
	}
	wg.Wait()
}

func TestJoinRetriesTombstonedRoom(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	// A last leave can tombstone the room in the window where a join has
	// already loaded it; the join must land in a fresh entry, never the
	// dying one.
	stale := &room{conns: make(map[Conn]struct{}), dead: true}
	c.rooms.Store("cs301", stale)

	conn := &stubConn{id: "s1"}
	c.Connect(ctx, conn)
	c.JoinRoom(conn, "cs301")

	c.Broadcast("cs301", model.Event{Type: model.EventNewMessage, ConversationID: "cs301"})
	if got := conn.count(model.EventNewMessage, ""); got != 1 {
		t.Fatalf("joiner received %d pushes, want 1", got)
	}
	if r, ok := c.rooms.Load("cs301"); !ok || r.(*room) == stale {
		t.Error("join must replace the tombstoned room entry")
	}
}

func TestConnectRetriesTombstonedUserEntry(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	stale := &userEntry{conns: make(map[Conn]struct{}), dead: true}
	c.users.Store("s1", stale)

	conn := &stubConn{id: "s1"}
	c.Connect(ctx, conn)

	if !c.IsOnline("s1") {
		t.Fatal("user with a live connection must be online")
	}
	c.BroadcastToUsers([]string{"s1"}, model.Event{Type: model.EventNewConversation})
	if got := conn.count(model.EventNewConversation, ""); got != 1 {
		t.Errorf("connection received %d events, want 1", got)
	}
}

func TestJoinLeaveChurnKeepsJoinerReachable(t *testing.T) {
	c := newTestCoordinator(time.Second)
	ctx := context.Background()

	churn := &stubConn{id: "churn"}
	c.Connect(ctx, churn)
	joiner := &stubConn{id: "s1"}
	c.Connect(ctx, joiner)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.JoinRoom(churn, "cs301")
			c.LeaveRoom(churn, "cs301")
		}
	}()

	// Every broadcast issued while the joiner is in the room must reach it,
	// no matter how the churning connection tears the room down around it.
	const rounds = 200
	for i := 0; i < rounds; i++ {
		c.JoinRoom(joiner, "cs301")
		c.Broadcast("cs301", model.Event{Type: model.EventNewMessage, ConversationID: "cs301"})
		c.LeaveRoom(joiner, "cs301")
	}
	wg.Wait()

	if got := joiner.count(model.EventNewMessage, ""); got != rounds {
		t.Errorf("joiner received %d of %d broadcasts", got, rounds)
	}
}
