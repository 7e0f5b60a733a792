// Package presence tracks live connections, room membership, and typing
// state. It is the only component with shared frequently-mutated state;
// contention is sharded per room and per user, never behind a global lock.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/model"
)

// Conn is one live client connection. The gateway's websocket client
// satisfies it; tests use stubs.
type Conn interface {
	UserID() string
	Send(ev model.Event) error
}

// Rooms and user entries are tombstoned (dead) under their own lock before
// removal from the registry, the same way typing entries are: a join racing
// the teardown of the last leave sees the tombstone and retries on a fresh
// entry instead of landing in an orphaned struct.
type room struct {
	mu    sync.RWMutex
	conns map[Conn]struct{}
	dead  bool
}

type userEntry struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
	dead  bool
}

type connState struct {
	mu    sync.Mutex
	rooms map[string]struct{}
}

type Coordinator struct {
	window time.Duration
	rooms  sync.Map // conversation id -> *room
	users  sync.Map // user id -> *userEntry
	conns  sync.Map // Conn -> *connState
	typing sync.Map // conversation id + "|" + user id -> *typingEntry
	rdb    *redis.Client
	log    *zap.Logger
	now    func() time.Time
}

// NewCoordinator builds a coordinator. rdb may be nil (tests); when set,
// per-user connection counts are mirrored to Redis so the API service can
// answer online-status queries without reaching the gateway.
func NewCoordinator(window time.Duration, rdb *redis.Client, log *zap.Logger) *Coordinator {
	if window <= 0 {
		window = time.Second
	}
	return &Coordinator{window: window, rdb: rdb, log: log, now: time.Now}
}

// Run sweeps expired typing entries until ctx is canceled. Expiry is also
// checked lazily on read, so a missed sweep cannot wedge state.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.window / 2
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepTyping(c.now())
		}
	}
}

// Connect registers a live connection for its user.
func (c *Coordinator) Connect(ctx context.Context, conn Conn) {
	for {
		entry, _ := c.users.LoadOrStore(conn.UserID(), &userEntry{conns: make(map[Conn]struct{})})
		ue := entry.(*userEntry)
		ue.mu.Lock()
		if ue.dead {
			ue.mu.Unlock()
			c.users.CompareAndDelete(conn.UserID(), ue)
			continue
		}
		ue.conns[conn] = struct{}{}
		ue.mu.Unlock()
		break
	}

	c.conns.Store(conn, &connState{rooms: make(map[string]struct{})})

	if c.rdb != nil {
		if err := c.rdb.Incr(ctx, "presence:conns:"+conn.UserID()).Err(); err != nil {
			c.log.Warn("presence counter incr failed", zap.String("user_id", conn.UserID()), zap.Error(err))
		}
	}
}

// Disconnect releases every room membership and typing entry held by the
// connection. If it was the user's last connection, an offline presence
// event is broadcast to the rooms it had joined.
func (c *Coordinator) Disconnect(ctx context.Context, conn Conn) {
	userID := conn.UserID()

	var joined []string
	if state, ok := c.conns.LoadAndDelete(conn); ok {
		cs := state.(*connState)
		cs.mu.Lock()
		for id := range cs.rooms {
			joined = append(joined, id)
		}
		cs.mu.Unlock()
	}

	last := false
	if entry, ok := c.users.Load(userID); ok {
		ue := entry.(*userEntry)
		ue.mu.Lock()
		delete(ue.conns, conn)
		if len(ue.conns) == 0 && !ue.dead {
			ue.dead = true
			last = true
		}
		ue.mu.Unlock()
		if last {
			c.users.CompareAndDelete(userID, ue)
		}
	}

	for _, convID := range joined {
		c.removeFromRoom(convID, conn)
		c.expireTypingEntry(convID, userID)
		if last {
			c.Broadcast(convID, model.Event{
				Type:           model.EventPresence,
				ConversationID: convID,
				UserID:         userID,
				ExcludeUserID:  userID,
				Content:        "offline",
				Timestamp:      c.now(),
			})
		}
	}

	if c.rdb != nil {
		if err := c.rdb.Decr(ctx, "presence:conns:"+userID).Err(); err != nil {
			c.log.Warn("presence counter decr failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// JoinRoom adds the connection to a conversation's delivery scope. A
// connection may join many rooms; the server only scopes delivery.
func (c *Coordinator) JoinRoom(conn Conn, conversationID string) {
	for {
		r, _ := c.rooms.LoadOrStore(conversationID, &room{conns: make(map[Conn]struct{})})
		rm := r.(*room)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			c.rooms.CompareAndDelete(conversationID, rm)
			continue
		}
		rm.conns[conn] = struct{}{}
		rm.mu.Unlock()
		break
	}

	if state, ok := c.conns.Load(conn); ok {
		cs := state.(*connState)
		cs.mu.Lock()
		cs.rooms[conversationID] = struct{}{}
		cs.mu.Unlock()
	}

	c.Broadcast(conversationID, model.Event{
		Type:           model.EventPresence,
		ConversationID: conversationID,
		UserID:         conn.UserID(),
		ExcludeUserID:  conn.UserID(),
		Content:        "joined",
		Timestamp:      c.now(),
	})
}

func (c *Coordinator) LeaveRoom(conn Conn, conversationID string) {
	c.removeFromRoom(conversationID, conn)

	if state, ok := c.conns.Load(conn); ok {
		cs := state.(*connState)
		cs.mu.Lock()
		delete(cs.rooms, conversationID)
		cs.mu.Unlock()
	}

	c.expireTypingEntry(conversationID, conn.UserID())

	c.Broadcast(conversationID, model.Event{
		Type:           model.EventPresence,
		ConversationID: conversationID,
		UserID:         conn.UserID(),
		ExcludeUserID:  conn.UserID(),
		Content:        "left",
		Timestamp:      c.now(),
	})
}

func (c *Coordinator) removeFromRoom(conversationID string, conn Conn) {
	r, ok := c.rooms.Load(conversationID)
	if !ok {
		return
	}
	rm := r.(*room)
	rm.mu.Lock()
	delete(rm.conns, conn)
	dying := len(rm.conns) == 0 && !rm.dead
	if dying {
		rm.dead = true
	}
	rm.mu.Unlock()
	if dying {
		c.rooms.CompareAndDelete(conversationID, rm)
	}
}

// Broadcast delivers an event to every connection joined to the room,
// skipping the excluded sender. Send failures are logged; delivery is
// at-most-once by contract.
func (c *Coordinator) Broadcast(conversationID string, ev model.Event) {
	r, ok := c.rooms.Load(conversationID)
	if !ok {
		return
	}
	rm := r.(*room)
	rm.mu.RLock()
	targets := make([]Conn, 0, len(rm.conns))
	for conn := range rm.conns {
		if ev.ExcludeUserID != "" && conn.UserID() == ev.ExcludeUserID {
			continue
		}
		targets = append(targets, conn)
	}
	rm.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Send(ev); err != nil {
			c.log.Warn("event delivery failed",
				zap.String("user_id", conn.UserID()),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}

// BroadcastToUsers delivers to every connection of the named users,
// regardless of room membership (used for events that predate the room,
// like new-conversation).
func (c *Coordinator) BroadcastToUsers(userIDs []string, ev model.Event) {
	for _, userID := range userIDs {
		if ev.ExcludeUserID != "" && userID == ev.ExcludeUserID {
			continue
		}
		entry, ok := c.users.Load(userID)
		if !ok {
			continue
		}
		ue := entry.(*userEntry)
		ue.mu.Lock()
		targets := make([]Conn, 0, len(ue.conns))
		for conn := range ue.conns {
			targets = append(targets, conn)
		}
		ue.mu.Unlock()
		for _, conn := range targets {
			if err := conn.Send(ev); err != nil {
				c.log.Warn("event delivery failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
}

// Deliver routes an event from the push bus: direct to users when
// Recipients is set, otherwise to the conversation's room.
func (c *Coordinator) Deliver(ev model.Event) {
	if len(ev.Recipients) > 0 {
		c.BroadcastToUsers(ev.Recipients, ev)
		return
	}
	c.Broadcast(ev.ConversationID, ev)
}

// IsOnline reports whether the user has at least one live connection on
// this instance, from the direct user map.
func (c *Coordinator) IsOnline(userID string) bool {
	entry, ok := c.users.Load(userID)
	if !ok {
		return false
	}
	ue := entry.(*userEntry)
	ue.mu.Lock()
	defer ue.mu.Unlock()
	return len(ue.conns) > 0
}
