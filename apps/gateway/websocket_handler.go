package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/auth"
	"github.com/rmehta/coursetalk/pkg/model"
	"github.com/rmehta/coursetalk/pkg/presence"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Inbound frames are control-sized: join/leave/typing only. Messages
	// themselves go through the API.
	maxFrameSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// clientFrame is what a connected client may send: room selection and
// typing signals.
type clientFrame struct {
	Type           string `json:"type"` // join | leave | typing | typing_stop
	ConversationID string `json:"conversation_id"`
}

// Client is the middleman between one websocket connection and the
// presence coordinator. It satisfies presence.Conn.
type Client struct {
	coord *presence.Coordinator
	conn  *websocket.Conn
	send  chan []byte
	log   *zap.Logger

	userID string
	role   model.Role
}

func (c *Client) UserID() string { return c.userID }

// Send enqueues an event for delivery. A slow client with a full buffer
// loses the event rather than blocking the broadcaster; it will catch up
// from the store.
func (c *Client) Send(ev model.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// readPump consumes frames from the websocket and applies them to the
// coordinator. On any read error the connection is torn down and all of
// its room memberships and typing entries are released.
func (c *Client) readPump() {
	defer func() {
		c.coord.Disconnect(context.Background(), c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.ConversationID == "" {
			continue
		}
		switch frame.Type {
		case "join":
			c.coord.JoinRoom(c, frame.ConversationID)
		case "leave":
			c.coord.LeaveRoom(c, frame.ConversationID)
		case "typing":
			c.coord.StartTyping(frame.ConversationID, c.userID)
		case "typing_stop":
			c.coord.StopTyping(frame.ConversationID, c.userID)
		}
	}
}

// writePump pumps queued events to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(raw)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs authenticates and upgrades a websocket request.
func serveWs(coord *presence.Coordinator, tokens *auth.TokenManager, log *zap.Logger, w http.ResponseWriter, r *http.Request) {
	tokenString := auth.Bearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		// Query param fallback, standard for browser WS clients.
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := tokens.Validate(tokenString)
	if err != nil {
		log.Warn("websocket auth failed", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		coord:  coord,
		conn:   conn,
		send:   make(chan []byte, 256),
		log:    log,
		userID: claims.UserID,
		role:   claims.Role,
	}
	coord.Connect(r.Context(), client)

	go client.writePump()
	go client.readPump()
}
