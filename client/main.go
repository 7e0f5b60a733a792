package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rmehta/coursetalk/pkg/model"
	"github.com/rmehta/coursetalk/pkg/reconcile"
)

type loginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID, role string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID, "role": role})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

// api is a thin authenticated REST client for the message endpoints.
type api struct {
	base  string
	token string
}

func (a *api) do(method, path string, body, out interface{}) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (a *api) conversations() ([]model.ConversationSummary, error) {
	var sums []model.ConversationSummary
	err := a.do(http.MethodGet, "/conversations", nil, &sums)
	return sums, err
}

func (a *api) messages(conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := a.do(http.MethodGet, "/conversations/"+conversationID+"/messages", nil, &msgs)
	return msgs, err
}

func (a *api) send(conversationID, content string) (model.Message, error) {
	var msg model.Message
	err := a.do(http.MethodPost, "/conversations/"+conversationID+"/messages",
		map[string]string{"content": content}, &msg)
	return msg, err
}

func (a *api) markRead(conversationID string) error {
	return a.do(http.MethodPost, "/conversations/"+conversationID+"/read",
		map[string]int64{}, nil)
}

type wsFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	role := flag.String("role", "student", "role (teacher or student)")
	convID := flag.String("conv", "", "conversation id (defaults to the first on the roster)")
	flag.Parse()

	// 1. Login to get token
	log.Printf("Logging in as %s (%s)...", *userID, *role)
	token, err := login(*apiAddr, *userID, *role)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	client := &api{base: *apiAddr, token: token}
	state := reconcile.NewState(*userID, time.Second)
	var mu sync.Mutex // guards state; events and stdin race

	// 2. Fetch the roster and pick a conversation
	sums, err := client.conversations()
	if err != nil {
		log.Fatal("fetching conversations:", err)
	}
	mu.Lock()
	state.LoadConversations(sums)
	mu.Unlock()

	active := *convID
	if active == "" {
		if len(sums) == 0 {
			log.Fatal("no conversations; pass -conv or wait to be added to one")
		}
		active = sums[0].Conversation.ID
	}
	for _, sum := range sums {
		marker := " "
		if sum.Conversation.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %s  %s (%d unread)\n", marker, sum.Conversation.ID, sum.Conversation.Title, sum.UnreadCount)
	}

	// 3. Backfill the active conversation and mark it read
	history, err := client.messages(active)
	if err != nil {
		log.Fatal("fetching messages:", err)
	}
	mu.Lock()
	state.LoadMessages(active, history)
	state.Open(active)
	mu.Unlock()
	for _, m := range history {
		fmt.Printf("%s: %s\n", m.SenderID, m.Content)
	}
	if err := client.markRead(active); err != nil {
		log.Println("mark read:", err)
	}

	// 4. Connect to the gateway and join the conversation's room
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	join, _ := json.Marshal(wsFrame{Type: "join", ConversationID: active})
	if err := c.WriteMessage(websocket.TextMessage, join); err != nil {
		log.Fatal("join:", err)
	}

	done := make(chan struct{})

	// 5. Apply live events to the view
	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}

			var ev model.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				log.Printf("Received raw: %s", raw)
				continue
			}

			mu.Lock()
			state.ApplyEvent(ev)
			mu.Unlock()

			switch ev.Type {
			case model.EventNewMessage:
				if ev.Message != nil && ev.Message.SenderID != *userID {
					fmt.Printf("\r%s: %s\n> ", ev.Message.SenderID, ev.Message.Content)
					if ev.ConversationID == active {
						if err := client.markRead(active); err != nil {
							log.Println("mark read:", err)
						}
					}
				}
			case model.EventTyping:
				if ev.Content == "started" && ev.UserID != *userID {
					fmt.Printf("\r%s is typing...\n> ", ev.UserID)
				}
			case model.EventPresence:
				fmt.Printf("\r[%s %s]\n> ", ev.UserID, ev.Content)
			case model.EventNewConversation:
				if ev.Conversation != nil {
					fmt.Printf("\r[new conversation: %s]\n> ", ev.Conversation.ID)
				}
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// 6. Read from stdin: text sends over REST, the view resolves the echo
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			if text == "/quit" {
				close(interrupt)
				break
			}

			if text == "/typing" {
				frame, _ := json.Marshal(wsFrame{Type: "typing", ConversationID: active})
				if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
					log.Println("write:", err)
					break
				}
				fmt.Print("> ")
				continue
			}

			localID := uuid.NewString()
			mu.Lock()
			state.AppendPending(active, localID, text, nil)
			mu.Unlock()

			msg, err := client.send(active, text)
			mu.Lock()
			if err != nil {
				state.FailPending(active, localID)
				log.Println("send failed (kept locally):", err)
			} else {
				state.ResolvePending(active, localID, msg)
			}
			mu.Unlock()
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")
			err := c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
