// Command smoke exercises the API end to end against a running stack:
// course activation, enrollment, a group message, a private conversation,
// and the student's unread count.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/rmehta/coursetalk/pkg/model"
)

var apiAddr string

func login(userID, role string) string {
	body, _ := json.Marshal(map[string]string{"user_id": userID, "role": role})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(body))
	if err != nil {
		log.Fatal("login:", err)
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal("login decode:", err)
	}
	return out.Token
}

func call(token, method, path string, body interface{}) []byte {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, apiAddr+path, buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: %s: %s", method, path, resp.Status, raw)
	}
	log.Printf("%s %s -> %s", method, path, resp.Status)
	return raw
}

func main() {
	flag.StringVar(&apiAddr, "api", "http://localhost:8081", "api service address")
	courseID := flag.String("course", "smoke-cs101", "course id to exercise")
	flag.Parse()

	teacher := login("smoke_teacher", "teacher")
	student := login("smoke_student", "student")

	// 1. Enroll both users, then activate the course
	call(teacher, "POST", "/courses/"+*courseID+"/enroll",
		map[string]string{"user_id": "smoke_teacher", "role": "teacher"})
	call(teacher, "POST", "/courses/"+*courseID+"/enroll",
		map[string]string{"user_id": "smoke_student", "role": "student"})

	raw := call(teacher, "POST", "/courses/"+*courseID+"/status",
		map[string]string{"status": "ACTIVE"})
	var report struct {
		GroupID string `json:"group_id"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		log.Fatal("activation report:", err)
	}
	fmt.Printf("group: %s\n", report.GroupID)

	// 2. Find the group conversation on the teacher's roster
	raw = call(teacher, "GET", "/conversations", nil)
	var sums []model.ConversationSummary
	if err := json.Unmarshal(raw, &sums); err != nil {
		log.Fatal("conversations:", err)
	}
	var groupConv string
	for _, sum := range sums {
		if sum.Conversation.Kind == model.KindGroup && sum.Conversation.CourseID == *courseID {
			groupConv = sum.Conversation.ID
		}
	}
	if groupConv == "" {
		log.Fatal("no group conversation for course ", *courseID)
	}

	// 3. Teacher posts to the group
	call(teacher, "POST", "/conversations/"+groupConv+"/messages",
		map[string]string{"content": "smoke: hello class"})

	// 4. Teacher opens a private conversation and messages the student
	raw = call(teacher, "POST", "/conversations/private",
		map[string]string{"user_id": "smoke_student"})
	var conv model.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		log.Fatal("private conversation:", err)
	}
	call(teacher, "POST", "/conversations/"+conv.ID+"/messages",
		map[string]string{"content": "smoke: office hours?"})

	// 5. Student should see both conversations with one unread each
	raw = call(student, "GET", "/conversations", nil)
	if err := json.Unmarshal(raw, &sums); err != nil {
		log.Fatal("student conversations:", err)
	}
	for _, sum := range sums {
		fmt.Printf("%s [%s] unread=%d", sum.Conversation.ID, sum.Conversation.Kind, sum.UnreadCount)
		if sum.LastMessage != nil {
			fmt.Printf(" last=%q", sum.LastMessage.Content)
		}
		fmt.Println()
	}

	// 6. Student reads the private conversation
	call(student, "POST", "/conversations/"+conv.ID+"/read", map[string]int64{})
	raw = call(student, "GET", "/conversations/"+conv.ID+"/messages", nil)
	var msgs []model.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		log.Fatal("messages:", err)
	}
	for _, m := range msgs {
		fmt.Printf("%s: %s (read by %d)\n", m.SenderID, m.Content, len(m.ReadBy))
	}

	log.Println("smoke run complete")
}
