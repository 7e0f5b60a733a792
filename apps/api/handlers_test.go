package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/auth"
	"github.com/rmehta/coursetalk/pkg/chat"
	"github.com/rmehta/coursetalk/pkg/group"
	"github.com/rmehta/coursetalk/pkg/model"
)

type fakeChat struct {
	sendErr    error
	sent       []model.Message
	marked     []int64
	summaries  []model.ConversationSummary
	createConv *model.Conversation
	createErr  error
}

func (f *fakeChat) CreatePrivateConversation(_ context.Context, teacherID, studentID string) (*model.Conversation, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createConv != nil {
		return f.createConv, nil
	}
	return &model.Conversation{ID: teacherID + "+" + studentID, Kind: model.KindPrivate, IsActive: true}, nil
}

func (f *fakeChat) SendMessage(_ context.Context, conversationID, senderID string, senderRole model.Role, content string, attachments []model.Attachment) (*model.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	m := model.Message{
		ID: int64(len(f.sent) + 1), ConversationID: conversationID,
		SenderID: senderID, SenderRole: senderRole, Content: content,
		Attachments: attachments, ReadBy: []string{senderID},
	}
	f.sent = append(f.sent, m)
	return &m, nil
}

func (f *fakeChat) MarkRead(_ context.Context, _, _ string, upTo int64) error {
	f.marked = append(f.marked, upTo)
	return nil
}

func (f *fakeChat) ListConversations(_ context.Context, _ string) ([]model.ConversationSummary, error) {
	return f.summaries, nil
}

func (f *fakeChat) ListMessages(_ context.Context, _, _ string, _ int64, _ int) ([]model.Message, error) {
	return f.sent, nil
}

func (f *fakeChat) EditMessage(_ context.Context, conversationID string, id int64, senderID, content string) (*model.Message, error) {
	return &model.Message{ID: id, ConversationID: conversationID, SenderID: senderID, Content: content, Edited: true}, nil
}

type fakeGroups struct {
	activated   []string
	deactivated []string
	report      *group.Report
}

func (f *fakeGroups) ActivateCourseGroup(_ context.Context, courseID string) (*group.Report, error) {
	f.activated = append(f.activated, courseID)
	if f.report != nil {
		return f.report, nil
	}
	return &group.Report{CourseID: courseID}, nil
}

func (f *fakeGroups) DeactivateCourseGroup(_ context.Context, courseID string) error {
	f.deactivated = append(f.deactivated, courseID)
	return nil
}

func (f *fakeGroups) EnrollUser(_ context.Context, _, _ string, _ model.Role) error { return nil }
func (f *fakeGroups) UnenrollUser(_ context.Context, _, _ string) error            { return nil }
func (f *fakeGroups) CourseParticipants(_ context.Context, _ string) ([]model.Membership, error) {
	return nil, nil
}

func newTestServer(t *testing.T, fc *fakeChat, fg *fakeGroups) (*server, chi.Router) {
	t.Helper()
	s := &server{
		chat:   fc,
		groups: fg,
		tokens: auth.NewTokenManager("test_secret"),
		log:    zap.NewNop(),
	}
	r := chi.NewRouter()
	s.routes(r)
	return s, r
}

func authedRequest(t *testing.T, s *server, method, path string, body interface{}, userID string, role model.Role) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	token, err := s.tokens.Generate(userID, role)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestSendMessageHandler(t *testing.T) {
	fc := &fakeChat{}
	s, r := newTestServer(t, fc, &fakeGroups{})

	req := authedRequest(t, s, http.MethodPost, "/conversations/c1/messages",
		sendMessageRequest{Content: "hello"}, "t1", model.RoleTeacher)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(fc.sent) != 1 || fc.sent[0].SenderID != "t1" || fc.sent[0].SenderRole != model.RoleTeacher {
		t.Errorf("sent = %+v, want one message from t1 with role from the token", fc.sent)
	}
}

func TestSendMessageRequiresAuth(t *testing.T) {
	_, r := newTestServer(t, &fakeChat{}, &fakeGroups{})

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages",
		bytes.NewBufferString(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSendMessageErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{chat.ErrNotAParticipant, http.StatusForbidden},
		{chat.ErrConversationInactive, http.StatusConflict},
	}
	for _, tc := range cases {
		fc := &fakeChat{sendErr: tc.err}
		s, r := newTestServer(t, fc, &fakeGroups{})

		req := authedRequest(t, s, http.MethodPost, "/conversations/c1/messages",
			sendMessageRequest{Content: "x"}, "u1", model.RoleStudent)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestCreatePrivateUsesCallerRole(t *testing.T) {
	fc := &fakeChat{}
	s, r := newTestServer(t, fc, &fakeGroups{})

	// A student calling with a teacher's id: the pair must come out
	// (teacher, student) regardless of who dials.
	req := authedRequest(t, s, http.MethodPost, "/conversations/private",
		createPrivateRequest{UserID: "t9"}, "s1", model.RoleStudent)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var conv model.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	if conv.ID != "t9+s1" {
		t.Errorf("pair = %s, want t9+s1", conv.ID)
	}
}

func TestCreatePrivateInvalidPairing(t *testing.T) {
	fc := &fakeChat{createErr: chat.ErrInvalidPairing}
	s, r := newTestServer(t, fc, &fakeGroups{})

	req := authedRequest(t, s, http.MethodPost, "/conversations/private",
		createPrivateRequest{UserID: "s2"}, "t1", model.RoleTeacher)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestCourseStatusDrivesLifecycle(t *testing.T) {
	fg := &fakeGroups{}
	s, r := newTestServer(t, &fakeChat{}, fg)

	req := authedRequest(t, s, http.MethodPost, "/courses/cs301/status",
		courseStatusRequest{Status: "ACTIVE"}, "admin", model.RoleTeacher)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d", rec.Code)
	}

	req = authedRequest(t, s, http.MethodPost, "/courses/cs301/status",
		courseStatusRequest{Status: "COMPLETED"}, "admin", model.RoleTeacher)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate status = %d", rec.Code)
	}

	if len(fg.activated) != 1 || fg.activated[0] != "cs301" {
		t.Errorf("activated = %v", fg.activated)
	}
	if len(fg.deactivated) != 1 || fg.deactivated[0] != "cs301" {
		t.Errorf("deactivated = %v", fg.deactivated)
	}
}

func TestMarkReadHandler(t *testing.T) {
	fc := &fakeChat{}
	s, r := newTestServer(t, fc, &fakeGroups{})

	req := authedRequest(t, s, http.MethodPost, "/conversations/c1/read",
		markReadRequest{UpToMessageID: 42}, "s1", model.RoleStudent)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(fc.marked) != 1 || fc.marked[0] != 42 {
		t.Errorf("marked = %v, want [42]", fc.marked)
	}
}
