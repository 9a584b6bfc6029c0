package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"supportchat/internal/chat"
	"supportchat/internal/config"
	"supportchat/internal/llm"
	"supportchat/internal/session"
	"supportchat/internal/storage"
)

func TestChatEndToEndFlow(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": "Hi"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body map[string]any
	decodeJSON(t, resp.Body.Bytes(), &body)
	sessionID, _ := body["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("expected session id in response")
	}
	if reply, _ := body["reply"].(string); reply == "" {
		t.Fatalf("expected non-empty reply")
	}
	if _, ok := body["error"]; ok {
		t.Fatalf("error field must be absent on success: %s", resp.Body.String())
	}
	if resp.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	histResp := doJSONRequest(t, router, http.MethodGet, "/chat/history/"+sessionID, nil, nil)
	assertStatus(t, histResp, http.StatusOK)
	var hist struct {
		SessionID string `json:"sessionId"`
		Messages  []struct {
			ID             string `json:"id"`
			ConversationID string `json:"conversation_id"`
			Sender         string `json:"sender"`
			Text           string `json:"text"`
			Timestamp      string `json:"timestamp"`
		} `json:"messages"`
	}
	decodeJSON(t, histResp.Body.Bytes(), &hist)
	if hist.SessionID != sessionID {
		t.Fatalf("history session mismatch: %s vs %s", hist.SessionID, sessionID)
	}
	if len(hist.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(hist.Messages))
	}
	if hist.Messages[0].Sender != "user" || hist.Messages[1].Sender != "ai" {
		t.Fatalf("unexpected sender order: %s, %s", hist.Messages[0].Sender, hist.Messages[1].Sender)
	}
	if hist.Messages[0].Text != "Hi" || hist.Messages[0].ConversationID != sessionID || hist.Messages[0].Timestamp == "" {
		t.Fatalf("unexpected first message: %+v", hist.Messages[0])
	}

	// Continue the same conversation.
	resp2 := doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": "Do you ship to Canada?", "sessionId": sessionID}, nil)
	assertStatus(t, resp2, http.StatusOK)
	var body2 chatMessageResponse
	decodeJSON(t, resp2.Body.Bytes(), &body2)
	if body2.SessionID != sessionID {
		t.Fatalf("expected same session, got %s", body2.SessionID)
	}
	if n := countMessages(t, db, sessionID); n != 4 {
		t.Fatalf("expected 4 messages, got %d", n)
	}
}

func TestUppercaseSessionIDResumesConversation(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": "Hi"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var first chatMessageResponse
	decodeJSON(t, resp.Body.Bytes(), &first)
	upper := strings.ToUpper(first.SessionID)

	resp = doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": "Still there?", "sessionId": upper}, nil)
	assertStatus(t, resp, http.StatusOK)
	var second chatMessageResponse
	decodeJSON(t, resp.Body.Bytes(), &second)
	if second.SessionID != first.SessionID {
		t.Fatalf("expected to resume %s, got %s", first.SessionID, second.SessionID)
	}
	if n := countMessages(t, db, first.SessionID); n != 4 {
		t.Fatalf("expected 4 messages, got %d", n)
	}

	histResp := doJSONRequest(t, router, http.MethodGet, "/chat/history/"+upper, nil, nil)
	assertStatus(t, histResp, http.StatusOK)
	var hist historyResponse
	decodeJSON(t, histResp.Body.Bytes(), &hist)
	if hist.SessionID != first.SessionID || len(hist.Messages) != 4 {
		t.Fatalf("unexpected history: session=%s messages=%d", hist.SessionID, len(hist.Messages))
	}
}

func TestPostMessageValidation(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	cases := []struct {
		name  string
		body  any
		field string
	}{
		{"empty message", map[string]any{"message": ""}, "message"},
		{"blank message", map[string]any{"message": "   \n"}, "message"},
		{"missing message", map[string]any{}, "message"},
		{"too long", map[string]any{"message": strings.Repeat("é", 101)}, "message"},
		{"bad session", map[string]any{"message": "hi", "sessionId": "not-a-uuid"}, "sessionId"},
		{"wrong type", map[string]any{"message": 42}, "message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSONRequest(t, router, http.MethodPost, "/chat/message", tc.body, nil)
			assertStatus(t, resp, http.StatusBadRequest)
			var body struct {
				Error   string       `json:"error"`
				Details []fieldError `json:"details"`
			}
			decodeJSON(t, resp.Body.Bytes(), &body)
			if body.Error != "Validation error" {
				t.Fatalf("unexpected error %q", body.Error)
			}
			found := false
			for _, d := range body.Details {
				if d.Field == tc.field && d.Message != "" {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected detail for %s, got %+v", tc.field, body.Details)
			}
		})
	}

	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM conversations`); err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if count != 0 {
		t.Fatalf("validation failures must not touch storage, found %d conversations", count)
	}
}

func TestPostMessageAcceptsMaxLengthInRunes(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": strings.Repeat("é", 100), "sessionId": ""}, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestPostMessageUnknownSessionStartsNewConversation(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	stale := uuid.NewString()
	resp := doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": "Hello", "sessionId": stale}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body chatMessageResponse
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.SessionID == "" || body.SessionID == stale {
		t.Fatalf("expected a fresh session id, got %q", body.SessionID)
	}
}

func TestPostMessageRateLimitIsGraceful(t *testing.T) {
	router, db, completer := newTestServer(t)
	defer db.Close()
	completer.err = &llm.CallError{Kind: llm.FailureRateLimit, Cause: errors.New("429 Too Many Requests")}

	resp := doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": "Hi"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body chatMessageResponse
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !body.Error {
		t.Fatalf("expected error flag, body: %s", resp.Body.String())
	}
	if !strings.Contains(body.Reply, "high demand") {
		t.Fatalf("expected high demand reply, got %q", body.Reply)
	}
	var stored string
	if err := db.Get(&stored, `SELECT text FROM messages WHERE conversation_id = ? AND sender = 'ai'`, body.SessionID); err != nil {
		t.Fatalf("load ai message: %v", err)
	}
	if !strings.Contains(stored, "high demand") {
		t.Fatalf("persisted ai text %q missing high demand", stored)
	}
}

func TestPostMessageEmptyCompletionIsGraceful(t *testing.T) {
	router, db, completer := newTestServer(t)
	defer db.Close()
	completer.reply = ""

	resp := doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": "Hi"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body chatMessageResponse
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !body.Error || body.Reply == "" {
		t.Fatalf("expected non-empty error reply, got %+v", body)
	}
	if n := countMessages(t, db, body.SessionID); n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}
}

func TestPostMessageStorageFailureIs500(t *testing.T) {
	router, db, _ := newTestServer(t)
	db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/chat/message", map[string]any{"message": "Hi"}, nil)
	assertStatus(t, resp, http.StatusInternalServerError)
	var body map[string]string
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body["error"] != "Internal server error" || body["message"] == "" {
		t.Fatalf("unexpected 500 body: %v", body)
	}
}

func TestHistoryNotFound(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	for _, id := range []string{uuid.NewString(), "garbage"} {
		resp := doJSONRequest(t, router, http.MethodGet, "/chat/history/"+id, nil, nil)
		assertStatus(t, resp, http.StatusNotFound)
		var body map[string]string
		decodeJSON(t, resp.Body.Bytes(), &body)
		if body["error"] != "Conversation not found" {
			t.Fatalf("unexpected body %v", body)
		}
	}
}

func TestHealth(t *testing.T) {
	router, db, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, resp, http.StatusOK)

	db.Close()
	resp = doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, resp, http.StatusServiceUnavailable)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS([]string{"http://localhost:5173"}))
	router.POST("/chat/message", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/chat/message", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusNoContent)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/chat/message", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("origin should not be allowed, got %q", got)
	}
}

type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newTestServer(t *testing.T) (*gin.Engine, *sqlx.DB, *stubCompleter) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store := storage.NewStore(db, time.Second)
	completer := &stubCompleter{reply: "Happy to help with that!"}
	generator := llm.NewGenerator(completer, llm.GeneratorConfig{Model: "test-model", MaxTokens: 500})
	service := chat.NewService(store, session.NewResolver(store), generator, chat.NewLocalLocker(), chat.Options{})
	handler := NewHandler(service, store, 100)

	router := gin.New()
	router.Use(RequestLogger(), CORS(nil))
	handler.RegisterRoutes(router)
	return router, db, completer
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func countMessages(t *testing.T, db *sqlx.DB, sessionID string) int {
	t.Helper()
	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, sessionID); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}
