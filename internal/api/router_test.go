package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/burnroom/internal/api/middleware"
	"github.com/eldtechnologies/burnroom/internal/chat"
	"github.com/eldtechnologies/burnroom/internal/config"
	"github.com/eldtechnologies/burnroom/internal/models"
	"github.com/eldtechnologies/burnroom/internal/realtime"
	"github.com/eldtechnologies/burnroom/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newLoggedTestServer(t, zerolog.Nop())
}

func newLoggedTestServer(t *testing.T, logger zerolog.Logger) *httptest.Server {
	t.Helper()

	kv := store.NewMemoryStore()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)

	svc := chat.NewService(kv, hub, logger, chat.Options{})
	cfg := &config.Config{
		Env:            "test",
		AllowedOrigins: []string{"*"},
	}

	srv := httptest.NewServer(NewRouter(logger, cfg, Deps{Chat: svc, Store: kv, Bus: hub}))
	t.Cleanup(srv.Close)
	return srv
}

// call performs a request and returns the response with its body read.
func call(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func createRoom(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := call(t, srv, http.MethodPost, "/room/create", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.RoomID)
	return out.RoomID
}

func joinRoom(t *testing.T, srv *httptest.Server, roomID string) string {
	t.Helper()
	resp, body := call(t, srv, http.MethodPost, "/room/join?roomId="+roomID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var out struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	return out.Error
}

func TestJoinIssuesTokenViaHeaderAndCookie(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)

	resp, body := call(t, srv, http.MethodPost, "/room/join?roomId="+roomID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		RoomID string `json:"roomId"`
		Token  string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, roomID, out.RoomID)
	assert.Equal(t, out.Token, resp.Header.Get(middleware.TokenHeader))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.TokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, out.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, int((30 * time.Minute).Seconds()), cookie.MaxAge)

	// A member presenting its token is not issued a new one
	resp, body = call(t, srv, http.MethodPost, "/room/join?roomId="+roomID, out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(middleware.TokenHeader))
	assert.Empty(t, resp.Cookies())
	assert.Contains(t, string(body), out.Token)
}

func TestCookieTokenIsAccepted(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	token := joinRoom(t, srv, roomID)
	joinRoom(t, srv, roomID) // fills the room

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/messages?roomId="+roomID, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: middleware.TokenCookie, Value: token})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoomFullAndUnknownRoom(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	joinRoom(t, srv, roomID)
	joinRoom(t, srv, roomID)

	resp, body := call(t, srv, http.MethodPost, "/room/join?roomId="+roomID, "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "room is full", errorMessage(t, body))

	resp, _ = call(t, srv, http.MethodPost, "/room/join?roomId="+roomID, "forged-token", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = call(t, srv, http.MethodGet, "/messages?roomId=does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "room not found", errorMessage(t, body))

	resp, _ = call(t, srv, http.MethodGet, "/messages", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessagesAreRedactedPerCaller(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	alice := joinRoom(t, srv, roomID)
	bob := joinRoom(t, srv, roomID)

	resp, _ := call(t, srv, http.MethodPost, "/messages?roomId="+roomID, alice, chat.SendRequest{Sender: "alice", Text: "hi"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = call(t, srv, http.MethodPost, "/messages?roomId="+roomID, bob, chat.SendRequest{Sender: "bob", Text: "hey"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	list := func(token string) []models.Message {
		resp, body := call(t, srv, http.MethodGet, "/messages?roomId="+roomID, token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Messages []models.Message `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		return out.Messages
	}

	msgs := list(alice)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, alice, msgs[0].Token)
	assert.Empty(t, msgs[1].Token)
	assert.Equal(t, roomID, msgs[1].RoomID)

	msgs = list(bob)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].Token)
	assert.Equal(t, bob, msgs[1].Token)
}

func TestPostMessageRejectsBadBodies(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	token := joinRoom(t, srv, roomID)
	path := "/messages?roomId=" + roomID

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"empty text", chat.SendRequest{Sender: "a", Text: ""}, http.StatusUnprocessableEntity},
		{"missing sender", map[string]string{"text": "hi"}, http.StatusUnprocessableEntity},
		{"long sender", chat.SendRequest{Sender: strings.Repeat("s", 101), Text: "hi"}, http.StatusUnprocessableEntity},
		{"long text", chat.SendRequest{Sender: "a", Text: strings.Repeat("t", 1001)}, http.StatusUnprocessableEntity},
		{"not an object", "hello", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := call(t, srv, http.MethodPost, path, token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	// Nothing was stored
	resp, body := call(t, srv, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"messages":[]}`, string(body))

	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader("sender=a"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(middleware.TokenHeader, token)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, raw.StatusCode)
}

func postRaw(t *testing.T, srv *httptest.Server, path, token, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TokenHeader, token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestPostMessageAcceptsFullyEscapedMaximums(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	token := joinRoom(t, srv, roomID)
	path := "/messages?roomId=" + roomID

	// Every character written as a surrogate pair escape, 12 bytes each.
	grin := `\ud83d\ude00`
	body := `{"sender":"` + strings.Repeat(grin, chat.MaxSenderLength) +
		`","text":"` + strings.Repeat(grin, chat.MaxTextLength) + `"}`
	require.Greater(t, len(body), 12*1024)

	assert.Equal(t, http.StatusNoContent, postRaw(t, srv, path, token, body))

	resp, data := call(t, srv, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Messages, 1)
	assert.Equal(t, strings.Repeat("😀", chat.MaxTextLength), out.Messages[0].Text)
	assert.Equal(t, chat.MaxSenderLength, utf8.RuneCountInString(out.Messages[0].Sender))
}

func TestPostMessageRejectsOversizedBody(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	token := joinRoom(t, srv, roomID)

	body := `{"sender":"a","text":"` + strings.Repeat("x", 16*1024) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, postRaw(t, srv, "/messages?roomId="+roomID, token, body))
}

func TestRoomTTL(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	token := joinRoom(t, srv, roomID)

	resp, body := call(t, srv, http.MethodGet, "/room/ttl?roomId="+roomID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		TTL int64 `json:"ttl"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.InDelta(t, 1800, out.TTL, 5)
}

func TestDestroyThenSend(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	token := joinRoom(t, srv, roomID)

	resp, _ := call(t, srv, http.MethodDelete, "/room?roomId="+roomID, token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodPost, "/messages?roomId="+roomID, token, chat.SendRequest{Sender: "a", Text: "too late"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/room/ttl?roomId="+roomID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func dialStream(t *testing.T, srv *httptest.Server, roomID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime?roomId=" + roomID
	header := http.Header{}
	header.Set(middleware.TokenHeader, token)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamDeliversMessagesAndDestroy(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	alice := joinRoom(t, srv, roomID)
	bob := joinRoom(t, srv, roomID)

	conn := dialStream(t, srv, roomID, bob)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	resp, _ := call(t, srv, http.MethodPost, "/messages?roomId="+roomID, alice, chat.SendRequest{Sender: "alice", Text: "hello"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var ev realtime.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, realtime.EventMessage, ev.Name)

	var msg models.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, roomID, msg.RoomID)
	assert.Empty(t, msg.Token, "author token must not reach other members")

	resp, _ = call(t, srv, http.MethodDelete, "/room?roomId="+roomID, alice, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, realtime.EventDestroy, ev.Name)
	assert.JSONEq(t, `{"isDestroyed":true}`, string(ev.Data))

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

// syncBuffer collects log lines written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries returns the decoded log lines carrying message msg.
func (b *syncBuffer) entries(msg string) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]interface{}
	for _, line := range strings.Split(b.buf.String(), "\n") {
		var entry map[string]interface{}
		if json.Unmarshal([]byte(line), &entry) == nil && entry["message"] == msg {
			out = append(out, entry)
		}
	}
	return out
}

func TestStreamReadErrorsAreLoggedPerConnection(t *testing.T) {
	logs := &syncBuffer{}
	srv := newLoggedTestServer(t, zerolog.New(logs).Level(zerolog.DebugLevel))
	roomID := createRoom(t, srv)
	token := joinRoom(t, srv, roomID)

	conn := dialStream(t, srv, roomID, token)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bye")))

	require.Eventually(t, func() bool {
		return len(logs.entries("stream closed")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	readErrs := logs.entries("stream read error")
	require.Len(t, readErrs, 1)
	assert.Equal(t, roomID, readErrs[0]["room_id"])
	assert.NotEmpty(t, readErrs[0]["conn_id"])
	assert.Equal(t, logs.entries("stream opened")[0]["conn_id"], readErrs[0]["conn_id"])
}

func TestStreamRejectsNonMembers(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	joinRoom(t, srv, roomID)
	joinRoom(t, srv, roomID)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime?roomId=" + roomID
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthAndInfo(t *testing.T) {
	srv := newTestServer(t)

	resp, body := call(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["store"].Status)
	assert.Equal(t, "pass", health.Checks["realtime"].Status)

	resp, body = call(t, srv, http.MethodGet, "/api", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"burnroom"`)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-referrer", resp.Header.Get("Referrer-Policy"))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com"})

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/realtime", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	req.Header.Set("Origin", "http://api.example.com")
	assert.True(t, check(req), "same host")

	assert.True(t, originChecker([]string{"*"})(req))
}
