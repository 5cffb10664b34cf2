// Package burnroom provides a client for the burnroom ephemeral chat API.
package burnroom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// TokenHeader carries the room capability token.
const TokenHeader = "X-Auth-Token"

// Realtime event names.
const (
	EventMessage = "chat.message"
	EventDestroy = "chat.destroy"
)

var animals = []string{"wolf", "hawk", "bear", "raccoon", "tiger", "shark"}

// Client is a burnroom API client. Tokens are remembered per room and
// persisted in the config directory.
type Client struct {
	BaseURL    string
	ConfigDir  string
	HTTPClient *http.Client

	mu     sync.Mutex
	config Config
}

// Config is the client state kept on disk.
type Config struct {
	Username string            `json:"username"`
	Tokens   map[string]string `json:"tokens"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("burnroom error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// NewClient creates a new client. configDir defaults to BURNROOM_CONFIG,
// then ~/.burnroom.
func NewClient(baseURL, configDir string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	if configDir == "" {
		configDir = os.Getenv("BURNROOM_CONFIG")
	}
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".burnroom")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		config:     Config{Tokens: map[string]string{}},
	}

	_ = c.LoadConfig()
	return c
}

func (c *Client) configFile() string {
	return filepath.Join(c.ConfigDir, "config.json")
}

// LoadConfig loads the username and room tokens from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(c.configFile())
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}
	if config.Tokens == nil {
		config.Tokens = map[string]string{}
	}

	c.mu.Lock()
	c.config = config
	c.mu.Unlock()
	return nil
}

// SaveConfig writes the username and room tokens to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	c.mu.Lock()
	data, _ := json.MarshalIndent(c.config, "", "  ")
	c.mu.Unlock()

	return os.WriteFile(c.configFile(), data, 0600)
}

// Username returns the stored username, generating and saving one first
// if there is none.
func (c *Client) Username() (string, error) {
	c.mu.Lock()
	name := c.config.Username
	c.mu.Unlock()
	if name != "" {
		return name, nil
	}

	name, err := GenerateUsername()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.config.Username = name
	c.mu.Unlock()
	return name, c.SaveConfig()
}

// Token returns the remembered token for a room.
func (c *Client) Token(roomID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Tokens[roomID]
}

// setToken remembers a room token. Persisting is best effort: a token that
// fails to save still works for this process.
func (c *Client) setToken(roomID, token string) {
	c.mu.Lock()
	if c.config.Tokens[roomID] == token {
		c.mu.Unlock()
		return
	}
	c.config.Tokens[roomID] = token
	c.mu.Unlock()
	_ = c.SaveConfig()
}

// Forget drops the remembered token for a room.
func (c *Client) Forget(roomID string) error {
	c.mu.Lock()
	delete(c.config.Tokens, roomID)
	c.mu.Unlock()
	return c.SaveConfig()
}

// doRequest performs an HTTP request scoped to roomID (if any), attaching
// the room token and remembering any token the server issues.
func (c *Client) doRequest(ctx context.Context, method, path, roomID string, body []byte) ([]byte, error) {
	if roomID != "" {
		path += "?roomId=" + url.QueryEscape(roomID)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(roomID); roomID != "" && token != "" {
		req.Header.Set(TokenHeader, token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(TokenHeader); roomID != "" && token != "" {
		c.setToken(roomID, token)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, method, path, roomID string, body []byte, out interface{}) error {
	respBody, err := c.doRequest(ctx, method, path, roomID, body)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

// CreateRoom creates a new room and returns its ID. The caller is not a
// member until it joins.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var resp struct {
		RoomID string `json:"roomId"`
	}
	if err := c.getJSON(ctx, http.MethodPost, "/room/create", "", nil, &resp); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

// Join joins a room, or confirms membership if a token is already held,
// and returns the room token.
func (c *Client) Join(ctx context.Context, roomID string) (string, error) {
	var resp struct {
		RoomID string `json:"roomId"`
		Token  string `json:"token"`
	}
	if err := c.getJSON(ctx, http.MethodPost, "/room/join", roomID, nil, &resp); err != nil {
		return "", err
	}
	c.setToken(roomID, resp.Token)
	return resp.Token, nil
}

// TTL returns the number of seconds the room has left.
func (c *Client) TTL(ctx context.Context, roomID string) (int64, error) {
	var resp struct {
		TTL int64 `json:"ttl"`
	}
	if err := c.getJSON(ctx, http.MethodGet, "/room/ttl", roomID, nil, &resp); err != nil {
		return 0, err
	}
	return resp.TTL, nil
}

// Message is a chat message as returned by the server. Token is only set
// on the caller's own messages.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
	Token     string `json:"token,omitempty"`
}

// Mine reports whether the message was sent with this client's token.
func (m Message) Mine() bool {
	return m.Token != ""
}

// Send posts a message to a room.
func (c *Client) Send(ctx context.Context, roomID, sender, text string) error {
	body, _ := json.Marshal(map[string]string{"sender": sender, "text": text})
	_, err := c.doRequest(ctx, http.MethodPost, "/messages", roomID, body)
	return err
}

// Messages returns every message in the room in send order.
func (c *Client) Messages(ctx context.Context, roomID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.getJSON(ctx, http.MethodGet, "/messages", roomID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Destroy destroys the room for every member and forgets its token.
func (c *Client) Destroy(ctx context.Context, roomID string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/room", roomID, nil); err != nil {
		return err
	}
	return c.Forget(roomID)
}

// Event is a realtime event from a room.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Message decodes a chat.message payload.
func (e Event) Message() (Message, error) {
	var m Message
	err := json.Unmarshal(e.Data, &m)
	return m, err
}

// Listen streams the room's events to fn until the room is destroyed, ctx
// ends, fn returns an error or the connection drops. A destroy event is
// delivered to fn before Listen returns nil.
func (c *Client) Listen(ctx context.Context, roomID string, fn func(Event) error) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/realtime"
	u.RawQuery = url.Values{"roomId": {roomID}}.Encode()

	header := http.Header{}
	if token := c.Token(roomID); token != "" {
		header.Set(TokenHeader, token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			var errResp struct {
				Error string `json:"error"`
			}
			json.NewDecoder(resp.Body).Decode(&errResp)
			resp.Body.Close()
			return &APIError{Status: resp.StatusCode, Message: errResp.Error}
		}
		return err
	}
	defer conn.Close()

	if token := resp.Header.Get(TokenHeader); token != "" {
		c.setToken(roomID, token)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Name == EventDestroy {
			return nil
		}
	}
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getJSON(ctx, http.MethodGet, "/health", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateUsername returns a random name like "anonymous-wolf-V1StG".
func GenerateUsername() (string, error) {
	suffix, err := gonanoid.New(5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("anonymous-%s-%s", animals[rand.Intn(len(animals))], suffix), nil
}

// FormatRemaining renders seconds as MM:SS. Negative values render as 00:00.
func FormatRemaining(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
