package burnroom

import (
	"context"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/burnroom/internal/api"
	"github.com/eldtechnologies/burnroom/internal/chat"
	"github.com/eldtechnologies/burnroom/internal/config"
	"github.com/eldtechnologies/burnroom/internal/realtime"
	"github.com/eldtechnologies/burnroom/internal/store"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	kv := store.NewMemoryStore()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)

	svc := chat.NewService(kv, hub, zerolog.Nop(), chat.Options{})
	cfg := &config.Config{Env: "development", AllowedOrigins: []string{"*"}}

	srv := httptest.NewServer(api.NewRouter(zerolog.Nop(), cfg, api.Deps{Chat: svc, Store: kv, Bus: hub}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	alice := NewClient(srv.URL, t.TempDir())
	bob := NewClient(srv.URL, t.TempDir())

	roomID, err := alice.CreateRoom(ctx)
	require.NoError(t, err)

	aliceToken, err := alice.Join(ctx, roomID)
	require.NoError(t, err)
	_, err = bob.Join(ctx, roomID)
	require.NoError(t, err)

	// Joining again reuses the remembered token
	again, err := alice.Join(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, aliceToken, again)

	require.NoError(t, alice.Send(ctx, roomID, "alice", "hi bob"))

	msgs, err := bob.Messages(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi bob", msgs[0].Text)
	assert.False(t, msgs[0].Mine())

	msgs, err = alice.Messages(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Mine())

	ttl, err := bob.TTL(ctx, roomID)
	require.NoError(t, err)
	assert.InDelta(t, 1800, ttl, 5)

	err = NewClient(srv.URL, t.TempDir()).Send(ctx, roomID, "eve", "let me in")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)

	require.NoError(t, alice.Destroy(ctx, roomID))
	assert.Empty(t, alice.Token(roomID))

	_, err = bob.Messages(ctx, roomID)
	assert.True(t, IsNotFound(err))
}

func TestTokensPersistAcrossClients(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	dir := t.TempDir()

	first := NewClient(srv.URL, dir)
	roomID, err := first.CreateRoom(ctx)
	require.NoError(t, err)
	token, err := first.Join(ctx, roomID)
	require.NoError(t, err)

	second := NewClient(srv.URL, dir)
	assert.Equal(t, token, second.Token(roomID))
}

func TestListenReceivesMessagesUntilDestroyed(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := NewClient(srv.URL, t.TempDir())
	bob := NewClient(srv.URL, t.TempDir())

	roomID, err := alice.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = alice.Join(ctx, roomID)
	require.NoError(t, err)
	_, err = bob.Join(ctx, roomID)
	require.NoError(t, err)

	received := make(chan Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- bob.Listen(ctx, roomID, func(ev Event) error {
			received <- ev
			return nil
		})
	}()

	// The subscription is live once the stream is registered server-side;
	// keep sending until the first event arrives.
	var ev Event
	require.Eventually(t, func() bool {
		if err := alice.Send(ctx, roomID, "alice", "ping"); err != nil {
			return false
		}
		select {
		case ev = <-received:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, EventMessage, ev.Name)
	msg, err := ev.Message()
	require.NoError(t, err)
	assert.Equal(t, "ping", msg.Text)

	require.NoError(t, alice.Destroy(ctx, roomID))

	for ev.Name != EventDestroy {
		select {
		case ev = <-received:
		case <-ctx.Done():
			t.Fatal("no destroy event")
		}
	}
	require.NoError(t, <-done)
}

func TestGenerateUsername(t *testing.T) {
	name, err := GenerateUsername()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^anonymous-(wolf|hawk|bear|raccoon|tiger|shark)-[A-Za-z0-9_-]{5}$`), name)

	c := NewClient("http://unused", t.TempDir())
	first, err := c.Username()
	require.NoError(t, err)
	second, err := c.Username()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "30:00", FormatRemaining(1800))
	assert.Equal(t, "01:05", FormatRemaining(65))
	assert.Equal(t, "00:00", FormatRemaining(0))
	assert.Equal(t, "00:00", FormatRemaining(-3))
}
