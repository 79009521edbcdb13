package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/collabrelay/broker/internal/broker"
	"github.com/collabrelay/broker/internal/ratelimit"
)

func TestHealthzReportsOK(t *testing.T) {
	b := broker.New(nil)
	go b.Run()
	defer b.Stop()

	g := New(b, nil)
	srv := httptest.NewServer(g.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsReflectsSnapshot(t *testing.T) {
	b := broker.New(nil)
	go b.Run()
	defer b.Stop()

	g := New(b, nil)
	srv := httptest.NewServer(g.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, float64(0), body["clients"])
	require.Nil(t, body["host_id"])
}

func TestWebSocketHandshakeAndBroadcast(t *testing.T) {
	b := broker.New(nil)
	go b.Run()
	defer b.Stop()

	g := New(b, nil)
	srv := httptest.NewServer(g.routes())
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"

	alice, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer alice.Close()

	bob, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, bob.WriteJSON(map[string]any{"event": "handshake", "name": "bob"}))

	var frame map[string]any
	require.NoError(t, alice.ReadJSON(&frame))
	require.Equal(t, "user_joined", frame["event"])
	require.Equal(t, "bob", frame["name"])
}

// TestRateLimitedWebSocketFramesAreDroppedNotSpun mirrors the equivalent
// TCP test: the accept loop must read each message before consulting
// the limiter, or an over-rate client pins a CPU core spinning on the
// limiter check instead of draining its socket.
func TestRateLimitedWebSocketFramesAreDroppedNotSpun(t *testing.T) {
	b := broker.New(nil)
	go b.Run()
	defer b.Stop()

	limiter := ratelimit.New(60, 0) // burst 0: every frame is denied
	g := New(b, limiter)
	srv := httptest.NewServer(g.routes())
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"

	observer, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer observer.Close()

	blocked, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer blocked.Close()

	require.NoError(t, blocked.SetWriteDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 200; i++ {
		err := blocked.WriteJSON(map[string]any{"event": "handshake", "name": "blocked"})
		require.NoError(t, err) // never blocks: the loop keeps reading
	}

	require.NoError(t, observer.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var frame map[string]any
	err = observer.ReadJSON(&frame)
	require.Error(t, err) // nothing rate-limited ever reached the broker
}
