// Package ws exposes the broker over WebSocket alongside the primary
// TCP transport, and serves the HTTP control surface (/healthz,
// /metrics). Grounded on scriptschnell's Upgrader/Client split for the
// handshake and songify's chi router for the surrounding HTTP surface.
package ws

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/collabrelay/broker/internal/broker"
	"github.com/collabrelay/broker/internal/logger"
	"github.com/collabrelay/broker/internal/ratelimit"
	"github.com/collabrelay/broker/internal/session"
	"github.com/collabrelay/broker/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway serves the broker's HTTP control surface and WebSocket
// endpoint.
type Gateway struct {
	Broker  *broker.Broker
	Limiter *ratelimit.Registry
	server  *http.Server
}

// New wires a Gateway to b. limiter may be nil to disable inbound rate
// limiting on WebSocket frames.
func New(b *broker.Broker, limiter *ratelimit.Registry) *Gateway {
	return &Gateway{Broker: b, Limiter: limiter}
}

// ListenAndServe binds addr and blocks serving HTTP until the server is
// closed.
func (g *Gateway) ListenAndServe(addr string) error {
	g.server = &http.Server{Addr: addr, Handler: g.routes()}
	logger.InfoF("websocket gateway listening on %s", addr)
	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops the HTTP server immediately, without waiting for in-flight
// requests; upgraded WebSocket connections are not closed by it.
func (g *Gateway) Close() error {
	if g.server == nil {
		return nil
	}
	return g.server.Close()
}

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	r.Get("/healthz", g.handleHealthz)
	r.Get("/metrics", g.handleMetrics)
	r.Get("/ws", g.handleWebSocket)

	return r
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := g.Broker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"clients": snap.Clients,
		"host_id": snap.HostID,
		"pending": snap.Pending,
	})
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("websocket upgrade failed: %v", err)
		return
	}

	remote := conn.RemoteAddr().String()
	sess := session.NewWebSocket(0, newConnAdapter(conn), remote)
	id := g.Broker.Accept(sess)

	defer func() {
		g.Broker.Disconnect(sess)
		if g.Limiter != nil {
			g.Limiter.Forget(remote)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.DebugF("[%d] websocket closed: %v", id, err)
			return
		}
		if len(raw) > wire.MaxFrameSize {
			logger.WarnF("[%d] websocket frame exceeded size limit, closing connection", id)
			return
		}

		if g.Limiter != nil && !g.Limiter.Allow(remote) {
			logger.DebugF("[%d] dropping frame, rate limit exceeded", id)
			continue
		}

		var frame wire.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.DebugF("[%d] dropping malformed websocket frame: %v", id, err)
			continue
		}
		if frame == nil {
			frame = wire.Frame{}
		}

		g.Broker.Dispatch(sess, frame)
	}
}
