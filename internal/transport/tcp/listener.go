// Package tcp implements the broker's primary transport: a TCP accept
// loop feeding decoded frames into the broker's supervisor. Grounded on
// the teacher's StartServer/handleConnection split, generalized from
// binary MQTT packets to newline-delimited JSON.
package tcp

import (
	"errors"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/collabrelay/broker/internal/apperr"
	"github.com/collabrelay/broker/internal/broker"
	"github.com/collabrelay/broker/internal/logger"
	"github.com/collabrelay/broker/internal/ratelimit"
	"github.com/collabrelay/broker/internal/session"
	"github.com/collabrelay/broker/internal/wire"
)

// maxInFlight bounds concurrent connections so an accept-bomb cannot
// exhaust file descriptors before per-connection limits apply.
const maxInFlight = 10000

// Server accepts TCP connections and feeds them into a broker.
type Server struct {
	Broker   *broker.Broker
	Limiter  *ratelimit.Registry
	listener net.Listener
	sem      chan struct{}
}

// New wires a Server to b. limiter may be nil to disable inbound rate
// limiting.
func New(b *broker.Broker, limiter *ratelimit.Registry) *Server {
	return &Server{
		Broker:  b,
		Limiter: limiter,
		sem:     make(chan struct{}, maxInFlight),
	}
}

// ListenAndServe binds port on all interfaces and blocks serving
// connections until the listener is closed.
func (s *Server) ListenAndServe(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return apperr.Boundary(apperr.ErrListenerBind, err, "tcp listen")
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln, blocking until it is closed. Split
// out from ListenAndServe so tests can bind an ephemeral port and
// discover its address before Serve starts blocking.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	logger.InfoF("tcp broker listening on %s", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if isNetClosedError(err) {
				return nil
			}
			logger.ErrorF("accept error: %v", err)
			continue
		}

		s.sem <- struct{}{}
		go func(c net.Conn) {
			defer func() { <-s.sem }()
			s.handleConnection(c)
		}(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConnection(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	sess := session.New(0, conn, remote)
	id := s.Broker.Accept(sess)

	defer func() {
		s.Broker.Disconnect(sess)
		if s.Limiter != nil {
			s.Limiter.Forget(remote)
		}
	}()

	dec := wire.NewDecoder(conn)
	for {
		frame, err := dec.Next()
		if err != nil {
			var malformed *wire.ErrMalformedFrame
			if errors.As(err, &malformed) {
				logger.DebugF("[%d] dropping malformed frame: %v", id, malformed.Err)
				continue
			}
			handleReadError(id, err)
			return
		}

		if s.Limiter != nil && !s.Limiter.Allow(remote) {
			logger.DebugF("[%d] dropping frame, rate limit exceeded", id)
			continue
		}

		s.Broker.Dispatch(sess, frame)
	}
}

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Timeout()
}

func handleReadError(clientID int, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.DebugF("[%d] client closed connection", clientID)
	case errors.Is(err, wire.ErrFrameTooLarge):
		logger.WarnF("[%d] frame exceeded size limit, closing connection", clientID)
	case os.IsTimeout(err):
		logger.WarnF("[%d] read timeout", clientID)
	default:
		logger.ErrorF("[%d] read error: %v", clientID, err)
	}
}
