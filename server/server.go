package server

import (
	"errors"
	"net"
	"time"

	"github.com/uhttpd/uhttp/body"
	"github.com/uhttpd/uhttp/codec"
	"github.com/uhttpd/uhttp/parser"
)

// Handler dispatches a completed request on conn. The handler must call
// exactly one of conn's Respond*/RespondFile/ResponseMultipartBegin
// methods before returning; if it returns without responding, the server
// answers the request with an empty 500 Internal Server Error.
type Handler func(conn *Connection, req *parser.Request)

// Server is the event-driven multiplexer (spec §4.5): it owns the
// listening socket, the map of live connections, and the admission
// control that bounds how many clients may wait to be accepted.
type Server struct {
	cfg      Config
	listener net.Listener
	handler  Handler

	conns map[*Connection]struct{}
	order []*Connection
}

// New constructs a Server that dispatches completed requests to handler.
// Call Listen before AcceptOne/ProcessEvents/Wait.
func New(handler Handler, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.jsonCodec == nil {
		cfg.jsonCodec = codec.Default
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		conns:   make(map[*Connection]struct{}),
	}
}

// Listen opens the TCP listener. AcceptOne enables TCP_NODELAY on each
// connection it accepts (SPEC_FULL.md §9 supplement, matching the
// original's socket.TCP_NODELAY tuning).
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Close stops accepting and closes every live connection.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.close()
	}
	s.conns = make(map[*Connection]struct{})
	s.order = nil
	return err
}

// AcceptOne performs one non-blocking accept attempt. It applies
// admission control (spec §4.5) through admit: once more than
// MaxWaitingClients connections are live, the oldest tracked connection
// is sent 408 Request Timeout and closed (SPEC_FULL.md §9 supplement).
// The newly accepted socket is kept and returned, except when
// MaxWaitingClients is 0, in which case it is itself the one closed.
func (s *Server) AcceptOne() (*Connection, error) {
	if s.listener == nil {
		return nil, errors.New("server: Listen not called")
	}
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	if d, ok := s.listener.(deadliner); ok {
		_ = d.SetDeadline(time.Now())
	}
	raw, err := s.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	sock := newNetSocket(raw, s.cfg.TLSSecure)
	conn := newConnection(s, sock, raw.RemoteAddr().String())
	s.admit(conn)

	if conn.sock == nil {
		// admit evicted this same connection (e.g. MaxWaitingClients == 0):
		// it was the oldest entry in an empty queue, so it went straight
		// back out with a 408.
		return nil, nil
	}
	return conn, nil
}

// admit tracks conn in arrival order and, once over capacity, evicts the
// oldest tracked connection with a 408 — which is the one just accepted
// only when MaxWaitingClients is 0 and conn is the sole entry
// (SPEC_FULL.md §9 "the oldest waiting connection beyond
// max_waiting_clients gets a real 408 ... instead of a bare close",
// mirroring uhttp_server.py's `_accept`, which appends the new
// connection and pops the oldest off the front of its waiting list).
func (s *Server) admit(conn *Connection) {
	s.track(conn)
	conn.idleDeadline = s.cfg.Clock.Now().Add(s.cfg.KeepAliveTimeout)
	s.cfg.Logger.Event("accept", map[string]any{"addr": conn.addr})

	if len(s.order) > s.cfg.MaxWaitingClients {
		oldest := s.order[0]
		s.rejectOverflow(oldest)
	}
}

func (s *Server) track(conn *Connection) {
	s.conns[conn] = struct{}{}
	s.order = append(s.order, conn)
}

func (s *Server) untrack(conn *Connection) {
	if _, ok := s.conns[conn]; !ok {
		return
	}
	delete(s.conns, conn)
	for i, c := range s.order {
		if c == conn {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Server) rejectOverflow(conn *Connection) {
	conn.state = StateDispatch
	_ = conn.Respond(body.Data{}, 408, nil, nil)
	// Best-effort: give the 408 one chance to leave the send buffer
	// before closing. A client that can't accept it that fast just sees
	// a reset, same as if the OS backlog itself had dropped it.
	const maxAttempts = 8
	for i := 0; i < maxAttempts && conn.hasDataToSend(); i++ {
		conn.writeReady()
	}
	conn.close()
	s.untrack(conn)
	s.cfg.Logger.Event("admission_rejected", map[string]any{"addr": conn.addr})
}

// ReadReady notifies the server that conn's socket became readable. When
// a full request has been framed, the handler is invoked synchronously.
func (s *Server) ReadReady(conn *Connection) {
	req, err := conn.readReady()
	if err != nil {
		s.cfg.Logger.Event("read_error", map[string]any{"addr": conn.addr, "err": err.Error()})
	}
	s.dispatchIfReady(conn, req)
}

// WriteReady notifies the server that conn's socket became writable.
func (s *Server) WriteReady(conn *Connection) {
	conn.writeReady()
	if conn.sock == nil {
		s.untrack(conn)
		return
	}
	// A response finishing drains into idle/closing; pipelined data
	// already buffered can be dispatched without waiting on the socket
	// again (SPEC_FULL.md §9 "pending-write flush before pipelined
	// dispatch").
	if req := conn.tryAdvancePipeline(); req != nil {
		s.dispatchIfReady(conn, req)
	}
}

func (s *Server) dispatchIfReady(conn *Connection, req *parser.Request) {
	if req == nil {
		if conn.sock == nil {
			s.untrack(conn)
		}
		return
	}
	s.handler(conn, req)
	if conn.state == StateDispatch {
		// Handler failed to respond; treat as a server error.
		_ = conn.Respond(body.Data{}, 500, nil, nil)
	}
}

// Sweep closes connections that have been idle past their keep-alive
// deadline (SPEC_FULL.md §9 "idle-connection sweep").
func (s *Server) Sweep() {
	now := s.cfg.Clock.Now()
	for c := range s.conns {
		if c.isIdleTimedOut(now) {
			c.close()
			s.untrack(c)
		}
	}
}

// Conns returns the set of currently live connections, for building a
// readiness set to pass to an external multiplexer.
func (s *Server) Conns() []*Connection {
	out := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// ProcessEvents drives every connection whose socket appears in
// readable/writable, plus idle sweep and new-connection accept. It is
// the caller-driven half of spec §4.5's "engine consumes ready-socket
// sets supplied by caller" model: the caller owns the select/poll/epoll
// loop and calls this once per wakeup.
func (s *Server) ProcessEvents(readable, writable map[*Connection]bool) {
	for c := range s.conns {
		if writable[c] {
			s.WriteReady(c)
		}
	}
	for c := range s.conns {
		if readable[c] {
			s.ReadReady(c)
		}
	}
	s.Sweep()
	for {
		conn, err := s.AcceptOne()
		if err != nil || conn == nil {
			break
		}
	}
}

// Wait is a convenience blocking loop built on golang.org/x/sys/unix.Select
// over raw connection fds, for callers that don't already run their own
// multiplexer (spec §4.5's Non-goal scopes the *engine* away from owning
// select, but a bundled convenience driver is common in the teacher's own
// library — see DESIGN.md).
func (s *Server) Wait(timeout time.Duration) error {
	return waitSelect(s, timeout)
}

