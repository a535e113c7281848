package server

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/uhttpd/uhttp/body"
	"github.com/uhttpd/uhttp/parser"
	"github.com/uhttpd/uhttp/wire"
)

// State is the per-connection lifecycle phase, per spec §4.4.
type State uint8

const (
	StateReadHeaders State = iota
	StateReadBody
	StateDispatch
	StateWriting
	StateIdle
	StateClosing
)

// readChunkSize bounds how much each socket Read made by readReady may
// return (spec §4.5 "bounded chunk cap"); readReady keeps reading until
// the socket would block or a request completes.
const readChunkSize = 16 * 1024

// ErrResponseAlreadySent is returned by a second Respond*/RespondFile
// call for the same request.
var ErrResponseAlreadySent = errors.New("server: response already sent for this request")

// Connection is one accepted client connection: its inbound/outbound
// buffers, parser, and state machine (spec §3 "Connection (server)",
// §4.4).
type Connection struct {
	server *Server
	sock   Socket
	addr   string

	parser *parser.RequestParser
	out    []byte

	state State

	requestCount int
	idleDeadline time.Time

	responseStarted bool
	keepAliveNext   bool
	multipart       bool
	multipartBound  string

	fileHandle *os.File
	fileChunk  int

	closeRequested bool
}

func newConnection(srv *Server, sock Socket, addr string) *Connection {
	return &Connection{
		server: srv,
		sock:   sock,
		addr:   addr,
		parser: parser.NewRequestParser(srv.cfg.Limits),
		state:  StateReadHeaders,
		fileChunk: srv.cfg.FileChunkSize,
	}
}

// RemoteAddr returns the X-Forwarded-For entry when the current request
// carries one, else the peer address (SPEC_FULL.md §9 supplement).
func (c *Connection) RemoteAddr() string {
	if req := c.parser.Result(); req != nil && req.Headers != nil {
		if fwd := req.Headers.Get("x-forwarded-for"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	return c.addr
}

// IsSecure reports whether this connection's transport is TLS-terminated.
func (c *Connection) IsSecure() bool { return c.sock != nil && c.sock.IsSecure() }

// State returns the connection's current lifecycle phase.
func (c *Connection) State() State { return c.state }

// Request returns the request currently dispatched to the caller, or nil.
func (c *Connection) Request() *parser.Request {
	if c.state != StateDispatch && c.state != StateWriting {
		return nil
	}
	return c.parser.Result()
}

// Form lazily decodes the request body as application/x-www-form-urlencoded
// when Content-Type matches (SPEC_FULL.md §9 supplement).
func (c *Connection) Form() map[string]string {
	req := c.parser.Result()
	if req == nil {
		return nil
	}
	ct := req.Headers.Get("content-type")
	params := wire.SplitHeaderParameters(ct)
	if _, ok := params[wire.ContentTypeForm]; !ok {
		if params[""] != wire.ContentTypeForm {
			return nil
		}
	}
	form, _ := wire.ParseQuery(string(req.Body), nil)
	return form
}

func (c *Connection) hasDataToSend() bool {
	return len(c.out) > 0 || c.fileHandle != nil
}

// readReady is called by the server when this connection's socket is
// readable. It returns the completed request (nil if none yet).
func (c *Connection) readReady() (*parser.Request, error) {
	if c.socketGone() {
		return nil, nil
	}
	if c.multipart {
		return nil, nil
	}
	if c.state == StateDispatch {
		// Don't read ahead of an unanswered request (pipelining order).
		return nil, nil
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			complete, perr := c.parser.Feed(buf[:n])
			if perr != nil {
				c.handleParseError(perr)
				return nil, nil
			}
			if complete {
				c.requestCount++
				c.state = StateDispatch
				return c.parser.Result(), nil
			}
			c.state = StateReadHeaders
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil, nil
			}
			if errors.Is(err, io.EOF) {
				c.close()
				return nil, nil
			}
			c.close()
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
	}
}

func (c *Connection) handleParseError(err error) {
	status := 400
	var se *parser.StatusError
	if errors.As(err, &se) {
		status = se.Status
	}
	c.server.cfg.Logger.Event("parse_error", map[string]any{"addr": c.addr, "status": status, "err": err.Error()})
	c.closeRequested = true
	_ = c.Respond(body.FromString(err.Error()), status, wire.NewHeaders(), nil)
}

// writeReady is called by the server when this connection's socket is
// writable. It drains the outbound buffer and streams file chunks.
func (c *Connection) writeReady() {
	if c.socketGone() {
		return
	}
	c.fillFromFile()
	if len(c.out) == 0 {
		return
	}
	n, err := c.sock.Write(c.out)
	if n > 0 {
		c.out = c.out[n:]
	}
	if err != nil && !errors.Is(err, ErrWouldBlock) {
		c.close()
		return
	}
	if !c.hasDataToSend() {
		c.finalizeSentResponse()
	}
}

// fillFromFile tops up the outbound buffer with the next chunk read from
// an in-progress RespondFile stream.
func (c *Connection) fillFromFile() {
	if c.fileHandle == nil || len(c.out) >= c.fileChunk {
		return
	}
	chunk := make([]byte, c.fileChunk)
	n, err := c.fileHandle.Read(chunk)
	if n > 0 {
		c.out = append(c.out, chunk[:n]...)
	}
	if err != nil {
		_ = c.fileHandle.Close()
		c.fileHandle = nil
	}
}

func (c *Connection) socketGone() bool { return c.sock == nil }

func (c *Connection) send(data []byte) {
	c.out = append(c.out, data...)
}

func (c *Connection) finalizeSentResponse() {
	if c.multipart {
		return
	}
	if c.closeRequested || !c.keepAliveNext {
		c.close()
		return
	}
	c.resetForNextRequest()
}

func (c *Connection) resetForNextRequest() {
	c.parser.Reset()
	c.responseStarted = false
	c.keepAliveNext = false
	c.state = StateIdle
	c.idleDeadline = c.server.cfg.Clock.Now().Add(c.server.cfg.KeepAliveTimeout)
	if c.parser.Buffered() > 0 {
		c.state = StateReadHeaders
	}
}

// tryAdvancePipeline attempts to parse a request already sitting in the
// parser's buffer (pipelined ahead of the socket becoming readable
// again), per SPEC_FULL.md §9 pending-write / pipelined-dispatch
// supplement. Returns the completed request, if any.
func (c *Connection) tryAdvancePipeline() *parser.Request {
	if c.socketGone() || c.multipart {
		return nil
	}
	if c.state != StateReadHeaders && c.state != StateIdle {
		return nil
	}
	if c.parser.Buffered() == 0 {
		return nil
	}
	complete, err := c.parser.Feed(nil)
	if err != nil {
		c.handleParseError(err)
		return nil
	}
	if !complete {
		return nil
	}
	c.requestCount++
	c.state = StateDispatch
	return c.parser.Result()
}

func (c *Connection) isIdleTimedOut(now time.Time) bool {
	return c.state == StateIdle && !c.idleDeadline.IsZero() && now.After(c.idleDeadline)
}

func (c *Connection) close() {
	if c.fileHandle != nil {
		_ = c.fileHandle.Close()
		c.fileHandle = nil
	}
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.out = nil
	c.state = StateClosing
}
