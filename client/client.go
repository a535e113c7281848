// Package client implements the uhttp HTTP/1.1 client: a single
// keep-alive connection per Connection value, driven either by the
// caller's own readiness loop (ProcessEvents) or by the bundled
// select-based convenience Wait (spec §4.7).
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/uhttpd/uhttp/body"
	"github.com/uhttpd/uhttp/codec"
	"github.com/uhttpd/uhttp/parser"
	"github.com/uhttpd/uhttp/wire"
)

// State is the client connection's lifecycle phase (spec §4.7).
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateSending
	StateAwaitHeaders
	StateAwaitBody
	StateComplete
)

// Defaults (spec §6.2).
const (
	DefaultConnectTimeout        = 10 * time.Second
	DefaultIdleTimeout           = 30 * time.Second
	DefaultMaxResponseHeaders    = parser.DefaultMaxResponseHeadersLength
	DefaultMaxResponseBodyLength = parser.DefaultMaxResponseLength
)

var (
	// ErrRequestInProgress is returned by Request when the connection is
	// not idle.
	ErrRequestInProgress = errors.New("client: request already in progress")
	// ErrNoRequestInProgress is returned by Wait when called before Request.
	ErrNoRequestInProgress = errors.New("client: no request in progress")
	// ErrConnectionLost is returned when the peer closes before a
	// response completes (spec §7 error taxonomy).
	ErrConnectionLost = errors.New("client: connection closed by server")
	// ErrTimeout is returned when a dial or an idle in-flight request
	// exceeds its configured deadline (spec §7 error taxonomy).
	ErrTimeout = errors.New("client: operation timed out")
	// ErrAuthFailed is returned when a digest-auth retry is itself
	// challenged again, meaning the supplied credentials were rejected
	// (spec §7 error taxonomy).
	ErrAuthFailed = errors.New("client: digest authentication failed")
)

// Clock is the injected time source used for connect/idle deadlines.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds per-client tunables (spec §6.2).
type Config struct {
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	Limits         parser.ResponseLimits
	Clock          Clock
	Dialer         Dialer
	jsonCodec      codec.Codec
}

func defaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		Limits:         parser.DefaultResponseLimits(),
		Clock:          realClock{},
		Dialer:         dialTCP,
		jsonCodec:      codec.Default,
	}
}

// Option configures a Connection at construction time.
type Option func(*Config)

func WithConnectTimeout(d time.Duration) Option { return func(c *Config) { c.ConnectTimeout = d } }
func WithIdleTimeout(d time.Duration) Option    { return func(c *Config) { c.IdleTimeout = d } }
func WithMaxResponseHeaders(n int) Option {
	return func(c *Config) { c.Limits.MaxHeadersLength = n }
}
func WithMaxResponseLength(n int) Option { return func(c *Config) { c.Limits.MaxBodyLength = n } }
func WithJSONCodec(codec codec.Codec) Option {
	return func(c *Config) { c.jsonCodec = codec }
}

// WithDialer overrides how Connection opens its socket, letting a caller
// hand the engine an already TLS-terminated stream instead of the
// default plain-TCP dialer (spec §1 "TLS provider is external").
func WithDialer(d Dialer) Option { return func(c *Config) { c.Dialer = d } }

// RequestOptions carries the optional parts of a request (spec §4.7).
type RequestOptions struct {
	Headers *wire.Headers
	Query   map[string]string
	Body    body.Data
	// Auth, when set, enables automatic digest-auth retry on a 401
	// challenge (spec §4.8).
	Auth *Credentials
}

// Connection is one HTTP/1.1 client connection to a single host:port
// (spec §3 "Connection (client)"). It is not safe for concurrent use.
type Connection struct {
	cfg      Config
	host     string
	port     int
	secure   bool
	basePath string

	sock Socket

	state   State
	sendBuf []byte
	parser  *parser.ResponseParser

	cookies wire.Cookies

	method, path  string
	reqHeaders    *wire.Headers
	reqBody       body.Data
	reqQuery      map[string]string
	auth          *Credentials
	digestState   *digestChallenge
	digestRetried bool

	idleDeadline time.Time
}

// New returns a Connection targeting host:port. No network I/O happens
// until Request is called.
func New(host string, port int, opts ...Option) *Connection {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Connection{
		cfg:     cfg,
		host:    host,
		port:    port,
		state:   StateIdle,
		cookies: make(wire.Cookies),
	}
}

// NewFromURL parses a "http[s]://host[:port][/base]" target and returns
// a Connection, with any base path joined onto every subsequent
// request's path via wire.JoinPath. Userinfo in the URL (user:pass@) is
// ignored; pass digest credentials via RequestOptions.Auth instead.
func NewFromURL(rawURL string, opts ...Option) (*Connection, error) {
	parsed, err := wire.ParseClientURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	c := New(parsed.Host, parsed.Port, opts...)
	c.secure = parsed.Secure
	c.basePath = parsed.Path
	return c, nil
}

// Secure reports whether the connection's socket is TLS-terminated. The
// default Dialer only ever dials plain TCP; a caller wanting HTTPS
// supplies a TLS-aware Dialer via WithDialer (spec §1 "TLS provider is
// external").
func (c *Connection) Secure() bool { return c.secure }

// IsConnected reports whether the underlying socket is open.
func (c *Connection) IsConnected() bool { return c.sock != nil }

// State returns the connection's current lifecycle phase.
func (c *Connection) State() State { return c.state }

// Cookies returns the cookie jar accumulated from Set-Cookie responses.
func (c *Connection) Cookies() wire.Cookies { return c.cookies }

// Close tears down the socket and returns the connection to idle.
func (c *Connection) Close() error {
	var err error
	if c.sock != nil {
		err = c.sock.Close()
		c.sock = nil
	}
	c.state = StateIdle
	c.sendBuf = nil
	return err
}

// Get starts a GET request. See Request.
func (c *Connection) Get(path string, opts RequestOptions) error { return c.Request("GET", path, opts) }

// Post starts a POST request. See Request.
func (c *Connection) Post(path string, opts RequestOptions) error {
	return c.Request("POST", path, opts)
}

// Put starts a PUT request. See Request.
func (c *Connection) Put(path string, opts RequestOptions) error { return c.Request("PUT", path, opts) }

// Delete starts a DELETE request. See Request.
func (c *Connection) Delete(path string, opts RequestOptions) error {
	return c.Request("DELETE", path, opts)
}

// Patch starts a PATCH request. See Request.
func (c *Connection) Patch(path string, opts RequestOptions) error {
	return c.Request("PATCH", path, opts)
}

// Head starts a HEAD request. See Request.
func (c *Connection) Head(path string, opts RequestOptions) error {
	return c.Request("HEAD", path, opts)
}

// Request starts an HTTP request asynchronously (spec §4.7): it dials if
// not already connected, builds the wire request, and begins sending.
// The caller drives completion via ProcessEvents or Wait.
func (c *Connection) Request(method, path string, opts RequestOptions) error {
	if c.state != StateIdle {
		return ErrRequestInProgress
	}

	c.method = method
	c.path = wire.JoinPath(c.basePath, path)
	c.reqHeaders = opts.Headers
	c.reqBody = opts.Body
	c.reqQuery = opts.Query
	c.auth = opts.Auth
	c.digestRetried = false

	if !c.IsConnected() {
		if err := c.connect(); err != nil {
			return err
		}
	}

	return c.buildAndSend(opts.Query)
}

func (c *Connection) connect() error {
	sock, err := c.cfg.Dialer(c.host, c.port, c.cfg.ConnectTimeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("client: connect failed: %w", ErrTimeout)
		}
		return fmt.Errorf("client: connect failed: %w", err)
	}
	c.sock = sock
	c.secure = sock.IsSecure()
	c.parser = parser.NewResponseParser(c.cfg.Limits)
	return nil
}

func (c *Connection) buildAndSend(query map[string]string) error {
	headers := wire.NewHeaders()
	headers.Merge(c.reqHeaders, true)

	payload, err := body.Encode(headers, c.reqBody, c.cfg.jsonCodec)
	if err != nil {
		return err
	}

	if !headers.Has("host") {
		if c.port == 80 && !c.secure {
			headers.Set("host", c.host)
		} else {
			headers.Set("host", fmt.Sprintf("%s:%d", c.host, c.port))
		}
	}
	if !headers.Has("user-agent") {
		headers.Set("user-agent", "uhttp-client/1.0")
	}
	if len(payload) > 0 {
		headers.Set("content-length", strconv.Itoa(len(payload)))
	}
	if len(c.cookies) > 0 {
		var parts []string
		for k, v := range c.cookies {
			parts = append(parts, k+"="+v)
		}
		headers.Set("cookie", strings.Join(parts, "; "))
	}
	if c.digestState != nil && c.auth != nil {
		headers.Set("authorization", c.digestState.authorizationHeader(c.auth, c.method, c.path))
	}

	fullPath := c.path + encodeQuery(query)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", c.method, fullPath)
	headers.Each(func(key, value string) {
		b.WriteString(canonicalHeaderName(key))
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})
	b.WriteString("\r\n")

	c.sendBuf = append([]byte(b.String()), payload...)
	c.state = StateSending
	c.idleDeadline = c.cfg.Clock.Now().Add(c.cfg.IdleTimeout)
	return c.trySend()
}

func (c *Connection) trySend() error {
	for len(c.sendBuf) > 0 {
		n, err := c.sock.Write(c.sendBuf)
		if n > 0 {
			c.sendBuf = c.sendBuf[n:]
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil
			}
			_ = c.Close()
			return fmt.Errorf("client: send failed: %w", err)
		}
	}
	c.state = StateAwaitHeaders
	return nil
}

func (c *Connection) tryRecv() (*Response, error) {
	buf := make([]byte, 8*1024)
	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			complete, perr := c.parser.Feed(buf[:n])
			if perr != nil {
				_ = c.Close()
				return nil, perr
			}
			if complete {
				return c.finalize()
			}
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil, nil
			}
			_ = c.Close()
			if errors.Is(err, io.EOF) {
				return nil, ErrConnectionLost
			}
			return nil, fmt.Errorf("client: recv failed: %w", err)
		}
		if n == 0 {
			_ = c.Close()
			return nil, ErrConnectionLost
		}
	}
}

func (c *Connection) finalize() (*Response, error) {
	raw := c.parser.Result()
	c.parseCookies(raw.Headers)

	resp := &Response{
		Status:        raw.Status,
		StatusMessage: raw.StatusMessage,
		Headers:       raw.Headers,
		Data:          raw.Body,
		codec:         c.cfg.jsonCodec,
	}

	if resp.Status == 401 && c.auth != nil {
		if c.digestRetried {
			_ = c.Close()
			return nil, fmt.Errorf("client: %w", ErrAuthFailed)
		}
		if challenge := parseDigestChallenge(raw.Headers.Get("www-authenticate")); challenge != nil {
			c.digestState = challenge
			c.digestRetried = true
			c.parser.Reset()
			c.state = StateIdle
			if err := c.buildAndSend(c.reqQuery); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	if !c.shouldKeepAlive(raw.Headers) {
		_ = c.Close()
	} else {
		c.state = StateIdle
		c.parser.Reset()
	}
	return resp, nil
}

func (c *Connection) shouldKeepAlive(h *wire.Headers) bool {
	conn := strings.ToLower(h.Get("connection"))
	return conn != "close"
}

func (c *Connection) parseCookies(h *wire.Headers) {
	for _, v := range h.Values("set-cookie") {
		parts := strings.SplitN(v, ";", 2)
		kv := strings.SplitN(parts[0], "=", 2)
		if len(kv) == 2 {
			c.cookies[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
}

// ProcessEvents advances the state machine when the caller's own
// multiplexer reports the connection's socket as readable/writable
// (spec §4.7 "engine consumes ready-socket sets supplied by caller").
// It returns a non-nil Response exactly once per completed request.
func (c *Connection) ProcessEvents(readable, writable bool) (*Response, error) {
	if c.state == StateIdle {
		return nil, nil
	}
	if !c.idleDeadline.IsZero() && c.cfg.Clock.Now().After(c.idleDeadline) {
		_ = c.Close()
		return nil, ErrTimeout
	}
	if writable && c.state == StateSending {
		if err := c.trySend(); err != nil {
			return nil, err
		}
	}
	if readable && (c.state == StateAwaitHeaders || c.state == StateAwaitBody) {
		return c.tryRecv()
	}
	return nil, nil
}

// Wait blocks (via select(2)) until the in-flight request completes or
// timeout elapses, returning nil on timeout (spec §4.7 convenience
// driver, mirrored from the teacher's bundled blocking helper).
func (c *Connection) Wait(timeout time.Duration) (*Response, error) {
	if c.state == StateIdle {
		return nil, ErrNoRequestInProgress
	}
	return waitSelect(c, timeout)
}

func encodeQuery(q map[string]string) string {
	if len(q) == 0 {
		return ""
	}
	parts := make([]string, 0, len(q))
	for k, v := range q {
		if v == "" {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, k+"="+v)
	}
	return "?" + strings.Join(parts, "&")
}

func canonicalHeaderName(lower string) string {
	parts := strings.Split(lower, "-")
	for i, p := range parts {
		if len(p) == 0 {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}
