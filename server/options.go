// Package server implements the HTTP server engine: the per-connection
// state machine (spec §4.4), the event-driven multiplexer and admission
// control (spec §4.5), and the response encoders (spec §4.6).
package server

import (
	"log"
	"time"

	"github.com/uhttpd/uhttp/codec"
	"github.com/uhttpd/uhttp/parser"
)

// Defaults from spec §6.2.
const (
	DefaultMaxWaitingClients    = 5
	DefaultKeepAliveTimeout     = 30 * time.Second
	DefaultKeepAliveMaxRequests = 100
	DefaultFileChunkSize        = 8 * 1024
	DefaultMultipartBoundary    = "frame"
)

// Clock is the injected monotonic time source (spec §6.3, §4.9).
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Logger receives structured lifecycle events. The default Config uses a
// no-op Logger.
type Logger interface {
	Event(kind string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Event(string, map[string]any) {}

// StdLogger returns a Logger backed by the standard library's log
// package, writing one line per event via the given *log.Logger.
func StdLogger(l *log.Logger) Logger { return stdLogger{l: l} }

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Event(kind string, fields map[string]any) {
	s.l.Printf("%s %v", kind, fields)
}

// Config holds the server's tunables (spec §6.2).
type Config struct {
	MaxWaitingClients    int
	KeepAliveTimeout     time.Duration
	KeepAliveMaxRequests int
	Limits               parser.Limits
	FileChunkSize        int
	MultipartBoundary    string
	Clock                Clock
	Logger               Logger
	TLSSecure            bool
	jsonCodec            codec.Codec
}

func defaultConfig() Config {
	return Config{
		MaxWaitingClients:    DefaultMaxWaitingClients,
		KeepAliveTimeout:     DefaultKeepAliveTimeout,
		KeepAliveMaxRequests: DefaultKeepAliveMaxRequests,
		Limits:               parser.DefaultLimits(),
		FileChunkSize:        DefaultFileChunkSize,
		MultipartBoundary:    DefaultMultipartBoundary,
		Clock:                realClock{},
		Logger:               noopLogger{},
	}
}

// Option configures a Server at construction time.
type Option func(*Config)

func WithMaxWaitingClients(n int) Option {
	return func(c *Config) { c.MaxWaitingClients = n }
}

func WithKeepAliveTimeout(d time.Duration) Option {
	return func(c *Config) { c.KeepAliveTimeout = d }
}

func WithKeepAliveMaxRequests(n int) Option {
	return func(c *Config) { c.KeepAliveMaxRequests = n }
}

func WithMaxHeadersLength(n int) Option {
	return func(c *Config) { c.Limits.MaxHeadersLength = n }
}

func WithMaxContentLength(n int) Option {
	return func(c *Config) { c.Limits.MaxContentLength = n }
}

func WithFileChunkSize(n int) Option {
	return func(c *Config) { c.FileChunkSize = n }
}

func WithClock(clk Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithSecure marks accepted connections as secure (is_secure=true), for
// callers that terminate TLS themselves and hand the engine an already
// wrapped Socket (spec §1: "the engine treats a secure stream as an
// opaque bidirectional byte channel plus a boolean is_secure flag").
func WithSecure() Option {
	return func(c *Config) { c.TLSSecure = true }
}

// WithJSONCodec overrides the default JSON codec used to encode
// JSON-tagged response bodies and multipart frames.
func WithJSONCodec(c codec.Codec) Option {
	return func(cfg *Config) { cfg.jsonCodec = c }
}
