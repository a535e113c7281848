package parser

import (
	"strings"

	"github.com/scott-ainsworth/go-ascii"

	"github.com/uhttpd/uhttp/wire"
)

// RequestPhase is the incremental parser's phase, per spec §4.2.
type RequestPhase uint8

const (
	PhaseRequestLine RequestPhase = iota
	PhaseHeaders
	PhaseBody
	PhaseComplete
)

// Request is the server-side request data model (spec §3). Once Loaded is
// true, Headers and Body are immutable.
type Request struct {
	Method        string
	RawURL        string
	Protocol      string
	Path          string
	Query         map[string]string
	Headers       *wire.Headers
	Cookies       wire.Cookies
	Body          []byte
	ContentLength int
	Loaded        bool
}

// RequestParser incrementally frames one HTTP request at a time from fed
// bytes, per spec §4.2. Feed bytes belonging to a pipelined follow-on
// request remain buffered for the next call after Reset.
type RequestParser struct {
	limits  Limits
	Lenient bool

	buf   []byte
	phase RequestPhase

	headerBytesSeen int
	rawContentLen   string
	smuggling       bool
	req             *Request
}

// NewRequestParser returns a parser ready to frame the first request.
func NewRequestParser(limits Limits) *RequestParser {
	p := &RequestParser{limits: limits}
	p.reset()
	return p
}

func (p *RequestParser) reset() {
	p.phase = PhaseRequestLine
	p.headerBytesSeen = 0
	p.rawContentLen = ""
	p.smuggling = false
	p.req = &Request{Headers: wire.NewHeaders()}
}

// Reset prepares the parser to frame the next pipelined request, keeping
// any bytes already buffered beyond the previous one.
func (p *RequestParser) Reset() {
	p.reset()
}

// Result returns the request built so far; valid to call once Feed has
// returned complete=true.
func (p *RequestParser) Result() *Request { return p.req }

// Buffered reports how many bytes are sitting in the internal buffer
// beyond what has been consumed — non-zero after Reset means a
// pipelined follow-on request (or part of one) is already available.
func (p *RequestParser) Buffered() int { return len(p.buf) }

// Feed appends data to the internal buffer and advances the state
// machine as far as possible. It returns complete=true exactly once per
// request, and stops advancing into a following pipelined request even
// if more bytes are already buffered — the caller re-invokes Feed (after
// Reset) to continue.
func (p *RequestParser) Feed(data []byte) (complete bool, err error) {
	if len(data) > 0 {
		p.buf = append(p.buf, data...)
	}

	for {
		switch p.phase {
		case PhaseRequestLine, PhaseHeaders:
			line, ok, lerr := p.nextLine()
			if lerr != nil {
				return false, lerr
			}
			if !ok {
				if p.headerBytesSeen+len(p.buf) >= p.limits.MaxHeadersLength {
					return false, statusErr(400, errHeadersTooLarge)
				}
				return false, nil
			}
			if perr := p.consumeLine(line); perr != nil {
				return false, perr
			}
			if p.phase == PhaseBody || p.phase == PhaseComplete {
				if perr := p.finishHeaders(); perr != nil {
					return false, perr
				}
				if p.phase == PhaseComplete {
					return true, nil
				}
			}
		case PhaseBody:
			if len(p.buf) < p.req.ContentLength {
				return false, nil
			}
			p.req.Body = append([]byte(nil), p.buf[:p.req.ContentLength]...)
			p.buf = p.buf[p.req.ContentLength:]
			p.phase = PhaseComplete
			p.finalize()
			return true, nil
		case PhaseComplete:
			// Already reported; new bytes stay buffered until Reset.
			return false, nil
		}
	}
}

// nextLine extracts one CRLF-terminated line (or bare-LF when Lenient),
// advancing p.buf past it. ok is false when more bytes are needed.
func (p *RequestParser) nextLine() (line []byte, ok bool, err error) {
	idx := indexByte(p.buf, '\n')
	if idx < 0 {
		return nil, false, nil
	}
	end := idx
	if idx > 0 && p.buf[idx-1] == '\r' {
		end = idx - 1
	} else if !p.Lenient {
		return nil, false, statusErr(400, errBareLineFeed)
	}
	line = p.buf[:end]
	consumed := idx + 1
	p.headerBytesSeen += consumed
	p.buf = p.buf[consumed:]
	return line, true, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func (p *RequestParser) consumeLine(line []byte) error {
	if p.req.Method == "" {
		return p.parseRequestLine(line)
	}
	if len(line) == 0 {
		p.phase = PhaseBody
		return nil
	}
	if line[0] == ' ' || line[0] == '\t' {
		return statusErr(400, errObsoleteFolding)
	}
	name, value, err := wire.SplitHeaderLine(string(line))
	if err != nil {
		return statusErr(400, errMalformedHeaderLine)
	}
	p.applyHeader(name, value)
	return nil
}

func (p *RequestParser) parseRequestLine(line []byte) error {
	s := string(line)
	parts := strings.SplitN(s, " ", 3)
	if len(parts) != 3 {
		return statusErr(400, errMalformedRequestLine)
	}
	method, rawURL, protocol := parts[0], parts[1], parts[2]
	if !knownMethods[method] {
		return statusErr(405, ErrUnsupportedMethod)
	}
	if !knownProtocols[protocol] {
		return statusErr(505, ErrUnsupportedProtocol)
	}
	if !asciiPrintable(rawURL) {
		return statusErr(400, errMalformedRequestLine)
	}
	p.req.Method = method
	p.req.RawURL = rawURL
	p.req.Protocol = protocol
	path, rawQuery, perr := wire.SplitURL(rawURL)
	if perr != nil {
		return statusErr(400, perr)
	}
	p.req.Path = path
	if rawQuery != "" {
		q, qerr := wire.ParseQuery(rawQuery, nil)
		if qerr != nil {
			return statusErr(400, qerr)
		}
		p.req.Query = q
	}
	return nil
}

func asciiPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		if !ascii.IsPrint(s[i]) {
			return false
		}
	}
	return true
}

func (p *RequestParser) applyHeader(name, value string) {
	switch name {
	case "content-length":
		if p.rawContentLen == "" {
			p.rawContentLen = value
		} else if p.rawContentLen != value {
			p.smuggling = true
		}
		p.req.Headers.Set(name, value)
	default:
		p.req.Headers.Set(name, value)
	}
}

func (p *RequestParser) finishHeaders() error {
	headers := p.req.Headers

	if p.req.Protocol == "HTTP/1.1" && !headers.Has("host") {
		return statusErr(400, ErrMissingHost)
	}

	if te := headers.Get("transfer-encoding"); te != "" {
		if !strings.EqualFold(strings.TrimSpace(te), "identity") {
			return statusErr(501, errBadTransferEncoding)
		}
	}

	if p.smuggling {
		return statusErr(400, errSmuggling)
	}

	contentLength := 0
	if p.rawContentLen != "" {
		n, err := wire.ParseContentLength(p.rawContentLen)
		if err != nil {
			return statusErr(400, errBadContentLength)
		}
		contentLength = n
	}
	if contentLength > p.limits.MaxContentLength {
		return statusErr(413, errBodyTooLarge)
	}
	p.req.ContentLength = contentLength

	if cookieHeader := headers.Get("cookie"); cookieHeader != "" {
		p.req.Cookies = wire.ParseCookieHeader(cookieHeader)
	}

	if contentLength == 0 {
		p.req.Body = nil
		p.phase = PhaseComplete
		p.finalize()
	} else {
		p.phase = PhaseBody
	}
	return nil
}

func (p *RequestParser) finalize() {
	p.req.Loaded = true
}
