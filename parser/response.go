package parser

import (
	"strconv"
	"strings"

	"github.com/uhttpd/uhttp/wire"
)

// ResponsePhase is the client-side incremental parser's phase, per
// spec §4.3.
type ResponsePhase uint8

const (
	RPhaseStatusLine ResponsePhase = iota
	RPhaseHeaders
	RPhaseBody
	RPhaseComplete
)

// Response is the client-side response data model (spec §3).
type Response struct {
	Status        int
	StatusMessage string
	Protocol      string
	Headers       *wire.Headers
	Body          []byte
	ContentLength int
	HasLength     bool
	Loaded        bool
}

// ResponseParser incrementally frames one HTTP response, per spec §4.3.
// The body is sized only by Content-Length: a response without that
// header completes with an empty body as soon as its headers end. A body
// that runs until the connection closes is not read, and a keep-alive
// response without Content-Length is not reported as an error.
type ResponseParser struct {
	limits ResponseLimits

	buf             []byte
	phase           ResponsePhase
	headerBytesSeen int
	resp            *Response
}

// NewResponseParser returns a parser ready to frame the first response.
func NewResponseParser(limits ResponseLimits) *ResponseParser {
	p := &ResponseParser{limits: limits}
	p.reset()
	return p
}

func (p *ResponseParser) reset() {
	p.phase = RPhaseStatusLine
	p.headerBytesSeen = 0
	p.resp = &Response{Headers: wire.NewHeaders()}
}

// Reset prepares the parser for the next response on a reused connection.
func (p *ResponseParser) Reset() { p.reset() }

// Result returns the response built so far.
func (p *ResponseParser) Result() *Response { return p.resp }

// Feed is the client-side mirror of RequestParser.Feed.
func (p *ResponseParser) Feed(data []byte) (complete bool, err error) {
	if len(data) > 0 {
		p.buf = append(p.buf, data...)
	}

	for {
		switch p.phase {
		case RPhaseStatusLine, RPhaseHeaders:
			line, ok, lerr := p.nextLine()
			if lerr != nil {
				return false, lerr
			}
			if !ok {
				if p.headerBytesSeen+len(p.buf) >= p.limits.MaxHeadersLength {
					return false, errHeadersTooLarge
				}
				return false, nil
			}
			if perr := p.consumeLine(line); perr != nil {
				return false, perr
			}
			if p.phase == RPhaseBody || p.phase == RPhaseComplete {
				if perr := p.finishHeaders(); perr != nil {
					return false, perr
				}
				if p.phase == RPhaseComplete {
					return true, nil
				}
			}
		case RPhaseBody:
			if len(p.buf) < p.resp.ContentLength {
				return false, nil
			}
			p.resp.Body = append([]byte(nil), p.buf[:p.resp.ContentLength]...)
			p.buf = p.buf[p.resp.ContentLength:]
			p.phase = RPhaseComplete
			p.resp.Loaded = true
			return true, nil
		case RPhaseComplete:
			// Already reported; new bytes stay buffered until Reset.
			return false, nil
		}
	}
}

func (p *ResponseParser) nextLine() (line []byte, ok bool, err error) {
	idx := indexByte(p.buf, '\n')
	if idx < 0 {
		return nil, false, nil
	}
	end := idx
	if idx > 0 && p.buf[idx-1] == '\r' {
		end = idx - 1
	}
	line = p.buf[:end]
	consumed := idx + 1
	p.headerBytesSeen += consumed
	p.buf = p.buf[consumed:]
	return line, true, nil
}

func (p *ResponseParser) consumeLine(line []byte) error {
	if p.resp.Protocol == "" {
		return p.parseStatusLine(line)
	}
	if len(line) == 0 {
		p.phase = RPhaseBody
		return nil
	}
	name, value, err := wire.SplitHeaderLine(string(line))
	if err != nil {
		return errMalformedHeaderLine
	}
	p.resp.Headers.Set(name, value)
	return nil
}

func (p *ResponseParser) parseStatusLine(line []byte) error {
	s := string(line)
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return errMalformedStatusLine
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return errMalformedStatusLine
	}
	p.resp.Protocol = parts[0]
	p.resp.Status = code
	if len(parts) == 3 {
		p.resp.StatusMessage = parts[2]
	}
	return nil
}

func (p *ResponseParser) finishHeaders() error {
	headers := p.resp.Headers
	if cl := headers.Get("content-length"); cl != "" {
		n, err := wire.ParseContentLength(cl)
		if err != nil {
			return errBadContentLength
		}
		p.resp.ContentLength = n
		p.resp.HasLength = true
	}
	if p.resp.ContentLength > p.limits.MaxBodyLength {
		return errBodyTooLarge
	}
	if p.resp.ContentLength == 0 {
		p.resp.Body = nil
		p.phase = RPhaseComplete
		p.resp.Loaded = true
	} else {
		p.phase = RPhaseBody
	}
	return nil
}
