package parser

import (
	"errors"
	"testing"
)

// feedInChunks drives p.Feed with data split into chunkSize pieces,
// mirroring the teacher's tests/utils.go FeedParser helper.
func feedInChunks(t *testing.T, p *RequestParser, data []byte, chunkSize int) (bool, error) {
	t.Helper()
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		complete, err := p.Feed(data[i:end])
		if err != nil {
			return complete, err
		}
		if complete {
			return true, nil
		}
	}
	return false, nil
}

func TestRequestParser_SimpleGET(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("GET /hi HTTP/1.1\r\nHost: h\r\n\r\n")

	complete, err := feedInChunks(t, p, raw, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !complete {
		t.Fatalf("expected request to complete")
	}

	req := p.Result()
	if req.Method != "GET" || req.Path != "/hi" || req.Protocol != "HTTP/1.1" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if !req.Loaded {
		t.Fatalf("expected Loaded = true")
	}
	if len(req.Body) != req.ContentLength {
		t.Fatalf("invariant violated: len(body)=%d contentLength=%d", len(req.Body), req.ContentLength)
	}
}

func TestRequestParser_Pipelining(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("POST /a HTTP/1.1\r\nHost: h\r\nContent-Length: 3\r\n\r\nabcGET /b HTTP/1.1\r\nHost: h\r\n\r\n")

	complete, err := p.Feed(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !complete {
		t.Fatalf("expected first request to complete")
	}
	first := p.Result()
	if first.Method != "POST" || string(first.Body) != "abc" {
		t.Fatalf("unexpected first request: %+v body=%q", first, first.Body)
	}

	p.Reset()
	complete, err = p.Feed(nil)
	if err != nil {
		t.Fatalf("unexpected error on second request: %v", err)
	}
	if !complete {
		t.Fatalf("expected second (pipelined) request to complete from buffered bytes")
	}
	second := p.Result()
	if second.Method != "GET" || second.Path != "/b" || len(second.Body) != 0 {
		t.Fatalf("unexpected second request: %+v", second)
	}
}

func TestRequestParser_DuplicateConflictingContentLength(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("POST /a HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n")

	_, err := p.Feed(raw)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 400 {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
}

func TestRequestParser_DuplicateIdenticalContentLengthAllowed(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("POST /a HTTP/1.1\r\nHost: h\r\nContent-Length: 3\r\nContent-Length: 3\r\n\r\nabc")

	complete, err := p.Feed(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !complete || string(p.Result().Body) != "abc" {
		t.Fatalf("expected completed request with body abc, got %+v", p.Result())
	}
}

func TestRequestParser_TransferEncodingRejected(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("POST /a HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n")

	_, err := p.Feed(raw)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 501 {
		t.Fatalf("expected 501 StatusError, got %v", err)
	}
}

func TestRequestParser_MissingHostOnHTTP11(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("GET / HTTP/1.1\r\n\r\n")

	_, err := p.Feed(raw)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 400 {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
}

func TestRequestParser_UnknownMethod(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("FOO / HTTP/1.1\r\nHost: h\r\n\r\n")

	_, err := p.Feed(raw)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 405 {
		t.Fatalf("expected 405 StatusError, got %v", err)
	}
}

func TestRequestParser_UnknownProtocol(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("GET / HTTP/2.0\r\nHost: h\r\n\r\n")

	_, err := p.Feed(raw)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 505 {
		t.Fatalf("expected 505 StatusError, got %v", err)
	}
}

func TestRequestParser_QueryLastWins(t *testing.T) {
	p := NewRequestParser(DefaultLimits())
	raw := []byte("GET /search?a=1&b=2&a=3 HTTP/1.1\r\nHost: h\r\n\r\n")

	complete, err := p.Feed(raw)
	if err != nil || !complete {
		t.Fatalf("expected completion, err=%v", err)
	}
	q := p.Result().Query
	if q["a"] != "3" || q["b"] != "2" {
		t.Fatalf("unexpected query: %+v", q)
	}
}
