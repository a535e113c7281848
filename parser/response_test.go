package parser

import "testing"

func TestResponseParser_Basic(t *testing.T) {
	p := NewResponseParser(DefaultResponseLimits())
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: 9\r\n\r\n<p>hi</p>")

	complete, err := p.Feed(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !complete {
		t.Fatalf("expected response to complete")
	}
	resp := p.Result()
	if resp.Status != 200 || resp.StatusMessage != "OK" {
		t.Fatalf("unexpected status: %+v", resp)
	}
	if string(resp.Body) != "<p>hi</p>" {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
}

func TestResponseParser_NoBody(t *testing.T) {
	p := NewResponseParser(DefaultResponseLimits())
	raw := []byte("HTTP/1.1 204 No Content\r\n\r\n")

	complete, err := p.Feed(raw)
	if err != nil || !complete {
		t.Fatalf("expected completion, err=%v", err)
	}
	if len(p.Result().Body) != 0 {
		t.Fatalf("expected empty body")
	}
}

func TestResponseParser_PartialFeed(t *testing.T) {
	p := NewResponseParser(DefaultResponseLimits())
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")

	for i := 0; i < len(raw)-1; i++ {
		complete, err := p.Feed(raw[i : i+1])
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		if complete {
			t.Fatalf("should not complete before all bytes fed (at byte %d)", i)
		}
	}
	complete, err := p.Feed(raw[len(raw)-1:])
	if err != nil || !complete {
		t.Fatalf("expected completion on final byte, err=%v", err)
	}
}
