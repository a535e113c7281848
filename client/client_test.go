package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/uhttpd/uhttp/body"
)

// fakeClientSocket is an in-memory Socket double mirroring
// server_test.go's fakeSocket: inbound bytes are fed ahead of time,
// ErrWouldBlock is returned once they're exhausted, matching a real
// non-blocking socket with nothing currently available to read (spec §7
// A5 "fake non-blocking net.Conn double").
type fakeClientSocket struct {
	in     []byte
	out    []byte
	closed bool
	secure bool
}

func (f *fakeClientSocket) Read(p []byte) (int, error) {
	if len(f.in) == 0 {
		return 0, ErrWouldBlock
	}
	n := copy(p, f.in)
	f.in = f.in[n:]
	return n, nil
}

func (f *fakeClientSocket) Write(p []byte) (int, error) {
	f.out = append(f.out, p...)
	return len(p), nil
}

func (f *fakeClientSocket) Close() error   { f.closed = true; return nil }
func (f *fakeClientSocket) IsSecure() bool { return f.secure }

// fakeDialer returns sock instead of opening a real connection,
// installed via WithDialer so Connection's own ProcessEvents can be
// driven end-to-end without a real socket.
func fakeDialer(sock *fakeClientSocket) Dialer {
	return func(host string, port int, timeout time.Duration) (Socket, error) {
		return sock, nil
	}
}

func TestConnection_SimpleGET_FakeSocket(t *testing.T) {
	sock := &fakeClientSocket{}
	c := New("example.com", 80, WithDialer(fakeDialer(sock)))

	if err := c.Get("/hello", RequestOptions{}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if !strings.HasPrefix(string(sock.out), "GET /hello HTTP/1.1\r\n") {
		t.Fatalf("unexpected request written: %q", sock.out)
	}

	sock.in = []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi")
	resp, err := c.ProcessEvents(true, false)
	if err != nil {
		t.Fatalf("ProcessEvents: %v", err)
	}
	if resp == nil {
		t.Fatalf("expected a completed response")
	}
	if resp.Status != 200 || string(resp.Data) != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !sock.closed {
		t.Fatalf("expected socket closed after Connection: close response")
	}
}

func TestConnection_DigestRetry_FakeSocket(t *testing.T) {
	sock := &fakeClientSocket{}
	c := New("example.com", 80, WithDialer(fakeDialer(sock)))

	opts := RequestOptions{Auth: &Credentials{Username: "bob", Password: "secret"}}
	if err := c.Get("/secure", opts); err != nil {
		t.Fatalf("request: %v", err)
	}

	challenge := `Digest realm="test", nonce="abc123", qop="auth"`
	sock.in = []byte(fmt.Sprintf(
		"HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: %s\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n",
		challenge))

	resp, err := c.ProcessEvents(true, false)
	if err != nil {
		t.Fatalf("ProcessEvents (401): %v", err)
	}
	if resp != nil {
		t.Fatalf("expected no response yet, retry should be in flight: %+v", resp)
	}

	retried := string(sock.out)
	if !strings.Contains(retried, `username="bob"`) {
		t.Fatalf("expected retried request to carry Authorization header, got %q", retried)
	}
	if !strings.Contains(strings.ToLower(retried), "authorization: digest") {
		t.Fatalf("expected Authorization: Digest header, got %q", retried)
	}

	sock.in = []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
	resp, err = c.ProcessEvents(true, false)
	if err != nil {
		t.Fatalf("ProcessEvents (final): %v", err)
	}
	if resp == nil || resp.Status != 200 {
		t.Fatalf("expected 200 after digest retry, got %+v", resp)
	}
}

func TestConnection_IdleTimeout_FakeSocket(t *testing.T) {
	sock := &fakeClientSocket{}
	clock := &fixedClientClock{t: time.Unix(0, 0)}
	c := New("example.com", 80, WithDialer(fakeDialer(sock)), WithIdleTimeout(time.Second))
	c.cfg.Clock = clock

	if err := c.Get("/slow", RequestOptions{}); err != nil {
		t.Fatalf("request: %v", err)
	}

	clock.t = clock.t.Add(2 * time.Second)
	_, err := c.ProcessEvents(true, false)
	if err == nil {
		t.Fatalf("expected ErrTimeout once idle deadline elapses")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected a timeout error, got %v", err)
	}
	if !sock.closed {
		t.Fatalf("expected socket closed after idle timeout")
	}
}

type fixedClientClock struct{ t time.Time }

func (c *fixedClientClock) Now() time.Time { return c.t }

func serveOnce(t *testing.T, ln net.Listener, respond func(req []string) string) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Errorf("accept: %v", err)
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	_, _ = conn.Write([]byte(respond(lines)))
}

func TestConnection_SimpleGET(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, ln, func(lines []string) string {
			if len(lines) == 0 || !strings.HasPrefix(lines[0], "GET /hello ") {
				t.Errorf("unexpected request line: %v", lines)
			}
			return "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi"
		})
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := New("127.0.0.1", addr.Port)
	if err := c.Get("/hello", RequestOptions{}); err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := c.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if resp == nil {
		t.Fatalf("expected a response before timeout")
	}
	if resp.Status != 200 || string(resp.Data) != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	<-done
}

func TestConnection_DigestRetry(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)

		readHeaders := func() []string {
			var lines []string
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return lines
				}
				line = strings.TrimRight(line, "\r\n")
				if line == "" {
					break
				}
				lines = append(lines, line)
			}
			return lines
		}

		_ = readHeaders()
		challenge := `Digest realm="test", nonce="abc123", qop="auth"`
		fmt.Fprintf(conn, "HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: %s\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n", challenge)

		lines2 := readHeaders()
		var authHeader string
		for _, l := range lines2 {
			if strings.HasPrefix(strings.ToLower(l), "authorization:") {
				authHeader = l
			}
		}
		if authHeader == "" {
			t.Errorf("expected Authorization header on retried request, got: %v", lines2)
		}
		if !strings.Contains(authHeader, `username="bob"`) {
			t.Errorf("unexpected Authorization header: %q", authHeader)
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := New("127.0.0.1", addr.Port)
	opts := RequestOptions{Auth: &Credentials{Username: "bob", Password: "secret"}}
	if err := c.Get("/secure", opts); err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := c.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if resp == nil {
		t.Fatalf("expected final response before timeout")
	}
	if resp.Status != 200 {
		t.Fatalf("expected 200 after digest retry, got %d", resp.Status)
	}
	<-done
}

func TestNewFromURL_JoinsBasePath(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, ln, func(lines []string) string {
			if len(lines) == 0 || !strings.HasPrefix(lines[0], "GET /api/hello ") {
				t.Errorf("unexpected request line: %v", lines)
			}
			return "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
		})
	}()

	c, err := NewFromURL(fmt.Sprintf("http://127.0.0.1:%d/api", addr.Port))
	if err != nil {
		t.Fatalf("NewFromURL: %v", err)
	}
	if err := c.Get("/hello", RequestOptions{}); err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := c.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if resp == nil || resp.Status != 200 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	<-done
}

func TestConnection_PostJSONBody(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		var contentLength int
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			if strings.HasPrefix(strings.ToLower(line), "content-length:") {
				fmt.Sscanf(strings.SplitN(line, ":", 2)[1], "%d", &contentLength)
			}
		}
		buf := make([]byte, contentLength)
		if _, err := r.Read(buf); err != nil && contentLength > 0 {
			t.Errorf("read body: %v", err)
		}
		if string(buf) != `{"n":1}` {
			t.Errorf("unexpected body: %q", buf)
		}
		conn.Write([]byte("HTTP/1.1 201 Created\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := New("127.0.0.1", addr.Port)
	if err := c.Post("/items", RequestOptions{Body: body.FromJSON(struct {
		N int `json:"n"`
	}{N: 1})}); err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := c.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if resp == nil || resp.Status != 201 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	<-done
}
