package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/uhttpd/uhttp/body"
	"github.com/uhttpd/uhttp/parser"
	"github.com/uhttpd/uhttp/wire"
)

// Respond sends a plain response for the currently dispatched request
// (spec §4.6). It is an error to call it more than once per request, or
// after ResponseMultipartBegin.
func (c *Connection) Respond(data body.Data, status int, extra *wire.Headers, cookies wire.Cookies) error {
	if err := c.beginResponse(); err != nil {
		return err
	}
	return c.respondLocked(data, status, extra, cookies)
}

// respondLocked writes a plain response without re-checking
// beginResponse, for internal fallback paths (e.g. RespondFile's
// not-found case) that already own the single-response slot.
func (c *Connection) respondLocked(data body.Data, status int, extra *wire.Headers, cookies wire.Cookies) error {
	headers := wire.NewHeaders()
	headers.Merge(extra, true)

	payload, err := body.Encode(headers, data, c.server.cfg.jsonCodec)
	if err != nil {
		return err
	}
	headers.Set("content-length", strconv.Itoa(len(payload)))

	c.writeStatusAndHeaders(status, headers, cookies)
	c.send(payload)
	return nil
}

// RespondRedirect sends a 3xx redirect with a Location header (spec §4.6).
func (c *Connection) RespondRedirect(location string, status int, extra *wire.Headers) error {
	if err := c.beginResponse(); err != nil {
		return err
	}
	headers := wire.NewHeaders()
	headers.Merge(extra, true)
	headers.Set("location", location)
	headers.Set("content-length", "0")
	c.writeStatusAndHeaders(status, headers, nil)
	return nil
}

// RespondFile streams path to the client in FileChunkSize pieces, setting
// Content-Type from the file extension unless extra already sets one
// (spec §4.6 "file-stream encoder").
func (c *Connection) RespondFile(path string, extra *wire.Headers) error {
	if err := c.beginResponse(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return c.respondLocked(body.FromString("not found"), 404, wire.NewHeaders(), nil)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return c.respondLocked(body.FromString("not found"), 404, wire.NewHeaders(), nil)
	}

	headers := wire.NewHeaders()
	headers.Merge(extra, true)
	if !headers.Has("content-type") {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		ct, ok := wire.ExtensionContentType[ext]
		if !ok {
			ct = wire.ContentTypeOctetStream
		}
		headers.Set("content-type", ct)
	}
	headers.Set("content-length", strconv.FormatInt(info.Size(), 10))

	c.writeStatusAndHeaders(200, headers, nil)
	c.fileHandle = f
	return nil
}

// ResponseMultipartBegin starts a chunked multipart/x-mixed-replace style
// stream (spec §4.6): status/headers are sent immediately and the
// connection stays open for ResponseMultipartFrame calls until
// ResponseMultipartEnd, bypassing keep-alive reuse.
func (c *Connection) ResponseMultipartBegin(extra *wire.Headers) error {
	if err := c.beginResponse(); err != nil {
		return err
	}
	boundary := c.server.cfg.MultipartBoundary
	headers := wire.NewHeaders()
	headers.Merge(extra, true)
	headers.Set("content-type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
	c.closeRequested = true
	c.writeStatusAndHeaders(200, headers, nil)
	c.multipart = true
	c.multipartBound = boundary
	return nil
}

// ResponseMultipartFrame writes one frame of a stream started with
// ResponseMultipartBegin.
func (c *Connection) ResponseMultipartFrame(data body.Data, extra *wire.Headers) error {
	if !c.multipart {
		return fmt.Errorf("server: ResponseMultipartFrame called without an active multipart stream")
	}
	headers := wire.NewHeaders()
	headers.Merge(extra, true)
	payload, err := body.Encode(headers, data, c.server.cfg.jsonCodec)
	if err != nil {
		return err
	}
	headers.Set("content-length", strconv.Itoa(len(payload)))

	var b strings.Builder
	b.WriteString("--")
	b.WriteString(c.multipartBound)
	b.WriteString("\r\n")
	headers.Each(func(key, value string) {
		b.WriteString(canonicalHeaderName(key))
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})
	b.WriteString("\r\n")
	c.send([]byte(b.String()))
	c.send(payload)
	c.send([]byte("\r\n"))
	return nil
}

// ResponseMultipartEnd closes the multipart stream and the connection
// (multipart responses never reuse the connection).
func (c *Connection) ResponseMultipartEnd() {
	if !c.multipart {
		return
	}
	c.send([]byte("--" + c.multipartBound + "--\r\n"))
	c.multipart = false
	c.closeRequested = true
}

func (c *Connection) beginResponse() error {
	if c.responseStarted {
		return ErrResponseAlreadySent
	}
	c.responseStarted = true
	return nil
}

func (c *Connection) writeStatusAndHeaders(status int, headers *wire.Headers, cookies wire.Cookies) {
	req := c.parser.Result()
	protocol := "HTTP/1.1"
	if req != nil && req.Protocol != "" {
		protocol = req.Protocol
	}

	c.keepAliveNext = c.shouldKeepAlive(req)
	if !c.keepAliveNext {
		headers.Set("connection", "close")
	} else {
		headers.Set("connection", "keep-alive")
	}

	for name, value := range cookies {
		headers.Add("set-cookie", name+"="+value)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\r\n", protocol, status, wire.Status(status))
	headers.Each(func(key, value string) {
		b.WriteString(canonicalHeaderName(key))
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})
	b.WriteString("\r\n")
	c.send([]byte(b.String()))
	c.state = StateWriting
}

// shouldKeepAlive implements spec §4.4's keep-alive decision: HTTP/1.1
// defaults to keep-alive unless the client (or server) asked to close, or
// the per-connection request budget is exhausted.
func (c *Connection) shouldKeepAlive(req *parser.Request) bool {
	if c.closeRequested {
		return false
	}
	if c.requestCount >= c.server.cfg.KeepAliveMaxRequests {
		return false
	}
	if req == nil {
		return false
	}
	conn := strings.ToLower(req.Headers.Get("connection"))
	switch req.Protocol {
	case "HTTP/1.1":
		return conn != "close"
	case "HTTP/1.0":
		return conn == "keep-alive"
	default:
		return false
	}
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
