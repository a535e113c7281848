package wire

import (
	"errors"
	"strconv"
	"strings"
)

// ParsedURL is the result of parsing a client-side target URL of the form
// scheme://[user:pass@]host[:port][/path].
type ParsedURL struct {
	Host     string
	Port     int
	Path     string
	Secure   bool
	User     string
	Password string
	HasAuth  bool
}

var errInvalidURL = errors.New("wire: invalid url")

// ParseClientURL parses a client-side target URL. An absent scheme
// defaults to "http". Default ports are 80/443. IPv6 literals must be
// bracketed. Anything beyond the authority is returned verbatim as Path
// (used as the client's base path).
func ParseClientURL(raw string) (ParsedURL, error) {
	var p ParsedURL
	rest := raw
	secure := false

	if idx := strings.Index(rest, "://"); idx >= 0 {
		scheme := strings.ToLower(rest[:idx])
		switch scheme {
		case "http":
			secure = false
		case "https":
			secure = true
		default:
			return p, errInvalidURL
		}
		rest = rest[idx+3:]
	}
	p.Secure = secure

	authority := rest
	path := ""
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		authority, path = rest[:idx], rest[idx:]
	}

	if idx := strings.LastIndexByte(authority, '@'); idx >= 0 {
		userinfo := authority[:idx]
		authority = authority[idx+1:]
		if c := strings.IndexByte(userinfo, ':'); c >= 0 {
			p.User, p.Password = userinfo[:c], userinfo[c+1:]
		} else {
			p.User = userinfo
		}
		p.HasAuth = true
	}

	host, port, err := splitHostPort(authority, secure)
	if err != nil {
		return p, err
	}
	p.Host = host
	p.Port = port
	p.Path = path
	return p, nil
}

func splitHostPort(authority string, secure bool) (host string, port int, err error) {
	defaultPort := 80
	if secure {
		defaultPort = 443
	}
	if authority == "" {
		return "", 0, errInvalidURL
	}
	if authority[0] == '[' {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", 0, errInvalidURL
		}
		host = authority[:end+1]
		remainder := authority[end+1:]
		if remainder == "" {
			return host, defaultPort, nil
		}
		if remainder[0] != ':' {
			return "", 0, errInvalidURL
		}
		n, err := strconv.Atoi(remainder[1:])
		if err != nil {
			return "", 0, errInvalidURL
		}
		return host, n, nil
	}
	if idx := strings.LastIndexByte(authority, ':'); idx >= 0 {
		n, err := strconv.Atoi(authority[idx+1:])
		if err != nil {
			return "", 0, errInvalidURL
		}
		return authority[:idx], n, nil
	}
	return authority, defaultPort, nil
}

// JoinPath joins a client base path and a request path with exactly one
// '/' between them.
func JoinPath(base, path string) string {
	if base == "" {
		if path == "" {
			return "/"
		}
		return path
	}
	base = strings.TrimSuffix(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
