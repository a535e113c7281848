package wire

// StatusText is the known status-message table (spec §3, §6.1). Unknown
// codes fall back to "-".
var StatusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	410: "Gone",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
	505: "HTTP Version Not Supported",
	507: "Insufficient Storage",
}

// Status returns the known message for code, or "-" if unknown.
func Status(code int) string {
	if msg, ok := StatusText[code]; ok {
		return msg
	}
	return "-"
}

// ExtensionContentType maps a lowercased file extension (without the dot)
// to a MIME type for file-stream responses (spec §4.6).
var ExtensionContentType = map[string]string{
	"html": "text/html; charset=utf-8",
	"htm":  "text/html; charset=utf-8",
	"css":  "text/css; charset=utf-8",
	"js":   "application/javascript; charset=utf-8",
	"json": "application/json",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"svg":  "image/svg+xml",
	"txt":  "text/plain; charset=utf-8",
}

// ContentTypeOctetStream is the fallback content type for unrecognized
// extensions and raw byte payloads.
const ContentTypeOctetStream = "application/octet-stream"

// ContentTypeHTML is the default content type for a plain string body.
const ContentTypeHTML = "text/html; charset=utf-8"

// ContentTypeText is the content type for an empty body (spec §4.1:
// "none ⇒ empty text/plain").
const ContentTypeText = "text/plain; charset=utf-8"

// ContentTypeJSON is the content type used for JSON-encoded bodies.
const ContentTypeJSON = "application/json"

// ContentTypeForm is the content type recognized for automatic form
// decoding (spec supplement §9 of SPEC_FULL.md).
const ContentTypeForm = "application/x-www-form-urlencoded"
