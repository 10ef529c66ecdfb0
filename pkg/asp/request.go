package asp

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Request exposes the incoming HTTP request through the legacy Request
// object. Lookups of absent names return "".
type Request struct {
	r      *http.Request
	parsed bool
}

// NewRequest wraps r.
func NewRequest(r *http.Request) *Request {
	return &Request{r: r}
}

// QueryString returns the first query parameter called name.
func (q *Request) QueryString(name string) string {
	return q.r.URL.Query().Get(name)
}

// Form returns the first body field called name.
func (q *Request) Form(name string) string {
	if !q.parsed {
		q.parsed = true
		// a malformed body leaves the form empty
		_ = q.r.ParseForm()
	}
	return q.r.PostForm.Get(name)
}

// Cookies returns the value of the cookie called name.
func (q *Request) Cookies(name string) string {
	c, err := q.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (q *Request) Method() string { return q.r.Method }

func (q *Request) Path() string { return q.r.URL.Path }

// ServerVariables returns a CGI-style variable. HTTP_* names map to request
// headers.
func (q *Request) ServerVariables(name string) string {
	r := q.r
	switch name = strings.ToUpper(name); name {
	case "REQUEST_METHOD":
		return r.Method
	case "PATH_INFO", "SCRIPT_NAME", "URL":
		return r.URL.Path
	case "QUERY_STRING":
		return r.URL.RawQuery
	case "REMOTE_ADDR", "REMOTE_HOST":
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	case "SERVER_NAME":
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			return r.Host
		}
		return host
	case "SERVER_PORT":
		if _, port, err := net.SplitHostPort(r.Host); err == nil {
			return port
		}
		if r.TLS != nil {
			return "443"
		}
		return "80"
	case "SERVER_PROTOCOL":
		return r.Proto
	case "HTTPS":
		if r.TLS != nil {
			return "on"
		}
		return "off"
	case "CONTENT_TYPE":
		return r.Header.Get("Content-Type")
	case "CONTENT_LENGTH":
		if r.ContentLength < 0 {
			return ""
		}
		return strconv.FormatInt(r.ContentLength, 10)
	case "HTTP_HOST":
		return r.Host
	}
	if h, ok := strings.CutPrefix(name, "HTTP_"); ok {
		return r.Header.Get(strings.ReplaceAll(h, "_", "-"))
	}
	return ""
}
