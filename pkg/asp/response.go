package asp

import (
	"net/http"
	"strings"
)

// Sink is the real response behind a Response. Write is asynchronous: the
// returned channel receives the outcome once the bytes have been accepted.
type Sink interface {
	Write(p []byte) <-chan error
	Header() http.Header
	Status() int
	SetStatus(code int)
	SetCookie(c *http.Cookie)
	Clear()
	Connected() bool
}

// UnsupportedResponseMembers lists the Response members that always fail.
var UnsupportedResponseMembers = []string{
	"BinaryWrite",
	"Buffer", "SetBuffer",
	"Flush",
	"CacheControl", "SetCacheControl",
	"Charset", "SetCharset",
	"Expires", "SetExpires",
	"ExpiresAbsolute", "SetExpiresAbsolute",
	"AppendToLog",
	"PICS",
}

// Response presents a Sink through the legacy Response object. Every method
// is synchronous from the script's point of view.
type Response struct {
	sink  Sink
	ended bool
}

// NewResponse wraps sink.
func NewResponse(sink Sink) *Response {
	return &Response{sink: sink}
}

// Write appends s to the body and waits until the sink has taken it.
func (r *Response) Write(s string) error {
	if r.ended {
		return ErrResponseEnded
	}
	if s == "" {
		return nil
	}
	return <-r.sink.Write([]byte(s))
}

// Redirect discards buffered output, sends a redirect to url and ends the
// response.
func (r *Response) Redirect(url string, permanent bool) error {
	if r.ended {
		return ErrResponseEnded
	}
	if url == "" {
		return invalidArgument("Response.Redirect: empty URL")
	}
	status := http.StatusFound
	if permanent {
		status = http.StatusMovedPermanently
	}
	r.sink.Clear()
	r.sink.Header().Set("Location", url)
	r.sink.SetStatus(status)
	r.ended = true
	return ErrResponseEnded
}

// AddHeader adds a response header. Names may not contain separators.
func (r *Response) AddHeader(name, value string) error {
	if name == "" || strings.ContainsAny(name, " :\r\n") || strings.ContainsAny(value, "\r\n") {
		return invalidArgument("Response.AddHeader: invalid header %q", name)
	}
	r.sink.Header().Add(name, value)
	return nil
}

// ContentType returns the Content-Type header, defaulting to text/html.
func (r *Response) ContentType() string {
	if ct := r.sink.Header().Get("Content-Type"); ct != "" {
		return ct
	}
	return "text/html"
}

// SetContentType sets the Content-Type header.
func (r *Response) SetContentType(ct string) {
	r.sink.Header().Set("Content-Type", ct)
}

// IsClientConnected reports whether the client is still waiting.
func (r *Response) IsClientConnected() bool {
	return r.sink.Connected()
}

func (r *Response) Status() int {
	return r.sink.Status()
}

func (r *Response) SetStatus(code int) error {
	if code < 100 || code > 999 {
		return invalidArgument("Response.Status: invalid status %d", code)
	}
	r.sink.SetStatus(code)
	return nil
}

// SetCookie sets a session cookie on the root path.
func (r *Response) SetCookie(name, value string) error {
	c := &http.Cookie{Name: name, Value: value, Path: "/"}
	if err := c.Valid(); err != nil {
		return invalidArgument("Response.Cookies: %v", err)
	}
	r.sink.SetCookie(c)
	return nil
}

// Clear discards buffered output.
func (r *Response) Clear() {
	r.sink.Clear()
}

// End stops the script and keeps the output written so far.
func (r *Response) End() error {
	r.ended = true
	return ErrResponseEnded
}

// Ended reports whether End or Redirect was called.
func (r *Response) Ended() bool {
	return r.ended
}

// Unsupported returns the error for a member listed in
// UnsupportedResponseMembers.
func (r *Response) Unsupported(member string) error {
	return &UnsupportedError{Object: "Response", Member: member}
}
