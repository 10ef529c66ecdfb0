package server

import (
	"bytes"
	"context"
	"net/http"
)

// sinkOp is one request to the sink's writer goroutine.
type sinkOp struct {
	data  []byte
	clear bool
	done  chan error
}

// asyncSink buffers one page response. The body buffer is owned by a writer
// goroutine; scripts reach it through asynchronous writes whose completion
// they wait for. Headers, status and cookies belong to the request goroutine.
type asyncSink struct {
	ctx     context.Context
	ops     chan sinkOp
	stopped chan struct{}
	buf     bytes.Buffer

	header  http.Header
	status  int
	cookies []*http.Cookie
}

func newAsyncSink(ctx context.Context) *asyncSink {
	s := &asyncSink{
		ctx:     ctx,
		ops:     make(chan sinkOp),
		stopped: make(chan struct{}),
		header:  http.Header{},
		status:  http.StatusOK,
	}
	go s.loop()
	return s
}

func (s *asyncSink) loop() {
	defer close(s.stopped)
	for op := range s.ops {
		if op.clear {
			s.buf.Reset()
		} else {
			s.buf.Write(op.data)
		}
		op.done <- nil
	}
}

// Write queues p and returns a channel that receives the outcome.
func (s *asyncSink) Write(p []byte) <-chan error {
	done := make(chan error, 1)
	if err := s.ctx.Err(); err != nil {
		done <- err
		return done
	}
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case s.ops <- sinkOp{data: data, done: done}:
	case <-s.ctx.Done():
		done <- s.ctx.Err()
	}
	return done
}

// Clear discards the buffered body.
func (s *asyncSink) Clear() {
	done := make(chan error, 1)
	s.ops <- sinkOp{clear: true, done: done}
	<-done
}

func (s *asyncSink) Header() http.Header      { return s.header }
func (s *asyncSink) Status() int              { return s.status }
func (s *asyncSink) SetStatus(code int)       { s.status = code }
func (s *asyncSink) SetCookie(c *http.Cookie) { s.cookies = append(s.cookies, c) }

// Connected reports whether the client is still waiting for the response.
func (s *asyncSink) Connected() bool {
	return s.ctx.Err() == nil
}

// close stops the writer goroutine. The sink accepts no more writes.
func (s *asyncSink) close() {
	close(s.ops)
	<-s.stopped
}

// commit sends status, headers, cookies and the buffered body to w. It must
// be called after close.
func (s *asyncSink) commit(w http.ResponseWriter) error {
	h := w.Header()
	for k, v := range s.header {
		h[k] = v
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "text/html; charset=utf-8")
	}
	for _, c := range s.cookies {
		http.SetCookie(w, c)
	}
	w.WriteHeader(s.status)
	_, err := w.Write(s.buf.Bytes())
	return err
}
