package server

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/sambeau/sorrel/pkg/asp"
	"github.com/sambeau/sorrel/pkg/script"
)

// scriptHandler intercepts requests for pages and hands everything else to
// next.
type scriptHandler struct {
	server *Server
	site   *site
	next   http.Handler
}

func newScriptHandler(s *Server, next http.Handler) *scriptHandler {
	return &scriptHandler{
		server: s,
		site:   s.scriptSite(),
		next:   next,
	}
}

func (h *scriptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path

	// Security: reject paths with .. components (path traversal)
	if containsPathTraversal(urlPath) {
		h.server.logWarn("blocked path traversal attempt: %s", urlPath)
		http.Error(w, "400 Bad Request", http.StatusBadRequest)
		return
	}

	// Security: reject dotfiles and hidden directories
	if containsDotfile(urlPath) {
		h.server.logWarn("blocked dotfile access attempt: %s", urlPath)
		http.NotFound(w, r)
		return
	}

	// Security: include files hold page source
	if h.site.isDenied(urlPath) {
		h.server.logWarn("blocked include file access attempt: %s", urlPath)
		http.NotFound(w, r)
		return
	}

	file, dir, ok := h.site.lookup(urlPath)
	if !ok {
		h.next.ServeHTTP(w, r)
		return
	}
	if dir {
		target := urlPath + "/"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}

	h.servePage(w, r, file)
}

// servePage runs the page at file and writes its output, or the fault report
// when it failed.
func (h *scriptHandler) servePage(w http.ResponseWriter, r *http.Request, file string) {
	s := h.server

	session, err := s.sessions.Load(r)
	if err != nil {
		s.logError("loading session: %v", err)
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		return
	}

	app := s.app.Handle()
	defer app.Release()

	sink := newAsyncSink(r.Context())
	env := script.NewEnvironment()
	bindings := []struct {
		name  string
		value any
	}{
		{"Response", asp.NewResponse(sink)},
		{"Request", asp.NewRequest(r)},
		{"Session", session},
		{"Application", app},
		{"Server", asp.NewServerUtil(s.config.Scripts.Root, r.URL.Path)},
	}
	for _, b := range bindings {
		if err := env.Bind(b.name, b.value); err != nil {
			sink.close()
			s.logError("binding %s: %v", b.name, err)
			http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	unit := s.registry.Unit(file)
	_, faults := unit.Run(env, s.config.InstrumentedRuns())
	sink.close()

	if r.Context().Err() != nil {
		s.logInfo("client went away: %s", r.URL.Path)
		return
	}

	if len(faults) > 0 {
		for _, f := range faults {
			s.logError("%s: error %d (%s) at %s %s-%s", r.URL.Path, f.Code, f.Message, f.File, f.Span.Start, f.Span.End)
			if s.faultLog != nil {
				if err := s.faultLog.Record(r.URL.Path, f); err != nil {
					s.logWarn("recording fault: %v", err)
				}
			}
		}
		writeFaults(w, faults)
		return
	}

	if session.Dirty() {
		var err error
		if session.Abandoned() {
			err = s.sessions.Clear(w)
		} else {
			err = s.sessions.Save(w, session)
		}
		if err != nil {
			s.logError("saving session: %v", err)
		}
	}

	if err := sink.commit(w); err != nil {
		s.logWarn("writing response for %s: %v", r.URL.Path, err)
	}
}

// writeFaults replaces the response with the plain text fault report.
func writeFaults(w http.ResponseWriter, faults []script.RuntimeFault) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	h.Set(gzhttp.HeaderNoCompression, "1")
	w.WriteHeader(http.StatusInternalServerError)
	_ = script.WriteFaults(w, faults)
}
