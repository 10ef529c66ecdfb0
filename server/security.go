package server

import (
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/sambeau/sorrel/config"
)

// securityHeaders adds the configured security headers to every response.
type securityHeaders struct {
	handler http.Handler
	cfg     config.SecurityConfig
	devMode bool
}

func newSecurityHeaders(handler http.Handler, cfg config.SecurityConfig, devMode bool) http.Handler {
	return &securityHeaders{handler: handler, cfg: cfg, devMode: devMode}
}

func (s *securityHeaders) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()

	// Pages are compiled once per process; make browsers ask again in dev
	if s.devMode {
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}

	if !s.devMode && s.cfg.HSTS.Enabled {
		hsts := "max-age=" + s.cfg.HSTS.MaxAge
		if s.cfg.HSTS.IncludeSubDomains {
			hsts += "; includeSubDomains"
		}
		h.Set("Strict-Transport-Security", hsts)
	}

	for name, value := range map[string]string{
		"X-Content-Type-Options":  s.cfg.ContentTypeOptions,
		"X-Frame-Options":         s.cfg.FrameOptions,
		"Referrer-Policy":         s.cfg.ReferrerPolicy,
		"Content-Security-Policy": s.cfg.CSP,
	} {
		if value != "" {
			h.Set(name, value)
		}
	}

	s.handler.ServeHTTP(w, r)
}

// proxyAware replaces RemoteAddr with the client address reported by a
// trusted reverse proxy, so logs and Request.ServerVariables see the client.
type proxyAware struct {
	handler    http.Handler
	trustedIPs []string
}

func newProxyAware(handler http.Handler, cfg config.ProxyConfig) http.Handler {
	if !cfg.Trusted {
		return handler
	}
	return &proxyAware{handler: handler, trustedIPs: cfg.TrustedIPs}
}

func (p *proxyAware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(p.trustedIPs) > 0 && !slices.Contains(p.trustedIPs, extractIP(r.RemoteAddr)) {
		p.handler.ServeHTTP(w, r)
		return
	}
	if ip := forwardedIP(r); ip != "" {
		r.Header.Set("X-Original-Remote-Addr", r.RemoteAddr)
		r.RemoteAddr = ip
	}
	p.handler.ServeHTTP(w, r)
}

// forwardedIP returns the original client from X-Forwarded-For (leftmost
// entry) or X-Real-IP.
func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip)
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

// extractIP extracts just the IP address from an address:port string.
func extractIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
