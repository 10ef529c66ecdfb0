package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sambeau/sorrel/config"
	"github.com/sambeau/sorrel/pkg/asp"
	"github.com/sambeau/sorrel/pkg/luaengine"
	"github.com/sambeau/sorrel/pkg/script"
	"github.com/sambeau/sorrel/pkg/source"
)

// Server represents a Sorrel web server instance.
type Server struct {
	config     *config.Config
	configPath string
	stdout     io.Writer
	stderr     io.Writer
	mux        *http.ServeMux
	server     *http.Server
	registry   *script.Registry
	app        *asp.Application
	sessions   SessionStore
	faultLog   *FaultLog
	watcher    *Watcher
}

// New creates a new Sorrel server with the given configuration.
func New(cfg *config.Config, configPath string, stdout, stderr io.Writer) (*Server, error) {
	s := &Server{
		config:     cfg,
		configPath: configPath,
		stdout:     stdout,
		stderr:     stderr,
		mux:        http.NewServeMux(),
		app:        asp.NewApplication(),
	}

	registry, err := NewRegistry(cfg, scriptLogger{s})
	if err != nil {
		return nil, err
	}
	s.registry = registry

	secret := cfg.Session.Secret
	if secret.Value() == "" || secret.IsAuto() {
		if !cfg.Server.Dev {
			return nil, errors.New("session.secret is required in production mode")
		}
		generated, err := config.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
		secret = generated
		s.logWarn("using a random session secret; sessions will not survive a restart")
	}
	store, err := NewCookieSessionStore(&cfg.Session, secret.Value(), !cfg.Server.Dev)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	s.sessions = store

	if cfg.Server.Dev {
		maxSize, _ := config.ParseSize(cfg.Dev.FaultLogMaxSize)
		fl, err := NewFaultLog(cfg.BaseDir, FaultLogConfig{Path: cfg.Dev.FaultLog, MaxSize: maxSize})
		if err != nil {
			s.logError("failed to open fault log: %v", err)
		} else {
			s.faultLog = fl
		}
	}

	s.setupRoutes()
	return s, nil
}

// NewRegistry builds the page registry described by cfg: the Lua engine, the
// page emitter and a file loader for the configured charset.
func NewRegistry(cfg *config.Config, log script.Logger) (*script.Registry, error) {
	loader, err := source.NewFileLoader(cfg.Scripts.Charset)
	if err != nil {
		return nil, err
	}
	return script.NewRegistry(script.Options{
		Engine: luaengine.New(luaengine.Options{
			CallStackSize: cfg.Scripts.CallStackSize,
			Timeout:       cfg.Scripts.Timeout,
		}),
		Emitter: luaengine.Emitter{},
		Loader:  loader,
		Root:    cfg.Scripts.Root,
		Logger:  log,
	}), nil
}

// setupRoutes configures the HTTP mux.
func (s *Server) setupRoutes() {
	if s.faultLog != nil {
		s.mux.Handle("/__faults", newFaultsHandler(s.faultLog))
	}
	static := http.FileServer(http.Dir(s.config.Scripts.Root))
	s.mux.Handle("/", newScriptHandler(s, static))
}

// Handler returns the full handler chain: routes, compression, security
// headers, request logging and proxy address rewriting.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux

	handler = newCompressionHandler(handler, s.config.Compression)
	handler = newSecurityHeaders(handler, s.config.Security, s.config.Server.Dev)

	if !s.config.Logging.Quiet && s.config.Logging.Level != "error" {
		handler = newRequestLogger(handler, s.stdout, s.config.Logging.Format)
	}
	return newProxyAware(handler, s.config.Server.Proxy)
}

// Registry returns the page registry.
func (s *Server) Registry() *script.Registry {
	return s.registry
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.listenAddr()
	defer s.Close()

	if s.config.Server.Dev && s.config.Dev.Watch {
		watcher, err := NewWatcher(s, s.configPath, s.stdout, s.stderr)
		if err != nil {
			s.logError("failed to create watcher: %v", err)
		} else {
			s.watcher = watcher
			if err := s.watcher.Start(ctx); err != nil {
				s.logError("failed to start watcher: %v", err)
			}
			defer s.watcher.Close()
		}
	}

	for _, w := range config.Warnings(s.config) {
		s.logWarn("%s", w)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if s.config.Server.Dev {
			fmt.Fprintf(s.stdout, "Starting Sorrel in development mode on http://%s\n", addr)
		} else {
			fmt.Fprintf(s.stdout, "Starting Sorrel on http://%s\n", addr)
		}
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintf(s.stdout, "\nShutting down gracefully...\n")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Close releases the fault log.
func (s *Server) Close() error {
	if s.faultLog == nil {
		return nil
	}
	err := s.faultLog.Close()
	s.faultLog = nil
	return err
}

// listenAddr returns the address to listen on based on configuration.
func (s *Server) listenAddr() string {
	host := s.config.Server.Host
	if s.config.Server.Dev && host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, s.config.Server.Port)
}

// logInfo logs an informational message
func (s *Server) logInfo(format string, args ...interface{}) {
	fmt.Fprintf(s.stdout, "[INFO] "+format+"\n", args...)
}

// logWarn logs a warning message
func (s *Server) logWarn(format string, args ...interface{}) {
	fmt.Fprintf(s.stderr, "[WARN] "+format+"\n", args...)
}

// logError logs an error message
func (s *Server) logError(format string, args ...interface{}) {
	fmt.Fprintf(s.stderr, "[ERROR] "+format+"\n", args...)
}

// scriptLogger routes page compiler and runtime messages to the server log.
type scriptLogger struct{ s *Server }

func (l scriptLogger) Warnf(format string, args ...any)  { l.s.logWarn(format, args...) }
func (l scriptLogger) Errorf(format string, args ...any) { l.s.logError(format, args...) }
