package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	metricsPath     = "/metrics"
	shutdownTimeout = 5 * time.Second
)

type ServerManagerCtx struct {
	logger zerolog.Logger
	config *Config
	router *chi.Mux
	server *http.Server
}

func New(config *Config) *ServerManagerCtx {
	logger := log.With().Str("module", "server").Logger()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if config.Proxy {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.RequestLogger(&logformatter{logger}))
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	if config.Metrics {
		router.Handle(metricsPath, promhttp.Handler())
		logger.Info().Msgf("with metrics endpoint at %s", metricsPath)
	}

	if config.PProf {
		withPProf(router)
		logger.Info().Msgf("with pprof endpoint at %s", pprofPath)
	}

	if config.Static != "" {
		router.Get("/*", staticHandler(config.Static))
		logger.Info().Str("dir", config.Static).Msg("serving static files")
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "404 not found", http.StatusNotFound)
	})

	return &ServerManagerCtx{
		logger: logger,
		config: config,
		router: router,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// staticHandler serves files from dir and falls back to its index.html for
// paths that do not exist.
func staticHandler(dir string) http.HandlerFunc {
	fs := http.FileServer(http.Dir(dir))

	return func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(dir, filepath.FromSlash(r.URL.Path))
		if _, err := os.Stat(name); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	}
}

// listen binds a tcp address, or a unix socket when bind is a path.
func (s *ServerManagerCtx) listen() (net.Listener, error) {
	bind := s.config.Bind

	if socket, ok := strings.CutPrefix(bind, "unix:"); ok || strings.HasPrefix(bind, "/") {
		if !ok {
			socket = bind
		}
		// stale socket from a previous run
		_ = os.Remove(socket)
		return net.Listen("unix", socket)
	}

	return net.Listen("tcp", bind)
}

// Start binds the listener and serves in the background.
func (s *ServerManagerCtx) Start() error {
	listener, err := s.listen()
	if err != nil {
		return errors.Wrapf(err, "unable to listen on %s", s.config.Bind)
	}

	tls := s.config.SSLCert != "" && s.config.SSLKey != ""
	if tls {
		s.logger.Warn().Msg("TLS support is provided for convenience, use a reverse proxy in production")
	}

	go func() {
		var err error
		if tls {
			err = s.server.ServeTLS(listener, s.config.SSLCert, s.config.SSLKey)
		} else {
			err = s.server.Serve(listener)
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	s.logger.Info().Bool("tls", tls).Msgf("listening on %s", listener.Addr())
	return nil
}

func (s *ServerManagerCtx) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *ServerManagerCtx) Handle(pattern string, fn http.Handler) {
	s.router.Handle(pattern, fn)
}

func (s *ServerManagerCtx) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
