package httpstream

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-segstream/internal/streamer"
	"github.com/m1k1o/go-segstream/internal/utils"
	"github.com/m1k1o/go-segstream/pkg/muxer"
	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

var resourceRegex = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

type ModuleCtx struct {
	logger     zerolog.Logger
	pathPrefix string

	mu     sync.RWMutex
	config Config

	clients *xsync.MapOf[string, *Client]
}

func New(pathPrefix string, config *Config) *ModuleCtx {
	return &ModuleCtx{
		logger:     log.With().Str("module", "httpstream").Logger(),
		pathPrefix: pathPrefix,
		config:     config.withDefaultValues(),
		clients:    xsync.NewMapOf[string, *Client](),
	}
}

// Shutdown disconnects all clients.
func (m *ModuleCtx) Shutdown() {
	m.clients.Range(func(id string, client *Client) bool {
		client.cancel()
		return true
	})
}

func (m *ModuleCtx) ConfigReload(config *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = config.withDefaultValues()
	m.logger.Info().Int("sources", len(m.config.Sources)).Msg("config reloaded")
}

// Clients returns currently connected clients.
func (m *ModuleCtx) Clients() []Client {
	var clients []Client
	m.clients.Range(func(id string, client *Client) bool {
		clients = append(clients, *client)
		return true
	})
	return clients
}

func (m *ModuleCtx) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, m.pathPrefix) {
		http.NotFound(w, r)
		return
	}

	p := r.URL.Path
	// remove path prefix
	p = strings.TrimPrefix(p, m.pathPrefix)
	// remove leading and ending /
	p = strings.Trim(p, "/")
	// split path to parts
	s := strings.Split(p, "/")

	// {source} or {source}/{quality}
	if len(s) > 2 {
		http.NotFound(w, r)
		return
	}

	sourceName, quality := s[0], ""
	if len(s) == 2 {
		quality = s[1]
	}

	// check if parameters match regex
	if !resourceRegex.MatchString(sourceName) ||
		(quality != "" && !resourceRegex.MatchString(quality)) {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	config := m.config
	source, ok := config.Sources[sourceName]
	m.mu.RUnlock()

	// find relevant source
	if !ok {
		http.Error(w, "404 source not found", http.StatusNotFound)
		return
	}

	client := &Client{
		ID:      uuid.NewString(),
		Source:  sourceName,
		Quality: quality,
		Remote:  r.RemoteAddr,
		Started: time.Now(),
	}

	logger := m.logger.With().
		Str("client", client.ID).
		Str("source", sourceName).
		Logger()

	sess := session.New(config.Options,
		session.WithLogger(logger),
		session.WithMetrics(config.Metrics),
	)
	defer sess.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	client.cancel = cancel

	streams, err := streamer.Streams(ctx, sess, source, config.Muxer)
	if err != nil {
		logger.Warn().Err(err).Msg("unable to load source")
		http.Error(w, "502 source not available", http.StatusBadGateway)
		return
	}

	// list available qualities
	if quality == "" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{
			"streams": streams.Names(),
		})
		return
	}

	selected, err := streams.Select(quality)
	if err != nil {
		http.Error(w, "404 quality not found", http.StatusNotFound)
		return
	}

	reader, err := selected.Stream.Open(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("unable to open stream")
		http.Error(w, "502 stream not available", http.StatusBadGateway)
		return
	}
	defer reader.Close()

	m.clients.Store(client.ID, client)
	config.Metrics.ClientConnected()
	defer func() {
		config.Metrics.ClientDisconnected()
		m.clients.Delete(client.ID)
	}()

	logger.Info().Str("stream", selected.Name).Str("remote", client.Remote).Msg("client connected")

	w.Header().Set("Content-Type", contentType(source, selected.Stream))
	written, err := utils.CopyToHTTP(w, reader)

	if taker, ok := reader.(segmented.ErrorTaker); ok {
		if terr := taker.TakeError(); terr != nil && ctx.Err() == nil {
			err = terr
		}
	}

	logger.Info().
		Err(err).
		Int64("bytes", written).
		Dur("elapsed", time.Since(client.Started)).
		Msg("client disconnected")
}

func contentType(source string, stream segmented.Stream) string {
	if mux, ok := stream.(*muxer.Stream); ok {
		switch mux.Format() {
		case "matroska":
			return "video/x-matroska"
		case "mp4":
			return "video/mp4"
		}
		return "video/mp2t"
	}

	if protocol, _, err := streamer.Protocol(source); err == nil && protocol == streamer.ProtocolDASH {
		return "video/mp4"
	}

	return "video/mp2t"
}
