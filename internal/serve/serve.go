package serve

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-segstream/internal/config"
	"github.com/m1k1o/go-segstream/internal/metrics"
	"github.com/m1k1o/go-segstream/internal/server"
	"github.com/m1k1o/go-segstream/modules"
	"github.com/m1k1o/go-segstream/modules/httpstream"
)

const streamPrefix = "/stream/"

func NewCommand(stream *config.Stream, ffmpeg *config.FFmpeg) *Main {
	return &Main{
		Config: &config.Server{},
		Stream: stream,
		FFmpeg: ffmpeg,
	}
}

type Main struct {
	Config *config.Server
	Stream *config.Stream
	FFmpeg *config.FFmpeg

	logger     zerolog.Logger
	server     *server.ServerManagerCtx
	metrics    *metrics.Collector
	httpStream *httpstream.ModuleCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) streamConfig() (*httpstream.Config, error) {
	opts, err := main.Stream.Options()
	if err != nil {
		return nil, err
	}

	return &httpstream.Config{
		Sources: main.Config.Streams,
		Options: opts,
		Muxer:   main.FFmpeg.Muxer(),
		Metrics: main.metrics,
	}, nil
}

func (main *Main) start() error {
	config := main.Config

	if config.Metrics {
		main.metrics = metrics.New()
	}

	streamConfig, err := main.streamConfig()
	if err != nil {
		return err
	}

	main.server = server.New(&server.Config{
		Bind:    config.Bind,
		Static:  config.Static,
		SSLCert: config.Cert,
		SSLKey:  config.Key,
		Proxy:   config.Proxy,
		PProf:   config.PProf,
		Metrics: config.Metrics,
	})

	main.httpStream = httpstream.New(streamPrefix, streamConfig)
	main.server.Handle(streamPrefix+"*", main.httpStream)
	main.logger.Info().Msg("httpStream registered")

	if err := main.server.Start(); err != nil {
		return err
	}
	main.logger.Info().Strs("streams", sourceNames(config.Streams)).Msg("serving streams")
	return nil
}

// ConfigReload applies changed stream sources and options to new clients.
func (main *Main) ConfigReload() {
	if main.httpStream == nil {
		return
	}

	main.Config.Set()
	main.Stream.Set()
	main.FFmpeg.Set()

	streamConfig, err := main.streamConfig()
	if err != nil {
		main.logger.Err(err).Msg("keeping previous configuration")
		return
	}

	main.httpStream.ConfigReload(streamConfig)
}

func (main *Main) shutdown() {
	for name, module := range map[string]modules.Module{
		"httpStream": main.httpStream,
	} {
		module.Shutdown()
		main.logger.Info().Msgf("%s shutdown", name)
	}

	err := main.server.Shutdown()
	main.logger.Err(err).Msg("http manager shutdown")
}

func (main *Main) Run(cmd *cobra.Command, args []string) error {
	main.logger.Info().Msg("starting main server")
	if err := main.start(); err != nil {
		return err
	}
	main.logger.Info().Msg("main ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	main.logger.Warn().Msg("received signal, attempting graceful shutdown")
	main.shutdown()
	main.logger.Info().Msg("shutdown complete")
	return nil
}

func sourceNames(sources map[string]string) []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
