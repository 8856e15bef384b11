package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/m1k1o/go-segstream/internal/config"
)

// setupLogging points the global logger at stderr and the rotated file.
// Stream data may go to stdout, so logs never do.
func setupLogging(cfg *config.Log) {
	var writers []io.Writer

	if cfg.Console {
		if cfg.JSON {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		}
	}

	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxAge:     cfg.MaxAge,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
		}
		go rotateOnHangup(file)

		writers = append(writers, file)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()

	level, err := cfg.ZerologLevel()
	zerolog.SetGlobalLevel(level)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to info level")
	}

	log.Debug().
		Bool("console", cfg.Console).
		Str("file", cfg.File).
		Str("level", level.String()).
		Msg("logging configured")
}

func rotateOnHangup(file *lumberjack.Logger) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)

	for range hangup {
		if err := file.Rotate(); err != nil {
			log.Error().Err(err).Msg("unable to rotate log file")
		}
	}
}
