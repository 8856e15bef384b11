package streamer

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-segstream/internal/config"
	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

var errPlayerClosed = errors.New("player closed")

func NewCommand() *Main {
	return &Main{
		Stream: &config.Stream{},
		FFmpeg: &config.FFmpeg{},
		Output: &config.Output{},
	}
}

type Main struct {
	Stream *config.Stream
	FFmpeg *config.FFmpeg
	Output *config.Output

	logger zerolog.Logger
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "stream").Logger()
}

func (main *Main) Run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return main.stream(ctx, args[0])
}

func (main *Main) stream(ctx context.Context, source string) error {
	opts, err := main.Stream.Options()
	if err != nil {
		return err
	}

	sess := session.New(opts, session.WithLogger(main.logger))
	defer sess.Close()

	streams, err := Streams(ctx, sess, source, main.FFmpeg.Muxer())
	if err != nil {
		return err
	}

	main.logger.Info().Msgf("available streams: %s", strings.Join(streams.Names(), ", "))

	selected, err := streams.Select(main.Output.Quality)
	if err != nil {
		return err
	}

	main.logger.Info().Str("stream", selected.Name).Msg("opening stream")

	reader, err := selected.Stream.Open(ctx)
	if err != nil {
		return errors.Wrapf(err, "unable to open stream %s", selected.Name)
	}
	defer reader.Close()

	out, err := main.openOutput()
	if err != nil {
		return err
	}

	written, err := io.Copy(out, reader)
	closeErr := out.Close()

	switch {
	case errors.Is(err, errPlayerClosed):
		main.logger.Info().Msg("player closed, stopping stream")
		return nil
	case err != nil:
		return errors.Wrap(err, "error while writing stream")
	case closeErr != nil:
		return closeErr
	}

	if taker, ok := reader.(segmented.ErrorTaker); ok {
		if err := taker.TakeError(); err != nil && ctx.Err() == nil {
			return err
		}
	}

	main.logger.Info().Int64("bytes", written).Msg("stream ended")
	return nil
}

func (main *Main) openOutput() (output, error) {
	if main.Output.Player != "" {
		p, err := startPlayer(main.logger, main.Output.Player)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	if main.Output.File == "" || main.Output.File == "-" {
		return stdout{}, nil
	}

	return openFile(main.Output.File, main.Output.Force)
}
