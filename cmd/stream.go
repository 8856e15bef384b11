package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-segstream/internal/config"
	"github.com/m1k1o/go-segstream/internal/streamer"
)

func init() {
	service := streamer.NewCommand()
	service.Stream = streamConfig
	service.FFmpeg = ffmpegConfig

	command := &cobra.Command{
		Use:   "stream <url>",
		Short: "fetch a stream and write it to a file or a player",
		Long: `fetch an HLS or DASH stream and write it to a file, stdout or a player.

The protocol is detected from the url, use an hls:// or dash:// prefix to force it.`,
		Args: cobra.ExactArgs(1),
		RunE: service.Run,
	}

	configs := []config.Config{
		service.Output,
	}

	cobra.OnInitialize(func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		service.Preflight()
	})

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run stream command")
		}
	}

	rootCmd.AddCommand(command)
}
