package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-segstream/internal/config"
	"github.com/m1k1o/go-segstream/internal/serve"
)

func init() {
	service := serve.NewCommand(streamConfig, ffmpegConfig)

	command := &cobra.Command{
		Use:   "serve",
		Short: "serve configured streams over http",
		Long:  `serve configured streams over http at /stream/{source}/{quality}`,
		Args:  cobra.NoArgs,
		RunE:  service.Run,
	}

	configs := []config.Config{
		service.Config,
	}

	cobra.OnInitialize(func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		service.Preflight()
	})

	onConfigLoad = append(onConfigLoad, service.ConfigReload)

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run serve command")
		}
	}

	rootCmd.AddCommand(command)
}
