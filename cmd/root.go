package cmd

import (
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/go-segstream/internal/config"
)

const (
	// searched for config.yaml besides the working directory
	defCfgPath = "/etc/segstream/"
	// SEGSTREAM_LIVE_EDGE sets live-edge, SEGSTREAM_FFMPEG_BINARY sets ffmpeg.binary
	envPrefix = "SEGSTREAM"
)

var rootCmd = &cobra.Command{
	Use:           "segstream",
	Short:         "Segmented stream CLI.",
	Long:          `Fetch HLS and DASH streams and write them to a file, a player or HTTP clients.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// called once after startup and on every config file change
var onConfigLoad []func()

var (
	cfgFile string

	logConfig    = &config.Log{}
	streamConfig = &config.Stream{}
	ffmpegConfig = &config.FFmpeg{}
)

func init() {
	cobra.OnInitialize(initialize)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")

	// options shared by all commands
	for _, cfg := range []config.Config{logConfig, streamConfig, ffmpegConfig} {
		if err := cfg.Init(rootCmd); err != nil {
			log.Panic().Err(err).Msg("unable to initialize configuration")
		}
	}
}

func Execute() error {
	return rootCmd.Execute()
}

func initialize() {
	readErr := readConfig()

	logConfig.Set()
	setupLogging(logConfig)

	if readErr != nil {
		log.Fatal().Err(readErr).Str("config", cfgFile).Msg("unable to read config file")
	}

	if err := config.CheckAliases(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	streamConfig.Set()
	ffmpegConfig.Set()

	if file := viper.ConfigFileUsed(); file != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			if err := config.CheckAliases(); err != nil {
				log.Error().Err(err).Str("config", e.Name).Msg("ignoring config file change")
				return
			}

			log.Info().Str("config", e.Name).Msg("config file reloaded")
			for _, load := range onConfigLoad {
				load()
			}
		})
		viper.WatchConfig()

		log.Info().Str("config", file).Msg("using config file")
	} else {
		log.Debug().Msg("no config file found")
	}

	for _, load := range onConfigLoad {
		load()
	}
}

// readConfig loads the config file and enables environment overrides.
// Only an explicitly requested config file is required to exist.
func readConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		if runtime.GOOS == "linux" {
			viper.AddConfigPath(defCfgPath)
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
		return nil
	}
	return err
}
