package config

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Log struct {
	Level   string
	Console bool
	JSON    bool

	// rotated log file, disabled when empty
	File       string
	MaxAge     int // days
	MaxSize    int // megabytes
	MaxBackups int
}

func (Log) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("log.level", "info", "log level: trace, debug, info, warn or error")
	if err := viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log.level")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("log.console", true, "log to stderr")
	if err := viper.BindPFlag("log.console", cmd.PersistentFlags().Lookup("log.console")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("log.json", false, "log to stderr as json instead of human readable lines")
	if err := viper.BindPFlag("log.json", cmd.PersistentFlags().Lookup("log.json")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("log.file", "", "log to a rotated file at this path")
	if err := viper.BindPFlag("log.file", cmd.PersistentFlags().Lookup("log.file")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxage", 0, "days to keep rotated log files, 0 keeps all")
	if err := viper.BindPFlag("log.maxage", cmd.PersistentFlags().Lookup("log.maxage")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxsize", 100, "log file size in megabytes before it is rotated")
	if err := viper.BindPFlag("log.maxsize", cmd.PersistentFlags().Lookup("log.maxsize")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxbackups", 0, "rotated log files to keep, 0 keeps all")
	if err := viper.BindPFlag("log.maxbackups", cmd.PersistentFlags().Lookup("log.maxbackups")); err != nil {
		return err
	}

	return nil
}

func (l *Log) Set() {
	l.Level = viper.GetString("log.level")
	l.Console = viper.GetBool("log.console")
	l.JSON = viper.GetBool("log.json")

	l.File = viper.GetString("log.file")
	l.MaxAge = viper.GetInt("log.maxage")
	l.MaxSize = viper.GetInt("log.maxsize")
	l.MaxBackups = viper.GetInt("log.maxbackups")
}

// ZerologLevel parses the configured level, an empty level means info.
func (l *Log) ZerologLevel() (zerolog.Level, error) {
	if l.Level == "" {
		return zerolog.InfoLevel, nil
	}

	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		return zerolog.InfoLevel, errors.Wrapf(err, "unknown log level %q", l.Level)
	}
	return level, nil
}
