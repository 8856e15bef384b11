package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/go-segstream/pkg/muxer"
)

type FFmpeg struct {
	Binary      string
	Format      string
	VideoCodec  string
	AudioCodec  string
	Copyts      bool
	StartAtZero bool
	Verbose     bool
}

func (FFmpeg) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("ffmpeg.binary", "ffmpeg", "muxer executable")
	if err := viper.BindPFlag("ffmpeg.binary", cmd.PersistentFlags().Lookup("ffmpeg.binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ffmpeg.format", "matroska", "muxer output container")
	if err := viper.BindPFlag("ffmpeg.format", cmd.PersistentFlags().Lookup("ffmpeg.format")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ffmpeg.video-codec", "copy", "muxer video codec")
	if err := viper.BindPFlag("ffmpeg.video-codec", cmd.PersistentFlags().Lookup("ffmpeg.video-codec")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ffmpeg.audio-codec", "copy", "muxer audio codec")
	if err := viper.BindPFlag("ffmpeg.audio-codec", cmd.PersistentFlags().Lookup("ffmpeg.audio-codec")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("ffmpeg.copyts", false, "keep input timestamps")
	if err := viper.BindPFlag("ffmpeg.copyts", cmd.PersistentFlags().Lookup("ffmpeg.copyts")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("ffmpeg.start-at-zero", false, "shift kept timestamps to start at zero")
	if err := viper.BindPFlag("ffmpeg.start-at-zero", cmd.PersistentFlags().Lookup("ffmpeg.start-at-zero")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("ffmpeg.verbose", false, "log muxer info messages")
	if err := viper.BindPFlag("ffmpeg.verbose", cmd.PersistentFlags().Lookup("ffmpeg.verbose")); err != nil {
		return err
	}

	return nil
}

func (f *FFmpeg) Set() {
	f.Binary = viper.GetString("ffmpeg.binary")
	f.Format = viper.GetString("ffmpeg.format")
	f.VideoCodec = viper.GetString("ffmpeg.video-codec")
	f.AudioCodec = viper.GetString("ffmpeg.audio-codec")
	f.Copyts = viper.GetBool("ffmpeg.copyts")
	f.StartAtZero = viper.GetBool("ffmpeg.start-at-zero")
	f.Verbose = viper.GetBool("ffmpeg.verbose")
}

func (f *FFmpeg) Muxer() *muxer.Config {
	return &muxer.Config{
		Binary:      f.Binary,
		Format:      f.Format,
		VideoCodec:  f.VideoCodec,
		AudioCodec:  f.AudioCodec,
		Copyts:      f.Copyts,
		StartAtZero: f.StartAtZero,
		Verbose:     f.Verbose,
	}
}

// Output configures where the stream command writes to.
type Output struct {
	Quality string
	File    string
	Player  string
	Force   bool
}

func (Output) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("quality", "best", "stream quality: best, worst or a stream name")
	if err := viper.BindPFlag("quality", cmd.PersistentFlags().Lookup("quality")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringP("output", "o", "", "write the stream to a file, - for stdout")
	if err := viper.BindPFlag("output", cmd.PersistentFlags().Lookup("output")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringP("player", "p", "", "player command receiving the stream on stdin")
	if err := viper.BindPFlag("player", cmd.PersistentFlags().Lookup("player")); err != nil {
		return err
	}

	cmd.PersistentFlags().BoolP("force", "f", false, "overwrite an existing output file")
	if err := viper.BindPFlag("force", cmd.PersistentFlags().Lookup("force")); err != nil {
		return err
	}

	return nil
}

func (o *Output) Set() {
	o.Quality = viper.GetString("quality")
	o.File = viper.GetString("output")
	o.Player = viper.GetString("player")
	o.Force = viper.GetBool("force")
}

type Server struct {
	PProf   bool
	Metrics bool

	Cert   string
	Key    string
	Bind   string
	Static string
	Proxy  bool

	// Streams maps source names to playlist urls.
	Streams map[string]string
}

func (Server) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("metrics", true, "enable prometheus metrics available at /metrics")
	if err := viper.BindPFlag("metrics", cmd.PersistentFlags().Lookup("metrics")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("bind", "127.0.0.1:8080", "address/port/socket to serve http")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("sslcert", "", "path to the SSL cert")
	if err := viper.BindPFlag("sslcert", cmd.PersistentFlags().Lookup("sslcert")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("sslkey", "", "path to the SSL key")
	if err := viper.BindPFlag("sslkey", cmd.PersistentFlags().Lookup("sslkey")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("static", "", "path to client files to serve")
	if err := viper.BindPFlag("static", cmd.PersistentFlags().Lookup("static")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	return nil
}

func (s *Server) Set() {
	s.PProf = viper.GetBool("pprof")
	s.Metrics = viper.GetBool("metrics")

	s.Cert = viper.GetString("sslcert")
	s.Key = viper.GetString("sslkey")
	s.Bind = viper.GetString("bind")
	s.Static = viper.GetString("static")
	s.Proxy = viper.GetBool("proxy")

	s.Streams = viper.GetStringMapString("streams")
}
