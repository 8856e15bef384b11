package muxer

type Config struct {
	Binary     string `mapstructure:"binary"`
	Format     string `mapstructure:"format"`
	VideoCodec string `mapstructure:"video-codec"`
	AudioCodec string `mapstructure:"audio-codec"`

	Copyts      bool `mapstructure:"copyts"`
	StartAtZero bool `mapstructure:"start-at-zero"`
	Verbose     bool `mapstructure:"verbose"`
}

func (c Config) withDefaultValues() Config {
	if c.Binary == "" {
		c.Binary = "ffmpeg"
	}
	if c.Format == "" {
		c.Format = "matroska"
	}
	if c.VideoCodec == "" {
		c.VideoCodec = "copy"
	}
	if c.AudioCodec == "" {
		c.AudioCodec = "copy"
	}
	return c
}
