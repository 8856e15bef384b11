package config

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segstream/pkg/session"
)

func streamConfig(t *testing.T, args ...string) *Stream {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, Stream{}.Init(cmd))
	require.NoError(t, cmd.PersistentFlags().Parse(args))

	s := &Stream{}
	s.Set()
	return s
}

func TestStreamDefaults(t *testing.T) {
	t.Setenv("LANG", "")

	opts, err := streamConfig(t).Options()
	require.NoError(t, err)

	defaults := session.DefaultOptions()
	assert.Equal(t, defaults.LiveEdge, opts.LiveEdge)
	assert.Equal(t, defaults.SegmentThreads, opts.SegmentThreads)
	assert.Equal(t, defaults.SegmentAttempts, opts.SegmentAttempts)
	assert.Equal(t, defaults.SegmentTimeout, opts.SegmentTimeout)
	assert.Equal(t, defaults.SegmentQueueThreshold, opts.SegmentQueueThreshold)
	assert.Equal(t, defaults.PlaylistReloadTime, opts.PlaylistReloadTime)
	assert.Equal(t, defaults.PlaylistReloadAttempts, opts.PlaylistReloadAttempts)
	assert.Equal(t, defaults.StreamTimeout, opts.StreamTimeout)
	assert.Equal(t, defaults.RingBufferSize, opts.RingBufferSize)
	assert.Equal(t, "en-US", opts.Locale)
	assert.Zero(t, opts.Duration)
	assert.Empty(t, opts.Headers)
}

func TestStreamFlags(t *testing.T) {
	s := streamConfig(t,
		"--live-edge=5",
		"--segment-threads=4",
		"--segment-timeout=2.5",
		"--playlist-reload-time=segment",
		"--segment-ignore-names=preroll,ad",
		"--audio-select=en,de",
		"--locale=de_DE",
		"--start-offset=30",
		"--duration=90.5",
		"--ringbuffer-size=32M",
		"--http-header=X-Token=abc",
		"--http-referer=https://example.com/",
	)

	opts, err := s.Options()
	require.NoError(t, err)

	assert.Equal(t, 5, opts.LiveEdge)
	assert.Equal(t, 4, opts.SegmentThreads)
	assert.Equal(t, 2500*time.Millisecond, opts.SegmentTimeout)
	assert.Equal(t, session.ReloadTime{Policy: session.ReloadSegment}, opts.PlaylistReloadTime)
	assert.Equal(t, []string{"preroll", "ad"}, opts.SegmentIgnoreNames)
	assert.Equal(t, []string{"en", "de"}, opts.AudioSelect)
	assert.Equal(t, "de_DE", opts.Locale)
	assert.Equal(t, 30*time.Second, opts.StartOffset)
	assert.Equal(t, 90500*time.Millisecond, opts.Duration)
	assert.Equal(t, 32<<20, opts.RingBufferSize)
	assert.Equal(t, "abc", opts.Headers.Get("X-Token"))
	assert.Equal(t, "https://example.com/", opts.Headers.Get("Referer"))
}

func TestStreamInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"reload time", []string{"--playlist-reload-time=sometimes"}},
		{"ring buffer size", []string{"--ringbuffer-size=lots"}},
		{"header", []string{"--http-header=novalue"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := streamConfig(t, tt.args...).Options()
			assert.Error(t, err)
		})
	}
}

func TestAliasesRejected(t *testing.T) {
	tests := []struct {
		alias     string
		canonical string
	}{
		{"hls-live-edge", "live-edge"},
		{"stream-segment-threads", "segment-threads"},
		{"hls-segment-timeout", "segment-timeout"},
		{"hls-duration", "duration"},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			s := streamConfig(t)
			viper.Set(tt.alias, 5)

			_, err := s.Options()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.alias)
			assert.Contains(t, err.Error(), tt.canonical)
		})
	}
}

func TestAliasesFromEnvironment(t *testing.T) {
	s := streamConfig(t)

	viper.SetEnvPrefix("SEGSTREAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	t.Setenv("SEGSTREAM_HLS_LIVE_EDGE", "2")

	assert.ErrorContains(t, CheckAliases(), "hls-live-edge")
	_, err := s.Options()
	assert.Error(t, err)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		value string
		want  int
		err   bool
	}{
		{value: "1024", want: 1024},
		{value: "16M", want: 16 << 20},
		{value: "16MB", want: 16 << 20},
		{value: "512k", want: 512 << 10},
		{value: "1G", want: 1 << 30},
		{value: "0", err: true},
		{value: "M", err: true},
		{value: "-5K", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseSize(tt.value)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerStreams(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, Server{}.Init(cmd))
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--bind=0.0.0.0:9000"}))
	viper.Set("streams", map[string]string{"news": "https://example.com/news.m3u8"})

	s := &Server{}
	s.Set()

	assert.Equal(t, "0.0.0.0:9000", s.Bind)
	assert.True(t, s.Metrics)
	assert.False(t, s.PProf)
	assert.Equal(t, map[string]string{"news": "https://example.com/news.m3u8"}, s.Streams)
}

func TestFFmpegMuxer(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, FFmpeg{}.Init(cmd))
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--ffmpeg.format=mpegts", "--ffmpeg.copyts"}))

	f := &FFmpeg{}
	f.Set()

	mux := f.Muxer()
	assert.Equal(t, "ffmpeg", mux.Binary)
	assert.Equal(t, "mpegts", mux.Format)
	assert.Equal(t, "copy", mux.VideoCodec)
	assert.True(t, mux.Copyts)
	assert.False(t, mux.StartAtZero)
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
		err   bool
	}{
		{level: "", want: zerolog.InfoLevel},
		{level: "debug", want: zerolog.DebugLevel},
		{level: "warn", want: zerolog.WarnLevel},
		{level: "loud", want: zerolog.InfoLevel, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)

			cmd := &cobra.Command{Use: "test"}
			require.NoError(t, Log{}.Init(cmd))
			require.NoError(t, cmd.PersistentFlags().Parse([]string{"--log.level=" + tt.level}))

			l := &Log{}
			l.Set()

			assert.True(t, l.Console)
			assert.Equal(t, 100, l.MaxSize)

			level, err := l.ZerologLevel()
			assert.Equal(t, tt.want, level)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
