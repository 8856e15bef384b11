package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/go-segstream/pkg/session"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

// aliases maps historical option names to their canonical flag.
var aliases = map[string]string{
	"hls-live-edge":                "live-edge",
	"hls-live-restart":             "live-restart",
	"hls-segment-threads":          "segment-threads",
	"stream-segment-threads":       "segment-threads",
	"hls-segment-attempts":         "segment-attempts",
	"stream-segment-attempts":      "segment-attempts",
	"hls-segment-timeout":          "segment-timeout",
	"stream-segment-timeout":       "segment-timeout",
	"hls-segment-queue-threshold":  "segment-queue-threshold",
	"hls-playlist-reload-time":     "playlist-reload-time",
	"hls-playlist-reload-attempts": "playlist-reload-attempts",
	"hls-segment-ignore-names":     "segment-ignore-names",
	"hls-segment-key-uri":          "segment-key-uri",
	"hls-audio-select":             "audio-select",
	"hls-start-offset":             "start-offset",
	"hls-duration":                 "duration",
}

// Stream holds the options shared by every opened stream.
type Stream struct {
	LiveEdge    int
	LiveRestart bool
	LowLatency  bool

	SegmentThreads        int
	SegmentAttempts       int
	SegmentTimeout        float64
	SegmentQueueThreshold float64
	SegmentRateLimit      int

	PlaylistReloadTime     string
	PlaylistReloadAttempts int

	SegmentIgnoreNames []string
	SegmentKeyURI      string
	FilterTitles       []string
	AdClasses          []string

	AudioSelect []string
	Locale      string

	StartOffset float64
	Duration    float64

	StreamTimeout  float64
	RingBufferSize string

	HTTPHeaders []string
	HTTPReferer string
}

func (Stream) Init(cmd *cobra.Command) error {
	defaults := session.DefaultOptions()

	cmd.PersistentFlags().Int("live-edge", defaults.LiveEdge, "segments from the live tail at which to start")
	if err := viper.BindPFlag("live-edge", cmd.PersistentFlags().Lookup("live-edge")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("live-restart", false, "start live streams from the earliest available segment")
	if err := viper.BindPFlag("live-restart", cmd.PersistentFlags().Lookup("live-restart")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("low-latency", false, "handle prefetch segments and stay close to the live edge")
	if err := viper.BindPFlag("low-latency", cmd.PersistentFlags().Lookup("low-latency")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("segment-threads", defaults.SegmentThreads, "parallel segment fetches (max 10)")
	if err := viper.BindPFlag("segment-threads", cmd.PersistentFlags().Lookup("segment-threads")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("segment-attempts", defaults.SegmentAttempts, "attempts per segment fetch")
	if err := viper.BindPFlag("segment-attempts", cmd.PersistentFlags().Lookup("segment-attempts")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("segment-timeout", defaults.SegmentTimeout.Seconds(), "segment fetch timeout in seconds")
	if err := viper.BindPFlag("segment-timeout", cmd.PersistentFlags().Lookup("segment-timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("segment-queue-threshold", defaults.SegmentQueueThreshold, "stop live streams after this many target durations without new segments, 0 disables")
	if err := viper.BindPFlag("segment-queue-threshold", cmd.PersistentFlags().Lookup("segment-queue-threshold")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("segment-rate-limit", 0, "max requests per second of one stream, 0 is unlimited")
	if err := viper.BindPFlag("segment-rate-limit", cmd.PersistentFlags().Lookup("segment-rate-limit")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("playlist-reload-time", session.ReloadDefault, "playlist reload time: default, segment, live-edge or seconds")
	if err := viper.BindPFlag("playlist-reload-time", cmd.PersistentFlags().Lookup("playlist-reload-time")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("playlist-reload-attempts", defaults.PlaylistReloadAttempts, "attempts per playlist reload")
	if err := viper.BindPFlag("playlist-reload-attempts", cmd.PersistentFlags().Lookup("playlist-reload-attempts")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringSlice("segment-ignore-names", nil, "segment file name patterns to skip")
	if err := viper.BindPFlag("segment-ignore-names", cmd.PersistentFlags().Lookup("segment-ignore-names")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("segment-key-uri", "", "key uri template, e.g. {scheme}://{netloc}{path}?{query}")
	if err := viper.BindPFlag("segment-key-uri", cmd.PersistentFlags().Lookup("segment-key-uri")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringSlice("filter-titles", nil, "segment titles marking filtered segments")
	if err := viper.BindPFlag("filter-titles", cmd.PersistentFlags().Lookup("filter-titles")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringSlice("ad-classes", nil, "date range classes marking ad breaks")
	if err := viper.BindPFlag("ad-classes", cmd.PersistentFlags().Lookup("ad-classes")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringSlice("audio-select", nil, "audio languages to select, * for all")
	if err := viper.BindPFlag("audio-select", cmd.PersistentFlags().Lookup("audio-select")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("locale", "", "preferred language, defaults to $LANG or en-US")
	if err := viper.BindPFlag("locale", cmd.PersistentFlags().Lookup("locale")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("start-offset", 0, "seconds into the stream to begin")
	if err := viper.BindPFlag("start-offset", cmd.PersistentFlags().Lookup("start-offset")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("duration", 0, "seconds to stream, 0 is unlimited")
	if err := viper.BindPFlag("duration", cmd.PersistentFlags().Lookup("duration")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("stream-timeout", defaults.StreamTimeout.Seconds(), "seconds to wait for the first data, 0 disables")
	if err := viper.BindPFlag("stream-timeout", cmd.PersistentFlags().Lookup("stream-timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ringbuffer-size", "16M", "size of the stream buffer")
	if err := viper.BindPFlag("ringbuffer-size", cmd.PersistentFlags().Lookup("ringbuffer-size")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringSlice("http-header", nil, "request header as Name=Value, can be repeated")
	if err := viper.BindPFlag("http-header", cmd.PersistentFlags().Lookup("http-header")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("http-referer", "", "referer header of all requests")
	if err := viper.BindPFlag("http-referer", cmd.PersistentFlags().Lookup("http-referer")); err != nil {
		return err
	}

	return nil
}

func (s *Stream) Set() {
	s.LiveEdge = viper.GetInt("live-edge")
	s.LiveRestart = viper.GetBool("live-restart")
	s.LowLatency = viper.GetBool("low-latency")

	s.SegmentThreads = viper.GetInt("segment-threads")
	s.SegmentAttempts = viper.GetInt("segment-attempts")
	s.SegmentTimeout = viper.GetFloat64("segment-timeout")
	s.SegmentQueueThreshold = viper.GetFloat64("segment-queue-threshold")
	s.SegmentRateLimit = viper.GetInt("segment-rate-limit")

	s.PlaylistReloadTime = viper.GetString("playlist-reload-time")
	s.PlaylistReloadAttempts = viper.GetInt("playlist-reload-attempts")

	s.SegmentIgnoreNames = viper.GetStringSlice("segment-ignore-names")
	s.SegmentKeyURI = viper.GetString("segment-key-uri")
	s.FilterTitles = viper.GetStringSlice("filter-titles")
	s.AdClasses = viper.GetStringSlice("ad-classes")

	s.AudioSelect = viper.GetStringSlice("audio-select")
	s.Locale = viper.GetString("locale")

	s.StartOffset = viper.GetFloat64("start-offset")
	s.Duration = viper.GetFloat64("duration")

	s.StreamTimeout = viper.GetFloat64("stream-timeout")
	s.RingBufferSize = viper.GetString("ringbuffer-size")

	s.HTTPHeaders = viper.GetStringSlice("http-header")
	s.HTTPReferer = viper.GetString("http-referer")
}

// CheckAliases rejects historical option names set in the config file or
// environment.
func CheckAliases() error {
	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)

	for _, alias := range names {
		if viper.IsSet(alias) {
			return errors.Errorf("option %q is no longer supported, use %q instead", alias, aliases[alias])
		}
	}

	return nil
}

// Options converts the section into session options.
func (s *Stream) Options() (session.Options, error) {
	if err := CheckAliases(); err != nil {
		return session.Options{}, err
	}

	opts := session.DefaultOptions()

	opts.LiveEdge = s.LiveEdge
	opts.LiveRestart = s.LiveRestart
	opts.LowLatency = s.LowLatency

	opts.SegmentThreads = s.SegmentThreads
	opts.SegmentAttempts = s.SegmentAttempts
	opts.SegmentTimeout = seconds(s.SegmentTimeout)
	opts.SegmentQueueThreshold = s.SegmentQueueThreshold
	opts.SegmentRateLimit = s.SegmentRateLimit

	reloadTime, err := session.ParseReloadTime(s.PlaylistReloadTime)
	if err != nil {
		return session.Options{}, err
	}
	opts.PlaylistReloadTime = reloadTime
	opts.PlaylistReloadAttempts = s.PlaylistReloadAttempts

	opts.SegmentIgnoreNames = s.SegmentIgnoreNames
	opts.SegmentKeyURI = s.SegmentKeyURI
	opts.FilterTitles = s.FilterTitles
	opts.AdClasses = s.AdClasses

	opts.AudioSelect = s.AudioSelect
	if s.Locale != "" {
		opts.Locale = s.Locale
	} else if locale := systemLocale(); locale != "" {
		opts.Locale = locale
	}

	opts.StartOffset = seconds(s.StartOffset)
	opts.Duration = seconds(s.Duration)
	opts.StreamTimeout = seconds(s.StreamTimeout)

	if s.RingBufferSize != "" {
		size, err := ParseSize(s.RingBufferSize)
		if err != nil {
			return session.Options{}, err
		}
		opts.RingBufferSize = size
	}

	headers, err := session.ParseHeaders(s.HTTPHeaders)
	if err != nil {
		return session.Options{}, err
	}
	if s.HTTPReferer != "" {
		headers.Set("Referer", s.HTTPReferer)
	}
	opts.Headers = headers

	return opts, nil
}

func systemLocale() string {
	switch locale := os.Getenv("LANG"); locale {
	case "", "C", "POSIX":
		return ""
	default:
		return locale
	}
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

// ParseSize parses a byte size with an optional K, M or G suffix.
func ParseSize(value string) (int, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	value = strings.TrimSuffix(value, "B")

	multiplier := 1
	switch {
	case strings.HasSuffix(value, "K"):
		multiplier = 1 << 10
	case strings.HasSuffix(value, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(value, "G"):
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		value = value[:len(value)-1]
	}

	size, err := strconv.Atoi(value)
	if err != nil || size <= 0 {
		return 0, errors.Errorf("invalid size %q", value)
	}

	return size * multiplier, nil
}
