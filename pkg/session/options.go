package session

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	MaxSegmentThreads = 10

	ReloadDefault  = "default"
	ReloadSegment  = "segment"
	ReloadLiveEdge = "live-edge"
)

// ReloadTime is the playlist reload time policy.
type ReloadTime struct {
	Policy string
	// Override in seconds, used when Policy is empty.
	Override float64
}

func ParseReloadTime(value string) (ReloadTime, error) {
	value = strings.TrimSpace(strings.ToLower(value))

	switch value {
	case "", ReloadDefault:
		return ReloadTime{Policy: ReloadDefault}, nil
	case ReloadSegment, ReloadLiveEdge:
		return ReloadTime{Policy: value}, nil
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds <= 0 {
		return ReloadTime{}, errors.Errorf("invalid playlist reload time %q", value)
	}

	return ReloadTime{Override: seconds}, nil
}

func (r ReloadTime) String() string {
	if r.Policy != "" {
		return r.Policy
	}
	return strconv.FormatFloat(r.Override, 'f', -1, 64)
}

type Options struct {
	// Segments from the live tail at which to start.
	LiveEdge int
	// Start live streams from the earliest available segment.
	LiveRestart bool
	// Handle prefetch segments and clamp live edge.
	LowLatency bool

	SegmentThreads  int
	SegmentAttempts int
	SegmentTimeout  time.Duration
	// Stall detector multiplier on target duration, 0 disables it.
	SegmentQueueThreshold float64
	// Max requests per second, 0 is unlimited.
	SegmentRateLimit int

	PlaylistReloadTime     ReloadTime
	PlaylistReloadAttempts int

	SegmentIgnoreNames []string
	SegmentKeyURI      string
	FilterTitles       []string
	AdClasses          []string

	AudioSelect []string
	Locale      string

	StartOffset time.Duration
	Duration    time.Duration

	StreamTimeout  time.Duration
	RingBufferSize int

	Headers http.Header
}

func DefaultOptions() Options {
	return Options{
		LiveEdge:               3,
		SegmentThreads:         1,
		SegmentAttempts:        3,
		SegmentTimeout:         10 * time.Second,
		SegmentQueueThreshold:  3,
		PlaylistReloadTime:     ReloadTime{Policy: ReloadDefault},
		PlaylistReloadAttempts: 3,
		Locale:                 "en-US",
		StreamTimeout:          60 * time.Second,
		RingBufferSize:         16 * 1024 * 1024,
		Headers:                http.Header{},
	}
}

func (o Options) withDefaultValues() Options {
	if o.LiveEdge < 1 {
		o.LiveEdge = 1
	}

	if o.SegmentThreads < 1 {
		o.SegmentThreads = 1
	}

	if o.SegmentThreads > MaxSegmentThreads {
		o.SegmentThreads = MaxSegmentThreads
	}

	if o.SegmentAttempts < 1 {
		o.SegmentAttempts = 1
	}

	if o.PlaylistReloadAttempts < 1 {
		o.PlaylistReloadAttempts = 1
	}

	if o.SegmentQueueThreshold < 0 {
		o.SegmentQueueThreshold = 0
	}

	if o.PlaylistReloadTime.Policy == "" && o.PlaylistReloadTime.Override <= 0 {
		o.PlaylistReloadTime.Policy = ReloadDefault
	}

	if o.Headers == nil {
		o.Headers = http.Header{}
	}

	return o
}
