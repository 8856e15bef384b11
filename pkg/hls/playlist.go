package hls

import (
	"time"

	"github.com/m1k1o/go-segstream/pkg/session"
)

const (
	MethodNone   = "NONE"
	MethodAES128 = "AES-128"

	KeyFormatIdentity = "identity"
)

type Key struct {
	Method            string
	URI               string
	IV                []byte
	KeyFormat         string
	KeyFormatVersions string
}

// Map describes an initialization segment.
type Map struct {
	URI       string
	ByteRange *session.ByteRange
	// Key in effect where the map was declared.
	Key *Key
}

type DateRange struct {
	ID              string
	Class           string
	StartDate       time.Time
	EndDate         *time.Time
	Duration        *time.Duration
	PlannedDuration *time.Duration
	EndOnNext       bool
	// X-<client-attribute> values.
	Attributes map[string]string
}

// End returns the end of the range, if known.
func (d *DateRange) End() (time.Time, bool) {
	switch {
	case d.EndDate != nil:
		return *d.EndDate, true
	case d.Duration != nil:
		return d.StartDate.Add(*d.Duration), true
	case d.PlannedDuration != nil:
		return d.StartDate.Add(*d.PlannedDuration), true
	}
	return time.Time{}, false
}

// Contains reports whether t falls into the range, open ranges never end.
func (d *DateRange) Contains(t time.Time) bool {
	if t.Before(d.StartDate) {
		return false
	}
	end, ok := d.End()
	return !ok || t.Before(end)
}

type Segment struct {
	Num           int64
	URI           string
	Duration      time.Duration
	Title         string
	Date          *time.Time
	Discontinuity bool
	ByteRange     *session.ByteRange
	Map           *Map
	Key           *Key
	Prefetch      bool

	// Date ranges covering this segment, set by the worker.
	DateRanges []*DateRange
}

// Pending is the state declared after the last segment of a playlist.
type Pending struct {
	Key           *Key
	KeySet        bool
	Map           *Map
	MapSet        bool
	Discontinuity bool
}

type MediaPlaylist struct {
	Version               int
	TargetDuration        time.Duration
	MediaSequence         int64
	DiscontinuitySequence int64
	PlaylistType          string
	EndList               bool
	IFramesOnly           bool
	AllowCache            *bool
	IndependentSegments   bool
	StartOffset           *time.Duration

	Segments   []*Segment
	DateRanges []*DateRange
	Pending    Pending
}

type Resolution struct {
	Width  int
	Height int
}

type Media struct {
	Type            string
	GroupID         string
	Language        string
	AssocLanguage   string
	Name            string
	URI             string
	Default         bool
	AutoSelect      bool
	Forced          bool
	Characteristics string
	Channels        string
}

type Variant struct {
	URI              string
	Bandwidth        int64
	AverageBandwidth int64
	Resolution       *Resolution
	Codecs           string
	FrameRate        float64
	Audio            string
	Video            string
	Subtitles        string
	ClosedCaptions   string
	IFrame           bool
}

type MultivariantPlaylist struct {
	Version             int
	IndependentSegments bool
	Variants            []*Variant
	Media               []*Media
}

// MediaGroup returns renditions of the given type and group.
func (m *MultivariantPlaylist) MediaGroup(typ, groupID string) []*Media {
	var media []*Media
	for _, item := range m.Media {
		if item.Type == typ && item.GroupID == groupID {
			media = append(media, item)
		}
	}
	return media
}
