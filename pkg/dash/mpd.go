package dash

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"

	"github.com/m1k1o/go-segstream/pkg/segmented"
)

const (
	TypeStatic  = "static"
	TypeDynamic = "dynamic"
)

// MPD is a parsed Media Presentation Description.
type MPD struct {
	XMLName                    xml.Name  `xml:"MPD"`
	ID                         string    `xml:"id,attr"`
	Type                       string    `xml:"type,attr"`
	Profiles                   string    `xml:"profiles,attr"`
	AvailabilityStartTime      *DateTime `xml:"availabilityStartTime,attr"`
	PublishTime                *DateTime `xml:"publishTime,attr"`
	MediaPresentationDuration  *Duration `xml:"mediaPresentationDuration,attr"`
	MinimumUpdatePeriod        *Duration `xml:"minimumUpdatePeriod,attr"`
	MinBufferTime              *Duration `xml:"minBufferTime,attr"`
	TimeShiftBufferDepth       *Duration `xml:"timeShiftBufferDepth,attr"`
	SuggestedPresentationDelay *Duration `xml:"suggestedPresentationDelay,attr"`
	BaseURLs                   []string  `xml:"BaseURL"`
	Locations                  []string  `xml:"Location"`
	Periods                    []*Period `xml:"Period"`

	// URL the manifest was loaded from.
	URL string `xml:"-"`
	// BaseURL is the effective base of the manifest.
	BaseURL string `xml:"-"`
}

type Period struct {
	ID              string           `xml:"id,attr"`
	Start           *Duration        `xml:"start,attr"`
	Duration        *Duration        `xml:"duration,attr"`
	BaseURLs        []string         `xml:"BaseURL"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate"`
	SegmentList     *SegmentList     `xml:"SegmentList"`
	SegmentBase     *SegmentBase     `xml:"SegmentBase"`
	AdaptationSets  []*AdaptationSet `xml:"AdaptationSet"`

	BaseURL string `xml:"-"`

	mpd      *MPD
	start    time.Duration
	duration time.Duration
}

type Descriptor struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

type AdaptationSet struct {
	ID                string            `xml:"id,attr"`
	ContentType       string            `xml:"contentType,attr"`
	MimeType          string            `xml:"mimeType,attr"`
	Lang              string            `xml:"lang,attr"`
	Codecs            string            `xml:"codecs,attr"`
	Width             int               `xml:"width,attr"`
	Height            int               `xml:"height,attr"`
	ContentProtection []Descriptor      `xml:"ContentProtection"`
	Roles             []Descriptor      `xml:"Role"`
	BaseURLs          []string          `xml:"BaseURL"`
	SegmentTemplate   *SegmentTemplate  `xml:"SegmentTemplate"`
	SegmentList       *SegmentList      `xml:"SegmentList"`
	SegmentBase       *SegmentBase      `xml:"SegmentBase"`
	Representations   []*Representation `xml:"Representation"`

	BaseURL string `xml:"-"`

	period *Period
}

type Representation struct {
	ID                string           `xml:"id,attr"`
	Bandwidth         int64            `xml:"bandwidth,attr"`
	Width             int              `xml:"width,attr"`
	Height            int              `xml:"height,attr"`
	Codecs            string           `xml:"codecs,attr"`
	MimeType          string           `xml:"mimeType,attr"`
	FrameRate         string           `xml:"frameRate,attr"`
	AudioSamplingRate string           `xml:"audioSamplingRate,attr"`
	ContentProtection []Descriptor     `xml:"ContentProtection"`
	BaseURLs          []string         `xml:"BaseURL"`
	SegmentTemplate   *SegmentTemplate `xml:"SegmentTemplate"`
	SegmentList       *SegmentList     `xml:"SegmentList"`
	SegmentBase       *SegmentBase     `xml:"SegmentBase"`

	BaseURL string `xml:"-"`

	set *AdaptationSet
}

type URLType struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

type SegmentBase struct {
	Timescale              *uint64  `xml:"timescale,attr"`
	PresentationTimeOffset *uint64  `xml:"presentationTimeOffset,attr"`
	IndexRange             string   `xml:"indexRange,attr"`
	Initialization         *URLType `xml:"Initialization"`
}

type TimelineEntry struct {
	T *uint64 `xml:"t,attr"`
	D uint64  `xml:"d,attr"`
	R int64   `xml:"r,attr"`
}

type SegmentTimeline struct {
	S []TimelineEntry `xml:"S"`
}

type SegmentTemplate struct {
	Media                  string           `xml:"media,attr"`
	Initialization         string           `xml:"initialization,attr"`
	Timescale              *uint64          `xml:"timescale,attr"`
	Duration               *uint64          `xml:"duration,attr"`
	StartNumber            *int64           `xml:"startNumber,attr"`
	PresentationTimeOffset *uint64          `xml:"presentationTimeOffset,attr"`
	SegmentTimeline        *SegmentTimeline `xml:"SegmentTimeline"`
}

type SegmentURL struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
}

type SegmentList struct {
	Timescale      *uint64      `xml:"timescale,attr"`
	Duration       *uint64      `xml:"duration,attr"`
	StartNumber    *int64       `xml:"startNumber,attr"`
	Initialization *URLType     `xml:"Initialization"`
	SegmentURLs    []SegmentURL `xml:"SegmentURL"`
}

// Parse decodes an MPD document. Relative BaseURLs are resolved against
// baseURL, manifestURL is kept for reloads.
func Parse(data []byte, baseURL, manifestURL string) (*MPD, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = charset.NewReaderLabel

	mpd := &MPD{}
	if err := decoder.Decode(mpd); err != nil {
		return nil, errors.Wrap(segmented.ErrParse, err.Error())
	}

	if mpd.Type == "" {
		mpd.Type = TypeStatic
	}

	if mpd.Type != TypeStatic && mpd.Type != TypeDynamic {
		return nil, errors.Wrapf(segmented.ErrParse, "invalid manifest type %q", mpd.Type)
	}

	if mpd.Dynamic() && mpd.AvailabilityStartTime == nil {
		return nil, errors.Wrap(segmented.ErrParse, "dynamic manifest without availabilityStartTime")
	}

	mpd.URL = manifestURL

	var err error
	mpd.BaseURL, err = joinBaseURL(baseURL, mpd.BaseURLs)
	if err != nil {
		return nil, err
	}

	if err := mpd.resolve(); err != nil {
		return nil, err
	}

	return mpd, nil
}

// joinBaseURL resolves the first BaseURL element against parent.
func joinBaseURL(parent string, baseURLs []string) (string, error) {
	if len(baseURLs) == 0 {
		return parent, nil
	}

	child := strings.TrimSpace(baseURLs[0])
	if child == "" {
		return parent, nil
	}

	ref, err := url.Parse(child)
	if err != nil {
		return "", errors.Wrapf(segmented.ErrParse, "invalid BaseURL %q", child)
	}

	base, err := url.Parse(parent)
	if err != nil {
		return "", errors.Wrapf(segmented.ErrParse, "invalid base url %q", parent)
	}

	return base.ResolveReference(ref).String(), nil
}

func resolveURL(base, uri string) string {
	b, err := url.Parse(base)
	if err != nil {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return b.ResolveReference(ref).String()
}

func (m *MPD) resolve() error {
	var err error

	for i, period := range m.Periods {
		period.mpd = m

		switch {
		case period.Start != nil:
			period.start = period.Start.Value()
		case i > 0:
			prev := m.Periods[i-1]
			period.start = prev.start + prev.duration
		}

		if period.BaseURL, err = joinBaseURL(m.BaseURL, period.BaseURLs); err != nil {
			return err
		}

		for _, set := range period.AdaptationSets {
			set.period = period
			if set.BaseURL, err = joinBaseURL(period.BaseURL, set.BaseURLs); err != nil {
				return err
			}

			for _, rep := range set.Representations {
				rep.set = set
				if rep.BaseURL, err = joinBaseURL(set.BaseURL, rep.BaseURLs); err != nil {
					return err
				}
			}
		}

		// a period lasts until the next one starts or the presentation ends
		switch {
		case period.Duration != nil:
			period.duration = period.Duration.Value()
		case i+1 < len(m.Periods) && m.Periods[i+1].Start != nil:
			period.duration = m.Periods[i+1].Start.Value() - period.start
		case i+1 == len(m.Periods) && m.MediaPresentationDuration != nil:
			period.duration = m.MediaPresentationDuration.Value() - period.start
		}

		period.duration = max(0, period.duration)
	}

	return nil
}

func (m *MPD) Dynamic() bool {
	return m.Type == TypeDynamic
}

// ReloadURL returns the Location of the manifest if given.
func (m *MPD) ReloadURL() string {
	if len(m.Locations) > 0 && strings.TrimSpace(m.Locations[0]) != "" {
		return resolveURL(m.URL, strings.TrimSpace(m.Locations[0]))
	}
	return m.URL
}

func (m *MPD) availabilityStart() time.Time {
	if m.AvailabilityStartTime == nil {
		return time.Time{}
	}
	return m.AvailabilityStartTime.Time
}

// StartOffset is the offset of the period from the presentation start.
func (p *Period) StartOffset() time.Duration {
	return p.start
}

// Length returns the period duration, zero if unknown.
func (p *Period) Length() time.Duration {
	return p.duration
}

// key identifies the period across manifest reloads.
func (p *Period) key() string {
	if p.ID != "" {
		return p.ID
	}
	return fmt.Sprintf("start-%d", p.start)
}

func (p *Period) Representation(id string) *Representation {
	for _, set := range p.AdaptationSets {
		for _, rep := range set.Representations {
			if rep.ID == id {
				return rep
			}
		}
	}
	return nil
}

func (a *AdaptationSet) Protected() bool {
	return len(a.ContentProtection) > 0
}

func (r *Representation) Protected() bool {
	return len(r.ContentProtection) > 0 || r.set.Protected()
}

func (r *Representation) AdaptationSet() *AdaptationSet {
	return r.set
}

func (r *Representation) Period() *Period {
	return r.set.period
}

func (r *Representation) mimeType() string {
	if r.MimeType != "" {
		return r.MimeType
	}
	return r.set.MimeType
}

// ContentType is video, audio or text, derived from the mime type if missing.
func (r *Representation) ContentType() string {
	if r.set.ContentType != "" {
		return r.set.ContentType
	}
	kind, _, _ := strings.Cut(r.mimeType(), "/")
	if kind == "application" {
		return "text"
	}
	return kind
}

func (r *Representation) Lang() string {
	return r.set.Lang
}

func (r *Representation) height() int {
	if r.Height > 0 {
		return r.Height
	}
	return r.set.Height
}

// segmentTemplate merges templates of the representation, the adaptation set
// and the period, inner attributes win.
func (r *Representation) segmentTemplate() *SegmentTemplate {
	period := r.Period()

	var merged *SegmentTemplate
	for _, t := range []*SegmentTemplate{period.SegmentTemplate, r.set.SegmentTemplate, r.SegmentTemplate} {
		if t == nil {
			continue
		}
		if merged == nil {
			copied := *t
			merged = &copied
			continue
		}

		if t.Media != "" {
			merged.Media = t.Media
		}
		if t.Initialization != "" {
			merged.Initialization = t.Initialization
		}
		if t.Timescale != nil {
			merged.Timescale = t.Timescale
		}
		if t.Duration != nil {
			merged.Duration = t.Duration
		}
		if t.StartNumber != nil {
			merged.StartNumber = t.StartNumber
		}
		if t.PresentationTimeOffset != nil {
			merged.PresentationTimeOffset = t.PresentationTimeOffset
		}
		if t.SegmentTimeline != nil {
			merged.SegmentTimeline = t.SegmentTimeline
		}
	}

	return merged
}

func (r *Representation) segmentList() *SegmentList {
	for _, list := range []*SegmentList{r.SegmentList, r.set.SegmentList, r.Period().SegmentList} {
		if list != nil {
			return list
		}
	}
	return nil
}
