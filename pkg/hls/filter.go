package hls

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/m1k1o/go-segstream/pkg/session"
)

// Filter decides which segments are discarded instead of written, e.g. ads.
type Filter struct {
	titles    map[string]struct{}
	adClasses map[string]struct{}
	ignore    *regexp.Regexp

	// IsAd lets callers mark additional date ranges as ad breaks.
	IsAd func(dr *DateRange) bool
}

func NewFilter(opts session.Options) (*Filter, error) {
	f := &Filter{
		titles:    map[string]struct{}{},
		adClasses: map[string]struct{}{},
	}

	for _, title := range opts.FilterTitles {
		f.titles[title] = struct{}{}
	}

	for _, class := range opts.AdClasses {
		f.adClasses[class] = struct{}{}
	}

	if len(opts.SegmentIgnoreNames) > 0 {
		pattern := `(?:` + strings.Join(opts.SegmentIgnoreNames, "|") + `)\.\w+$`

		ignore, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrap(err, "invalid segment ignore names")
		}
		f.ignore = ignore
	}

	return f, nil
}

func (f *Filter) Filtered(segment *Segment) bool {
	if f == nil {
		return false
	}

	if _, ok := f.titles[segment.Title]; ok && segment.Title != "" {
		return true
	}

	if f.ignore != nil {
		path := segment.URI
		if u, err := url.Parse(segment.URI); err == nil {
			path = u.Path
		}

		if f.ignore.MatchString(path) {
			return true
		}
	}

	for _, dr := range segment.DateRanges {
		if _, ok := f.adClasses[dr.Class]; ok {
			return true
		}

		if f.IsAd != nil && f.IsAd(dr) {
			return true
		}
	}

	return false
}
