package dash

import (
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

// ErrRepresentationNotFound is returned when no period lists the representation.
var ErrRepresentationNotFound = errors.Wrap(segmented.ErrParse, "representation not found in manifest")

// Segment is a single fetchable resource of a representation.
type Segment struct {
	URI      string
	Num      int64
	Duration time.Duration
	// AvailableAt is the wall-clock time before which the segment must not
	// be fetched, zero for static manifests.
	AvailableAt time.Time
	Init        bool
	Content     bool
	ByteRange   *session.ByteRange
	// Period key of the period the segment belongs to.
	Period string
}

// Cursor remembers how far a representation was iterated, so that a reloaded
// manifest continues where the previous one ended.
type Cursor struct {
	Period     string
	Started    bool
	NextNumber int64
	NextTime   uint64
}

func (c *Cursor) advance(number int64, next uint64) {
	c.Started = true
	c.NextNumber = number + 1
	c.NextTime = next
}

type iteration struct {
	cursor   *Cursor
	now      time.Time
	liveEdge int
}

// Segments iterates segments of the representation with the given id across
// all periods, starting after the cursor. On the first iteration of a dynamic
// manifest it starts liveEdge segments from the end of the last period. An
// init segment is yielded whenever a period is entered.
func (m *MPD) Segments(id string, cursor *Cursor, now time.Time, liveEdge int) iter.Seq2[*Segment, error] {
	return func(yield func(*Segment, error) bool) {
		first := cursor.Period == ""

		var periods []*Period
		for _, period := range m.Periods {
			if period.Representation(id) != nil {
				periods = append(periods, period)
			}
		}

		if len(periods) == 0 {
			yield(nil, errors.Wrapf(ErrRepresentationNotFound, "representation %q", id))
			return
		}

		// a live manifest that dropped the cursor period resumes at the live
		// edge of the first remaining period
		liveStart := first && m.Dynamic()

		start := 0
		switch {
		case first && m.Dynamic():
			start = len(periods) - 1
		case !first:
			found := false
			for i, period := range periods {
				if period.key() == cursor.Period {
					start, found = i, true
					break
				}
			}
			liveStart = !found && m.Dynamic()
		}

		for _, period := range periods[start:] {
			rep := period.Representation(id)
			it := iteration{cursor: cursor, now: now}

			if period.key() != cursor.Period {
				*cursor = Cursor{Period: period.key()}
				if liveStart {
					it.liveEdge = liveEdge
				}

				init, err := rep.initSegment()
				if err != nil {
					yield(nil, err)
					return
				}
				if init != nil && !yield(init, nil) {
					return
				}
			}
			liveStart = false

			for segment, err := range rep.segments(it) {
				if !yield(segment, err) || err != nil {
					return
				}
			}
		}
	}
}

func (t *SegmentTemplate) timescale() uint64 {
	if t.Timescale == nil || *t.Timescale == 0 {
		return 1
	}
	return *t.Timescale
}

func (t *SegmentTemplate) startNumber() int64 {
	if t.StartNumber == nil {
		return 1
	}
	return *t.StartNumber
}

func (t *SegmentTemplate) presentationTimeOffset() uint64 {
	if t.PresentationTimeOffset == nil {
		return 0
	}
	return *t.PresentationTimeOffset
}

func (l *SegmentList) timescale() uint64 {
	if l.Timescale == nil || *l.Timescale == 0 {
		return 1
	}
	return *l.Timescale
}

func (l *SegmentList) startNumber() int64 {
	if l.StartNumber == nil {
		return 1
	}
	return *l.StartNumber
}

// scaled converts a value in timescale units to a duration.
func scaled(value, timescale uint64) time.Duration {
	return time.Duration(value/timescale)*time.Second +
		time.Duration(value%timescale)*time.Second/time.Duration(timescale)
}

// parseRange parses "first-last" into an inclusive byte range.
func parseRange(value string) (*session.ByteRange, error) {
	first, last, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok {
		return nil, errors.Wrapf(segmented.ErrParse, "invalid byte range %q", value)
	}

	offset, err := strconv.ParseInt(first, 10, 64)
	if err != nil || offset < 0 {
		return nil, errors.Wrapf(segmented.ErrParse, "invalid byte range %q", value)
	}

	r := &session.ByteRange{Offset: offset}
	if last != "" {
		end, err := strconv.ParseInt(last, 10, 64)
		if err != nil || end < offset {
			return nil, errors.Wrapf(segmented.ErrParse, "invalid byte range %q", value)
		}
		r.Length = end - offset + 1
	}

	return r, nil
}

func (r *Representation) vars() templateVars {
	return templateVars{
		RepresentationID: r.ID,
		Bandwidth:        r.Bandwidth,
	}
}

func (r *Representation) initSegment() (*Segment, error) {
	key := r.Period().key()

	if t := r.segmentTemplate(); t != nil && t.Media != "" {
		if t.Initialization == "" {
			return nil, nil
		}
		return &Segment{
			URI:    resolveURL(r.BaseURL, r.vars().expand(t.Initialization)),
			Init:   true,
			Period: key,
		}, nil
	}

	if l := r.segmentList(); l != nil {
		if l.Initialization == nil {
			return nil, nil
		}

		init := &Segment{
			URI:    r.BaseURL,
			Init:   true,
			Period: key,
		}
		if l.Initialization.SourceURL != "" {
			init.URI = resolveURL(r.BaseURL, l.Initialization.SourceURL)
		}
		if l.Initialization.Range != "" {
			byteRange, err := parseRange(l.Initialization.Range)
			if err != nil {
				return nil, err
			}
			init.ByteRange = byteRange
		}
		return init, nil
	}

	// single file representations carry their initialization
	return nil, nil
}

func (r *Representation) segments(it iteration) iter.Seq2[*Segment, error] {
	if t := r.segmentTemplate(); t != nil && t.Media != "" {
		if t.SegmentTimeline != nil {
			return r.timelineSegments(t, it)
		}
		return r.numberSegments(t, it)
	}

	if l := r.segmentList(); l != nil {
		return r.listSegments(l, it)
	}

	return r.baseSegments(it)
}

type timelineEntry struct {
	number   int64
	time     uint64
	duration uint64
}

// timeline expands repeated timeline entries. Open ended repeats run until
// the next entry, the end of the period or, for dynamic manifests, the last
// segment available at now.
func (r *Representation) timeline(t *SegmentTemplate, now time.Time) ([]timelineEntry, error) {
	period := r.Period()
	mpd := period.mpd
	timescale := t.timescale()
	pto := t.presentationTimeOffset()
	entries := t.SegmentTimeline.S

	var periodEnd uint64
	if period.duration > 0 {
		periodEnd = pto + uint64(period.duration.Seconds()*float64(timescale))
	}

	available := func(time, duration uint64) bool {
		end := scaled(time+duration, timescale) - scaled(pto, timescale)
		return !mpd.availabilityStart().Add(period.start + end).After(now)
	}

	var expanded []timelineEntry
	var current uint64
	number := t.startNumber()

	for i, s := range entries {
		if s.D == 0 {
			return nil, errors.Wrap(segmented.ErrParse, "timeline entry without duration")
		}

		if s.T != nil {
			current = *s.T
		}

		add := func() {
			expanded = append(expanded, timelineEntry{
				number:   number,
				time:     current,
				duration: s.D,
			})
			number++
			current += s.D
		}

		switch {
		case s.R >= 0:
			for n := int64(0); n <= s.R; n++ {
				add()
			}
		case i+1 < len(entries) && entries[i+1].T != nil:
			for next := *entries[i+1].T; current < next; {
				add()
			}
		case periodEnd > 0:
			for current < periodEnd {
				add()
			}
		case mpd.Dynamic():
			for available(current, s.D) {
				add()
			}
		default:
			add()
		}
	}

	return expanded, nil
}

func (r *Representation) timelineSegments(t *SegmentTemplate, it iteration) iter.Seq2[*Segment, error] {
	return func(yield func(*Segment, error) bool) {
		entries, err := r.timeline(t, it.now)
		if err != nil {
			yield(nil, err)
			return
		}

		switch {
		case it.cursor.Started:
			skip := 0
			for skip < len(entries) && entries[skip].time < it.cursor.NextTime {
				skip++
			}
			entries = entries[skip:]
		case it.liveEdge > 0:
			entries = entries[max(0, len(entries)-it.liveEdge):]
		}

		period := r.Period()
		mpd := period.mpd
		timescale := t.timescale()
		pto := t.presentationTimeOffset()
		vars := r.vars()

		for _, entry := range entries {
			vars.Number = entry.number
			vars.Time = entry.time

			segment := &Segment{
				URI:      resolveURL(r.BaseURL, vars.expand(t.Media)),
				Num:      entry.number,
				Duration: scaled(entry.duration, timescale),
				Content:  true,
				Period:   period.key(),
			}

			if mpd.Dynamic() {
				end := scaled(entry.time+entry.duration, timescale) - scaled(pto, timescale)
				segment.AvailableAt = mpd.availabilityStart().Add(period.start + end)
			}

			it.cursor.advance(entry.number, entry.time+entry.duration)
			if !yield(segment, nil) {
				return
			}
		}
	}
}

func (r *Representation) numberSegments(t *SegmentTemplate, it iteration) iter.Seq2[*Segment, error] {
	return func(yield func(*Segment, error) bool) {
		if t.Duration == nil || *t.Duration == 0 {
			yield(nil, errors.Wrap(segmented.ErrParse, "segment template without duration or timeline"))
			return
		}

		period := r.Period()
		mpd := period.mpd
		timescale := t.timescale()
		duration := scaled(*t.Duration, timescale)
		startNumber := t.startNumber()

		count := int64(-1)
		if period.duration > 0 {
			count = int64((period.duration + duration - 1) / duration)
		}

		var first, end int64
		if mpd.Dynamic() {
			elapsed := it.now.Sub(mpd.availabilityStart().Add(period.start))

			var available int64
			if elapsed > 0 {
				available = int64(elapsed / duration)
			}
			if count >= 0 {
				available = min(available, count)
			}
			end = startNumber + available

			switch {
			case it.cursor.Started:
				first = it.cursor.NextNumber
				if depth := mpd.TimeShiftBufferDepth.Value(); depth > 0 {
					first = max(first, end-int64((depth+duration-1)/duration))
				}
			case it.liveEdge > 0:
				first = end - int64(it.liveEdge)
			default:
				first = startNumber
			}
		} else {
			if count < 0 {
				yield(nil, errors.Wrap(segmented.ErrParse, "unknown duration of static presentation"))
				return
			}

			end = startNumber + count
			first = startNumber
			if it.cursor.Started {
				first = it.cursor.NextNumber
			}
		}

		first = max(first, startNumber)
		vars := r.vars()

		for number := first; number < end; number++ {
			index := number - startNumber
			vars.Number = number
			vars.Time = t.presentationTimeOffset() + uint64(index)*(*t.Duration)

			segment := &Segment{
				URI:      resolveURL(r.BaseURL, vars.expand(t.Media)),
				Num:      number,
				Duration: duration,
				Content:  true,
				Period:   period.key(),
			}

			if mpd.Dynamic() {
				segment.AvailableAt = mpd.availabilityStart().Add(period.start + time.Duration(index+1)*duration)
			}

			it.cursor.advance(number, vars.Time+*t.Duration)
			if !yield(segment, nil) {
				return
			}
		}
	}
}

func (r *Representation) listSegments(l *SegmentList, it iteration) iter.Seq2[*Segment, error] {
	return func(yield func(*Segment, error) bool) {
		var duration time.Duration
		if l.Duration != nil {
			duration = scaled(*l.Duration, l.timescale())
		}

		urls := l.SegmentURLs
		startNumber := l.startNumber()

		first := 0
		switch {
		case it.cursor.Started:
			first = int(max(0, it.cursor.NextNumber-startNumber))
		case it.liveEdge > 0:
			first = max(0, len(urls)-it.liveEdge)
		}

		key := r.Period().key()

		for i := first; i < len(urls); i++ {
			number := startNumber + int64(i)

			segment := &Segment{
				URI:      r.BaseURL,
				Num:      number,
				Duration: duration,
				Content:  true,
				Period:   key,
			}

			if urls[i].Media != "" {
				segment.URI = resolveURL(r.BaseURL, urls[i].Media)
			}

			if urls[i].MediaRange != "" {
				byteRange, err := parseRange(urls[i].MediaRange)
				if err != nil {
					yield(nil, err)
					return
				}
				segment.ByteRange = byteRange
			}

			it.cursor.advance(number, 0)
			if !yield(segment, nil) {
				return
			}
		}
	}
}

// baseSegments yields the whole representation as a single segment.
func (r *Representation) baseSegments(it iteration) iter.Seq2[*Segment, error] {
	return func(yield func(*Segment, error) bool) {
		if it.cursor.Started {
			return
		}

		it.cursor.advance(0, 0)
		yield(&Segment{
			URI:      r.BaseURL,
			Duration: r.Period().duration,
			Init:     true,
			Content:  true,
			Period:   r.Period().key(),
		}, nil)
	}
}
