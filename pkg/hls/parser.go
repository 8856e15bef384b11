package hls

import (
	"bufio"
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

var (
	// ErrMultivariant is returned when a media playlist was expected.
	ErrMultivariant = errors.New("attempted to play a multivariant playlist")
	// ErrIFramesOnly is returned for playlists that only contain I-frames.
	ErrIFramesOnly = errors.New("streams containing I-frames only are not playable")
)

type tagHandler func(p *parser, value string) error

// tagHandlers maps tag names to their handlers, unknown tags are ignored.
var tagHandlers = map[string]tagHandler{
	"EXT-X-VERSION":                (*parser).parseVersion,
	"EXT-X-TARGETDURATION":         (*parser).parseTargetDuration,
	"EXT-X-MEDIA-SEQUENCE":         (*parser).parseMediaSequence,
	"EXT-X-DISCONTINUITY-SEQUENCE": (*parser).parseDiscontinuitySequence,
	"EXT-X-PLAYLIST-TYPE":          (*parser).parsePlaylistType,
	"EXT-X-ENDLIST":                (*parser).parseEndList,
	"EXT-X-I-FRAMES-ONLY":          (*parser).parseIFramesOnly,
	"EXT-X-ALLOW-CACHE":            (*parser).parseAllowCache,
	"EXT-X-INDEPENDENT-SEGMENTS":   (*parser).parseIndependentSegments,
	"EXT-X-START":                  (*parser).parseStart,
	"EXTINF":                       (*parser).parseExtInf,
	"EXT-X-BYTERANGE":              (*parser).parseByteRange,
	"EXT-X-DISCONTINUITY":          (*parser).parseDiscontinuity,
	"EXT-X-KEY":                    (*parser).parseKey,
	"EXT-X-MAP":                    (*parser).parseMap,
	"EXT-X-PROGRAM-DATE-TIME":      (*parser).parseProgramDateTime,
	"EXT-X-DATERANGE":              (*parser).parseDateRange,
	"EXT-X-PREFETCH":               (*parser).parsePrefetch,
	"EXT-X-STREAM-INF":             (*parser).parseStreamInf,
	"EXT-X-I-FRAME-STREAM-INF":     (*parser).parseIFrameStreamInf,
	"EXT-X-MEDIA":                  (*parser).parseMedia,
}

type extInf struct {
	duration time.Duration
	title    string
}

type pendingRange struct {
	length int64
	offset *int64
}

type parser struct {
	base     *url.URL
	logger   zerolog.Logger
	prefetch bool

	media        *MediaPlaylist
	multivariant *MultivariantPlaylist
	isVariant    bool

	// state carried forward into the next segment
	key           *Key
	keySet        bool
	mapping       *Map
	mapSet        bool
	discontinuity bool
	byterange     *pendingRange
	extinf        *extInf
	date          *time.Time
	streamInf     *Variant

	index        int64
	lastDuration time.Duration
	lastRangeURI string
	lastRangeEnd int64
}

type ParseOption func(p *parser)

// WithPrefetch enables #EXT-X-PREFETCH segments for low latency streaming.
func WithPrefetch() ParseOption {
	return func(p *parser) {
		p.prefetch = true
	}
}

// WithPending seeds key and map declared at the tail of the previous playlist.
func WithPending(pending Pending) ParseOption {
	return func(p *parser) {
		if pending.KeySet {
			p.key = pending.Key
		}
		if pending.MapSet {
			p.mapping = pending.Map
		}
	}
}

func WithLogger(logger zerolog.Logger) ParseOption {
	return func(p *parser) {
		p.logger = logger
	}
}

// Parse parses either a media or a multivariant playlist, exactly one of the
// returned playlists is set on success.
func Parse(data []byte, baseURL string, opts ...ParseOption) (*MediaPlaylist, *MultivariantPlaylist, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, nil, errors.Wrapf(segmented.ErrParse, "invalid base url: %s", err)
	}

	p := &parser{
		base:         base,
		logger:       log.With().Str("module", "hls").Str("submodule", "parser").Logger(),
		media:        &MediaPlaylist{},
		multivariant: &MultivariantPlaylist{},
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.parse(data); err != nil {
		return nil, nil, err
	}

	if p.isVariant {
		p.multivariant.Version = p.media.Version
		p.multivariant.IndependentSegments = p.media.IndependentSegments
		return nil, p.multivariant, nil
	}

	p.media.Pending = Pending{
		Key:           p.key,
		KeySet:        p.keySet,
		Map:           p.mapping,
		MapSet:        p.mapSet,
		Discontinuity: p.discontinuity,
	}

	return p.media, nil, nil
}

// ParseMediaPlaylist fails with ErrMultivariant for multivariant playlists,
// so that callers can resolve a variant first.
func ParseMediaPlaylist(data []byte, baseURL string, opts ...ParseOption) (*MediaPlaylist, error) {
	media, _, err := Parse(data, baseURL, opts...)
	if err != nil {
		return nil, err
	}

	if media == nil {
		return nil, ErrMultivariant
	}

	if media.IFramesOnly {
		return nil, ErrIFramesOnly
	}

	return media, nil
}

func ParseMultivariantPlaylist(data []byte, baseURL string, opts ...ParseOption) (*MultivariantPlaylist, error) {
	_, multivariant, err := Parse(data, baseURL, opts...)
	if err != nil {
		return nil, err
	}

	if multivariant == nil {
		return nil, errors.Wrap(segmented.ErrParse, "not a multivariant playlist")
	}

	return multivariant, nil
}

func (p *parser) parse(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	header := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !header {
			if !strings.HasPrefix(line, "#EXTM3U") {
				return errors.Wrap(segmented.ErrParse, "missing #EXTM3U header")
			}
			header = true
			continue
		}

		if strings.HasPrefix(line, "#EXT") {
			name, value, _ := strings.Cut(line[1:], ":")
			handler, ok := tagHandlers[name]
			if !ok {
				continue
			}

			if err := handler(p, value); err != nil {
				p.logger.Warn().Err(err).Str("tag", name).Msg("dropping malformed tag")
			}
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}

		p.parseURI(line)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(segmented.ErrParse, err.Error())
	}

	if !header {
		return errors.Wrap(segmented.ErrParse, "missing #EXTM3U header")
	}

	return nil
}

func (p *parser) resolve(uri string) string {
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return p.base.ResolveReference(ref).String()
}

func (p *parser) parseURI(uri string) {
	if p.streamInf != nil {
		variant := p.streamInf
		variant.URI = p.resolve(uri)
		p.multivariant.Variants = append(p.multivariant.Variants, variant)
		p.streamInf = nil
		return
	}

	var duration time.Duration
	var title string
	if p.extinf != nil {
		duration, title = p.extinf.duration, p.extinf.title
	}

	p.addSegment(p.resolve(uri), duration, title, false)
}

func (p *parser) addSegment(uri string, duration time.Duration, title string, prefetch bool) {
	num := p.media.MediaSequence + p.index
	p.index++

	segment := &Segment{
		Num:           num,
		URI:           uri,
		Duration:      duration,
		Title:         title,
		Discontinuity: p.discontinuity,
		Key:           p.key,
		Map:           p.mapping,
		Prefetch:      prefetch,
	}

	if p.date != nil {
		date := *p.date
		segment.Date = &date
		next := date.Add(duration)
		p.date = &next
	}

	byterange := p.byterange

	// per segment state is consumed even if the segment gets dropped
	p.extinf = nil
	p.byterange = nil
	p.discontinuity = false
	p.keySet = false
	p.mapSet = false
	p.lastDuration = duration

	if byterange != nil {
		var offset int64
		switch {
		case byterange.offset != nil:
			offset = *byterange.offset
		case p.lastRangeURI == uri:
			offset = p.lastRangeEnd
		default:
			p.logger.Warn().Int64("segment", num).Str("uri", uri).Msg("missing byterange offset, dropping segment")
			p.lastRangeURI = ""
			return
		}

		segment.ByteRange = &session.ByteRange{Offset: offset, Length: byterange.length}
		p.lastRangeURI = uri
		p.lastRangeEnd = offset + byterange.length
	}

	p.media.Segments = append(p.media.Segments, segment)
}

func parseRange(value string) (*pendingRange, error) {
	length, offset, hasOffset := strings.Cut(strings.TrimSpace(value), "@")

	n, err := strconv.ParseInt(length, 10, 64)
	if err != nil || n < 0 {
		return nil, errors.Errorf("invalid byterange length %q", length)
	}

	r := &pendingRange{length: n}
	if hasOffset {
		off, err := strconv.ParseInt(offset, 10, 64)
		if err != nil || off < 0 {
			return nil, errors.Errorf("invalid byterange offset %q", offset)
		}
		r.offset = &off
	}

	return r, nil
}

//
// media playlist tags
//

func (p *parser) parseVersion(value string) error {
	version, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	p.media.Version = version
	return nil
}

func (p *parser) parseTargetDuration(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	p.media.TargetDuration = seconds(f)
	return nil
}

func (p *parser) parseMediaSequence(value string) error {
	sequence, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	p.media.MediaSequence = sequence
	return nil
}

func (p *parser) parseDiscontinuitySequence(value string) error {
	sequence, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	p.media.DiscontinuitySequence = sequence
	return nil
}

func (p *parser) parsePlaylistType(value string) error {
	p.media.PlaylistType = strings.TrimSpace(value)
	return nil
}

func (p *parser) parseEndList(string) error {
	p.media.EndList = true
	return nil
}

func (p *parser) parseIFramesOnly(string) error {
	p.media.IFramesOnly = true
	return nil
}

func (p *parser) parseAllowCache(value string) error {
	allow := strings.TrimSpace(value) == "YES"
	p.media.AllowCache = &allow
	return nil
}

func (p *parser) parseIndependentSegments(string) error {
	p.media.IndependentSegments = true
	return nil
}

func (p *parser) parseStart(value string) error {
	attrs, err := ParseAttributes(value)
	if err != nil {
		return err
	}

	offset, err := attrs.Seconds("TIME-OFFSET")
	if err != nil {
		return err
	}

	p.media.StartOffset = &offset
	return nil
}

func (p *parser) parseExtInf(value string) error {
	duration, title, _ := strings.Cut(value, ",")

	f, err := strconv.ParseFloat(strings.TrimSpace(duration), 64)
	if err != nil {
		return errors.Errorf("invalid segment duration %q", duration)
	}

	p.extinf = &extInf{
		duration: seconds(f),
		title:    strings.TrimSpace(title),
	}
	return nil
}

func (p *parser) parseByteRange(value string) error {
	r, err := parseRange(value)
	if err != nil {
		return err
	}
	p.byterange = r
	return nil
}

func (p *parser) parseDiscontinuity(string) error {
	p.discontinuity = true
	return nil
}

func (p *parser) parseKey(value string) error {
	attrs, err := ParseAttributes(value)
	if err != nil {
		return err
	}

	method := attrs.String("METHOD")
	if method == "" {
		return errors.New("missing key method")
	}

	p.keySet = true
	if method == MethodNone {
		p.key = nil
		return nil
	}

	key := &Key{
		Method:            method,
		KeyFormat:         KeyFormatIdentity,
		KeyFormatVersions: attrs.String("KEYFORMATVERSIONS"),
	}

	if attrs.Has("URI") {
		key.URI = p.resolve(attrs.String("URI"))
	}

	if attrs.Has("IV") {
		iv, err := attrs.Hex("IV")
		if err != nil {
			return err
		}
		key.IV = iv
	}

	if attrs.Has("KEYFORMAT") {
		key.KeyFormat = attrs.String("KEYFORMAT")
	}

	p.key = key
	return nil
}

func (p *parser) parseMap(value string) error {
	attrs, err := ParseAttributes(value)
	if err != nil {
		return err
	}

	if !attrs.Has("URI") {
		return errors.New("missing map uri")
	}

	mapping := &Map{
		URI: p.resolve(attrs.String("URI")),
		Key: p.key,
	}

	if attrs.Has("BYTERANGE") {
		r, err := parseRange(attrs.String("BYTERANGE"))
		if err != nil {
			return err
		}

		var offset int64
		if r.offset != nil {
			offset = *r.offset
		}
		mapping.ByteRange = &session.ByteRange{Offset: offset, Length: r.length}
	}

	p.mapping = mapping
	p.mapSet = true
	return nil
}

func (p *parser) parseProgramDateTime(value string) error {
	date, err := parseDate(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	p.date = &date
	return nil
}

func (p *parser) parseDateRange(value string) error {
	attrs, err := ParseAttributes(value)
	if err != nil {
		return err
	}

	start, err := attrs.Date("START-DATE")
	if err != nil {
		return err
	}

	dr := &DateRange{
		ID:         attrs.String("ID"),
		Class:      attrs.String("CLASS"),
		StartDate:  start,
		EndOnNext:  attrs.Bool("END-ON-NEXT"),
		Attributes: map[string]string{},
	}

	if attrs.Has("END-DATE") {
		end, err := attrs.Date("END-DATE")
		if err != nil {
			return err
		}
		dr.EndDate = &end
	}

	if attrs.Has("DURATION") {
		d, err := attrs.Seconds("DURATION")
		if err != nil {
			return err
		}
		dr.Duration = &d
	}

	if attrs.Has("PLANNED-DURATION") {
		d, err := attrs.Seconds("PLANNED-DURATION")
		if err != nil {
			return err
		}
		dr.PlannedDuration = &d
	}

	for name, val := range attrs {
		if strings.HasPrefix(name, "X-") {
			dr.Attributes[name] = val
		}
	}

	p.media.DateRanges = append(p.media.DateRanges, dr)
	return nil
}

func (p *parser) parsePrefetch(value string) error {
	if !p.prefetch {
		return nil
	}

	uri := strings.TrimSpace(value)
	if uri == "" {
		return errors.New("missing prefetch uri")
	}

	// prefetch segments have no duration, assume the last one
	p.addSegment(p.resolve(uri), p.lastDuration, "", true)
	return nil
}

//
// multivariant playlist tags
//

func (p *parser) parseVariant(attrs Attributes) (*Variant, error) {
	variant := &Variant{
		Codecs:         attrs.String("CODECS"),
		Audio:          attrs.String("AUDIO"),
		Video:          attrs.String("VIDEO"),
		Subtitles:      attrs.String("SUBTITLES"),
		ClosedCaptions: attrs.String("CLOSED-CAPTIONS"),
	}

	if attrs.Has("BANDWIDTH") {
		bandwidth, err := attrs.Int("BANDWIDTH")
		if err != nil {
			return nil, errors.Wrap(err, "invalid bandwidth")
		}
		variant.Bandwidth = bandwidth
	}

	if attrs.Has("AVERAGE-BANDWIDTH") {
		bandwidth, err := attrs.Int("AVERAGE-BANDWIDTH")
		if err != nil {
			return nil, errors.Wrap(err, "invalid average bandwidth")
		}
		variant.AverageBandwidth = bandwidth
	}

	if attrs.Has("RESOLUTION") {
		resolution, err := attrs.Resolution("RESOLUTION")
		if err != nil {
			return nil, err
		}
		variant.Resolution = resolution
	}

	if attrs.Has("FRAME-RATE") {
		rate, err := attrs.Float("FRAME-RATE")
		if err != nil {
			return nil, errors.Wrap(err, "invalid frame rate")
		}
		variant.FrameRate = rate
	}

	return variant, nil
}

func (p *parser) parseStreamInf(value string) error {
	p.isVariant = true

	attrs, err := ParseAttributes(value)
	if err != nil {
		return err
	}

	variant, err := p.parseVariant(attrs)
	if err != nil {
		return err
	}

	p.streamInf = variant
	return nil
}

func (p *parser) parseIFrameStreamInf(value string) error {
	p.isVariant = true

	attrs, err := ParseAttributes(value)
	if err != nil {
		return err
	}

	variant, err := p.parseVariant(attrs)
	if err != nil {
		return err
	}

	if !attrs.Has("URI") {
		return errors.New("missing i-frame stream uri")
	}

	variant.URI = p.resolve(attrs.String("URI"))
	variant.IFrame = true
	p.multivariant.Variants = append(p.multivariant.Variants, variant)
	return nil
}

func (p *parser) parseMedia(value string) error {
	p.isVariant = true

	attrs, err := ParseAttributes(value)
	if err != nil {
		return err
	}

	media := &Media{
		Type:            attrs.String("TYPE"),
		GroupID:         attrs.String("GROUP-ID"),
		Language:        attrs.String("LANGUAGE"),
		AssocLanguage:   attrs.String("ASSOC-LANGUAGE"),
		Name:            attrs.String("NAME"),
		Default:         attrs.Bool("DEFAULT"),
		AutoSelect:      attrs.Bool("AUTOSELECT"),
		Forced:          attrs.Bool("FORCED"),
		Characteristics: attrs.String("CHARACTERISTICS"),
		Channels:        attrs.String("CHANNELS"),
	}

	if media.Type == "" || media.GroupID == "" {
		return errors.New("media requires TYPE and GROUP-ID")
	}

	if attrs.Has("URI") {
		media.URI = p.resolve(attrs.String("URI"))
	}

	p.multivariant.Media = append(p.multivariant.Media, media)
	return nil
}
