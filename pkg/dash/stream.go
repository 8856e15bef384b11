package dash

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/m1k1o/go-segstream/pkg/muxer"
	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

// Stream is a single representation of a manifest.
type Stream struct {
	session *session.Session
	mpd     *MPD
	// Representation id.
	ID string
}

func NewStream(sess *session.Session, mpd *MPD, id string) *Stream {
	return &Stream{
		session: sess,
		mpd:     mpd,
		ID:      id,
	}
}

func (s *Stream) Open(ctx context.Context) (io.ReadCloser, error) {
	p, err := segmented.New[*Segment](ctx, s.session, "dash")
	if err != nil {
		return nil, err
	}

	logger := p.Logger().With().Str("url", s.mpd.URL).Str("representation", s.ID).Logger()
	logger.Info().Msg("opening stream")

	worker := newWorker(s.session, logger, s.mpd, s.ID)
	writer := newWriter(s.session, logger, p.Output())

	return p.Start(worker, writer), nil
}

// ParseManifest loads a manifest and returns its playable streams. Video
// representations are muxed with the selected audio when muxing is available.
func ParseManifest(ctx context.Context, sess *session.Session, url string, mux *muxer.Config) (segmented.Streams, error) {
	data, err := sess.Get(ctx, url, session.Request{
		Attempts: sess.Options.PlaylistReloadAttempts,
		Timeout:  sess.Options.SegmentTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch manifest")
	}

	mpd, err := Parse(data, url, url)
	if err != nil {
		return nil, err
	}

	if len(mpd.Periods) == 0 {
		return nil, errors.Wrap(segmented.ErrParse, "manifest without periods")
	}

	logger := sess.Logger.With().Str("module", "dash").Str("url", url).Logger()

	var video, audio []*Representation
	for _, set := range mpd.Periods[0].AdaptationSets {
		for _, rep := range set.Representations {
			switch rep.ContentType() {
			case "video":
				video = append(video, rep)
			case "audio":
				audio = append(audio, rep)
			default:
				continue
			}

			if rep.Protected() {
				return nil, errors.Wrapf(segmented.ErrDRM, "%s is protected by DRM", url)
			}
		}
	}

	if len(video) == 0 && len(audio) == 0 {
		return nil, errors.Wrap(segmented.ErrParse, "no playable representations in manifest")
	}

	selected := selectAudio(audio, sess.Options)

	var streams segmented.Streams
	names := map[string]int{}
	name := func(base string) string {
		n := names[base]
		names[base]++
		switch n {
		case 0:
			return base
		case 1:
			return base + "_alt"
		}
		return fmt.Sprintf("%s_alt%d", base, n)
	}

	if len(video) == 0 {
		for _, rep := range audio {
			streams = append(streams, segmented.NamedStream{
				Name:      name(fmt.Sprintf("a%dk", rep.Bandwidth/1000)),
				Bandwidth: rep.Bandwidth,
				Stream:    NewStream(sess, mpd, rep.ID),
			})
		}
		return streams, nil
	}

	muxing := len(selected) > 0 && mux != nil && muxer.Available(*mux)
	if len(selected) > 0 && !muxing {
		logger.Warn().Msg("FFmpeg is not available, audio representations are not played")
	}

	for _, rep := range video {
		base := fmt.Sprintf("%dk", rep.Bandwidth/1000)
		if height := rep.height(); height > 0 {
			base = fmt.Sprintf("%dp", height)
		}

		named := segmented.NamedStream{
			Name:      name(base),
			Bandwidth: rep.Bandwidth,
			Height:    rep.height(),
			Stream:    NewStream(sess, mpd, rep.ID),
		}

		if muxing {
			tracks := []muxer.Track{{Stream: named.Stream}}
			for _, a := range selected {
				named.Bandwidth += a.Bandwidth
				tracks = append(tracks, muxer.Track{
					Stream:   NewStream(sess, mpd, a.ID),
					Audio:    true,
					Language: a.Lang(),
				})
			}
			named.Stream = muxer.New(*mux, tracks...)
		}

		streams = append(streams, named)
	}

	return streams, nil
}

// selectAudio keeps the best representation per language and applies the
// audio selection rules to them.
func selectAudio(audio []*Representation, opts session.Options) []*Representation {
	best := map[string]*Representation{}
	var langs []string

	for _, rep := range audio {
		current, ok := best[rep.Lang()]
		if !ok {
			langs = append(langs, rep.Lang())
		}
		if !ok || rep.Bandwidth > current.Bandwidth {
			best[rep.Lang()] = rep
		}
	}

	sort.Strings(langs)

	candidates := make([]*Representation, len(langs))
	tracks := make([]muxer.AudioTrack, len(langs))
	for i, lang := range langs {
		candidates[i] = best[lang]
		tracks[i] = muxer.AudioTrack{
			Language: lang,
			Name:     best[lang].ID,
			Default:  hasRole(best[lang].AdaptationSet(), "main"),
		}
	}

	var selected []*Representation
	for _, i := range muxer.SelectAudio(tracks, opts.AudioSelect, opts.Locale) {
		selected = append(selected, candidates[i])
	}
	return selected
}

func hasRole(set *AdaptationSet, value string) bool {
	for _, role := range set.Roles {
		if role.Value == value {
			return true
		}
	}
	return false
}
