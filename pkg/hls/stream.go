package hls

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/m1k1o/go-segstream/pkg/muxer"
	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

// Stream is a single HLS media playlist.
type Stream struct {
	session *session.Session
	URL     string

	// IsAd marks additional date ranges as ad breaks.
	IsAd func(dr *DateRange) bool
}

func NewStream(sess *session.Session, url string) *Stream {
	return &Stream{
		session: sess,
		URL:     url,
	}
}

func (s *Stream) Open(ctx context.Context) (io.ReadCloser, error) {
	filter, err := NewFilter(s.session.Options)
	if err != nil {
		return nil, err
	}
	filter.IsAd = s.IsAd

	p, err := segmented.New[*Segment](ctx, s.session, "hls")
	if err != nil {
		return nil, err
	}

	logger := p.Logger().With().Str("url", s.URL).Logger()
	logger.Info().Msg("opening stream")

	worker := newWorker(s.session, logger, s.URL)
	writer := newWriter(s.session, logger, p.Output(), filter)

	return p.Start(worker, writer), nil
}

// ParseVariantPlaylist loads a playlist and returns its playable streams.
// Variants with external audio renditions are muxed when muxing is available,
// a media playlist is returned as a single stream.
func ParseVariantPlaylist(ctx context.Context, sess *session.Session, url string, mux *muxer.Config) (segmented.Streams, error) {
	data, err := sess.Get(ctx, url, session.Request{
		Attempts: sess.Options.PlaylistReloadAttempts,
		Timeout:  sess.Options.SegmentTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch playlist")
	}

	media, multivariant, err := Parse(data, url)
	if err != nil {
		return nil, err
	}

	if media != nil {
		name := "live"
		if media.EndList {
			name = "vod"
		}
		return segmented.Streams{{Name: name, Stream: NewStream(sess, url)}}, nil
	}

	logger := sess.Logger.With().Str("module", "hls").Str("url", url).Logger()

	muxing := mux != nil && muxer.Available(*mux)
	warned := false

	var streams segmented.Streams
	names := map[string]int{}

	for _, variant := range multivariant.Variants {
		if variant.IFrame {
			continue
		}

		name := variantName(multivariant, variant)
		if n := names[name]; n > 0 {
			names[name]++
			if n == 1 {
				name += "_alt"
			} else {
				name = fmt.Sprintf("%s_alt%d", name, n)
			}
		} else {
			names[name] = 1
		}

		named := segmented.NamedStream{
			Name:      name,
			Bandwidth: variant.Bandwidth,
			Stream:    NewStream(sess, variant.URI),
		}
		if variant.Resolution != nil {
			named.Height = variant.Resolution.Height
		}

		audio := externalAudio(multivariant, variant)
		if len(audio) > 0 {
			if muxing {
				named.Stream = muxedStream(sess, *mux, variant, audio)
			} else if !warned {
				logger.Warn().Msg("FFmpeg is not available, external audio renditions are not played")
				warned = true
			}
		}

		streams = append(streams, named)
	}

	if len(streams) == 0 {
		return nil, errors.Wrap(segmented.ErrParse, "no playable variants in multivariant playlist")
	}

	return streams, nil
}

func variantName(multivariant *MultivariantPlaylist, variant *Variant) string {
	if variant.Video != "" {
		for _, media := range multivariant.MediaGroup("VIDEO", variant.Video) {
			if media.Name != "" {
				return media.Name
			}
		}
	}

	if variant.Resolution != nil && variant.Resolution.Height > 0 {
		return fmt.Sprintf("%dp", variant.Resolution.Height)
	}

	if variant.Bandwidth > 0 {
		return fmt.Sprintf("%dk", variant.Bandwidth/1000)
	}

	return "live"
}

// externalAudio returns audio renditions that are separate playlists.
func externalAudio(multivariant *MultivariantPlaylist, variant *Variant) []*Media {
	if variant.Audio == "" {
		return nil
	}

	var audio []*Media
	for _, media := range multivariant.MediaGroup("AUDIO", variant.Audio) {
		if media.URI != "" && media.URI != variant.URI {
			audio = append(audio, media)
		}
	}
	return audio
}

func muxedStream(sess *session.Session, config muxer.Config, variant *Variant, audio []*Media) segmented.Stream {
	tracks := make([]muxer.AudioTrack, len(audio))
	for i, media := range audio {
		tracks[i] = muxer.AudioTrack{
			Language: media.Language,
			Name:     media.Name,
			Default:  media.Default,
		}
	}

	inputs := []muxer.Track{{Stream: NewStream(sess, variant.URI)}}
	for _, i := range muxer.SelectAudio(tracks, sess.Options.AudioSelect, sess.Options.Locale) {
		inputs = append(inputs, muxer.Track{
			Stream:   NewStream(sess, audio[i].URI),
			Audio:    true,
			Language: audio[i].Language,
		})
	}

	return muxer.New(config, inputs...)
}
