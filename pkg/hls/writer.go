package hls

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/m1k1o/go-segstream/internal/metrics"
	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

type keyID struct {
	uri       string
	method    string
	keyFormat string
}

type mapID struct {
	uri    string
	offset int64
	length int64
}

func newMapID(m *Map) mapID {
	id := mapID{uri: m.URI}
	if m.ByteRange != nil {
		id.offset = m.ByteRange.Offset
		id.length = m.ByteRange.Length
	}
	return id
}

// writer turns queued segments into ordered fetch and commit tasks.
type writer struct {
	session *session.Session
	metrics *metrics.Collector
	logger  zerolog.Logger
	output  *segmented.Output
	filter  *Filter

	// only touched from Prepare
	lastMap *mapID

	// only touched from commits
	keys map[keyID][]byte
}

func newWriter(sess *session.Session, logger zerolog.Logger, output *segmented.Output, filter *Filter) *writer {
	return &writer{
		session: sess,
		metrics: sess.Metrics,
		logger:  logger.With().Str("submodule", "writer").Logger(),
		output:  output,
		filter:  filter,
		keys:    map[keyID][]byte{},
	}
}

func (w *writer) request(r *session.ByteRange) session.Request {
	return session.Request{
		Range:    r,
		Attempts: w.session.Options.SegmentAttempts,
		Timeout:  w.session.Options.SegmentTimeout,
	}
}

func (w *writer) Prepare(segment *Segment) ([]segmented.Task, error) {
	if w.filter.Filtered(segment) {
		return []segmented.Task{{
			Commit: func(ctx context.Context, _ []byte, _ error) error {
				return w.commitFiltered(segment)
			},
		}}, nil
	}

	var tasks []segmented.Task

	if segment.Map != nil {
		id := newMapID(segment.Map)
		if w.lastMap == nil || *w.lastMap != id {
			w.lastMap = &id
			tasks = append(tasks, w.mapTask(segment))
		}
	}

	tasks = append(tasks, segmented.Task{
		Fetch: func(ctx context.Context) ([]byte, error) {
			data, err := w.session.Get(ctx, segment.URI, w.request(segment.ByteRange))
			if err != nil {
				return nil, errors.Wrapf(segmented.ErrSegment, "segment %d: %s", segment.Num, err)
			}
			return data, nil
		},
		Commit: func(ctx context.Context, data []byte, err error) error {
			return w.commitSegment(ctx, segment, data, err)
		},
	})

	return tasks, nil
}

func (w *writer) mapTask(segment *Segment) segmented.Task {
	m := segment.Map

	return segmented.Task{
		Fetch: func(ctx context.Context) ([]byte, error) {
			data, err := w.session.Get(ctx, m.URI, w.request(m.ByteRange))
			if err != nil {
				return nil, errors.Wrapf(segmented.ErrInitSegment, "map %s: %s", m.URI, err)
			}
			return data, nil
		},
		Commit: func(ctx context.Context, data []byte, err error) error {
			if err != nil {
				w.metrics.SegmentFailed("init")
				return err
			}
			w.metrics.SegmentFetched("init")

			if m.Key != nil {
				data, err = w.decrypt(ctx, m.Key, segment.Num, data)
				if err != nil {
					if errors.Is(err, segmented.ErrDecryptConfig) {
						return err
					}
					return errors.Wrapf(segmented.ErrInitSegment, "map %s: %s", m.URI, err)
				}
			}

			w.logger.Debug().Str("uri", m.URI).Msg("writing map")
			return w.write(data)
		},
	}
}

func (w *writer) commitFiltered(segment *Segment) error {
	w.metrics.SegmentFiltered()

	if w.output.Pause() {
		w.logger.Info().Msg("Filtering out segments and pausing stream output")
	}

	w.logger.Debug().Int64("segment", segment.Num).Msg("discarding filtered segment")
	return nil
}

func (w *writer) commitSegment(ctx context.Context, segment *Segment, data []byte, err error) error {
	if err != nil {
		w.metrics.SegmentFailed("media")
		w.logger.Warn().Err(err).Int64("segment", segment.Num).Msg("Failed to fetch segment, skipping")
		return nil
	}
	w.metrics.SegmentFetched("media")

	if segment.Key != nil {
		data, err = w.decrypt(ctx, segment.Key, segment.Num, data)
		if err != nil {
			if segmented.IsFatal(err) {
				return err
			}

			w.metrics.SegmentFailed("media")
			w.logger.Warn().Err(err).Int64("segment", segment.Num).Msg("Failed to decrypt segment, skipping")
			return nil
		}
	}

	if w.output.Resume() {
		w.logger.Info().Msg("Resuming stream output")
	}

	if segment.Discontinuity && w.output.WrittenOnce() {
		w.logger.Warn().Msg("Encountered a stream discontinuity. This is unsupported and will result in incoherent output data.")
	}

	w.logger.Debug().Int64("segment", segment.Num).Int("bytes", len(data)).Msg("writing segment")
	return w.write(data)
}

func (w *writer) write(data []byte) error {
	_, err := w.output.Write(data)
	return err
}

func (w *writer) decrypt(ctx context.Context, key *Key, num int64, data []byte) ([]byte, error) {
	secret, err := w.key(ctx, key)
	if err != nil {
		return nil, err
	}

	iv := segmented.IVFromSequence(num)
	if len(key.IV) > 0 {
		iv = segmented.PadIV(key.IV)
	}

	return segmented.DecryptAES128(secret, iv, data)
}

func (w *writer) key(ctx context.Context, key *Key) ([]byte, error) {
	if key.Method != MethodAES128 {
		return nil, errors.Wrapf(segmented.ErrDecryptConfig, "unable to decrypt cipher %s", key.Method)
	}

	if key.URI == "" {
		return nil, errors.Wrap(segmented.ErrDecryptConfig, "missing URI for decryption key")
	}

	uri := rewriteKeyURI(w.session.Options.SegmentKeyURI, key.URI)
	id := keyID{uri: uri, method: key.Method, keyFormat: key.KeyFormat}

	if secret, ok := w.keys[id]; ok {
		return secret, nil
	}

	secret, err := w.session.Get(ctx, uri, w.request(nil))
	if err != nil {
		w.metrics.SegmentFailed("key")
		return nil, errors.Wrapf(segmented.ErrSegment, "key %s: %s", uri, err)
	}

	if len(secret) != 16 {
		w.metrics.SegmentFailed("key")
		return nil, errors.Wrapf(segmented.ErrDecrypt, "key %s has invalid length %d", uri, len(secret))
	}

	w.metrics.SegmentFetched("key")
	w.keys[id] = secret
	return secret, nil
}

// rewriteKeyURI applies a template like "https://example.com{path}?{query}".
func rewriteKeyURI(template, uri string) string {
	if template == "" {
		return uri
	}

	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}

	return strings.NewReplacer(
		"{scheme}", u.Scheme,
		"{netloc}", u.Host,
		"{path}", u.EscapedPath(),
		"{query}", u.RawQuery,
	).Replace(template)
}
