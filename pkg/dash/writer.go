package dash

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/m1k1o/go-segstream/internal/metrics"
	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

// writer fetches segments once they are available and writes them in order.
type writer struct {
	session *session.Session
	metrics *metrics.Collector
	logger  zerolog.Logger
	output  *segmented.Output
	now     func() time.Time
}

func newWriter(sess *session.Session, logger zerolog.Logger, output *segmented.Output) *writer {
	return &writer{
		session: sess,
		metrics: sess.Metrics,
		logger:  logger.With().Str("submodule", "writer").Logger(),
		output:  output,
		now:     time.Now,
	}
}

func (w *writer) Prepare(segment *Segment) ([]segmented.Task, error) {
	return []segmented.Task{{
		Fetch: func(ctx context.Context) ([]byte, error) {
			return w.fetch(ctx, segment)
		},
		Commit: func(ctx context.Context, data []byte, err error) error {
			return w.commit(segment, data, err)
		},
	}}, nil
}

func (w *writer) fetch(ctx context.Context, segment *Segment) ([]byte, error) {
	if wait := segment.AvailableAt.Sub(w.now()); !segment.AvailableAt.IsZero() && wait > 0 {
		w.logger.Debug().
			Int64("segment", segment.Num).
			Dur("wait", wait).
			Msg("waiting for segment availability")

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	data, err := w.session.Get(ctx, segment.URI, session.Request{
		Range:    segment.ByteRange,
		Attempts: w.session.Options.SegmentAttempts,
		Timeout:  w.session.Options.SegmentTimeout,
	})
	if err != nil {
		if initOnly(segment) {
			return nil, errors.Wrapf(segmented.ErrInitSegment, "init %s: %s", segment.URI, err)
		}
		return nil, errors.Wrapf(segmented.ErrSegment, "segment %d: %s", segment.Num, err)
	}

	return data, nil
}

// initOnly reports whether the segment holds no media.
func initOnly(segment *Segment) bool {
	return segment.Init && !segment.Content
}

func (w *writer) commit(segment *Segment, data []byte, err error) error {
	kind := "media"
	if initOnly(segment) {
		kind = "init"
	}

	if err != nil {
		w.metrics.SegmentFailed(kind)

		if kind == "init" {
			return err
		}

		w.logger.Warn().Err(err).Int64("segment", segment.Num).Msg("Failed to fetch segment, skipping")
		return nil
	}

	w.metrics.SegmentFetched(kind)

	if segment.Init {
		w.logger.Debug().Str("uri", segment.URI).Msg("writing init segment")
	} else {
		w.logger.Debug().Int64("segment", segment.Num).Msg("writing segment")
	}

	_, err = w.output.Write(data)
	return err
}
