package dash

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

const (
	defaultRefreshWait = 5 * time.Second
	backOffFactor      = 1.3
	maxBackOff         = 10.0
)

// worker walks the manifest of one representation and reloads dynamic
// manifests until the stream is closed.
type worker struct {
	session *session.Session
	logger  zerolog.Logger
	id      string
	mpd     *MPD
	now     func() time.Time

	cursor   Cursor
	next     int64
	period   string
	backOff  float64
	failures int

	// duration of all queued segments
	queued time.Duration
}

func newWorker(sess *session.Session, logger zerolog.Logger, mpd *MPD, id string) *worker {
	return &worker{
		session: sess,
		logger:  logger.With().Str("submodule", "worker").Logger(),
		id:      id,
		mpd:     mpd,
		now:     time.Now,
		backOff: 1,
	}
}

func (w *worker) Run(ctx context.Context, queue *segmented.Queue[*Segment]) error {
	// a dynamic manifest may be stale by the time the stream gets opened
	if w.mpd.Dynamic() {
		mpd, err := w.fetch(ctx, w.session.Options.PlaylistReloadAttempts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "unable to open manifest")
		}
		w.mpd = mpd
	}

	for {
		started := w.now()

		queued, done, err := w.process(ctx, queue)
		if err != nil || done {
			return err
		}

		if !w.mpd.Dynamic() {
			w.logger.Debug().Msg("reached end of manifest")
			return nil
		}

		wait := w.nextWait(queued)
		if err := w.sleep(ctx, wait-w.now().Sub(started)); err != nil {
			return err
		}

		if err := w.reload(ctx); err != nil {
			return err
		}
	}
}

// process queues new segments and reports whether the stream ended.
func (w *worker) process(ctx context.Context, queue *segmented.Queue[*Segment]) (int, bool, error) {
	limit := w.session.Options.Duration
	queued := 0

	for segment, err := range w.mpd.Segments(w.id, &w.cursor, w.now(), w.session.Options.LiveEdge) {
		if err != nil {
			// live manifests may drop a representation for a while
			if errors.Is(err, ErrRepresentationNotFound) && w.mpd.Dynamic() && w.cursor.Period != "" {
				w.logger.Warn().Str("representation", w.id).Msg("Representation missing from reloaded manifest")
				return queued, false, nil
			}
			return queued, true, err
		}

		if !segment.Init {
			if segment.Period == w.period && segment.Num > w.next {
				w.logSkipped(w.next, segment.Num-1)
				w.session.Metrics.SegmentsSkipped(segment.Num - w.next)
			}
			w.period = segment.Period
			w.next = segment.Num + 1
		}

		if err := queue.Put(ctx, segment); err != nil {
			return queued, true, err
		}

		w.logger.Debug().
			Int64("segment", segment.Num).
			Bool("init", segment.Init).
			Msg("queued segment")

		queued++
		w.queued += segment.Duration

		if limit > 0 && w.queued >= limit {
			w.logger.Info().Msgf("Stopping stream early after %.2fs", w.queued.Seconds())
			return queued, true, nil
		}
	}

	return queued, false, nil
}

func (w *worker) logSkipped(from, to int64) {
	if from == to {
		w.logger.Warn().Msgf("Skipped segment %d after manifest reload. This is unsupported and will result in incoherent output data.", from)
		return
	}
	w.logger.Warn().Msgf("Skipped segments %d-%d after manifest reload. This is unsupported and will result in incoherent output data.", from, to)
}

// nextWait backs off while reloads bring no new segments.
func (w *worker) nextWait(queued int) time.Duration {
	if queued > 0 {
		w.backOff = 1
	} else {
		w.backOff = min(w.backOff*backOffFactor, maxBackOff)
	}

	return time.Duration(float64(w.refreshWait()) * w.backOff)
}

func (w *worker) refreshWait() time.Duration {
	policy := w.session.Options.PlaylistReloadTime
	if policy.Policy == "" && policy.Override > 0 {
		return time.Duration(policy.Override * float64(time.Second))
	}

	if period := w.mpd.MinimumUpdatePeriod.Value(); period > 0 {
		return period
	}

	return defaultRefreshWait
}

func (w *worker) sleep(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *worker) fetch(ctx context.Context, attempts int) (*MPD, error) {
	url := w.mpd.ReloadURL()

	data, err := w.session.Get(ctx, url, session.Request{
		Attempts: attempts,
		Timeout:  w.session.Options.SegmentTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(segmented.ErrReload, err.Error())
	}

	return Parse(data, url, url)
}

func (w *worker) reload(ctx context.Context) error {
	w.logger.Debug().Msg("reloading manifest")

	mpd, err := w.fetch(ctx, 1)
	w.session.Metrics.PlaylistReloaded(err)

	if err == nil {
		w.failures = 0
		w.mpd = mpd
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.failures++
	if w.failures >= w.session.Options.PlaylistReloadAttempts {
		return errors.Wrapf(segmented.ErrReload, "failed to reload manifest %d times: %s", w.failures, err)
	}

	w.logger.Warn().Err(err).Int("failures", w.failures).Msg("Failed to reload manifest")
	return nil
}
