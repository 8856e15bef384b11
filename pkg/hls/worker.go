package hls

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

const (
	defaultReloadTime = 6 * time.Second
	minStallThreshold = 5 * time.Second
	lowLatencyEdge    = 2
)

// worker owns the playlist lifecycle and feeds segments to the writer.
type worker struct {
	session *session.Session
	logger  zerolog.Logger
	url     string

	liveEdge int
	prefetch bool

	playlist *MediaPlaylist
	// number of the next segment to enqueue, -1 before the first load
	sequence     int64
	lastQueuedAt time.Time
	reloadTime   time.Duration
	reloadLast   time.Time
	failures     int

	pendingDiscontinuity bool

	// duration of all queued segments
	queued time.Duration
}

func newWorker(sess *session.Session, logger zerolog.Logger, url string) *worker {
	opts := sess.Options

	w := &worker{
		session:  sess,
		logger:   logger.With().Str("submodule", "worker").Logger(),
		url:      url,
		liveEdge: opts.LiveEdge,
		sequence: -1,
	}

	if opts.LowLatency {
		w.prefetch = true
		w.liveEdge = min(w.liveEdge, lowLatencyEdge)
		w.logger.Info().Int("live_edge", w.liveEdge).Msg("Low latency streaming")
	}

	return w
}

func (w *worker) parseOptions() []ParseOption {
	opts := []ParseOption{WithLogger(w.logger)}
	if w.prefetch {
		opts = append(opts, WithPrefetch())
	}
	if w.playlist != nil {
		opts = append(opts, WithPending(w.playlist.Pending))
	}
	return opts
}

func (w *worker) fetchPlaylist(ctx context.Context, attempts int) (*MediaPlaylist, error) {
	data, err := w.session.Get(ctx, w.url, session.Request{
		Attempts: attempts,
		Timeout:  w.session.Options.SegmentTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(segmented.ErrReload, err.Error())
	}

	return ParseMediaPlaylist(data, w.url, w.parseOptions()...)
}

func (w *worker) Run(ctx context.Context, queue *segmented.Queue[*Segment]) error {
	w.reloadLast = time.Now()

	playlist, err := w.fetchPlaylist(ctx, w.session.Options.PlaylistReloadAttempts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "unable to open playlist")
	}

	w.session.Metrics.PlaylistReloaded(nil)
	w.sequence = w.startSequence(playlist)
	w.lastQueuedAt = time.Now()
	w.logger.Debug().
		Int64("sequence", w.sequence).
		Bool("endlist", playlist.EndList).
		Msg("first sequence")

	for {
		done, err := w.process(ctx, queue, playlist)
		if err != nil || done {
			return err
		}

		if threshold := w.stallThreshold(playlist); threshold > 0 && time.Since(w.lastQueuedAt) >= threshold {
			return errors.Wrapf(segmented.ErrStall, "No new segments in playlist for more than %.2fs. Stopping...", threshold.Seconds())
		}

		if err := w.wait(ctx); err != nil {
			return err
		}

		playlist, err = w.reload(ctx, playlist)
		if err != nil {
			return err
		}
	}
}

// process queues new segments and reports whether the stream ended.
func (w *worker) process(ctx context.Context, queue *segmented.Queue[*Segment], playlist *MediaPlaylist) (bool, error) {
	w.playlist = playlist
	w.reloadTime = w.playlistReloadTime(playlist)

	limit := w.session.Options.Duration

	for _, segment := range playlist.Segments {
		if segment.Num < w.sequence {
			continue
		}

		if segment.Num > w.sequence {
			w.logSkipped(w.sequence, segment.Num-1)
			w.session.Metrics.SegmentsSkipped(segment.Num - w.sequence)
			segment.Discontinuity = true
		}

		if w.pendingDiscontinuity {
			segment.Discontinuity = true
			w.pendingDiscontinuity = false
		}

		segment.DateRanges = coveringDateRanges(playlist.DateRanges, segment)

		if err := queue.Put(ctx, segment); err != nil {
			return true, err
		}

		w.logger.Debug().Int64("segment", segment.Num).Msg("queued segment")
		w.sequence = segment.Num + 1
		w.lastQueuedAt = time.Now()
		w.queued += segment.Duration

		if limit > 0 && w.queued >= limit {
			w.logger.Info().Msgf("Stopping stream early after %.2fs", w.queued.Seconds())
			return true, nil
		}
	}

	if playlist.Pending.Discontinuity {
		w.pendingDiscontinuity = true
	}

	if playlist.EndList {
		if n := len(playlist.Segments); n == 0 || playlist.Segments[n-1].Num < w.sequence {
			w.logger.Debug().Msg("reached end of playlist")
			return true, nil
		}
	}

	return false, nil
}

func (w *worker) logSkipped(from, to int64) {
	if from == to {
		w.logger.Warn().Msgf("Skipped segment %d after playlist reload. This is unsupported and will result in incoherent output data.", from)
		return
	}
	w.logger.Warn().Msgf("Skipped segments %d-%d after playlist reload. This is unsupported and will result in incoherent output data.", from, to)
}

// startSequence picks the first segment to queue after the first load.
func (w *worker) startSequence(playlist *MediaPlaylist) int64 {
	segments := playlist.Segments
	if len(segments) == 0 {
		return playlist.MediaSequence
	}

	offset := w.session.Options.StartOffset
	live := !playlist.EndList

	if !live || w.session.Options.LiveRestart {
		if offset <= 0 {
			return segments[0].Num
		}

		var end time.Duration
		for _, segment := range segments {
			end += segment.Duration
			if end >= offset {
				return segment.Num
			}
		}
		return segments[len(segments)-1].Num + 1
	}

	if offset > 0 {
		var total time.Duration
		for i := len(segments) - 1; i >= 0; i-- {
			total += segments[i].Duration
			if total >= offset {
				return segments[i].Num
			}
		}
		return segments[0].Num
	}

	return segments[max(0, len(segments)-w.liveEdge)].Num
}

func (w *worker) playlistReloadTime(playlist *MediaPlaylist) time.Duration {
	policy := w.session.Options.PlaylistReloadTime
	segments := playlist.Segments

	if len(segments) > 0 {
		switch policy.Policy {
		case session.ReloadSegment:
			return segments[len(segments)-1].Duration
		case session.ReloadLiveEdge:
			return sumLast(segments, w.liveEdge)
		}
	}

	if policy.Policy == "" && policy.Override > 0 {
		return time.Duration(policy.Override * float64(time.Second))
	}

	if playlist.TargetDuration > 0 {
		return playlist.TargetDuration
	}

	if len(segments) > 0 {
		return sumLast(segments, w.liveEdge)
	}

	return defaultReloadTime
}

func sumLast(segments []*Segment, n int) time.Duration {
	var total time.Duration
	for _, segment := range segments[max(0, len(segments)-n):] {
		total += segment.Duration
	}
	return total
}

func (w *worker) stallThreshold(playlist *MediaPlaylist) time.Duration {
	factor := w.session.Options.SegmentQueueThreshold
	if factor <= 0 || playlist.EndList {
		return 0
	}

	return max(minStallThreshold, time.Duration(factor*float64(playlist.TargetDuration)))
}

// wait sleeps until the next reload, time spent since the last reload is
// subtracted and a reload that took too long is followed immediately.
func (w *worker) wait(ctx context.Context) error {
	completed := time.Now()
	wait := max(0, w.reloadTime-completed.Sub(w.reloadLast))

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		w.reloadLast = completed.Add(wait)
	} else {
		w.reloadLast = time.Now()
	}

	return nil
}

func (w *worker) reload(ctx context.Context, previous *MediaPlaylist) (*MediaPlaylist, error) {
	w.logger.Debug().Msg("reloading playlist")

	playlist, err := w.fetchPlaylist(ctx, 1)
	w.session.Metrics.PlaylistReloaded(err)

	if err == nil {
		w.failures = 0
		return playlist, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	w.failures++
	if w.failures >= w.session.Options.PlaylistReloadAttempts {
		return nil, errors.Wrapf(segmented.ErrReload, "failed to reload playlist %d times: %s", w.failures, err)
	}

	w.logger.Warn().Err(err).Int("failures", w.failures).Msg("Failed to reload playlist")
	return previous, nil
}

func coveringDateRanges(ranges []*DateRange, segment *Segment) []*DateRange {
	if segment.Date == nil {
		return nil
	}

	var covering []*DateRange
	for _, dr := range ranges {
		if dr.Contains(*segment.Date) {
			covering = append(covering, dr)
		}
	}
	return covering
}
