// Package metrics provides Prometheus metrics for segmented stream pipelines.
//
// All methods are safe to call on a nil *Collector, so pipelines created
// without metrics do not need to check for it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "segstream"

type Collector struct {
	segmentsFetched  *prometheus.CounterVec
	segmentsFailed   *prometheus.CounterVec
	segmentsFiltered prometheus.Counter
	segmentsSkipped  prometheus.Counter
	bytesWritten     prometheus.Counter
	playlistReloads  *prometheus.CounterVec
	activePipelines  prometheus.Gauge
	activeClients    prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(registry prometheus.Registerer) *Collector {
	c := &Collector{
		segmentsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_fetched_total",
				Help:      "Segments fetched, by kind (media, init, key)",
			},
			[]string{"kind"},
		),
		segmentsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_failed_total",
				Help:      "Segments that could not be fetched or decrypted, by kind",
			},
			[]string{"kind"},
		),
		segmentsFiltered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_filtered_total",
				Help:      "Segments discarded by the filter policy",
			},
		),
		segmentsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_skipped_total",
				Help:      "Segment numbers missing between playlist reloads",
			},
		),
		bytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_written_total",
				Help:      "Bytes written to pipeline output buffers",
			},
		),
		playlistReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playlist_reloads_total",
				Help:      "Playlist and manifest reloads, by result (ok, error)",
			},
			[]string{"result"},
		),
		activePipelines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_pipelines",
				Help:      "Currently running pipelines",
			},
		),
		activeClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_clients",
				Help:      "Currently connected HTTP stream clients",
			},
		),
	}

	registry.MustRegister(
		c.segmentsFetched,
		c.segmentsFailed,
		c.segmentsFiltered,
		c.segmentsSkipped,
		c.bytesWritten,
		c.playlistReloads,
		c.activePipelines,
		c.activeClients,
	)

	return c
}

func (c *Collector) SegmentFetched(kind string) {
	if c == nil {
		return
	}
	c.segmentsFetched.WithLabelValues(kind).Inc()
}

func (c *Collector) SegmentFailed(kind string) {
	if c == nil {
		return
	}
	c.segmentsFailed.WithLabelValues(kind).Inc()
}

func (c *Collector) SegmentFiltered() {
	if c == nil {
		return
	}
	c.segmentsFiltered.Inc()
}

func (c *Collector) SegmentsSkipped(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.segmentsSkipped.Add(float64(n))
}

func (c *Collector) BytesWritten(n int) {
	if c == nil {
		return
	}
	c.bytesWritten.Add(float64(n))
}

func (c *Collector) PlaylistReloaded(err error) {
	if c == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.playlistReloads.WithLabelValues(result).Inc()
}

func (c *Collector) PipelineStarted() {
	if c == nil {
		return
	}
	c.activePipelines.Inc()
}

func (c *Collector) PipelineStopped() {
	if c == nil {
		return
	}
	c.activePipelines.Dec()
}

func (c *Collector) ClientConnected() {
	if c == nil {
		return
	}
	c.activeClients.Inc()
}

func (c *Collector) ClientDisconnected() {
	if c == nil {
		return
	}
	c.activeClients.Dec()
}
