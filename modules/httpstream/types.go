package httpstream

import (
	"context"
	"time"

	"github.com/m1k1o/go-segstream/internal/metrics"
	"github.com/m1k1o/go-segstream/pkg/muxer"
	"github.com/m1k1o/go-segstream/pkg/session"
)

type Config struct {
	// Sources maps source names to playlist urls.
	Sources map[string]string
	Options session.Options
	Muxer   *muxer.Config
	Metrics *metrics.Collector
}

func (c Config) withDefaultValues() Config {
	if c.Sources == nil {
		c.Sources = map[string]string{}
	}
	return c
}

// Client is a connected HTTP stream consumer.
type Client struct {
	ID      string
	Source  string
	Quality string
	Remote  string
	Started time.Time

	cancel context.CancelFunc
}
