package session

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/ratelimit"

	"github.com/m1k1o/go-segstream/internal/metrics"
)

// Backoff holds the delays between failed request attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before the given retry, attempt starts at 1.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Session carries everything pipelines share: the HTTP client, options,
// logger and metrics.
type Session struct {
	Options Options
	Client  *http.Client
	Logger  zerolog.Logger
	Metrics *metrics.Collector
	Backoff Backoff

	limiter ratelimit.Limiter
}

type Option func(*Session)

func WithClient(client *http.Client) Option {
	return func(s *Session) {
		s.Client = client
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.Logger = logger
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Session) {
		s.Metrics = collector
	}
}

func WithBackoff(backoff Backoff) Option {
	return func(s *Session) {
		s.Backoff = backoff
	}
}

func New(opts Options, options ...Option) *Session {
	s := &Session{
		Options: opts.withDefaultValues(),
		Client:  &http.Client{},
		Logger:  log.With().Str("module", "session").Logger(),
		Backoff: DefaultBackoff(),
	}

	for _, option := range options {
		option(s)
	}

	if s.Options.SegmentRateLimit > 0 {
		s.limiter = ratelimit.New(s.Options.SegmentRateLimit)
	}

	return s
}

// Close releases idle connections.
func (s *Session) Close() {
	s.Client.CloseIdleConnections()
}

// ByteRange is a resolved sub-range of a resource.
type ByteRange struct {
	Offset int64
	Length int64
}

// Header returns the Range header value, an unknown length reads until the end.
func (r ByteRange) Header() string {
	if r.Length <= 0 {
		return fmt.Sprintf("bytes=%d-", r.Offset)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

type Request struct {
	Range    *ByteRange
	Attempts int
	// Timeout bounds a single attempt.
	Timeout time.Duration
}

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Get fetches url and returns its body, failed attempts are retried with back-off.
func (s *Session) Get(ctx context.Context, url string, req Request) ([]byte, error) {
	attempts := req.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := s.Backoff.Delay(attempt - 1)
			s.Logger.Debug().
				Str("url", url).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := s.get(ctx, url, req)
		if err == nil {
			return data, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// client errors will not change on retry
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
			statusErr.StatusCode != http.StatusTooManyRequests && statusErr.StatusCode != http.StatusNotFound {
			break
		}
	}

	return nil, errors.Wrapf(lastErr, "failed after %d attempts", attempts)
}

// wait blocks until the rate limiter allows the next request or ctx is done.
func (s *Session) wait(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}

	taken := make(chan struct{})
	go func() {
		s.limiter.Take()
		close(taken)
	}()

	select {
	case <-taken:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) get(ctx context.Context, url string, req Request) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	for key, values := range s.Options.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	if req.Range != nil {
		httpReq.Header.Set("Range", req.Range.Header())
	}

	res, err := s.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: res.StatusCode}
	}

	return io.ReadAll(res.Body)
}

// ParseHeaders converts "Name=Value" pairs into a header set.
func ParseHeaders(pairs []string) (http.Header, error) {
	header := http.Header{}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Errorf("invalid http header %q, expected Name=Value", pair)
		}
		header.Add(name, strings.TrimSpace(value))
	}
	return header, nil
}
