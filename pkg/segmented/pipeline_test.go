package segmented

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segstream/pkg/session"
)

type listWorker struct {
	segments []int
	err      error
}

func (w *listWorker) Run(ctx context.Context, queue *Queue[int]) error {
	for _, segment := range w.segments {
		if err := queue.Put(ctx, segment); err != nil {
			return err
		}
	}
	return w.err
}

// delayProcessor fetches with random delays so fetches complete out of order.
type delayProcessor struct {
	output *Output
	fail   map[int]error
}

func (p *delayProcessor) Prepare(segment int) ([]Task, error) {
	return []Task{{
		Fetch: func(ctx context.Context) ([]byte, error) {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			if err, ok := p.fail[segment]; ok {
				return nil, err
			}
			return []byte(fmt.Sprintf("[%d]", segment)), nil
		},
		Commit: func(ctx context.Context, data []byte, err error) error {
			if err != nil {
				if IsFatal(err) {
					return err
				}
				return nil
			}
			_, err = p.output.Write(data)
			return err
		},
	}}, nil
}

func newTestSession(threads int) *session.Session {
	opts := session.DefaultOptions()
	opts.SegmentThreads = threads
	opts.StreamTimeout = 5 * time.Second
	return session.New(opts, session.WithLogger(zerolog.Nop()))
}

func startTestPipeline(t *testing.T, threads int, worker Worker[int], fail map[int]error) *Reader {
	t.Helper()

	p, err := New[int](context.Background(), newTestSession(threads), "test")
	require.NoError(t, err)

	return p.Start(worker, &delayProcessor{output: p.Output(), fail: fail})
}

func TestPipelineOrderedCommit(t *testing.T) {
	var segments []int
	var want string
	for i := 0; i < 40; i++ {
		segments = append(segments, i)
		want += fmt.Sprintf("[%d]", i)
	}

	reader := startTestPipeline(t, 8, &listWorker{segments: segments}, nil)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
	assert.NoError(t, reader.TakeError())
}

func TestPipelineSkipsFailedSegment(t *testing.T) {
	fail := map[int]error{1: errors.Wrap(ErrSegment, "404")}

	reader := startTestPipeline(t, 2, &listWorker{segments: []int{0, 1, 2}}, fail)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "[0][2]", string(data))
	assert.NoError(t, reader.TakeError())
}

func TestPipelineFatalCommit(t *testing.T) {
	fail := map[int]error{2: errors.Wrap(ErrInitSegment, "map")}

	reader := startTestPipeline(t, 1, &listWorker{segments: []int{0, 1, 2, 3, 4}}, fail)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "[0][1]", string(data))

	err = reader.TakeError()
	assert.ErrorIs(t, err, ErrInitSegment)
	assert.NoError(t, reader.TakeError(), "error is cleared once taken")
}

func TestPipelineWorkerErrorFlushes(t *testing.T) {
	reader := startTestPipeline(t, 2, &listWorker{segments: []int{0, 1}, err: ErrStall}, nil)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "[0][1]", string(data))
	assert.ErrorIs(t, reader.TakeError(), ErrStall)
}

type blockingWorker struct{}

func (blockingWorker) Run(ctx context.Context, queue *Queue[int]) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestReaderCloseWhilePaused(t *testing.T) {
	p, err := New[int](context.Background(), newTestSession(1), "test")
	require.NoError(t, err)

	reader := p.Start(blockingWorker{}, &delayProcessor{output: p.Output()})
	p.Output().Pause()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = reader.Close()
	}()

	n, err := reader.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, reader.TakeError())
}

func TestReaderTimeoutBypassedWhilePaused(t *testing.T) {
	opts := session.DefaultOptions()
	opts.StreamTimeout = 10 * time.Millisecond
	sess := session.New(opts, session.WithLogger(zerolog.Nop()))

	p, err := New[int](context.Background(), sess, "test")
	require.NoError(t, err)
	reader := p.Start(blockingWorker{}, &delayProcessor{output: p.Output()})
	defer reader.Close()

	// not paused: the timeout applies
	_, err = reader.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrReadTimeout)

	p.Output().Pause()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = p.Output().Write([]byte("data"))
		p.Output().Resume()
	}()

	buf := make([]byte, 4)
	n, err := reader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))
}

func TestStreamsSelect(t *testing.T) {
	streams := Streams{
		{Name: "720p", Height: 720, Bandwidth: 3000},
		{Name: "360p", Height: 360, Bandwidth: 800},
		{Name: "1080p", Height: 1080, Bandwidth: 6000},
	}

	best, err := streams.Select("best")
	require.NoError(t, err)
	assert.Equal(t, "1080p", best.Name)

	worst, err := streams.Select("worst")
	require.NoError(t, err)
	assert.Equal(t, "360p", worst.Name)

	named, err := streams.Select("720p")
	require.NoError(t, err)
	assert.Equal(t, "720p", named.Name)

	_, err = streams.Select("4k")
	assert.Error(t, err)

	assert.Equal(t, []string{"360p", "720p", "1080p"}, streams.Names())
}
