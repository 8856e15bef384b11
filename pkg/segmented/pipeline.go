package segmented

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/m1k1o/go-segstream/pkg/session"
)

// fetchQueueSize is generous so the reload loop is not starved by a briefly blocked writer.
const fetchQueueSize = 128

// Task is one ordered unit of writer work. Fetch runs on the fetch pool,
// Commit runs on the writer goroutine in submission order.
type Task struct {
	Fetch  func(ctx context.Context) ([]byte, error)
	Commit func(ctx context.Context, data []byte, err error) error
}

// Worker produces segments in playlist order until the stream ends.
type Worker[S any] interface {
	Run(ctx context.Context, queue *Queue[S]) error
}

// Processor turns segments into writer tasks. It is called from a single
// goroutine in segment order.
type Processor[S any] interface {
	Prepare(segment S) ([]Task, error)
}

type future struct {
	task Task
	data []byte
	err  error
	done chan struct{}
}

type Pipeline[S any] struct {
	ID string

	session *session.Session
	logger  zerolog.Logger
	buffer  *RingBuffer
	pause   *Pause
	output  *Output
	pool    *ants.Pool

	ctx    context.Context
	cancel context.CancelFunc

	queue   chan S
	futures chan *future

	errMu sync.Mutex
	err   error

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New[S any](ctx context.Context, sess *session.Session, module string) (*Pipeline[S], error) {
	opts := sess.Options

	pool, err := ants.NewPool(opts.SegmentThreads)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create fetch pool")
	}

	id := uuid.New().String()
	buffer := NewRingBuffer(opts.RingBufferSize)
	pause := NewPause()

	ctx, cancel := context.WithCancel(ctx)

	return &Pipeline[S]{
		ID:      id,
		session: sess,
		logger:  sess.Logger.With().Str("module", module).Str("stream", id).Logger(),
		buffer:  buffer,
		pause:   pause,
		output: &Output{
			buffer:  buffer,
			pause:   pause,
			metrics: sess.Metrics,
		},
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan S, fetchQueueSize),
		futures: make(chan *future, opts.SegmentThreads),
	}, nil
}

func (p *Pipeline[S]) Logger() zerolog.Logger {
	return p.logger
}

func (p *Pipeline[S]) Output() *Output {
	return p.output
}

// Start runs the worker and the writer and returns the reader surface.
func (p *Pipeline[S]) Start(worker Worker[S], processor Processor[S]) *Reader {
	p.session.Metrics.PipelineStarted()
	p.logger.Debug().Msg("starting pipeline")

	p.wg.Add(3)
	go p.runWorker(worker)
	go p.runSubmit(processor)
	go p.runCommit()

	go func() {
		p.wg.Wait()
		p.pool.Release()
		p.cancel()
		p.session.Metrics.PipelineStopped()
		p.logger.Debug().Msg("pipeline stopped")
	}()

	return &Reader{
		buffer:    p.buffer,
		pause:     p.pause,
		timeout:   p.session.Options.StreamTimeout,
		close:     p.Close,
		takeError: p.takeError,
	}
}

// Close stops all goroutines and closes the ring buffer.
func (p *Pipeline[S]) Close() {
	p.closeOnce.Do(func() {
		p.logger.Debug().Msg("closing pipeline")
		p.cancel()
		p.buffer.Close()
	})
}

// Fail records a fatal error and tears the pipeline down. Bytes already in
// the ring buffer stay readable.
func (p *Pipeline[S]) Fail(err error) {
	p.setError(err)
	p.Close()
}

func (p *Pipeline[S]) setError(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()

	if p.err == nil {
		p.err = err
		p.logger.Error().Err(err).Msg("stream failed")
	}
}

func (p *Pipeline[S]) takeError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()

	err := p.err
	p.err = nil
	return err
}

func (p *Pipeline[S]) runWorker(worker Worker[S]) {
	defer p.wg.Done()
	defer close(p.queue)

	err := worker.Run(p.ctx, &Queue[S]{ch: p.queue})
	if err != nil && p.ctx.Err() == nil {
		// let the writer flush what was already queued
		p.setError(err)
	}
}

func (p *Pipeline[S]) runSubmit(processor Processor[S]) {
	defer p.wg.Done()
	defer close(p.futures)

	for segment := range p.queue {
		if p.ctx.Err() != nil {
			return
		}

		tasks, err := processor.Prepare(segment)
		if err != nil {
			p.Fail(err)
			return
		}

		for _, task := range tasks {
			fut := &future{
				task: task,
				done: make(chan struct{}),
			}

			select {
			case p.futures <- fut:
			case <-p.ctx.Done():
				return
			}

			if err := p.pool.Submit(func() {
				defer close(fut.done)
				if task.Fetch != nil {
					fut.data, fut.err = task.Fetch(p.ctx)
				}
			}); err != nil {
				fut.err = err
				close(fut.done)
			}
		}
	}
}

func (p *Pipeline[S]) runCommit() {
	defer p.wg.Done()
	defer p.buffer.Close()

	for fut := range p.futures {
		select {
		case <-fut.done:
		case <-p.ctx.Done():
			return
		}

		if p.ctx.Err() != nil {
			return
		}

		if fut.task.Commit == nil {
			continue
		}

		if err := fut.task.Commit(p.ctx, fut.data, fut.err); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}

			p.Fail(err)
			return
		}
	}

	p.logger.Debug().Msg("writer finished")
}
