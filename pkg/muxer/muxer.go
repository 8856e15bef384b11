package muxer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-segstream/internal/utils"
	"github.com/m1k1o/go-segstream/pkg/segmented"
)

// Track is one muxer input.
type Track struct {
	Stream   segmented.Stream
	Audio    bool
	Language string
}

// Stream muxes several tracks into one container using an external process.
type Stream struct {
	logger zerolog.Logger
	config Config
	tracks []Track
}

func New(config Config, tracks ...Track) *Stream {
	return &Stream{
		logger: log.With().Str("module", "muxer").Logger(),
		config: config.withDefaultValues(),
		tracks: tracks,
	}
}

// Format returns the output container name.
func (s *Stream) Format() string {
	return s.config.Format
}

// Available reports whether the muxer binary can be used on this platform.
func Available(config Config) bool {
	if !pipeInputsSupported {
		return false
	}

	_, err := exec.LookPath(config.withDefaultValues().Binary)
	return err == nil
}

func (s *Stream) Args(inputs []string) []string {
	loglevel := "warning"
	if s.config.Verbose {
		loglevel = "info"
	}

	args := []string{"-nostats", "-y", "-loglevel", loglevel}

	for _, input := range inputs {
		args = append(args, "-i", input)
	}

	for i := range s.tracks {
		args = append(args, "-map", strconv.Itoa(i))
	}

	args = append(args, "-c:v", s.config.VideoCodec, "-c:a", s.config.AudioCodec)

	audio := 0
	for _, track := range s.tracks {
		if !track.Audio {
			continue
		}
		if track.Language != "" {
			args = append(args, fmt.Sprintf("-metadata:s:a:%d", audio), "language="+track.Language)
		}
		audio++
	}

	if s.config.Copyts {
		args = append(args, "-copyts")
		if s.config.StartAtZero {
			args = append(args, "-start_at_zero")
		}
	}

	return append(args, "-f", s.config.Format, "pipe:1")
}

func (s *Stream) Open(ctx context.Context) (io.ReadCloser, error) {
	if !pipeInputsSupported {
		return nil, errors.New("muxing is not supported on this platform")
	}

	r := &reader{
		logger: s.logger,
	}

	for _, track := range s.tracks {
		input, err := track.Stream.Open(ctx)
		if err != nil {
			r.closeInputs()
			return nil, errors.Wrap(err, "unable to open muxer input")
		}
		r.inputs = append(r.inputs, input)
	}

	cmd := exec.Command(s.config.Binary)
	ConfigureProcessGroup(cmd)
	cmd.Stderr = utils.LogWriter(s.logger)

	var names []string
	var pipes []*os.File
	for _, input := range r.inputs {
		pr, pw, err := os.Pipe()
		if err != nil {
			closeFiles(pipes)
			r.closeInputs()
			return nil, err
		}

		names = append(names, pipeInput(cmd, pr))
		pipes = append(pipes, pr, pw)

		r.wg.Add(1)
		go r.copy(input, pw)
	}

	cmd.Args = append(cmd.Args, s.Args(names)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeFiles(pipes)
		r.closeInputs()
		return nil, err
	}

	s.logger.Debug().Strs("args", cmd.Args).Msg("starting muxer")
	if err := cmd.Start(); err != nil {
		closeFiles(pipes)
		r.closeInputs()
		return nil, errors.Wrap(err, "muxer could not be started")
	}

	// read ends belong to the child now
	for _, f := range cmd.ExtraFiles {
		f.Close()
	}

	r.cmd = cmd
	r.stdout = stdout
	return r, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

type reader struct {
	logger zerolog.Logger
	cmd    *exec.Cmd
	stdout io.ReadCloser
	inputs []io.ReadCloser

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (r *reader) copy(input io.Reader, w *os.File) {
	defer r.wg.Done()
	defer w.Close()

	n, err := io.Copy(w, input)
	if err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, os.ErrClosed) {
		r.logger.Debug().Err(err).Int64("bytes", n).Msg("muxer input finished")
	}
}

func (r *reader) Read(p []byte) (int, error) {
	return r.stdout.Read(p)
}

func (r *reader) closeInputs() {
	for _, input := range r.inputs {
		_ = input.Close()
	}
}

func (r *reader) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Debug().Msg("closing muxer")

		r.closeInputs()
		if r.cmd != nil {
			if err := KillProcessGroup(r.cmd); err != nil {
				r.logger.Err(err).Msg("killing process group")
			}
		}

		r.wg.Wait()

		if r.cmd != nil {
			err := r.cmd.Wait()
			r.logger.Debug().Err(err).Msg("muxer exited")
		}
	})
	return nil
}

// TakeError returns the first error that ended one of the inputs.
func (r *reader) TakeError() error {
	for _, input := range r.inputs {
		if taker, ok := input.(segmented.ErrorTaker); ok {
			if err := taker.TakeError(); err != nil {
				return err
			}
		}
	}
	return nil
}
