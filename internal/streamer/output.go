package streamer

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/m1k1o/go-segstream/internal/utils"
	"github.com/m1k1o/go-segstream/pkg/muxer"
)

type output interface {
	io.Writer
	Close() error
}

type stdout struct{}

func (stdout) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdout) Close() error                { return nil }

func openFile(name string, force bool) (output, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(name, flags, 0644)
	if os.IsExist(err) {
		return nil, errors.Errorf("file %s already exists, use --force to overwrite it", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to open output file")
	}

	return f, nil
}

// player writes the stream to the stdin of a player process.
type player struct {
	logger zerolog.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *utils.LogWriterCtx
}

func startPlayer(logger zerolog.Logger, command string) (*player, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.New("empty player command")
	}

	// players read the stream from stdin
	if len(args) == 1 {
		args = append(args, "-")
	}

	p := &player{
		logger: logger.With().Str("submodule", "player").Logger(),
		cmd:    exec.Command(args[0], args[1:]...),
	}

	muxer.ConfigureProcessGroup(p.cmd)
	p.stderr = utils.LogWriter(p.logger)
	p.cmd.Stderr = p.stderr

	var err error
	p.stdin, err = p.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	if err := p.cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "player could not be started")
	}

	p.logger.Info().Strs("args", p.cmd.Args).Msg("player started")
	return p, nil
}

func (p *player) Write(b []byte) (int, error) {
	n, err := p.stdin.Write(b)
	if err != nil {
		return n, errors.Wrap(errPlayerClosed, err.Error())
	}
	return n, nil
}

func (p *player) Close() error {
	p.stdin.Close()
	err := p.cmd.Wait()
	p.stderr.Close()

	p.logger.Info().Err(err).Msg("player exited")
	return nil
}
