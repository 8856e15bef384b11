package utils

import (
	"bytes"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogWriterCtx forwards subprocess output to the logger, one record per line.
type LogWriterCtx struct {
	mu     sync.Mutex
	logger zerolog.Logger
	level  zerolog.Level
	buf    []byte
}

func LogWriter(l zerolog.Logger) *LogWriterCtx {
	return LogWriterLevel(l, zerolog.WarnLevel)
}

func LogWriterLevel(l zerolog.Logger, level zerolog.Level) *LogWriterCtx {
	return &LogWriterCtx{
		logger: l,
		level:  level,
	}
}

func (l *LogWriterCtx) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexAny(l.buf, "\r\n")
		if i < 0 {
			break
		}

		l.log(string(l.buf[:i]))
		l.buf = l.buf[i+1:]
	}

	return len(p), nil
}

// Close flushes an unterminated last line.
func (l *LogWriterCtx) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.log(string(l.buf))
	l.buf = nil
	return nil
}

func (l *LogWriterCtx) log(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	l.logger.WithLevel(l.level).Msg(line)
}
