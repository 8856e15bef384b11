package utils

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWriterSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	w := LogWriter(zerolog.New(&buf))

	_, err := w.Write([]byte("first line\nsecond "))
	require.NoError(t, err)
	_, err = w.Write([]byte("line\r\n\nthird"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"message":"first line"`)
	assert.Contains(t, lines[0], `"level":"warn"`)
	assert.Contains(t, lines[1], `"message":"second line"`)

	require.NoError(t, w.Close())
	assert.Contains(t, buf.String(), `"message":"third"`)
}

func TestLogWriterLevel(t *testing.T) {
	var buf bytes.Buffer
	w := LogWriterLevel(zerolog.New(&buf), zerolog.InfoLevel)

	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"info"`)
}

type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestCopyToHTTP(t *testing.T) {
	rec := httptest.NewRecorder()

	n, err := CopyToHTTP(rec, &chunkReader{chunks: []string{"abc", "def"}, err: io.EOF})
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, "abcdef", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestCopyToHTTPError(t *testing.T) {
	rec := httptest.NewRecorder()
	failure := errors.New("broken")

	n, err := CopyToHTTP(rec, &chunkReader{chunks: []string{"abc"}, err: failure})
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, int64(3), n)
}
