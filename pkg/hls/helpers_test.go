package hls

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segstream/pkg/session"
)

// server serves static files and playlists that change on every request.
type server struct {
	*httptest.Server

	mu        sync.Mutex
	files     map[string][]byte
	playlists map[string][]string
	hits      map[string]int
	ranges    map[string][]string
}

func newServer(t *testing.T) *server {
	s := &server{
		files:     map[string][]byte{},
		playlists: map[string][]string{},
		hits:      map[string]int{},
		ranges:    map[string][]string{},
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	path := r.URL.Path
	s.hits[path]++
	hits := s.hits[path]
	if rng := r.Header.Get("Range"); rng != "" {
		s.ranges[path] = append(s.ranges[path], rng)
	}

	if contents, ok := s.playlists[path]; ok {
		content := contents[min(hits, len(contents))-1]
		s.mu.Unlock()

		// an empty playlist simulates a failing reload
		if content == "" {
			http.Error(w, "500 internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(content))
		return
	}

	data, ok := s.files[path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

func (s *server) file(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
}

// playlist registers contents returned by consecutive requests, the last
// one is repeated.
func (s *server) playlist(path string, contents ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlists[path] = contents
	return s.URL + path
}

func (s *server) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *server) rangesOf(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges[path]...)
}

// logBuffer collects log output written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) Count(message string) int {
	return strings.Count(b.String(), message)
}

// Levels returns the level of every record containing text.
func (b *logBuffer) Levels(text string) []string {
	var levels []string
	for _, line := range strings.Split(b.String(), "\n") {
		if !strings.Contains(line, text) {
			continue
		}

		var record struct {
			Level string `json:"level"`
		}
		if err := json.Unmarshal([]byte(line), &record); err == nil {
			levels = append(levels, record.Level)
		}
	}
	return levels
}

func newTestSession(logs *logBuffer, configure func(opts *session.Options)) *session.Session {
	opts := session.DefaultOptions()
	opts.SegmentThreads = 4
	opts.StreamTimeout = 5 * time.Second
	opts.PlaylistReloadTime = session.ReloadTime{Override: 0.05}

	if configure != nil {
		configure(&opts)
	}

	var logger zerolog.Logger
	if logs != nil {
		logger = zerolog.New(logs)
	} else {
		logger = zerolog.Nop()
	}

	return session.New(opts,
		session.WithLogger(logger),
		session.WithBackoff(session.Backoff{
			Initial:    time.Millisecond,
			Max:        time.Millisecond,
			Multiplier: 1,
		}),
	)
}

func encrypt(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	data := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out
}

// mediaPlaylist builds a playlist with one second segments named seg<N>.ts.
func mediaPlaylist(sequence int, count int, endlist bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:1\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:" + strconv.Itoa(sequence) + "\n")
	for i := sequence; i < sequence+count; i++ {
		b.WriteString("#EXTINF:1.000,\nseg" + strconv.Itoa(i) + ".ts\n")
	}
	if endlist {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
