package streamer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segstream/internal/config"
)

func TestProtocol(t *testing.T) {
	tests := []struct {
		source   string
		protocol string
		url      string
		err      bool
	}{
		{source: "https://example.com/live/index.m3u8", protocol: ProtocolHLS, url: "https://example.com/live/index.m3u8"},
		{source: "https://example.com/vod/manifest.mpd?token=1", protocol: ProtocolDASH, url: "https://example.com/vod/manifest.mpd?token=1"},
		{source: "http://example.com/VOD/MANIFEST.MPD", protocol: ProtocolDASH, url: "http://example.com/VOD/MANIFEST.MPD"},
		{source: "https://example.com/playlist", protocol: ProtocolHLS, url: "https://example.com/playlist"},
		{source: "dash://example.com/stream", protocol: ProtocolDASH, url: "https://example.com/stream"},
		{source: "hls://http://example.com/stream.mpd", protocol: ProtocolHLS, url: "http://example.com/stream.mpd"},
		{source: "rtmp://example.com/live", err: true},
		{source: "://broken", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			protocol, url, err := Protocol(tt.source)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.protocol, protocol)
			assert.Equal(t, tt.url, url)
		})
	}
}

const playlist = "#EXTM3U\n#EXT-X-TARGETDURATION:1\n" +
	"#EXTINF:1.0,\nseg0.ts\n#EXTINF:1.0,\nseg1.ts\n#EXT-X-ENDLIST\n"

func newSource(t *testing.T) string {
	files := map[string]string{
		"/vod.m3u8": playlist,
		"/seg0.ts":  "aaa",
		"/seg1.ts":  "bbb",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(data))
	}))
	t.Cleanup(server.Close)

	return server.URL + "/vod.m3u8"
}

func newMain(output *config.Output) *Main {
	main := NewCommand()
	main.logger = zerolog.Nop()
	main.Stream = &config.Stream{
		LiveEdge:               3,
		SegmentThreads:         2,
		SegmentAttempts:        1,
		SegmentTimeout:         5,
		PlaylistReloadTime:     "default",
		PlaylistReloadAttempts: 1,
		StreamTimeout:          5,
	}
	main.Output = output
	return main
}

func TestStreamToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out.ts")

	main := newMain(&config.Output{Quality: "best", File: file})
	require.NoError(t, main.stream(context.Background(), newSource(t)))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "aaabbb", string(data))
}

func TestStreamRefusesExistingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out.ts")
	require.NoError(t, os.WriteFile(file, []byte("keep"), 0644))

	main := newMain(&config.Output{Quality: "best", File: file})
	err := main.stream(context.Background(), newSource(t))
	assert.ErrorContains(t, err, "already exists")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	main.Output.Force = true
	require.NoError(t, main.stream(context.Background(), newSource(t)))
	data, err = os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "aaabbb", string(data))
}

func TestStreamUnknownQuality(t *testing.T) {
	main := newMain(&config.Output{Quality: "1080p", File: filepath.Join(t.TempDir(), "out.ts")})
	err := main.stream(context.Background(), newSource(t))
	assert.ErrorContains(t, err, `stream "1080p" not found`)
}

func TestStreamToPlayer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell")
	}

	file := filepath.Join(t.TempDir(), "played.ts")
	main := newMain(&config.Output{Quality: "best", Player: "tee " + file})

	require.NoError(t, main.stream(context.Background(), newSource(t)))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "aaabbb", string(data))
}
