package hls

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

const base = "https://example.com/live/index.m3u8"

func parse(t *testing.T, data string, opts ...ParseOption) *MediaPlaylist {
	t.Helper()

	playlist, err := ParseMediaPlaylist([]byte(data), base, opts...)
	require.NoError(t, err)
	return playlist
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"blank lines", "\n\n  \n"},
		{"missing header", "#EXT-X-VERSION:3\n#EXTINF:1,\nseg.ts\n"},
		{"garbage", "<html></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMediaPlaylist([]byte(tt.data), base)
			assert.ErrorIs(t, err, segmented.ErrParse)
		})
	}

	_, err := ParseMediaPlaylist([]byte("\n\n#EXTM3U\n"), base)
	assert.NoError(t, err, "leading blank lines are skipped")
}

func TestParseMediaPlaylist(t *testing.T) {
	playlist := parse(t, `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-DISCONTINUITY-SEQUENCE:2
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-ALLOW-CACHE:NO
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-START:TIME-OFFSET=-12.5
#EXTINF:5.5,first title
seg100.ts
#EXT-X-DISCONTINUITY
#EXTINF:6,
/abs/seg101.ts
#EXTINF:4.5,
https://cdn.example.com/seg102.ts?token=x
#EXT-X-ENDLIST
`)

	assert.Equal(t, 4, playlist.Version)
	assert.Equal(t, 6*time.Second, playlist.TargetDuration)
	assert.Equal(t, int64(100), playlist.MediaSequence)
	assert.Equal(t, int64(2), playlist.DiscontinuitySequence)
	assert.Equal(t, "VOD", playlist.PlaylistType)
	assert.True(t, playlist.EndList)
	require.NotNil(t, playlist.AllowCache)
	assert.False(t, *playlist.AllowCache)
	assert.True(t, playlist.IndependentSegments)
	require.NotNil(t, playlist.StartOffset)
	assert.Equal(t, -12500*time.Millisecond, *playlist.StartOffset)

	require.Len(t, playlist.Segments, 3)

	first := playlist.Segments[0]
	assert.Equal(t, int64(100), first.Num)
	assert.Equal(t, "https://example.com/live/seg100.ts", first.URI)
	assert.Equal(t, 5500*time.Millisecond, first.Duration)
	assert.Equal(t, "first title", first.Title)
	assert.False(t, first.Discontinuity)

	second := playlist.Segments[1]
	assert.Equal(t, "https://example.com/abs/seg101.ts", second.URI)
	assert.True(t, second.Discontinuity)

	third := playlist.Segments[2]
	assert.Equal(t, int64(102), third.Num)
	assert.Equal(t, "https://cdn.example.com/seg102.ts?token=x", third.URI)
	assert.False(t, third.Discontinuity, "discontinuity only marks the next segment")
}

func TestParseKeys(t *testing.T) {
	playlist := parse(t, `#EXTM3U
#EXTINF:1,
clear0.ts
#EXT-X-KEY:METHOD=AES-128,URI="key1",IV=0x0A0B
#EXTINF:1,
enc1.ts
#EXTINF:1,
enc2.ts
#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example.com/key2",KEYFORMAT="identity",KEYFORMATVERSIONS="1"
#EXTINF:1,
enc3.ts
#EXT-X-KEY:METHOD=NONE
#EXTINF:1,
clear4.ts
`)

	require.Len(t, playlist.Segments, 5)
	assert.Nil(t, playlist.Segments[0].Key)

	key1 := playlist.Segments[1].Key
	require.NotNil(t, key1)
	assert.Equal(t, MethodAES128, key1.Method)
	assert.Equal(t, "https://example.com/live/key1", key1.URI)
	assert.Equal(t, []byte{0x0a, 0x0b}, key1.IV)
	assert.Equal(t, KeyFormatIdentity, key1.KeyFormat)
	assert.Same(t, key1, playlist.Segments[2].Key)

	key2 := playlist.Segments[3].Key
	require.NotNil(t, key2)
	assert.Equal(t, "https://keys.example.com/key2", key2.URI)
	assert.Nil(t, key2.IV)
	assert.Equal(t, "1", key2.KeyFormatVersions)

	assert.Nil(t, playlist.Segments[4].Key, "NONE clears the key")
}

func TestParseMap(t *testing.T) {
	playlist := parse(t, `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="key1"
#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"
#EXTINF:1,
seg0.m4s
#EXT-X-KEY:METHOD=AES-128,URI="key2"
#EXTINF:1,
seg1.m4s
#EXT-X-MAP:URI="init2.mp4"
#EXTINF:1,
seg2.m4s
`)

	require.Len(t, playlist.Segments, 3)

	m := playlist.Segments[0].Map
	require.NotNil(t, m)
	assert.Equal(t, "https://example.com/live/init.mp4", m.URI)
	assert.Equal(t, &session.ByteRange{Offset: 0, Length: 720}, m.ByteRange)
	require.NotNil(t, m.Key)
	assert.Equal(t, "https://example.com/live/key1", m.Key.URI, "map keeps the key it was declared under")

	assert.Same(t, m, playlist.Segments[1].Map)
	assert.Equal(t, "https://example.com/live/key2", playlist.Segments[1].Key.URI)

	m2 := playlist.Segments[2].Map
	require.NotNil(t, m2)
	assert.Equal(t, "https://example.com/live/init2.mp4", m2.URI)
	assert.Nil(t, m2.ByteRange)
	assert.Equal(t, "https://example.com/live/key2", m2.Key.URI)
}

func TestParseByteRanges(t *testing.T) {
	playlist := parse(t, `#EXTM3U
#EXTINF:1,
#EXT-X-BYTERANGE:100@0
media.ts
#EXTINF:1,
#EXT-X-BYTERANGE:200
media.ts
#EXTINF:1,
#EXT-X-BYTERANGE:300
media.ts
#EXTINF:1,
#EXT-X-BYTERANGE:50@1000
other.ts
#EXTINF:1,
#EXT-X-BYTERANGE:25
other.ts
`)

	require.Len(t, playlist.Segments, 5)

	want := []session.ByteRange{
		{Offset: 0, Length: 100},
		{Offset: 100, Length: 200},
		{Offset: 300, Length: 300},
		{Offset: 1000, Length: 50},
		{Offset: 1050, Length: 25},
	}
	for i, segment := range playlist.Segments {
		require.NotNil(t, segment.ByteRange)
		assert.Equal(t, want[i], *segment.ByteRange, "segment %d", i)
	}
}

func TestParseByteRangeUnknownOffset(t *testing.T) {
	playlist := parse(t, `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:5
#EXTINF:1,
#EXT-X-BYTERANGE:100@0
a.ts
#EXTINF:1,
#EXT-X-BYTERANGE:100
b.ts
#EXTINF:1,
c.ts
`)

	require.Len(t, playlist.Segments, 2, "only the segment with an unknown offset is dropped")
	assert.Equal(t, int64(5), playlist.Segments[0].Num)
	assert.Equal(t, int64(7), playlist.Segments[1].Num, "dropped segments keep their number")
	assert.Nil(t, playlist.Segments[1].ByteRange)
}

func TestParseProgramDateTime(t *testing.T) {
	playlist := parse(t, `#EXTM3U
#EXTINF:2,
seg0.ts
#EXT-X-PROGRAM-DATE-TIME:2024-03-01T10:00:00.000+00:00
#EXTINF:2,
seg1.ts
#EXTINF:1.5,
seg2.ts
#EXTINF:2,
seg3.ts
`)

	require.Len(t, playlist.Segments, 4)
	assert.Nil(t, playlist.Segments[0].Date)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, start.Equal(*playlist.Segments[1].Date))
	assert.True(t, start.Add(2*time.Second).Equal(*playlist.Segments[2].Date))
	assert.True(t, start.Add(3500*time.Millisecond).Equal(*playlist.Segments[3].Date))
}

func TestParseDateRanges(t *testing.T) {
	playlist := parse(t, `#EXTM3U
#EXT-X-DATERANGE:ID="ad-1",CLASS="twitch-stitched-ad",START-DATE="2024-03-01T10:00:00Z",DURATION=15.5,X-AD-ID="123"
#EXT-X-DATERANGE:ID="chapter",START-DATE="2024-03-01T10:00:00Z",END-DATE="2024-03-01T10:01:00Z",END-ON-NEXT=YES
#EXT-X-DATERANGE:ID="planned",START-DATE="2024-03-01T10:00:00Z",PLANNED-DURATION=30
#EXT-X-DATERANGE:ID="broken"
#EXTINF:1,
seg0.ts
`)

	require.Len(t, playlist.DateRanges, 3, "date ranges without START-DATE are dropped")

	ad := playlist.DateRanges[0]
	assert.Equal(t, "ad-1", ad.ID)
	assert.Equal(t, "twitch-stitched-ad", ad.Class)
	require.NotNil(t, ad.Duration)
	assert.Equal(t, 15500*time.Millisecond, *ad.Duration)
	assert.Equal(t, map[string]string{"X-AD-ID": "123"}, ad.Attributes)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, ad.Contains(start))
	assert.True(t, ad.Contains(start.Add(15*time.Second)))
	assert.False(t, ad.Contains(start.Add(16*time.Second)))
	assert.False(t, ad.Contains(start.Add(-time.Second)))

	chapter := playlist.DateRanges[1]
	assert.True(t, chapter.EndOnNext)
	end, ok := chapter.End()
	assert.True(t, ok)
	assert.True(t, start.Add(time.Minute).Equal(end))

	planned := playlist.DateRanges[2]
	end, ok = planned.End()
	assert.True(t, ok)
	assert.True(t, start.Add(30*time.Second).Equal(end))
}

func TestParseMalformedTagIsDropped(t *testing.T) {
	logs := &logBuffer{}
	playlist := parse(t, `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="key1"
#EXT-X-KEY:METHOD=AES-128,URI="key2,IV=0x01
#EXTINF:1,
seg0.ts
#EXTINF:abc,
seg1.ts
`, WithLogger(zerolog.New(logs)))

	require.Len(t, playlist.Segments, 2)
	assert.Equal(t, "https://example.com/live/key1", playlist.Segments[0].Key.URI, "malformed key does not replace the previous one")
	assert.Zero(t, playlist.Segments[1].Duration)
	assert.Equal(t, 2, logs.Count("dropping malformed tag"))
}

func TestParsePrefetch(t *testing.T) {
	data := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:10
#EXTINF:2,
seg10.ts
#EXT-X-PREFETCH:seg11.ts
#EXT-X-PREFETCH:seg12.ts
`

	playlist := parse(t, data)
	assert.Len(t, playlist.Segments, 1, "prefetch is ignored without low latency")

	playlist = parse(t, data, WithPrefetch())
	require.Len(t, playlist.Segments, 3)

	prefetch := playlist.Segments[1]
	assert.True(t, prefetch.Prefetch)
	assert.Equal(t, int64(11), prefetch.Num)
	assert.Equal(t, 2*time.Second, prefetch.Duration)
	assert.Equal(t, "https://example.com/live/seg12.ts", playlist.Segments[2].URI)
}

func TestParsePendingState(t *testing.T) {
	first := parse(t, `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:1,
seg0.ts
#EXT-X-DISCONTINUITY
#EXT-X-KEY:METHOD=AES-128,URI="key2"
#EXT-X-MAP:URI="init2.mp4"
`)

	require.Len(t, first.Segments, 1)
	assert.True(t, first.Pending.Discontinuity)
	assert.True(t, first.Pending.KeySet)
	assert.True(t, first.Pending.MapSet)

	second := parse(t, `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:1
#EXTINF:1,
seg1.ts
`, WithPending(first.Pending))

	require.Len(t, second.Segments, 1)
	assert.Equal(t, "https://example.com/live/key2", second.Segments[0].Key.URI)
	assert.Equal(t, "https://example.com/live/init2.mp4", second.Segments[0].Map.URI)
	assert.False(t, second.Pending.KeySet)
}

func TestParseRejectsIFramesOnly(t *testing.T) {
	_, err := ParseMediaPlaylist([]byte("#EXTM3U\n#EXT-X-I-FRAMES-ONLY\n#EXTINF:1,\nseg.ts\n"), base)
	assert.ErrorIs(t, err, ErrIFramesOnly)
}

func TestParseMultivariant(t *testing.T) {
	data := `#EXTM3U
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="Deutsch",LANGUAGE="de",URI="audio/de.m3u8",CHANNELS="2"
#EXT-X-MEDIA:TYPE=VIDEO,GROUP-ID="chunked",NAME="1080p60 (source)"
#EXT-X-STREAM-INF:BANDWIDTH=6000000,AVERAGE-BANDWIDTH=5500000,RESOLUTION=1920x1080,FRAME-RATE=59.940,CODECS="avc1.64002A,mp4a.40.2",AUDIO="aud",VIDEO="chunked"
1080p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=854x480
480p.m3u8
#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=200000,RESOLUTION=1920x1080,URI="iframes.m3u8"
`

	_, err := ParseMediaPlaylist([]byte(data), base)
	assert.ErrorIs(t, err, ErrMultivariant)

	multivariant, err := ParseMultivariantPlaylist([]byte(data), base)
	require.NoError(t, err)
	assert.True(t, multivariant.IndependentSegments)

	require.Len(t, multivariant.Variants, 3)

	source := multivariant.Variants[0]
	assert.Equal(t, "https://example.com/live/1080p.m3u8", source.URI)
	assert.Equal(t, int64(6000000), source.Bandwidth)
	assert.Equal(t, int64(5500000), source.AverageBandwidth)
	assert.Equal(t, &Resolution{Width: 1920, Height: 1080}, source.Resolution)
	assert.InDelta(t, 59.94, source.FrameRate, 0.001)
	assert.Equal(t, "avc1.64002A,mp4a.40.2", source.Codecs)
	assert.Equal(t, "aud", source.Audio)
	assert.Equal(t, "1080p60 (source)", variantName(multivariant, source))

	assert.Equal(t, "480p", variantName(multivariant, multivariant.Variants[1]))

	iframe := multivariant.Variants[2]
	assert.True(t, iframe.IFrame)
	assert.Equal(t, "https://example.com/live/iframes.m3u8", iframe.URI)

	audio := multivariant.MediaGroup("AUDIO", "aud")
	require.Len(t, audio, 2)
	assert.True(t, audio[0].Default)
	assert.True(t, audio[0].AutoSelect)
	assert.Equal(t, "https://example.com/live/audio/en.m3u8", audio[0].URI)
	assert.Equal(t, "de", audio[1].Language)
	assert.Equal(t, "2", audio[1].Channels)
	assert.Len(t, externalAudio(multivariant, source), 2)

	_, err = ParseMultivariantPlaylist([]byte("#EXTM3U\n#EXTINF:1,\nseg.ts\n"), base)
	assert.ErrorIs(t, err, segmented.ErrParse)
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  Attributes
		err   bool
	}{
		{
			name:  "mixed values",
			value: `BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720,FRAME-RATE=29.970,IV=0x1A2b,DEFAULT=YES,TIME-OFFSET=-2.5`,
			want: Attributes{
				"BANDWIDTH":   "1280000",
				"CODECS":      "avc1.4d401f,mp4a.40.2",
				"RESOLUTION":  "1280x720",
				"FRAME-RATE":  "29.970",
				"IV":          "0x1A2b",
				"DEFAULT":     "YES",
				"TIME-OFFSET": "-2.5",
			},
		},
		{name: "spaces around separators", value: `A=1, B="x"`, want: Attributes{"A": "1", "B": "x"}},
		{name: "empty quoted", value: `URI=""`, want: Attributes{"URI": ""}},
		{name: "empty", value: "", want: Attributes{}},
		{name: "unterminated quote", value: `URI="abc`, err: true},
		{name: "lowercase name", value: `uri="abc"`, err: true},
		{name: "missing value", value: `URI`, err: true},
		{name: "empty value", value: `A=,B=1`, err: true},
		{name: "garbage after quote", value: `A="x"y`, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs, err := ParseAttributes(tt.value)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, attrs)
		})
	}
}

func TestAttributeGetters(t *testing.T) {
	attrs, err := ParseAttributes(`IV=0xABC,RESOLUTION=640x360,DURATION=1.5,START-DATE="2024-01-01T00:00:00Z",N=42`)
	require.NoError(t, err)

	iv, err := attrs.Hex("IV")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0xbc}, iv)

	resolution, err := attrs.Resolution("RESOLUTION")
	require.NoError(t, err)
	assert.Equal(t, &Resolution{Width: 640, Height: 360}, resolution)

	duration, err := attrs.Seconds("DURATION")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, duration)

	date, err := attrs.Date("START-DATE")
	require.NoError(t, err)
	assert.Equal(t, 2024, date.Year())

	n, err := attrs.Int("N")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = attrs.Hex("N")
	assert.Error(t, err)
	_, err = attrs.Resolution("N")
	assert.Error(t, err)
}
