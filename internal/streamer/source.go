package streamer

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/m1k1o/go-segstream/pkg/dash"
	"github.com/m1k1o/go-segstream/pkg/hls"
	"github.com/m1k1o/go-segstream/pkg/muxer"
	"github.com/m1k1o/go-segstream/pkg/segmented"
	"github.com/m1k1o/go-segstream/pkg/session"
)

const (
	ProtocolHLS  = "hls"
	ProtocolDASH = "dash"
)

// Protocol detects the streaming protocol of a source url. An explicit
// hls:// or dash:// prefix wins over the file extension.
func Protocol(source string) (string, string, error) {
	for _, protocol := range []string{ProtocolHLS, ProtocolDASH} {
		if rest, ok := strings.CutPrefix(source, protocol+"://"); ok {
			if !strings.Contains(rest, "://") {
				rest = "https://" + rest
			}
			return protocol, rest, nil
		}
	}

	u, err := url.Parse(source)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid source url %q", source)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", errors.Errorf("unsupported source url %q", source)
	}

	if strings.EqualFold(path.Ext(u.Path), ".mpd") {
		return ProtocolDASH, source, nil
	}

	return ProtocolHLS, source, nil
}

// Streams loads the playlist or manifest of a source and lists its streams.
func Streams(ctx context.Context, sess *session.Session, source string, mux *muxer.Config) (segmented.Streams, error) {
	protocol, url, err := Protocol(source)
	if err != nil {
		return nil, err
	}

	if protocol == ProtocolDASH {
		return dash.ParseManifest(ctx, sess, url, mux)
	}

	return hls.ParseVariantPlaylist(ctx, sess, url, mux)
}
