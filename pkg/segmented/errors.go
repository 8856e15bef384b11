package segmented

import "github.com/pkg/errors"

var (
	// ErrParse is returned when a playlist or manifest can not be parsed.
	ErrParse = errors.New("parse error")
	// ErrReload is returned when a live playlist reload failed.
	ErrReload = errors.New("playlist reload failed")
	// ErrSegment is returned when a single segment can not be fetched or decrypted.
	ErrSegment = errors.New("segment failed")
	// ErrInitSegment is returned when an initialization segment can not be fetched.
	ErrInitSegment = errors.New("init segment failed")
	// ErrDecryptConfig is returned for unsupported key methods or missing key URIs.
	ErrDecryptConfig = errors.New("invalid decryption config")
	// ErrDecrypt is returned when a segment can not be decrypted.
	ErrDecrypt = errors.New("decryption failed")
	// ErrDRM is returned when the stream is protected by DRM.
	ErrDRM = errors.New("stream is protected by DRM")
	// ErrStall is returned when a live playlist stops adding segments.
	ErrStall = errors.New("stream stalled")
	// ErrReadTimeout is returned by Read when no data arrived in time.
	ErrReadTimeout = errors.New("read timeout")
)

// IsFatal reports whether err ends a pipeline.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return !errors.Is(err, ErrSegment) &&
		!errors.Is(err, ErrDecrypt) &&
		!errors.Is(err, ErrReadTimeout)
}
