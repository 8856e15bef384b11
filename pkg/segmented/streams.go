package segmented

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Stream can be opened into a byte stream.
type Stream interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ErrorTaker is implemented by readers that keep the error that ended them.
type ErrorTaker interface {
	TakeError() error
}

type NamedStream struct {
	Name      string
	Bandwidth int64
	Height    int
	Stream    Stream
}

type Streams []NamedStream

func (s Streams) sorted() Streams {
	sorted := make(Streams, len(s))
	copy(sorted, s)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Height != sorted[j].Height {
			return sorted[i].Height < sorted[j].Height
		}
		return sorted[i].Bandwidth < sorted[j].Bandwidth
	})

	return sorted
}

// Names returns stream names from the worst to the best quality.
func (s Streams) Names() []string {
	names := make([]string, 0, len(s))
	for _, stream := range s.sorted() {
		names = append(names, stream.Name)
	}
	return names
}

// Select picks a stream by name, "best" or "worst".
func (s Streams) Select(quality string) (NamedStream, error) {
	if len(s) == 0 {
		return NamedStream{}, errors.New("no playable streams found")
	}

	sorted := s.sorted()

	switch strings.ToLower(quality) {
	case "", "best":
		return sorted[len(sorted)-1], nil
	case "worst":
		return sorted[0], nil
	}

	for _, stream := range s {
		if stream.Name == quality {
			return stream, nil
		}
	}

	return NamedStream{}, errors.Errorf("stream %q not found, available: %s", quality, strings.Join(s.Names(), ", "))
}
