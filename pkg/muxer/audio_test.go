package muxer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectAudio(t *testing.T) {
	tracks := []AudioTrack{
		{Language: "en", Name: "English"},
		{Language: "es", Name: "Spanish"},
		{Language: "de", Name: "Deutsch", Default: true},
	}

	tests := []struct {
		name      string
		tracks    []AudioTrack
		selectors []string
		locale    string
		want      []int
	}{
		{"all", tracks, []string{"*"}, "en-US", []int{0, 1, 2}},
		{"several codes", tracks, []string{"en", "de"}, "", []int{0, 2}},
		{"by name", tracks, []string{"spanish"}, "", []int{1}},
		{"selector base language", tracks, []string{"deu"}, "", []int{2}},
		{"locale same language", tracks, nil, "es-ES", []int{1}},
		{"locale with encoding", tracks, nil, "en_US.UTF-8", []int{0}},
		{"iso 639-2 locale", tracks, nil, "eng", []int{0}},
		{"default track", tracks, nil, "fr", []int{2}},
		{"first track", tracks[:2], nil, "fr", []int{0}},
		{"unknown selector", tracks[:2], []string{"xx"}, "en", []int{0}},
		{"no tracks", nil, nil, "en", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectAudio(tt.tracks, tt.selectors, tt.locale))
		})
	}
}
