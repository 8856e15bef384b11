package muxer

import (
	"strings"

	"golang.org/x/text/language"
)

// AudioTrack describes an alternative audio rendition offered to the selector.
type AudioTrack struct {
	Language string
	Name     string
	Default  bool
}

// SelectAudio returns indexes of the audio tracks to mux. Explicit selectors
// (language codes or names, "*" for all) may pick several tracks, otherwise a
// single track matching the locale is chosen. Exact matches win over tracks
// of the same base language, then the default track, then the first one.
func SelectAudio(tracks []AudioTrack, selectors []string, locale string) []int {
	if len(tracks) == 0 {
		return nil
	}

	for _, selector := range selectors {
		if strings.TrimSpace(selector) == "*" {
			all := make([]int, len(tracks))
			for i := range tracks {
				all[i] = i
			}
			return all
		}
	}

	prefs, multiple := selectors, true
	if len(prefs) == 0 {
		prefs, multiple = []string{locale}, false
	}

	if selected := matchTracks(tracks, prefs, multiple, exactMatch); len(selected) > 0 {
		return selected
	}

	if selected := matchTracks(tracks, prefs, multiple, baseMatch); len(selected) > 0 {
		return selected
	}

	for i, track := range tracks {
		if track.Default {
			return []int{i}
		}
	}

	return []int{0}
}

func matchTracks(tracks []AudioTrack, prefs []string, multiple bool, match func(AudioTrack, string) bool) []int {
	var selected []int
	for i, track := range tracks {
		for _, pref := range prefs {
			if !match(track, strings.TrimSpace(pref)) {
				continue
			}

			if !multiple {
				return []int{i}
			}
			selected = append(selected, i)
			break
		}
	}
	return selected
}

func exactMatch(track AudioTrack, pref string) bool {
	if pref == "" {
		return false
	}
	return strings.EqualFold(track.Language, pref) || strings.EqualFold(track.Name, pref)
}

// baseMatch compares ISO 639 base languages, so "eng", "en" and "en-GB" match.
func baseMatch(track AudioTrack, pref string) bool {
	a, ok := baseLanguage(track.Language)
	if !ok {
		return false
	}
	b, ok := baseLanguage(pref)
	return ok && a == b
}

func baseLanguage(code string) (language.Base, bool) {
	// strip encodings like "en_US.UTF-8"
	code, _, _ = strings.Cut(code, ".")

	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil || tag == language.Und {
		return language.Base{}, false
	}

	base, confidence := tag.Base()
	return base, confidence != language.No
}
