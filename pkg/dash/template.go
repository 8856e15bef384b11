package dash

import (
	"regexp"
	"strconv"
)

var templateRegex = regexp.MustCompile(`\$(\w*)(?:%0?(\d*)d)?\$`)

// templateVars are the values substituted into SegmentTemplate URLs.
type templateVars struct {
	RepresentationID string
	Bandwidth        int64
	Number           int64
	Time             uint64
}

// expand substitutes $RepresentationID$, $Bandwidth$, $Number$ and $Time$,
// with an optional %0<width>d format, and unescapes $$. Unknown identifiers
// are left as they are.
func (v templateVars) expand(template string) string {
	return templateRegex.ReplaceAllStringFunc(template, func(match string) string {
		parts := templateRegex.FindStringSubmatch(match)
		ident, width := parts[1], parts[2]

		var value string
		switch ident {
		case "":
			return "$"
		case "RepresentationID":
			return v.RepresentationID
		case "Bandwidth":
			value = strconv.FormatInt(v.Bandwidth, 10)
		case "Number":
			value = strconv.FormatInt(v.Number, 10)
		case "Time":
			value = strconv.FormatUint(v.Time, 10)
		default:
			return match
		}

		if w, err := strconv.Atoi(width); err == nil {
			for len(value) < w {
				value = "0" + value
			}
		}

		return value
	})
}
