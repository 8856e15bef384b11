package hls

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Attributes is a decoded attribute list, quoted values are stored unquoted.
type Attributes map[string]string

func isAttributeName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

// ParseAttributes decodes comma separated KEY=VALUE pairs. Values are either
// double-quoted strings without quotes or line breaks, or unquoted tokens
// (integers, hex sequences, floats, enumerated strings, resolutions).
func ParseAttributes(value string) (Attributes, error) {
	attrs := Attributes{}

	rest := strings.TrimSpace(value)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return nil, errors.Errorf("missing value for attribute %q", rest)
		}

		name := strings.TrimSpace(rest[:eq])
		if !isAttributeName(name) {
			return nil, errors.Errorf("invalid attribute name %q", name)
		}
		rest = rest[eq+1:]

		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return nil, errors.Errorf("unterminated quoted value for attribute %s", name)
			}
			val = rest[1 : end+1]
			rest = rest[end+2:]

			if strings.ContainsAny(val, "\r\n") {
				return nil, errors.Errorf("line break in quoted value of attribute %s", name)
			}
		} else {
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			val = strings.TrimSpace(rest[:end])
			rest = rest[end:]

			if val == "" || strings.ContainsAny(val, "\" \t") {
				return nil, errors.Errorf("invalid value %q for attribute %s", val, name)
			}
		}

		attrs[name] = val

		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		if rest[0] != ',' {
			return nil, errors.Errorf("unexpected %q after attribute %s", rest[:1], name)
		}
		rest = strings.TrimLeft(rest[1:], " \t")
	}

	return attrs, nil
}

func (a Attributes) String(name string) string {
	return a[name]
}

func (a Attributes) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Attributes) Int(name string) (int64, error) {
	return strconv.ParseInt(a[name], 10, 64)
}

func (a Attributes) Float(name string) (float64, error) {
	return strconv.ParseFloat(a[name], 64)
}

// Bool treats the enumerated YES as true.
func (a Attributes) Bool(name string) bool {
	return a[name] == "YES"
}

// Hex decodes a 0x prefixed hex sequence.
func (a Attributes) Hex(name string) ([]byte, error) {
	return parseHex(a[name])
}

func (a Attributes) Resolution(name string) (*Resolution, error) {
	width, height, ok := strings.Cut(strings.ToLower(a[name]), "x")
	if !ok {
		return nil, errors.Errorf("invalid resolution %q", a[name])
	}

	w, err := strconv.Atoi(width)
	if err != nil {
		return nil, errors.Wrap(err, "invalid resolution width")
	}

	h, err := strconv.Atoi(height)
	if err != nil {
		return nil, errors.Wrap(err, "invalid resolution height")
	}

	return &Resolution{Width: w, Height: h}, nil
}

func (a Attributes) Seconds(name string) (time.Duration, error) {
	f, err := a.Float(name)
	if err != nil {
		return 0, err
	}
	return seconds(f), nil
}

func (a Attributes) Date(name string) (time.Time, error) {
	return parseDate(a[name])
}

func parseHex(value string) ([]byte, error) {
	if len(value) < 2 || value[0] != '0' || (value[1] != 'x' && value[1] != 'X') {
		return nil, errors.Errorf("invalid hex sequence %q", value)
	}

	digits := value[2:]
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}

	return hex.DecodeString(digits)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999Z0700"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("invalid date %q", value)
}
