package dash

import (
	"encoding/xml"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var durationRegex = regexp.MustCompile(`^(-)?P(?:([\d.]+)Y)?(?:([\d.]+)M)?(?:([\d.]+)W)?(?:([\d.]+)D)?(?:T(?:([\d.]+)H)?(?:([\d.]+)M)?(?:([\d.]+)S)?)?$`)

// calendar units use fixed lengths, MPDs hardly ever use them
var durationUnits = []time.Duration{
	365 * 24 * time.Hour,
	30 * 24 * time.Hour,
	7 * 24 * time.Hour,
	24 * time.Hour,
	time.Hour,
	time.Minute,
	time.Second,
}

// ParseDuration parses an ISO 8601 duration such as PT1H2M3.5S.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)

	match := durationRegex.FindStringSubmatch(value)
	if match == nil || strings.HasSuffix(value, "P") || strings.HasSuffix(value, "T") {
		return 0, errors.Errorf("invalid duration %q", value)
	}

	var total float64
	for i, unit := range durationUnits {
		part := match[i+2]
		if part == "" {
			continue
		}

		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, errors.Errorf("invalid duration %q", value)
		}
		total += f * float64(unit)
	}

	if total > math.MaxInt64 {
		return 0, errors.Errorf("duration %q out of range", value)
	}

	d := time.Duration(math.Round(total))
	if match[1] != "" {
		d = -d
	}
	return d, nil
}

// Duration is an xs:duration attribute.
type Duration time.Duration

func (d *Duration) UnmarshalXMLAttr(attr xml.Attr) error {
	value, err := ParseDuration(attr.Value)
	if err != nil {
		return errors.Wrapf(err, "attribute %s", attr.Name.Local)
	}
	*d = Duration(value)
	return nil
}

func (d *Duration) Value() time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

// DateTime is an xs:dateTime attribute, a missing zone means UTC.
type DateTime struct {
	time.Time
}

func ParseDateTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("invalid date %q", value)
}

func (d *DateTime) UnmarshalXMLAttr(attr xml.Attr) error {
	value, err := ParseDateTime(attr.Value)
	if err != nil {
		return errors.Wrapf(err, "attribute %s", attr.Name.Local)
	}
	d.Time = value
	return nil
}
