package rules

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
)

// TimeLayout is the only accepted textual timestamp format
const TimeLayout = "2006-01-02 15:04"

// ErrInvalidFormat is returned for timestamps that do not match TimeLayout
var ErrInvalidFormat = errors.New("invalid date format")

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`)

// Timestamp is a wall-clock appointment time with minute precision.
// It carries no zone; all arithmetic is done in UTC so DST never shifts a slot.
type Timestamp struct {
	Year    int
	Month   int
	Day     int
	Hour    int
	Minute  int
	Weekday time.Weekday
}

// ParseTimestamp parses s in the fixed "YYYY-MM-DD HH:MM" layout
func ParseTimestamp(s string) (Timestamp, error) {
	if !timestampPattern.MatchString(s) {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	return FromTime(t), nil
}

// MustParseTimestamp is ParseTimestamp for literals known to be valid
func MustParseTimestamp(s string) Timestamp {
	ts, err := ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// FromTime truncates t to the minute, keeping its wall-clock fields
func FromTime(t time.Time) Timestamp {
	return Timestamp{
		Year:    t.Year(),
		Month:   int(t.Month()),
		Day:     t.Day(),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
		Weekday: t.Weekday(),
	}
}

// Time returns the timestamp as a UTC time.Time
func (ts Timestamp) Time() time.Time {
	return time.Date(ts.Year, time.Month(ts.Month), ts.Day, ts.Hour, ts.Minute, 0, 0, time.UTC)
}

// IsZero reports whether ts was never set
func (ts Timestamp) IsZero() bool {
	return ts == Timestamp{}
}

func (ts Timestamp) Add(d time.Duration) Timestamp {
	return FromTime(ts.Time().Add(d))
}

// AtHour returns the same day at hour:00
func (ts Timestamp) AtHour(hour int) Timestamp {
	return FromTime(time.Date(ts.Year, time.Month(ts.Month), ts.Day, hour, 0, 0, 0, time.UTC))
}

// AddDays moves ts by n calendar days keeping the wall-clock time
func (ts Timestamp) AddDays(n int) Timestamp {
	return FromTime(ts.Time().AddDate(0, 0, n))
}

// DaysSince returns the whole days elapsed from earlier to ts, floored
func (ts Timestamp) DaysSince(earlier Timestamp) int {
	d := ts.Time().Sub(earlier.Time())
	return int(math.Floor(d.Hours() / 24))
}

func (ts Timestamp) String() string {
	return ts.Time().Format(TimeLayout)
}

func (ts Timestamp) MarshalText() ([]byte, error) {
	return []byte(ts.String()), nil
}

func (ts *Timestamp) UnmarshalText(b []byte) error {
	parsed, err := ParseTimestamp(string(b))
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
