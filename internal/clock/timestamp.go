package clock

import (
	"fmt"
	"time"
)

// Timestamp is a broken-down wall-clock reading.
// Weekday is ISO: 1=Monday .. 7=Sunday.
type Timestamp struct {
	Year    int
	Month   int
	Day     int
	Hour    int
	Minute  int
	Second  int
	Weekday int
}

// FromTime breaks t down in its own location.
func FromTime(t time.Time) Timestamp {
	return Timestamp{
		Year:    t.Year(),
		Month:   int(t.Month()),
		Day:     t.Day(),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
		Second:  t.Second(),
		Weekday: ISOWeekday(t.Weekday()),
	}
}

// ISOWeekday maps Go's Sunday=0 numbering onto ISO Monday=1..Sunday=7.
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// Time rebuilds the instant in loc. Weekday is ignored (derived from the date).
func (ts Timestamp) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(ts.Year, time.Month(ts.Month), ts.Day, ts.Hour, ts.Minute, ts.Second, 0, loc)
}

func (ts Timestamp) IsZero() bool { return ts == Timestamp{} }

func (ts Timestamp) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", ts.Year, ts.Month, ts.Day, ts.Hour, ts.Minute, ts.Second)
}
