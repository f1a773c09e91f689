// Package bell holds the schedule table: recurring rings defined by a
// weekday range, a wall-clock minute and an audio track.
package bell

import (
	"errors"
	"fmt"
	"iter"

	"schoolbell/internal/clock"
)

const (
	MinTrack = 1
	MaxTrack = 3000
)

var ErrInvalidEvent = errors.New("invalid bell event")

// Event is one row of the schedule. Days are ISO weekdays (Monday=1),
// inclusive, without wrap-around.
type Event struct {
	DayFrom int    `json:"dayFrom"`
	DayTo   int    `json:"dayTo"`
	Hour    int    `json:"hour"`
	Minute  int    `json:"minute"`
	Track   int    `json:"track"`
	Label   string `json:"label"`
}

func (e Event) Validate() error {
	switch {
	case e.DayFrom < 1 || e.DayFrom > 7:
		return fmt.Errorf("%w: dayFrom %d out of 1..7", ErrInvalidEvent, e.DayFrom)
	case e.DayTo < 1 || e.DayTo > 7:
		return fmt.Errorf("%w: dayTo %d out of 1..7", ErrInvalidEvent, e.DayTo)
	case e.DayFrom > e.DayTo:
		return fmt.Errorf("%w: dayFrom %d after dayTo %d", ErrInvalidEvent, e.DayFrom, e.DayTo)
	case e.Hour < 0 || e.Hour > 23:
		return fmt.Errorf("%w: hour %d out of 0..23", ErrInvalidEvent, e.Hour)
	case e.Minute < 0 || e.Minute > 59:
		return fmt.Errorf("%w: minute %d out of 0..59", ErrInvalidEvent, e.Minute)
	case e.Track < MinTrack || e.Track > MaxTrack:
		return fmt.Errorf("%w: track %d out of %d..%d", ErrInvalidEvent, e.Track, MinTrack, MaxTrack)
	}
	return nil
}

// OnDay reports whether the ISO weekday falls inside the event's range.
func (e Event) OnDay(isoWeekday int) bool {
	return isoWeekday >= e.DayFrom && isoWeekday <= e.DayTo
}

// Matches reports whether the event rings at ts (seconds are ignored).
func (e Event) Matches(ts clock.Timestamp) bool {
	return e.OnDay(ts.Weekday) && e.Hour == ts.Hour && e.Minute == ts.Minute
}

// Table is the immutable, ordered schedule.
type Table struct {
	events []Event
}

// NewTable validates every row and copies the slice.
func NewTable(events []Event) (*Table, error) {
	cp := make([]Event, len(events))
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		cp[i] = e
	}
	return &Table{events: cp}, nil
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.events)
}

// Events returns a copy of the rows in definition order.
func (t *Table) Events() []Event {
	if t == nil {
		return nil
	}
	return append([]Event(nil), t.events...)
}

// Matches yields, in table order, every event ringing at ts.
func (t *Table) Matches(ts clock.Timestamp) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if t == nil {
			return
		}
		for _, e := range t.events {
			if !e.Matches(ts) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// DefaultEvents is the stock school-day program used when the config has no
// schedule section.
func DefaultEvents() []Event {
	return []Event{
		{DayFrom: 1, DayTo: 5, Hour: 8, Minute: 30, Track: 1, Label: "Ders Baslangic"},
		{DayFrom: 1, DayTo: 5, Hour: 9, Minute: 10, Track: 2, Label: "Teneffus"},
		{DayFrom: 1, DayTo: 5, Hour: 9, Minute: 20, Track: 1, Label: "Ders"},
		{DayFrom: 1, DayTo: 5, Hour: 12, Minute: 0, Track: 3, Label: "Istiklal Marsi"},
		{DayFrom: 1, DayTo: 5, Hour: 16, Minute: 0, Track: 4, Label: "Cikis"},
	}
}
