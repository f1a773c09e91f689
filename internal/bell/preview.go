package bell

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Ring is a concrete upcoming occurrence of an event.
type Ring struct {
	At    time.Time
	Event Event
}

// CronSpec renders the event as a standard 5-field cron expression.
// ISO Sunday (7) becomes cron's 0.
func (e Event) CronSpec() string {
	days := make([]string, 0, 7)
	for d := e.DayFrom; d <= e.DayTo; d++ {
		days = append(days, strconv.Itoa(d%7))
	}
	return strconv.Itoa(e.Minute) + " " + strconv.Itoa(e.Hour) + " * * " + strings.Join(days, ",")
}

// Next returns the first ring strictly after t, in t's location.
// It returns the zero time if the event cannot be parsed.
func (e Event) Next(after time.Time) time.Time {
	sched, err := cron.ParseStandard(e.CronSpec())
	if err != nil {
		return time.Time{}
	}
	return sched.Next(after)
}

// Upcoming lists the next n rings across the whole table, ordered by time
// then table position.
func (t *Table) Upcoming(from time.Time, n int) []Ring {
	if t == nil || n <= 0 || len(t.events) == 0 {
		return nil
	}
	type cursor struct {
		idx  int
		sch  cron.Schedule
		next time.Time
	}
	curs := make([]*cursor, 0, len(t.events))
	for i, e := range t.events {
		sch, err := cron.ParseStandard(e.CronSpec())
		if err != nil {
			continue
		}
		curs = append(curs, &cursor{idx: i, sch: sch, next: sch.Next(from)})
	}

	out := make([]Ring, 0, n)
	for len(out) < n && len(curs) > 0 {
		sort.SliceStable(curs, func(i, j int) bool {
			if !curs[i].next.Equal(curs[j].next) {
				return curs[i].next.Before(curs[j].next)
			}
			return curs[i].idx < curs[j].idx
		})
		c := curs[0]
		if c.next.IsZero() {
			break
		}
		out = append(out, Ring{At: c.next, Event: t.events[c.idx]})
		c.next = c.sch.Next(c.next)
	}
	return out
}

var dayNames = [...]string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Days renders the weekday range, e.g. "Mon-Fri" or "Sat".
func (e Event) Days() string {
	name := func(d int) string {
		if d < 1 || d > 7 {
			return "?"
		}
		return dayNames[d]
	}
	if e.DayFrom == e.DayTo {
		return name(e.DayFrom)
	}
	return name(e.DayFrom) + "-" + name(e.DayTo)
}

// String is the one-line form used in operator output.
func (e Event) String() string {
	s := fmt.Sprintf("%s %02d:%02d track=%d", e.Days(), e.Hour, e.Minute, e.Track)
	if e.Label != "" {
		s += " " + e.Label
	}
	return s
}
