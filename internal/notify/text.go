package notify

import (
	"fmt"
	"strings"

	"schoolbell/internal/bell"
	"schoolbell/internal/engine"
)

// StatusText renders a snapshot for chat replies.
func StatusText(s engine.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Clock: %s\n", s.Time)
	fmt.Fprintf(&b, "Volume: %d\n", s.Volume)
	if s.ManualLock {
		end := s.ManualLockEnd()
		fmt.Fprintf(&b, "Manual lock: until %02d:%02d:%02d\n", end.Hour, end.Minute, end.Second)
	} else {
		b.WriteString("Manual lock: off\n")
	}
	if t := s.LastTrigger; t != nil {
		fmt.Fprintf(&b, "Last ring: %s track=%d %s", t.At, t.Track, t.Label)
	} else {
		b.WriteString("Last ring: none")
	}
	return strings.TrimRight(b.String(), " \n")
}

// ScheduleText lists events one per line in table order.
func ScheduleText(events []bell.Event) string {
	if len(events) == 0 {
		return "Schedule is empty"
	}
	lines := make([]string, 0, len(events))
	for i, e := range events {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, e))
	}
	return strings.Join(lines, "\n")
}
