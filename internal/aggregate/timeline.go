package aggregate

import (
	"time"

	"socwatch/internal/schema"
)

// timelineHours is the span of the hourly activity timeline.
const timelineHours = 24

// TimelineBucket is one hour of event activity.
type TimelineBucket struct {
	Time     string `json:"time"` // hour label, "15:00"
	Events   int    `json:"events"`
	Critical int    `json:"critical"`
	High     int    `json:"high"`
	Medium   int    `json:"medium"`
}

// timeline keeps per-hour counters for the last 24 hours in a fixed ring
// indexed by hour-of-epoch. Stale slots are detected by their stamp and
// reset lazily, so neither append nor evict ever scans the ring.
type timeline struct {
	stamp  [timelineHours]int64 // hour-of-epoch occupying the slot
	events [timelineHours]int
	crit   [timelineHours]int
	high   [timelineHours]int
	med    [timelineHours]int
}

func hourOf(ts time.Time) int64 {
	return ts.Unix() / 3600
}

// slot returns the ring index for the hour, resetting it if a previous
// day's counts still occupy it.
func (t *timeline) slot(hour int64) int {
	i := int(hour % timelineHours)
	if i < 0 {
		i += timelineHours
	}
	if t.stamp[i] != hour {
		t.stamp[i] = hour
		t.events[i] = 0
		t.crit[i] = 0
		t.high[i] = 0
		t.med[i] = 0
	}
	return i
}

func (t *timeline) add(e *schema.SecurityEvent, delta int) {
	hour := hourOf(e.Timestamp)
	i := t.slot(hour)

	t.events[i] += delta
	switch e.Severity {
	case schema.SeverityCritical:
		t.crit[i] += delta
	case schema.SeverityHigh:
		t.high[i] += delta
	case schema.SeverityMedium:
		t.med[i] += delta
	}

	if t.events[i] < 0 {
		t.events[i] = 0
	}
	if t.crit[i] < 0 {
		t.crit[i] = 0
	}
	if t.high[i] < 0 {
		t.high[i] = 0
	}
	if t.med[i] < 0 {
		t.med[i] = 0
	}
}

// buckets returns the last 24 hours oldest-first, ending at now's hour.
func (t *timeline) buckets(now time.Time) []TimelineBucket {
	out := make([]TimelineBucket, 0, timelineHours)
	current := hourOf(now)

	for h := current - timelineHours + 1; h <= current; h++ {
		i := int(h % timelineHours)
		if i < 0 {
			i += timelineHours
		}

		b := TimelineBucket{
			Time: time.Unix(h*3600, 0).UTC().Format("15:04"),
		}
		if t.stamp[i] == h {
			b.Events = t.events[i]
			b.Critical = t.crit[i]
			b.High = t.high[i]
			b.Medium = t.med[i]
		}
		out = append(out, b)
	}

	return out
}
