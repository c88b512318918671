// Package recency buckets threads by how long ago they were last active.
package recency

import (
	"time"

	"concierge/internal/threads"
)

// Bucket labels in display order.
const (
	Today        = "Today"
	Yesterday    = "Yesterday"
	PreviousWeek = "Previous 7 days"
	Older        = "Older"
)

var order = []string{Today, Yesterday, PreviousWeek, Older}

// Group is one non-empty bucket of threads.
type Group struct {
	Label   string
	Threads []threads.Thread
}

// Classify returns the bucket label for a timestamp relative to now. Days are
// calendar days in now's location; timestamps in the future count as Today.
func Classify(ts, now time.Time) string {
	days := dayDiff(ts, now)
	switch {
	case days <= 0:
		return Today
	case days == 1:
		return Yesterday
	case days <= 7:
		return PreviousWeek
	default:
		return Older
	}
}

func dayDiff(ts, now time.Time) int {
	loc := now.Location()
	ty, tm, td := ts.In(loc).Date()
	ny, nm, nd := now.Date()
	// Noon avoids DST shifts moving a date across midnight.
	tDay := time.Date(ty, tm, td, 12, 0, 0, 0, loc)
	nDay := time.Date(ny, nm, nd, 12, 0, 0, 0, loc)
	return int(nDay.Sub(tDay).Round(24*time.Hour) / (24 * time.Hour))
}

// GroupThreads partitions list into buckets in fixed order. Empty buckets are
// omitted and each bucket keeps the input order.
func GroupThreads(list []threads.Thread, now time.Time) []Group {
	buckets := make(map[string][]threads.Thread, len(order))
	for _, thread := range list {
		label := Classify(thread.Timestamp, now)
		buckets[label] = append(buckets[label], thread)
	}
	groups := make([]Group, 0, len(buckets))
	for _, label := range order {
		if members := buckets[label]; len(members) > 0 {
			groups = append(groups, Group{Label: label, Threads: members})
		}
	}
	return groups
}
