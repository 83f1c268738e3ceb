package usage

import "time"

// Minutes returns billable attendee-minutes for one connected interval:
// whole minutes between join and leave, never less than one.
func Minutes(joinedAt, leftAt time.Time) int {
	n := int(leftAt.Sub(joinedAt) / time.Minute)
	if n < 1 {
		return 1
	}
	return n
}

// MonthRange returns [start of month, start of next month) in UTC.
func MonthRange(year int, month time.Month) (time.Time, time.Time) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}
