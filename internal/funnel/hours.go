package funnel

import "time"

// Business-hours configuration. The business operates on Peru time, which has
// no daylight saving, so a fixed offset is sufficient.
const (
	businessUTCOffset = -5 * 60 * 60
	weekdayOpenHour   = 9
	weekdayCloseHour  = 18
	weekendOpenHour   = 9
	weekendCloseHour  = 13
)

var businessZone = time.FixedZone("-05", businessUTCOffset)

// WithinBusinessHours reports whether t falls inside attention hours:
// 09:00-18:00 Monday through Friday, 09:00-13:00 on weekends.
func WithinBusinessHours(t time.Time) bool {
	local := t.In(businessZone)
	hour := local.Hour()
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return hour >= weekendOpenHour && hour < weekendCloseHour
	default:
		return hour >= weekdayOpenHour && hour < weekdayCloseHour
	}
}
