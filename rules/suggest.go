package rules

import "time"

// Suggest computes the single alternative slot for a failed time-based rule.
// Each rule kind has exactly one closed-form formula; rules that are not
// time-shiftable report ok=false.
func Suggest(rule RuleID, requested Timestamp, p Policy) (ts Timestamp, ok bool) {
	switch rule {
	case RuleOperatingHours:
		if requested.Hour < p.OpenHour {
			return requested.AtHour(p.OpenHour), true
		}
		return requested.AddDays(1).AtHour(p.OpenHour), true

	case RuleWeeklyClosure:
		for n := 1; n <= 7; n++ {
			day := requested.AddDays(n)
			if !p.IsClosedOn(int(day.Weekday)) {
				return day.AtHour(p.OpenHour), true
			}
		}
		return Timestamp{}, false

	case RuleBlockedInterval:
		iv, blocked := p.BlockedAt(requested.Hour)
		if !blocked {
			return Timestamp{}, false
		}
		return requested.Add(hourDuration(iv.Hours())), true

	case RuleCapacity:
		return requested.Add(time.Hour), true
	}

	return Timestamp{}, false
}
