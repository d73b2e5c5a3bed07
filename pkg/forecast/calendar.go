package forecast

import "time"

// NextBusinessDay returns the first weekday strictly after t.
func NextBusinessDay(t time.Time) time.Time {
	d := t.AddDate(0, 0, 1)
	for isWeekend(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// BusinessDays returns n consecutive weekdays starting at start. If start
// falls on a weekend it is rolled forward to the next Monday first.
func BusinessDays(start time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	d := start
	for isWeekend(d) {
		d = d.AddDate(0, 0, 1)
	}
	days := make([]time.Time, 0, n)
	for len(days) < n {
		days = append(days, d)
		d = d.AddDate(0, 0, 1)
		for isWeekend(d) {
			d = d.AddDate(0, 0, 1)
		}
	}
	return days
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
