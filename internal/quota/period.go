// Package quota holds the calendar-month period arithmetic shared by the
// quota ledger and its callers.
package quota

import "time"

// PeriodKey partitions usage by the calendar year-month of the request's
// arrival time, in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ResetAt returns the first instant of the calendar month following t (UTC),
// when the usage counter for t's period stops applying.
func ResetAt(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
