package fee

import "time"

// Calculator converts a parking duration into a billable amount. It is pure:
// both timestamps are supplied by the caller, never read from the wall clock.
type Calculator struct {
	RatePerHour int64
}

// NewCalculator returns a calculator for the given hourly rate.
func NewCalculator(ratePerHour int64) Calculator {
	return Calculator{RatePerHour: ratePerHour}
}

// BillableHours returns the duration between entry and reference rounded up to
// the next whole hour, with a floor of one billable hour.
func (c Calculator) BillableHours(entryTime, referenceTime time.Time) int64 {
	d := referenceTime.Sub(entryTime)
	if d <= 0 {
		return 1
	}
	hours := int64(d / time.Hour)
	if d%time.Hour > 0 {
		hours++
	}
	if hours < 1 {
		hours = 1
	}
	return hours
}

// Fee returns billable hours times the hourly rate.
func (c Calculator) Fee(entryTime, referenceTime time.Time) int64 {
	return c.BillableHours(entryTime, referenceTime) * c.RatePerHour
}
