// Package market knows the NSE trading window. All cutoffs are evaluated in
// IST regardless of host timezone.
package market

import "time"

// Now is the clock used by the engine and settlement pipeline. Tests swap it
// to pin the trading window.
var Now = time.Now

var ist = mustLoadIST()

func mustLoadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// IST has no DST; a fixed offset is equivalent.
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}

// IST returns the exchange timezone.
func IST() *time.Location {
	return ist
}

// IsOpen reports whether t falls inside the order placement window,
// 9:15 to 15:45 IST on weekdays.
func IsOpen(t time.Time) bool {
	t = t.In(ist)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+15 && minutes <= 15*60+45
}

// IsAfterClose reports whether t is at or past the 15:45 IST close cutoff on
// a weekday. End-of-day settlement becomes due once this is true.
func IsAfterClose(t time.Time) bool {
	t = t.In(ist)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 15*60+45
}

// TradingDay formats t as the YYYY-MM-DD trading day in IST.
func TradingDay(t time.Time) string {
	return t.In(ist).Format("2006-01-02")
}
