package repository

import "time"

// TradingDay returns the journal day (YYYY-MM-DD) for a given timestamp.
// Days roll over at 00:00 UTC; token markets never close.
func TradingDay(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// TradingDayNow returns the trading day for the current moment.
func TradingDayNow() string {
	return TradingDay(time.Now())
}

// DayBounds returns the [start, end) UTC interval of a trading day string.
func DayBounds(day string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}
