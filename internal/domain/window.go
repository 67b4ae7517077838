package domain

import "time"

// AdmissionWindowHours is the rolling window used by admission control.
const AdmissionWindowHours = 24

// Window is a closed time range [From, To].
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// LastHours returns the window covering the hours preceding now.
func LastHours(now time.Time, hours int) Window {
	return Window{From: now.Add(-time.Duration(hours) * time.Hour), To: now}
}

// LastDays returns the window covering the calendar days preceding now.
func LastDays(now time.Time, days int) Window {
	return Window{From: now.AddDate(0, 0, -days), To: now}
}

func AdmissionWindow(now time.Time) Window {
	return LastHours(now, AdmissionWindowHours)
}

func CacheWindow(now time.Time, cacheDurationDays int) Window {
	return LastDays(now, cacheDurationDays)
}
