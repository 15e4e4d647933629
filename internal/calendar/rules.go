// Package calendar decides whether a given date counts as an occurrence of
// each recurring sprint event, and searches for the next/most recent one.
// All predicates are pure and total; every date is interpreted in the single
// configured locale.
package calendar

import "time"

// Engine evaluates calendar rules in one fixed location.
type Engine struct {
	loc *time.Location
}

func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{loc: loc}
}

func (e *Engine) Location() *time.Location { return e.loc }

// Midnight normalizes t to local midnight in the engine's location.
func (e *Engine) Midnight(t time.Time) time.Time {
	lt := t.In(e.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, e.loc)
}

// InstantFor combines a date with the job's configured time-of-day.
func (e *Engine) InstantFor(j JobType, date time.Time) time.Time {
	d := e.Midnight(date)
	h, m := j.Clock()
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, e.loc)
}

// IsNthWeekday reports whether date is the given weekday AND its day-of-month
// falls inside one of the ranges implied by occurrences (occurrence n covers
// days [7n-6, 7n]).
//
// This is a deliberate approximation of "1st/3rd <weekday>" carried over from
// the original cadence rules: it is range membership, not a true ordinal
// computation, and can diverge from the strict ordinal definition in months
// whose 1st falls late in the week. Keep it as-is.
func IsNthWeekday(date time.Time, weekday time.Weekday, occurrences []int) bool {
	if date.Weekday() != weekday {
		return false
	}
	dom := date.Day()
	for _, n := range occurrences {
		lo := 7*n - 6
		hi := 7 * n
		if dom >= lo && dom <= hi {
			return true
		}
	}
	return false
}

// IsLastDayOfMonth reports whether adding one day rolls into day-of-month 1.
func IsLastDayOfMonth(date time.Time) bool {
	return date.AddDate(0, 0, 1).Day() == 1
}

// IsOccurrence evaluates the job's calendar rule against the date (normalized
// to local midnight).
func (e *Engine) IsOccurrence(j JobType, date time.Time) bool {
	d := e.Midnight(date)
	if j == MonthEnd {
		return IsLastDayOfMonth(d)
	}
	spec := jobSpecs[j]
	return IsNthWeekday(d, spec.weekday, spec.occurrences)
}

// NextOccurrenceAfter finds the first qualifying instant at or after from.
//
// If from's own date qualifies but from is already past that job's configured
// time-of-day, the scan starts on the next day: a slot that has passed today
// is not offered again. The scan is bounded by the job's horizon; the rules'
// periodicity guarantees a hit inside it, but if the horizon is somehow
// exhausted the result degrades to from's date at the configured time rather
// than failing.
func (e *Engine) NextOccurrenceAfter(j JobType, from time.Time) time.Time {
	day := e.Midnight(from)
	if e.IsOccurrence(j, day) && from.In(e.loc).After(e.InstantFor(j, day)) {
		day = day.AddDate(0, 0, 1)
	}

	horizon := jobSpecs[j].horizon
	for i := 0; i < horizon; i++ {
		if e.IsOccurrence(j, day) {
			return e.InstantFor(j, day)
		}
		day = day.AddDate(0, 0, 1)
	}

	// Degraded soft-failure signal; callers show it, they don't crash on it.
	return e.InstantFor(j, from)
}

// MostRecentOccurrence scans backward up to 14 days from before (exclusive)
// and returns the latest qualifying instant, or ok=false if the window is
// exhausted.
func (e *Engine) MostRecentOccurrence(j JobType, before time.Time) (time.Time, bool) {
	day := e.Midnight(before)
	for i := 0; i < 14; i++ {
		if e.IsOccurrence(j, day) {
			at := e.InstantFor(j, day)
			if at.Before(before.In(e.loc)) {
				return at, true
			}
		}
		day = day.AddDate(0, 0, -1)
	}
	return time.Time{}, false
}

// AllNextOccurrences returns one NextOccurrence per job type, ascending by
// instant. This is what status display shows; it is intentionally distinct
// from when the scheduler's own tick next fires.
func (e *Engine) AllNextOccurrences(now time.Time) []NextOccurrence {
	out := make([]NextOccurrence, 0, len(AllJobTypes()))
	for _, j := range AllJobTypes() {
		out = append(out, NextOccurrence{
			JobType: j,
			At:      e.NextOccurrenceAfter(j, now),
			Label:   j.Label(),
		})
	}
	// insertion sort; five elements
	for i := 1; i < len(out); i++ {
		for k := i; k > 0 && out[k].At.Before(out[k-1].At); k-- {
			out[k], out[k-1] = out[k-1], out[k]
		}
	}
	return out
}

// SkipReason explains why a live tick did not send for a non-qualifying date.
func (e *Engine) SkipReason(j JobType, date time.Time) string {
	d := e.Midnight(date)
	if j == MonthEnd {
		return d.Format("Jan 2") + " is not the last day of the month"
	}
	return d.Format("Jan 2") + " is not a scheduled " + d.Weekday().String() + " for " + j.Label()
}
