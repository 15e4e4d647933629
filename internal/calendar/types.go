package calendar

import (
	"fmt"
	"strings"
	"time"
)

// JobType enumerates the recurring sprint events.
type JobType int

const (
	Kickoff JobType = iota
	CheckIn
	Review
	Demo
	MonthEnd
)

// AllJobTypes lists every job type in declaration order.
func AllJobTypes() []JobType {
	return []JobType{Kickoff, CheckIn, Review, Demo, MonthEnd}
}

// jobSpec is the static configuration of a job type: when in the day it
// fires and how it is shown to users. Not derived data.
type jobSpec struct {
	name    string
	label   string
	hour    int
	minute  int
	weekday time.Weekday // ignored for MonthEnd
	// occurrences are the nth-weekday slots ({1,3}, {2,4}, {2}); empty for
	// MonthEnd which uses the last-day rule instead.
	occurrences []int
	// horizon bounds the forward scan in NextOccurrence.
	horizon int
}

var jobSpecs = map[JobType]jobSpec{
	Kickoff:  {name: "kickoff", label: "Sprint Kickoff", hour: 9, minute: 0, weekday: time.Monday, occurrences: []int{1, 3}, horizon: 31},
	CheckIn:  {name: "checkin", label: "Mid-sprint Check-in", hour: 9, minute: 30, weekday: time.Wednesday, occurrences: []int{2, 4}, horizon: 31},
	Review:   {name: "review", label: "Sprint Review", hour: 16, minute: 0, weekday: time.Friday, occurrences: []int{2, 4}, horizon: 31},
	Demo:     {name: "demo", label: "Demo Day", hour: 10, minute: 0, weekday: time.Saturday, occurrences: []int{2}, horizon: 45},
	MonthEnd: {name: "monthend", label: "Month-end Wrap", hour: 18, minute: 0, horizon: 32},
}

func (j JobType) String() string {
	if s, ok := jobSpecs[j]; ok {
		return s.name
	}
	return fmt.Sprintf("jobtype(%d)", int(j))
}

// Label is the human-facing name used in chat messages and status output.
func (j JobType) Label() string { return jobSpecs[j].label }

// Clock returns the configured wall-clock time-of-day.
func (j JobType) Clock() (hour, minute int) {
	s := jobSpecs[j]
	return s.hour, s.minute
}

// Weekday returns the trigger weekday and false for MonthEnd, which runs on a
// daily trigger instead.
func (j JobType) Weekday() (time.Weekday, bool) {
	if j == MonthEnd {
		return 0, false
	}
	return jobSpecs[j].weekday, true
}

// ParseJobType resolves a user-supplied name ("kickoff", "monthend", ...).
func ParseJobType(s string) (JobType, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for _, j := range AllJobTypes() {
		if j.String() == needle {
			return j, nil
		}
	}
	return 0, fmt.Errorf("unknown job type %q", s)
}

// NextOccurrence is a derived, display-only record: the next qualifying
// instant for a job type. Computed on demand, never persisted.
type NextOccurrence struct {
	JobType JobType
	At      time.Time
	Label   string
}
