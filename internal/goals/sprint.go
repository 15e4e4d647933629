package goals

import (
	"fmt"
	"time"
)

// SprintID labels the bi-weekly cycle containing t. Cycles open on
// odd-parity ISO weeks, so both weeks of a cycle normalize to the same
// `2026-W07` style label.
func SprintID(t time.Time) string {
	year, week := t.ISOWeek()
	if week%2 == 0 {
		// Second week of the cycle: label by the opening week.
		year, week = t.AddDate(0, 0, -7).ISOWeek()
	}
	return fmt.Sprintf("%d-W%02d", year, week)
}
