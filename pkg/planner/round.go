package planner

import (
	"fmt"
	"time"
)

// RoundRuntime rounds a runtime-remaining figure for presentation: two hours
// or more to the nearest 15 minutes, below that to the nearest 5 minutes.
// Purely cosmetic; decisions always use the unrounded value.
func RoundRuntime(d time.Duration) time.Duration {
	if d >= 2*time.Hour {
		return d.Round(15 * time.Minute)
	}
	return d.Round(5 * time.Minute)
}

// FormatRuntime renders a rounded runtime as "1h35m" / "45m".
func FormatRuntime(d time.Duration) string {
	d = RoundRuntime(d)
	h := int(d.Hours())
	m := int(d.Minutes()) - h*60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}
