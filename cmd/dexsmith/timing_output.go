package main

import (
	"io"

	"dexsmith/internal/observ"
)

// printTimings writes the phase timing summary. Nothing is printed when
// no phase was recorded.
func printTimings(out io.Writer, timer *observ.Timer) {
	if out == nil || timer == nil {
		return
	}
	report := timer.Report()
	if len(report.Phases) == 0 {
		return
	}
	if _, err := io.WriteString(out, timer.Summary()); err != nil {
		panic(err)
	}
}
