package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"dexsmith/internal/driver"
	"dexsmith/internal/pipeline"
	"dexsmith/internal/ui"
)

type optimizeOutcome struct {
	stats *driver.Stats
	err   error
}

// runOptimizeWithUI drives fn behind a progress TUI. fn receives the
// sink the UI listens on and performs the whole load/optimize/save
// sequence, emitting stage events as it goes.
func runOptimizeWithUI(title string, steps []string, fn func(pipeline.ProgressSink) (*driver.Stats, error)) (*driver.Stats, error) {
	events := make(chan pipeline.Event, 256)
	outcomeCh := make(chan optimizeOutcome, 1)

	go func() {
		stats, err := fn(pipeline.ChannelSink{Ch: events})
		outcomeCh <- optimizeOutcome{stats: stats, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, steps, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.stats, uiErr
	}
	return outcome.stats, outcome.err
}
