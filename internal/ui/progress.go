package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"dexsmith/internal/pipeline"
)

type progressModel struct {
	title      string
	events     <-chan pipeline.Event
	spinner    spinner.Model
	prog       progress.Model
	items      []stepItem
	index      map[string]int
	stageLabel string
	width      int
	done       bool
}

type stepItem struct {
	name   string
	status string
	stage  pipeline.Stage
}

type eventMsg pipeline.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders pipeline
// progress. steps lists the row labels in display order: the fixed
// stages plus one row per configured pass.
func NewProgressModel(title string, steps []string, events <-chan pipeline.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76 // Default width

	items := make([]stepItem, 0, len(steps))
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		items = append(items, stepItem{name: step, status: "queued"})
		index[step] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		ev := pipeline.Event(msg)
		cmd := m.applyEvent(ev)
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.stageLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.stageLabel)
	}
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 12
	nameWidth := m.width - statusWidth - 4
	if nameWidth < 20 {
		nameWidth = 20
	}

	for _, item := range m.items {
		name := truncate(item.name, nameWidth)
		statusStyled := styleStatus(item.status).Render(fmt.Sprintf("%12s", item.status))
		line := fmt.Sprintf("  %s %s", statusStyled, name)
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

// applyEvent routes an event to its row. Stage-level events carry an
// empty Unit and are keyed by the stage name; pass events are keyed by
// the pass name.
func (m *progressModel) applyEvent(ev pipeline.Event) tea.Cmd {
	key := ev.Unit
	if key == "" {
		key = string(ev.Stage)
	}
	label := statusLabel(ev.Stage, ev.Status)
	if label != "" {
		m.stageLabel = label
	}
	idx, ok := m.index[key]
	if !ok {
		return nil
	}
	if label != "" {
		m.items[idx].status = label
		m.items[idx].stage = ev.Stage
	}

	totalProgress := 0.0
	for _, item := range m.items {
		if item.status == "done" || item.status == "error" {
			totalProgress += 1.0
		} else {
			totalProgress += progressFromStage(item.stage)
		}
	}
	pct := totalProgress / float64(len(m.items))
	return m.prog.SetPercent(pct)
}

func progressFromStage(stage pipeline.Stage) float64 {
	switch stage {
	case pipeline.StageLoad:
		return 0.1
	case pipeline.StageBalloon:
		return 0.3
	case pipeline.StagePasses:
		return 0.6
	case pipeline.StageSync:
		return 0.85
	case pipeline.StageSave:
		return 0.95
	default:
		return 0.0
	}
}

func statusLabel(stage pipeline.Stage, status pipeline.Status) string {
	switch status {
	case pipeline.StatusQueued:
		return "queued"
	case pipeline.StatusDone:
		return "done"
	case pipeline.StatusError:
		return "error"
	case pipeline.StatusWorking:
		return stageVerb(stage)
	default:
		return ""
	}
}

func stageVerb(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageLoad:
		return "loading"
	case pipeline.StageBalloon:
		return "expanding"
	case pipeline.StagePasses:
		return "optimizing"
	case pipeline.StageSync:
		return "encoding"
	case pipeline.StageSave:
		return "saving"
	default:
		return ""
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "loading", "expanding", "optimizing", "encoding", "saving":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
