package tui

import (
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/stackctl/pkg/events"
	"github.com/go-go-golems/stackctl/pkg/orchestrator"
)

type EventMsg struct {
	Event events.Event
}

type RunFinishedMsg struct{}

type serviceRow struct {
	state    string
	reason   string
	attempts int
}

// WatchModel renders one orchestration run live: one row per service in
// start order, updated from the run's event stream, quitting once the run
// reports finished.
type WatchModel struct {
	order []string
	rows  map[string]*serviceRow
	spin  spinner.Model
	theme Theme
	done  bool
}

func NewWatchModel(order []string) WatchModel {
	rows := make(map[string]*serviceRow, len(order))
	for _, name := range order {
		rows[name] = &serviceRow{state: string(orchestrator.StatePending)}
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return WatchModel{
		order: order,
		rows:  rows,
		spin:  sp,
		theme: DefaultStyles,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.KeyMsg:
		switch v.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(v)
		return m, cmd
	case EventMsg:
		row, ok := m.rows[v.Event.Service]
		if !ok {
			return m, nil
		}
		switch v.Event.Type {
		case events.TypeStateChanged:
			row.state = v.Event.State
			row.reason = v.Event.Reason
		case events.TypeProbeAttempt:
			row.attempts = v.Event.Attempt
			row.reason = v.Event.Reason
		}
		return m, nil
	case RunFinishedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("stackctl up"))
	b.WriteString("\n\n")
	for _, name := range m.order {
		row := m.rows[name]
		b.WriteString("  ")
		b.WriteString(m.renderRow(name, row))
		b.WriteString("\n")
	}
	if !m.done {
		b.WriteString("\n  q to detach\n")
	}
	return b.String()
}

func (m WatchModel) renderRow(name string, row *serviceRow) string {
	var icon, line string
	switch orchestrator.State(row.state) {
	case orchestrator.StateHealthy:
		icon = m.theme.StatusHealthy.Render(IconHealthy)
		line = fmt.Sprintf("%s %s", name, row.state)
	case orchestrator.StateFailed:
		icon = m.theme.StatusFailed.Render(IconFailed)
		line = fmt.Sprintf("%s %s", name, row.state)
		if row.reason != "" {
			line += " " + m.theme.Reason.Render("("+row.reason+")")
		}
	case orchestrator.StatePending:
		icon = m.theme.StatusPending.Render(IconPending)
		line = fmt.Sprintf("%s %s", name, row.state)
	default:
		icon = m.theme.StatusActive.Render(m.spin.View())
		line = fmt.Sprintf("%s %s", name, row.state)
		if row.attempts > 0 {
			line += fmt.Sprintf(" (attempt %d)", row.attempts)
		}
	}
	return icon + " " + line
}

// RegisterForwarder feeds run events from the bus into the watch program.
func RegisterForwarder(bus *events.Bus, p *tea.Program) {
	bus.AddHandler("stackctl-watch-forward", events.TopicRun, func(msg *message.Message) error {
		defer msg.Ack()

		ev, err := events.Decode(msg)
		if err != nil {
			return err
		}
		if ev.Type == events.TypeRunFinished {
			p.Send(RunFinishedMsg{})
			return nil
		}
		p.Send(EventMsg{Event: ev})
		return nil
	})
}
