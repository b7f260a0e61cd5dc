package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Styles ---
var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressStyle = lipgloss.NewStyle().Padding(0, 1)
)

const defaultBarWidth = 40

// --- Messages ---

// advanceMsg moves the bar one item forward.
type advanceMsg struct {
	label string
}

// finishMsg ends the program.
type finishMsg struct{}

// stageModel renders one stage loop: spinner, title, bar, counter and the
// label of the last item.
type stageModel struct {
	title   string
	total   int
	current int
	label   string
	start   time.Time

	spinner spinner.Model
	bar     progress.Model
	done    bool
}

func newStageModel(title string, total int) stageModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = defaultBarWidth
	return stageModel{title: title, total: total, spinner: s, bar: bar, start: time.Now()}
}

func (m stageModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m stageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case advanceMsg:
		m.current++
		m.label = msg.label
		return m, nil
	case finishMsg:
		m.done = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(msg.Width-30, 80))
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m stageModel) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(1, float64(m.current)/float64(m.total))
}

func (m stageModel) View() string {
	var b strings.Builder
	if m.done {
		b.WriteString("✓ ")
	} else {
		b.WriteString(m.spinner.View() + " ")
	}
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString(progressStyle.Render(m.bar.ViewAs(m.percent())))
	b.WriteString(fmt.Sprintf("%d/%d", m.current, m.total))
	b.WriteString(infoStyle.Render(fmt.Sprintf(" %s", time.Since(m.start).Round(time.Second))))
	if m.label != "" && !m.done {
		b.WriteString("\n  " + infoStyle.Render(m.label))
	}
	b.WriteString("\n")
	return b.String()
}
