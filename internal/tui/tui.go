// Package tui is the read-only interactive browser over a test plan and
// its recorded results. It never submits anything; the refresh key
// re-reads the store.
package tui

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/matrix"
	"github.com/benchsweep/benchsweep/internal/report"
	"github.com/benchsweep/benchsweep/internal/store"
	"github.com/benchsweep/benchsweep/internal/track"
)

type runView struct {
	id       string
	recorded bool
	state    track.State
	detail   string
}

type benchView struct {
	name    string
	config  string
	runs    []runView
	done    int // runs in a terminal state
	total   int
	table   string // pre-rendered aggregate table
	loadErr string
}

// snapshotMsg carries one full re-read of plan and store.
type snapshotMsg struct {
	benches []benchView
	at      time.Time
}

type model struct {
	plan *config.Plan
	st   *store.Store

	benches   []benchView
	cursor    int
	refreshed time.Time

	viewport viewport.Model
	spinner  spinner.Model
	keys     KeyMap
	help     help.Model

	loading   bool
	ready     bool
	quitting  bool
	width     int
	height    int
	leftWidth int
}

func newModel(plan *config.Plan, st *store.Store) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return model{
		plan:    plan,
		st:      st,
		spinner: sp,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		loading: true,
	}
}

// Run starts the browser and blocks until the user quits.
func Run(plan *config.Plan, st *store.Store) error {
	p := tea.NewProgram(newModel(plan, st), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refreshCmd())
}

func (m model) refreshCmd() tea.Cmd {
	plan, st := m.plan, m.st
	return func() tea.Msg {
		return snapshot(plan, st)
	}
}

// snapshot expands every active bench and reads its records back from
// the store. It runs inside a command, off the update loop.
func snapshot(plan *config.Plan, st *store.Store) snapshotMsg {
	var benches []benchView
	for _, b := range plan.Benches {
		if !b.Active() {
			continue
		}
		bv := benchView{name: b.Name, config: b.RunConfiguration}
		instances, err := matrix.Expand(b, plan.RunConfigurations[b.RunConfiguration])
		if err != nil {
			bv.loadErr = err.Error()
			benches = append(benches, bv)
			continue
		}
		bv.total = len(instances)
		for _, inst := range instances {
			rv := runView{id: inst.ID}
			if rec, err := st.ReadRecord(inst); err == nil {
				rv.recorded = true
				rv.state = rec.State
				rv.detail = rec.Detail
				if rec.State.Terminal() {
					bv.done++
				}
			}
			bv.runs = append(bv.runs, rv)
		}
		if reports, err := report.Build(plan, st, b.Name); err == nil {
			var buf bytes.Buffer
			if report.Write(reports, "table", &buf) == nil {
				bv.table = buf.String()
			}
		}
		benches = append(benches, bv)
	}
	return snapshotMsg{benches: benches, at: time.Now()}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
				m.syncViewport()
			}
			return m, nil
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.benches)-1 {
				m.cursor++
				m.syncViewport()
			}
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.refreshCmd())
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		leftW, rightW, paneH := m.dims()
		m.leftWidth = leftW
		if !m.ready {
			m.viewport = viewport.New(rightW, paneH)
			m.ready = true
		} else {
			m.viewport.Width = rightW
			m.viewport.Height = paneH
		}
		m.help.Width = m.width
		m.syncViewport()
		return m, nil

	case snapshotMsg:
		m.benches = msg.benches
		m.refreshed = msg.at
		m.loading = false
		if m.cursor >= len(m.benches) {
			m.cursor = 0
		}
		m.syncViewport()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) dims() (leftW, rightW, paneH int) {
	leftW = 28
	if m.width < 90 {
		leftW = m.width / 3
	}
	if leftW < 16 {
		leftW = 16
	}
	rightW = m.width - leftW - 8
	if rightW < 20 {
		rightW = 20
	}
	paneH = m.height - 5
	if paneH < 3 {
		paneH = 3
	}
	return leftW, rightW, paneH
}

// syncViewport rebuilds the detail pane for the selected bench.
func (m *model) syncViewport() {
	if len(m.benches) == 0 {
		m.viewport.SetContent(dimStyle.Render("no active benches"))
		return
	}
	b := m.benches[m.cursor]
	var sb strings.Builder
	if b.loadErr != "" {
		sb.WriteString(errorStyle.Render("expansion failed: "+b.loadErr) + "\n")
	}
	for _, r := range b.runs {
		state := dimStyle.Render("not recorded")
		if r.recorded {
			state = stateLabel(r.state)
		}
		sb.WriteString(fmt.Sprintf("%-48s %s", r.id, state))
		if r.detail != "" {
			sb.WriteString(dimStyle.Render("  " + r.detail))
		}
		sb.WriteByte('\n')
	}
	if b.table != "" {
		sb.WriteString("\n" + b.table)
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoTop()
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing..."
	}

	status := dimStyle.Render("results: " + m.st.Root())
	if m.loading {
		status = m.spinner.View() + " refreshing"
	} else if !m.refreshed.IsZero() {
		status += dimStyle.Render("  refreshed " + m.refreshed.Format("15:04:05"))
	}
	header := titleStyle.Width(m.width).Render(fmt.Sprintf("benchsweep: %s  %s", m.plan.Name, status))

	var left strings.Builder
	if len(m.benches) == 0 {
		left.WriteString(dimStyle.Render("no benches"))
	}
	for i, b := range m.benches {
		line := fmt.Sprintf("%s (%d/%d)", b.name, b.done, b.total)
		if b.loadErr != "" {
			line = b.name + " (!)"
		}
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		left.WriteString(line + "\n")
	}

	_, _, paneH := m.dims()
	leftPane := paneStyle.Width(m.leftWidth).Height(paneH).Render(left.String())
	rightPane := paneStyle.Render(m.viewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.help.View(m.keys))
}
