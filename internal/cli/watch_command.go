package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"challenge-runner/internal/config"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type watchModel struct {
	cfg      config.Config
	logDir   string
	split    string
	report   statusReport
	loaded   bool
	loadErr  error
	width    int
	height   int
	filter   textinput.Model
	fatalErr error
}

type watchTickMsg time.Time

type watchReportMsg struct {
	report statusReport
	err    error
}

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "experiment config path")
	split := fs.String("split", "", "dataset split: test|development (default: config)")
	logDir := fs.String("log-dir", "", "log directory override (default: config)")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !stdinIsTTY() {
		return errors.New("watch requires an interactive terminal (TTY)")
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}

	filter := textinput.New()
	filter.Prompt = "filter> "
	filter.CharLimit = 64
	filter.Width = 40
	filter.Focus()

	m := watchModel{
		cfg:    cfg,
		logDir: strings.TrimSpace(*logDir),
		split:  strings.TrimSpace(*split),
		filter: filter,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("watch requires an interactive terminal (TTY)")
		}
		return err
	}
	if fm, ok := finalModel.(watchModel); ok {
		return fm.fatalErr
	}
	return nil
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(loadWatchReportCmd(m.cfg, m.logDir, m.split), watchTickCmd())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filter.Width = clampInt(m.width-12, 20, 80)
		return m, nil
	case watchTickMsg:
		return m, tea.Batch(loadWatchReportCmd(m.cfg, m.logDir, m.split), watchTickCmd())
	case watchReportMsg:
		if msg.err != nil {
			if !m.loaded {
				m.fatalErr = msg.err
				return m, tea.Quit
			}
			m.loadErr = msg.err
			return m, nil
		}
		m.report = msg.report
		m.loaded = true
		m.loadErr = nil
		return m, nil
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		if strings.TrimSpace(m.filter.Value()) != "" {
			m.filter.SetValue("")
			return m, nil
		}
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(keyMsg)
	return m, cmd
}

func (m watchModel) View() string {
	if m.fatalErr != nil {
		return watchErrorStyle.Render("fatal: " + m.fatalErr.Error())
	}
	if m.width <= 0 {
		m.width = 100
	}
	if m.height <= 0 {
		m.height = 30
	}
	if !m.loaded {
		return watchMutedStyle.Render("loading...")
	}

	header := watchTitleStyle.Render("challenge-runner watch") + "\n" +
		watchMutedStyle.Render("type to filter remaining ids | esc: clear filter, then quit | ctrl+c: quit")

	summary := m.renderSummaryPanel(m.width)
	activity := m.renderActivityPanel(m.width)
	remaining := m.renderRemainingPanel(m.width)
	status := m.renderStatusLine(m.width)
	return lipgloss.JoinVertical(lipgloss.Left, header, summary, activity, remaining, status)
}

func (m watchModel) renderSummaryPanel(width int) string {
	r := m.report
	inner := maxInt(width-6, 12)
	lines := []string{
		wrapOrTrim(fmt.Sprintf("split %s | log dir %s", r.Split, r.LogDir), inner),
	}
	if r.LockOwner != nil {
		live := wrapOrTrim(fmt.Sprintf("live: pid %d on %s (since %s)",
			r.LockOwner.PID, r.LockOwner.Hostname, r.LockOwner.CreatedAt), inner)
		lines = append(lines, watchOKStyle.Render(live))
		lines = append(lines, wrapOrTrim(fmt.Sprintf("phase %s | in flight %d", r.Phase, len(r.InFlight)), inner))
	} else {
		lines = append(lines, watchMutedStyle.Render("no live run (lock free)"))
	}
	lines = append(lines, wrapOrTrim(fmt.Sprintf("completed %d | failed %d | remaining %d | total %d",
		r.Completed, r.Failed, r.Remaining, r.Total), inner))
	return watchPanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m watchModel) renderActivityPanel(width int) string {
	inner := maxInt(width-6, 12)
	lines := []string{"in flight:"}
	if len(m.report.InFlight) == 0 {
		lines = append(lines, watchMutedStyle.Render("  (none)"))
	} else {
		for _, id := range m.report.InFlight {
			lines = append(lines, wrapOrTrim("  "+id, inner))
		}
	}
	lines = append(lines, "recent:")
	if len(m.report.RecentLog) == 0 {
		lines = append(lines, watchMutedStyle.Render("  (no results yet)"))
	} else {
		for _, line := range m.report.RecentLog {
			lines = append(lines, watchMutedStyle.Render(wrapOrTrim("  "+line, inner)))
		}
	}
	return watchPanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m watchModel) renderRemainingPanel(width int) string {
	inner := maxInt(width-6, 12)
	ids := filterIDs(m.report.RemainingIDs, m.filter.Value())
	maxRows := clampInt(m.height-18, 3, 14)

	lines := []string{m.filter.View()}
	lines = append(lines, fmt.Sprintf("remaining: %d (%d match)", m.report.Remaining, len(ids)))
	for i, id := range ids {
		if i == maxRows {
			lines = append(lines, watchMutedStyle.Render(fmt.Sprintf("  ... %d more", len(ids)-maxRows)))
			break
		}
		lines = append(lines, wrapOrTrim("  "+id, inner))
	}
	if len(ids) == 0 {
		lines = append(lines, watchMutedStyle.Render("  (nothing left to run)"))
	}
	return watchPanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m watchModel) renderStatusLine(width int) string {
	if m.loadErr != nil {
		return watchErrorStyle.Width(width).Render(truncateRunes("error: "+m.loadErr.Error(), maxInt(width-2, 10)))
	}
	return watchMutedStyle.Width(width).Render("refreshes every second; reads the same files `status` reads")
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func loadWatchReportCmd(cfg config.Config, logDir, split string) tea.Cmd {
	return func() tea.Msg {
		report, err := buildStatusReport(cfg, logDir, split, 8)
		return watchReportMsg{report: report, err: err}
	}
}

func filterIDs(ids []string, needle string) []string {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return ids
	}
	var out []string
	for _, id := range ids {
		if strings.Contains(strings.ToLower(id), needle) {
			out = append(out, id)
		}
	}
	return out
}
