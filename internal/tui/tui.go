// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stagehand-ops/stagehand/internal/i18n"
	"github.com/stagehand-ops/stagehand/internal/model"
)

// Source is the read side of the record store.
type Source interface {
	ListInstances(ctx context.Context) ([]model.Instance, error)
	ListJobs(ctx context.Context, instance string, limit int) ([]model.Job, error)
}

// recentJobs bounds how far back the latest job per instance is looked up.
const recentJobs = 200

type row struct {
	instance model.Instance
	lastJob  *model.Job
}

type instancesMsg struct {
	rows []row
	err  error
}

type mainModel struct {
	src   Source
	table table.Model
	rows  []row

	status string
	err    error
	loaded bool

	width, height int

	// copy writes to the system clipboard; tests replace it.
	copy func(string) error
}

func newModel(src Source) mainModel {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = tableHeaderStyle
	s.Selected = tableSelectedStyle
	t.SetStyles(s)
	return mainModel{src: src, table: t, copy: clipboard.WriteAll}
}

// columns sizes the table for a terminal width.
func columns(width int) []table.Column {
	fixed := []table.Column{
		{Title: i18n.T("tui.col.name"), Width: 20},
		{Title: i18n.T("tui.col.zone"), Width: 16},
		{Title: i18n.T("tui.col.machine"), Width: 14},
		{Title: i18n.T("tui.col.ip"), Width: 16},
		{Title: i18n.T("tui.col.status"), Width: 13},
	}
	used := 0
	for _, c := range fixed {
		used += c.Width + 2
	}
	last := width - used - 6
	if last < 16 {
		last = 16
	}
	return append(fixed, table.Column{Title: i18n.T("tui.col.last_job"), Width: last})
}

func (m mainModel) Init() tea.Cmd {
	return refreshCmd(m.src)
}

func refreshCmd(src Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		instances, err := src.ListInstances(ctx)
		if err != nil {
			return instancesMsg{err: err}
		}
		recent, err := src.ListJobs(ctx, "", recentJobs)
		if err != nil {
			return instancesMsg{err: err}
		}
		latest := map[string]*model.Job{}
		for i := range recent {
			// Newest first, so the first hit wins.
			if _, ok := latest[recent[i].Instance]; !ok {
				latest[recent[i].Instance] = &recent[i]
			}
		}
		rows := make([]row, 0, len(instances))
		for _, inst := range instances {
			rows = append(rows, row{instance: inst, lastJob: latest[inst.Name]})
		}
		return instancesMsg{rows: rows}
	}
}

func (m mainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(columns(msg.Width))
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case instancesMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m.table.SetRows(tableRows(msg.rows))
			if m.table.Cursor() >= len(msg.rows) {
				m.table.SetCursor(max(len(msg.rows)-1, 0))
			}
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.status = i18n.T("tui.refreshing")
			return m, refreshCmd(m.src)
		case "c":
			m.status = m.copySelected()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *mainModel) selected() (row, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.rows) {
		return row{}, false
	}
	return m.rows[i], true
}

func (m *mainModel) copySelected() string {
	r, ok := m.selected()
	if !ok || r.instance.ExternalIP == "" {
		return errorStyle.Render(i18n.T("tui.no_ip"))
	}
	if err := m.copy(r.instance.ExternalIP); err != nil {
		return errorStyle.Render(i18n.T("tui.copy_failed", err))
	}
	return successStyle.Render(i18n.T("tui.copied", r.instance.ExternalIP))
}

func tableRows(rows []row) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, table.Row{
			r.instance.Name,
			r.instance.Zone,
			r.instance.MachineType,
			r.instance.ExternalIP,
			r.instance.Status,
			describeJob(r.lastJob),
		})
	}
	return out
}

func describeJob(j *model.Job) string {
	if j == nil {
		return "-"
	}
	s := fmt.Sprintf("%s %s", j.Action, j.Status)
	if j.Status == model.JobFailed {
		s += fmt.Sprintf(" (%d)", j.ExitCode)
	}
	return s + " " + j.StartedAt.Local().Format("01-02 15:04")
}

func (m mainModel) View() string {
	var b strings.Builder
	b.WriteString(mainTitleStyle.Render("Stagehand " + i18n.T("tui.title")))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(i18n.T("tui.load_failed", m.err)))
		b.WriteString("\n")
	case !m.loaded:
		b.WriteString(helpStyle.Render(i18n.T("tui.loading")))
		b.WriteString("\n")
	case len(m.rows) == 0:
		b.WriteString(helpStyle.Render(i18n.T("tui.empty")))
		b.WriteString("\n")
	default:
		b.WriteString(m.table.View())
		b.WriteString("\n")
		if r, ok := m.selected(); ok {
			detail := lipgloss.JoinHorizontal(lipgloss.Top,
				r.instance.Name, "  ",
				statusStyle(r.instance.Status).Render(r.instance.Status))
			if r.instance.Notes != "" {
				detail += helpStyle.Render("  " + r.instance.Notes)
			}
			b.WriteString(detail)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(AlignFooter(helpStyle.Render(i18n.T("tui.help")), m.status, m.width))
	return docStyle.Render(b.String())
}

// Run shows the instance list until the user quits.
func Run(src Source) error {
	_, err := tea.NewProgram(newModel(src), tea.WithAltScreen()).Run()
	return err
}
