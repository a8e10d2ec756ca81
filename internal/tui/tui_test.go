// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stagehand-ops/stagehand/internal/i18n"
	"github.com/stagehand-ops/stagehand/internal/model"
)

type fakeSource struct {
	instances []model.Instance
	jobs      []model.Job
	err       error
}

func (f *fakeSource) ListInstances(context.Context) ([]model.Instance, error) {
	return f.instances, f.err
}

func (f *fakeSource) ListJobs(context.Context, string, int) ([]model.Job, error) {
	return f.jobs, nil
}

func loadedModel(t *testing.T, src *fakeSource) mainModel {
	t.Helper()
	i18n.Init("en")
	m := newModel(src)
	msg := m.Init()()
	next, _ := m.Update(msg)
	return next.(mainModel)
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestRefresh_LatestJobPerInstance(t *testing.T) {
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		instances: []model.Instance{
			{Name: "db-1", Zone: "europe-west1-b", Status: model.StatusRunning},
			{Name: "web-1", Zone: "europe-west1-b", Status: model.StatusFailed, ExternalIP: "203.0.113.9"},
		},
		jobs: []model.Job{
			{ID: "3", Instance: "web-1", Action: "update", Status: model.JobFailed, ExitCode: 2, StartedAt: started},
			{ID: "1", Instance: "web-1", Action: "create", Status: model.JobSucceeded, StartedAt: started.Add(-time.Hour)},
		},
	}
	m := loadedModel(t, src)

	if len(m.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(m.rows))
	}
	if m.rows[0].lastJob != nil {
		t.Fatalf("db-1 has no jobs, got %+v", m.rows[0].lastJob)
	}
	if j := m.rows[1].lastJob; j == nil || j.ID != "3" {
		t.Fatalf("expected newest job for web-1, got %+v", j)
	}
	if got := describeJob(m.rows[1].lastJob); !strings.HasPrefix(got, "update failed (2)") {
		t.Fatalf("unexpected job description %q", got)
	}
	if view := m.View(); !strings.Contains(view, "web-1") || !strings.Contains(view, "db-1") {
		t.Fatalf("view lacks instances:\n%s", view)
	}
}

func TestCopy_SelectedExternalIP(t *testing.T) {
	src := &fakeSource{instances: []model.Instance{
		{Name: "db-1"},
		{Name: "web-1", ExternalIP: "203.0.113.9"},
	}}
	m := loadedModel(t, src)
	var copied string
	m.copy = func(s string) error { copied = s; return nil }

	next, _ := m.Update(key('c'))
	m = next.(mainModel)
	if copied != "" || !strings.Contains(m.status, i18n.T("tui.no_ip")) {
		t.Fatalf("expected no-ip message for db-1, copied %q status %q", copied, m.status)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(mainModel)
	next, _ = m.Update(key('c'))
	m = next.(mainModel)
	if copied != "203.0.113.9" {
		t.Fatalf("expected IP copied, got %q", copied)
	}

	m.copy = func(string) error { return errors.New("no clipboard") }
	next, _ = m.Update(key('c'))
	if status := next.(mainModel).status; !strings.Contains(status, "no clipboard") {
		t.Fatalf("expected copy error in status, got %q", status)
	}
}

func TestKeys_RefreshAndQuit(t *testing.T) {
	src := &fakeSource{}
	m := loadedModel(t, src)
	if !strings.Contains(m.View(), i18n.T("tui.empty")) {
		t.Fatalf("expected empty message")
	}

	src.instances = []model.Instance{{Name: "web-2"}}
	next, cmd := m.Update(key('r'))
	if cmd == nil {
		t.Fatalf("expected refresh command")
	}
	next, _ = next.(mainModel).Update(cmd())
	if rows := next.(mainModel).rows; len(rows) != 1 || rows[0].instance.Name != "web-2" {
		t.Fatalf("refresh did not reload rows: %+v", rows)
	}

	_, cmd = next.(mainModel).Update(key('q'))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestLoadError_IsShown(t *testing.T) {
	m := loadedModel(t, &fakeSource{err: errors.New("database is locked")})
	if !strings.Contains(m.View(), "database is locked") {
		t.Fatalf("expected error in view:\n%s", m.View())
	}
}

func TestAlignFooter(t *testing.T) {
	if got := AlignFooter("left", "right", 15); got != "left      right" {
		t.Fatalf("unexpected footer %q", got)
	}
	if got := AlignFooter("left", "right", 3); got != "left right" {
		t.Fatalf("unexpected narrow footer %q", got)
	}
}
