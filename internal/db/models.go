// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"encoding/json"
	"time"

	"github.com/stagehand-ops/stagehand/internal/model"
	"github.com/uptrace/bun"
)

// InstanceModel maps the instances table for bun queries.
type InstanceModel struct {
	bun.BaseModel `bun:"table:instances"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Name          string    `bun:"name"`
	Zone          string    `bun:"zone"`
	MachineType   string    `bun:"machine_type"`
	DiskSizeGB    int       `bun:"disk_size_gb"`
	DiskType      string    `bun:"disk_type"`
	InstallMode   string    `bun:"install_mode"`
	ExternalIP    string    `bun:"external_ip"`
	Status        string    `bun:"status"`
	Notes         string    `bun:"notes"`
	CreatedAt     time.Time `bun:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

// JobModel maps the jobs table. Args is stored as a JSON array.
type JobModel struct {
	bun.BaseModel `bun:"table:jobs"`
	ID            string       `bun:"id,pk"`
	Instance      string       `bun:"instance"`
	Action        string       `bun:"action"`
	Args          string       `bun:"args"`
	Status        string       `bun:"status"`
	ExitCode      int          `bun:"exit_code"`
	Output        string       `bun:"output"`
	StartedAt     time.Time    `bun:"started_at"`
	FinishedAt    bun.NullTime `bun:"finished_at"`
}

func instanceToModel(m InstanceModel) model.Instance {
	return model.Instance{
		ID:          m.ID,
		Name:        m.Name,
		Zone:        m.Zone,
		MachineType: m.MachineType,
		DiskSizeGB:  m.DiskSizeGB,
		DiskType:    m.DiskType,
		InstallMode: m.InstallMode,
		ExternalIP:  m.ExternalIP,
		Status:      m.Status,
		Notes:       m.Notes,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func instanceFromModel(i model.Instance) InstanceModel {
	return InstanceModel{
		ID:          i.ID,
		Name:        i.Name,
		Zone:        i.Zone,
		MachineType: i.MachineType,
		DiskSizeGB:  i.DiskSizeGB,
		DiskType:    i.DiskType,
		InstallMode: i.InstallMode,
		ExternalIP:  i.ExternalIP,
		Status:      i.Status,
		Notes:       i.Notes,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

func jobToModel(m JobModel) model.Job {
	j := model.Job{
		ID:        m.ID,
		Instance:  m.Instance,
		Action:    m.Action,
		Status:    m.Status,
		ExitCode:  m.ExitCode,
		Output:    m.Output,
		StartedAt: m.StartedAt,
	}
	_ = json.Unmarshal([]byte(m.Args), &j.Args)
	if !m.FinishedAt.IsZero() {
		t := m.FinishedAt.Time
		j.FinishedAt = &t
	}
	return j
}

func jobFromModel(j model.Job) JobModel {
	args, _ := json.Marshal(j.Args)
	if j.Args == nil {
		args = []byte("[]")
	}
	m := JobModel{
		ID:        j.ID,
		Instance:  j.Instance,
		Action:    j.Action,
		Args:      string(args),
		Status:    j.Status,
		ExitCode:  j.ExitCode,
		Output:    j.Output,
		StartedAt: j.StartedAt,
	}
	if j.FinishedAt != nil {
		m.FinishedAt = bun.NullTime{Time: *j.FinishedAt}
	}
	return m
}
