// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the records shared by the store, the dashboard and
// the terminal UI.
package model // import "github.com/stagehand-ops/stagehand/internal/model"

import (
	"fmt"
	"time"
)

// Instance status values recorded by provisioning.
const (
	StatusProvisioning = "provisioning"
	StatusRunning      = "running"
	StatusFailed       = "failed"
	StatusDeleted      = "deleted"
)

// Instance is one managed VM as known to the record store.
type Instance struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Zone        string    `json:"zone"`
	MachineType string    `json:"machine_type"`
	DiskSizeGB  int       `json:"disk_size_gb"`
	DiskType    string    `json:"disk_type"`
	InstallMode string    `json:"install_mode"`
	ExternalIP  string    `json:"external_ip"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// String returns name@zone.
func (i Instance) String() string {
	return fmt.Sprintf("%s@%s", i.Name, i.Zone)
}

// Merge copies every non-zero field of other into i. Identity and
// timestamps are left alone.
func (i *Instance) Merge(other Instance) {
	if other.Zone != "" {
		i.Zone = other.Zone
	}
	if other.MachineType != "" {
		i.MachineType = other.MachineType
	}
	if other.DiskSizeGB != 0 {
		i.DiskSizeGB = other.DiskSizeGB
	}
	if other.DiskType != "" {
		i.DiskType = other.DiskType
	}
	if other.InstallMode != "" {
		i.InstallMode = other.InstallMode
	}
	if other.ExternalIP != "" {
		i.ExternalIP = other.ExternalIP
	}
	if other.Status != "" {
		i.Status = other.Status
	}
	if other.Notes != "" {
		i.Notes = other.Notes
	}
}

// Job status values.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job is one dashboard-triggered run of a stagehand subcommand.
type Job struct {
	ID         string     `json:"id"`
	Instance   string     `json:"instance"`
	Action     string     `json:"action"`
	Args       []string   `json:"args"`
	Status     string     `json:"status"`
	ExitCode   int        `json:"exit_code"`
	Output     string     `json:"output,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Done reports whether the job has finished.
func (j Job) Done() bool {
	return j.Status != JobRunning
}
